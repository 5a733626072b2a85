package critsec

import "testing"

func TestEnterReturnsANonNilExitFunc(t *testing.T) {
	exit := Enter()
	if exit == nil {
		t.Fatal("expected a non-nil exit func")
	}
	exit()
}

func TestEnterSerializesAcrossCalls(t *testing.T) {
	exit := Enter()
	done := make(chan struct{})
	go func() {
		defer close(done)
		Enter()()
	}()
	exit()
	<-done
}
