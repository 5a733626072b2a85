package main

import (
	"testing"

	"github.com/mailutils-go/mailutils/internal/mailbox/attr"
)

func TestParseMessageFileSplitsHeaderAndBody(t *testing.T) {
	raw := []byte("Subject: hi\nFrom: a@b\n\nhello\nworld\n")
	headers, body := parseMessageFile(raw)
	if len(headers) != 2 || headers[0].Name != "Subject" || headers[0].Value != "hi" {
		t.Fatalf("got headers %+v", headers)
	}
	if string(body) != "hello\nworld\n" {
		t.Fatalf("got body %q", body)
	}
}

func TestParseMessageFileNoBlankLineReturnsWholeBody(t *testing.T) {
	raw := []byte("just a body, no headers\n")
	headers, body := parseMessageFile(raw)
	if headers != nil {
		t.Fatalf("expected no headers, got %+v", headers)
	}
	if string(body) != string(raw) {
		t.Fatalf("got body %q", body)
	}
}

func TestParseFlags(t *testing.T) {
	f, err := parseFlags("Seen,Answered,Deleted")
	if err != nil {
		t.Fatal(err)
	}
	want := attr.Seen | attr.Answered | attr.Deleted
	if f != want {
		t.Fatalf("got %v, want %v", f, want)
	}
}

func TestParseFlagsRejectsUnknownName(t *testing.T) {
	if _, err := parseFlags("Bogus"); err == nil {
		t.Fatal("expected an error for an unknown flag name")
	}
}

func TestFlagLettersEmptyIsDash(t *testing.T) {
	if got := flagLetters(attr.Recent); got != "-" {
		t.Fatalf("got %q", got)
	}
}
