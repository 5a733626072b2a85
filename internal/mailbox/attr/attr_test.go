package attr

import "testing"

func TestEncodeDecodeMaildirInfo(t *testing.T) {
	tests := []struct {
		name  string
		flags Flags
		info  string
	}{
		{"none", 0, ""},
		{"seen only", Seen, "S"},
		{"flagged and seen", Flagged | Seen, "FS"},
		{"all canonical letters", Draft | Flagged | Forwarded | Answered | Seen | Deleted, "DFPRST"},
		{"recent and modified are never encoded", Recent | Modified | Seen, "S"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EncodeMaildirInfo(tt.flags); got != tt.info {
				t.Fatalf("EncodeMaildirInfo(%v) = %q, want %q", tt.flags, got, tt.info)
			}
		})
	}
}

func TestDecodeMaildirInfoLegacyReplied(t *testing.T) {
	f := DecodeMaildirInfo("Sa")
	if !f.Has(Seen) || !f.Has(Answered) {
		t.Fatalf("DecodeMaildirInfo(%q) = %v, want Seen|Answered", "Sa", f)
	}
}

func TestNeedsLegacyFixup(t *testing.T) {
	tests := []struct {
		info string
		want bool
	}{
		{"a", true},
		{"Sa", true},
		{"R", false},
		{"aR", false}, // already has canonical R, nothing to fix
		{"", false},
	}
	for _, tt := range tests {
		if got := NeedsLegacyFixup(tt.info); got != tt.want {
			t.Errorf("NeedsLegacyFixup(%q) = %v, want %v", tt.info, got, tt.want)
		}
	}
}

func TestStatusXStatusRoundTrip(t *testing.T) {
	f := Seen | Answered | Flagged
	status := Status(f)
	xstatus := XStatus(f)

	if status != "RO" {
		t.Fatalf("Status(%v) = %q, want %q", f, status, "RO")
	}
	if xstatus != "AF" {
		t.Fatalf("XStatus(%v) = %q, want %q", f, xstatus, "AF")
	}

	parsed := ParseXStatus(ParseStatus(0, status), xstatus)
	if !parsed.Has(Seen) || !parsed.Has(Answered) || !parsed.Has(Flagged) {
		t.Fatalf("round trip lost flags: %v", parsed)
	}
	if parsed.Has(Recent) {
		t.Fatal("a message carrying a Status header must not be Recent")
	}
}

func TestRecentClearedOnlyByStatusHeader(t *testing.T) {
	f := Recent
	if !f.Has(Recent) {
		t.Fatal("sanity check failed")
	}
	f = ParseStatus(f, "")
	if f.Has(Recent) {
		t.Fatal("ParseStatus must clear Recent even for an empty Status value")
	}
}
