package imapcore

import "testing"

func TestFormatParseEmailIDRoundTrip(t *testing.T) {
	for _, id := range []uint32{0, 1, 31, 32, 1000, 1 << 20, (1 << 27) - 1} {
		s := FormatEmailID(id)
		got, err := ParseEmailID(s)
		if err != nil {
			t.Fatalf("ParseEmailID(%q): %v", s, err)
		}
		if got != id {
			t.Fatalf("round trip of %d produced %q -> %d", id, s, got)
		}
	}
}

func TestFormatEmailIDZero(t *testing.T) {
	if got := FormatEmailID(0); got != "0" {
		t.Fatalf("FormatEmailID(0) = %q, want %q", got, "0")
	}
}

func TestParseEmailIDRejectsEmpty(t *testing.T) {
	if _, err := ParseEmailID(""); err == nil {
		t.Fatal("expected an error for an empty id")
	}
}

func TestParseEmailIDRejectsInvalidCharacter(t *testing.T) {
	if _, err := ParseEmailID("!!!"); err == nil {
		t.Fatal("expected an error for a character outside the alphabet")
	}
}

func TestParseEmailIDDistinctValuesProduceDistinctEncodings(t *testing.T) {
	seen := make(map[string]uint32)
	for _, id := range []uint32{1, 2, 3, 100, 101, 99999} {
		s := FormatEmailID(id)
		if other, ok := seen[s]; ok && other != id {
			t.Fatalf("FormatEmailID(%d) and FormatEmailID(%d) collided on %q", id, other, s)
		}
		seen[s] = id
	}
}
