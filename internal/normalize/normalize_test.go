package normalize

import "testing"

func TestNormalize_Idempotent(t *testing.T) {
	opt := Options{StripWhitespace: true, StripDates: true, StripRandomIDs: true}
	input := "Posted  2024-03-01T10:00:00Z  by user  ref=abc123def456\n\n  extra   spaces "
	once := Normalize(input, opt)
	twice := Normalize(once, opt)
	if once != twice {
		t.Fatalf("normalize not idempotent:\nonce=%q\ntwice=%q", once, twice)
	}
}

func TestNormalize_StripWhitespaceDefault(t *testing.T) {
	got := Normalize("  hello   world  \n\n  line two  ", Options{StripWhitespace: true})
	want := "hello world\nline two"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalize_StripDates(t *testing.T) {
	cases := []string{
		"Updated 2024-03-01T10:00:00Z today",
		"Posted 3 minutes ago",
		"Seen on Mar 1, 2024",
		"at 10:45:30 PM",
	}
	for _, c := range cases {
		got := Normalize(c, Options{StripDates: true})
		if !contains(got, "<DATE>") {
			t.Errorf("expected <DATE> marker in %q, got %q", c, got)
		}
	}
}

func TestNormalize_StripRandomIDs(t *testing.T) {
	got := Normalize("session ref=abcd1234efgh5678ijkl and id a1b2c3d4e5f6a7b8", Options{StripRandomIDs: true})
	if !contains(got, "<ID>") {
		t.Fatalf("expected <ID> marker, got %q", got)
	}
}

func TestHash_Stable(t *testing.T) {
	h1 := Hash("same content")
	h2 := Hash("same content")
	if h1 != h2 {
		t.Fatalf("hash not stable: %s != %s", h1, h2)
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars (sha256), got %d", len(h1))
	}
}

func TestHash_DiffersOnContentChange(t *testing.T) {
	if Hash("a") == Hash("b") {
		t.Fatalf("expected different hashes for different content")
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
