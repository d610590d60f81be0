package id

import "testing"

func TestNewIsV4AndUnique(t *testing.T) {
	a := New()
	b := New()
	if a.String() == b.String() {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	if a.IsZero() {
		t.Fatal("freshly minted id should not be zero")
	}
}

func TestParseRoundTrip(t *testing.T) {
	a := New()
	parsed, err := Parse(a.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.String() != a.String() {
		t.Fatalf("round trip mismatch: %s != %s", parsed, a)
	}
}

func TestParseRejectsNonV4(t *testing.T) {
	// A well-formed UUID that is not version 4.
	if _, err := Parse("00000000-0000-1000-8000-000000000000"); err == nil {
		t.Fatal("expected error for non-v4 uuid")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("expected error for malformed uuid")
	}
}

func TestTextMarshalRoundTrip(t *testing.T) {
	a := New()
	text, err := a.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	var b ID
	if err := b.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if a.String() != b.String() {
		t.Fatalf("marshal round trip mismatch: %s != %s", a, b)
	}
}
