package objectid

import "testing"

func TestParseRoundTrip(t *testing.T) {
	s := "1111111111111111111111111111111111111111"
	id, err := Parse(SHA1, s)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.String() != s {
		t.Fatalf("String() = %q, want %q", id.String(), s)
	}
	if id.IsZero() {
		t.Fatalf("expected non-zero id")
	}
}

func TestZeroIsZero(t *testing.T) {
	if !Zero(SHA1).IsZero() {
		t.Fatalf("Zero(SHA1) should be zero")
	}
	if !Zero(SHA256).IsZero() {
		t.Fatalf("Zero(SHA256) should be zero")
	}
}

func TestParseWrongWidth(t *testing.T) {
	if _, err := Parse(SHA1, "abcd"); err == nil {
		t.Fatalf("expected error for short id")
	}
	if _, err := Parse(SHA256, "1111111111111111111111111111111111111111"); err == nil {
		t.Fatalf("expected error for sha1-width id under sha256 format")
	}
}

func TestEqualAcrossFormats(t *testing.T) {
	a := Zero(SHA1)
	b := Zero(SHA256)
	if a.Equal(b) {
		t.Fatalf("zero ids of different formats must not be equal")
	}
}

func TestDetectFormat(t *testing.T) {
	if f, ok := DetectFormat("1111111111111111111111111111111111111111"); !ok || f != SHA1 {
		t.Fatalf("expected SHA1 detection, got %v %v", f, ok)
	}
	if f, ok := DetectFormat("1111111111111111111111111111111111111111111111111111111111111111"); !ok || f != SHA256 {
		t.Fatalf("expected SHA256 detection, got %v %v", f, ok)
	}
	if _, ok := DetectFormat("abc"); ok {
		t.Fatalf("expected detection failure for bad length")
	}
}
