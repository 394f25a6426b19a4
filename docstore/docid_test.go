package docstore

import (
	"strings"
	"testing"
)

func TestEncodedNamedUUID_KnownValue(t *testing.T) {
	// Pinned against the historical id scheme: MD5 name-based UUID of the
	// raw bytes, base64url without padding. "test" hashes to the UUID
	// 098f6bcd-4621-3373-8ade-4e832627b4f6.
	got, err := EncodedNamedUUID("test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "CY9rzUYhM3OK3k6DJie09g" {
		t.Errorf("encoded UUID mismatch: got %s, want CY9rzUYhM3OK3k6DJie09g", got)
	}
}

func TestEncodedNamedUUID_Deterministic(t *testing.T) {
	arn := "arn:aws:organizations::account/222222222222"

	first, err := EncodedNamedUUID(arn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := EncodedNamedUUID(arn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Errorf("same ARN produced different ids: %s vs %s", first, second)
	}
}

func TestEncodedNamedUUID_DistinctARNs(t *testing.T) {
	a, err := EncodedNamedUUID("arn:aws:s3:::bucket-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := EncodedNamedUUID("arn:aws:s3:::bucket-b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Errorf("different ARNs produced the same id: %s", a)
	}
}

func TestEncodedNamedUUID_Format(t *testing.T) {
	got, err := EncodedNamedUUID("arn:aws:iam::111111111111:role/some-role")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 22 {
		t.Errorf("expected 22 characters without padding, got %d (%s)", len(got), got)
	}
	if strings.ContainsAny(got, "+/=") {
		t.Errorf("id %s is not base64url without padding", got)
	}
}

func TestEncodedNamedUUID_Blank(t *testing.T) {
	if _, err := EncodedNamedUUID(""); err == nil {
		t.Error("expected an error for a blank target")
	}
}
