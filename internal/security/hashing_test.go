package security

import (
	"testing"
)

func TestHasher_HashAndCompare(t *testing.T) {
	h := NewHasher(10)
	password := []byte("secret123")
	hash, err := h.Hash(password)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "" {
		t.Fatal("Hash returned empty")
	}
	if err := h.Compare(hash, password); err != nil {
		t.Fatalf("Compare: %v", err)
	}
}

func TestHasher_CompareWrongPassword(t *testing.T) {
	h := NewHasher(10)
	hash, _ := h.Hash([]byte("secret123"))
	if err := h.Compare(hash, []byte("wrong")); err == nil {
		t.Fatal("Compare with wrong password should fail")
	}
}

func TestHasher_VerifyMismatchIsFalseNotPanic(t *testing.T) {
	h := NewHasher(10)
	hash, _ := h.Hash([]byte("secret123"))
	if !h.Verify(hash, []byte("secret123")) {
		t.Fatal("Verify should match correct password")
	}
	if h.Verify(hash, []byte("wrong")) {
		t.Fatal("Verify should reject wrong password")
	}
}

func TestHasher_VerifyMalformedDigest(t *testing.T) {
	h := NewHasher(10)
	// Malformed digests report false, not an error, so the caller cannot tell
	// a bad digest from a bad password.
	if h.Verify("not-a-bcrypt-digest", []byte("anything")) {
		t.Fatal("Verify should reject malformed digest")
	}
	if h.Verify("", []byte("anything")) {
		t.Fatal("Verify should reject empty digest")
	}
}

func TestHasher_Cost(t *testing.T) {
	h := NewHasher(12)
	if h.Cost != 12 {
		t.Errorf("Cost want 12, got %d", h.Cost)
	}
	h0 := NewHasher(0)
	if h0.Cost < 4 {
		t.Errorf("zero cost should be clamped to at least MinCost, got %d", h0.Cost)
	}
	h99 := NewHasher(99)
	if h99.Cost > 31 {
		t.Errorf("oversized cost should be clamped to MaxCost, got %d", h99.Cost)
	}
}
