package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestExternalID(t *testing.T) {
	got := ExternalID("x", "/a", "50", "1000")

	sum := sha256.Sum256([]byte("x:/a:50:1000"))
	want := hex.EncodeToString(sum[:])[:32]
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
	if len(got) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(got))
	}
}

func TestExternalID_Stable(t *testing.T) {
	a := ExternalID("apolar", "/imovel/1", "70", "1500")
	b := ExternalID("apolar", "/imovel/1", "70", "1500")
	if a != b {
		t.Fatalf("same input produced %s and %s", a, b)
	}
	if a == ExternalID("galvao", "/imovel/1", "70", "1500") {
		t.Fatalf("source must participate in the id")
	}
}
