package eckey_test

import (
	"crypto/sha256"
	"testing"

	"github.com/primal-host/relaybridge/internal/eckey"
	"github.com/primal-host/relaybridge/internal/testfixture"
)

func TestRecoverMatchesSigningKey(t *testing.T) {
	key, err := testfixture.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	other, err := testfixture.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	digest := sha256.Sum256([]byte("message to sign"))
	r, s, _, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	candidates := [][33]byte{other.Compressed, key.Compressed}
	result, err := eckey.Recover(digest, r, s, candidates)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if result.Index != 1 {
		t.Fatalf("expected matching candidate at index 1, got %d", result.Index)
	}
	if result.V != 27 && result.V != 28 {
		t.Fatalf("expected V in {27,28}, got %d", result.V)
	}
	if len(result.PubkeyUncompressed) != 65 || result.PubkeyUncompressed[0] != 0x04 {
		t.Fatalf("expected 65-byte uncompressed pubkey, got %d bytes", len(result.PubkeyUncompressed))
	}
}

func TestRecoverUnmatchedSigner(t *testing.T) {
	key, err := testfixture.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	other, err := testfixture.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	digest := sha256.Sum256([]byte("message to sign"))
	r, s, _, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := eckey.Recover(digest, r, s, [][33]byte{other.Compressed}); err == nil {
		t.Fatalf("expected ErrUnmatchedSigner when no candidate matches")
	}
}

func TestDecompressRoundTrip(t *testing.T) {
	key, err := testfixture.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	uncompressed, err := eckey.Decompress(key.Compressed)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(uncompressed) != 65 || uncompressed[0] != 0x04 {
		t.Fatalf("expected 65-byte uncompressed form, got %d bytes", len(uncompressed))
	}
}
