package cidkit

import (
	"crypto/sha256"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

func TestComputeCIDAndDigestRoundTrip(t *testing.T) {
	raw := []byte("arbitrary block bytes")
	c, err := ComputeCID(raw)
	if err != nil {
		t.Fatalf("ComputeCID: %v", err)
	}

	digest, err := Digest(c)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	want := sha256.Sum256(raw)
	if digest != want {
		t.Fatalf("digest mismatch")
	}

	if !MatchesBytes(c, raw) {
		t.Fatalf("MatchesBytes should report true for the block that produced this cid")
	}
	if MatchesBytes(c, []byte("different bytes")) {
		t.Fatalf("MatchesBytes should report false for a different block")
	}
}

func TestDigestRejectsWrongShape(t *testing.T) {
	mh, err := multihash.Sum([]byte("x"), multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("multihash sum: %v", err)
	}
	// Raw codec instead of dag-cbor.
	wrong := cid.NewCidV1(cid.Raw, mh)
	if _, err := Digest(wrong); err == nil {
		t.Fatalf("expected ErrWrongShape for non-dag-cbor cid")
	}
}
