// Package cidkit builds and compares the one CID shape this system
// ever produces or consumes: CIDv1, DAG-CBOR codec, SHA-256 multihash —
// the 36-byte sequence 0x01 0x71 0x12 0x20 ‖ sha256(block).
package cidkit

import (
	"crypto/sha256"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// ErrWrongShape is returned when a CID does not have the fixed
// CIDv1/dag-cbor/sha256 shape this system relies on.
var ErrWrongShape = fmt.Errorf("cidkit: not a CIDv1 dag-cbor sha256 cid")

// ComputeCID returns the CIDv1 (dag-cbor, sha256) of raw block bytes.
func ComputeCID(raw []byte) (cid.Cid, error) {
	builder := cid.V1Builder{Codec: cid.DagCBOR, MhType: multihash.SHA2_256}
	c, err := builder.Sum(raw)
	if err != nil {
		return cid.Undef, fmt.Errorf("cidkit: compute cid: %w", err)
	}
	return c, nil
}

// Digest returns the 32-byte SHA-256 digest this CID's multihash
// commits to, verifying the CID has the expected shape along the way.
func Digest(c cid.Cid) ([32]byte, error) {
	var out [32]byte
	if c.Version() != 1 || c.Type() != cid.DagCBOR {
		return out, ErrWrongShape
	}
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return out, fmt.Errorf("cidkit: decode multihash: %w", err)
	}
	if decoded.Code != multihash.SHA2_256 || len(decoded.Digest) != 32 {
		return out, ErrWrongShape
	}
	copy(out[:], decoded.Digest)
	return out, nil
}

// MatchesDigest reports whether c's trailing 32 bytes equal digest —
// the comparison the proof builders use to walk a Merkle path without
// re-deriving a CID each hop.
func MatchesDigest(c cid.Cid, digest [32]byte) bool {
	got, err := Digest(c)
	if err != nil {
		return false
	}
	return got == digest
}

// MatchesBytes reports whether raw's digest equals the block bytes'
// SHA-256, i.e. whether raw is the canonical CID of block.
func MatchesBytes(raw cid.Cid, block []byte) bool {
	sum := sha256.Sum256(block)
	return MatchesDigest(raw, sum)
}
