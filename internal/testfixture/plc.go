package testfixture

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/primal-host/relaybridge/internal/cbordag"
	"github.com/primal-host/relaybridge/internal/didkey"
	"github.com/primal-host/relaybridge/internal/didproof"
)

// PLCOpBuilder assembles a chronological PLC operation log, signing
// each operation with the key the caller passes to Append and chaining
// each operation's prev to the last non-nullified one.
type PLCOpBuilder struct {
	entries []didproof.Entry
	prevCID cid.Cid
	havePrev bool
}

// NewPLCOpBuilder returns an empty builder.
func NewPLCOpBuilder() *PLCOpBuilder {
	return &PLCOpBuilder{}
}

// OpSpec describes one operation to append.
type OpSpec struct {
	RotationKeys []Key // this operation's own rotationKeys (authorizes the NEXT op)
	SignerIndex  int   // not read by Append; the signer argument is what signs this op
	AtprotoKey   Key
	Endpoint     string
	Nullified    bool
}

// Append builds, signs with signer, and appends one operation. Append
// does not check signer against any rotation key set: for a log Build
// accepts, signer is one of the previous operation's RotationKeys (the
// genesis operation's own RotationKeys for the first call).
func (b *PLCOpBuilder) Append(spec OpSpec, signer Key) error {
	rotationKeys := make([]any, len(spec.RotationKeys))
	for i, k := range spec.RotationKeys {
		s, err := didkey.Encode(k.Compressed)
		if err != nil {
			return fmt.Errorf("testfixture: encode rotation key %d: %w", i, err)
		}
		rotationKeys[i] = s
	}
	atprotoDIDKey, err := didkey.Encode(spec.AtprotoKey.Compressed)
	if err != nil {
		return fmt.Errorf("testfixture: encode atproto key: %w", err)
	}

	op := map[string]any{
		"type":         "plc_operation",
		"rotationKeys": rotationKeys,
		"verificationMethods": map[string]any{
			"atproto": atprotoDIDKey,
		},
		"alsoKnownAs": []any{},
		"services": map[string]any{
			"atproto_pds": map[string]any{
				"type":     "AtprotoPersonalDataServer",
				"endpoint": spec.Endpoint,
			},
		},
	}
	if b.havePrev {
		op["prev"] = b.prevCID.String()
	} else {
		op["prev"] = nil
	}

	signable, err := cbordag.Encode(op)
	if err != nil {
		return fmt.Errorf("testfixture: encode signable op: %w", err)
	}
	digest := sha256.Sum256(signable)

	_, _, sig65, err := signer.Sign(digest)
	if err != nil {
		return err
	}
	sigB64 := base64.RawURLEncoding.EncodeToString(sig65[0:64])

	signedOp := make(map[string]any, len(op)+1)
	for k, v := range op {
		signedOp[k] = v
	}
	signedOp["sig"] = sigB64

	signedCBOR, err := cbordag.Encode(signedOp)
	if err != nil {
		return fmt.Errorf("testfixture: encode signed op: %w", err)
	}

	digestBytes := sha256.Sum256(signedCBOR)
	mh, err := multihash.Encode(digestBytes[:], multihash.SHA2_256)
	if err != nil {
		return fmt.Errorf("testfixture: encode multihash: %w", err)
	}
	opCID := cid.NewCidV1(cid.DagCBOR, mh)

	// A nullified operation never advances the chain: the next
	// operation's prev must still point at the last non-nullified op.
	if !spec.Nullified {
		b.prevCID = opCID
		b.havePrev = true
	}

	b.entries = append(b.entries, didproof.Entry{
		CID:       opCID.String(),
		Operation: signedOp,
		Nullified: spec.Nullified,
		CreatedAt: "",
	})
	return nil
}

// Entries returns the assembled audit log.
func (b *PLCOpBuilder) Entries() []didproof.Entry {
	return b.entries
}
