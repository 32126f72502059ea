// Package didproof builds the DID-history proof payload: for every
// non-nullified operation in a PLC audit log, it reconstructs the
// exact signable bytes, recovers the signer, and identifies which
// rotation key of the previous operation authorized the operation.
//
// The builder is a pure function over a decoded audit log; it shares
// its CBOR, CID, and signature-recovery primitives with postproof.
package didproof

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/primal-host/relaybridge/internal/cbordag"
	"github.com/primal-host/relaybridge/internal/cidkit"
	"github.com/primal-host/relaybridge/internal/didkey"
	"github.com/primal-host/relaybridge/internal/eckey"
)

// Errors returned by Build.
var (
	ErrSignedFormAssumptionViolated = fmt.Errorf("didproof: splicing sig back does not reproduce the signed form")
	ErrPrevMismatch                 = fmt.Errorf("didproof: op.prev does not match the previous operation's hash")
	ErrNoAuthorizingKey             = fmt.Errorf("didproof: no rotation key authorizes this operation's signature")
	ErrMalformedOperation            = fmt.Errorf("didproof: malformed PLC operation")
)

// Entry is one row of a decoded PLC audit log.
type Entry struct {
	CID       string
	Operation map[string]any
	Nullified bool
	CreatedAt string
}

// Payload is the DID-history proof payload of the data model.
type Payload struct {
	DID           string
	Ops           [][]byte
	Sigs          [][65]byte
	Pubkeys       [][]byte
	PubkeyIndexes []int
}

// Build reconstructs the DID-history proof payload for did from its
// ordered, chronological audit log.
func Build(did string, log []Entry) (*Payload, error) {
	var (
		ops           [][]byte
		sigs          [][65]byte
		pubkeys       [][]byte
		pubkeyIndexes []int

		activeRotationKeys [][33]byte
		lastSignedHash     [32]byte
		haveLast           bool
	)

	var lastOp map[string]any

	for _, entry := range log {
		if entry.Nullified {
			continue
		}
		op := entry.Operation

		signedCBOR, err := cbordag.Encode(op)
		if err != nil {
			return nil, fmt.Errorf("didproof: encode operation: %w", err)
		}

		signable := withoutSig(op)
		signableCBOR, err := cbordag.Encode(signable)
		if err != nil {
			return nil, fmt.Errorf("didproof: encode signable operation: %w", err)
		}

		sigB64, ok := op["sig"].(string)
		if !ok {
			return nil, fmt.Errorf("%w: sig field missing or not a string", ErrMalformedOperation)
		}
		sigBytes, err := decodeBase64URLUnpadded(sigB64)
		if err != nil {
			return nil, fmt.Errorf("didproof: decode sig: %w", err)
		}
		if len(sigBytes) != 64 {
			return nil, fmt.Errorf("%w: sig is %d bytes, want 64", ErrMalformedOperation, len(sigBytes))
		}

		if err := checkSpliceBack(signedCBOR, signableCBOR, sigB64); err != nil {
			return nil, err
		}

		isGenesis := !haveLast
		if isGenesis {
			keys, err := decodeDIDKeys(op)
			if err != nil {
				return nil, err
			}
			activeRotationKeys = keys
		} else {
			prevStr, ok := op["prev"].(string)
			if !ok {
				return nil, fmt.Errorf("%w: prev field missing or not a string", ErrMalformedOperation)
			}
			prevHash, err := decodePrevHash(prevStr)
			if err != nil {
				return nil, err
			}
			if prevHash != lastSignedHash {
				return nil, ErrPrevMismatch
			}
		}

		var r, s [32]byte
		copy(r[:], sigBytes[0:32])
		copy(s[:], sigBytes[32:64])
		digest := sha256.Sum256(signableCBOR)

		result, err := eckey.Recover(digest, r, s, activeRotationKeys)
		if err != nil {
			return nil, ErrNoAuthorizingKey
		}

		var sig65 [65]byte
		copy(sig65[0:32], r[:])
		copy(sig65[32:64], s[:])
		sig65[64] = result.V

		ops = append(ops, signableCBOR)
		sigs = append(sigs, sig65)
		pubkeys = append(pubkeys, result.PubkeyUncompressed)
		pubkeyIndexes = append(pubkeyIndexes, result.Index)

		lastSignedHash = sha256.Sum256(signedCBOR)
		haveLast = true
		lastOp = op

		keys, err := decodeDIDKeys(op)
		if err != nil {
			return nil, err
		}
		activeRotationKeys = keys
	}

	if len(ops) == 0 {
		return nil, fmt.Errorf("didproof: audit log has no non-nullified operations")
	}

	tailKey, err := tailVerificationKey(lastOp)
	if err != nil {
		return nil, err
	}

	return &Payload{
		DID:           did,
		Ops:           ops,
		Sigs:          sigs,
		Pubkeys:       append(pubkeys[1:], tailKey),
		PubkeyIndexes: pubkeyIndexes[1:],
	}, nil
}

func withoutSig(op map[string]any) map[string]any {
	out := make(map[string]any, len(op)-1)
	for k, v := range op {
		if k == "sig" {
			continue
		}
		out[k] = v
	}
	return out
}

func decodeBase64URLUnpadded(s string) ([]byte, error) {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.URLEncoding.DecodeString(s)
}

// checkSpliceBack verifies signedCBOR and signableCBOR differ only in
// the absence of the sig field and a one-greater map-length prefix, by
// splicing the sig field back into the signable form at its canonical
// position and comparing byte-for-byte against signedCBOR.
//
// This compares structurally via a decode-reencode round trip rather
// than by raw header-byte arithmetic, since the assumption that only
// the first header byte changes breaks once the map's entry count
// crosses a CBOR major-type size boundary (23 -> 24 entries).
func checkSpliceBack(signedCBOR, signableCBOR []byte, sigB64 string) error {
	decoded, err := cbordag.Decode(signableCBOR)
	if err != nil {
		return fmt.Errorf("%w: re-decode signable form: %v", ErrSignedFormAssumptionViolated, err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: signable form is not a map", ErrSignedFormAssumptionViolated)
	}

	spliced := make(map[string]any, len(m)+1)
	for k, v := range m {
		spliced[k] = v
	}
	spliced["sig"] = sigB64

	reencoded, err := cbordag.Encode(spliced)
	if err != nil {
		return fmt.Errorf("%w: re-encode spliced form: %v", ErrSignedFormAssumptionViolated, err)
	}
	if string(reencoded) != string(signedCBOR) {
		return ErrSignedFormAssumptionViolated
	}
	return nil
}

func decodeDIDKeys(op map[string]any) ([][33]byte, error) {
	rotationAny, ok := op["rotationKeys"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: rotationKeys field missing or not an array", ErrMalformedOperation)
	}
	keys := make([][33]byte, 0, len(rotationAny))
	for _, kAny := range rotationAny {
		kStr, ok := kAny.(string)
		if !ok {
			return nil, fmt.Errorf("%w: rotationKeys entry is not a string", ErrMalformedOperation)
		}
		key, err := didkey.Decode(kStr)
		if err != nil {
			return nil, fmt.Errorf("didproof: decode rotation key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// decodePrevHash parses op.prev as a multibase-encoded CID string and
// returns its trailing 32-byte digest, the value compared against the
// previous operation's sha256(signedCBOR).
func decodePrevHash(prevStr string) ([32]byte, error) {
	var out [32]byte
	c, err := cid.Decode(prevStr)
	if err != nil {
		return out, fmt.Errorf("didproof: decode prev cid: %w", err)
	}
	digest, err := cidkit.Digest(c)
	if err != nil {
		return out, fmt.Errorf("didproof: prev cid: %w", err)
	}
	return digest, nil
}

func tailVerificationKey(op map[string]any) ([]byte, error) {
	vm, ok := op["verificationMethods"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: verificationMethods field missing or not a map", ErrMalformedOperation)
	}
	atprotoAny, ok := vm["atproto"]
	if !ok {
		return nil, fmt.Errorf("%w: verificationMethods.atproto missing", ErrMalformedOperation)
	}
	atprotoStr, ok := atprotoAny.(string)
	if !ok {
		return nil, fmt.Errorf("%w: verificationMethods.atproto is not a string", ErrMalformedOperation)
	}
	compressed, err := didkey.Decode(atprotoStr)
	if err != nil {
		return nil, fmt.Errorf("didproof: decode verificationMethods.atproto: %w", err)
	}
	uncompressed, err := eckey.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("didproof: decompress verificationMethods.atproto: %w", err)
	}
	return uncompressed, nil
}
