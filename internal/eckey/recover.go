// Package eckey recovers a secp256k1 public key from an ECDSA
// signature and disambiguates the recovery bit against a candidate key
// set, the way an on-chain ecrecover-based verifier does.
package eckey

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrUnmatchedSigner is returned when neither recovery candidate's
// compressed public key appears in the candidate set.
var ErrUnmatchedSigner = errors.New("eckey: no candidate key matches the recovered signer")

// Result is a successfully recovered and disambiguated signature.
type Result struct {
	// PubkeyUncompressed is the 65-byte uncompressed public key
	// (0x04 ‖ X ‖ Y) of the recovered signer.
	PubkeyUncompressed []byte
	// V is the wire-format recovery byte, 27 or 28.
	V byte
	// Index is the position of the matching key within candidates.
	Index int
}

// Recover tries both secp256k1 recovery IDs (0 and 1) against a
// 65-byte-free r‖s signature over digest, compresses each candidate
// public key, and returns the first one found in candidates — a slice
// of 33-byte compressed secp256k1 public keys. v is reported as 27 for
// recovery id 0, 28 for recovery id 1, matching the wire convention
// this system emits on every signature it recovers.
func Recover(digest [32]byte, r, s [32]byte, candidates [][33]byte) (Result, error) {
	sig := make([]byte, 65)
	copy(sig[0:32], r[:])
	copy(sig[32:64], s[:])

	for recID := byte(0); recID <= 1; recID++ {
		sig[64] = recID

		pub, err := crypto.Ecrecover(digest[:], sig)
		if err != nil {
			continue
		}
		compressed, err := compress(pub)
		if err != nil {
			continue
		}

		for idx, cand := range candidates {
			if compressed == cand {
				return Result{
					PubkeyUncompressed: pub,
					V:                  27 + recID,
					Index:              idx,
				}, nil
			}
		}
	}

	return Result{}, ErrUnmatchedSigner
}

// compress converts go-ethereum's 65-byte uncompressed public key
// (0x04 ‖ X ‖ Y) returned by Ecrecover into its 33-byte compressed form.
func compress(uncompressed []byte) ([33]byte, error) {
	var out [33]byte
	pub, err := crypto.UnmarshalPubkey(uncompressed)
	if err != nil {
		return out, fmt.Errorf("eckey: unmarshal recovered pubkey: %w", err)
	}
	copy(out[:], crypto.CompressPubkey(pub))
	return out, nil
}

// Decompress expands a 33-byte compressed secp256k1 public key (as
// embedded in a did:key identifier or a PLC rotation key) into its
// 65-byte uncompressed form (0x04 ‖ X ‖ Y).
func Decompress(compressed [33]byte) ([]byte, error) {
	pub, err := crypto.DecompressPubkey(compressed[:])
	if err != nil {
		return nil, fmt.Errorf("eckey: decompress pubkey: %w", err)
	}
	return crypto.FromECDSAPub(pub), nil
}
