// Package testfixture builds small, hand-assembled CAR archives and
// PLC operation logs for the proof builders' tests, constructing
// reply/tree shapes by hand rather than through indigo's MST.
package testfixture

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/primal-host/relaybridge/internal/eckey"
)

// Key is a secp256k1 keypair used to sign fixture commits and PLC
// operations.
type Key struct {
	Private    *ecdsa.PrivateKey
	Compressed [33]byte
}

// GenerateKey creates a fresh signing key for a fixture.
func GenerateKey() (Key, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return Key{}, fmt.Errorf("testfixture: generate key: %w", err)
	}
	compressed, err := compress(priv)
	if err != nil {
		return Key{}, err
	}
	return Key{Private: priv, Compressed: compressed}, nil
}

func compress(priv *ecdsa.PrivateKey) ([33]byte, error) {
	var out [33]byte
	copy(out[:], crypto.CompressPubkey(&priv.PublicKey))
	return out, nil
}

// Sign signs digest with k, returning r, s, and the 65-byte recoverable
// signature in the wire order eckey.Recover expects to split.
func (k Key) Sign(digest [32]byte) (r, s [32]byte, sig65 [65]byte, err error) {
	sig, err := crypto.Sign(digest[:], k.Private)
	if err != nil {
		return r, s, sig65, fmt.Errorf("testfixture: sign: %w", err)
	}
	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])
	copy(sig65[0:32], sig[0:32])
	copy(sig65[32:64], sig[32:64])
	sig65[64] = 27 + sig[64]
	return r, s, sig65, nil
}

// Uncompressed returns the 65-byte uncompressed form of k's public key.
func (k Key) Uncompressed() []byte {
	uncompressed, _ := eckey.Decompress(k.Compressed)
	return uncompressed
}
