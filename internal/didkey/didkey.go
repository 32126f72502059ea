// Package didkey decodes and encodes did:key identifiers for the one
// curve this system handles: secp256k1, multicodec prefix 0xe7 0x01.
//
// The reference Python tool stripped the "did:key:" prefix with
// str.lstrip, which trims by character set rather than by literal
// prefix — it happens to work here but is the wrong primitive (it would
// also eat a leading run of any of 'd','i',':','k','e','y' characters).
// This package checks the exact prefix instead.
package didkey

import (
	"fmt"

	"github.com/multiformats/go-multibase"
)

// Prefix is the literal did:key identifier prefix.
const Prefix = "did:key:"

// secp256k1Multicodec is the two-byte multicodec tag for a
// secp256k1-pub key, varint-encoded (0xe7 0x01 decodes to codec 0xe7).
var secp256k1Multicodec = [2]byte{0xe7, 0x01}

// CompressedKeyLen is the length of a compressed secp256k1 public key.
const CompressedKeyLen = 33

// Decode parses a "did:key:z..." string and returns the 33-byte
// compressed secp256k1 public key it embeds.
func Decode(didKey string) ([CompressedKeyLen]byte, error) {
	var out [CompressedKeyLen]byte

	if len(didKey) < len(Prefix) || didKey[:len(Prefix)] != Prefix {
		return out, fmt.Errorf("didkey: missing %q prefix: %q", Prefix, didKey)
	}
	body := didKey[len(Prefix):]

	_, data, err := multibase.Decode(body)
	if err != nil {
		return out, fmt.Errorf("didkey: multibase decode: %w", err)
	}
	if len(data) != 2+CompressedKeyLen {
		return out, fmt.Errorf("didkey: unexpected decoded length %d", len(data))
	}
	if data[0] != secp256k1Multicodec[0] || data[1] != secp256k1Multicodec[1] {
		return out, fmt.Errorf("didkey: unsupported multicodec prefix %#x %#x", data[0], data[1])
	}
	copy(out[:], data[2:])
	return out, nil
}

// Encode renders a compressed secp256k1 public key as a did:key string.
func Encode(compressed [CompressedKeyLen]byte) (string, error) {
	data := make([]byte, 0, 2+CompressedKeyLen)
	data = append(data, secp256k1Multicodec[0], secp256k1Multicodec[1])
	data = append(data, compressed[:]...)

	encoded, err := multibase.Encode(multibase.Base58BTC, data)
	if err != nil {
		return "", fmt.Errorf("didkey: multibase encode: %w", err)
	}
	return Prefix + encoded, nil
}
