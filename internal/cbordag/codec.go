// Package cbordag implements the canonical DAG-CBOR encoding used
// throughout the AT Protocol / PLC ecosystem: definite-length
// arrays/maps, shortest-form integers, map keys ordered by length then
// lexicographically, and CID links encoded as tag-42 byte strings
// prefixed with a zero (identity-multibase) byte.
//
// Encoding is byte-exact and round-trippable: Decode(Encode(v)) == v for
// every value Encode accepts, and Encode(Decode(b)) == b for every b
// that was already in canonical form. The proof builders in
// internal/postproof and internal/didproof depend on this property —
// any drift here invalidates every proof they produce.
//
// The writer side builds on github.com/whyrusleeping/cbor-gen's
// CborWriter for the low-level major-type headers. cbor-gen's reader half targets
// unmarshaling into fixed Go structs generated ahead of time, not a
// generic any-valued tree, so Decode is hand-rolled against the same
// wire format instead (mirroring how go-ipld-cbor walks raw DAG-CBOR
// bytes).
package cbordag

import (
	"bytes"
	"fmt"
	"math"
	"sort"

	"github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
)

// Major type values, matching github.com/whyrusleeping/cbor-gen.
const (
	majUnsignedInt = cbg.MajUnsignedInt
	majNegativeInt = cbg.MajNegativeInt
	majByteString  = cbg.MajByteString
	majTextString  = cbg.MajTextString
	majArray       = cbg.MajArray
	majMap         = cbg.MajMap
	majTag         = cbg.MajTag
	majOther       = cbg.MajOther
)

const (
	simpleFalse = 20
	simpleTrue  = 21
	simpleNull  = 22
)

// cidTag is the DAG-CBOR tag used to mark a byte string as a CID link.
const cidTag = 42

// cidMultibaseIdentity is the leading byte DAG-CBOR prepends to a CID's
// raw bytes inside a tag-42 byte string (an "identity" multibase marker
// left over from the original multibase-prefixed CID text encoding).
const cidMultibaseIdentity = 0x00

// Encode serializes v into canonical DAG-CBOR bytes. Supported Go
// shapes: nil, bool, string, []byte, int, int64, uint64, []any,
// map[string]any, and cid.Cid (encoded as a tag-42 link). Any other
// shape, or an integer that cannot be represented, returns ErrEncoding.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	cw := cbg.NewCborWriter(&buf)
	if err := encodeValue(cw, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(cw *cbg.CborWriter, v any) error {
	switch t := v.(type) {
	case nil:
		return cw.WriteMajorTypeHeader(majOther, simpleNull)
	case bool:
		if t {
			return cw.WriteMajorTypeHeader(majOther, simpleTrue)
		}
		return cw.WriteMajorTypeHeader(majOther, simpleFalse)
	case int:
		return encodeInt(cw, int64(t))
	case int64:
		return encodeInt(cw, t)
	case uint64:
		if t > math.MaxInt64 {
			return fmt.Errorf("%w: unsigned integer %d exceeds int64 range", ErrEncoding, t)
		}
		return cw.WriteMajorTypeHeader(majUnsignedInt, t)
	case string:
		if err := cw.WriteMajorTypeHeader(majTextString, uint64(len(t))); err != nil {
			return err
		}
		_, err := cw.Write([]byte(t))
		return err
	case []byte:
		if err := cw.WriteMajorTypeHeader(majByteString, uint64(len(t))); err != nil {
			return err
		}
		_, err := cw.Write(t)
		return err
	case cid.Cid:
		return encodeCID(cw, t)
	case []any:
		if err := cw.WriteMajorTypeHeader(majArray, uint64(len(t))); err != nil {
			return err
		}
		for _, item := range t {
			if err := encodeValue(cw, item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		return encodeMap(cw, t)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrEncoding, v)
	}
}

func encodeInt(cw *cbg.CborWriter, n int64) error {
	if n >= 0 {
		return cw.WriteMajorTypeHeader(majUnsignedInt, uint64(n))
	}
	return cw.WriteMajorTypeHeader(majNegativeInt, uint64(-1-n))
}

func encodeCID(cw *cbg.CborWriter, c cid.Cid) error {
	if err := cw.WriteMajorTypeHeader(majTag, cidTag); err != nil {
		return err
	}
	raw := c.Bytes()
	if err := cw.WriteMajorTypeHeader(majByteString, uint64(len(raw)+1)); err != nil {
		return err
	}
	if _, err := cw.Write([]byte{cidMultibaseIdentity}); err != nil {
		return err
	}
	_, err := cw.Write(raw)
	return err
}

// encodeMap writes map entries sorted by the canonical DAG-CBOR map-key
// order: shorter keys first, then lexicographic (byte-wise) order among
// keys of equal length.
func encodeMap(cw *cbg.CborWriter, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return lessCanonical(keys[i], keys[j])
	})

	if err := cw.WriteMajorTypeHeader(majMap, uint64(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		if err := cw.WriteMajorTypeHeader(majTextString, uint64(len(k))); err != nil {
			return err
		}
		if _, err := cw.Write([]byte(k)); err != nil {
			return err
		}
		if err := encodeValue(cw, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func lessCanonical(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
