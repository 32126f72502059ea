package cbordag

import (
	"bytes"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

func mustCID(t *testing.T, raw []byte) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum(raw, multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	return cid.NewCidV1(cid.DagCBOR, mh)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	link := mustCID(t, []byte("hello"))
	v := map[string]any{
		"sig":  []byte{1, 2, 3},
		"text": "@bot hello world",
		"n":    int64(42),
		"neg":  int64(-7),
		"e": []any{
			map[string]any{"t": link, "k": []byte("x")},
		},
		"flag": true,
		"null": nil,
	}

	encoded, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	reencoded, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-Encode: %v", err)
	}
	if !bytes.Equal(encoded, reencoded) {
		t.Fatalf("round trip not byte-identical")
	}
}

func TestEncodeMapKeyOrder(t *testing.T) {
	// "b" (len 1) must sort before "aa" (len 2) regardless of
	// lexicographic order between them.
	m := map[string]any{"aa": int64(1), "b": int64(2)}
	encoded, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Map header (1 byte) + key "b" (1-byte header + 1 byte) + value (1
	// byte) should appear before key "aa".
	idxB := bytes.Index(encoded, []byte{0x61, 'b'})
	idxAA := bytes.Index(encoded, []byte{0x62, 'a', 'a'})
	if idxB < 0 || idxAA < 0 || idxB > idxAA {
		t.Fatalf("expected shorter key 'b' before 'aa' in canonical encoding, got % x", encoded)
	}
}

func TestDecodeRejectsNonMinimalInteger(t *testing.T) {
	// Major type 0 (unsigned int), additional info 24 (1-byte follows),
	// value 5 — should have been encoded directly in the header byte.
	bad := []byte{0x18, 0x05}
	if _, err := Decode(bad); err == nil {
		t.Fatalf("expected error decoding non-minimal integer")
	}
}

func TestDecodeRejectsOutOfOrderMapKeys(t *testing.T) {
	// Map of 2 entries: "b" then "a" — violates canonical key order.
	var buf bytes.Buffer
	buf.WriteByte(0xa2) // map(2)
	buf.WriteByte(0x61)
	buf.WriteString("b")
	buf.WriteByte(0x01)
	buf.WriteByte(0x61)
	buf.WriteString("a")
	buf.WriteByte(0x02)
	if _, err := Decode(buf.Bytes()); err == nil {
		t.Fatalf("expected error decoding out-of-order map keys")
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	encoded, err := Encode(int64(1))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(append(encoded, 0xff)); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestEncodeCIDLink(t *testing.T) {
	link := mustCID(t, []byte("block"))
	encoded, err := Encode(link)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(cid.Cid)
	if !ok || !got.Equals(link) {
		t.Fatalf("expected decoded cid %s, got %v", link, decoded)
	}
}
