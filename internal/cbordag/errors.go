package cbordag

import "errors"

// ErrEncoding is returned when a value cannot be represented as
// canonical DAG-CBOR (unsupported shape, or an integer outside the
// representable range).
var ErrEncoding = errors.New("cbordag: encoding error")

// ErrDecoding is returned on truncated input, non-canonical encodings
// (non-minimal integer headers, indefinite-length items, out-of-order
// map keys), or unrecognized tags.
var ErrDecoding = errors.New("cbordag: decoding error")
