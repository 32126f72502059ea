package cbordag

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
)

// Decode parses canonical DAG-CBOR bytes back into Go values using the
// same shapes Encode accepts: map[string]any, []any, string, []byte,
// int64, bool, nil, and cid.Cid for tag-42 links. It rejects truncated
// input, non-minimal integer headers, indefinite-length items,
// out-of-canonical-order map keys, and any tag other than 42.
func Decode(b []byte) (any, error) {
	d := &decoder{r: bytes.NewReader(b)}
	v, err := d.readValue()
	if err != nil {
		return nil, err
	}
	if d.r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrDecoding, d.r.Len())
	}
	return v, nil
}

type decoder struct {
	r *bytes.Reader
}

// readHeader reads a major-type/argument pair, enforcing minimal
// (shortest-form) encoding and rejecting the indefinite-length marker
// (additional info 31).
func (d *decoder) readHeader() (major byte, arg uint64, err error) {
	first, err := d.r.ReadByte()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: reading header: %v", ErrDecoding, err)
	}
	major = first >> 5
	info := first & 0x1f

	switch {
	case info < 24:
		return major, uint64(info), nil
	case info == 24:
		v, err := d.readUint8()
		if err != nil {
			return 0, 0, err
		}
		if v < 24 {
			return 0, 0, fmt.Errorf("%w: non-minimal 1-byte integer", ErrDecoding)
		}
		return major, uint64(v), nil
	case info == 25:
		v, err := d.readUint16()
		if err != nil {
			return 0, 0, err
		}
		if v <= 0xff {
			return 0, 0, fmt.Errorf("%w: non-minimal 2-byte integer", ErrDecoding)
		}
		return major, uint64(v), nil
	case info == 26:
		v, err := d.readUint32()
		if err != nil {
			return 0, 0, err
		}
		if v <= 0xffff {
			return 0, 0, fmt.Errorf("%w: non-minimal 4-byte integer", ErrDecoding)
		}
		return major, uint64(v), nil
	case info == 27:
		v, err := d.readUint64()
		if err != nil {
			return 0, 0, err
		}
		if v <= 0xffffffff {
			return 0, 0, fmt.Errorf("%w: non-minimal 8-byte integer", ErrDecoding)
		}
		return major, v, nil
	default:
		return 0, 0, fmt.Errorf("%w: indefinite-length items are not permitted in DAG-CBOR", ErrDecoding)
	}
}

func (d *decoder) readUint8() (uint8, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	return b, nil
}

func (d *decoder) readUint16() (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func (d *decoder) readUint32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func (d *decoder) readUint64() (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(d.r, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

func (d *decoder) readValue() (any, error) {
	major, arg, err := d.readHeader()
	if err != nil {
		return nil, err
	}
	return d.readBody(major, arg)
}

func (d *decoder) readBody(major byte, arg uint64) (any, error) {
	switch major {
	case majUnsignedInt:
		if arg > 1<<63-1 {
			return nil, fmt.Errorf("%w: unsigned integer exceeds int64 range", ErrDecoding)
		}
		return int64(arg), nil
	case majNegativeInt:
		if arg > 1<<63-1 {
			return nil, fmt.Errorf("%w: negative integer exceeds int64 range", ErrDecoding)
		}
		return -1 - int64(arg), nil
	case majByteString:
		buf := make([]byte, arg)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, fmt.Errorf("%w: byte string: %v", ErrDecoding, err)
		}
		return buf, nil
	case majTextString:
		buf := make([]byte, arg)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return nil, fmt.Errorf("%w: text string: %v", ErrDecoding, err)
		}
		return string(buf), nil
	case majArray:
		out := make([]any, arg)
		for i := range out {
			v, err := d.readValue()
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case majMap:
		return d.readMap(arg)
	case majTag:
		return d.readTagged(arg)
	case majOther:
		switch arg {
		case simpleFalse:
			return false, nil
		case simpleTrue:
			return true, nil
		case simpleNull:
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: unsupported simple value %d", ErrDecoding, arg)
		}
	default:
		return nil, fmt.Errorf("%w: unknown major type %d", ErrDecoding, major)
	}
}

func (d *decoder) readMap(n uint64) (map[string]any, error) {
	out := make(map[string]any, n)
	var prevKey string
	for i := uint64(0); i < n; i++ {
		major, arg, err := d.readHeader()
		if err != nil {
			return nil, err
		}
		if major != majTextString {
			return nil, fmt.Errorf("%w: map key is not a text string", ErrDecoding)
		}
		keyBytes := make([]byte, arg)
		if _, err := io.ReadFull(d.r, keyBytes); err != nil {
			return nil, fmt.Errorf("%w: map key: %v", ErrDecoding, err)
		}
		key := string(keyBytes)

		if i > 0 && !lessCanonical(prevKey, key) {
			return nil, fmt.Errorf("%w: map keys out of canonical order (%q after %q)", ErrDecoding, key, prevKey)
		}
		prevKey = key

		val, err := d.readValue()
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
	return out, nil
}

func (d *decoder) readTagged(tag uint64) (any, error) {
	if tag != cidTag {
		return nil, fmt.Errorf("%w: unsupported tag %d", ErrDecoding, tag)
	}
	major, arg, err := d.readHeader()
	if err != nil {
		return nil, err
	}
	if major != majByteString {
		return nil, fmt.Errorf("%w: tag 42 payload is not a byte string", ErrDecoding)
	}
	buf := make([]byte, arg)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, fmt.Errorf("%w: cid bytes: %v", ErrDecoding, err)
	}
	if len(buf) == 0 || buf[0] != cidMultibaseIdentity {
		return nil, fmt.Errorf("%w: cid byte string missing identity multibase prefix", ErrDecoding)
	}
	c, err := cid.Cast(buf[1:])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cid: %v", ErrDecoding, err)
	}
	return c, nil
}
