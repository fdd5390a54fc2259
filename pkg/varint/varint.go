// Package varint implements the little-endian base-128 integer
// encoding used throughout the instruction log's binary format.
package varint

import "github.com/cockroachdb/errors"

// ErrMalformed is returned when the buffer ends before a terminating
// byte (high bit clear) is found.
var ErrMalformed = errors.New("varint: malformed, buffer ended before terminating byte")

// ErrOverflow is returned when a decoded value would not fit in 64 bits.
var ErrOverflow = errors.New("varint: overflow, value exceeds 64 bits")

// maxBytes is the longest encoding of a full uint64: ceil(64/7) = 10.
const maxBytes = 10

// Encode returns the 1-10 byte little-endian base-128 encoding of u,
// seven payload bits per byte, continuation bit set on all but the
// last byte.
func Encode(u uint64) []byte {
	buf := make([]byte, 0, maxBytes)
	for {
		b := byte(u & 0x7f)
		u >>= 7
		if u != 0 {
			buf = append(buf, b|0x80)
			continue
		}
		buf = append(buf, b)
		return buf
	}
}

// AppendEncode appends the varint encoding of u to dst and returns the
// extended slice, avoiding an intermediate allocation for call sites
// that are already building up a larger buffer.
func AppendEncode(dst []byte, u uint64) []byte {
	for {
		b := byte(u & 0x7f)
		u >>= 7
		if u != 0 {
			dst = append(dst, b|0x80)
			continue
		}
		return append(dst, b)
	}
}

// Decode reads a varint from the front of buf, returning the decoded
// value and the number of bytes consumed.
func Decode(buf []byte) (uint64, int, error) {
	var value uint64
	var shift uint
	for i := 0; i < len(buf); i++ {
		b := buf[i]
		if shift >= 64 {
			return 0, 0, ErrOverflow
		}
		payload := uint64(b & 0x7f)
		if shift == 63 && payload > 1 {
			return 0, 0, ErrOverflow
		}
		value |= payload << shift
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrMalformed
}
