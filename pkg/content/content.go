// Package content implements UnitContent, the executor-level value
// representation stored as the opaque bytes behind each engine key: a
// self-describing tagged tree of Nil, Bool, Float64, String, Array,
// and Map values, plus a convenience parser for textual literals.
package content

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/bobboyms/immux-go/pkg/varint"
)

// Tag identifies a UnitContent variant on the wire.
type Tag byte

const (
	TagNil     Tag = 0x00
	TagBool    Tag = 0x01
	TagFloat64 Tag = 0x02
	TagString  Tag = 0x03
	TagArray   Tag = 0x04
	TagMap     Tag = 0x05
)

var (
	// ErrUnknownTag is returned when a tag byte does not match any
	// known UnitContent variant.
	ErrUnknownTag = errors.New("content: unknown tag byte")

	// ErrTruncated is returned when the buffer ends mid-field.
	ErrTruncated = errors.New("content: truncated content")
)

// Content is a UnitContent value. Absence is the Nil{} variant; a nil
// Content interface is not a variant, and Marshal panics on it.
type Content interface {
	tag() Tag
}

// Nil represents the absence of a value.
type Nil struct{}

func (Nil) tag() Tag { return TagNil }

// Bool is a boolean content value.
type Bool bool

func (Bool) tag() Tag { return TagBool }

// Float64 is a numeric content value.
type Float64 float64

func (Float64) tag() Tag { return TagFloat64 }

// String is a UTF-8 text content value.
type String string

func (String) tag() Tag { return TagString }

// Array is an ordered list of content values.
type Array []Content

func (Array) tag() Tag { return TagArray }

// Map is an ordered list of string-keyed content values. Order is
// preserved (it is a slice, not a Go map) so that Marshal is
// deterministic and round-trips exactly.
type Map []MapEntry

// MapEntry is a single key/value pair within a Map.
type MapEntry struct {
	Key   string
	Value Content
}

func (Map) tag() Tag { return TagMap }

// Marshal returns the canonical byte encoding of c.
func Marshal(c Content) []byte {
	buf := make([]byte, 0, 16)
	return appendContent(buf, c)
}

func appendContent(buf []byte, c Content) []byte {
	buf = append(buf, byte(c.tag()))

	switch v := c.(type) {
	case Nil:
		// no payload

	case Bool:
		if v {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}

	case Float64:
		var raw [8]byte
		binary.LittleEndian.PutUint64(raw[:], math.Float64bits(float64(v)))
		buf = append(buf, raw[:]...)

	case String:
		buf = varint.AppendEncode(buf, uint64(len(v)))
		buf = append(buf, v...)

	case Array:
		buf = varint.AppendEncode(buf, uint64(len(v)))
		for _, elem := range v {
			buf = appendContent(buf, elem)
		}

	case Map:
		buf = varint.AppendEncode(buf, uint64(len(v)))
		for _, entry := range v {
			buf = varint.AppendEncode(buf, uint64(len(entry.Key)))
			buf = append(buf, entry.Key...)
			buf = appendContent(buf, entry.Value)
		}

	default:
		panic(errors.AssertionFailedf("content: unhandled variant %T", c))
	}

	return buf
}

// Parse decodes a single Content value from the front of buf,
// returning the value and the number of bytes consumed.
func Parse(buf []byte) (Content, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrTruncated
	}

	tag := Tag(buf[0])
	pos := 1

	switch tag {
	case TagNil:
		return Nil{}, pos, nil

	case TagBool:
		if len(buf)-pos < 1 {
			return nil, 0, ErrTruncated
		}
		v := buf[pos] != 0
		pos++
		return Bool(v), pos, nil

	case TagFloat64:
		if len(buf)-pos < 8 {
			return nil, 0, ErrTruncated
		}
		bits := binary.LittleEndian.Uint64(buf[pos : pos+8])
		pos += 8
		return Float64(math.Float64frombits(bits)), pos, nil

	case TagString:
		length, n, err := varint.Decode(buf[pos:])
		if err != nil {
			return nil, 0, ErrTruncated
		}
		pos += n
		if uint64(len(buf)-pos) < length {
			return nil, 0, ErrTruncated
		}
		s := string(buf[pos : pos+int(length)])
		pos += int(length)
		return String(s), pos, nil

	case TagArray:
		count, n, err := varint.Decode(buf[pos:])
		if err != nil {
			return nil, 0, ErrTruncated
		}
		pos += n
		elems := make(Array, 0, count)
		for i := uint64(0); i < count; i++ {
			elem, m, err := Parse(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			pos += m
			elems = append(elems, elem)
		}
		return elems, pos, nil

	case TagMap:
		count, n, err := varint.Decode(buf[pos:])
		if err != nil {
			return nil, 0, ErrTruncated
		}
		pos += n
		entries := make(Map, 0, count)
		for i := uint64(0); i < count; i++ {
			keyLen, m, err := varint.Decode(buf[pos:])
			if err != nil {
				return nil, 0, ErrTruncated
			}
			pos += m
			if uint64(len(buf)-pos) < keyLen {
				return nil, 0, ErrTruncated
			}
			key := string(buf[pos : pos+int(keyLen)])
			pos += int(keyLen)

			value, m, err := Parse(buf[pos:])
			if err != nil {
				return nil, 0, err
			}
			pos += m

			entries = append(entries, MapEntry{Key: key, Value: value})
		}
		return entries, pos, nil

	default:
		return nil, 0, ErrUnknownTag
	}
}
