// Package instruction defines the eight logical instruction variants
// persisted in the append-only log and their binary wire format:
// a one-byte tag followed by the concatenation of the variant's
// fields, where a key or value is varint(len) || bytes(len) and a
// height or transaction id is a bare varint.
package instruction

import (
	"github.com/cockroachdb/errors"

	"github.com/bobboyms/immux-go/pkg/varint"
)

// Limits from the external interface (spec §6).
const (
	// MaxKeyLength is the largest key the engine will accept.
	MaxKeyLength = 4096

	// MaxTransactionID is the largest transaction identifier the
	// transaction manager will allocate.
	MaxTransactionID uint64 = 1<<63 - 1
)

// Tag identifies the instruction variant at the front of its encoding.
type Tag byte

const (
	TagSet                     Tag = 0x00
	TagRevertOne               Tag = 0x01
	TagRevertAll               Tag = 0x02
	TagRemoveOne               Tag = 0x03
	TagRemoveAll               Tag = 0x04
	TagTransactionStart        Tag = 0x10
	TagTransactionalSet        Tag = 0x11
	TagTransactionalRevertOne  Tag = 0x12
	TagTransactionalRemoveOne  Tag = 0x13
	TagTransactionCommit       Tag = 0x14
	TagTransactionAbort        Tag = 0x15
)

var (
	// ErrUnknownTag is returned when a tag byte does not match any
	// known instruction variant.
	ErrUnknownTag = errors.New("instruction: unknown tag byte")

	// ErrTruncated is returned when the buffer ends in the middle of
	// a field (a short key, a short value, or a missing varint).
	ErrTruncated = errors.New("instruction: truncated instruction")

	// ErrKeyTooLong is returned when an embedded key length exceeds
	// MaxKeyLength.
	ErrKeyTooLong = errors.New("instruction: key exceeds maximum length")
)

// TransactionID identifies a live or historical transaction.
type TransactionID uint64

// Height is the zero-based ordinal of an instruction in the log.
type Height uint64

// Instruction is the common interface implemented by all eight
// logical variants (eleven concrete Go types: transactional set,
// remove-one and revert-one are distinct wire shapes from their
// non-transactional counterparts).
type Instruction interface {
	// Tag returns the one-byte wire tag for this variant.
	Tag() Tag
}

// Set writes value under key outside any transaction.
type Set struct {
	Key   []byte
	Value []byte
}

func (Set) Tag() Tag { return TagSet }

// RemoveOne marks key as absent outside any transaction.
type RemoveOne struct {
	Key []byte
}

func (RemoveOne) Tag() Tag { return TagRemoveOne }

// RemoveAll clears every key's committed head pointer.
type RemoveAll struct{}

func (RemoveAll) Tag() Tag { return TagRemoveAll }

// RevertOne points key's committed head at the value key held at
// TargetHeight, resolved lazily by the reverse-walk resolver.
type RevertOne struct {
	Key          []byte
	TargetHeight Height
}

func (RevertOne) Tag() Tag { return TagRevertOne }

// RevertAll rewinds the entire store to TargetHeight.
type RevertAll struct {
	TargetHeight Height
}

func (RevertAll) Tag() Tag { return TagRevertAll }

// TransactionStart opens a new transaction identified by TID.
type TransactionStart struct {
	TID TransactionID
}

func (TransactionStart) Tag() Tag { return TagTransactionStart }

// TransactionalSet writes value under key in the shadow of
// transaction TID.
type TransactionalSet struct {
	Key   []byte
	Value []byte
	TID   TransactionID
}

func (TransactionalSet) Tag() Tag { return TagTransactionalSet }

// TransactionalRemoveOne marks key as absent in the shadow of
// transaction TID.
type TransactionalRemoveOne struct {
	Key []byte
	TID TransactionID
}

func (TransactionalRemoveOne) Tag() Tag { return TagTransactionalRemoveOne }

// TransactionalRevertOne points key's shadow pointer in transaction
// TID at the value it held at TargetHeight.
type TransactionalRevertOne struct {
	Key          []byte
	TargetHeight Height
	TID          TransactionID
}

func (TransactionalRevertOne) Tag() Tag { return TagTransactionalRevertOne }

// TransactionCommit promotes every TID shadow pointer to committed.
type TransactionCommit struct {
	TID TransactionID
}

func (TransactionCommit) Tag() Tag { return TagTransactionCommit }

// TransactionAbort discards every TID shadow pointer.
type TransactionAbort struct {
	TID TransactionID
}

func (TransactionAbort) Tag() Tag { return TagTransactionAbort }

// Serialize returns the canonical byte encoding of instr.
func Serialize(instr Instruction) []byte {
	buf := make([]byte, 0, 32)
	buf = append(buf, byte(instr.Tag()))

	switch v := instr.(type) {
	case Set:
		buf = appendKey(buf, v.Key)
		buf = appendValue(buf, v.Value)
	case RemoveOne:
		buf = appendKey(buf, v.Key)
	case RemoveAll:
		// no payload
	case RevertOne:
		buf = appendKey(buf, v.Key)
		buf = varint.AppendEncode(buf, uint64(v.TargetHeight))
	case RevertAll:
		buf = varint.AppendEncode(buf, uint64(v.TargetHeight))
	case TransactionStart:
		buf = varint.AppendEncode(buf, uint64(v.TID))
	case TransactionalSet:
		buf = appendKey(buf, v.Key)
		buf = appendValue(buf, v.Value)
		buf = varint.AppendEncode(buf, uint64(v.TID))
	case TransactionalRemoveOne:
		buf = appendKey(buf, v.Key)
		buf = varint.AppendEncode(buf, uint64(v.TID))
	case TransactionalRevertOne:
		buf = appendKey(buf, v.Key)
		buf = varint.AppendEncode(buf, uint64(v.TargetHeight))
		buf = varint.AppendEncode(buf, uint64(v.TID))
	case TransactionCommit:
		buf = varint.AppendEncode(buf, uint64(v.TID))
	case TransactionAbort:
		buf = varint.AppendEncode(buf, uint64(v.TID))
	default:
		panic(errors.AssertionFailedf("instruction: unhandled variant %T", instr))
	}

	return buf
}

func appendKey(buf, key []byte) []byte {
	buf = varint.AppendEncode(buf, uint64(len(key)))
	return append(buf, key...)
}

func appendValue(buf, value []byte) []byte {
	buf = varint.AppendEncode(buf, uint64(len(value)))
	return append(buf, value...)
}

// Parse decodes a single instruction from the front of buf, returning
// the instruction and the total number of bytes consumed.
func Parse(buf []byte) (Instruction, int, error) {
	if len(buf) == 0 {
		return nil, 0, ErrTruncated
	}

	tag := Tag(buf[0])
	pos := 1

	readKey := func() ([]byte, error) {
		length, n, err := varint.Decode(buf[pos:])
		if err != nil {
			return nil, ErrTruncated
		}
		pos += n
		if length > MaxKeyLength {
			return nil, ErrKeyTooLong
		}
		if uint64(len(buf)-pos) < length {
			return nil, ErrTruncated
		}
		key := buf[pos : pos+int(length)]
		pos += int(length)
		return key, nil
	}

	readValue := func() ([]byte, error) {
		length, n, err := varint.Decode(buf[pos:])
		if err != nil {
			return nil, ErrTruncated
		}
		pos += n
		if uint64(len(buf)-pos) < length {
			return nil, ErrTruncated
		}
		value := buf[pos : pos+int(length)]
		pos += int(length)
		return value, nil
	}

	readVarint := func() (uint64, error) {
		value, n, err := varint.Decode(buf[pos:])
		if err != nil {
			return 0, ErrTruncated
		}
		pos += n
		return value, nil
	}

	switch tag {
	case TagSet:
		key, err := readKey()
		if err != nil {
			return nil, 0, err
		}
		value, err := readValue()
		if err != nil {
			return nil, 0, err
		}
		return Set{Key: clone(key), Value: clone(value)}, pos, nil

	case TagRemoveOne:
		key, err := readKey()
		if err != nil {
			return nil, 0, err
		}
		return RemoveOne{Key: clone(key)}, pos, nil

	case TagRemoveAll:
		return RemoveAll{}, pos, nil

	case TagRevertOne:
		key, err := readKey()
		if err != nil {
			return nil, 0, err
		}
		height, err := readVarint()
		if err != nil {
			return nil, 0, err
		}
		return RevertOne{Key: clone(key), TargetHeight: Height(height)}, pos, nil

	case TagRevertAll:
		height, err := readVarint()
		if err != nil {
			return nil, 0, err
		}
		return RevertAll{TargetHeight: Height(height)}, pos, nil

	case TagTransactionStart:
		tid, err := readVarint()
		if err != nil {
			return nil, 0, err
		}
		return TransactionStart{TID: TransactionID(tid)}, pos, nil

	case TagTransactionalSet:
		key, err := readKey()
		if err != nil {
			return nil, 0, err
		}
		value, err := readValue()
		if err != nil {
			return nil, 0, err
		}
		tid, err := readVarint()
		if err != nil {
			return nil, 0, err
		}
		return TransactionalSet{Key: clone(key), Value: clone(value), TID: TransactionID(tid)}, pos, nil

	case TagTransactionalRemoveOne:
		key, err := readKey()
		if err != nil {
			return nil, 0, err
		}
		tid, err := readVarint()
		if err != nil {
			return nil, 0, err
		}
		return TransactionalRemoveOne{Key: clone(key), TID: TransactionID(tid)}, pos, nil

	case TagTransactionalRevertOne:
		key, err := readKey()
		if err != nil {
			return nil, 0, err
		}
		height, err := readVarint()
		if err != nil {
			return nil, 0, err
		}
		tid, err := readVarint()
		if err != nil {
			return nil, 0, err
		}
		return TransactionalRevertOne{Key: clone(key), TargetHeight: Height(height), TID: TransactionID(tid)}, pos, nil

	case TagTransactionCommit:
		tid, err := readVarint()
		if err != nil {
			return nil, 0, err
		}
		return TransactionCommit{TID: TransactionID(tid)}, pos, nil

	case TagTransactionAbort:
		tid, err := readVarint()
		if err != nil {
			return nil, 0, err
		}
		return TransactionAbort{TID: TransactionID(tid)}, pos, nil

	default:
		return nil, 0, ErrUnknownTag
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
