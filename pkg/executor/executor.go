// Package executor is the thin translation facade between the
// higher-level UnitKey/UnitContent vocabulary and the engine's raw
// byte keys and values. It also provides a Worker, a single goroutine
// that front-ends can multiplex onto through a request channel; the
// engine itself holds a mutex in every public method, so direct calls
// are serialized too.
package executor

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/bobboyms/immux-go/internal/config"
	"github.com/bobboyms/immux-go/pkg/content"
	"github.com/bobboyms/immux-go/pkg/engine"
	"github.com/bobboyms/immux-go/pkg/instruction"
)

// UnitKey is the executor-level key type: a UTF-8 string, translated
// to the engine's raw byte keys at the boundary.
type UnitKey string

// Instruction is the higher-level view of a raw log instruction
// returned by InspectAll/InspectOne: the key as a UnitKey and the
// value as a parsed UnitContent rather than opaque bytes, wherever the
// underlying instruction carries one.
type Instruction struct {
	Kind   string
	Key    UnitKey
	Value  content.Content
	Height uint64
	TID    *instruction.TransactionID
}

// Executor wraps an Engine. Its methods can be called directly (as
// tests and CLI tools do) or through the request channel a Worker
// pulls from (see NewWorker).
type Executor struct {
	eng *engine.Engine
}

// Open opens the underlying engine per cfg.
func Open(cfg config.Config) (*Executor, error) {
	eng, err := engine.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Executor{eng: eng}, nil
}

// Close closes the underlying engine.
func (x *Executor) Close() error {
	return x.eng.Close()
}

// Set writes value under key, optionally within transaction tid.
func (x *Executor) Set(key UnitKey, value content.Content, tid *instruction.TransactionID) error {
	return x.eng.Set([]byte(key), content.Marshal(value), tid)
}

// Get returns the content at key, optionally viewed within
// transaction tid.
func (x *Executor) Get(key UnitKey, tid *instruction.TransactionID) (content.Content, bool, error) {
	raw, ok, err := x.eng.Get([]byte(key), tid)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	value, _, err := content.Parse(raw)
	if err != nil {
		return nil, false, errors.Wrap(err, "executor: parse stored content")
	}
	return value, true, nil
}

// RevertOne reverts key to the value it held at targetHeight,
// optionally within transaction tid.
func (x *Executor) RevertOne(key UnitKey, targetHeight uint64, tid *instruction.TransactionID) error {
	return x.eng.RevertOne([]byte(key), targetHeight, tid)
}

// RevertAll rewinds the whole store to targetHeight.
func (x *Executor) RevertAll(targetHeight uint64) error {
	return x.eng.RevertAll(targetHeight)
}

// RemoveOne marks key as absent, optionally within transaction tid.
func (x *Executor) RemoveOne(key UnitKey, tid *instruction.TransactionID) error {
	return x.eng.RemoveOne([]byte(key), tid)
}

// RemoveAll clears every key's committed slot.
func (x *Executor) RemoveAll() error {
	return x.eng.RemoveAll()
}

// StartTransaction allocates and returns a new transaction id.
func (x *Executor) StartTransaction() (instruction.TransactionID, error) {
	return x.eng.StartTransaction()
}

// CommitTransaction commits tid.
func (x *Executor) CommitTransaction(tid instruction.TransactionID) error {
	return x.eng.CommitTransaction(tid)
}

// AbortTransaction aborts tid.
func (x *Executor) AbortTransaction(tid instruction.TransactionID) error {
	return x.eng.AbortTransaction(tid)
}

// InspectAll returns the higher-level instruction view of the entire
// log, in log order.
func (x *Executor) InspectAll() ([]Instruction, error) {
	records, err := x.eng.InspectAll()
	if err != nil {
		return nil, err
	}
	return toInstructionView(records)
}

// InspectOne returns the higher-level instruction view of every
// record touching targetKey.
func (x *Executor) InspectOne(targetKey UnitKey) ([]Instruction, error) {
	records, err := x.eng.InspectOne([]byte(targetKey))
	if err != nil {
		return nil, err
	}
	return toInstructionView(records)
}

func toInstructionView(records []engine.InspectedRecord) ([]Instruction, error) {
	out := make([]Instruction, 0, len(records))
	for _, rec := range records {
		view, err := instructionToView(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

func instructionToView(rec engine.InspectedRecord) (Instruction, error) {
	height := rec.Height

	decodeValue := func(raw []byte) (content.Content, error) {
		v, _, err := content.Parse(raw)
		if err != nil {
			return nil, errors.Wrap(err, "executor: parse instruction payload as content")
		}
		return v, nil
	}

	switch instr := rec.Instruction.(type) {
	case instruction.Set:
		v, err := decodeValue(instr.Value)
		if err != nil {
			return Instruction{}, err
		}
		return Instruction{Kind: "Set", Key: UnitKey(instr.Key), Value: v, Height: height}, nil

	case instruction.RemoveOne:
		return Instruction{Kind: "RemoveOne", Key: UnitKey(instr.Key), Height: height}, nil

	case instruction.RemoveAll:
		return Instruction{Kind: "RemoveAll", Height: height}, nil

	case instruction.RevertOne:
		return Instruction{Kind: "RevertOne", Key: UnitKey(instr.Key), Height: height}, nil

	case instruction.RevertAll:
		return Instruction{Kind: "RevertAll", Height: height}, nil

	case instruction.TransactionStart:
		tid := instr.TID
		return Instruction{Kind: "TransactionStart", Height: height, TID: &tid}, nil

	case instruction.TransactionalSet:
		v, err := decodeValue(instr.Value)
		if err != nil {
			return Instruction{}, err
		}
		tid := instr.TID
		return Instruction{Kind: "TransactionalSet", Key: UnitKey(instr.Key), Value: v, Height: height, TID: &tid}, nil

	case instruction.TransactionalRemoveOne:
		tid := instr.TID
		return Instruction{Kind: "TransactionalRemoveOne", Key: UnitKey(instr.Key), Height: height, TID: &tid}, nil

	case instruction.TransactionalRevertOne:
		tid := instr.TID
		return Instruction{Kind: "TransactionalRevertOne", Key: UnitKey(instr.Key), Height: height, TID: &tid}, nil

	case instruction.TransactionCommit:
		tid := instr.TID
		return Instruction{Kind: "TransactionCommit", Height: height, TID: &tid}, nil

	case instruction.TransactionAbort:
		tid := instr.TID
		return Instruction{Kind: "TransactionAbort", Height: height, TID: &tid}, nil

	default:
		return Instruction{}, errors.Newf("executor: unrecognized instruction type %T", rec.Instruction)
	}
}

// traceID returns a time-ordered unique identifier for a single
// request, attached to channel messages for diagnostics only — it is
// never persisted to the log.
func traceID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return ""
	}
	return id.String()
}
