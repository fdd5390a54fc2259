package engine

import (
	"github.com/bobboyms/immux-go/pkg/instruction"
	"github.com/bobboyms/immux-go/pkg/txmanager"
	"github.com/bobboyms/immux-go/pkg/walog"
)

// replayResult is the product of replaying some prefix of the log: a
// fresh index and transaction manager, plus the number of records
// successfully applied.
type replayResult struct {
	index  *index
	txmgr  *txmanager.Manager
	height uint64
}

// replay sequentially applies records[0:prefixEnd] (the record at
// index prefixEnd is excluded; callers pass targetHeight+1 to include
// the record at targetHeight), rebuilding an index and transaction
// manager from scratch. A RevertAll encountered mid-replay recursively
// restarts the build on its own target prefix, limited to the records
// before it, then continues from the current position — this is what
// lets revert_all's effect compound correctly across nested reverts.
// It returns a *CorruptLogError if any record cannot be folded in
// consistently: a TransactionStart naming a tid already live, or a
// transactional op, commit or abort naming a tid that is not live.
func replay(records []walog.Record, prefixEnd int) (replayResult, error) {
	ix := newIndex()
	txmgr := txmanager.New()

	var height uint64
	for pos := 0; pos < prefixEnd; pos++ {
		rec := records[pos]
		if err := applyRecord(ix, txmgr, rec, records[:pos]); err != nil {
			return replayResult{}, err
		}
		height++
	}

	return replayResult{index: ix, txmgr: txmgr, height: height}, nil
}

// applyRecord folds a single record into ix/txmgr, exactly per the
// recovery load rules. It is shared between the initial open-time
// recovery load and the mid-stream RevertAll handling in replay.
// records holds the records that precede rec.
func applyRecord(ix *index, txmgr *txmanager.Manager, rec walog.Record, records []walog.Record) error {
	ptr := walog.Pointer{Offset: rec.Offset, Length: rec.Length}

	switch instr := rec.Instruction.(type) {
	case instruction.Set:
		ix.setCommitted(string(instr.Key), ptr)

	case instruction.RemoveOne:
		ix.setCommitted(string(instr.Key), ptr)

	case instruction.RevertOne:
		ix.setCommitted(string(instr.Key), ptr)

	case instruction.RemoveAll:
		ix.clearCommitted()

	case instruction.RevertAll:
		end := int(instr.TargetHeight) + 1
		if end > len(records) {
			end = len(records)
		}
		sub, err := replay(records, end)
		if err != nil {
			return err
		}
		*ix = *sub.index
		*txmgr = *sub.txmgr

	case instruction.TransactionStart:
		if err := txmgr.AdvanceTo(instr.TID); err != nil {
			return &CorruptLogError{Offset: rec.Offset, Cause: err}
		}

	case instruction.TransactionalSet:
		ix.setTentative(string(instr.Key), instr.TID, ptr)
		if err := txmgr.Touch(instr.TID, string(instr.Key)); err != nil {
			return &CorruptLogError{Offset: rec.Offset, Cause: err}
		}

	case instruction.TransactionalRemoveOne:
		ix.setTentative(string(instr.Key), instr.TID, ptr)
		if err := txmgr.Touch(instr.TID, string(instr.Key)); err != nil {
			return &CorruptLogError{Offset: rec.Offset, Cause: err}
		}

	case instruction.TransactionalRevertOne:
		ix.setTentative(string(instr.Key), instr.TID, ptr)
		if err := txmgr.Touch(instr.TID, string(instr.Key)); err != nil {
			return &CorruptLogError{Offset: rec.Offset, Cause: err}
		}

	case instruction.TransactionCommit:
		keys, err := txmgr.Affected(instr.TID)
		if err != nil {
			return &CorruptLogError{Offset: rec.Offset, Cause: err}
		}
		for _, key := range keys {
			ix.promoteTentative(key, instr.TID)
		}
		txmgr.Forget(instr.TID)

	case instruction.TransactionAbort:
		keys, err := txmgr.Affected(instr.TID)
		if err != nil {
			return &CorruptLogError{Offset: rec.Offset, Cause: err}
		}
		for _, key := range keys {
			ix.dropTentative(key, instr.TID)
		}
		txmgr.Forget(instr.TID)
	}

	return nil
}
