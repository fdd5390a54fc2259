package engine

import (
	"github.com/bobboyms/immux-go/pkg/instruction"
	"github.com/bobboyms/immux-go/pkg/walog"
)

// keyRecord is the per-key index entry: the committed slot and any
// live transactions' shadow slots. This is the re-architected shape
// the design notes recommend over a pure nested map-of-maps — one
// hashtable lookup per key instead of one per (key, slot) pair.
type keyRecord struct {
	committed *walog.Pointer
	tentative map[instruction.TransactionID]*walog.Pointer
}

// index maps keys to their keyRecord. It is owned exclusively by the
// engine's single request-processing goroutine and is never shared.
type index struct {
	entries map[string]*keyRecord
}

func newIndex() *index {
	return &index{entries: make(map[string]*keyRecord)}
}

func (ix *index) record(key string) *keyRecord {
	rec, ok := ix.entries[key]
	if !ok {
		rec = &keyRecord{}
		ix.entries[key] = rec
	}
	return rec
}

// setCommitted installs ptr as key's committed slot.
func (ix *index) setCommitted(key string, ptr walog.Pointer) {
	p := ptr
	ix.record(key).committed = &p
}

// setTentative installs ptr as key's shadow slot under tid.
func (ix *index) setTentative(key string, tid instruction.TransactionID, ptr walog.Pointer) {
	rec := ix.record(key)
	if rec.tentative == nil {
		rec.tentative = make(map[instruction.TransactionID]*walog.Pointer)
	}
	p := ptr
	rec.tentative[tid] = &p
}

// dropTentative removes key's shadow slot under tid, if any.
func (ix *index) dropTentative(key string, tid instruction.TransactionID) {
	rec, ok := ix.entries[key]
	if !ok {
		return
	}
	delete(rec.tentative, tid)
}

// promoteTentative moves key's shadow slot under tid into the
// committed slot, overwriting it.
func (ix *index) promoteTentative(key string, tid instruction.TransactionID) {
	rec, ok := ix.entries[key]
	if !ok {
		return
	}
	ptr, ok := rec.tentative[tid]
	if !ok {
		return
	}
	rec.committed = ptr
	delete(rec.tentative, tid)
}

// clearCommitted deletes every key's committed slot (used by
// remove_all). Tentative slots are left untouched.
func (ix *index) clearCommitted() {
	for _, rec := range ix.entries {
		rec.committed = nil
	}
}

// lookup resolves the slot for (key, tid) per the read rule: TID(tid)
// if present, else COMMITTED, else absent. If tid is set but has no
// shadow slot, it falls back to COMMITTED (a transaction reads
// committed state until it writes its own shadow).
func (ix *index) lookup(key string, tid *instruction.TransactionID) (walog.Pointer, bool) {
	rec, ok := ix.entries[key]
	if !ok {
		return walog.Pointer{}, false
	}
	if tid != nil {
		if ptr, ok := rec.tentative[*tid]; ok {
			return *ptr, true
		}
	}
	if rec.committed != nil {
		return *rec.committed, true
	}
	return walog.Pointer{}, false
}

// keys returns every key currently present in the index, in no
// particular order.
func (ix *index) keys() []string {
	out := make([]string, 0, len(ix.entries))
	for k := range ix.entries {
		out = append(out, k)
	}
	return out
}
