package raftlog

import (
	"github.com/gyuho/raftd/raftpb"
)

// Writer is the exclusive write view of a Log. Lock/Unlock span
// multi-entry operations; Append and Truncate acquire the writer
// lock themselves when called without it.
type Writer struct {
	log    *Log
	locked bool
}

// Lock takes the writer lock.
func (w *Writer) Lock() {
	w.log.wmu.Lock()
	w.locked = true
}

// Unlock releases the writer lock.
func (w *Writer) Unlock() {
	w.locked = false
	w.log.wmu.Unlock()
}

func (w *Writer) hold() func() {
	if w.locked {
		return func() {}
	}
	w.log.wmu.Lock()
	return w.log.wmu.Unlock
}

// Append writes the entry to the log and returns it as stored.
//
// An entry with Index zero is assigned the next index. A non-zero
// Index must fall within (0, lastIndex+1]: one past the last index
// appends; at an existing index with the same term the call is an
// idempotent no-op; at an existing index with a different term the
// log is truncated to Index-1 and the entry appended, discarding the
// conflicting tail. An index further ahead fails with ErrIndexGap.
func (w *Writer) Append(ent raftpb.Entry) (raftpb.Entry, error) {
	defer w.hold()()

	switch {
	case ent.Index == 0:
		ent.Index = w.log.lastIndex + 1

	case ent.Index > w.log.lastIndex+1:
		return raftpb.Entry{}, ErrIndexGap

	case ent.Index <= w.log.lastIndex:
		existing := w.log.getPosition(ent.Index)
		if existing == nil {
			logger.Panicf("no entry at index %d <= last index %d", ent.Index, w.log.lastIndex)
		}
		if existing.entry.Term == ent.Term {
			return existing.entry, nil
		}
		if err := w.log.truncate(ent.Index - 1); err != nil {
			return raftpb.Entry{}, err
		}
	}

	return w.log.appendEntry(ent)
}

// Truncate discards all entries with index greater than idx.
// Truncate(0) empties the log.
func (w *Writer) Truncate(idx uint64) error {
	defer w.hold()()
	return w.log.truncate(idx)
}

// LastIndex returns the index of the last entry, zero when empty.
func (w *Writer) LastIndex() uint64 {
	w.log.imu.RLock()
	idx := w.log.lastIndex
	w.log.imu.RUnlock()
	return idx
}
