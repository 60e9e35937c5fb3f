package raftlog

import (
	"github.com/google/btree"

	"github.com/gyuho/raftd/raftpb"
)

// Reader is a shared read view of a Log. Reads are served from the
// in-memory index and are linearizable with respect to the writer
// lock: a read observes every append and truncate that completed
// before it started.
type Reader struct {
	log *Log
}

// Get returns the entry at idx.
func (r *Reader) Get(idx uint64) (raftpb.Entry, bool) {
	r.log.imu.RLock()
	defer r.log.imu.RUnlock()

	it := r.log.index.Get(&position{entry: raftpb.Entry{Index: idx}})
	if it == nil {
		return raftpb.Entry{}, false
	}
	return it.(*position).entry, true
}

// LastIndex returns the index of the last entry, zero when empty.
func (r *Reader) LastIndex() uint64 {
	r.log.imu.RLock()
	idx := r.log.lastIndex
	r.log.imu.RUnlock()
	return idx
}

// Cursor returns a forward cursor positioned at start.
func (r *Reader) Cursor(start uint64) *Cursor {
	return &Cursor{log: r.log, next: start}
}

// Cursor iterates entries in ascending index order. Each Next call
// re-reads the index, so a cursor remains valid across concurrent
// appends and truncates; it simply stops when the next index is gone.
type Cursor struct {
	log  *Log
	next uint64
}

// Next returns the entry at the cursor and advances it.
func (c *Cursor) Next() (raftpb.Entry, bool) {
	c.log.imu.RLock()
	defer c.log.imu.RUnlock()

	var (
		ent   raftpb.Entry
		found bool
	)
	c.log.index.AscendGreaterOrEqual(&position{entry: raftpb.Entry{Index: c.next}}, func(it btree.Item) bool {
		ent = it.(*position).entry
		found = true
		return false
	})
	if !found {
		return raftpb.Entry{}, false
	}
	c.next = ent.Index + 1
	return ent, true
}
