package raftlog

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/gyuho/raftd/pkg/fileutil"
	"github.com/gyuho/raftd/raftpb"
)

var (
	// ErrIndexGap is returned when an append names an index more than
	// one past the last index.
	ErrIndexGap = errors.New("raftlog: index gap")

	// ErrClosed is returned on operations against a closed log.
	ErrClosed = errors.New("raftlog: log closed")
)

const (
	// DefaultMaxSegmentEntries is the default number of entries per segment.
	DefaultMaxSegmentEntries = 1024 * 32

	// DefaultMaxSegmentBytes is the default byte size per segment.
	DefaultMaxSegmentBytes = 16 * 1024 * 1024

	btreeDegree = 32
)

// position locates one entry; the btree item of the log's index.
type position struct {
	entry raftpb.Entry

	seq    uint64 // owning segment
	offset int64  // record start offset in the segment file
	size   int64  // framed record size
	crc    uint32 // running segment crc after this record
}

func (p *position) Less(than btree.Item) bool {
	return p.entry.Index < than.(*position).entry.Index
}

// Log is the segmented on-disk entry log. A Log hands out Writers and
// Readers; writes through any Writer are serialized by the single
// writer lock, reads go to the in-memory index and never block writes.
type Log struct {
	wmu sync.Mutex // the writer lock; held across Lock/Unlock

	// imu guards index, segments, and lastIndex. Held only for the
	// short map/tree updates, never across disk I/O for readers.
	imu sync.RWMutex

	dir        string
	maxEntries uint64
	maxBytes   uint64

	segments  []*segment // ascending by seq; last is the append target
	index     *btree.BTree
	lastIndex uint64

	closed bool
}

// Open opens the log directory, creating it when absent, and replays
// existing segments to rebuild the index. A torn or corrupted record
// ends the replay; the tail after it is dropped.
func Open(dir string, maxEntries, maxBytes uint64) (*Log, error) {
	if maxEntries == 0 {
		maxEntries = DefaultMaxSegmentEntries
	}
	if maxBytes == 0 {
		maxBytes = DefaultMaxSegmentBytes
	}
	if err := fileutil.TouchDirAll(dir); err != nil {
		return nil, err
	}

	l := &Log{
		dir:        dir,
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		index:      btree.New(btreeDegree),
	}

	names, err := fileutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if !strings.HasSuffix(name, segmentFileSuffix) {
			continue
		}
		s, err := openSegment(dir, name)
		if err != nil {
			l.closeSegments()
			return nil, err
		}
		l.segments = append(l.segments, s)
	}

	if len(l.segments) == 0 {
		s, err := createSegment(dir, 1, 1, maxEntries, maxBytes)
		if err != nil {
			return nil, err
		}
		l.segments = []*segment{s}
		return l, nil
	}

	if err := l.replay(); err != nil {
		l.closeSegments()
		return nil, err
	}
	return l, nil
}

// replay decodes every segment in order. The first segment with a
// dropped tail orphans all later segments; they are removed so the
// log stays dense.
func (l *Log) replay() error {
	for i := 0; i < len(l.segments); i++ {
		s := l.segments[i]
		recs, validOffset, err := decodeSegment(s)
		if err != nil {
			return err
		}

		for _, rec := range recs {
			l.index.ReplaceOrInsert(&position{
				entry:  rec.entry,
				seq:    s.seq,
				offset: rec.offset,
				size:   rec.size,
				crc:    rec.crc,
			})
			l.lastIndex = rec.entry.Index
		}
		s.offset = validOffset
		if len(recs) > 0 {
			s.crc = recs[len(recs)-1].crc
		}

		tornTail := false
		if fi, err := s.file.Stat(); err == nil && fi.Size() > validOffset {
			tornTail = true
			if err := s.file.Truncate(validOffset); err != nil {
				return err
			}
			if err := fileutil.Fsync(s.file); err != nil {
				return err
			}
		}

		if tornTail && i+1 < len(l.segments) {
			logger.Warningf("removing %d segment(s) after torn segment %q", len(l.segments)-i-1, s.file.Name())
			for _, orphan := range l.segments[i+1:] {
				if err := orphan.remove(); err != nil {
					return err
				}
			}
			l.segments = l.segments[:i+1]
			break
		}
	}
	return nil
}

func (l *Log) closeSegments() {
	for _, s := range l.segments {
		s.close()
	}
}

// Close fsyncs and closes all segment files.
func (l *Log) Close() error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	l.imu.Lock()
	defer l.imu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	var err error
	for _, s := range l.segments {
		if s.file != nil {
			if e := fileutil.Fsync(s.file); e != nil && err == nil {
				err = e
			}
		}
		if e := s.close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Writer returns the log's writer view.
func (l *Log) Writer() *Writer { return &Writer{log: l} }

// Reader returns a reader view over the log.
func (l *Log) Reader() *Reader { return &Reader{log: l} }

// active returns the append-target segment.
func (l *Log) active() *segment { return l.segments[len(l.segments)-1] }

// appendEntry writes the entry at lastIndex+1, rolling the segment
// first when the active one is full. Callers hold wmu.
func (l *Log) appendEntry(ent raftpb.Entry) (raftpb.Entry, error) {
	if l.closed {
		return raftpb.Entry{}, ErrClosed
	}

	s := l.active()
	entryN := l.lastIndex + 1 - s.firstIndex
	if entryN >= l.maxEntries || uint64(s.offset) >= l.maxBytes {
		next, err := createSegment(l.dir, s.seq+1, l.lastIndex+1, l.maxEntries, l.maxBytes)
		if err != nil {
			return raftpb.Entry{}, err
		}
		l.imu.Lock()
		l.segments = append(l.segments, next)
		l.imu.Unlock()
		s = next
	}

	offset := s.offset
	size, err := s.writeRecord(&ent)
	if err != nil {
		return raftpb.Entry{}, err
	}

	l.imu.Lock()
	l.index.ReplaceOrInsert(&position{
		entry:  ent,
		seq:    s.seq,
		offset: offset,
		size:   size,
		crc:    s.crc,
	})
	l.lastIndex = ent.Index
	l.imu.Unlock()
	return ent, nil
}

// truncate discards all entries with index > idx. Callers hold wmu.
func (l *Log) truncate(idx uint64) error {
	if l.closed {
		return ErrClosed
	}
	if idx >= l.lastIndex {
		return nil
	}

	// locate the first entry to discard
	var first *position
	l.index.AscendGreaterOrEqual(&position{entry: raftpb.Entry{Index: idx + 1}}, func(it btree.Item) bool {
		first = it.(*position)
		return false
	})
	if first == nil {
		return nil
	}

	// wind the owning segment back to the discard point and drop
	// every later segment
	keep := -1
	for i, s := range l.segments {
		if s.seq == first.seq {
			keep = i
			break
		}
	}
	if keep == -1 {
		logger.Panicf("no segment %d for entry %d", first.seq, first.entry.Index)
	}

	s := l.segments[keep]
	if err := s.file.Truncate(first.offset); err != nil {
		return err
	}
	if err := fileutil.Fsync(s.file); err != nil {
		return err
	}
	for _, orphan := range l.segments[keep+1:] {
		if err := orphan.remove(); err != nil {
			return err
		}
	}

	s.offset = first.offset
	s.crc = 0
	if last := l.getPosition(idx); last != nil && last.seq == s.seq {
		s.crc = last.crc
	}

	l.imu.Lock()
	l.segments = l.segments[:keep+1]
	for it := l.index.Max(); it != nil && it.(*position).entry.Index > idx; it = l.index.Max() {
		l.index.Delete(it)
	}
	l.lastIndex = idx
	l.imu.Unlock()
	return nil
}

func (l *Log) getPosition(idx uint64) *position {
	it := l.index.Get(&position{entry: raftpb.Entry{Index: idx}})
	if it == nil {
		return nil
	}
	return it.(*position)
}
