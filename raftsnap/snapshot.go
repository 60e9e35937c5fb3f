package raftsnap

import (
	"encoding/binary"
	"fmt"
	"hash"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/gyuho/raftd/pkg/crcutil"
	"github.com/gyuho/raftd/pkg/fileutil"
)

// Status is the lifecycle status of a snapshot.
type Status uint8

const (
	// StatusPending is a snapshot being received or written; it is
	// staged in a temporary file and invisible to readers.
	StatusPending Status = iota

	// StatusPersisted is a pending snapshot whose bytes are durable.
	StatusPersisted

	// StatusComplete is the canonical snapshot for its id.
	StatusComplete

	// StatusDeleted is an aborted or superseded snapshot.
	StatusDeleted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusPersisted:
		return "PERSISTED"
	case StatusComplete:
		return "COMPLETE"
	case StatusDeleted:
		return "DELETED"
	default:
		panic("unknown Status")
	}
}

// snapshot file layout, little-endian:
//
//	data length (8) | crc (4) | data
//
// The header is zero while the snapshot is pending; Persist fills it
// in, so a crash mid-stream leaves a file that fails validation.
const snapshotHeaderN = 12

// Snapshot is one snapshot keyed by (id, index).
type Snapshot struct {
	store *Store

	id     uint64
	index  uint64
	status Status

	fpath string
	file  *os.File

	crc   hash.Hash32
	dataN uint64
}

func createSnapshot(st *Store, id, index uint64) (*Snapshot, error) {
	fpath := filepath.Join(st.dir, uuid.NewString()+".tmp")
	f, err := fileutil.OpenToOverwrite(fpath)
	if err != nil {
		return nil, err
	}
	if _, err = f.Write(make([]byte, snapshotHeaderN)); err != nil {
		f.Close()
		os.Remove(fpath)
		return nil, err
	}

	return &Snapshot{
		store:  st,
		id:     id,
		index:  index,
		status: StatusPending,
		fpath:  fpath,
		file:   f,
		crc:    crcutil.New(0, crcTable),
	}, nil
}

// ID returns the snapshot id.
func (s *Snapshot) ID() uint64 { return s.id }

// Index returns the log index the snapshot covers.
func (s *Snapshot) Index() uint64 { return s.index }

// Status returns the lifecycle status.
func (s *Snapshot) Status() Status { return s.status }

// Writer returns a scoped append writer for the pending snapshot.
// The writer must be closed before Persist; closing flushes nothing
// further, it only releases the scope.
func (s *Snapshot) Writer() (*Writer, error) {
	if s.status != StatusPending {
		return nil, ErrBadStatus
	}
	return &Writer{snap: s}, nil
}

// Persist writes the (length, crc) header and fsyncs, making the
// snapshot bytes durable.
func (s *Snapshot) Persist() error {
	if s.status != StatusPending {
		return ErrBadStatus
	}

	hd := make([]byte, snapshotHeaderN)
	binary.LittleEndian.PutUint64(hd[0:8], s.dataN)
	binary.LittleEndian.PutUint32(hd[8:12], s.crc.Sum32())
	if _, err := s.file.WriteAt(hd, 0); err != nil {
		return err
	}
	if err := fileutil.Fsync(s.file); err != nil {
		return err
	}

	s.status = StatusPersisted
	return nil
}

// Complete atomically renames the persisted snapshot into place as
// the canonical snapshot for its id. Complete snapshots of the same
// id at lower indexes are superseded and removed.
func (s *Snapshot) Complete() error {
	if s.status != StatusPersisted {
		return ErrBadStatus
	}

	fpath := filepath.Join(s.store.dir, snapshotName(s.id, s.index))
	if err := os.Rename(s.fpath, fpath); err != nil {
		return err
	}
	s.fpath = fpath
	s.status = StatusComplete

	s.store.markComplete(s)
	return nil
}

// Close closes the underlying file handle.
func (s *Snapshot) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Delete closes the snapshot and removes its file.
func (s *Snapshot) Delete() error {
	if s.status == StatusDeleted {
		return nil
	}
	s.Close()
	s.status = StatusDeleted
	if err := os.Remove(s.fpath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Data loads and validates the snapshot bytes. Only complete
// snapshots are readable.
func (s *Snapshot) Data() ([]byte, error) {
	if s.status != StatusComplete {
		return nil, ErrBadStatus
	}
	return loadFile(s.fpath)
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("[snapshot | id=%d | index=%d | status=%s]", s.id, s.index, s.status)
}

// Writer appends data to a pending snapshot. It is a scoped
// acquisition; callers must Close it when done with the chunk.
type Writer struct {
	snap   *Snapshot
	closed bool
}

// Write appends p to the snapshot, updating the running CRC.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrBadStatus
	}

	s := w.snap
	n, err := s.file.WriteAt(p, int64(snapshotHeaderN+s.dataN))
	s.crc.Write(p[:n])
	s.dataN += uint64(n)
	return n, err
}

// Close releases the writer scope.
func (w *Writer) Close() error {
	w.closed = true
	return nil
}

// loadFile reads a snapshot file and validates its header CRC.
func loadFile(fpath string) ([]byte, error) {
	b, err := os.ReadFile(fpath)
	if err != nil {
		return nil, err
	}
	if len(b) < snapshotHeaderN {
		return nil, ErrNoSnapshot
	}

	dataN := binary.LittleEndian.Uint64(b[0:8])
	crc := binary.LittleEndian.Uint32(b[8:12])
	data := b[snapshotHeaderN:]
	if uint64(len(data)) != dataN {
		return nil, ErrNoSnapshot
	}

	h := crcutil.New(0, crcTable)
	h.Write(data)
	if h.Sum32() != crc {
		return nil, ErrCRCMismatch
	}
	return data, nil
}
