// Package raftsnap implements the content-addressed snapshot store.
//
// Snapshots are keyed by (id, index) and move through a staged
// lifecycle: a created snapshot is pending and written to a temporary
// file; Persist makes its bytes durable; Complete atomically renames
// it into place as the canonical snapshot for its id, superseding
// complete snapshots at lower indexes. A snapshot that is not complete
// is invisible to readers.
package raftsnap

import (
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gyuho/raftd/pkg/fileutil"
	"github.com/gyuho/raftd/pkg/xlog"
)

var logger = xlog.NewLogger("raftsnap", xlog.INFO)

const (
	snapshotFileSuffix = ".snap"
	brokenFileSuffix   = ".broken"
)

var (
	ErrNoSnapshot  = errors.New("raftsnap: no available snapshot")
	ErrCRCMismatch = errors.New("raftsnap: crc mismatch")
	ErrBadStatus   = errors.New("raftsnap: bad snapshot status")

	crcTable = crc32.MakeTable(crc32.Castagnoli)
)

// Store contains the directory where snapshot files exist.
type Store struct {
	mu  sync.Mutex
	dir string

	// complete maps snapshot id to its canonical (highest-index
	// complete) snapshot.
	complete map[uint64]*Snapshot
}

// NewStore opens the snapshot directory, creating it when absent, and
// loads existing complete snapshots. Files that fail CRC validation
// are renamed aside with a .broken suffix.
func NewStore(dir string) (*Store, error) {
	if err := fileutil.TouchDirAll(dir); err != nil {
		return nil, err
	}
	st := &Store{
		dir:      dir,
		complete: make(map[uint64]*Snapshot),
	}

	names, err := fileutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if !strings.HasSuffix(name, snapshotFileSuffix) {
			continue
		}
		id, index, err := parseSnapshotName(name)
		if err != nil {
			logger.Warningf("skipping unexpected file %q (%v)", name, err)
			continue
		}

		fpath := filepath.Join(dir, name)
		if _, err := loadFile(fpath); err != nil {
			logger.Errorf("renaming corrupt snapshot %q aside (%v)", name, err)
			os.Rename(fpath, fpath+brokenFileSuffix)
			continue
		}

		snap := &Snapshot{store: st, id: id, index: index, status: StatusComplete, fpath: fpath}
		if cur, ok := st.complete[id]; !ok || cur.index < index {
			st.complete[id] = snap
		}
	}
	return st, nil
}

// CreateSnapshot creates a new pending snapshot at (id, index),
// staged in a temporary file invisible to readers.
func (st *Store) CreateSnapshot(id, index uint64) (*Snapshot, error) {
	return createSnapshot(st, id, index)
}

// GetSnapshot returns the canonical complete snapshot for id.
func (st *Store) GetSnapshot(id uint64) (*Snapshot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	snap, ok := st.complete[id]
	return snap, ok
}

// Snapshots returns every canonical complete snapshot.
func (st *Store) Snapshots() []*Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	snaps := make([]*Snapshot, 0, len(st.complete))
	for _, snap := range st.complete {
		snaps = append(snaps, snap)
	}
	return snaps
}

// markComplete registers the snapshot as canonical for its id and
// removes the superseded one, if any.
func (st *Store) markComplete(snap *Snapshot) {
	st.mu.Lock()
	prev, ok := st.complete[snap.id]
	if !ok || prev.index < snap.index {
		st.complete[snap.id] = snap
	} else {
		ok = false
	}
	st.mu.Unlock()

	if ok && prev.fpath != snap.fpath {
		if err := os.Remove(prev.fpath); err != nil && !os.IsNotExist(err) {
			logger.Warningf("failed to remove superseded snapshot %q (%v)", prev.fpath, err)
		}
		prev.status = StatusDeleted
	}
}

func snapshotName(id, index uint64) string {
	return fmt.Sprintf("%016x-%016x%s", id, index, snapshotFileSuffix)
}

func parseSnapshotName(name string) (id, index uint64, err error) {
	if _, err = fmt.Sscanf(name, "%016x-%016x"+snapshotFileSuffix, &id, &index); err != nil {
		return 0, 0, fmt.Errorf("raftsnap: bad snapshot name %q (%v)", name, err)
	}
	return id, index, nil
}
