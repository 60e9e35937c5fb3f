package raft

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/gyuho/raftd/pkg/crcutil"
	"github.com/gyuho/raftd/pkg/fileutil"
	"github.com/gyuho/raftd/pkg/types"
)

// HardState is the replicated state a server must persist before
// responding to RPCs.
type HardState struct {
	Term     uint64
	VotedFor types.ID
}

var ErrBadHardState = errors.New("raft: bad hard state encoding")

const (
	metaFileName = "meta"

	// term (8) | voted for (8) | crc (4)
	hardStateN = 20
)

var metaCRCTable = crc32.MakeTable(crc32.Castagnoli)

// StableStore persists the HardState in a small metadata file.
// Writes go to a temporary file first and are renamed into place, so
// a crash leaves either the previous state or the new one.
type StableStore struct {
	fpath string
}

// NewStableStore returns a stable store writing to dir/meta.
func NewStableStore(dir string) (*StableStore, error) {
	if err := fileutil.TouchDirAll(dir); err != nil {
		return nil, err
	}
	return &StableStore{fpath: filepath.Join(dir, metaFileName)}, nil
}

// Load reads the persisted HardState; a missing file is an empty state.
func (s *StableStore) Load() (HardState, error) {
	b, err := os.ReadFile(s.fpath)
	if err != nil {
		if os.IsNotExist(err) {
			return HardState{}, nil
		}
		return HardState{}, err
	}
	if len(b) != hardStateN {
		return HardState{}, ErrBadHardState
	}

	h := crcutil.New(0, metaCRCTable)
	h.Write(b[:16])
	if h.Sum32() != binary.LittleEndian.Uint32(b[16:20]) {
		return HardState{}, ErrBadHardState
	}

	return HardState{
		Term:     binary.LittleEndian.Uint64(b[0:8]),
		VotedFor: types.ID(binary.LittleEndian.Uint64(b[8:16])),
	}, nil
}

// Save atomically persists the HardState.
func (s *StableStore) Save(st HardState) error {
	b := make([]byte, hardStateN)
	binary.LittleEndian.PutUint64(b[0:8], st.Term)
	binary.LittleEndian.PutUint64(b[8:16], uint64(st.VotedFor))

	h := crcutil.New(0, metaCRCTable)
	h.Write(b[:16])
	binary.LittleEndian.PutUint32(b[16:20], h.Sum32())

	return fileutil.WriteSyncRename(s.fpath, b, fileutil.PrivateFileMode)
}
