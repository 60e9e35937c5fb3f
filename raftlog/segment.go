package raftlog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gyuho/raftd/pkg/fileutil"
)

const segmentFileSuffix = ".log"

// segment header layout, written once at file creation:
//
//	first index (8) | max entries (8) | max bytes (8)
const segmentHeaderN = 24

// segment is one file of the log. The last segment of a log is the
// only one appended to; earlier segments are immutable until truncated.
type segment struct {
	seq        uint64
	firstIndex uint64

	file *os.File

	// offset is the end-of-file write offset.
	offset int64

	// crc is the running CRC-32 of all record data in this segment.
	// Each segment restarts the chain at zero, so truncating one
	// segment never invalidates another.
	crc uint32
}

// segmentName returns the file name for (seq, firstIndex).
func segmentName(seq, firstIndex uint64) string {
	return fmt.Sprintf("%016x-%016x%s", seq, firstIndex, segmentFileSuffix)
}

// parseSegmentName parses a segment file name into (seq, firstIndex).
func parseSegmentName(name string) (seq, firstIndex uint64, err error) {
	if !strings.HasSuffix(name, segmentFileSuffix) {
		return 0, 0, fmt.Errorf("raftlog: bad segment name %q", name)
	}
	if _, err = fmt.Sscanf(name, "%016x-%016x"+segmentFileSuffix, &seq, &firstIndex); err != nil {
		return 0, 0, fmt.Errorf("raftlog: bad segment name %q (%v)", name, err)
	}
	return seq, firstIndex, nil
}

// createSegment creates a new segment file and writes its header.
func createSegment(dir string, seq, firstIndex, maxEntries, maxBytes uint64) (*segment, error) {
	fpath := filepath.Join(dir, segmentName(seq, firstIndex))
	f, err := fileutil.OpenToOverwrite(fpath)
	if err != nil {
		return nil, err
	}

	hd := make([]byte, segmentHeaderN)
	binary.LittleEndian.PutUint64(hd[0:8], firstIndex)
	binary.LittleEndian.PutUint64(hd[8:16], maxEntries)
	binary.LittleEndian.PutUint64(hd[16:24], maxBytes)
	if _, err = f.Write(hd); err != nil {
		f.Close()
		os.Remove(fpath)
		return nil, err
	}
	if err = fileutil.Fsync(f); err != nil {
		f.Close()
		os.Remove(fpath)
		return nil, err
	}

	return &segment{
		seq:        seq,
		firstIndex: firstIndex,
		file:       f,
		offset:     segmentHeaderN,
	}, nil
}

// openSegment opens an existing segment file and validates its header
// against the name.
func openSegment(dir, name string) (*segment, error) {
	seq, firstIndex, err := parseSegmentName(name)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR, fileutil.PrivateFileMode)
	if err != nil {
		return nil, err
	}

	hd := make([]byte, segmentHeaderN)
	if _, err = f.ReadAt(hd, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("raftlog: segment %q has a short header (%v)", name, err)
	}
	if hidx := binary.LittleEndian.Uint64(hd[0:8]); hidx != firstIndex {
		f.Close()
		return nil, fmt.Errorf("raftlog: segment %q header first index %d != %d", name, hidx, firstIndex)
	}

	return &segment{
		seq:        seq,
		firstIndex: firstIndex,
		file:       f,
		offset:     segmentHeaderN,
	}, nil
}

func (s *segment) close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// remove closes and deletes the segment file.
func (s *segment) remove() error {
	fpath := s.file.Name()
	if err := s.close(); err != nil {
		return err
	}
	return os.Remove(fpath)
}
