package raftlog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/gyuho/raftd/pkg/crcutil"
	"github.com/gyuho/raftd/pkg/fileutil"
	"github.com/gyuho/raftd/raftpb"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// record framing, little-endian:
//
//	data length (4) | running crc (4) | data
//
// The crc covers all record data written to the segment so far, so a
// torn or corrupted tail is detected when the chain breaks.
const recordFrameN = 8

// encodeRecord frames the entry for the segment's current CRC chain.
func encodeRecord(prevCRC uint32, ent *raftpb.Entry) (rec []byte, crc uint32) {
	data := ent.Marshal()

	h := crcutil.New(prevCRC, crcTable)
	h.Write(data)
	crc = h.Sum32()

	rec = make([]byte, recordFrameN+len(data))
	binary.LittleEndian.PutUint32(rec[0:4], uint32(len(data)))
	binary.LittleEndian.PutUint32(rec[4:8], crc)
	copy(rec[recordFrameN:], data)
	return rec, crc
}

// writeRecord appends the framed entry to the segment and fsyncs.
// On any failure the file is wound back to its pre-write offset,
// so the durable state never includes a partial record.
func (s *segment) writeRecord(ent *raftpb.Entry) (recN int64, err error) {
	rec, crc := encodeRecord(s.crc, ent)

	if _, err = s.file.WriteAt(rec, s.offset); err != nil {
		s.file.Truncate(s.offset)
		return 0, err
	}
	if err = fileutil.Fsync(s.file); err != nil {
		s.file.Truncate(s.offset)
		return 0, err
	}

	s.offset += int64(len(rec))
	s.crc = crc
	return int64(len(rec)), nil
}
