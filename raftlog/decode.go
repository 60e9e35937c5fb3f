package raftlog

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/gyuho/raftd/pkg/crcutil"
	"github.com/gyuho/raftd/raftpb"
)

// maxRecordBytes bounds a single decoded record, so a corrupted length
// field cannot trigger a huge allocation.
const maxRecordBytes = 64 * 1024 * 1024

// decodedRecord is one record read back from a segment file.
type decodedRecord struct {
	entry  raftpb.Entry
	offset int64 // record start offset in the segment file
	size   int64 // framed record size
	crc    uint32
}

// decodeSegment reads all valid records of the segment, resuming the
// CRC chain from zero. It stops at the first torn or CRC-mismatched
// record and returns validOffset, the offset following the last valid
// record; the caller drops the tail there.
func decodeSegment(s *segment) (recs []decodedRecord, validOffset int64, err error) {
	if _, err = s.file.Seek(segmentHeaderN, io.SeekStart); err != nil {
		return nil, 0, err
	}

	var (
		rd     = bufio.NewReader(s.file)
		offset = int64(segmentHeaderN)
		frame  [recordFrameN]byte
		crc    uint32
	)
	for {
		if _, err = io.ReadFull(rd, frame[:]); err != nil {
			if err == io.EOF {
				return recs, offset, nil
			}
			// torn frame header
			return recs, offset, nil
		}
		dataN := binary.LittleEndian.Uint32(frame[0:4])
		recCRC := binary.LittleEndian.Uint32(frame[4:8])
		if dataN == 0 || dataN > maxRecordBytes {
			return recs, offset, nil
		}

		data := make([]byte, dataN)
		if _, err = io.ReadFull(rd, data); err != nil {
			// torn data
			return recs, offset, nil
		}

		h := crcutil.New(crc, crcTable)
		h.Write(data)
		if h.Sum32() != recCRC {
			logger.Warningf("dropping tail of segment %q at offset %d: crc mismatch", s.file.Name(), offset)
			return recs, offset, nil
		}
		crc = recCRC

		var ent raftpb.Entry
		if err = ent.Unmarshal(data); err != nil {
			logger.Warningf("dropping tail of segment %q at offset %d: %v", s.file.Name(), offset, err)
			return recs, offset, nil
		}

		size := int64(recordFrameN) + int64(dataN)
		recs = append(recs, decodedRecord{entry: ent, offset: offset, size: size, crc: recCRC})
		offset += size
	}
}
