// Package crcutil provides utility functions for cyclic redundancy check algorithms.
// CRCs are designed to protect against common types of errors between communications,
// where they can provide assurance of data integrity.
package crcutil

import (
	"hash"
	"hash/crc32"
)

// Size is the size of a CRC-32 checksum in bytes.
const Size = 4

type digest struct {
	crc uint32
	tab *crc32.Table
}

// New creates a new hash.Hash32 computing the CRC-32 checksum using the
// polynomial represented by the Table. It differs from the standard
// crc32.New in that it accepts a previous checksum, so that a CRC can be
// resumed across records and files.
func New(prev uint32, tab *crc32.Table) hash.Hash32 {
	return &digest{prev, tab}
}

func (d *digest) Size() int { return Size }

func (d *digest) BlockSize() int { return 1 }

func (d *digest) Reset() { d.crc = 0 }

func (d *digest) Write(p []byte) (n int, err error) {
	d.crc = crc32.Update(d.crc, d.tab, p)
	return len(p), nil
}

func (d *digest) Sum32() uint32 { return d.crc }

func (d *digest) Sum(in []byte) []byte {
	s := d.Sum32()
	return append(in, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}
