// Package raftlog implements the segmented, append-only replicated log.
//
// The log is a directory of segment files. Each segment starts with a
// fixed header (first index, max entries, max bytes) and is followed by
// length-prefixed entry records chained with a running CRC-32. Appends
// go to the last segment; when a segment reaches its entry or byte
// limit the log rolls to a new one. An in-memory btree maps entry index
// to its segment position, so reads never touch the disk and never
// block the writer.
package raftlog
