package raftpb

import (
	"reflect"
	"testing"
)

func Test_Entry_Marshal_Unmarshal(t *testing.T) {
	tests := []struct {
		entry Entry

		wSize int
	}{
		{Entry{Index: 1, Term: 1, Type: ENTRY_TYPE_NOOP}, entryHeaderN},
		{Entry{Index: 7, Term: 3, Type: ENTRY_TYPE_COMMAND, Data: []byte("x")}, entryHeaderN + 1},
		{Entry{Index: 1<<40 + 5, Term: 1 << 33, Type: ENTRY_TYPE_CONFIGURATION, Data: make([]byte, 512)}, entryHeaderN + 512},
	}

	for i, tt := range tests {
		d := tt.entry.Marshal()
		if len(d) != tt.wSize {
			t.Fatalf("#%d: encoded size expected %d, got %d", i, tt.wSize, len(d))
		}
		if tt.entry.Size() != tt.wSize {
			t.Fatalf("#%d: Size expected %d, got %d", i, tt.wSize, tt.entry.Size())
		}

		var ent Entry
		if err := ent.Unmarshal(d); err != nil {
			t.Fatalf("#%d: Unmarshal error (%v)", i, err)
		}
		if len(tt.entry.Data) == 0 {
			tt.entry.Data = nil
		}
		if !reflect.DeepEqual(ent, tt.entry) {
			t.Fatalf("#%d: entry expected %+v, got %+v", i, tt.entry, ent)
		}
	}
}

func Test_Entry_Unmarshal_bad(t *testing.T) {
	tests := [][]byte{
		nil,
		make([]byte, entryHeaderN-1),
		(&Entry{Index: 1, Term: 1, Data: []byte("abc")}).Marshal()[:entryHeaderN+1], // truncated data
	}

	for i, d := range tests {
		var ent Entry
		if err := ent.Unmarshal(d); err != ErrBadEntryEncoding {
			t.Fatalf("#%d: error expected %v, got %v", i, ErrBadEntryEncoding, err)
		}
	}
}
