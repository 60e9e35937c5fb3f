package fileutil

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestReadDir(t *testing.T) {
	dir := t.TempDir()
	files := []string{"def", "abc", "xyz", "ghi"}
	for _, f := range files {
		if err := WriteSync(filepath.Join(dir, f), []byte("test"), PrivateFileMode); err != nil {
			t.Fatal(err)
		}
	}

	names, err := ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	wNames := []string{"abc", "def", "ghi", "xyz"}
	if !reflect.DeepEqual(names, wNames) {
		t.Fatalf("names expected %v, got %v", wNames, names)
	}
}

func TestWriteSyncRename(t *testing.T) {
	dir := t.TempDir()
	fpath := filepath.Join(dir, "meta")

	if err := WriteSyncRename(fpath, []byte("first"), PrivateFileMode); err != nil {
		t.Fatal(err)
	}
	if err := WriteSyncRename(fpath, []byte("second"), PrivateFileMode); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(fpath)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "second" {
		t.Fatalf("contents expected 'second', got %q", string(b))
	}

	// no temporary file must be left behind
	if ExistFileOrDir(fpath + ".tmp") {
		t.Fatal("temporary file still exists")
	}
}

func TestTouchDirAll(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "c")
	if err := TouchDirAll(dir); err != nil {
		t.Fatal(err)
	}
	if !ExistFileOrDir(dir) {
		t.Fatalf("expected %q to exist", dir)
	}
	if DirHasFiles(dir) {
		t.Fatalf("expected %q to be empty", dir)
	}
}
