// Package fileutil implements utility functions on files and directories.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const (
	// PrivateFileMode grants owner to read/write a file.
	PrivateFileMode = 0600

	// PrivateDirMode grants owner to make/remove files inside the directory.
	PrivateDirMode = 0700
)

// OpenToRead opens a file for reads. Make sure to close the file.
func OpenToRead(fpath string) (*os.File, error) {
	return os.OpenFile(fpath, os.O_RDONLY, PrivateFileMode)
}

// OpenToOverwrite creates or opens a file for overwriting.
// Make sure to close the file.
func OpenToOverwrite(fpath string) (*os.File, error) {
	return os.OpenFile(fpath, os.O_RDWR|os.O_TRUNC|os.O_CREATE, PrivateFileMode)
}

// OpenToAppend opens a file for appends, creating it if it does not exist.
// Make sure to close the file.
func OpenToAppend(fpath string) (*os.File, error) {
	return os.OpenFile(fpath, os.O_RDWR|os.O_APPEND|os.O_CREATE, PrivateFileMode)
}

// ExistFileOrDir returns true if the path exists.
func ExistFileOrDir(fpath string) bool {
	_, err := os.Stat(fpath)
	return err == nil
}

// DirHasFiles returns true if the directory exists and contains any file.
func DirHasFiles(dir string) bool {
	names, err := ReadDir(dir)
	if err != nil {
		return false
	}
	return len(names) != 0
}

// MkdirAll creates the directory with PrivateDirMode, along with
// any necessary parents.
func MkdirAll(dir string) error {
	return os.MkdirAll(dir, PrivateDirMode)
}

// TouchDirAll is similar to MkdirAll but returns an error when the
// deepest directory is not writable.
func TouchDirAll(dir string) error {
	if err := os.MkdirAll(dir, PrivateDirMode); err != nil {
		return err
	}
	return IsDirWriteable(dir)
}

// IsDirWriteable checks if dir is writable by writing and removing a file.
func IsDirWriteable(dir string) error {
	f := filepath.Join(dir, ".touch")
	if err := os.WriteFile(f, []byte(""), PrivateFileMode); err != nil {
		return fmt.Errorf("%q is not writable (%v)", dir, err)
	}
	return os.Remove(f)
}

// ReadDir returns the file names in the directory, in sorted order.
func ReadDir(dir string) ([]string, error) {
	d, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer d.Close()

	names, err := d.Readdirnames(-1)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
