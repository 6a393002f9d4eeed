package fs

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	PrivateFileMode = 0600
	PrivateDirMode  = 0700
)

// FileExists checks if a given file exists (is accessible) and if it is indeed a file
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirExists checks if a given directory exists (is accessible)
func DirExists(dirname string) bool {
	info, err := os.Stat(dirname)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// ReadString reads a string from a file, removing end-of-line and trimming spaces
func ReadString(filename string) (string, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return "", err
	}
	return strings.Trim(string(data), " \t\r\n"), nil
}

// EnsureParentDir creates the parent directory of path with owner-only permissions
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, PrivateDirMode)
}

// WritePrivateFile writes data to path via a temporary file and rename, with
// owner-only permissions; a reader never observes a partially written file
func WritePrivateFile(path string, data []byte) error {
	if err := EnsureParentDir(path); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Chmod(PrivateFileMode); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
