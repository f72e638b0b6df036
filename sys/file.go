// Package sys wraps the OS-level filesystem and locking primitives the
// storage layer depends on. Everything here operates on canonical paths
// and returns plain OS errors; callers attach operation context.
package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DirPerm is the mode for created entity directories.
const DirPerm = 0o755

// FilePerm is the mode for created bookkeeping files.
const FilePerm = 0o644

// CreateDir creates dir. It fails if dir already exists, so entity
// creation races resolve to exactly one winner.
func CreateDir(dir string) error {
	if IsDir(dir) {
		return fmt.Errorf("directory %s already exists", dir)
	}
	return os.Mkdir(dir, DirPerm)
}

// CreateEmptyFile creates an empty file, failing if it already exists.
// The create is synced so the marker survives a crash.
func CreateEmptyFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_SYNC, FilePerm)
	if err != nil {
		return err
	}
	return f.Close()
}

// WriteAppend appends data to path, creating it if needed. Writes are
// synchronous; a short write is reported as an error.
func WriteAppend(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE|os.O_SYNC, FilePerm)
	if err != nil {
		return err
	}
	n, err := f.Write(data)
	if err == nil && n != len(data) {
		err = fmt.Errorf("short write to %s: %d of %d bytes", path, n, len(data))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// WriteFileSync writes data to path, truncating any previous content,
// and syncs before closing.
func WriteFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePerm)
	if err != nil {
		return err
	}
	n, err := f.Write(data)
	if err == nil && n != len(data) {
		err = fmt.Errorf("short write to %s: %d of %d bytes", path, n, len(data))
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// WriteFileAtomic writes data to a temporary sibling of path, syncs it,
// and renames it over path. Readers see either the old or the new
// content, never a torn file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	n, err := tmp.Write(data)
	if err == nil && n != len(data) {
		err = fmt.Errorf("short write to %s: %d of %d bytes", tmpName, n, len(data))
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		os.Remove(tmpName)
	}
	return err
}

// SyncFile flushes a file's data to stable storage.
func SyncFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	err = f.Sync()
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadFile returns the full contents of path.
func ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// RemoveAll deletes path and everything under it.
func RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// Remove deletes a single file.
func Remove(path string) error {
	return os.Remove(path)
}

// Rename moves oldpath to newpath.
func Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// IsFile reports whether path exists and is a regular file.
func IsFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// FileSize returns the size of a regular file in bytes.
func FileSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// ListDir returns the names of the entries directly under dir, sorted.
func ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ListDirs returns the full paths of the directories directly under
// dir, sorted by name.
func ListDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	dirs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
