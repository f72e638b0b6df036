// Package fragment handles fragment directories: naming, chronological
// ordering, visibility markers and per-fragment book-keeping. A
// fragment is one write batch under an array; readers see it iff its
// marker file exists.
package fragment

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arraydb/tilestore/core"
	"github.com/arraydb/tilestore/sys"
)

// NewName returns a fresh fragment directory name of the form
// __<uuid>_<timestamp_ms>. The trailing timestamp orders fragments.
func NewName() string {
	return fmt.Sprintf("__%s_%d", uuid.New().String(), time.Now().UnixMilli())
}

// Timestamp extracts the creation timestamp embedded in a fragment
// path. Malformed names are an error, never a silent zero: they mean
// the array directory is damaged.
func Timestamp(path string) (int64, error) {
	const op = "fragment name"
	base := filepath.Base(path)
	if !strings.HasPrefix(base, "__") {
		return 0, core.Errorf(core.KindInvalidPath, op, path, "missing __ prefix")
	}
	i := strings.LastIndexByte(base, '_')
	ts, err := strconv.ParseInt(base[i+1:], 10, 64)
	if err != nil {
		return 0, core.Errorf(core.KindInvalidPath, op, path, "malformed timestamp %q", base[i+1:])
	}
	return ts, nil
}

// SortPaths orders fragment paths by ascending embedded timestamp,
// stably, so equal stamps keep their discovery order.
func SortPaths(fragments []string) error {
	type stamped struct {
		path string
		ts   int64
	}
	ss := make([]stamped, len(fragments))
	for i, p := range fragments {
		ts, err := Timestamp(p)
		if err != nil {
			return err
		}
		ss[i] = stamped{path: p, ts: ts}
	}
	sort.SliceStable(ss, func(i, j int) bool { return ss[i].ts < ss[j].ts })
	for i := range ss {
		fragments[i] = ss[i].path
	}
	return nil
}

// CreateMarker publishes the fragment by writing its marker file.
func CreateMarker(dir string) error {
	return sys.CreateEmptyFile(filepath.Join(dir, core.FragmentFilename))
}

// RemoveMarker hides the fragment from reads that start afterwards.
func RemoveMarker(dir string) error {
	return sys.Remove(filepath.Join(dir, core.FragmentFilename))
}

// HasMarker reports whether the fragment is published.
func HasMarker(dir string) bool {
	return sys.IsFile(filepath.Join(dir, core.FragmentFilename))
}

// IsFragment reports whether dir is a published fragment directory.
func IsFragment(dir string) bool {
	return sys.IsDir(dir) && HasMarker(dir)
}

// IsDense reports whether the fragment holds dense data: a fragment is
// sparse iff it carries a coordinates file.
func IsDense(dir string) bool {
	return !sys.IsFile(filepath.Join(dir, core.CoordsName+core.FileSuffix))
}
