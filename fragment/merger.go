package fragment

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/arraydb/tilestore/coords"
	"github.com/arraydb/tilestore/core"
	"github.com/arraydb/tilestore/sys"
)

// Merger is the built-in consolidation engine. It materialises a new
// fragment by concatenating the data files of the inputs in
// chronological order and merging their book-keeping. Query engines
// with real tile layouts substitute their own implementation; the
// contract is the same: build the fragment, leave the marker unwritten.
type Merger struct {
	logger *slog.Logger
}

// NewMerger returns a Merger logging through the given logger.
func NewMerger(logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{logger: logger.With("component", "fragment-merger")}
}

// Consolidate builds one new fragment from the given fragments, which
// must already be in chronological order. It returns the new fragment
// directory (unpublished: no marker yet) and the inputs it covered.
func (m *Merger) Consolidate(arrayDir string, fragments []string) (string, []string, error) {
	if len(fragments) == 0 {
		return "", nil, fmt.Errorf("no fragments to consolidate in %s", arrayDir)
	}

	newDir := filepath.Join(arrayDir, NewName())
	if err := sys.CreateDir(newDir); err != nil {
		return "", nil, err
	}

	if err := m.build(newDir, fragments); err != nil {
		_ = sys.RemoveAll(newDir)
		return "", nil, err
	}

	m.logger.Debug("materialised consolidated fragment",
		"fragment", filepath.Base(newDir), "inputs", len(fragments))
	return newDir, fragments, nil
}

func (m *Merger) build(newDir string, fragments []string) error {
	merged, err := mergeBookKeeping(newDir, fragments)
	if err != nil {
		return err
	}

	names, err := dataFileNames(fragments)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := concatFiles(filepath.Join(newDir, name), fragments, name); err != nil {
			return err
		}
	}
	return merged.Flush()
}

// mergeBookKeeping folds the inputs' book-keeping into one: cell counts
// add up, bounding rectangles union, and the result is dense only if
// every input is.
func mergeBookKeeping(newDir string, fragments []string) (*BookKeeping, error) {
	merged := &BookKeeping{FragmentPath: newDir, Dense: true}
	for _, frag := range fragments {
		bk := &BookKeeping{FragmentPath: frag}
		if err := bk.Load(); err != nil {
			return nil, err
		}
		merged.CellNum += bk.CellNum
		if !bk.Dense {
			merged.Dense = false
			if merged.MBR == nil {
				merged.MBR = append([]float64(nil), bk.MBR...)
			} else if len(bk.MBR) != len(merged.MBR) {
				return nil, core.Errorf(core.KindIO, "fragment merge", frag,
					"book-keeping carries %d MBR bounds, want %d", len(bk.MBR), len(merged.MBR))
			} else {
				coords.UnionMBR(merged.MBR, bk.MBR)
			}
		}
	}
	return merged, nil
}

// dataFileNames returns the union of data file basenames across the
// fragments, excluding the marker and book-keeping files, in a stable
// order.
func dataFileNames(fragments []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, frag := range fragments {
		names, err := sys.ListDir(frag)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			if name == core.FragmentFilename || name == core.BookKeepingFilename {
				continue
			}
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func concatFiles(dst string, fragments []string, name string) error {
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_APPEND|os.O_SYNC, sys.FilePerm)
	if err != nil {
		return err
	}
	for _, frag := range fragments {
		src := filepath.Join(frag, name)
		if !sys.IsFile(src) {
			continue
		}
		in, err := os.Open(src)
		if err != nil {
			out.Close()
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			return err
		}
	}
	return out.Close()
}
