package storage

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/arraydb/tilestore/core"
	"github.com/arraydb/tilestore/fragment"
	"github.com/arraydb/tilestore/hooks"
	"github.com/arraydb/tilestore/namespace"
	"github.com/arraydb/tilestore/schema"
	"github.com/arraydb/tilestore/sys"
)

// openArray is one registry entry: the shared in-memory state of an
// opened array or metadata. The schema, fragment list and book-keeping
// are immutable after the first open; refcount is guarded by the
// registry lock; loading is serialised by the entry lock.
type openArray struct {
	path       string
	kind       namespace.Kind
	generation uint64

	// refcount is guarded by the Manager's registry lock.
	refcount int

	// entryMu serialises first-open loading. It is held, with the
	// registry lock already released, while the shared filelock is
	// acquired, so a consolidation in its exclusive phase blocks
	// first-openers of this array without stalling the registry.
	entryMu sync.Mutex

	loaded      bool
	schema      *schema.ArraySchema
	fragments   []string
	bookKeeping []*fragment.BookKeeping
	filelock    *sys.FileLock
}

// Array is a stable handle to an open entry: the canonical path plus
// the entry's generation. Operations re-look-up the entry and verify
// the generation, so use-after-finalize fails cleanly instead of
// touching freed state.
type Array struct {
	m          *Manager
	path       string
	generation uint64
	mode       core.Mode
}

// Path returns the canonical array path.
func (a *Array) Path() string { return a.path }

// Mode returns the mode the handle was opened with.
func (a *Array) Mode() core.Mode { return a.mode }

// Schema returns the array's schema. The schema is owned by the
// registry entry and must not be mutated.
func (a *Array) Schema() (*schema.ArraySchema, error) {
	e, err := a.entry()
	if err != nil {
		return nil, err
	}
	return e.schema, nil
}

// Fragments returns the array's visible fragment directories in
// chronological order.
func (a *Array) Fragments() ([]string, error) {
	e, err := a.entry()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), e.fragments...), nil
}

// BookKeeping returns the per-fragment book-keeping, index-aligned
// with Fragments.
func (a *Array) BookKeeping() ([]*fragment.BookKeeping, error) {
	e, err := a.entry()
	if err != nil {
		return nil, err
	}
	return append([]*fragment.BookKeeping(nil), e.bookKeeping...), nil
}

func (a *Array) entry() (*openArray, error) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	e := a.m.open[a.path]
	if e == nil || e.generation != a.generation {
		return nil, core.Errorf(core.KindRegistryMissing, "array access", a.path, "handle is closed")
	}
	return e, nil
}

// ArrayOpen opens the array at path. The first opener per path takes
// the shared consolidation filelock, enumerates fragments and loads
// schema and book-keeping; later openers share that state.
func (m *Manager) ArrayOpen(ctx context.Context, path string, mode core.Mode) (*Array, error) {
	return m.openKind(ctx, "array open", path, namespace.Array, mode)
}

// MetadataOpen opens the metadata entity at path.
func (m *Manager) MetadataOpen(ctx context.Context, path string, mode core.Mode) (*Array, error) {
	return m.openKind(ctx, "metadata open", path, namespace.Metadata, mode)
}

func (m *Manager) openKind(ctx context.Context, op, path string, kind namespace.Kind, mode core.Mode) (*Array, error) {
	ctx, span := m.tracer.Start(ctx, "Manager."+spanName(op))
	defer span.End()
	span.SetAttributes(attribute.String("tilestore.path", path), attribute.String("tilestore.mode", mode.String()))
	start := time.Now()

	arr, err := m.doOpen(ctx, op, path, kind, mode)
	if err != nil {
		m.metrics.OpenErrorsTotal.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return nil, err
	}
	m.metrics.OpensTotal.Add(1)
	m.metrics.ObserveOpen(time.Since(start).Seconds())
	return arr, nil
}

func (m *Manager) doOpen(ctx context.Context, op, path string, kind namespace.Kind, mode core.Mode) (*Array, error) {
	p, err := canonicalPath(op, path)
	if err != nil {
		return nil, err
	}
	if k := namespace.Classify(p); k != kind {
		return nil, core.Errorf(core.KindNotFound, op, p, "path is not a %s", kind)
	}
	if err := m.hooks.Trigger(ctx, hooks.NewPreArrayOpenEvent(hooks.ArrayOpenPayload{Path: p, Mode: mode})); err != nil {
		return nil, err
	}

	entry, err := m.pin(op, p, kind)
	if err != nil {
		return nil, err
	}

	// First-open loading happens under the entry lock with the
	// registry lock released: concurrent first-opens of different
	// arrays proceed in parallel, openers of this array queue here.
	entry.entryMu.Lock()
	if !entry.loaded {
		if lerr := m.loadEntry(op, entry); lerr != nil {
			entry.entryMu.Unlock()
			m.unpin(entry)
			m.triggerPostOpen(ctx, p, mode, 0, lerr)
			return nil, lerr
		}
		entry.loaded = true
	}
	fragmentNum := len(entry.fragments)
	entry.entryMu.Unlock()

	m.triggerPostOpen(ctx, p, mode, fragmentNum, nil)
	return &Array{m: m, path: p, generation: entry.generation, mode: mode}, nil
}

func (m *Manager) triggerPostOpen(ctx context.Context, p string, mode core.Mode, fragmentNum int, err error) {
	herr := m.hooks.Trigger(ctx, hooks.NewPostArrayOpenEvent(hooks.PostArrayOpenPayload{
		Path: p, Mode: mode, FragmentNum: fragmentNum, Error: err,
	}))
	if herr != nil {
		m.logger.Warn("post-open hook failed", "path", p, "error", herr)
	}
}

// pin finds or creates the registry entry for p and takes a reference.
func (m *Manager) pin(op, p string, kind namespace.Kind) (*openArray, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalized {
		return nil, core.Errorf(core.KindIO, op, p, "storage manager is finalized")
	}
	entry := m.open[p]
	if entry == nil {
		m.nextGen++
		entry = &openArray{path: p, kind: kind, generation: m.nextGen}
		m.open[p] = entry
	}
	entry.refcount++
	return entry, nil
}

// unpin drops one reference and erases the entry when it was the last,
// releasing the shared filelock with it.
func (m *Manager) unpin(entry *openArray) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.refcount--
	if entry.refcount > 0 {
		return
	}
	if entry.filelock != nil {
		if err := entry.filelock.Release(); err != nil {
			m.logger.Warn("failed to release consolidation filelock", "path", entry.path, "error", err)
		}
		entry.filelock = nil
	}
	delete(m.open, entry.path)
}

// loadEntry performs the first-open work for entry. Called with the
// entry lock held and the registry lock released.
func (m *Manager) loadEntry(op string, entry *openArray) error {
	lockPath := filepath.Join(entry.path, core.ConsolidationLockName)
	start := time.Now()
	fl, err := sys.AcquireFileLock(lockPath, sys.LockShared)
	if err != nil {
		return core.WrapError(core.KindLock, op, entry.path, err)
	}
	if wait := time.Since(start); m.lockWarn > 0 && wait > m.lockWarn {
		m.logger.Warn("slow consolidation filelock acquisition", "path", entry.path, "wait", wait)
	}
	fail := func(err error) error {
		_ = fl.Release()
		return err
	}

	children, err := sys.ListDirs(entry.path)
	if err != nil {
		return fail(core.WrapError(core.KindIO, op, entry.path, err))
	}
	fragments := children[:0]
	for _, child := range children {
		if fragment.IsFragment(child) {
			fragments = append(fragments, child)
		}
	}
	if err := fragment.SortPaths(fragments); err != nil {
		return fail(err)
	}

	blob, err := sys.ReadFile(filepath.Join(entry.path, namespace.Marker(entry.kind)))
	if err != nil {
		return fail(core.WrapError(core.KindIO, op, entry.path, err))
	}
	sch, err := schema.Deserialize(blob)
	if err != nil {
		return fail(err)
	}

	bks := make([]*fragment.BookKeeping, len(fragments))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, frag := range fragments {
		i, frag := i, frag
		g.Go(func() error {
			bk := &fragment.BookKeeping{FragmentPath: frag}
			if err := bk.Load(); err != nil {
				return err
			}
			bks[i] = bk
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	entry.schema = sch
	entry.fragments = append([]string(nil), fragments...)
	entry.bookKeeping = bks
	entry.filelock = fl
	return nil
}

// ArrayFinalize closes a handle returned by ArrayOpen or MetadataOpen.
// Write-mode handles are synced first. The last close erases the
// registry entry and drops the shared consolidation filelock.
func (m *Manager) ArrayFinalize(ctx context.Context, a *Array) error {
	const op = "array finalize"
	_, span := m.tracer.Start(ctx, "Manager.ArrayFinalize")
	defer span.End()
	span.SetAttributes(attribute.String("tilestore.path", a.path))

	var syncErr error
	if a.mode == core.ModeWrite {
		syncErr = m.ArraySync(a)
	}

	if err := m.close(op, a); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "close failed")
		return err
	}
	m.metrics.ClosesTotal.Add(1)
	if herr := m.hooks.Trigger(ctx, hooks.NewPostArrayCloseEvent(hooks.ArrayClosePayload{Path: a.path})); herr != nil {
		m.logger.Warn("post-close hook failed", "path", a.path, "error", herr)
	}
	if syncErr != nil {
		span.RecordError(syncErr)
		span.SetStatus(codes.Error, "sync failed")
	}
	return syncErr
}

func (m *Manager) close(op string, a *Array) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := m.open[a.path]
	if entry == nil || entry.generation != a.generation {
		return core.Errorf(core.KindRegistryMissing, op, a.path, "no open entry for path")
	}
	entry.refcount--
	if entry.refcount > 0 {
		return nil
	}
	delete(m.open, a.path)
	if entry.filelock != nil {
		if err := entry.filelock.Release(); err != nil {
			return core.WrapError(core.KindLock, op, a.path, err)
		}
		entry.filelock = nil
	}
	return nil
}

// ArraySync flushes every data file in the array's fragment
// directories to stable storage, published or not.
func (m *Manager) ArraySync(a *Array) error {
	const op = "array sync"
	if _, err := a.entry(); err != nil {
		return err
	}
	dirs, err := sys.ListDirs(a.path)
	if err != nil {
		return core.WrapError(core.KindIO, op, a.path, err)
	}
	for _, dir := range dirs {
		names, err := sys.ListDir(dir)
		if err != nil {
			return core.WrapError(core.KindIO, op, dir, err)
		}
		for _, name := range names {
			file := filepath.Join(dir, name)
			if !sys.IsFile(file) {
				continue
			}
			if err := sys.SyncFile(file); err != nil {
				return core.WrapError(core.KindIO, op, file, err)
			}
		}
	}
	return nil
}

// ArraySyncAttribute flushes one attribute's data file in every
// fragment directory of the array.
func (m *Manager) ArraySyncAttribute(a *Array, attr string) error {
	const op = "array sync attribute"
	if _, err := a.entry(); err != nil {
		return err
	}
	dirs, err := sys.ListDirs(a.path)
	if err != nil {
		return core.WrapError(core.KindIO, op, a.path, err)
	}
	name := attr + core.FileSuffix
	for _, dir := range dirs {
		file := filepath.Join(dir, name)
		if !sys.IsFile(file) {
			continue
		}
		if err := sys.SyncFile(file); err != nil {
			return core.WrapError(core.KindIO, op, file, err)
		}
	}
	return nil
}

// openNum returns the number of registry entries; used by shutdown
// diagnostics and tests.
func (m *Manager) openNum() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

// isOpenUnder reports whether any open entry lives at or below p.
func (m *Manager) isOpenUnder(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := p + "/"
	for path := range m.open {
		if path == p || len(path) > len(prefix) && path[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
