// Package storage is the storage manager of tilestore: it owns the
// open-array registry, creates and destroys the namespace entities
// (workspaces, groups, arrays, metadata), and coordinates fragment
// consolidation under the per-array filelock.
package storage

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/arraydb/tilestore/core"
	"github.com/arraydb/tilestore/hooks"
	"github.com/arraydb/tilestore/namespace"
	"github.com/arraydb/tilestore/paths"
	"github.com/arraydb/tilestore/schema"
	"github.com/arraydb/tilestore/sys"
)

// Consolidator materialises one new fragment covering the given
// fragments of an array. The new fragment must be complete on disk but
// unpublished: its visibility marker is written later, under the
// exclusive consolidation lock. fragment.Merger is the built-in
// implementation; query engines substitute their own.
type Consolidator interface {
	Consolidate(arrayDir string, fragments []string) (newFragment string, oldFragments []string, err error)
}

// Options configures a Manager. The zero value is usable: it logs
// through slog.Default, traces into a no-op provider, and consolidates
// with the built-in fragment merger.
type Options struct {
	Logger         *slog.Logger
	TracerProvider trace.TracerProvider
	Hooks          hooks.HookManager
	Consolidator   Consolidator
	Metrics        *Metrics

	// LockWarnThreshold is how long a consolidation filelock wait may
	// take before it is logged. Zero disables the warning.
	LockWarnThreshold time.Duration
}

// Manager is the storage manager façade. One instance owns the
// process's open-array registry; callers needing a singleton construct
// one at boot.
type Manager struct {
	logger       *slog.Logger
	tracer       trace.Tracer
	hooks        hooks.HookManager
	ownHooks     bool
	consolidator Consolidator
	metrics      *Metrics
	lockWarn     time.Duration

	// mu is the registry lock: it guards open, nextGen, finalized and
	// every refcount. It is never held across filesystem waits.
	mu        sync.Mutex
	open      map[string]*openArray
	nextGen   uint64
	finalized bool
}

// NewManager constructs a storage manager from opts.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage-manager")

	tp := opts.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	hm := opts.Hooks
	ownHooks := false
	if hm == nil {
		hm = hooks.NewHookManager(logger)
		ownHooks = true
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(false, "tilestore_")
	}

	m := &Manager{
		logger:       logger,
		tracer:       tp.Tracer("tilestore/storage"),
		hooks:        hm,
		ownHooks:     ownHooks,
		consolidator: opts.Consolidator,
		metrics:      metrics,
		lockWarn:     opts.LockWarnThreshold,
		open:         make(map[string]*openArray),
	}
	return m
}

// Metrics returns the manager's metrics set.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Finalize shuts the manager down. Every open array must have been
// finalized first; leftover entries are force-closed with a warning so
// their filelocks do not outlive the process's intent.
func (m *Manager) Finalize() error {
	m.mu.Lock()
	m.finalized = true
	leftovers := make([]*openArray, 0, len(m.open))
	for _, entry := range m.open {
		leftovers = append(leftovers, entry)
	}
	m.open = make(map[string]*openArray)
	m.mu.Unlock()

	for _, entry := range leftovers {
		m.logger.Warn("finalizing storage manager with open array", "path", entry.path, "refcount", entry.refcount)
		if entry.filelock != nil {
			if err := entry.filelock.Release(); err != nil {
				m.logger.Warn("failed to release consolidation filelock", "path", entry.path, "error", err)
			}
		}
	}
	if m.ownHooks {
		m.hooks.Stop()
	}
	return nil
}

// WorkspaceCreate creates a workspace directory at path. The parent
// must be a plain directory, not part of any storage hierarchy.
func (m *Manager) WorkspaceCreate(ctx context.Context, path string) error {
	return m.entityCreate(ctx, "workspace create", path, namespace.Workspace, nil)
}

// GroupCreate creates a group directory at path inside a workspace or
// another group.
func (m *Manager) GroupCreate(ctx context.Context, path string) error {
	return m.entityCreate(ctx, "group create", path, namespace.Group, nil)
}

// ArrayCreate creates the array described by s: its directory, the
// serialised schema and the empty consolidation lock file.
func (m *Manager) ArrayCreate(ctx context.Context, s *schema.ArraySchema) error {
	return m.entityCreate(ctx, "array create", s.ArrayName, namespace.Array, s)
}

// MetadataCreate creates the metadata entity described by s. Unlike an
// array, metadata may also live directly under an array.
func (m *Manager) MetadataCreate(ctx context.Context, s *schema.ArraySchema) error {
	return m.entityCreate(ctx, "metadata create", s.ArrayName, namespace.Metadata, s)
}

func (m *Manager) entityCreate(ctx context.Context, op, path string, kind namespace.Kind, s *schema.ArraySchema) error {
	ctx, span := m.tracer.Start(ctx, "Manager."+spanName(op))
	defer span.End()
	span.SetAttributes(attribute.String("tilestore.path", path), attribute.String("tilestore.kind", kind.String()))

	err := m.doCreate(ctx, op, path, kind, s)
	if err != nil {
		m.metrics.CreateErrorsTotal.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return err
	}
	m.metrics.CreatesTotal.Add(1)
	return nil
}

func (m *Manager) doCreate(ctx context.Context, op, path string, kind namespace.Kind, s *schema.ArraySchema) error {
	if s != nil {
		if err := s.Check(); err != nil {
			return err
		}
	}
	p, err := canonicalPath(op, path)
	if err != nil {
		return err
	}
	if err := m.hooks.Trigger(ctx, hooks.NewPreEntityCreateEvent(hooks.EntityCreatePayload{Path: p, Kind: kind})); err != nil {
		return err
	}

	err = m.createOnDisk(op, p, kind, s)
	if herr := m.hooks.Trigger(ctx, hooks.NewPostEntityCreateEvent(hooks.PostEntityCreatePayload{Path: p, Kind: kind, Error: err})); herr != nil {
		m.logger.Warn("post-create hook failed", "path", p, "error", herr)
	}
	if err == nil {
		m.logger.Debug("created entity", "kind", kind.String(), "path", p)
	}
	return err
}

func (m *Manager) createOnDisk(op, p string, kind namespace.Kind, s *schema.ArraySchema) error {
	if k := namespace.Classify(p); k != namespace.None {
		return core.Errorf(core.KindAlreadyExists, op, p, "path is already a %s", k)
	}
	if err := checkContainment(op, p, kind); err != nil {
		return err
	}

	created := false
	if !sys.IsDir(p) {
		if err := sys.CreateDir(p); err != nil {
			return core.WrapError(core.KindIO, op, p, err)
		}
		created = true
	}
	fail := func(err error) error {
		if created {
			_ = sys.RemoveAll(p)
		}
		return err
	}

	if s != nil {
		blob, err := s.Serialize()
		if err != nil {
			return fail(err)
		}
		if err := sys.WriteFileSync(filepath.Join(p, namespace.Marker(kind)), blob); err != nil {
			return fail(core.WrapError(core.KindIO, op, p, err))
		}
		if err := sys.CreateEmptyFile(filepath.Join(p, core.ConsolidationLockName)); err != nil {
			return fail(core.WrapError(core.KindIO, op, p, err))
		}
		return nil
	}

	if err := sys.CreateEmptyFile(filepath.Join(p, namespace.Marker(kind))); err != nil {
		return fail(core.WrapError(core.KindIO, op, p, err))
	}
	return nil
}

// LoadSchema reads and deserialises the schema of the array or
// metadata at dir.
func LoadSchema(dir string) (*schema.ArraySchema, error) {
	const op = "schema load"
	p, err := canonicalPath(op, dir)
	if err != nil {
		return nil, err
	}
	var marker string
	switch namespace.Classify(p) {
	case namespace.Array:
		marker = core.ArraySchemaFilename
	case namespace.Metadata:
		marker = core.MetadataSchemaFilename
	default:
		return nil, core.Errorf(core.KindNotFound, op, p, "path is not an array or metadata")
	}
	blob, err := sys.ReadFile(filepath.Join(p, marker))
	if err != nil {
		return nil, core.WrapError(core.KindIO, op, p, err)
	}
	return schema.Deserialize(blob)
}

// canonicalPath canonicalises a raw input path, rejecting what the
// path algebra cannot express.
func canonicalPath(op, path string) (string, error) {
	if len(path) > core.MaxPathLen {
		return "", core.Errorf(core.KindInvalidPath, op, path, "path exceeds %d bytes", core.MaxPathLen)
	}
	p := paths.Canonical(path)
	if p == "" {
		return "", core.Errorf(core.KindInvalidPath, op, path, "path cannot be canonicalised")
	}
	if len(p) > core.MaxNameLen {
		return "", core.Errorf(core.KindInvalidPath, op, path, "canonical path exceeds %d bytes", core.MaxNameLen)
	}
	return p, nil
}

// checkContainment enforces the containment table at p's parent: a
// workspace needs a plain directory, everything else needs the right
// kind of entity above it.
func checkContainment(op, p string, kind namespace.Kind) error {
	parent := paths.Parent(p)
	if parent == "" || !sys.IsDir(parent) {
		return core.Errorf(core.KindNotFound, op, p, "parent directory does not exist")
	}
	pk := namespace.Classify(parent)
	if kind == namespace.Workspace {
		if pk != namespace.None {
			return core.Errorf(core.KindContainment, op, p, "workspace cannot be created inside a %s", pk)
		}
		return nil
	}
	if !namespace.CanContain(pk, kind) {
		return core.Errorf(core.KindContainment, op, p, "%s cannot be created under a %s", kind, pk)
	}
	return nil
}

func spanName(op string) string {
	out := make([]byte, 0, len(op))
	upper := true
	for i := 0; i < len(op); i++ {
		c := op[i]
		if c == ' ' {
			upper = true
			continue
		}
		if upper && 'a' <= c && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper = false
		out = append(out, c)
	}
	return string(out)
}
