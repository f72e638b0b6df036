package storage

import (
	"context"
	"io"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/arraydb/tilestore/core"
	"github.com/arraydb/tilestore/fragment"
	"github.com/arraydb/tilestore/hooks"
	"github.com/arraydb/tilestore/namespace"
	"github.com/arraydb/tilestore/paths"
	"github.com/arraydb/tilestore/sys"
)

// Entry is one child of a listed directory.
type Entry struct {
	Name string
	Kind namespace.Kind
}

// DirType classifies the directory at path.
func (m *Manager) DirType(path string) namespace.Kind {
	p := paths.Canonical(path)
	if p == "" {
		return namespace.None
	}
	return namespace.Classify(p)
}

// Ls lists the storage entities directly under parent. Plain files and
// non-entity directories are skipped.
func (m *Manager) Ls(parent string) ([]Entry, error) {
	const op = "ls"
	p, err := canonicalPath(op, parent)
	if err != nil {
		return nil, err
	}
	if !sys.IsDir(p) {
		return nil, core.Errorf(core.KindNotFound, op, p, "directory does not exist")
	}
	dirs, err := sys.ListDirs(p)
	if err != nil {
		return nil, core.WrapError(core.KindIO, op, p, err)
	}
	entries := make([]Entry, 0, len(dirs))
	for _, dir := range dirs {
		if k := namespace.Classify(dir); k != namespace.None {
			entries = append(entries, Entry{Name: paths.Name(dir), Kind: k})
		}
	}
	m.metrics.LsTotal.Add(1)
	return entries, nil
}

// LsInto lists into a caller-provided buffer and returns the number of
// entries written. A too-small buffer is an IO error wrapping
// io.ErrShortBuffer.
func (m *Manager) LsInto(parent string, out []Entry) (int, error) {
	const op = "ls"
	entries, err := m.Ls(parent)
	if err != nil {
		return 0, err
	}
	if len(entries) > len(out) {
		return 0, core.WrapError(core.KindIO, op, parent, io.ErrShortBuffer)
	}
	return copy(out, entries), nil
}

// LsCount returns the number of storage entities directly under parent.
func (m *Manager) LsCount(parent string) (int, error) {
	entries, err := m.Ls(parent)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Move renames the entity at src to dst. The destination must not
// exist and its parent must satisfy the same containment rule as a
// create. For arrays and metadata the schema's embedded name is
// rewritten so the blob keeps naming its own directory.
func (m *Manager) Move(ctx context.Context, src, dst string) error {
	const op = "move"
	ctx, span := m.tracer.Start(ctx, "Manager.Move")
	defer span.End()
	span.SetAttributes(attribute.String("tilestore.src", src), attribute.String("tilestore.dst", dst))

	err := m.doMove(ctx, op, src, dst)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "move failed")
		return err
	}
	m.metrics.MovesTotal.Add(1)
	return nil
}

func (m *Manager) doMove(ctx context.Context, op, src, dst string) error {
	s, err := canonicalPath(op, src)
	if err != nil {
		return err
	}
	d, err := canonicalPath(op, dst)
	if err != nil {
		return err
	}
	kind := namespace.Classify(s)
	if kind == namespace.None || kind == namespace.Fragment {
		return core.Errorf(core.KindNotFound, op, s, "path is not a movable storage entity")
	}
	if m.isOpenUnder(s) {
		return core.Errorf(core.KindLock, op, s, "entity is open; finalize all handles before moving")
	}
	if sys.IsDir(d) || sys.IsFile(d) {
		return core.Errorf(core.KindAlreadyExists, op, d, "destination exists")
	}
	if err := checkContainment(op, d, kind); err != nil {
		return err
	}
	if err := m.hooks.Trigger(ctx, hooks.NewPreEntityMoveEvent(hooks.EntityMovePayload{Src: s, Dst: d, Kind: kind})); err != nil {
		return err
	}

	err = m.moveOnDisk(op, s, d, kind)
	if herr := m.hooks.Trigger(ctx, hooks.NewPostEntityMoveEvent(hooks.PostEntityMovePayload{Src: s, Dst: d, Kind: kind, Error: err})); herr != nil {
		m.logger.Warn("post-move hook failed", "path", s, "error", herr)
	}
	return err
}

func (m *Manager) moveOnDisk(op, s, d string, kind namespace.Kind) error {
	if err := sys.Rename(s, d); err != nil {
		return core.WrapError(core.KindIO, op, s, err)
	}
	if kind != namespace.Array && kind != namespace.Metadata {
		return nil
	}

	// Rewrite the embedded name. The new blob replaces the schema file
	// atomically so a crash leaves either the old or the new bytes.
	sch, err := LoadSchema(d)
	if err != nil {
		return err
	}
	sch.SetArrayName(d)
	blob, err := sch.Serialize()
	if err != nil {
		return err
	}
	if err := sys.WriteFileAtomic(filepath.Join(d, namespace.Marker(kind)), blob); err != nil {
		return core.WrapError(core.KindIO, op, d, err)
	}
	return nil
}

// Clear empties the entity at path while keeping the entity itself: a
// workspace or group loses its children, an array or metadata loses
// its fragments but keeps schema and lock file.
func (m *Manager) Clear(ctx context.Context, path string) error {
	return m.removeEntity(ctx, "clear", path, false)
}

// DeleteEntire removes the entity at path and its directory. Children
// of workspaces and groups must themselves be storage entities; a
// foreign directory in the tree aborts the operation.
func (m *Manager) DeleteEntire(ctx context.Context, path string) error {
	return m.removeEntity(ctx, "delete", path, true)
}

func (m *Manager) removeEntity(ctx context.Context, op, path string, entire bool) error {
	ctx, span := m.tracer.Start(ctx, "Manager."+spanName(op))
	defer span.End()
	span.SetAttributes(attribute.String("tilestore.path", path))

	err := m.doRemove(ctx, op, path, entire)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return err
	}
	m.metrics.DeletesTotal.Add(1)
	return nil
}

func (m *Manager) doRemove(ctx context.Context, op, path string, entire bool) error {
	p, err := canonicalPath(op, path)
	if err != nil {
		return err
	}
	kind := namespace.Classify(p)
	if kind == namespace.None || kind == namespace.Fragment {
		return core.Errorf(core.KindNotFound, op, p, "path is not a storage entity")
	}
	if m.isOpenUnder(p) {
		return core.Errorf(core.KindLock, op, p, "entity is open; finalize all handles first")
	}
	if err := m.hooks.Trigger(ctx, hooks.NewPreEntityDeleteEvent(hooks.EntityDeletePayload{Path: p, Kind: kind})); err != nil {
		return err
	}

	err = m.removeOnDisk(op, p, kind, entire)
	if herr := m.hooks.Trigger(ctx, hooks.NewPostEntityDeleteEvent(hooks.PostEntityDeletePayload{Path: p, Kind: kind, Error: err})); herr != nil {
		m.logger.Warn("post-delete hook failed", "path", p, "error", herr)
	}
	return err
}

func (m *Manager) removeOnDisk(op, p string, kind namespace.Kind, entire bool) error {
	switch kind {
	case namespace.Workspace, namespace.Group:
		if err := m.clearContainer(op, p); err != nil {
			return err
		}
	case namespace.Array, namespace.Metadata:
		if err := m.clearArrayDir(op, p); err != nil {
			return err
		}
	}
	if !entire {
		return nil
	}
	if err := sys.RemoveAll(p); err != nil {
		return core.WrapError(core.KindIO, op, p, err)
	}
	return nil
}

// clearContainer removes every entity under a workspace or group.
// Directories that are not storage entities abort the clear: the tree
// is not ours to delete.
func (m *Manager) clearContainer(op, p string) error {
	dirs, err := sys.ListDirs(p)
	if err != nil {
		return core.WrapError(core.KindIO, op, p, err)
	}
	for _, dir := range dirs {
		k := namespace.Classify(dir)
		switch k {
		case namespace.Group, namespace.Array, namespace.Metadata:
			if err := m.removeOnDisk(op, dir, k, true); err != nil {
				return err
			}
		default:
			return core.Errorf(core.KindIO, op, dir, "directory is not a storage entity")
		}
	}
	return nil
}

// clearArrayDir removes an array's or metadata's fragment directories
// and nested metadata, keeping the schema file and the consolidation
// lock. Unpublished fragment directories count as fragments, so
// consolidation orphans get cleaned up; any other directory aborts the
// clear, same as in a workspace or group.
func (m *Manager) clearArrayDir(op, p string) error {
	dirs, err := sys.ListDirs(p)
	if err != nil {
		return core.WrapError(core.KindIO, op, p, err)
	}
	for _, dir := range dirs {
		if namespace.Classify(dir) == namespace.Metadata {
			if err := m.removeOnDisk(op, dir, namespace.Metadata, true); err != nil {
				return err
			}
			continue
		}
		if _, err := fragment.Timestamp(dir); err != nil {
			return core.Errorf(core.KindIO, op, dir, "directory is not a storage entity")
		}
		if err := sys.RemoveAll(dir); err != nil {
			return core.WrapError(core.KindIO, op, dir, err)
		}
	}
	return nil
}
