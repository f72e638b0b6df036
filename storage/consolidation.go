package storage

import (
	"context"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/arraydb/tilestore/core"
	"github.com/arraydb/tilestore/fragment"
	"github.com/arraydb/tilestore/hooks"
	"github.com/arraydb/tilestore/namespace"
	"github.com/arraydb/tilestore/sys"
)

// ArrayConsolidate merges all visible fragments of the array at path
// into one. The merge runs under a shared consolidation lock alongside
// readers; the visibility swap runs under the exclusive lock, draining
// readers first. Arrays with fewer than two fragments are left alone.
func (m *Manager) ArrayConsolidate(ctx context.Context, path string) error {
	return m.consolidate(ctx, "array consolidate", path, namespace.Array)
}

// MetadataConsolidate merges all visible fragments of the metadata
// entity at path into one.
func (m *Manager) MetadataConsolidate(ctx context.Context, path string) error {
	return m.consolidate(ctx, "metadata consolidate", path, namespace.Metadata)
}

func (m *Manager) consolidate(ctx context.Context, op, path string, kind namespace.Kind) error {
	ctx, span := m.tracer.Start(ctx, "Manager."+spanName(op))
	defer span.End()
	span.SetAttributes(attribute.String("tilestore.path", path))
	start := time.Now()

	err := m.doConsolidate(ctx, op, path, kind)
	if err != nil {
		m.metrics.ConsolidationErrorsTotal.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		return err
	}
	m.metrics.ConsolidationsTotal.Add(1)
	m.metrics.ObserveConsolidation(time.Since(start).Seconds())
	return nil
}

func (m *Manager) doConsolidate(ctx context.Context, op, path string, kind namespace.Kind) error {
	p, err := canonicalPath(op, path)
	if err != nil {
		return err
	}
	if k := namespace.Classify(p); k != kind {
		return core.Errorf(core.KindNotFound, op, p, "path is not a %s", kind)
	}
	if err := m.hooks.Trigger(ctx, hooks.NewPreConsolidationEvent(hooks.ConsolidationPayload{Path: p})); err != nil {
		return err
	}
	start := time.Now()

	newFragment, oldFragments, err := m.consolidateMerge(ctx, op, p, kind)
	if herr := m.hooks.Trigger(ctx, hooks.NewPostConsolidationEvent(hooks.PostConsolidationPayload{
		Path: p, NewFragment: newFragment, OldFragments: oldFragments,
		Duration: time.Since(start), Error: err,
	})); herr != nil {
		m.logger.Warn("post-consolidation hook failed", "path", p, "error", herr)
	}
	if err != nil {
		return err
	}
	if newFragment == "" {
		// Nothing to merge.
		return nil
	}
	m.metrics.FragmentsConsolidatedTotal.Add(int64(len(oldFragments)))
	m.logger.Info("consolidated fragments",
		"path", p, "merged", len(oldFragments), "fragment", filepath.Base(newFragment))
	return nil
}

// consolidateMerge runs steps 1-4 of the consolidation protocol: open
// shared, build the new fragment, close, then swap visibility under
// the exclusive lock. Both the close and the finalisation must succeed
// for the operation to report success.
func (m *Manager) consolidateMerge(ctx context.Context, op, p string, kind namespace.Kind) (string, []string, error) {
	arr, err := m.openKind(ctx, op, p, kind, core.ModeRead)
	if err != nil {
		return "", nil, err
	}
	fragments, err := arr.Fragments()
	if err != nil {
		_ = m.ArrayFinalize(ctx, arr)
		return "", nil, err
	}
	if len(fragments) < 2 {
		return "", nil, m.ArrayFinalize(ctx, arr)
	}

	consolidator := m.consolidator
	if consolidator == nil {
		consolidator = fragment.NewMerger(m.logger)
	}
	newFragment, oldFragments, err := consolidator.Consolidate(p, fragments)
	if err != nil {
		// No visible state change yet; the reader lock goes with the close.
		_ = m.ArrayFinalize(ctx, arr)
		return "", nil, core.WrapError(core.KindIO, op, p, err)
	}

	closeErr := m.ArrayFinalize(ctx, arr)
	finalizeErr := m.consolidationFinalize(op, p, newFragment, oldFragments)
	if closeErr != nil {
		return newFragment, oldFragments, closeErr
	}
	return newFragment, oldFragments, finalizeErr
}

// consolidationFinalize swaps fragment visibility: under the exclusive
// filelock it publishes the new fragment's marker, then removes the old
// markers. Old directories are only deleted after the lock is dropped;
// pre-existing readers keep valid descriptors into them (POSIX unlink
// semantics), and a directory without a marker is invisible to every
// open that starts later.
func (m *Manager) consolidationFinalize(op, arrayDir, newFragment string, oldFragments []string) error {
	lock, err := sys.AcquireFileLock(filepath.Join(arrayDir, core.ConsolidationLockName), sys.LockExclusive)
	if err != nil {
		return core.WrapError(core.KindLock, op, arrayDir, err)
	}

	if err := fragment.CreateMarker(newFragment); err != nil {
		// The new fragment never became visible; old fragments are
		// untouched, so the array state is unchanged.
		_ = lock.Release()
		return core.WrapError(core.KindIO, op, newFragment, err)
	}

	for i, old := range oldFragments {
		if err := fragment.RemoveMarker(old); err != nil {
			_ = lock.Release()
			return core.Errorf(core.KindPartialConsolidation, op, arrayDir,
				"new fragment %s is visible but only %d of %d old fragments were hidden: %v",
				filepath.Base(newFragment), i, len(oldFragments), err)
		}
	}

	if err := lock.Release(); err != nil {
		m.logger.Warn("failed to release exclusive consolidation lock", "path", arrayDir, "error", err)
	}

	// Unmarked directories are already invisible; removal failures
	// leave harmless orphans.
	for _, old := range oldFragments {
		if err := sys.RemoveAll(old); err != nil {
			m.logger.Warn("orphaned consolidated fragment directory", "path", old, "error", err)
		}
	}
	return nil
}
