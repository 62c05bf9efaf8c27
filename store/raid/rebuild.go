package raid

import (
	"bytes"
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/poolfs/poolfs/store"
	"github.com/poolfs/poolfs/store/meta"
)

// TriggerRebuild starts the engine's rebuild task unless one is
// already running, and reports whether a new one was started. The
// whole engine runs at most one rebuild at a time, a trigger while
// one is in flight is skipped, not queued.
func (e *Engine) TriggerRebuild(ctx context.Context) bool {
	if !atomic.CompareAndSwapInt32(&e.rebuilding, 0, 1) {
		rebuildSkipsTotal.Inc()
		store.Debugf(e, "rebuild already running, trigger skipped")
		return false
	}
	started := e.tasks.Go("rebuild", func() error {
		defer atomic.StoreInt32(&e.rebuilding, 0)
		err := e.rebuild(ctx)
		if err != nil {
			rebuildFailuresTotal.Inc()
		}
		return err
	})
	if !started {
		atomic.StoreInt32(&e.rebuilding, 0)
		return false
	}
	rebuildsTotal.Inc()
	return true
}

// rebuild restores every chunk and parity block the failed backends
// were holding, reconstructing object data from the survivors.
// Backends it cannot fully restore are left degraded, so reads keep
// trying them instead of skipping them outright.
func (e *Engine) rebuild(ctx context.Context) error {
	targets := e.health.inStatus(StatusFailed)
	if len(targets) == 0 {
		store.Debugf(e, "rebuild: no failed backends")
		return nil
	}
	avoid := make(map[int]bool, len(targets))
	for _, i := range targets {
		avoid[i] = true
		e.health.markRebuilding(i)
	}
	store.Infof(e, "rebuild started for backends %v", targets)

	total := 0
	if err := e.records.ListManifests(func(*meta.Manifest) error {
		total++
		return nil
	}); err != nil {
		e.degrade(targets)
		return errors.Wrap(err, "rebuild could not list manifests")
	}

	done, unrestored := 0, 0
	err := e.records.ListManifests(func(m *meta.Manifest) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.rebuildObject(ctx, m, avoid); err != nil {
			unrestored++
			store.Errorf(e, "rebuild: cannot restore %q: %v", m.Key, err)
		}
		done++
		if total > 0 {
			for _, i := range targets {
				e.health.setProgress(i, float64(done)/float64(total))
			}
		}
		return nil
	})
	if err != nil {
		e.degrade(targets)
		return errors.Wrap(err, "rebuild aborted")
	}
	if unrestored > 0 {
		e.degrade(targets)
		return errors.Errorf("rebuild finished with %d objects unrestored", unrestored)
	}
	for _, i := range targets {
		e.health.markHealed(i)
	}
	store.Infof(e, "rebuild finished: backends %v healthy again", targets)
	return nil
}

func (e *Engine) degrade(targets []int) {
	for _, i := range targets {
		e.health.markDegraded(i)
	}
}

// rebuildObject re-creates the chunks of one object that live on the
// backends under rebuild. Objects placing nothing there are skipped.
func (e *Engine) rebuildObject(ctx context.Context, m *meta.Manifest, targets map[int]bool) error {
	if m.BackendCount > len(e.backends) {
		return errors.Errorf("manifest was written across %d backends, engine has %d", m.BackendCount, len(e.backends))
	}
	g := geometryFromManifest(m)
	hit := false
	for _, ref := range allRefs(m.Key, g, m.ChunkCount) {
		if targets[ref.backend] {
			hit = true
			break
		}
	}
	if !hit {
		return nil
	}
	data, err := e.loadObject(ctx, m, targets)
	if err != nil {
		return err
	}
	for _, w := range planWrites(m.Key, data, g) {
		if !targets[w.backend] {
			continue
		}
		if err := e.waitRebuild(ctx, len(w.data)); err != nil {
			return err
		}
		if err := e.backends[w.backend].Save(ctx, w.key, bytes.NewReader(w.data)); err != nil {
			return errors.Wrapf(err, "failed to restore %q to backend %d", w.key, w.backend)
		}
	}
	return nil
}

// waitRebuild applies the rebuild rate limit before n bytes are
// written.
func (e *Engine) waitRebuild(ctx context.Context, n int) error {
	if e.limiter == nil {
		return nil
	}
	burst := e.limiter.Burst()
	for n > 0 {
		step := n
		if step > burst {
			step = burst
		}
		if err := e.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
