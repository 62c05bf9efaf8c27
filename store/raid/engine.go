package raid

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/poolfs/poolfs/lib/errcount"
	"github.com/poolfs/poolfs/lib/task"
	"github.com/poolfs/poolfs/store"
	"github.com/poolfs/poolfs/store/chunk"
	"github.com/poolfs/poolfs/store/meta"
)

const (
	// concurrent backend operations allowed per configured backend
	opsPerBackend = 4
	// deadline for best effort cleanup of provisional or stale chunks
	cleanupTimeout = 30 * time.Second
)

// Engine stores objects across N backends with the redundancy the
// configured level provides.
type Engine struct {
	cfg        Config
	backends   []store.Backend
	records    meta.Store
	health     *healthBoard
	tasks      *task.Runner
	limiter    *rate.Limiter // rebuild write throttle, may be nil
	rebuilding int32         // atomic, 1 while a rebuild task runs
	quit       chan struct{}
	closeOnce  sync.Once
}

// New builds an Engine over cfg.BackendCount backends obtained from
// resolver, keeping manifests in records. The configuration is
// validated here once, a bad one refuses to start.
func New(cfg Config, resolver store.Resolver, records meta.Store) (*Engine, error) {
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backends := make([]store.Backend, cfg.BackendCount)
	for i := range backends {
		b, err := resolver(i)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve backend %d", i)
		}
		if b == nil {
			return nil, errors.Wrapf(store.ErrBadConfig, "resolver returned no backend for index %d", i)
		}
		backends[i] = b
	}
	e := &Engine{
		cfg:      cfg,
		backends: backends,
		records:  records,
		health:   newHealthBoard(cfg.BackendCount),
		tasks:    task.NewRunner(),
	}
	if cfg.RebuildRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RebuildRate), int(cfg.RebuildRate))
	}
	if cfg.HealthCheckInterval.IsSet() && cfg.HealthCheckInterval > 0 {
		e.quit = make(chan struct{})
		go e.monitor()
	}
	store.Debugf(e, "started with %d backends, stripe size %v", cfg.BackendCount, cfg.StripeSize)
	return e, nil
}

// String converts this Engine to a string for logging
func (e *Engine) String() string {
	return fmt.Sprintf("%v engine", e.cfg.Level)
}

// Config returns the engine configuration with defaults applied.
func (e *Engine) Config() Config {
	return e.cfg
}

// Health returns a snapshot of every backend's health record.
func (e *Engine) Health() []BackendHealth {
	return e.health.snapshot()
}

// WaitBackground blocks until all background work spawned so far
// (rebuilds, stale chunk cleanup) has finished.
func (e *Engine) WaitBackground() {
	e.tasks.Wait()
}

// Close stops the health monitor and waits for background tasks to
// drain.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.quit != nil {
			close(e.quit)
		}
		e.tasks.Close()
	})
	return nil
}

// monitor periodically logs backend health and, with auto rebuild on,
// triggers a rebuild when failed backends are seen.
func (e *Engine) monitor() {
	ticker := time.NewTicker(time.Duration(e.cfg.HealthCheckInterval))
	defer ticker.Stop()
	for {
		select {
		case <-e.quit:
			return
		case <-ticker.C:
			e.checkHealth()
		}
	}
}

func (e *Engine) checkHealth() {
	failed := e.health.inStatus(StatusFailed)
	if len(failed) == 0 {
		store.Debugf(e, "health: %s", e.health.describe())
		return
	}
	store.Logf(e, "health: %s, failed backends %v", e.health.describe(), failed)
	if e.cfg.AutoRebuild {
		e.TriggerRebuild(context.Background())
	}
}

// unavailable reports whether reads should skip backend i without
// trying it.
func (e *Engine) unavailable(i int, avoid map[int]bool) bool {
	if avoid[i] {
		return true
	}
	switch e.health.status(i) {
	case StatusFailed, StatusRebuilding:
		return true
	}
	return false
}

// noteReadFailure marks backend i failed after a read error, unless
// the error came from the caller's context being canceled.
func (e *Engine) noteReadFailure(ctx context.Context, i int, err error) {
	if ctx.Err() != nil {
		return
	}
	if !e.health.markFailed(i) {
		return
	}
	backendFailuresTotal.Inc()
	store.Errorf(e, "backend %d marked failed: %v", i, err)
	if e.cfg.AutoRebuild {
		e.TriggerRebuild(context.Background())
	}
}

// readChunk reads one whole stored chunk from backend i.
func (e *Engine) readChunk(ctx context.Context, i int, key string) ([]byte, error) {
	rc, err := e.backends[i].Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return store.ReadAll(rc)
}

// Save stores the contents of in under key with the engine's
// redundancy level. All chunk and parity writes run concurrently and
// the manifest is committed only after every one of them has
// succeeded. On any write failure the chunks already written are
// deleted again, best effort, before the error is returned.
func (e *Engine) Save(ctx context.Context, key string, in io.Reader) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return errors.Wrapf(err, "failed to read input for %q", key)
	}
	g := geometryFromConfig(e.cfg)
	writes := planWrites(key, data, g)

	old, err := e.records.GetManifest(key)
	if err != nil && !store.IsNotFound(err) {
		return errors.Wrapf(err, "failed to look up manifest for %q", key)
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(opsPerBackend * len(e.backends))
	for _, w := range writes {
		w := w
		grp.Go(func() error {
			if err := e.backends[w.backend].Save(gctx, w.key, bytes.NewReader(w.data)); err != nil {
				return errors.Wrapf(err, "write of %q to backend %d failed", w.key, w.backend)
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		store.Errorf(e, "save of %q failed, rolling back %d provisional chunks", key, len(writes))
		e.rollback(key, writes)
		return err
	}

	chunkCount := g.chunkCount(int64(len(data)))
	m := &meta.Manifest{
		Key:          key,
		Level:        int(g.level),
		Size:         int64(len(data)),
		ChunkCount:   chunkCount,
		StripeSize:   g.stripeSize,
		BackendCount: g.n,
		Mapping:      g.mapping(chunkCount),
		TxID:         uuid.New().String(),
		SavedAt:      time.Now(),
	}
	if g.level == Mirroring {
		m.MirrorCount = g.mirrors
	}
	if err := e.records.SetManifest(m); err != nil {
		e.rollback(key, writes)
		return errors.Wrapf(err, "failed to commit manifest for %q", key)
	}
	if old != nil {
		e.cleanupStale(key, old, m)
	}
	savesTotal.Inc()
	saveBytesTotal.Add(float64(len(data)))
	store.Debugf(e, "saved %q: %d bytes in %d chunks (tx %s)", key, len(data), chunkCount, m.TxID)
	return nil
}

// rollback deletes the provisional chunks of a failed save. It runs
// under its own deadline so it still proceeds when the save's context
// was canceled.
func (e *Engine) rollback(key string, writes []chunkWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	ec := errcount.New()
	for _, w := range writes {
		err := e.backends[w.backend].Delete(ctx, w.key)
		if err != nil && !store.IsNotFound(err) {
			ec.Add(err)
		}
	}
	if err := ec.Err("rollback"); err != nil {
		store.Errorf(e, "rollback of %q left orphaned chunks: %v", key, err)
	}
}

// cleanupStale removes keys of the previous manifest that the new
// layout no longer uses, so overwriting an object with fewer chunks
// does not leave stale data behind. Best effort, in the background.
func (e *Engine) cleanupStale(key string, old, current *meta.Manifest) {
	if old.BackendCount > len(e.backends) {
		return
	}
	keep := make(map[string]bool)
	for _, ref := range allRefs(key, geometryFromManifest(current), current.ChunkCount) {
		keep[refID(ref)] = true
	}
	var stale []chunkRef
	for _, ref := range allRefs(key, geometryFromManifest(old), old.ChunkCount) {
		if !keep[refID(ref)] {
			stale = append(stale, ref)
		}
	}
	if len(stale) == 0 {
		return
	}
	e.tasks.Go("cleanup "+key, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		ec := errcount.New()
		for _, ref := range stale {
			err := e.backends[ref.backend].Delete(ctx, ref.key)
			if err != nil && !store.IsNotFound(err) {
				ec.Add(err)
			}
		}
		store.Debugf(e, "removed %d stale chunks of %q", len(stale), key)
		return ec.Err("stale chunk cleanup")
	})
}

func refID(r chunkRef) string {
	return fmt.Sprintf("%d/%s", r.backend, r.key)
}

// Load reads the object stored under key, reconstructing lost chunks
// where the level allows it. A key without a manifest is an error.
func (e *Engine) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	m, err := e.records.GetManifest(key)
	if err != nil {
		return nil, errors.Wrapf(err, "load %q", key)
	}
	data, err := e.loadObject(ctx, m, nil)
	if err != nil {
		return nil, err
	}
	loadsTotal.Inc()
	return io.NopCloser(bytes.NewReader(data)), nil
}

// loadObject assembles the object described by m. Backends listed in
// avoid are treated as failed without being read, which the rebuild
// path uses to force reconstruction around the backends it is
// restoring.
func (e *Engine) loadObject(ctx context.Context, m *meta.Manifest, avoid map[int]bool) ([]byte, error) {
	if m.BackendCount > len(e.backends) {
		return nil, errors.Errorf("manifest for %q was written across %d backends, engine has %d", m.Key, m.BackendCount, len(e.backends))
	}
	g := geometryFromManifest(m)
	if g.level == Mirroring {
		return e.loadMirrored(ctx, m, avoid)
	}

	results := make([][]byte, m.ChunkCount)
	lost := make([]bool, m.ChunkCount)
	var grp errgroup.Group
	grp.SetLimit(opsPerBackend * len(e.backends))
	for _, ref := range primaryRefs(m.Key, g, m.ChunkCount) {
		ref := ref
		if e.unavailable(ref.backend, avoid) {
			lost[ref.index] = true
			continue
		}
		grp.Go(func() error {
			data, err := e.readChunk(ctx, ref.backend, ref.key)
			if err != nil {
				e.noteReadFailure(ctx, ref.backend, err)
				lost[ref.index] = true
				return nil
			}
			results[ref.index] = data
			return nil
		})
	}
	_ = grp.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch g.level {
	case Striping:
		for i, missing := range lost {
			if missing {
				return nil, errors.Wrapf(store.ErrObjectUnrecoverable, "%q: chunk %d lost and %v has no redundancy", m.Key, i, g.level)
			}
		}
	case MirroredStripe:
		if err := e.recoverMirrored(ctx, m, g, results, lost, avoid); err != nil {
			return nil, err
		}
	default:
		if err := e.recoverStripes(ctx, m, g, results, lost, avoid); err != nil {
			return nil, err
		}
	}

	out := make([]byte, 0, m.Size)
	for _, c := range results {
		out = append(out, c...)
	}
	if int64(len(out)) != m.Size {
		return nil, errors.Errorf("%q corrupted: assembled %d bytes, manifest says %d", m.Key, len(out), m.Size)
	}
	return out, nil
}

// loadMirrored reads a whole object copy, trying mirrors in order and
// skipping backends known to be unavailable.
func (e *Engine) loadMirrored(ctx context.Context, m *meta.Manifest, avoid map[int]bool) ([]byte, error) {
	key := store.ChunkKey(m.Key, 0)
	mirrors := m.MirrorCount
	if mirrors > len(e.backends) {
		mirrors = len(e.backends)
	}
	for i := 0; i < mirrors; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.unavailable(i, avoid) {
			continue
		}
		data, err := e.readChunk(ctx, i, key)
		if err != nil {
			e.noteReadFailure(ctx, i, err)
			continue
		}
		if int64(len(data)) != m.Size {
			store.Errorf(e, "%q: mirror on backend %d is %d bytes, manifest says %d", m.Key, i, len(data), m.Size)
			continue
		}
		if i > 0 {
			store.Debugf(e, "%q: read from mirror backend %d", m.Key, i)
		}
		return data, nil
	}
	return nil, errors.Wrapf(store.ErrObjectUnrecoverable, "%q: all %d mirrors failed or unavailable", m.Key, mirrors)
}

// recoverMirrored fills in chunks whose primary read failed from the
// mirror of the same pair.
func (e *Engine) recoverMirrored(ctx context.Context, m *meta.Manifest, g geometry, results [][]byte, lost []bool, avoid map[int]bool) error {
	for i, missing := range lost {
		if !missing {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		mirror := g.chunkBackends(i)[1]
		if e.unavailable(mirror, avoid) {
			return errors.Wrapf(store.ErrObjectUnrecoverable, "%q: chunk %d lost on both backends of its pair", m.Key, i)
		}
		data, err := e.readChunk(ctx, mirror, store.ChunkKey(m.Key, i))
		if err != nil {
			e.noteReadFailure(ctx, mirror, err)
			return errors.Wrapf(store.ErrObjectUnrecoverable, "%q: chunk %d lost on both backends of its pair", m.Key, i)
		}
		store.Debugf(e, "%q: chunk %d read from mirror backend %d", m.Key, i, mirror)
		reconstructionsTotal.Inc()
		results[i] = data
	}
	return nil
}

// readParity fetches one parity block, returning nil if the block's
// backend is unavailable or the read fails. Reconstruction treats a
// nil parity as absent and falls back to whatever else is left.
func (e *Engine) readParity(ctx context.Context, i int, key string, avoid map[int]bool) []byte {
	if i < 0 || e.unavailable(i, avoid) {
		return nil
	}
	data, err := e.readChunk(ctx, i, key)
	if err != nil {
		e.noteReadFailure(ctx, i, err)
		return nil
	}
	return data
}

// recoverStripes reconstructs lost chunks stripe by stripe for the
// parity levels. One loss per stripe recovers from the P parity, or
// from Q if P itself is gone. Two losses per stripe need both parity
// blocks and solve the pair of GF(2^8) equations. More losses than
// that are unrecoverable.
func (e *Engine) recoverStripes(ctx context.Context, m *meta.Manifest, g geometry, results [][]byte, lost []bool, avoid map[int]bool) error {
	for _, s := range g.stripeIDs(m.ChunkCount) {
		indices := g.stripeChunks(s, m.ChunkCount)
		var missing []int // positions within the stripe
		for j, ci := range indices {
			if lost[ci] {
				missing = append(missing, j)
			}
		}
		if len(missing) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(missing) > 2 || (len(missing) == 2 && !g.dualParity()) {
			return errors.Wrapf(store.ErrObjectUnrecoverable, "%q: stripe %d lost %d chunks", m.Key, s, len(missing))
		}

		stripe := make([][]byte, len(indices))
		for j, ci := range indices {
			stripe[j] = results[ci]
		}
		pb, qb := g.parityBackends(s)
		p := e.readParity(ctx, pb, g.parityKeyP(m.Key, s), avoid)
		var q []byte
		if qb >= 0 {
			q = e.readParity(ctx, qb, store.ParityQKey(m.Key, s), avoid)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if len(missing) == 1 {
			j := missing[0]
			length := g.chunkLen(m.Size, indices[j])
			var rec []byte
			var err error
			switch {
			case p != nil:
				survivors := make([][]byte, 0, len(stripe)-1)
				for k, c := range stripe {
					if k != j {
						survivors = append(survivors, c)
					}
				}
				rec, err = chunk.ReconstructXOR(survivors, p, length)
			case q != nil:
				rec, err = chunk.ReconstructFromQ(stripe, q, j, length)
			default:
				return errors.Wrapf(store.ErrObjectUnrecoverable, "%q: stripe %d lost a chunk and its parity", m.Key, s)
			}
			if err != nil {
				return errors.Wrapf(err, "%q: stripe %d reconstruction failed", m.Key, s)
			}
			results[indices[j]] = rec
			reconstructionsTotal.Inc()
			store.Infof(e, "%q: reconstructed chunk %d of stripe %d", m.Key, indices[j], s)
			continue
		}

		if p == nil || q == nil {
			return errors.Wrapf(store.ErrObjectUnrecoverable, "%q: stripe %d lost two chunks and a parity block", m.Key, s)
		}
		a, b := missing[0], missing[1]
		da, db, err := chunk.ReconstructPair(stripe, p, q, a, b,
			g.chunkLen(m.Size, indices[a]), g.chunkLen(m.Size, indices[b]))
		if err != nil {
			return errors.Wrapf(err, "%q: stripe %d reconstruction failed", m.Key, s)
		}
		results[indices[a]], results[indices[b]] = da, db
		reconstructionsTotal.Add(2)
		store.Infof(e, "%q: reconstructed chunks %d and %d of stripe %d", m.Key, indices[a], indices[b], s)
	}
	return nil
}

// Delete removes every chunk and parity block of key from the
// backends and then drops the manifest. The manifest is kept if any
// chunk delete failed so the delete can be retried.
func (e *Engine) Delete(ctx context.Context, key string) error {
	m, err := e.records.GetManifest(key)
	if err != nil {
		return errors.Wrapf(err, "delete %q", key)
	}
	if m.BackendCount > len(e.backends) {
		return errors.Errorf("manifest for %q was written across %d backends, engine has %d", key, m.BackendCount, len(e.backends))
	}
	ec := errcount.New()
	for _, ref := range allRefs(key, geometryFromManifest(m), m.ChunkCount) {
		err := e.backends[ref.backend].Delete(ctx, ref.key)
		if err != nil && !store.IsNotFound(err) {
			ec.Add(err)
		}
	}
	if err := ec.Err(fmt.Sprintf("delete %q", key)); err != nil {
		return err
	}
	return e.records.DeleteManifest(key)
}

// Exists reports whether key has a committed manifest.
func (e *Engine) Exists(ctx context.Context, key string) (bool, error) {
	_, err := e.records.GetManifest(key)
	if err != nil {
		if store.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
