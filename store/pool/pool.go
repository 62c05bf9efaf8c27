// Package pool implements the pool manager: one Save/Load/Delete/
// Exists surface over a named set of backends, dispatched through a
// configured policy. Independent mode passes everything to a single
// primary, cache mode keeps a fast backend in front of a durable one,
// tiered mode migrates objects along a hot to cold chain from their
// access patterns, and pool mode combines backends through the
// redundancy engine.
package pool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/poolfs/poolfs/lib/errcount"
	"github.com/poolfs/poolfs/lib/striped"
	"github.com/poolfs/poolfs/lib/task"
	"github.com/poolfs/poolfs/store"
	"github.com/poolfs/poolfs/store/meta"
	"github.com/poolfs/poolfs/store/raid"
)

const (
	// stripes in the per key lock table
	keyLockStripes = 256
	// deadline for one background flush, populate or promote task
	backgroundTimeout = 5 * time.Minute
)

// Member is one named backend of a pool. The order members are passed
// to New in is the pool's registration order, which delete fan out and
// exists probing follow.
type Member struct {
	ID      string
	Backend store.Backend
}

// Pool dispatches object operations over its members according to the
// configured mode.
type Pool struct {
	cfg     Config
	members []Member
	byID    map[string]store.Backend
	records meta.Store

	primary store.Backend   // independent, cache
	cache   store.Backend   // cache
	tiers   []store.Backend // tiered, hottest first
	group   []store.Backend // pool, in PoolIDs order
	engine  *raid.Engine    // pool with redundancy, nil otherwise

	// keys serializes the tiered read/write path against promotion
	// and the migration sweep for the same key
	keys   *striped.Locks
	tasks  *task.Runner
	exists *cache.Cache // existence cache, nil when disabled

	sweeping  int32 // atomic, 1 while a sweep task runs
	quit      chan struct{}
	closeOnce sync.Once
}

// New builds a Pool over members with the given configuration,
// keeping tier entries (and, in pool mode, object manifests) in
// records.
func New(cfg Config, members []Member, records meta.Store) (*Pool, error) {
	cfg.Default()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	byID := make(map[string]store.Backend, len(members))
	for _, m := range members {
		if m.ID == "" {
			return nil, errors.Wrap(store.ErrBadConfig, "member with an empty id")
		}
		if m.Backend == nil {
			return nil, errors.Wrapf(store.ErrBadConfig, "member %q has no backend", m.ID)
		}
		if _, found := byID[m.ID]; found {
			return nil, errors.Wrapf(store.ErrBadConfig, "member %q registered twice", m.ID)
		}
		byID[m.ID] = m.Backend
	}
	p := &Pool{
		cfg:     cfg,
		members: members,
		byID:    byID,
		records: records,
		keys:    striped.New(keyLockStripes),
		tasks:   task.NewRunner(),
	}
	if cfg.ExistsCacheTTL.IsSet() && cfg.ExistsCacheTTL > 0 {
		ttl := time.Duration(cfg.ExistsCacheTTL)
		p.exists = cache.New(ttl, 2*ttl)
	}

	var err error
	switch cfg.Mode {
	case ModeIndependent:
		p.primary, err = p.member(cfg.PrimaryID)
	case ModeCache:
		if p.primary, err = p.member(cfg.PrimaryID); err == nil {
			p.cache, err = p.member(cfg.CacheID)
		}
	case ModeTiered:
		p.tiers, err = p.memberList(cfg.TierIDs)
	case ModePool:
		if p.group, err = p.memberList(cfg.PoolIDs); err == nil && cfg.Redundancy != nil {
			p.engine, err = raid.New(cfg.redundancyConfig(), store.SliceResolver(p.group), records)
		}
	}
	if err != nil {
		return nil, err
	}

	if cfg.Mode == ModeTiered && cfg.MigrationInterval.IsSet() && cfg.MigrationInterval > 0 {
		p.quit = make(chan struct{})
		go p.migrate()
	}
	store.Debugf(p, "started with %d members", len(members))
	return p, nil
}

// String converts this Pool to a string for logging
func (p *Pool) String() string {
	return fmt.Sprintf("%v pool", p.cfg.Mode)
}

// Config returns the pool configuration with defaults applied.
func (p *Pool) Config() Config {
	return p.cfg
}

// Engine returns the redundancy engine a pool mode Pool delegates to,
// or nil for the other modes and the legacy mirrored fallback.
func (p *Pool) Engine() *raid.Engine {
	return p.engine
}

// member resolves a configured backend id.
func (p *Pool) member(id string) (store.Backend, error) {
	backend, found := p.byID[id]
	if !found {
		return nil, errors.Wrapf(store.ErrBadConfig, "no member registered as %q", id)
	}
	return backend, nil
}

func (p *Pool) memberList(ids []string) ([]store.Backend, error) {
	backends := make([]store.Backend, len(ids))
	for i, id := range ids {
		backend, err := p.member(id)
		if err != nil {
			return nil, err
		}
		backends[i] = backend
	}
	return backends, nil
}

// WaitBackground blocks until all background work spawned so far
// (flushes, promotions, sweeps, engine rebuilds) has finished.
func (p *Pool) WaitBackground() {
	p.tasks.Wait()
	if p.engine != nil {
		p.engine.WaitBackground()
	}
}

// Close stops the migration timer and waits for background tasks to
// drain. Pending write-back flushes complete rather than being
// dropped.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		if p.quit != nil {
			close(p.quit)
		}
		p.tasks.Close()
		if p.engine != nil {
			_ = p.engine.Close()
		}
	})
	return nil
}

// migrate runs the tier migration sweep on its configured interval.
func (p *Pool) migrate() {
	ticker := time.NewTicker(time.Duration(p.cfg.MigrationInterval))
	defer ticker.Stop()
	for {
		select {
		case <-p.quit:
			return
		case <-ticker.C:
			p.TriggerSweep(context.Background())
		}
	}
}

// Save stores the contents of in under key through the pool's policy.
func (p *Pool) Save(ctx context.Context, key string, in io.Reader) error {
	var err error
	switch p.cfg.Mode {
	case ModeIndependent:
		err = p.primary.Save(ctx, key, in)
	case ModeCache:
		err = p.saveCache(ctx, key, in)
	case ModeTiered:
		err = p.saveTiered(ctx, key, in)
	case ModePool:
		if p.engine != nil {
			err = p.engine.Save(ctx, key, in)
		} else {
			err = p.saveMirrored(ctx, key, in)
		}
	default:
		panic("pool: unhandled mode")
	}
	if err == nil {
		p.noteExists(key, true)
	}
	return err
}

// Load reads the object stored under key through the pool's policy.
func (p *Pool) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	switch p.cfg.Mode {
	case ModeIndependent:
		return p.primary.Load(ctx, key)
	case ModeCache:
		return p.loadCache(ctx, key)
	case ModeTiered:
		return p.loadTiered(ctx, key)
	case ModePool:
		if p.engine != nil {
			return p.engine.Load(ctx, key)
		}
		return p.loadMirrored(ctx, key)
	default:
		panic("pool: unhandled mode")
	}
}

// saveMirrored is the degraded pool fallback without a redundancy
// configuration: whole object copies on the first PoolMirrorCount
// backends of the group.
func (p *Pool) saveMirrored(ctx context.Context, key string, in io.Reader) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return errors.Wrapf(err, "failed to read input for %q", key)
	}
	return saveAll(ctx, p.group[:p.cfg.PoolMirrorCount], key, data)
}

// loadMirrored reads the first copy it can get, in group order.
func (p *Pool) loadMirrored(ctx context.Context, key string) (io.ReadCloser, error) {
	var firstErr error
	for i, backend := range p.group[:p.cfg.PoolMirrorCount] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rc, err := backend.Load(ctx, key)
		if err == nil {
			return rc, nil
		}
		store.Debugf(p, "%q: mirror %d failed: %v", key, i, err)
		if firstErr == nil || store.IsNotFound(firstErr) {
			firstErr = err
		}
	}
	return nil, errors.Wrapf(firstErr, "load %q", key)
}

// Delete removes key from every registered backend, best effort, and
// drops any tier and redundancy metadata kept for it. Backends that do
// not hold the key are not an error; failures are aggregated so the
// delete can be retried.
func (p *Pool) Delete(ctx context.Context, key string) error {
	if p.cfg.Mode == ModeTiered {
		p.keys.Lock(key)
		defer p.keys.Unlock(key)
	}
	ec := errcount.New()
	if p.engine != nil {
		if err := p.engine.Delete(ctx, key); err != nil && !store.IsNotFound(err) {
			ec.Add(err)
		}
	}
	for _, m := range p.members {
		err := m.Backend.Delete(ctx, key)
		if err != nil && !store.IsNotFound(err) {
			store.Errorf(p, "delete of %q from member %q failed: %v", key, m.ID, err)
			ec.Add(err)
		}
	}
	if err := p.records.DeleteTier(key); err != nil && !store.IsNotFound(err) {
		ec.Add(err)
	}
	p.noteExists(key, false)
	return ec.Err(fmt.Sprintf("delete %q", key))
}

// Exists reports whether any backend holds key, probing members in
// registration order and answering from the existence cache when one
// is configured. In pool mode the engine's manifest is checked first,
// an engine object only exists as chunks.
func (p *Pool) Exists(ctx context.Context, key string) (bool, error) {
	if p.exists != nil {
		if hit, found := p.exists.Get(key); found {
			return hit.(bool), nil
		}
	}
	found, err := p.probeExists(ctx, key)
	if err != nil {
		return false, err
	}
	p.noteExists(key, found)
	return found, nil
}

func (p *Pool) probeExists(ctx context.Context, key string) (bool, error) {
	var firstErr error
	if p.engine != nil {
		found, err := p.engine.Exists(ctx, key)
		if err != nil {
			firstErr = err
		} else if found {
			return true, nil
		}
	}
	for _, m := range p.members {
		found, err := m.Backend.Exists(ctx, key)
		if err != nil {
			store.Debugf(p, "exists probe of %q on member %q failed: %v", key, m.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if found {
			return true, nil
		}
	}
	return false, firstErr
}

// noteExists records the latest known answer in the existence cache.
func (p *Pool) noteExists(key string, found bool) {
	if p.exists != nil {
		p.exists.Set(key, found, cache.DefaultExpiration)
	}
}

// saveAll writes data under key to every backend in the list, all or
// nothing.
func saveAll(ctx context.Context, backends []store.Backend, key string, data []byte) error {
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range backends {
		i, b := i, b
		g.Go(func() error {
			if err := b.Save(gctx, key, bytes.NewReader(data)); err != nil {
				return errors.Wrapf(err, "write of %q to backend %d failed", key, i)
			}
			return nil
		})
	}
	return g.Wait()
}
