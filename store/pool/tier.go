package pool

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/poolfs/poolfs/lib/errcount"
	"github.com/poolfs/poolfs/store"
	"github.com/poolfs/poolfs/store/meta"
)

// decayFactor is applied to every access count once per migration
// sweep, so heat fades unless reads keep renewing it.
const decayFactor = 0.9

// saveTiered writes to the hottest tier and resets the object's heat
// to a single access.
func (p *Pool) saveTiered(ctx context.Context, key string, in io.Reader) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return errors.Wrapf(err, "failed to read input for %q", key)
	}
	p.keys.Lock(key)
	defer p.keys.Unlock(key)

	old, err := p.records.GetTier(key)
	if err != nil && !store.IsNotFound(err) {
		return errors.Wrapf(err, "failed to look up tier entry for %q", key)
	}
	if err := p.tiers[0].Save(ctx, key, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "write of %q to tier 0 failed", key)
	}
	entry := &meta.TierEntry{
		Key:         key,
		Tier:        0,
		AccessCount: 1,
		LastAccess:  time.Now(),
		Size:        int64(len(data)),
	}
	if err := p.records.SetTier(entry); err != nil {
		return errors.Wrapf(err, "failed to record tier entry for %q", key)
	}
	if old != nil && old.Tier > 0 && old.Tier < len(p.tiers) {
		// the overwrite landed in tier 0, the copy in the old tier is
		// stale now
		if err := p.tiers[old.Tier].Delete(ctx, key); err != nil && !store.IsNotFound(err) {
			store.Errorf(p, "failed to remove stale copy of %q from tier %d: %v", key, old.Tier, err)
		}
	}
	return nil
}

// loadTiered probes the tiers hottest first and returns the first
// copy found, bumping the object's heat.
func (p *Pool) loadTiered(ctx context.Context, key string) (io.ReadCloser, error) {
	p.keys.Lock(key)
	defer p.keys.Unlock(key)
	for i, tier := range p.tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rc, err := tier.Load(ctx, key)
		if err != nil {
			if !store.IsNotFound(err) {
				store.Errorf(p, "read of %q from tier %d failed: %v", key, i, err)
			}
			continue
		}
		p.recordAccess(key, i)
		return rc, nil
	}
	return nil, errors.Wrapf(store.ErrObjectNotFound, "load %q", key)
}

// recordAccess bumps the tier entry for a read served from the given
// tier and starts a promotion once a cold object has become hot.
// Caller holds the key lock.
func (p *Pool) recordAccess(key string, tier int) {
	entry, err := p.records.GetTier(key)
	if err != nil {
		if !store.IsNotFound(err) {
			store.Errorf(p, "failed to look up tier entry for %q: %v", key, err)
			return
		}
		entry = &meta.TierEntry{Key: key}
	}
	// trust the tier the object was actually found in
	entry.Tier = tier
	entry.AccessCount++
	entry.LastAccess = time.Now()
	if err := p.records.SetTier(entry); err != nil {
		store.Errorf(p, "failed to record access to %q: %v", key, err)
		return
	}
	if tier > 0 && entry.AccessCount >= p.cfg.HotThreshold {
		p.promote(key)
	}
}

// promote moves key to the hottest tier in the background. The read
// that crossed the threshold does not wait for the copy.
func (p *Pool) promote(key string) {
	p.tasks.Go("promote "+key, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		p.keys.Lock(key)
		defer p.keys.Unlock(key)
		entry, err := p.records.GetTier(key)
		if err != nil {
			if store.IsNotFound(err) {
				return nil // deleted in the meantime
			}
			return errors.Wrapf(err, "failed to look up tier entry for %q", key)
		}
		if entry.Tier == 0 {
			return nil // a sweep got there first
		}
		if err := p.moveTier(ctx, entry, 0); err != nil {
			return errors.Wrapf(err, "promotion of %q failed", key)
		}
		promotionsTotal.Inc()
		store.Infof(p, "promoted %q to the hottest tier", key)
		return nil
	})
}

// moveTier copies the object to the target tier, updates the entry,
// then drops the source copy. Caller holds the key lock.
func (p *Pool) moveTier(ctx context.Context, entry *meta.TierEntry, target int) error {
	if entry.Tier < 0 || entry.Tier >= len(p.tiers) {
		return errors.Errorf("tier entry for %q names tier %d of a %d tier chain", entry.Key, entry.Tier, len(p.tiers))
	}
	rc, err := p.tiers[entry.Tier].Load(ctx, entry.Key)
	if err != nil {
		return errors.Wrapf(err, "read of %q from tier %d failed", entry.Key, entry.Tier)
	}
	data, err := store.ReadAll(rc)
	if err != nil {
		return errors.Wrapf(err, "read of %q from tier %d failed", entry.Key, entry.Tier)
	}
	if err := p.tiers[target].Save(ctx, entry.Key, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "write of %q to tier %d failed", entry.Key, target)
	}
	source := entry.Tier
	entry.Tier = target
	if err := p.records.SetTier(entry); err != nil {
		return errors.Wrapf(err, "failed to update tier entry for %q", entry.Key)
	}
	if err := p.tiers[source].Delete(ctx, entry.Key); err != nil && !store.IsNotFound(err) {
		store.Errorf(p, "failed to remove %q from tier %d after move: %v", entry.Key, source, err)
	}
	return nil
}

// targetTier maps an access count to the tier the two thresholds
// imply, clamped to the configured chain.
func (p *Pool) targetTier(count int64) int {
	tier := 2
	switch {
	case count >= p.cfg.HotThreshold:
		tier = 0
	case count >= p.cfg.WarmThreshold:
		tier = 1
	}
	if tier >= len(p.tiers) {
		tier = len(p.tiers) - 1
	}
	return tier
}

// TriggerSweep starts the tier migration sweep unless one is already
// running, and reports whether a new one was started. The timer uses
// this too, so a slow sweep is skipped over, not queued behind.
func (p *Pool) TriggerSweep(ctx context.Context) bool {
	if p.cfg.Mode != ModeTiered {
		return false
	}
	if !atomic.CompareAndSwapInt32(&p.sweeping, 0, 1) {
		sweepSkipsTotal.Inc()
		store.Debugf(p, "migration sweep already running, trigger skipped")
		return false
	}
	started := p.tasks.Go("migration sweep", func() error {
		defer atomic.StoreInt32(&p.sweeping, 0)
		return p.sweep(ctx)
	})
	if !started {
		atomic.StoreInt32(&p.sweeping, 0)
		return false
	}
	sweepsTotal.Inc()
	return true
}

// sweep recomputes the tier every tracked object should live in from
// its current access count, moves the ones that drifted, then decays
// every count whether its object moved or not.
func (p *Pool) sweep(ctx context.Context) error {
	var entries []*meta.TierEntry
	if err := p.records.ListTiers(func(e *meta.TierEntry) error {
		entries = append(entries, e)
		return nil
	}); err != nil {
		return errors.Wrap(err, "sweep could not list tier entries")
	}

	moved := 0
	ec := errcount.New()
	for _, listed := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		didMove, err := p.sweepKey(ctx, listed.Key)
		if err != nil {
			ec.Add(err)
			store.Errorf(p, "migration of %q failed: %v", listed.Key, err)
		}
		if didMove {
			moved++
			migrationsTotal.Inc()
		}
	}
	p.decay(entries)
	store.Debugf(p, "migration sweep finished: %d of %d objects moved", moved, len(entries))
	return ec.Err("migration sweep")
}

// sweepKey migrates one object if its heat no longer matches its
// tier. The entry is re-read under the key lock, the listing may be
// stale by now.
func (p *Pool) sweepKey(ctx context.Context, key string) (bool, error) {
	p.keys.Lock(key)
	defer p.keys.Unlock(key)
	entry, err := p.records.GetTier(key)
	if err != nil {
		if store.IsNotFound(err) {
			return false, nil // deleted since the listing
		}
		return false, err
	}
	target := p.targetTier(entry.AccessCount)
	if target == entry.Tier {
		return false, nil
	}
	if err := p.moveTier(ctx, entry, target); err != nil {
		return false, err
	}
	store.Debugf(p, "moved %q to tier %d", key, target)
	return true, nil
}

// decay ages every access count by the decay factor.
func (p *Pool) decay(entries []*meta.TierEntry) {
	for _, listed := range entries {
		p.keys.Lock(listed.Key)
		entry, err := p.records.GetTier(listed.Key)
		if err == nil {
			entry.AccessCount = int64(float64(entry.AccessCount) * decayFactor)
			err = p.records.SetTier(entry)
		}
		if err != nil && !store.IsNotFound(err) {
			store.Errorf(p, "failed to decay access count of %q: %v", listed.Key, err)
		}
		p.keys.Unlock(listed.Key)
	}
}
