package pool

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/poolfs/poolfs/store"
)

// saveCache writes through the configured cache strategy. Both
// strategies buffer the input once so the same bytes can go to both
// backends.
func (p *Pool) saveCache(ctx context.Context, key string, in io.Reader) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return errors.Wrapf(err, "failed to read input for %q", key)
	}
	if p.cfg.CacheStrategy == WriteThrough {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return errors.Wrapf(p.cache.Save(gctx, key, bytes.NewReader(data)), "cache write of %q failed", key)
		})
		g.Go(func() error {
			return errors.Wrapf(p.primary.Save(gctx, key, bytes.NewReader(data)), "primary write of %q failed", key)
		})
		return g.Wait()
	}

	// write-back: the call completes once the cache holds the bytes,
	// the primary is flushed in the background and a flush failure is
	// only visible in the logs
	if err := p.cache.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "cache write of %q failed", key)
	}
	p.tasks.Go("flush "+key, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		if err := p.primary.Save(ctx, key, bytes.NewReader(data)); err != nil {
			flushFailuresTotal.Inc()
			return errors.Wrapf(err, "flush of %q to primary failed", key)
		}
		return nil
	})
	return nil
}

// loadCache reads from the cache first and falls back to the primary,
// populating the cache in the background on a miss.
func (p *Pool) loadCache(ctx context.Context, key string) (io.ReadCloser, error) {
	rc, err := p.cache.Load(ctx, key)
	if err == nil {
		cacheHitsTotal.Inc()
		return rc, nil
	}
	if !store.IsNotFound(err) {
		// a broken cache backend turns into a miss, the primary still
		// has the bytes
		store.Errorf(p, "cache read of %q failed: %v", key, err)
	}
	cacheMissesTotal.Inc()

	rc, err = p.primary.Load(ctx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "load %q", key)
	}
	data, err := store.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "load %q", key)
	}
	p.tasks.Go("populate "+key, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		return errors.Wrapf(p.cache.Save(ctx, key, bytes.NewReader(data)), "cache populate of %q failed", key)
	})
	return io.NopCloser(bytes.NewReader(data)), nil
}
