// Package bigcache provides a volatile object storage backend over an
// allegro/bigcache store. Entries are evicted after their life window
// and under memory pressure, so this backend is only suitable as the
// fast side of a cache policy or as a hot tier, never as a primary.
package bigcache

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/pkg/errors"

	"github.com/poolfs/poolfs/store"
)

// Register with store
func init() {
	store.Register(&store.RegInfo{
		Name:        "bigcache",
		Description: "Volatile in memory cache store (allegro/bigcache)",
		NewBackend:  NewBackend,
		Options: []store.Option{{
			Name:    "life_window",
			Help:    "How long entries live before eviction.",
			Default: "10m",
		}, {
			Name:    "max_size",
			Help:    "Hard cache size limit, eg 128Mi. 0 means unlimited.",
			Default: "0",
		}},
	})
}

// NewBackend constructs a bigcache backend from the config parameters.
func NewBackend(ctx context.Context, params store.Params) (store.Backend, error) {
	var lifeWindow store.Duration
	if err := lifeWindow.Set(params.GetDefault("life_window", "10m")); err != nil {
		return nil, errors.Wrap(store.ErrBadConfig, "bigcache: bad life_window")
	}
	var maxSize store.SizeSuffix
	if err := maxSize.Set(params.GetDefault("max_size", "0")); err != nil {
		return nil, errors.Wrap(store.ErrBadConfig, "bigcache: bad max_size")
	}
	return New(ctx, time.Duration(lifeWindow), maxSize)
}

// Backend stores objects in a bigcache instance.
type Backend struct {
	cache *bigcache.BigCache
}

// New creates a bigcache backend. lifeWindow is how long entries
// live, maxSize caps the cache memory (0 for no cap).
func New(ctx context.Context, lifeWindow time.Duration, maxSize store.SizeSuffix) (*Backend, error) {
	if lifeWindow <= 0 {
		return nil, errors.Wrap(store.ErrBadConfig, "bigcache: life_window must be positive")
	}
	config := bigcache.DefaultConfig(lifeWindow)
	config.Verbose = false
	config.HardMaxCacheSize = int(maxSize / store.Mebi)
	cache, err := bigcache.New(ctx, config)
	if err != nil {
		return nil, errors.Wrap(err, "bigcache: failed to create cache")
	}
	return &Backend{cache: cache}, nil
}

// Check the interface is satisfied
var _ store.Backend = (*Backend)(nil)

// String converts this Backend to a string for logging
func (b *Backend) String() string {
	return "Bigcache backend"
}

// Scheme returns the backend scheme
func (b *Backend) Scheme() string {
	return "bigcache"
}

// Save stores the contents of in under key.
func (b *Backend) Save(ctx context.Context, key string, in io.Reader) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return errors.Wrapf(err, "bigcache: failed to read data for %q", key)
	}
	if err := b.cache.Set(key, data); err != nil {
		return errors.Wrapf(err, "bigcache: failed to store %q", key)
	}
	return nil
}

// Load opens the object stored under key.
func (b *Backend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := b.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, errors.Wrapf(store.ErrObjectNotFound, "bigcache: %q", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "bigcache: failed to load %q", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the object stored under key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	err := b.cache.Delete(key)
	if err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return errors.Wrapf(err, "bigcache: failed to delete %q", key)
	}
	return nil
}

// Exists reports whether key holds an object.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.cache.Get(key)
	if errors.Is(err, bigcache.ErrEntryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "bigcache: failed to probe %q", key)
	}
	return true, nil
}

// Close releases the cache memory.
func (b *Backend) Close() error {
	return b.cache.Close()
}
