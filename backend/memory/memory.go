// Package memory provides an in memory object storage backend. The
// stored objects live for the lifetime of the process, which makes it
// the reference backend for tests and for volatile cache tiers.
package memory

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/poolfs/poolfs/store"
)

// Register with store
func init() {
	store.Register(&store.RegInfo{
		Name:        "memory",
		Description: "In memory object storage system.",
		NewBackend:  NewBackend,
		Options:     []store.Option{},
	})
}

// NewBackend constructs a memory backend from the config parameters,
// of which there are none.
func NewBackend(ctx context.Context, params store.Params) (store.Backend, error) {
	return New(), nil
}

// Backend holds the objects of one in memory store.
type Backend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates an empty memory backend.
func New() *Backend {
	return &Backend{
		objects: make(map[string][]byte, 16),
	}
}

// Check the interface is satisfied
var _ store.Backend = (*Backend)(nil)

// String converts this Backend to a string for logging
func (b *Backend) String() string {
	return "Memory backend"
}

// Scheme returns the backend scheme
func (b *Backend) Scheme() string {
	return "memory"
}

// Save stores the contents of in under key.
func (b *Backend) Save(ctx context.Context, key string, in io.Reader) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return errors.Wrapf(err, "failed to read data for %q", key)
	}
	b.mu.Lock()
	b.objects[key] = data
	b.mu.Unlock()
	return nil
}

// Load opens the object stored under key.
func (b *Backend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	data, found := b.objects[key]
	b.mu.RUnlock()
	if !found {
		return nil, errors.Wrapf(store.ErrObjectNotFound, "memory: %q", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the object stored under key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

// Exists reports whether key holds an object.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	_, found := b.objects[key]
	b.mu.RUnlock()
	return found, nil
}

// Len returns the number of stored objects.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// Keys returns the stored keys in no particular order.
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		keys = append(keys, key)
	}
	return keys
}
