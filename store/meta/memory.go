package meta

import (
	cache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"github.com/poolfs/poolfs/store"
)

// Mem is a transient Store over a pair of go-cache stores. Records
// vanish when the process exits.
type Mem struct {
	manifests *cache.Cache
	tiers     *cache.Cache
}

// NewMem builds a transient meta store.
func NewMem() *Mem {
	return &Mem{
		manifests: cache.New(cache.NoExpiration, -1),
		tiers:     cache.New(cache.NoExpiration, -1),
	}
}

// Check the interface is satisfied
var _ Store = (*Mem)(nil)

// SetManifest stores a copy of m under its key.
func (s *Mem) SetManifest(m *Manifest) error {
	s.manifests.Set(m.Key, m.Clone(), cache.DefaultExpiration)
	return nil
}

// GetManifest retrieves the manifest for key.
func (s *Mem) GetManifest(key string) (*Manifest, error) {
	x, found := s.manifests.Get(key)
	if !found {
		return nil, errors.Wrapf(store.ErrObjectNotFound, "no manifest for %q", key)
	}
	return x.(*Manifest).Clone(), nil
}

// DeleteManifest removes the manifest for key.
func (s *Mem) DeleteManifest(key string) error {
	s.manifests.Delete(key)
	return nil
}

// ListManifests calls fn for every manifest.
func (s *Mem) ListManifests(fn func(*Manifest) error) error {
	for _, item := range s.manifests.Items() {
		if err := fn(item.Object.(*Manifest).Clone()); err != nil {
			return err
		}
	}
	return nil
}

// SetTier stores a copy of e under its key.
func (s *Mem) SetTier(e *TierEntry) error {
	s.tiers.Set(e.Key, e.Clone(), cache.DefaultExpiration)
	return nil
}

// GetTier retrieves the tier entry for key.
func (s *Mem) GetTier(key string) (*TierEntry, error) {
	x, found := s.tiers.Get(key)
	if !found {
		return nil, errors.Wrapf(store.ErrObjectNotFound, "no tier entry for %q", key)
	}
	return x.(*TierEntry).Clone(), nil
}

// DeleteTier removes the tier entry for key.
func (s *Mem) DeleteTier(key string) error {
	s.tiers.Delete(key)
	return nil
}

// ListTiers calls fn for every tier entry.
func (s *Mem) ListTiers(fn func(*TierEntry) error) error {
	for _, item := range s.tiers.Items() {
		if err := fn(item.Object.(*TierEntry).Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for the transient store.
func (s *Mem) Close() error {
	return nil
}
