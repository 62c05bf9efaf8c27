// Package meta holds the per-object records kept alongside stored
// data: manifests describing how an object was chunked and placed
// across backends, and tier entries tracking access heat for the
// tiered pool policy.
//
// Two implementations of Store are provided: Mem keeps records in a
// transient go-cache store, Bolt persists them to a bolt database
// file. Both hand out copies, callers never share record memory with
// the store.
package meta

import (
	"time"
)

// Manifest records how one object was stored. It is written only
// after every chunk write of its save has succeeded, and a load
// without a manifest is a hard error. The placement fields describe
// the configuration at save time and are never recomputed when the
// engine configuration changes later.
type Manifest struct {
	Key          string        // object key
	Level        int           // redundancy level at save time
	Size         int64         // total object size in bytes
	ChunkCount   int           // number of data chunks
	StripeSize   int           // chunk size in bytes at save time
	BackendCount int           // backends configured at save time
	MirrorCount  int           // copies written, mirrored levels only
	Mapping      map[int][]int // backend index -> data chunk indices
	TxID         string        // transaction id of the save
	SavedAt      time.Time
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	c := *m
	if m.Mapping != nil {
		c.Mapping = make(map[int][]int, len(m.Mapping))
		for backend, chunks := range m.Mapping {
			c.Mapping[backend] = append([]int(nil), chunks...)
		}
	}
	return &c
}

// TierEntry tracks one object's heat for the tiered policy. Tier is a
// position in the pool's configured tier chain, 0 being the hottest.
type TierEntry struct {
	Key         string
	Tier        int
	AccessCount int64 // decays by ×0.9 per migration sweep
	LastAccess  time.Time
	Size        int64
}

// Clone returns a copy of the tier entry.
func (e *TierEntry) Clone() *TierEntry {
	c := *e
	return &c
}

// Store is the persistence surface for manifests and tier entries.
// Implementations must be safe for concurrent use. Get methods return
// store.ErrObjectNotFound (possibly wrapped) for missing keys.
type Store interface {
	SetManifest(m *Manifest) error
	GetManifest(key string) (*Manifest, error)
	DeleteManifest(key string) error
	// ListManifests calls fn for every manifest. The callback must
	// not mutate the store.
	ListManifests(fn func(*Manifest) error) error

	SetTier(e *TierEntry) error
	GetTier(key string) (*TierEntry, error)
	DeleteTier(key string) error
	// ListTiers calls fn for every tier entry. The callback must
	// not mutate the store.
	ListTiers(fn func(*TierEntry) error) error

	Close() error
}
