// Package store defines the interface that object storage backends
// implement and the shared types used by the redundancy engine and the
// pool manager that sit on top of them.
//
// A Backend is a flat keyspace of byte streams. Everything above it
// (chunking, parity, caching, tiering) only ever talks to a Backend
// through this interface, so a backend never needs to know whether the
// keys it stores are whole objects, chunks or parity blocks.
package store

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Backend is the capability a storage provider has to implement to
// take part in a pool. Implementations must be safe for concurrent
// use.
type Backend interface {
	// Scheme returns the identifier the backend registered under,
	// eg "memory" or "local".
	Scheme() string

	// Save stores the contents of in under key, replacing any
	// previous object with the same key.
	Save(ctx context.Context, key string, in io.Reader) error

	// Load opens the object stored under key for reading. It
	// returns ErrObjectNotFound (possibly wrapped) if the key does
	// not exist.
	Load(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object stored under key. Deleting a key
	// that does not exist is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key currently holds an object.
	Exists(ctx context.Context, key string) (bool, error)
}

// Resolver maps an integer backend index to a Backend. The redundancy
// engine addresses backends only through a Resolver so that the owner
// of the backend list (normally the pool) stays in control of it.
type Resolver func(index int) (Backend, error)

// SliceResolver returns a Resolver over a fixed, ordered backend list.
func SliceResolver(backends []Backend) Resolver {
	return func(index int) (Backend, error) {
		if index < 0 || index >= len(backends) {
			return nil, errors.Wrapf(ErrBadResolverIndex, "index %d of %d backends", index, len(backends))
		}
		return backends[index], nil
	}
}

// Error sentinels. Callers should compare with errors.Cause to see
// through wrapping.
var (
	// ErrObjectNotFound is returned when a key holds no object.
	ErrObjectNotFound = errors.New("object not found")
	// ErrObjectUnrecoverable is returned when too many backends have
	// failed for the redundancy level to reconstruct an object.
	ErrObjectUnrecoverable = errors.New("object not recoverable")
	// ErrBadConfig is returned by constructors for invalid static
	// configuration. It never comes out of the data path.
	ErrBadConfig = errors.New("invalid configuration")
	// ErrBadResolverIndex is returned by a Resolver for an index
	// outside the backend list.
	ErrBadResolverIndex = errors.New("no backend at index")
)

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Cause(err) == ErrObjectNotFound
}

// IsUnrecoverable reports whether err means the object is lost beyond
// what the redundancy level can repair.
func IsUnrecoverable(err error) bool {
	return errors.Cause(err) == ErrObjectUnrecoverable
}

// Params is the bag of backend creation parameters from the config
// file, eg {"root": "/var/cache/poolfs"}.
type Params map[string]string

// Get returns the value for key and whether it was set.
func (p Params) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	value, ok := p[key]
	return value, ok
}

// GetDefault returns the value for key, or deflt if it is not set.
func (p Params) GetDefault(key, deflt string) string {
	if value, ok := p.Get(key); ok {
		return value
	}
	return deflt
}

// An Option describes a single backend creation parameter for
// documentation purposes.
type Option struct {
	Name     string
	Help     string
	Default  string
	Required bool
}

// RegInfo provides information about a registered backend type.
type RegInfo struct {
	// Name of the scheme, as used in config files
	Name string
	// Description, a one line summary
	Description string
	// NewBackend creates a backend from the parameters
	NewBackend func(ctx context.Context, params Params) (Backend, error)
	// Options for creation
	Options []Option
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*RegInfo{}
)

// Register a backend type. Should be called from an init function in
// the implementing package.
func Register(info *RegInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, found := registry[info.Name]; found {
		panic("backend scheme already registered: " + info.Name)
	}
	registry[info.Name] = info
}

// Find looks up a registered backend type by scheme name.
func Find(scheme string) (*RegInfo, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, found := registry[scheme]
	if !found {
		return nil, errors.Wrapf(ErrBadConfig, "unknown backend scheme %q", scheme)
	}
	return info, nil
}

// MustFind looks up a registered backend type, panicking if it is not
// found. For use in tests and init code.
func MustFind(scheme string) *RegInfo {
	info, err := Find(scheme)
	if err != nil {
		panic(err)
	}
	return info
}

// MakeBackend creates a backend of the given scheme from params.
func MakeBackend(ctx context.Context, scheme string, params Params) (Backend, error) {
	info, err := Find(scheme)
	if err != nil {
		return nil, err
	}
	for _, opt := range info.Options {
		if _, ok := params.Get(opt.Name); !ok && opt.Required {
			return nil, errors.Wrapf(ErrBadConfig, "backend %q needs parameter %q", scheme, opt.Name)
		}
	}
	backend, err := info.NewBackend(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %q backend", scheme)
	}
	return backend, nil
}

// CheckClose is a utility function used to check the return from
// Close in a defer statement.
func CheckClose(c io.Closer, err *error) {
	cerr := c.Close()
	if *err == nil {
		*err = cerr
	}
}

// ReadAll reads the whole of in, closing it afterwards.
func ReadAll(in io.ReadCloser) (data []byte, err error) {
	defer CheckClose(in, &err)
	return io.ReadAll(in)
}
