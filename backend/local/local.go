// Package local provides an object storage backend over a local
// filesystem directory. Keys map to file paths below the configured
// root; writes go through a temp file and rename so a crashed save
// never leaves a half written object behind.
package local

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/poolfs/poolfs/store"
)

// Register with store
func init() {
	store.Register(&store.RegInfo{
		Name:        "local",
		Description: "Local filesystem directory",
		NewBackend:  NewBackend,
		Options: []store.Option{{
			Name:     "root",
			Help:     "Directory to store objects in.",
			Required: true,
		}},
	})
}

// NewBackend constructs a local backend from the config parameters.
func NewBackend(ctx context.Context, params store.Params) (store.Backend, error) {
	root, _ := params.Get("root")
	return New(root)
}

// Backend stores objects as files under root.
type Backend struct {
	root string
}

// New creates a local backend rooted at root, creating the directory
// if needed.
func New(root string) (*Backend, error) {
	if root == "" {
		return nil, errors.Wrap(store.ErrBadConfig, "local: root directory not set")
	}
	if err := os.MkdirAll(root, os.ModePerm); err != nil {
		return nil, errors.Wrapf(err, "local: failed to create root %q", root)
	}
	return &Backend{root: root}, nil
}

// Check the interface is satisfied
var _ store.Backend = (*Backend)(nil)

// String converts this Backend to a string for logging
func (b *Backend) String() string {
	return "Local backend at " + b.root
}

// Scheme returns the backend scheme
func (b *Backend) Scheme() string {
	return "local"
}

// filePath maps a key to a path under the root. Rooting the key
// before cleaning keeps ".." segments from escaping the root.
func (b *Backend) filePath(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", errors.Errorf("local: invalid key %q", key)
	}
	return filepath.Join(b.root, filepath.FromSlash(clean)), nil
}

// Save stores the contents of in under key.
func (b *Backend) Save(ctx context.Context, key string, in io.Reader) (err error) {
	full, err := b.filePath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrapf(err, "local: failed to create directory for %q", key)
	}
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return errors.Wrapf(err, "local: failed to create temp file for %q", key)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = io.Copy(tmp, in); err != nil {
		return errors.Wrapf(err, "local: failed to write %q", key)
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrapf(err, "local: failed to close %q", key)
	}
	if err = os.Rename(tmp.Name(), full); err != nil {
		return errors.Wrapf(err, "local: failed to finish %q", key)
	}
	return nil
}

// Load opens the object stored under key.
func (b *Backend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	full, err := b.filePath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(store.ErrObjectNotFound, "local: %q", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "local: failed to open %q", key)
	}
	return f, nil
}

// Delete removes the object stored under key.
func (b *Backend) Delete(ctx context.Context, key string) error {
	full, err := b.filePath(key)
	if err != nil {
		return err
	}
	err = os.Remove(full)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "local: failed to delete %q", key)
	}
	return nil
}

// Exists reports whether key holds an object.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	full, err := b.filePath(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "local: failed to stat %q", key)
	}
	return !info.IsDir(), nil
}
