package meta

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/poolfs/poolfs/store"
)

// Bucket names inside the bolt file.
const (
	manifestBucket = "manifests"
	tierBucket     = "tiers"
)

// Bolt is a persistent Store over a bolt database file.
type Bolt struct {
	dbPath string
	db     *bolt.DB
}

// NewBolt opens (creating if needed) the bolt file at dbPath and
// prepares the buckets.
func NewBolt(dbPath string) (*Bolt, error) {
	err := os.MkdirAll(filepath.Dir(dbPath), os.ModePerm)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create meta directory for %q", dbPath)
	}
	db, err := bolt.Open(dbPath, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open meta store %q, is another instance using it?", dbPath)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(manifestBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(tierBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to prepare meta store %q", dbPath)
	}
	return &Bolt{dbPath: dbPath, db: db}, nil
}

// Check the interface is satisfied
var _ Store = (*Bolt)(nil)

// String returns the db path for logging
func (s *Bolt) String() string {
	return "<Meta DB> " + s.dbPath
}

func (s *Bolt) put(bucket, key string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

func (s *Bolt) get(bucket, key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if value == nil {
			return errors.Wrapf(store.ErrObjectNotFound, "no record for %q", key)
		}
		data = append([]byte(nil), value...)
		return nil
	})
	return data, err
}

func (s *Bolt) delete(bucket, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete([]byte(key))
	})
}

// SetManifest stores m under its key.
func (s *Bolt) SetManifest(m *Manifest) error {
	data, err := marshalManifest(m)
	if err != nil {
		return err
	}
	return s.put(manifestBucket, m.Key, data)
}

// GetManifest retrieves the manifest for key.
func (s *Bolt) GetManifest(key string) (*Manifest, error) {
	data, err := s.get(manifestBucket, key)
	if err != nil {
		return nil, err
	}
	return unmarshalManifest(key, data)
}

// DeleteManifest removes the manifest for key.
func (s *Bolt) DeleteManifest(key string) error {
	return s.delete(manifestBucket, key)
}

// ListManifests calls fn for every manifest.
func (s *Bolt) ListManifests(fn func(*Manifest) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(manifestBucket)).ForEach(func(k, v []byte) error {
			m, err := unmarshalManifest(string(k), v)
			if err != nil {
				return err
			}
			return fn(m)
		})
	})
}

// SetTier stores e under its key.
func (s *Bolt) SetTier(e *TierEntry) error {
	data, err := marshalTier(e)
	if err != nil {
		return err
	}
	return s.put(tierBucket, e.Key, data)
}

// GetTier retrieves the tier entry for key.
func (s *Bolt) GetTier(key string) (*TierEntry, error) {
	data, err := s.get(tierBucket, key)
	if err != nil {
		return nil, err
	}
	return unmarshalTier(key, data)
}

// DeleteTier removes the tier entry for key.
func (s *Bolt) DeleteTier(key string) error {
	return s.delete(tierBucket, key)
}

// ListTiers calls fn for every tier entry.
func (s *Bolt) ListTiers(fn func(*TierEntry) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(tierBucket)).ForEach(func(k, v []byte) error {
			e, err := unmarshalTier(string(k), v)
			if err != nil {
				return err
			}
			return fn(e)
		})
	})
}

// Close releases the database file.
func (s *Bolt) Close() error {
	return s.db.Close()
}
