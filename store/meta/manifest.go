package meta

// Wire format of the persisted records.
//
// Records are stored as JSON. Required fields are declared as
// pointers so that absent and zero-valued fields can be told apart on
// read, and a record failing validation is reported as corrupt rather
// than silently defaulted.

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

const (
	// metaVersion is bumped when the record format changes
	// incompatibly.
	metaVersion = 1

	// maxRecordSize caps a stored record. A record bigger than this
	// is corrupt, not big.
	maxRecordSize = 1 << 20
)

type manifestJSON struct {
	Version      *int          `json:"ver"`
	Level        *int          `json:"level"`
	Size         *int64        `json:"size"`
	ChunkCount   *int          `json:"nchunks"`
	StripeSize   *int          `json:"stripe"`
	BackendCount *int          `json:"nbackends"`
	MirrorCount  int           `json:"mirrors,omitempty"`
	Mapping      map[int][]int `json:"mapping,omitempty"`
	TxID         string        `json:"txid,omitempty"`
	SavedAt      time.Time     `json:"saved_at"`
}

// marshalManifest encodes a manifest for storage.
func marshalManifest(m *Manifest) ([]byte, error) {
	version := metaVersion
	level := m.Level
	size := m.Size
	chunkCount := m.ChunkCount
	stripeSize := m.StripeSize
	backendCount := m.BackendCount
	record := manifestJSON{
		Version:      &version,
		Level:        &level,
		Size:         &size,
		ChunkCount:   &chunkCount,
		StripeSize:   &stripeSize,
		BackendCount: &backendCount,
		MirrorCount:  m.MirrorCount,
		Mapping:      m.Mapping,
		TxID:         m.TxID,
		SavedAt:      m.SavedAt,
	}
	data, err := json.Marshal(&record)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal manifest for %q", m.Key)
	}
	return data, nil
}

// unmarshalManifest decodes and validates a stored manifest record.
func unmarshalManifest(key string, data []byte) (*Manifest, error) {
	if len(data) > maxRecordSize {
		return nil, errors.Errorf("manifest record for %q too big (%d bytes)", key, len(data))
	}
	var record manifestJSON
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrapf(err, "corrupt manifest record for %q", key)
	}
	switch {
	case record.Version == nil || record.Level == nil || record.Size == nil ||
		record.ChunkCount == nil || record.StripeSize == nil || record.BackendCount == nil:
		return nil, errors.Errorf("manifest record for %q misses required fields", key)
	case *record.Version < 1 || *record.Version > metaVersion:
		return nil, errors.Errorf("manifest record for %q has unsupported version %d", key, *record.Version)
	case *record.Size < 0 || *record.ChunkCount < 0 || *record.StripeSize <= 0 ||
		*record.BackendCount <= 0 || record.MirrorCount < 0:
		return nil, errors.Errorf("manifest record for %q has invalid fields", key)
	}
	for backend, chunks := range record.Mapping {
		if backend < 0 || backend >= *record.BackendCount {
			return nil, errors.Errorf("manifest record for %q maps unknown backend %d", key, backend)
		}
		for _, n := range chunks {
			if n < 0 || n >= *record.ChunkCount {
				return nil, errors.Errorf("manifest record for %q maps unknown chunk %d", key, n)
			}
		}
	}
	return &Manifest{
		Key:          key,
		Level:        *record.Level,
		Size:         *record.Size,
		ChunkCount:   *record.ChunkCount,
		StripeSize:   *record.StripeSize,
		BackendCount: *record.BackendCount,
		MirrorCount:  record.MirrorCount,
		Mapping:      record.Mapping,
		TxID:         record.TxID,
		SavedAt:      record.SavedAt,
	}, nil
}

type tierJSON struct {
	Version     *int      `json:"ver"`
	Tier        *int      `json:"tier"`
	AccessCount int64     `json:"access_count"`
	LastAccess  time.Time `json:"last_access"`
	Size        int64     `json:"size"`
}

// marshalTier encodes a tier entry for storage.
func marshalTier(e *TierEntry) ([]byte, error) {
	version := metaVersion
	tier := e.Tier
	record := tierJSON{
		Version:     &version,
		Tier:        &tier,
		AccessCount: e.AccessCount,
		LastAccess:  e.LastAccess,
		Size:        e.Size,
	}
	data, err := json.Marshal(&record)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal tier entry for %q", e.Key)
	}
	return data, nil
}

// unmarshalTier decodes and validates a stored tier entry record.
func unmarshalTier(key string, data []byte) (*TierEntry, error) {
	if len(data) > maxRecordSize {
		return nil, errors.Errorf("tier record for %q too big (%d bytes)", key, len(data))
	}
	var record tierJSON
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrapf(err, "corrupt tier record for %q", key)
	}
	switch {
	case record.Version == nil || record.Tier == nil:
		return nil, errors.Errorf("tier record for %q misses required fields", key)
	case *record.Version < 1 || *record.Version > metaVersion:
		return nil, errors.Errorf("tier record for %q has unsupported version %d", key, *record.Version)
	case *record.Tier < 0 || record.AccessCount < 0 || record.Size < 0:
		return nil, errors.Errorf("tier record for %q has invalid fields", key)
	}
	return &TierEntry{
		Key:         key,
		Tier:        *record.Tier,
		AccessCount: record.AccessCount,
		LastAccess:  record.LastAccess,
		Size:        record.Size,
	}, nil
}
