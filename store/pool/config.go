package pool

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/poolfs/poolfs/store"
	"github.com/poolfs/poolfs/store/meta"
	"github.com/poolfs/poolfs/store/raid"
)

// Mode selects the policy a pool dispatches its operations through.
type Mode int

// Pool policies
const (
	ModeIndependent Mode = iota // pass everything to one primary backend
	ModeCache                   // fast cache backend in front of a durable primary
	ModeTiered                  // hot to cold tier chain with background migration
	ModePool                    // backends combined through the redundancy engine
)

var modeNames = []string{"independent", "cache", "tiered", "pool"}

// String turns a Mode into a string
func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// Set a Mode from a string
func (m *Mode) Set(s string) error {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			*m = Mode(i)
			return nil
		}
	}
	return errors.Errorf("unknown pool mode %q", s)
}

// Type of the value
func (m Mode) Type() string {
	return "Mode"
}

// UnmarshalYAML parses the string form
func (m *Mode) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return m.Set(s)
}

// MarshalYAML turns the value back into the string form
func (m Mode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// CacheStrategy selects how cache mode handles writes.
type CacheStrategy int

// Cache write strategies
const (
	WriteThrough CacheStrategy = iota // write cache and primary synchronously
	WriteBack                         // write cache, flush primary in the background
)

var strategyNames = []string{"write-through", "write-back"}

// String turns a CacheStrategy into a string
func (c CacheStrategy) String() string {
	if c < 0 || int(c) >= len(strategyNames) {
		return fmt.Sprintf("CacheStrategy(%d)", int(c))
	}
	return strategyNames[c]
}

// Set a CacheStrategy from a string, accepting "write-back" and
// "write_back" forms.
func (c *CacheStrategy) Set(s string) error {
	s = strings.ReplaceAll(s, "_", "-")
	for i, name := range strategyNames {
		if strings.EqualFold(s, name) {
			*c = CacheStrategy(i)
			return nil
		}
	}
	return errors.Errorf("unknown cache strategy %q", s)
}

// Type of the value
func (c CacheStrategy) Type() string {
	return "CacheStrategy"
}

// UnmarshalYAML parses the string form
func (c *CacheStrategy) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return c.Set(s)
}

// MarshalYAML turns the value back into the string form
func (c CacheStrategy) MarshalYAML() (interface{}, error) {
	return c.String(), nil
}

// Default values for Config fields left unset.
const (
	DefaultHotThreshold      = 5
	DefaultWarmThreshold     = 2
	DefaultMigrationInterval = store.Duration(5 * time.Minute)
	DefaultPoolMirrorCount   = 2
)

// Config configures a Pool. Which fields matter depends on Mode: the
// IDs name members of the pool, and the remaining fields tune the
// policy the mode selects. It is validated at construction and
// immutable afterwards.
type Config struct {
	Mode              Mode             `yaml:"mode"`
	PrimaryID         string           `yaml:"primary_id"`         // independent, cache
	CacheID           string           `yaml:"cache_id"`           // cache
	TierIDs           []string         `yaml:"tier_ids"`           // tiered, hottest first
	PoolIDs           []string         `yaml:"pool_ids"`           // pool, resolver order
	CacheStrategy     CacheStrategy    `yaml:"cache_strategy"`     // cache
	HotThreshold      int64            `yaml:"hot_threshold"`      // tiered
	WarmThreshold     int64            `yaml:"warm_threshold"`     // tiered
	MigrationInterval store.Duration   `yaml:"migration_interval"` // tiered, "off" disables the sweep
	PoolMirrorCount   int              `yaml:"pool_mirror_count"`  // pool without redundancy
	PoolStripeSize    store.SizeSuffix `yaml:"pool_stripe_size"`   // pool with redundancy
	ExistsCacheTTL    store.Duration   `yaml:"exists_cache_ttl"`   // 0 disables the exists cache
	Redundancy        *raid.Config     `yaml:"redundancy"`         // pool
}

// Default fills in defaults for unset fields.
func (c *Config) Default() {
	if c.HotThreshold == 0 {
		c.HotThreshold = DefaultHotThreshold
	}
	if c.WarmThreshold == 0 {
		c.WarmThreshold = DefaultWarmThreshold
	}
	if c.MigrationInterval == 0 {
		c.MigrationInterval = DefaultMigrationInterval
	}
	if c.PoolMirrorCount == 0 {
		c.PoolMirrorCount = DefaultPoolMirrorCount
	}
}

// Validate checks the configuration for the selected mode. Call
// Default first to fill in unset fields.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeIndependent:
		if c.PrimaryID == "" {
			return errors.Wrap(store.ErrBadConfig, "independent mode needs a primary_id")
		}
	case ModeCache:
		if c.PrimaryID == "" || c.CacheID == "" {
			return errors.Wrap(store.ErrBadConfig, "cache mode needs a primary_id and a cache_id")
		}
		if c.PrimaryID == c.CacheID {
			return errors.Wrapf(store.ErrBadConfig, "cache mode needs distinct backends, both are %q", c.PrimaryID)
		}
		if c.CacheStrategy != WriteThrough && c.CacheStrategy != WriteBack {
			return errors.Wrapf(store.ErrBadConfig, "unknown cache strategy %d", int(c.CacheStrategy))
		}
	case ModeTiered:
		if len(c.TierIDs) < 2 {
			return errors.Wrapf(store.ErrBadConfig, "tiered mode needs at least 2 tiers, got %d", len(c.TierIDs))
		}
		if err := checkDistinct(c.TierIDs); err != nil {
			return errors.Wrap(err, "tier_ids")
		}
		if c.WarmThreshold < 1 {
			return errors.Wrapf(store.ErrBadConfig, "warm_threshold must be at least 1, got %d", c.WarmThreshold)
		}
		if c.HotThreshold <= c.WarmThreshold {
			return errors.Wrapf(store.ErrBadConfig, "hot_threshold %d must be above warm_threshold %d", c.HotThreshold, c.WarmThreshold)
		}
	case ModePool:
		if len(c.PoolIDs) < 2 {
			return errors.Wrapf(store.ErrBadConfig, "pool mode needs at least 2 backends, got %d", len(c.PoolIDs))
		}
		if err := checkDistinct(c.PoolIDs); err != nil {
			return errors.Wrap(err, "pool_ids")
		}
		if c.Redundancy == nil {
			if c.PoolMirrorCount < 2 || c.PoolMirrorCount > len(c.PoolIDs) {
				return errors.Wrapf(store.ErrBadConfig, "pool_mirror_count %d must be between 2 and the %d pool backends", c.PoolMirrorCount, len(c.PoolIDs))
			}
		} else if c.Redundancy.BackendCount != 0 && c.Redundancy.BackendCount != len(c.PoolIDs) {
			return errors.Wrapf(store.ErrBadConfig, "redundancy backend_count %d does not match the %d pool backends", c.Redundancy.BackendCount, len(c.PoolIDs))
		}
	default:
		return errors.Wrapf(store.ErrBadConfig, "unknown pool mode %d", int(c.Mode))
	}
	return nil
}

func checkDistinct(ids []string) error {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return errors.Wrap(store.ErrBadConfig, "backend id must not be empty")
		}
		if seen[id] {
			return errors.Wrapf(store.ErrBadConfig, "backend %q listed twice", id)
		}
		seen[id] = true
	}
	return nil
}

// redundancyConfig builds the engine configuration for pool mode,
// filling engine fields the pool level settings cover.
func (c Config) redundancyConfig() raid.Config {
	rcfg := *c.Redundancy
	if rcfg.BackendCount == 0 {
		rcfg.BackendCount = len(c.PoolIDs)
	}
	if rcfg.StripeSize == 0 && c.PoolStripeSize > 0 {
		rcfg.StripeSize = c.PoolStripeSize
	}
	if rcfg.MirrorCount == 0 && c.PoolMirrorCount > 0 {
		rcfg.MirrorCount = c.PoolMirrorCount
	}
	return rcfg
}

// FileBackend is one backend declaration in a pool configuration
// file.
type FileBackend struct {
	ID     string       `yaml:"id"`
	Scheme string       `yaml:"scheme"`
	Params store.Params `yaml:"params"`
}

// FileConfig is the top level of a pool configuration file: the
// backends to create and the pool policy over them. Member order in
// the file is the pool's registration order.
type FileConfig struct {
	Backends []FileBackend `yaml:"backends"`
	Pool     Config        `yaml:"pool"`
}

// ParseConfig parses a YAML pool configuration. Unknown fields are
// rejected so typos do not silently fall back to defaults.
func ParseConfig(data []byte) (*FileConfig, error) {
	fc := &FileConfig{}
	if err := yaml.UnmarshalStrict(data, fc); err != nil {
		return nil, errors.Wrap(err, "failed to parse pool configuration")
	}
	if len(fc.Backends) == 0 {
		return nil, errors.Wrap(store.ErrBadConfig, "configuration declares no backends")
	}
	return fc, nil
}

// LoadConfig reads and parses a YAML pool configuration file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read pool configuration %q", path)
	}
	return ParseConfig(data)
}

// Build creates the declared backends through the scheme registry and
// assembles the pool over them.
func (fc *FileConfig) Build(ctx context.Context, records meta.Store) (*Pool, error) {
	members := make([]Member, 0, len(fc.Backends))
	for _, fb := range fc.Backends {
		if fb.ID == "" {
			return nil, errors.Wrapf(store.ErrBadConfig, "backend with scheme %q has no id", fb.Scheme)
		}
		backend, err := store.MakeBackend(ctx, fb.Scheme, fb.Params)
		if err != nil {
			return nil, errors.Wrapf(err, "backend %q", fb.ID)
		}
		members = append(members, Member{ID: fb.ID, Backend: backend})
	}
	return New(fc.Pool, members, records)
}
