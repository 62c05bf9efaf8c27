// Package raid implements the redundancy engine: it spreads an
// object's bytes across N backends according to a redundancy level,
// writes parity where the level calls for it, and reconstructs lost
// chunks on read. Per backend health is tracked from read failures
// and a single rebuild task can restore a failed backend from the
// surviving ones.
package raid

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/poolfs/poolfs/store"
)

// Level is the redundancy level of an engine. The values follow the
// conventional RAID numbering.
type Level int

// Supported redundancy levels
const (
	Striping       Level = 0  // chunks spread across backends, no redundancy
	Mirroring      Level = 1  // whole object copied to several backends
	SingleParity   Level = 5  // striped with one rotating XOR parity
	DualParity     Level = 6  // striped with rotating P and Q parity
	MirroredStripe Level = 10 // striped across mirrored pairs
	StripedParity  Level = 50 // two striped single parity groups
	StripedDual    Level = 60 // two striped dual parity groups
)

var levelNames = map[Level]string{
	Striping:       "raid0",
	Mirroring:      "raid1",
	SingleParity:   "raid5",
	DualParity:     "raid6",
	MirroredStripe: "raid10",
	StripedParity:  "raid50",
	StripedDual:    "raid60",
}

// String turns a Level into a string
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Set a Level from a string, accepting both "5" and "raid5" forms.
func (l *Level) Set(s string) error {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(s), "raid"))
	if err != nil {
		return errors.Errorf("unknown redundancy level %q", s)
	}
	if _, ok := levelNames[Level(n)]; !ok {
		return errors.Errorf("unknown redundancy level %q", s)
	}
	*l = Level(n)
	return nil
}

// Type of the value
func (l Level) Type() string {
	return "Level"
}

// UnmarshalYAML makes sure the value can be parsed as a number or a
// "raidN" string in YAML.
func (l *Level) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var n int
	if err := unmarshal(&n); err == nil {
		if _, ok := levelNames[Level(n)]; !ok {
			return errors.Errorf("unknown redundancy level %d", n)
		}
		*l = Level(n)
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return l.Set(s)
}

// MarshalYAML turns the value back into the string form
func (l Level) MarshalYAML() (interface{}, error) {
	return l.String(), nil
}

// ParityAlgorithm selects how parity blocks are computed.
type ParityAlgorithm int

// Parity algorithms
const (
	ParityDefault     ParityAlgorithm = iota // pick per level
	ParityXOR                                // plain XOR, one recoverable loss
	ParityReedSolomon                        // GF(2^8) weighted, two recoverable losses
)

var parityNames = []string{"default", "xor", "reed-solomon"}

// String turns a ParityAlgorithm into a string
func (p ParityAlgorithm) String() string {
	if p < 0 || int(p) >= len(parityNames) {
		return fmt.Sprintf("ParityAlgorithm(%d)", int(p))
	}
	return parityNames[p]
}

// Set a ParityAlgorithm from a string
func (p *ParityAlgorithm) Set(s string) error {
	for i, name := range parityNames {
		if strings.EqualFold(s, name) {
			*p = ParityAlgorithm(i)
			return nil
		}
	}
	return errors.Errorf("unknown parity algorithm %q", s)
}

// UnmarshalYAML parses the string form
func (p *ParityAlgorithm) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return p.Set(s)
}

// MarshalYAML turns the value back into the string form
func (p ParityAlgorithm) MarshalYAML() (interface{}, error) {
	return p.String(), nil
}

// Default values for Config fields left unset.
const (
	DefaultStripeSize          = 64 * store.Kibi
	DefaultMirrorCount         = 2
	DefaultHealthCheckInterval = store.Duration(30 * time.Second)
)

// Config configures an Engine. It is validated at construction and
// immutable afterwards.
type Config struct {
	Level               Level            `yaml:"level"`
	BackendCount        int              `yaml:"backend_count"`
	StripeSize          store.SizeSuffix `yaml:"stripe_size"`
	MirrorCount         int              `yaml:"mirror_count"`
	Parity              ParityAlgorithm  `yaml:"parity_algorithm"`
	HealthCheckInterval store.Duration   `yaml:"health_check_interval"`
	AutoRebuild         bool             `yaml:"auto_rebuild"`
	RebuildRate         store.SizeSuffix `yaml:"rebuild_rate"` // bytes/s, 0 for unlimited
}

// Default fills in defaults for unset fields.
func (c *Config) Default() {
	if c.StripeSize == 0 {
		c.StripeSize = DefaultStripeSize
	}
	if c.MirrorCount == 0 {
		c.MirrorCount = DefaultMirrorCount
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.Parity == ParityDefault {
		switch c.Level {
		case DualParity, StripedDual:
			c.Parity = ParityReedSolomon
		default:
			c.Parity = ParityXOR
		}
	}
}

// Validate checks the configuration against the requested level. Call
// Default first to fill in unset fields.
func (c Config) Validate() error {
	if _, ok := levelNames[c.Level]; !ok {
		return errors.Wrapf(store.ErrBadConfig, "unknown redundancy level %d", int(c.Level))
	}
	if c.StripeSize <= 0 {
		return errors.Wrapf(store.ErrBadConfig, "stripe_size must be positive, got %v", c.StripeSize)
	}
	n := c.BackendCount
	switch c.Level {
	case Striping:
		if n < 2 {
			return errors.Wrapf(store.ErrBadConfig, "%v needs at least 2 backends, got %d", c.Level, n)
		}
	case Mirroring:
		if c.MirrorCount < 2 {
			return errors.Wrapf(store.ErrBadConfig, "%v needs a mirror_count of at least 2, got %d", c.Level, c.MirrorCount)
		}
		if n < c.MirrorCount {
			return errors.Wrapf(store.ErrBadConfig, "%v needs at least mirror_count (%d) backends, got %d", c.Level, c.MirrorCount, n)
		}
	case SingleParity:
		if n < 3 {
			return errors.Wrapf(store.ErrBadConfig, "%v needs at least 3 backends, got %d", c.Level, n)
		}
	case DualParity:
		if n < 4 {
			return errors.Wrapf(store.ErrBadConfig, "%v needs at least 4 backends, got %d", c.Level, n)
		}
		if n > 255 {
			return errors.Wrapf(store.ErrBadConfig, "%v supports at most 255 backends, got %d", c.Level, n)
		}
	case MirroredStripe:
		if n < 4 || n%2 != 0 {
			return errors.Wrapf(store.ErrBadConfig, "%v needs an even number of backends, at least 4, got %d", c.Level, n)
		}
	case StripedParity:
		if n < 6 || n%2 != 0 {
			return errors.Wrapf(store.ErrBadConfig, "%v needs an even number of backends, at least 6, got %d", c.Level, n)
		}
	case StripedDual:
		if n < 8 || n%2 != 0 {
			return errors.Wrapf(store.ErrBadConfig, "%v needs an even number of backends, at least 8, got %d", c.Level, n)
		}
		if n/2 > 255 {
			return errors.Wrapf(store.ErrBadConfig, "%v supports at most 255 backends per group, got %d", c.Level, n/2)
		}
	}
	switch c.Level {
	case DualParity, StripedDual:
		if c.Parity == ParityXOR {
			return errors.Wrapf(store.ErrBadConfig, "%v requires the reed-solomon parity algorithm", c.Level)
		}
	case SingleParity, StripedParity:
		if c.Parity == ParityReedSolomon {
			return errors.Wrapf(store.ErrBadConfig, "%v uses xor parity", c.Level)
		}
	}
	if c.RebuildRate > 0 && c.RebuildRate < c.StripeSize {
		return errors.Wrapf(store.ErrBadConfig, "rebuild_rate %v must be at least stripe_size %v", c.RebuildRate, c.StripeSize)
	}
	return nil
}
