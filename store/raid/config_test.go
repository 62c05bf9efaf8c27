package raid

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v2"

	"github.com/poolfs/poolfs/store"
)

func TestLevelString(t *testing.T) {
	assert.Equal(t, "raid0", Striping.String())
	assert.Equal(t, "raid5", SingleParity.String())
	assert.Equal(t, "raid60", StripedDual.String())
	assert.Equal(t, "Level(7)", Level(7).String())
}

func TestLevelSet(t *testing.T) {
	for _, test := range []struct {
		in   string
		want Level
		err  bool
	}{
		{"0", Striping, false},
		{"raid1", Mirroring, false},
		{"RAID5", SingleParity, false},
		{"6", DualParity, false},
		{"raid10", MirroredStripe, false},
		{"50", StripedParity, false},
		{"raid60", StripedDual, false},
		{"7", 0, true},
		{"raid2", 0, true},
		{"potato", 0, true},
		{"", 0, true},
	} {
		var l Level
		err := l.Set(test.in)
		if test.err {
			require.Error(t, err, test.in)
			continue
		}
		require.NoError(t, err, test.in)
		assert.Equal(t, test.want, l, test.in)
	}
}

func TestParityAlgorithmSet(t *testing.T) {
	var p ParityAlgorithm
	require.NoError(t, p.Set("xor"))
	assert.Equal(t, ParityXOR, p)
	require.NoError(t, p.Set("Reed-Solomon"))
	assert.Equal(t, ParityReedSolomon, p)
	assert.Equal(t, "reed-solomon", p.String())
	require.Error(t, p.Set("parity"))
}

func TestConfigDefault(t *testing.T) {
	c := Config{Level: SingleParity, BackendCount: 3}
	c.Default()
	assert.Equal(t, DefaultStripeSize, c.StripeSize)
	assert.Equal(t, DefaultMirrorCount, c.MirrorCount)
	assert.Equal(t, DefaultHealthCheckInterval, c.HealthCheckInterval)
	assert.Equal(t, ParityXOR, c.Parity)

	c = Config{Level: DualParity, BackendCount: 4}
	c.Default()
	assert.Equal(t, ParityReedSolomon, c.Parity)
}

func TestConfigValidate(t *testing.T) {
	for _, test := range []struct {
		what string
		cfg  Config
		ok   bool
	}{
		{"raid0 too few", Config{Level: Striping, BackendCount: 1}, false},
		{"raid0", Config{Level: Striping, BackendCount: 2}, true},
		{"raid1 few mirrors", Config{Level: Mirroring, BackendCount: 3, MirrorCount: 1}, false},
		{"raid1 more mirrors than backends", Config{Level: Mirroring, BackendCount: 2, MirrorCount: 3}, false},
		{"raid1", Config{Level: Mirroring, BackendCount: 3, MirrorCount: 3}, true},
		{"raid5 too few", Config{Level: SingleParity, BackendCount: 2}, false},
		{"raid5", Config{Level: SingleParity, BackendCount: 3}, true},
		{"raid6 too few", Config{Level: DualParity, BackendCount: 3}, false},
		{"raid6", Config{Level: DualParity, BackendCount: 4}, true},
		{"raid6 too wide", Config{Level: DualParity, BackendCount: 300}, false},
		{"raid10 odd", Config{Level: MirroredStripe, BackendCount: 5}, false},
		{"raid10 too few", Config{Level: MirroredStripe, BackendCount: 2}, false},
		{"raid10", Config{Level: MirroredStripe, BackendCount: 4}, true},
		{"raid50 too few", Config{Level: StripedParity, BackendCount: 4}, false},
		{"raid50 odd", Config{Level: StripedParity, BackendCount: 7}, false},
		{"raid50", Config{Level: StripedParity, BackendCount: 6}, true},
		{"raid60 too few", Config{Level: StripedDual, BackendCount: 6}, false},
		{"raid60", Config{Level: StripedDual, BackendCount: 8}, true},
		{"unknown level", Config{Level: 7, BackendCount: 8}, false},
		{"negative stripe", Config{Level: SingleParity, BackendCount: 3, StripeSize: -1}, false},
		{"xor dual parity", Config{Level: DualParity, BackendCount: 4, Parity: ParityXOR}, false},
		{"reed-solomon single parity", Config{Level: SingleParity, BackendCount: 3, Parity: ParityReedSolomon}, false},
		{"rebuild rate below stripe", Config{Level: SingleParity, BackendCount: 3, RebuildRate: 1}, false},
		{"rebuild rate", Config{Level: SingleParity, BackendCount: 3, RebuildRate: 10 * store.Mebi}, true},
	} {
		cfg := test.cfg
		cfg.Default()
		err := cfg.Validate()
		if test.ok {
			assert.NoError(t, err, test.what)
		} else {
			require.Error(t, err, test.what)
			assert.Equal(t, store.ErrBadConfig, errors.Cause(err), test.what)
		}
	}
}

func TestConfigYAML(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(`
level: raid6
backend_count: 5
stripe_size: 4Ki
mirror_count: 2
health_check_interval: "off"
auto_rebuild: true
rebuild_rate: 10Mi
`), &cfg))
	assert.Equal(t, DualParity, cfg.Level)
	assert.Equal(t, 5, cfg.BackendCount)
	assert.Equal(t, 4*store.Kibi, cfg.StripeSize)
	assert.Equal(t, store.DurationOff, cfg.HealthCheckInterval)
	assert.True(t, cfg.AutoRebuild)
	assert.Equal(t, 10*store.Mebi, cfg.RebuildRate)
	cfg.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ParityReedSolomon, cfg.Parity)

	var lvl Level
	require.NoError(t, yaml.Unmarshal([]byte(`5`), &lvl))
	assert.Equal(t, SingleParity, lvl)
	require.Error(t, yaml.Unmarshal([]byte(`3`), &lvl))
}
