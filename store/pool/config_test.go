package pool

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v2"

	"github.com/poolfs/poolfs/backend/memory"
	"github.com/poolfs/poolfs/store"
	"github.com/poolfs/poolfs/store/meta"
	"github.com/poolfs/poolfs/store/raid"
)

func TestModeString(t *testing.T) {
	assert.Equal(t, "independent", ModeIndependent.String())
	assert.Equal(t, "cache", ModeCache.String())
	assert.Equal(t, "tiered", ModeTiered.String())
	assert.Equal(t, "pool", ModePool.String())
	assert.Equal(t, "Mode(9)", Mode(9).String())
}

func TestModeSet(t *testing.T) {
	for _, test := range []struct {
		in   string
		want Mode
		err  bool
	}{
		{"independent", ModeIndependent, false},
		{"Cache", ModeCache, false},
		{"TIERED", ModeTiered, false},
		{"pool", ModePool, false},
		{"potato", 0, true},
		{"", 0, true},
	} {
		var m Mode
		err := m.Set(test.in)
		if test.err {
			require.Error(t, err, test.in)
			continue
		}
		require.NoError(t, err, test.in)
		assert.Equal(t, test.want, m, test.in)
	}
}

func TestCacheStrategySet(t *testing.T) {
	var c CacheStrategy
	require.NoError(t, c.Set("write-back"))
	assert.Equal(t, WriteBack, c)
	require.NoError(t, c.Set("WRITE_THROUGH"))
	assert.Equal(t, WriteThrough, c)
	assert.Equal(t, "write-through", c.String())
	require.Error(t, c.Set("write-around"))
}

func TestConfigDefault(t *testing.T) {
	c := Config{Mode: ModeTiered, TierIDs: []string{"a", "b"}}
	c.Default()
	assert.Equal(t, int64(DefaultHotThreshold), c.HotThreshold)
	assert.Equal(t, int64(DefaultWarmThreshold), c.WarmThreshold)
	assert.Equal(t, DefaultMigrationInterval, c.MigrationInterval)
	assert.Equal(t, DefaultPoolMirrorCount, c.PoolMirrorCount)
}

func TestConfigValidate(t *testing.T) {
	for _, test := range []struct {
		what string
		cfg  Config
		ok   bool
	}{
		{"independent", Config{Mode: ModeIndependent, PrimaryID: "a"}, true},
		{"independent no primary", Config{Mode: ModeIndependent}, false},
		{"cache", Config{Mode: ModeCache, PrimaryID: "a", CacheID: "b"}, true},
		{"cache write-back", Config{Mode: ModeCache, PrimaryID: "a", CacheID: "b", CacheStrategy: WriteBack}, true},
		{"cache no cache id", Config{Mode: ModeCache, PrimaryID: "a"}, false},
		{"cache same backend", Config{Mode: ModeCache, PrimaryID: "a", CacheID: "a"}, false},
		{"cache bad strategy", Config{Mode: ModeCache, PrimaryID: "a", CacheID: "b", CacheStrategy: 7}, false},
		{"tiered", Config{Mode: ModeTiered, TierIDs: []string{"a", "b", "c"}}, true},
		{"tiered two tiers", Config{Mode: ModeTiered, TierIDs: []string{"a", "b"}}, true},
		{"tiered one tier", Config{Mode: ModeTiered, TierIDs: []string{"a"}}, false},
		{"tiered duplicate tier", Config{Mode: ModeTiered, TierIDs: []string{"a", "a"}}, false},
		{"tiered empty tier id", Config{Mode: ModeTiered, TierIDs: []string{"a", ""}}, false},
		{"tiered bad warm threshold", Config{Mode: ModeTiered, TierIDs: []string{"a", "b"}, WarmThreshold: -1}, false},
		{"tiered hot below warm", Config{Mode: ModeTiered, TierIDs: []string{"a", "b"}, HotThreshold: 2, WarmThreshold: 2}, false},
		{"pool", Config{Mode: ModePool, PoolIDs: []string{"a", "b"}}, true},
		{"pool one backend", Config{Mode: ModePool, PoolIDs: []string{"a"}}, false},
		{"pool duplicate backend", Config{Mode: ModePool, PoolIDs: []string{"a", "a"}}, false},
		{"pool mirror count too big", Config{Mode: ModePool, PoolIDs: []string{"a", "b"}, PoolMirrorCount: 3}, false},
		{"pool with redundancy", Config{Mode: ModePool, PoolIDs: []string{"a", "b", "c"},
			Redundancy: &raid.Config{Level: raid.SingleParity}}, true},
		{"pool redundancy count mismatch", Config{Mode: ModePool, PoolIDs: []string{"a", "b", "c"},
			Redundancy: &raid.Config{Level: raid.SingleParity, BackendCount: 4}}, false},
		{"unknown mode", Config{Mode: 9}, false},
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

func TestRedundancyConfigFill(t *testing.T) {
	cfg := Config{
		Mode:           ModePool,
		PoolIDs:        []string{"a", "b", "c"},
		PoolStripeSize: 4 * store.Kibi,
		Redundancy:     &raid.Config{Level: raid.SingleParity},
	}
	cfg.Default()
	rcfg := cfg.redundancyConfig()
	assert.Equal(t, 3, rcfg.BackendCount)
	assert.Equal(t, 4*store.Kibi, rcfg.StripeSize)
	// explicit engine settings win over the pool level ones
	cfg.Redundancy.StripeSize = 8 * store.Kibi
	rcfg = cfg.redundancyConfig()
	assert.Equal(t, 8*store.Kibi, rcfg.StripeSize)
}

func TestTargetTier(t *testing.T) {
	p := newTieredPool(t, 3)
	for _, test := range []struct {
		count int64
		want  int
	}{
		{0, 2}, {1, 2}, {2, 1}, {4, 1}, {5, 0}, {100, 0},
	} {
		assert.Equal(t, test.want, p.targetTier(test.count), "count %d", test.count)
	}

	// a two tier chain clamps cold onto the last tier
	p2 := newTieredPool(t, 2)
	assert.Equal(t, 1, p2.targetTier(0))
	assert.Equal(t, 1, p2.targetTier(2))
	assert.Equal(t, 0, p2.targetTier(5))
}

func newTieredPool(t *testing.T, tiers int) *Pool {
	ids := []string{"hot", "warm", "cold"}[:tiers]
	members := make([]Member, tiers)
	for i, id := range ids {
		members[i] = Member{ID: id, Backend: memory.New()}
	}
	cfg := Config{
		Mode:              ModeTiered,
		TierIDs:           ids,
		HotThreshold:      5,
		WarmThreshold:     2,
		MigrationInterval: store.DurationOff,
	}
	p, err := New(cfg, members, meta.NewMem())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Close()) })
	return p
}

func TestConfigYAML(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(`
mode: cache
primary_id: slow
cache_id: fast
cache_strategy: write-back
exists_cache_ttl: 1s
`), &cfg))
	assert.Equal(t, ModeCache, cfg.Mode)
	assert.Equal(t, "slow", cfg.PrimaryID)
	assert.Equal(t, "fast", cfg.CacheID)
	assert.Equal(t, WriteBack, cfg.CacheStrategy)
	assert.Equal(t, store.Duration(time.Second), cfg.ExistsCacheTTL)

	require.Error(t, yaml.Unmarshal([]byte("mode: potato"), &cfg))
}

const sampleConfig = `
backends:
  - id: fast
    scheme: memory
  - id: slow
    scheme: memory
    params:
      flavour: plain
pool:
  mode: tiered
  tier_ids: [fast, slow]
  hot_threshold: 5
  warm_threshold: 2
  migration_interval: "off"
`

func TestParseConfig(t *testing.T) {
	fc, err := ParseConfig([]byte(sampleConfig))
	require.NoError(t, err)
	require.Len(t, fc.Backends, 2)
	assert.Equal(t, "fast", fc.Backends[0].ID)
	assert.Equal(t, "memory", fc.Backends[1].Scheme)
	assert.Equal(t, "plain", fc.Backends[1].Params.GetDefault("flavour", ""))
	assert.Equal(t, ModeTiered, fc.Pool.Mode)
	assert.Equal(t, []string{"fast", "slow"}, fc.Pool.TierIDs)
	assert.False(t, fc.Pool.MigrationInterval.IsSet())

	_, err = ParseConfig([]byte("backends: ["))
	require.Error(t, err)

	// unknown fields are typos, not extensions
	_, err = ParseConfig([]byte("backens:\n  - id: a\n    scheme: memory\n"))
	require.Error(t, err)

	_, err = ParseConfig([]byte("pool:\n  mode: independent\n"))
	require.Error(t, err)
	assert.Equal(t, store.ErrBadConfig, errors.Cause(err))
}

func TestLoadConfigBuild(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	fc, err := LoadConfig(path)
	require.NoError(t, err)
	p, err := fc.Build(context.Background(), meta.NewMem())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, p.Close()) })

	ctx := context.Background()
	require.NoError(t, p.Save(ctx, "greeting", strings.NewReader("hello")))
	rc, err := p.Load(ctx, "greeting")
	require.NoError(t, err)
	data, err := store.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestBuildErrors(t *testing.T) {
	_, err := ParseConfig(nil)
	require.Error(t, err)

	fc := &FileConfig{
		Backends: []FileBackend{{ID: "a", Scheme: "no-such-scheme"}},
		Pool:     Config{Mode: ModeIndependent, PrimaryID: "a"},
	}
	_, err = fc.Build(context.Background(), meta.NewMem())
	require.Error(t, err)
	assert.Equal(t, store.ErrBadConfig, errors.Cause(err))

	fc.Backends[0] = FileBackend{Scheme: "memory"}
	_, err = fc.Build(context.Background(), meta.NewMem())
	require.Error(t, err)
}
