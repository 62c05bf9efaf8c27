package raid_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poolfs/poolfs/backend/memory"
	"github.com/poolfs/poolfs/lib/random"
	"github.com/poolfs/poolfs/store"
	"github.com/poolfs/poolfs/store/meta"
	"github.com/poolfs/poolfs/store/raid"
)

// failingBackend wraps a Backend so tests can make its reads or
// writes fail.
type failingBackend struct {
	store.Backend
	mu        sync.Mutex
	failLoads bool
	failSaves bool
}

func (f *failingBackend) setFailLoads(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failLoads = v
}

func (f *failingBackend) setFailSaves(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSaves = v
}

func (f *failingBackend) Load(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	bad := f.failLoads
	f.mu.Unlock()
	if bad {
		return nil, errors.New("induced load failure")
	}
	return f.Backend.Load(ctx, key)
}

func (f *failingBackend) Save(ctx context.Context, key string, in io.Reader) error {
	f.mu.Lock()
	bad := f.failSaves
	f.mu.Unlock()
	if bad {
		return errors.New("induced save failure")
	}
	return f.Backend.Save(ctx, key, in)
}

// newTestBackends returns n memory backends wrapped for failure
// injection, plus the underlying memory stores.
func newTestBackends(n int) ([]store.Backend, []*failingBackend, []*memory.Backend) {
	backends := make([]store.Backend, n)
	fails := make([]*failingBackend, n)
	mems := make([]*memory.Backend, n)
	for i := 0; i < n; i++ {
		mems[i] = memory.New()
		fails[i] = &failingBackend{Backend: mems[i]}
		backends[i] = fails[i]
	}
	return backends, fails, mems
}

func newTestEngine(t *testing.T, cfg raid.Config, backends []store.Backend) *raid.Engine {
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = store.DurationOff
	}
	e, err := raid.New(cfg, store.SliceResolver(backends), meta.NewMem())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e
}

func engineLoad(t *testing.T, e *raid.Engine, key string) []byte {
	rc, err := e.Load(context.Background(), key)
	require.NoError(t, err)
	data, err := store.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func totalKeys(mems []*memory.Backend) int {
	n := 0
	for _, m := range mems {
		n += m.Len()
	}
	return n
}

func TestRoundTrip(t *testing.T) {
	const stripe = 1024
	levels := []struct {
		name string
		cfg  raid.Config
	}{
		{"raid0", raid.Config{Level: raid.Striping, BackendCount: 2}},
		{"raid1", raid.Config{Level: raid.Mirroring, BackendCount: 3, MirrorCount: 3}},
		{"raid5", raid.Config{Level: raid.SingleParity, BackendCount: 3}},
		{"raid5-wide", raid.Config{Level: raid.SingleParity, BackendCount: 5}},
		{"raid6", raid.Config{Level: raid.DualParity, BackendCount: 4}},
		{"raid6-wide", raid.Config{Level: raid.DualParity, BackendCount: 6}},
		{"raid10", raid.Config{Level: raid.MirroredStripe, BackendCount: 4}},
		{"raid50", raid.Config{Level: raid.StripedParity, BackendCount: 6}},
		{"raid60", raid.Config{Level: raid.StripedDual, BackendCount: 8}},
	}
	sizes := []int{0, 1, stripe - 1, stripe, 2*stripe + 17, 8 * stripe}
	for _, level := range levels {
		level := level
		t.Run(level.name, func(t *testing.T) {
			for _, size := range sizes {
				size := size
				t.Run(fmt.Sprintf("%dbytes", size), func(t *testing.T) {
					cfg := level.cfg
					cfg.StripeSize = stripe
					backends, _, _ := newTestBackends(cfg.BackendCount)
					e := newTestEngine(t, cfg, backends)

					data := random.SeededBytes(int64(size)+1, size)
					require.NoError(t, e.Save(context.Background(), "obj", bytes.NewReader(data)))
					assert.Equal(t, data, engineLoad(t, e, "obj"))
				})
			}
		})
	}
}

func TestSingleFailureRAID5(t *testing.T) {
	const stripe = 4 * 1024
	data := random.SeededBytes(5, 12*1024)
	for kill := 0; kill < 4; kill++ {
		kill := kill
		t.Run(fmt.Sprintf("kill-%d", kill), func(t *testing.T) {
			cfg := raid.Config{Level: raid.SingleParity, BackendCount: 4, StripeSize: stripe}
			backends, fails, _ := newTestBackends(4)
			e := newTestEngine(t, cfg, backends)

			require.NoError(t, e.Save(context.Background(), "obj", bytes.NewReader(data)))
			fails[kill].setFailLoads(true)
			assert.Equal(t, data, engineLoad(t, e, "obj"))
		})
	}
}

func TestDoubleFailureRAID5Fatal(t *testing.T) {
	cfg := raid.Config{Level: raid.SingleParity, BackendCount: 4, StripeSize: 4 * 1024}
	backends, fails, _ := newTestBackends(4)
	e := newTestEngine(t, cfg, backends)

	require.NoError(t, e.Save(context.Background(), "obj", bytes.NewReader(random.SeededBytes(6, 12*1024))))
	// backends 1 and 2 both hold data of stripe 0
	fails[1].setFailLoads(true)
	fails[2].setFailLoads(true)
	_, err := e.Load(context.Background(), "obj")
	require.Error(t, err)
	assert.True(t, store.IsUnrecoverable(err), "got %v", err)
}

func TestSingleFailureRAID6(t *testing.T) {
	const stripe = 4 * 1024
	data := random.SeededBytes(7, 12*1024)
	for kill := 0; kill < 5; kill++ {
		kill := kill
		t.Run(fmt.Sprintf("kill-%d", kill), func(t *testing.T) {
			cfg := raid.Config{Level: raid.DualParity, BackendCount: 5, StripeSize: stripe}
			backends, fails, _ := newTestBackends(5)
			e := newTestEngine(t, cfg, backends)

			require.NoError(t, e.Save(context.Background(), "obj", bytes.NewReader(data)))
			fails[kill].setFailLoads(true)
			assert.Equal(t, data, engineLoad(t, e, "obj"))
		})
	}
}

func TestDoubleFailureRAID6(t *testing.T) {
	const stripe = 1024
	data := random.SeededBytes(8, 10*1024+123)
	for a := 0; a < 5; a++ {
		for b := a + 1; b < 5; b++ {
			a, b := a, b
			t.Run(fmt.Sprintf("kill-%d-%d", a, b), func(t *testing.T) {
				cfg := raid.Config{Level: raid.DualParity, BackendCount: 5, StripeSize: stripe}
				backends, fails, _ := newTestBackends(5)
				e := newTestEngine(t, cfg, backends)

				require.NoError(t, e.Save(context.Background(), "obj", bytes.NewReader(data)))
				fails[a].setFailLoads(true)
				fails[b].setFailLoads(true)
				assert.Equal(t, data, engineLoad(t, e, "obj"))
			})
		}
	}
}

func TestTripleFailureRAID6Fatal(t *testing.T) {
	cfg := raid.Config{Level: raid.DualParity, BackendCount: 5, StripeSize: 1024}
	backends, fails, _ := newTestBackends(5)
	e := newTestEngine(t, cfg, backends)

	require.NoError(t, e.Save(context.Background(), "obj", bytes.NewReader(random.SeededBytes(9, 10*1024))))
	for _, i := range []int{0, 2, 4} {
		fails[i].setFailLoads(true)
	}
	_, err := e.Load(context.Background(), "obj")
	require.Error(t, err)
	assert.True(t, store.IsUnrecoverable(err), "got %v", err)
}

func TestMirrorFallback(t *testing.T) {
	data := random.SeededBytes(10, 3*1024)
	kills := [][]int{{0}, {1}, {2}, {0, 1}, {0, 2}, {1, 2}}
	for _, kill := range kills {
		kill := kill
		t.Run(fmt.Sprintf("kill-%v", kill), func(t *testing.T) {
			cfg := raid.Config{Level: raid.Mirroring, BackendCount: 3, MirrorCount: 3}
			backends, fails, _ := newTestBackends(3)
			e := newTestEngine(t, cfg, backends)

			require.NoError(t, e.Save(context.Background(), "obj", bytes.NewReader(data)))
			for _, i := range kill {
				fails[i].setFailLoads(true)
			}
			assert.Equal(t, data, engineLoad(t, e, "obj"))
		})
	}

	t.Run("kill-all", func(t *testing.T) {
		cfg := raid.Config{Level: raid.Mirroring, BackendCount: 3, MirrorCount: 3}
		backends, fails, _ := newTestBackends(3)
		e := newTestEngine(t, cfg, backends)

		require.NoError(t, e.Save(context.Background(), "obj", bytes.NewReader(data)))
		for i := 0; i < 3; i++ {
			fails[i].setFailLoads(true)
		}
		_, err := e.Load(context.Background(), "obj")
		require.Error(t, err)
		assert.True(t, store.IsUnrecoverable(err), "got %v", err)
	})
}

func TestMirroredStripeFallback(t *testing.T) {
	cfg := raid.Config{Level: raid.MirroredStripe, BackendCount: 4, StripeSize: 1024}
	data := random.SeededBytes(11, 5*1024)

	t.Run("one-of-each-pair", func(t *testing.T) {
		backends, fails, _ := newTestBackends(4)
		e := newTestEngine(t, cfg, backends)
		require.NoError(t, e.Save(context.Background(), "obj", bytes.NewReader(data)))
		fails[0].setFailLoads(true)
		fails[3].setFailLoads(true)
		assert.Equal(t, data, engineLoad(t, e, "obj"))
	})

	t.Run("whole-pair", func(t *testing.T) {
		backends, fails, _ := newTestBackends(4)
		e := newTestEngine(t, cfg, backends)
		require.NoError(t, e.Save(context.Background(), "obj", bytes.NewReader(data)))
		fails[2].setFailLoads(true)
		fails[3].setFailLoads(true)
		_, err := e.Load(context.Background(), "obj")
		require.Error(t, err)
		assert.True(t, store.IsUnrecoverable(err), "got %v", err)
	})
}

func TestNestedRecovery(t *testing.T) {
	data := random.SeededBytes(12, 16*1024+99)

	t.Run("raid50", func(t *testing.T) {
		cfg := raid.Config{Level: raid.StripedParity, BackendCount: 6, StripeSize: 1024}
		// one loss per group recovers
		backends, fails, _ := newTestBackends(6)
		e := newTestEngine(t, cfg, backends)
		require.NoError(t, e.Save(context.Background(), "obj", bytes.NewReader(data)))
		fails[1].setFailLoads(true)
		fails[4].setFailLoads(true)
		assert.Equal(t, data, engineLoad(t, e, "obj"))
	})

	t.Run("raid50-two-in-group", func(t *testing.T) {
		cfg := raid.Config{Level: raid.StripedParity, BackendCount: 6, StripeSize: 1024}
		backends, fails, _ := newTestBackends(6)
		e := newTestEngine(t, cfg, backends)
		require.NoError(t, e.Save(context.Background(), "obj", bytes.NewReader(data)))
		fails[0].setFailLoads(true)
		fails[1].setFailLoads(true)
		_, err := e.Load(context.Background(), "obj")
		require.Error(t, err)
		assert.True(t, store.IsUnrecoverable(err), "got %v", err)
	})

	t.Run("raid60-two-per-group", func(t *testing.T) {
		cfg := raid.Config{Level: raid.StripedDual, BackendCount: 8, StripeSize: 1024}
		backends, fails, _ := newTestBackends(8)
		e := newTestEngine(t, cfg, backends)
		require.NoError(t, e.Save(context.Background(), "obj", bytes.NewReader(data)))
		for _, i := range []int{0, 1, 5, 6} {
			fails[i].setFailLoads(true)
		}
		assert.Equal(t, data, engineLoad(t, e, "obj"))
	})
}

func TestIdempotentOverwrite(t *testing.T) {
	cfg := raid.Config{Level: raid.SingleParity, BackendCount: 3, StripeSize: 1024}
	backends, _, mems := newTestBackends(3)
	e := newTestEngine(t, cfg, backends)
	ctx := context.Background()

	first := random.SeededBytes(13, 5*1024)
	require.NoError(t, e.Save(ctx, "obj", bytes.NewReader(first)))
	second := random.SeededBytes(14, 2*1024+100)
	require.NoError(t, e.Save(ctx, "obj", bytes.NewReader(second)))
	assert.Equal(t, second, engineLoad(t, e, "obj"))

	// the stale chunks of the first save are cleaned up: 3 chunks in
	// 2 stripes leave 5 keys
	e.WaitBackground()
	assert.Equal(t, 5, totalKeys(mems))
}

func TestSaveRollback(t *testing.T) {
	cfg := raid.Config{Level: raid.SingleParity, BackendCount: 3, StripeSize: 1024}
	backends, fails, mems := newTestBackends(3)
	e := newTestEngine(t, cfg, backends)
	ctx := context.Background()

	fails[1].setFailSaves(true)
	err := e.Save(ctx, "obj", bytes.NewReader(random.SeededBytes(15, 5*1024)))
	require.Error(t, err)

	// the chunks written before the fault are rolled back and no
	// manifest is committed
	assert.Equal(t, 0, totalKeys(mems))
	ok, err := e.Exists(ctx, "obj")
	require.NoError(t, err)
	assert.False(t, ok)

	fails[1].setFailSaves(false)
	data := random.SeededBytes(16, 5*1024)
	require.NoError(t, e.Save(ctx, "obj", bytes.NewReader(data)))
	assert.Equal(t, data, engineLoad(t, e, "obj"))
}

func TestLoadMissing(t *testing.T) {
	cfg := raid.Config{Level: raid.Striping, BackendCount: 2}
	backends, _, _ := newTestBackends(2)
	e := newTestEngine(t, cfg, backends)

	_, err := e.Load(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err), "got %v", err)
}

func TestDeleteAndExists(t *testing.T) {
	cfg := raid.Config{Level: raid.DualParity, BackendCount: 4, StripeSize: 1024}
	backends, _, mems := newTestBackends(4)
	e := newTestEngine(t, cfg, backends)
	ctx := context.Background()

	require.NoError(t, e.Save(ctx, "obj", bytes.NewReader(random.SeededBytes(17, 4*1024))))
	ok, err := e.Exists(ctx, "obj")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotZero(t, totalKeys(mems))

	require.NoError(t, e.Delete(ctx, "obj"))
	ok, err = e.Exists(ctx, "obj")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, totalKeys(mems))

	err = e.Delete(ctx, "obj")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err), "got %v", err)
}

func TestHealthTracking(t *testing.T) {
	cfg := raid.Config{Level: raid.SingleParity, BackendCount: 3, StripeSize: 1024}
	backends, fails, _ := newTestBackends(3)
	e := newTestEngine(t, cfg, backends)
	ctx := context.Background()

	data := random.SeededBytes(18, 4*1024)
	require.NoError(t, e.Save(ctx, "obj", bytes.NewReader(data)))

	for _, h := range e.Health() {
		assert.Equal(t, raid.StatusHealthy, h.Status)
	}

	fails[2].setFailLoads(true)
	assert.Equal(t, data, engineLoad(t, e, "obj"))

	h := e.Health()[2]
	assert.Equal(t, raid.StatusFailed, h.Status)
	assert.False(t, h.FailureTime.IsZero())

	// failed backends are skipped early, loads keep working without
	// touching them
	fails[2].setFailLoads(false)
	assert.Equal(t, data, engineLoad(t, e, "obj"))
	assert.Equal(t, raid.StatusFailed, e.Health()[2].Status)
}

func TestConfigRejected(t *testing.T) {
	for _, test := range []struct {
		name string
		cfg  raid.Config
	}{
		{"raid5-two-backends", raid.Config{Level: raid.SingleParity, BackendCount: 2}},
		{"raid6-three-backends", raid.Config{Level: raid.DualParity, BackendCount: 3}},
		{"raid10-odd", raid.Config{Level: raid.MirroredStripe, BackendCount: 5}},
		{"unknown-level", raid.Config{Level: 3, BackendCount: 4}},
	} {
		t.Run(test.name, func(t *testing.T) {
			backends, _, _ := newTestBackends(test.cfg.BackendCount)
			_, err := raid.New(test.cfg, store.SliceResolver(backends), meta.NewMem())
			require.Error(t, err)
			assert.Equal(t, store.ErrBadConfig, errors.Cause(err))
		})
	}

	// the same raid5 config with one more backend works
	backends, _, _ := newTestBackends(3)
	cfg := raid.Config{Level: raid.SingleParity, BackendCount: 3, HealthCheckInterval: store.DurationOff}
	e, err := raid.New(cfg, store.SliceResolver(backends), meta.NewMem())
	require.NoError(t, err)
	require.NoError(t, e.Close())
}

func TestResolverErrors(t *testing.T) {
	cfg := raid.Config{Level: raid.Striping, BackendCount: 4, HealthCheckInterval: store.DurationOff}
	backends, _, _ := newTestBackends(2)
	_, err := raid.New(cfg, store.SliceResolver(backends), meta.NewMem())
	require.Error(t, err)
}
