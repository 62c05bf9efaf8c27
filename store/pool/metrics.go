package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "pool",
		Name:      "cache_hits_total",
		Help:      "Number of reads served from the cache backend.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "pool",
		Name:      "cache_misses_total",
		Help:      "Number of reads that fell through to the primary backend.",
	})
	flushFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "pool",
		Name:      "flush_failures_total",
		Help:      "Number of write-back flushes that failed.",
	})
	promotionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "pool",
		Name:      "promotions_total",
		Help:      "Number of objects promoted to the hottest tier on read.",
	})
	migrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "pool",
		Name:      "migrations_total",
		Help:      "Number of objects moved between tiers by the sweep.",
	})
	sweepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "pool",
		Name:      "sweeps_total",
		Help:      "Number of migration sweeps started.",
	})
	sweepSkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "pool",
		Name:      "sweep_skips_total",
		Help:      "Number of sweep triggers skipped because one was running.",
	})
)
