package raid

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	savesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "raid",
		Name:      "saves_total",
		Help:      "Number of objects saved through the engine.",
	})
	saveBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "raid",
		Name:      "save_bytes_total",
		Help:      "Object bytes saved through the engine, before redundancy.",
	})
	loadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "raid",
		Name:      "loads_total",
		Help:      "Number of objects loaded through the engine.",
	})
	reconstructionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "raid",
		Name:      "reconstructions_total",
		Help:      "Number of chunks reconstructed from parity or mirrors.",
	})
	backendFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "raid",
		Name:      "backend_failures_total",
		Help:      "Number of backends newly marked failed.",
	})
	rebuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "raid",
		Name:      "rebuilds_total",
		Help:      "Number of rebuild tasks started.",
	})
	rebuildSkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "raid",
		Name:      "rebuild_skips_total",
		Help:      "Number of rebuild triggers skipped because one was running.",
	})
	rebuildFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolfs",
		Subsystem: "raid",
		Name:      "rebuild_failures_total",
		Help:      "Number of rebuild tasks that left backends degraded.",
	})
)
