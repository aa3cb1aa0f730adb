// Package metrics provides the Prometheus metrics shared across the
// registry, router, and babysitter daemons. Each daemon mounts
// promhttp.Handler() at /metrics when its config enables telemetry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Registry ───────────────────────────────────────────────────────────────

// ServicesRegistered tracks the number of live Service Records by kind.
var ServicesRegistered = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "fleetmesh",
	Subsystem: "registry",
	Name:      "services_registered",
	Help:      "Current number of live Service Records, by kind.",
}, []string{"kind"})

// ProbesTotal counts active health probes, by outcome.
var ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fleetmesh",
	Subsystem: "registry",
	Name:      "probes_total",
	Help:      "Total active health probes issued by the registry, by outcome.",
}, []string{"outcome"})

// ProbeLatency tracks probe round-trip duration in seconds.
var ProbeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "fleetmesh",
	Subsystem: "registry",
	Name:      "probe_latency_seconds",
	Help:      "Registry active health probe duration in seconds.",
	Buckets:   prometheus.DefBuckets,
})

// EvictionsTotal counts Records transitioned to gone and removed.
var EvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "fleetmesh",
	Subsystem: "registry",
	Name:      "evictions_total",
	Help:      "Total Service Records evicted (status gone, removed).",
})

// ─── Router ─────────────────────────────────────────────────────────────────

// DispatchTotal counts dispatch decisions, by model and outcome.
var DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fleetmesh",
	Subsystem: "router",
	Name:      "dispatch_total",
	Help:      "Total dispatch decisions, by model and outcome.",
}, []string{"model", "outcome"})

// ProxyLatency tracks proxied request duration in seconds, by model.
var ProxyLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "fleetmesh",
	Subsystem: "router",
	Name:      "proxy_latency_seconds",
	Help:      "Proxied request duration in seconds, by model.",
	Buckets:   prometheus.DefBuckets,
}, []string{"model"})

// BackendHealth tracks the router's local probe view per backend (1=healthy, 0=unhealthy).
var BackendHealth = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "fleetmesh",
	Subsystem: "router",
	Name:      "backend_health",
	Help:      "Router-local health view per backend (1=healthy, 0=unhealthy).",
}, []string{"name"})

// SyncTotal counts registry sync ticks, by outcome.
var SyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fleetmesh",
	Subsystem: "router",
	Name:      "sync_total",
	Help:      "Total registry sync attempts, by outcome.",
}, []string{"outcome"})

// ─── Babysitter ─────────────────────────────────────────────────────────────

// RestartsTotal counts backend process restarts.
var RestartsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "fleetmesh",
	Subsystem: "babysitter",
	Name:      "restarts_total",
	Help:      "Total backend process restarts.",
})

// ChildState tracks whether the managed backend is currently alive (1) or not (0).
var ChildState = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "fleetmesh",
	Subsystem: "babysitter",
	Name:      "child_alive",
	Help:      "Whether the managed backend process is currently alive.",
})

// HeartbeatsTotal counts heartbeat and registration calls to the registry,
// by record kind and outcome.
var HeartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "fleetmesh",
	Subsystem: "babysitter",
	Name:      "heartbeats_total",
	Help:      "Total heartbeat and registration calls sent to the registry, by record kind and outcome.",
}, []string{"kind", "outcome"})
