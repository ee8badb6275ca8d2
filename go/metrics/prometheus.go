// Package metrics records pool primary/member resolution (go/pool), fleet
// lock acquisition (go/locks), schema upgrade steps (go/schema), and
// cluster-operation outcomes (go/command) onto a Prometheus registry,
// bridged through a github.com/rcrowley/go-metrics registry the same way
// the teacher's own metrics package bridges its discovery/recovery
// counters. A nil *Registry is a valid, inert value: every method is a
// no-op on it, so callers thread a possibly-nil *Registry through without
// a separate "metrics enabled" branch at each call site.
package metrics

import (
	"net"
	"sync"
	"time"

	graphite "github.com/cyberdelia/go-metrics-graphite"
	"github.com/prometheus/client_golang/prometheus"
	gometrics "github.com/rcrowley/go-metrics"
)

// Config controls whether metrics are collected at all, and the
// Prometheus namespace/subsystem every metric in this package is
// registered under.
type Config struct {
	Enabled   bool
	Namespace string
	Subsystem string
}

// Registry owns one Prometheus registry plus the rcrowley/go-metrics
// registry it mirrors into Prometheus gauges/counters on a tick.
type Registry struct {
	cfg Config
	reg *prometheus.Registry
	src gometrics.Registry

	poolResolutionAttempts *prometheus.CounterVec
	poolResolutionFailures *prometheus.CounterVec

	lockAcquisitions  prometheus.Counter
	lockFailures      prometheus.Counter
	lockAcquireSeconds prometheus.Histogram

	schemaUpgradeAttempts *prometheus.CounterVec
	schemaUpgradeFailures *prometheus.CounterVec

	commandAttempts  *prometheus.CounterVec
	commandFailures  *prometheus.CounterVec

	tickerMu sync.Mutex
	stop     chan struct{}
}

// New builds a Registry. When cfg.Enabled is false, every Observe* method
// is a no-op and Registry() returns nil - callers can hold a *Registry
// unconditionally and skip a separate enabled check at every call site.
func New(cfg Config) *Registry {
	r := &Registry{cfg: cfg, src: gometrics.NewRegistry()}
	if !cfg.Enabled {
		return r
	}

	r.reg = prometheus.NewRegistry()

	r.poolResolutionAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "pool_resolution_attempts_total", Help: "Total primary/member resolution attempts by role.",
	}, []string{"role"})
	r.poolResolutionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "pool_resolution_failures_total", Help: "Total failed primary/member resolutions by role.",
	}, []string{"role"})

	r.lockAcquisitions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "global_lock_acquisitions_total", Help: "Total successful fleet-wide lock acquisitions.",
	})
	r.lockFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "global_lock_failures_total", Help: "Total failed fleet-wide lock acquisition attempts.",
	})
	r.lockAcquireSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "global_lock_acquire_seconds", Help: "Time spent acquiring a fleet-wide lock.",
		Buckets: prometheus.DefBuckets,
	})

	r.schemaUpgradeAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "schema_upgrade_attempts_total", Help: "Total metadata schema upgrade steps attempted, by target version.",
	}, []string{"to_version"})
	r.schemaUpgradeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "schema_upgrade_failures_total", Help: "Total metadata schema upgrade steps that failed, by target version.",
	}, []string{"to_version"})

	r.commandAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "command_attempts_total", Help: "Total C7 command invocations, by command name.",
	}, []string{"command"})
	r.commandFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "command_failures_total", Help: "Total C7 command invocations that failed, by command name.",
	}, []string{"command"})

	for _, c := range []prometheus.Collector{
		r.poolResolutionAttempts, r.poolResolutionFailures,
		r.lockAcquisitions, r.lockFailures, r.lockAcquireSeconds,
		r.schemaUpgradeAttempts, r.schemaUpgradeFailures,
		r.commandAttempts, r.commandFailures,
	} {
		r.reg.MustRegister(c)
	}

	return r
}

// Prometheus returns the underlying registry for an HTTP /metrics
// handler to serve, or nil if metrics were never enabled.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// ObservePoolResolution records one C2 primary/member resolution attempt.
// A nil Registry (metrics not configured) is a no-op, so C2/C4/C5/C7 can
// hold a possibly-nil *Registry and call these unconditionally.
func (r *Registry) ObservePoolResolution(role string, success bool) {
	if r == nil || !r.cfg.Enabled {
		return
	}
	r.poolResolutionAttempts.WithLabelValues(role).Inc()
	gometrics.GetOrRegisterCounter("pool.resolution."+role+".attempt", r.src).Inc(1)
	if !success {
		r.poolResolutionFailures.WithLabelValues(role).Inc()
		gometrics.GetOrRegisterCounter("pool.resolution."+role+".fail", r.src).Inc(1)
	}
}

// ObserveLockAcquire records one C5 fleet-lock acquisition attempt.
func (r *Registry) ObserveLockAcquire(success bool, d time.Duration) {
	if r == nil || !r.cfg.Enabled {
		return
	}
	if success {
		r.lockAcquisitions.Inc()
		r.lockAcquireSeconds.Observe(d.Seconds())
	} else {
		r.lockFailures.Inc()
	}
}

// ObserveSchemaUpgrade records one C4 upgrade step.
func (r *Registry) ObserveSchemaUpgrade(toVersion string, success bool) {
	if r == nil || !r.cfg.Enabled {
		return
	}
	r.schemaUpgradeAttempts.WithLabelValues(toVersion).Inc()
	if !success {
		r.schemaUpgradeFailures.WithLabelValues(toVersion).Inc()
	}
}

// ObserveCommand records one C7 command's outcome.
func (r *Registry) ObserveCommand(name string, success bool) {
	if r == nil || !r.cfg.Enabled {
		return
	}
	r.commandAttempts.WithLabelValues(name).Inc()
	gometrics.GetOrRegisterCounter("command."+name+".attempt", r.src).Inc(1)
	if !success {
		r.commandFailures.WithLabelValues(name).Inc()
		gometrics.GetOrRegisterCounter("command."+name+".fail", r.src).Inc(1)
	}
}

// StartTicker runs a background goroutine that snapshots the
// go-metrics mirror registry into the logger every interval, until
// Stop is called. It is a diagnostic convenience only - every counter
// above is already live in Prometheus the moment it is incremented.
func (r *Registry) StartTicker(interval time.Duration, onTick func(name string, count int64)) {
	if r == nil || !r.cfg.Enabled || onTick == nil {
		return
	}
	r.tickerMu.Lock()
	defer r.tickerMu.Unlock()
	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.src.Each(func(name string, m interface{}) {
					if c, ok := m.(gometrics.Counter); ok {
						onTick(name, c.Count())
					}
				})
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop halts the background ticker started by StartTicker, if any.
func (r *Registry) Stop() {
	if r == nil {
		return
	}
	r.tickerMu.Lock()
	defer r.tickerMu.Unlock()
	if r.stop != nil {
		close(r.stop)
		r.stop = nil
	}
}

// StartGraphite reports the mirrored go-metrics registry to a Graphite
// carbon endpoint every interval, for deployments that already run a
// Graphite backend alongside Prometheus. It returns immediately; the
// reporting loop runs until the process exits or Stop is called, since
// graphite.Graphite itself blocks forever on its own ticker.
func (r *Registry) StartGraphite(addr *net.TCPAddr, prefix string, interval time.Duration) {
	if r == nil || !r.cfg.Enabled {
		return
	}
	go graphite.Graphite(r.src, interval, prefix, addr)
}
