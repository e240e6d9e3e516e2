// Package prom exports cache, service and bus signals as Prometheus
// metrics. One Adapter serves all three hooks.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/syncache/bus"
	"github.com/IvanBrykalov/syncache/cache"
	"github.com/IvanBrykalov/syncache/failure"
	"github.com/IvanBrykalov/syncache/model"
	"github.com/IvanBrykalov/syncache/service"
)

// Adapter implements cache.Metrics, service.Metrics and bus.Metrics.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits    prometheus.Counter
	misses  prometheus.Counter
	evicts  *prometheus.CounterVec
	sizeEnt prometheus.Gauge

	reads         *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec
	fetchErrors   *prometheus.CounterVec
	deduplicated  *prometheus.CounterVec
	refreshFailed *prometheus.CounterVec
	writes        *prometheus.CounterVec

	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns:           Prometheus namespace; subsystems are cache, service and bus
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(sub, name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "hits_total",
			Help:        "Cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		evicts: counter("cache", "evictions_total", "Cache evictions by reason", "reason"),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   "cache",
			Name:        "size_entries",
			Help:        "Number of resident entries",
			ConstLabels: constLabels,
		}),

		reads: counter("service", "reads_total", "Reads by kind, policy, source and failure", "kind", "policy", "source", "failure"),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   "service",
			Name:        "fetch_duration_seconds",
			Help:        "Transport fetch latency",
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 12),
			ConstLabels: constLabels,
		}, []string{"kind"}),
		fetchErrors:   counter("service", "fetch_errors_total", "Failed transport fetches", "kind", "failure"),
		deduplicated:  counter("service", "fetches_deduplicated_total", "Reads that joined an in-flight fetch", "kind"),
		refreshFailed: counter("service", "refresh_failures_total", "Failed background refreshes", "kind"),
		writes:        counter("service", "writes_total", "Writes by method and outcome", "method", "outcome"),

		published: counter("bus", "published_total", "Events published", "topic"),
		dropped:   counter("bus", "dropped_total", "Events dropped on full subscriber buffers", "topic"),
	}
	reg.MustRegister(
		a.hits, a.misses, a.evicts, a.sizeEnt,
		a.reads, a.fetchLatency, a.fetchErrors, a.deduplicated, a.refreshFailed, a.writes,
		a.published, a.dropped,
	)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a reason label.
func (a *Adapter) Evict(r cache.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

// Size updates the resident entries gauge.
func (a *Adapter) Size(entries int) { a.sizeEnt.Set(float64(entries)) }

// Read labels successful reads with failure="none".
func (a *Adapter) Read(kind model.Kind, policy string, source service.Source, fail failure.Kind) {
	label := "none"
	if source == service.SourceNone {
		label = fail.String()
	}
	a.reads.WithLabelValues(kind.String(), policy, source.String(), label).Inc()
}

func (a *Adapter) Fetch(kind model.Kind, d time.Duration, err error) {
	a.fetchLatency.WithLabelValues(kind.String()).Observe(d.Seconds())
	if err != nil {
		a.fetchErrors.WithLabelValues(kind.String(), failure.KindOf(err).String()).Inc()
	}
}

func (a *Adapter) Deduplicated(kind model.Kind) { a.deduplicated.WithLabelValues(kind.String()).Inc() }

func (a *Adapter) RefreshFailed(kind model.Kind) {
	a.refreshFailed.WithLabelValues(kind.String()).Inc()
}

func (a *Adapter) Write(m service.Method, o service.WriteOutcome) {
	a.writes.WithLabelValues(m.String(), string(o)).Inc()
}

func (a *Adapter) Published(t model.Topic) { a.published.WithLabelValues(string(t)).Inc() }

func (a *Adapter) Dropped(t model.Topic) { a.dropped.WithLabelValues(string(t)).Inc() }

// Compile-time checks.
var (
	_ cache.Metrics   = (*Adapter)(nil)
	_ service.Metrics = (*Adapter)(nil)
	_ bus.Metrics     = (*Adapter)(nil)
)
