package profits

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for report builds.
type Metrics struct {
	builds   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	cache    *prometheus.CounterVec
	degraded *prometheus.CounterVec
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// NewMetrics registers the engine metrics. A nil registerer uses the default
// Prometheus registerer, registered once per process.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultMetricsOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profits_builds_total",
			Help: "Report and balance computations partitioned by operation, scope kind and outcome.",
		}, []string{"operation", "scope", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "profits_build_duration_seconds",
			Help:    "Duration of report and balance computations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "scope"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profits_cache_requests_total",
			Help: "Report cache lookups partitioned by result.",
		}, []string{"result"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "profits_degraded_keys_total",
			Help: "Provider fetches zero-filled after a failure, by source.",
		}, []string{"source"}),
	}
	m.builds = register(registerer, m.builds)
	m.duration = register(registerer, m.duration)
	m.cache = register(registerer, m.cache)
	m.degraded = register(registerer, m.degraded)
	return m
}

func register[C prometheus.Collector](registerer prometheus.Registerer, collector C) C {
	if err := registerer.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

func (m *Metrics) observeBuild(operation string, scope Scope, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrStaleRequest):
		outcome = "stale"
	case errors.Is(err, ErrInvalidPeriod), errors.Is(err, ErrUnknownBranch):
		outcome = "rejected"
	default:
		outcome = "failure"
	}
	kind := string(scope.Kind())
	m.builds.WithLabelValues(operation, kind, outcome).Inc()
	m.duration.WithLabelValues(operation, kind).Observe(time.Since(start).Seconds())
}

func (m *Metrics) cacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cache.WithLabelValues("hit").Inc()
		return
	}
	m.cache.WithLabelValues("miss").Inc()
}

func (m *Metrics) addDegraded(keys []DegradedKey) {
	if m == nil {
		return
	}
	for _, k := range keys {
		m.degraded.WithLabelValues(k.Source).Inc()
	}
}
