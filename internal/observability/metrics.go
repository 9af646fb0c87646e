package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/deportes-escolares/inscripciones/internal/cache"
)

const namespace = "inscripciones"

// CacheStats reports the cumulative counters of a cache manager.
type CacheStats interface {
	Stats() (hits, misses, rebuilds, readErrors int64)
	HitRate() float64
}

// Metrics holds the Prometheus collectors of the service.
type Metrics struct {
	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
	snapshotRows  prometheus.Gauge
	snapshotBytes prometheus.Gauge
	lastBuild     prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewMetrics registers the service collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		builds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "builds_total",
			Help:      "Snapshot builds by trigger reason",
		}, []string{"reason"}),
		buildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "build_duration_seconds",
			Help:      "Time to load the spreadsheet and persist a snapshot",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		snapshotRows: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "rows",
			Help:      "Enrollment rows in the current snapshot",
		}),
		snapshotBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "size_bytes",
			Help:      "Serialized size of the current snapshot",
		}),
		lastBuild: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "last_build_timestamp_seconds",
			Help:      "Unix time of the last successful build",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// RegisterCacheStats exposes the manager counters as Prometheus counters and
// the hit rate as a gauge.
func RegisterCacheStats(reg prometheus.Registerer, stats CacheStats) {
	f := promauto.With(reg)
	counter := func(name, help string, pick func(h, m, r, e int64) int64) {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, func() float64 {
			return float64(pick(stats.Stats()))
		})
	}
	counter("hits_total", "Snapshots served from memory or the cache file",
		func(h, _, _, _ int64) int64 { return h })
	counter("misses_total", "Requests that required a rebuild",
		func(_, m, _, _ int64) int64 { return m })
	counter("rebuilds_total", "Snapshots rebuilt from the spreadsheet",
		func(_, _, r, _ int64) int64 { return r })
	counter("read_errors_total", "Cache files that could not be read",
		func(_, _, _, e int64) int64 { return e })

	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hit_ratio_percent",
		Help:      "Share of snapshot requests served without a rebuild",
	}, stats.HitRate)
}

// OnBuild records a finished build, satisfying cache.Listener.
func (m *Metrics) OnBuild(_ context.Context, ev cache.BuildEvent) error {
	m.builds.WithLabelValues(ev.Reason).Inc()
	m.buildDuration.Observe(ev.Duration.Seconds())
	m.ObserveSnapshot(ev.Snapshot, len(ev.Payload))
	return nil
}

// ObserveSnapshot sets the snapshot gauges. It is called for fresh builds
// and for snapshots loaded from the cache file after a restart.
func (m *Metrics) ObserveSnapshot(snap *cache.Snapshot, sizeBytes int) {
	m.snapshotBytes.Set(float64(sizeBytes))
	if snap != nil {
		m.snapshotRows.Set(float64(snap.Table.Len()))
		m.lastBuild.Set(float64(snap.LastUpdate.Unix()))
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
