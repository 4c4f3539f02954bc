package filecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics reports cache activity to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	allocs       prometheus.Counter
	frees        prometheus.Counter
	allocBytes   prometheus.Histogram
	evictions    prometheus.Counter
	lookups      *prometheus.CounterVec
	committed    prometheus.Gauge
	cachedBytes  prometheus.Gauge
	extantBuffer prometheus.Gauge
}

// NewMetrics registers the cache metrics with reg. It returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)

	return &Metrics{
		allocs: f.NewCounter(prometheus.CounterOpts{
			Namespace: "fcache",
			Name:      "buffer_allocs_total",
			Help:      "Number of file buffers handed out",
		}),
		frees: f.NewCounter(prometheus.CounterOpts{
			Namespace: "fcache",
			Name:      "buffer_frees_total",
			Help:      "Number of file buffer references released",
		}),
		allocBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fcache",
			Name:      "buffer_alloc_bytes",
			Help:      "Requested size of file buffers",
			Buckets:   prometheus.ExponentialBuckets(4096, 4, 8),
		}),
		evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "fcache",
			Name:      "evictions_total",
			Help:      "Number of file content cache entries evicted to make room",
		}),
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fcache",
			Name:      "lookups_total",
			Help:      "Cache lookups by cache and result",
		}, []string{"cache", "result"}),
		committed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "fcache",
			Name:      "pool_committed_bytes",
			Help:      "Bytes of the buffer pool handed out at least once",
		}),
		cachedBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "fcache",
			Name:      "cached_bytes",
			Help:      "Total size of buffers in the file content cache",
		}),
		extantBuffer: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "fcache",
			Name:      "extant_buffers",
			Help:      "Number of buffers currently held by callers",
		}),
	}
}

func (m *Metrics) onAlloc(size int) {
	if m == nil {
		return
	}
	m.allocs.Inc()
	m.allocBytes.Observe(float64(size))
}

func (m *Metrics) onFree() {
	if m == nil {
		return
	}
	m.frees.Inc()
}

func (m *Metrics) onEvict() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

func (m *Metrics) onLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) setUsage(committed, cached, extant int) {
	if m == nil {
		return
	}
	m.committed.Set(float64(committed))
	m.cachedBytes.Set(float64(cached))
	m.extantBuffer.Set(float64(extant))
}
