package service

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSnapshot is a lightweight aggregate of the counters for API consumption.
type MetricsSnapshot struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	Bookings                 uint64    `json:"bookings"`
	Cancellations            uint64    `json:"cancellations"`
	Reschedules              uint64    `json:"reschedules"`
	SlotConflicts            uint64    `json:"slot_conflicts"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	bookings      *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	reschedules   prometheus.Counter
	creditOps     *prometheus.CounterVec
	slotConflicts prometheus.Counter
	overdueMarked prometheus.Counter

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
	bookingCount         uint64
	cancellationCount    uint64
	rescheduleCount      uint64
	conflictCount        uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	bookings := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduling_bookings_total",
		Help: "Classes booked, by funding source",
	}, []string{"source"})

	cancellations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduling_cancellations_total",
		Help: "Classes canceled, by actor and refund outcome",
	}, []string{"actor", "refunded"})

	reschedules := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduling_reschedules_total",
		Help: "Classes moved to a new slot",
	})

	creditOps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scheduling_credit_operations_total",
		Help: "Credit ledger operations, by operation and credit family",
	}, []string{"operation", "family"})

	slotConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduling_slot_conflicts_total",
		Help: "Writes rejected because the target slot was no longer vacant",
	})

	overdueMarked := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scheduling_overdue_marked_total",
		Help: "Classes moved to overdue by the sweep",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses, dbQueryDuration,
		bookings, cancellations, reschedules, creditOps, slotConflicts, overdueMarked, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		dbQueryDuration: dbQueryDuration,
		bookings:        bookings,
		cancellations:   cancellations,
		reschedules:     reschedules,
		creditOps:       creditOps,
		slotConflicts:   slotConflicts,
		overdueMarked:   overdueMarked,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	if m.cacheLatency != nil {
		m.cacheLatency.Observe(duration.Seconds())
	}
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	total := hits + misses
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil || m.cacheWrite == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordBooking counts a committed booking.
func (m *MetricsService) RecordBooking(source string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(source).Inc()
	atomic.AddUint64(&m.bookingCount, 1)
}

// RecordCancellation counts a committed cancellation.
func (m *MetricsService) RecordCancellation(actor string, refunded bool) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(actor, strconv.FormatBool(refunded)).Inc()
	atomic.AddUint64(&m.cancellationCount, 1)
}

// RecordReschedule counts a committed reschedule.
func (m *MetricsService) RecordReschedule() {
	if m == nil {
		return
	}
	m.reschedules.Inc()
	atomic.AddUint64(&m.rescheduleCount, 1)
}

// RecordCreditOperation counts a credit ledger mutation.
func (m *MetricsService) RecordCreditOperation(operation, family string) {
	if m == nil {
		return
	}
	m.creditOps.WithLabelValues(operation, family).Inc()
}

// RecordSlotConflict counts a write rejected as SLOT_UNAVAILABLE.
func (m *MetricsService) RecordSlotConflict() {
	if m == nil {
		return
	}
	m.slotConflicts.Inc()
	atomic.AddUint64(&m.conflictCount, 1)
}

// RecordOverdue counts classes moved to overdue.
func (m *MetricsService) RecordOverdue(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.overdueMarked.Add(float64(n))
}

// Snapshot returns aggregated metrics suitable for the summary endpoint.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var cacheRatio float64
	totalLookups := hits + misses
	if totalLookups > 0 {
		cacheRatio = float64(hits) / float64(totalLookups)
	}

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: avgDBMs,
		Bookings:                 atomic.LoadUint64(&m.bookingCount),
		Cancellations:            atomic.LoadUint64(&m.cancellationCount),
		Reschedules:              atomic.LoadUint64(&m.rescheduleCount),
		SlotConflicts:            atomic.LoadUint64(&m.conflictCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
