package uploader

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for upload activity. A nil
// *Metrics is valid and turns every observation into a no-op.
type Metrics struct {
	uploadsTotal   *prometheus.CounterVec
	uploadDuration *prometheus.HistogramVec
	throttleWait   *prometheus.HistogramVec
	retriesTotal   *prometheus.CounterVec
	progressEvents prometheus.Counter
	runsActive     prometheus.Gauge
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// DefaultMetrics returns the package-level metrics instance registered
// with the global Prometheus registry, created once so repeated
// composition (tests, embedded daemons) cannot double-register.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance on the given registerer.
// Collectors already present are reused instead of failing, so multiple
// instances over one registry stay consistent. Any other registration
// error panics, surfacing configuration bugs early.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	uploadsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixrelay",
			Name:      "uploads_total",
			Help:      "Settled per-backend upload branches by status.",
		},
		[]string{"backend", "status"},
	)
	uploadDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pixrelay",
			Name:      "upload_duration_seconds",
			Help:      "Wall time of one per-backend upload branch.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "status"},
	)
	throttleWait := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pixrelay",
			Name:      "throttle_wait_seconds",
			Help:      "Time spent waiting on a backend's pacing gate.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pixrelay",
			Name:      "retries_total",
			Help:      "Retry attempts per backend and result.",
		},
		[]string{"backend", "result"},
	)
	progressEvents := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pixrelay",
			Name:      "progress_events_total",
			Help:      "Progress updates delivered to run consumers.",
		},
	)
	runsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pixrelay",
			Name:      "runs_active",
			Help:      "Fan-out runs currently in flight.",
		},
	)

	collectors := []prometheus.Collector{uploadsTotal, uploadDuration, throttleWait, retriesTotal, progressEvents, runsActive}
	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
				switch target := collector.(type) {
				case *prometheus.CounterVec:
					switch target { //nolint:exhaustive
					case uploadsTotal:
						uploadsTotal = already.ExistingCollector.(*prometheus.CounterVec)
					case retriesTotal:
						retriesTotal = already.ExistingCollector.(*prometheus.CounterVec)
					}
				case *prometheus.HistogramVec:
					switch target { //nolint:exhaustive
					case uploadDuration:
						uploadDuration = already.ExistingCollector.(*prometheus.HistogramVec)
					case throttleWait:
						throttleWait = already.ExistingCollector.(*prometheus.HistogramVec)
					}
				// Gauge before Counter: a gauge satisfies the Counter
				// interface too, a counter never satisfies Gauge.
				case prometheus.Gauge:
					runsActive = already.ExistingCollector.(prometheus.Gauge)
				case prometheus.Counter:
					progressEvents = already.ExistingCollector.(prometheus.Counter)
				}
				continue
			}
			panic(err)
		}
	}

	return &Metrics{
		uploadsTotal:   uploadsTotal,
		uploadDuration: uploadDuration,
		throttleWait:   throttleWait,
		retriesTotal:   retriesTotal,
		progressEvents: progressEvents,
		runsActive:     runsActive,
	}
}

// ObserveUpload records one settled upload branch.
func (m *Metrics) ObserveUpload(backend string, status Status, duration time.Duration) {
	if m == nil || m.uploadsTotal == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(backend, string(status)).Inc()
	m.uploadDuration.WithLabelValues(backend, string(status)).Observe(duration.Seconds())
}

// ObserveThrottleWait records how long a dispatch sat behind its gate.
func (m *Metrics) ObserveThrottleWait(backend string, wait time.Duration) {
	if m == nil || m.throttleWait == nil {
		return
	}
	m.throttleWait.WithLabelValues(backend).Observe(wait.Seconds())
}

// IncRetry records one retry attempt and whether it recovered.
func (m *Metrics) IncRetry(backend string, result Status) {
	if m == nil || m.retriesTotal == nil {
		return
	}
	m.retriesTotal.WithLabelValues(backend, string(result)).Inc()
}

// IncProgressEvents counts one delivered progress update.
func (m *Metrics) IncProgressEvents() {
	if m == nil || m.progressEvents == nil {
		return
	}
	m.progressEvents.Inc()
}

// IncActiveRuns marks a fan-out as started.
func (m *Metrics) IncActiveRuns() {
	if m == nil || m.runsActive == nil {
		return
	}
	m.runsActive.Inc()
}

// DecActiveRuns marks a fan-out as settled.
func (m *Metrics) DecActiveRuns() {
	if m == nil || m.runsActive == nil {
		return
	}
	m.runsActive.Dec()
}
