package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/AlexKimmel/fluxgate/internal/ratelimit"
)

type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Decisions       *prometheus.CounterVec
	ClockErrors     *prometheus.CounterVec
	CleanupRemoved  prometheus.Counter
	CleanupDuration prometheus.Histogram
	TrackedClients  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxgate_requests_total",
				Help: "Total HTTP requests processed by the gateway",
			},
			[]string{"route", "method", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fluxgate_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxgate_decisions_total",
				Help: "Rate limit decisions by result",
			},
			[]string{"result"},
		),
		ClockErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxgate_clock_errors_total",
				Help: "Clock failures seen by the limiter, by operation",
			},
			[]string{"op"},
		),
		CleanupRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxgate_cleanup_removed_total",
				Help: "Stale clients removed by cleanup sweeps",
			},
		),
		CleanupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fluxgate_cleanup_duration_seconds",
				Help:    "Duration of cleanup sweeps in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		TrackedClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxgate_tracked_clients",
				Help: "Clients held by the limiter after the last sweep",
			},
		),
	}

	reg.MustRegister(
		m.RequestsTotal, m.RequestDuration,
		m.Decisions, m.ClockErrors,
		m.CleanupRemoved, m.CleanupDuration, m.TrackedClients,
	)
	return m
}

func (m *Metrics) ObserveDecision(allowed bool) {
	if allowed {
		m.Decisions.WithLabelValues("allowed").Inc()
		return
	}
	m.Decisions.WithLabelValues("denied").Inc()
}

func (m *Metrics) ObserveClockError(op string) {
	m.ClockErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveCleanup(removed, remaining int, took time.Duration) {
	m.CleanupRemoved.Add(float64(removed))
	m.CleanupDuration.Observe(took.Seconds())
	m.TrackedClients.Set(float64(remaining))
}

var _ ratelimit.Recorder = (*Metrics)(nil)

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Middleware records per-request metrics. The route label is the ServeMux
// pattern that served the request, "unmatched" when there was none.
func (m *Metrics) Middleware(skip map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}

			next.ServeHTTP(rec, r)

			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}

			code := rec.status
			if code == 0 {
				code = http.StatusOK
			}

			m.RequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
			m.RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
		})
	}
}
