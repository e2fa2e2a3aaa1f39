package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	voucherTransitions *prometheus.CounterVec
	reconciliations    *prometheus.CounterVec
	highVariance       prometheus.Counter
	pendingCounts      *prometheus.GaugeVec
	jobsTotal          *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payables_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payables_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payables_voucher_transitions_total",
		Help: "Jumlah transisi voucher pembayaran berdasarkan aksi dan hasil.",
	}, []string{"action", "outcome"})
	reconciliations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payables_reconciliations_total",
		Help: "Jumlah perbandingan faktur pemasok berdasarkan status.",
	}, []string{"status"})
	highVariance := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payables_reconciliation_high_variance_total",
		Help: "Jumlah perbandingan dengan selisih di atas ambang.",
	})
	pending := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "payables_pending_items",
		Help: "Nilai terakhir penghitung pekerjaan tertunda di dasbor.",
	}, []string{"counter"})
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payables_jobs_total",
		Help: "Jumlah eksekusi job latar belakang berdasarkan tipe dan hasil.",
	}, []string{"task", "outcome"})
	registry.MustRegister(requests, duration, transitions, reconciliations, highVariance, pending, jobs)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		voucherTransitions: transitions,
		reconciliations:    reconciliations,
		highVariance:       highVariance,
		pendingCounts:      pending,
		jobsTotal:          jobs,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveVoucherTransition mencatat hasil satu transisi voucher.
func (m *Metrics) ObserveVoucherTransition(action, outcome string) {
	if m == nil {
		return
	}
	m.voucherTransitions.WithLabelValues(action, outcome).Inc()
}

// ObserveReconciliation mencatat status perbandingan satu faktur.
func (m *Metrics) ObserveReconciliation(status string, highVariance bool) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(status).Inc()
	if highVariance {
		m.highVariance.Inc()
	}
}

// SetPendingCount menyimpan nilai terbaru penghitung dasbor.
func (m *Metrics) SetPendingCount(counter string, value int64) {
	if m == nil {
		return
	}
	m.pendingCounts.WithLabelValues(counter).Set(float64(value))
}

// ObserveJob mencatat hasil eksekusi job.
func (m *Metrics) ObserveJob(task, outcome string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(task, outcome).Inc()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
