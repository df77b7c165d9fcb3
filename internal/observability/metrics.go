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
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	movementsTotal     *prometheus.CounterVec
	salesCompleted     prometheus.Counter
	allocationFailures prometheus.Counter
	returnsApproved    prometheus.Counter
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apotek_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "apotek_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "apotek_stock_movements_total",
		Help: "Jumlah pergerakan stok berdasarkan jenis.",
	}, []string{"kind"})
	salesCompleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apotek_sales_completed_total",
		Help: "Jumlah transaksi penjualan yang selesai.",
	})
	allocationFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apotek_allocation_failures_total",
		Help: "Jumlah alokasi FEFO yang gagal karena stok kurang.",
	})
	returnsApproved := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "apotek_returns_approved_total",
		Help: "Jumlah retur penjualan yang disetujui.",
	})
	registry.MustRegister(requests, duration, movements, salesCompleted, allocationFailures, returnsApproved)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		movementsTotal:     movements,
		salesCompleted:     salesCompleted,
		allocationFailures: allocationFailures,
		returnsApproved:    returnsApproved,
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

// ObserveMovement menambah penghitung pergerakan stok.
func (m *Metrics) ObserveMovement(kind string) {
	if m == nil {
		return
	}
	m.movementsTotal.WithLabelValues(kind).Inc()
}

// ObserveSaleCompleted menambah penghitung penjualan selesai.
func (m *Metrics) ObserveSaleCompleted() {
	if m == nil {
		return
	}
	m.salesCompleted.Inc()
}

// ObserveAllocationFailure menambah penghitung kegagalan alokasi.
func (m *Metrics) ObserveAllocationFailure() {
	if m == nil {
		return
	}
	m.allocationFailures.Inc()
}

// ObserveReturnApproved menambah penghitung retur disetujui.
func (m *Metrics) ObserveReturnApproved() {
	if m == nil {
		return
	}
	m.returnsApproved.Inc()
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
