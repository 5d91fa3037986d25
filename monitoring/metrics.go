// Package monitoring provides Prometheus metrics for storage handles and
// file transfer, and an HTTP server exposing them.
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics of the engine. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// Handle metrics
	HandlesOpen  *prometheus.GaugeVec
	OpensTotal   *prometheus.CounterVec
	ClosesTotal  prometheus.Counter
	RepacksTotal *prometheus.CounterVec

	// Access layer metrics
	FieldOpsTotal *prometheus.CounterVec
	ResizesTotal  prometheus.Counter
	ResizeRows    prometheus.Histogram

	// Transfer metrics
	ExposedFiles     prometheus.Gauge
	TransferRequests *prometheus.CounterVec
	TransferBytes    *prometheus.CounterVec
	TransferDuration *prometheus.HistogramVec

	// Worker pool metrics
	WorkerPoolActive  prometheus.Gauge
	WorkerPoolPending prometheus.Gauge
}

// DefaultMetrics is registered with the default Prometheus registry.
var DefaultMetrics = NewMetrics("heavydata", prometheus.DefaultRegisterer)

// NewMetrics creates metrics with the given namespace and registers them
// with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		HandlesOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handles_open",
			Help:      "Number of open storage handles by mode",
		}, []string{"mode"}),
		OpensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opens_total",
			Help:      "Total handle opens by mode and status",
		}, []string{"mode", "status"}),
		ClosesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closes_total",
			Help:      "Total handle closes",
		}),
		RepacksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repacks_total",
			Help:      "Total backing file repacks by result",
		}, []string{"result"}),

		FieldOpsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "field_ops_total",
			Help:      "Total field reads and writes by operation and status",
		}, []string{"op", "status"}),
		ResizesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resizes_total",
			Help:      "Total table resizes",
		}),
		ResizeRows: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resize_rows",
			Help:      "Table size after resize",
			Buckets:   []float64{0, 1, 10, 100, 1000, 10000, 100000, 1000000},
		}),

		ExposedFiles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "exposed_files",
			Help:      "Number of backing files currently published for transfer",
		}),
		TransferRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_requests_total",
			Help:      "Total transfer protocol requests by operation and status",
		}, []string{"op", "status"}),
		TransferBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_bytes_total",
			Help:      "Total bytes of backing files transferred by direction",
		}, []string{"direction"}),
		TransferDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_duration_seconds",
			Help:      "Whole-file transfer duration by direction",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"direction"}),

		WorkerPoolActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_active",
			Help:      "Number of active workers",
		}),
		WorkerPoolPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_pending",
			Help:      "Number of pending tasks in worker pool",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordOpen records a handle open attempt.
func (m *Metrics) RecordOpen(mode string, err error) {
	if m == nil {
		return
	}
	m.OpensTotal.WithLabelValues(mode, status(err)).Inc()
	if err == nil {
		m.HandlesOpen.WithLabelValues(mode).Inc()
	}
}

// RecordClose records a handle close.
func (m *Metrics) RecordClose(mode string) {
	if m == nil {
		return
	}
	m.ClosesTotal.Inc()
	m.HandlesOpen.WithLabelValues(mode).Dec()
}

// RecordRepack records a repack attempt.
func (m *Metrics) RecordRepack(err error) {
	if m == nil {
		return
	}
	m.RepacksTotal.WithLabelValues(status(err)).Inc()
}

// RecordFieldOp records a field get or set.
func (m *Metrics) RecordFieldOp(op string, err error) {
	if m == nil {
		return
	}
	m.FieldOpsTotal.WithLabelValues(op, status(err)).Inc()
}

// RecordResize records a table resize to size rows.
func (m *Metrics) RecordResize(size int) {
	if m == nil {
		return
	}
	m.ResizesTotal.Inc()
	m.ResizeRows.Observe(float64(size))
}

// RecordTransferRequest records one transfer protocol request.
func (m *Metrics) RecordTransferRequest(op string, err error) {
	if m == nil {
		return
	}
	m.TransferRequests.WithLabelValues(op, status(err)).Inc()
}

// RecordTransfer records bytes moved by a download or by one served read.
func (m *Metrics) RecordTransfer(direction string, bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.TransferBytes.WithLabelValues(direction).Add(float64(bytes))
	m.TransferDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// UpdateExposed sets the number of published files.
func (m *Metrics) UpdateExposed(n int) {
	if m == nil {
		return
	}
	m.ExposedFiles.Set(float64(n))
}

// UpdateWorkerPool updates worker pool gauges.
func (m *Metrics) UpdateWorkerPool(active, pending int) {
	if m == nil {
		return
	}
	m.WorkerPoolActive.Set(float64(active))
	m.WorkerPoolPending.Set(float64(pending))
}

// MetricsServer runs an HTTP server exposing /metrics and /health.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics server on addr serving the metrics
// gathered by g, or the default registry when g is nil.
func NewMetricsServer(addr string, g prometheus.Gatherer) *MetricsServer {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the server's HTTP handler.
func (s *MetricsServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server (blocking).
func (s *MetricsServer) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync starts the metrics server in a goroutine.
func (s *MetricsServer) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop stops the metrics server.
func (s *MetricsServer) Stop() error {
	return s.server.Close()
}
