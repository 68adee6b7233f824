package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"netprobe/internal/netprobe/domain"
)

const namespace = "netprobe"

// Metrics holds the probe's Prometheus collectors on a private registry so
// that several servers can coexist in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	DownloadedBytes *prometheus.CounterVec
	UploadedBytes   *prometheus.CounterVec
	ActiveSessions  *prometheus.GaugeVec
	Sessions        *prometheus.CounterVec
	ChunkMbps       *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		DownloadedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloaded_bytes_total",
			Help:      "Payload bytes written to clients.",
		}, []string{"file"}),
		UploadedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes drained from client uploads.",
		}, []string{"transport"}),
		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duplex_sessions_active",
			Help:      "Duplex upload sessions currently open.",
		}, []string{"transport"}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplex_sessions_total",
			Help:      "Finished duplex upload sessions by outcome.",
		}, []string{"transport", "outcome"}),
		ChunkMbps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "duplex_chunk_mbps",
			Help:      "Instantaneous throughput of acknowledged duplex chunks.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
		}, []string{"transport"}),
	}

	m.registry.MustRegister(
		m.Requests,
		m.DownloadedBytes,
		m.UploadedBytes,
		m.ActiveSessions,
		m.Sessions,
		m.ChunkMbps,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRequest counts one finished HTTP request
func (m *Metrics) ObserveRequest(route, method string, code int) {
	m.Requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}

// SessionObserver adapts the duplex collectors to one transport
func (m *Metrics) SessionObserver(transport string) *SessionObserver {
	return &SessionObserver{m: m, transport: transport}
}

// SessionObserver feeds duplex lifecycle events into Metrics.
type SessionObserver struct {
	m         *Metrics
	transport string
}

func (o *SessionObserver) SessionOpened() {
	o.m.ActiveSessions.WithLabelValues(o.transport).Inc()
}

func (o *SessionObserver) SessionClosed(clean bool) {
	o.m.ActiveSessions.WithLabelValues(o.transport).Dec()
	outcome := "clean"
	if !clean {
		outcome = "aborted"
	}
	o.m.Sessions.WithLabelValues(o.transport, outcome).Inc()
}

func (o *SessionObserver) ChunkAcknowledged(sample domain.ThroughputSample) {
	o.m.UploadedBytes.WithLabelValues(o.transport).Add(float64(sample.Bytes))
	if mbps := sample.MegabitsPerSecond(); mbps > 0 {
		o.m.ChunkMbps.WithLabelValues(o.transport).Observe(mbps)
	}
}
