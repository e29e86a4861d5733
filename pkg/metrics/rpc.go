package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var durationBuckets = []float64{
	0.0005, // 500us
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	5.0,    // 5s
	10.0,   // 10s
}

// RPCServerMetrics observes the RPC server: requests per program and
// procedure, in-flight work and connection lifecycle.
type RPCServerMetrics interface {
	// RecordRequest records a completed call. err is the dispatch error, not
	// the NFS status carried inside a successful reply.
	RecordRequest(program, procedure string, duration time.Duration, err error)

	RecordRequestStart(program, procedure string)
	RecordRequestEnd(program, procedure string)

	// RecordBytesTransferred records record payload bytes, direction "in" or "out".
	RecordBytesTransferred(direction string, bytes int64)

	SetActiveConnections(count int32)
	RecordConnectionAccepted()
	RecordConnectionClosed()
}

// RPCClientMetrics observes the RPC client and its reconnecting transports.
type RPCClientMetrics interface {
	RecordCall(program, procedure string, duration time.Duration, err error)

	// RecordRetry is called each time a transport schedules another attempt.
	RecordRetry(addr string)

	// RecordReconnect is called each time a transport dials after having
	// been connected before.
	RecordReconnect(addr string)
}

type rpcServerMetrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	requestsInFlight    *prometheus.GaugeVec
	bytesTransferred    *prometheus.CounterVec
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
}

// NewRPCServerMetrics returns server metrics registered on the global
// registry, or a no-op implementation when metrics are disabled.
func NewRPCServerMetrics() RPCServerMetrics {
	if !IsEnabled() {
		return noopRPCServerMetrics{}
	}
	return NewRPCServerMetricsWith(GetRegistry())
}

// NewRPCServerMetricsWith registers server metrics on reg.
func NewRPCServerMetricsWith(reg prometheus.Registerer) RPCServerMetrics {
	return &rpcServerMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnfs_rpc_requests_total",
				Help: "Total number of RPC requests by program, procedure and status",
			},
			[]string{"program", "procedure", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dnfs_rpc_request_duration_seconds",
				Help:    "Duration of RPC requests in seconds",
				Buckets: durationBuckets,
			},
			[]string{"program", "procedure"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dnfs_rpc_requests_in_flight",
				Help: "Current number of RPC requests being processed",
			},
			[]string{"program", "procedure"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnfs_rpc_bytes_transferred_total",
				Help: "Total RPC record bytes received and sent",
			},
			[]string{"direction"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dnfs_rpc_active_connections",
				Help: "Current number of active RPC connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dnfs_rpc_connections_accepted_total",
				Help: "Total number of RPC connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dnfs_rpc_connections_closed_total",
				Help: "Total number of RPC connections closed",
			},
		),
	}
}

func (m *rpcServerMetrics) RecordRequest(program, procedure string, duration time.Duration, err error) {
	m.requestsTotal.WithLabelValues(program, procedure, statusLabel(err)).Inc()
	m.requestDuration.WithLabelValues(program, procedure).Observe(duration.Seconds())
}

func (m *rpcServerMetrics) RecordRequestStart(program, procedure string) {
	m.requestsInFlight.WithLabelValues(program, procedure).Inc()
}

func (m *rpcServerMetrics) RecordRequestEnd(program, procedure string) {
	m.requestsInFlight.WithLabelValues(program, procedure).Dec()
}

func (m *rpcServerMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}

func (m *rpcServerMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *rpcServerMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *rpcServerMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

type rpcClientMetrics struct {
	callsTotal   *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	retries      *prometheus.CounterVec
	reconnects   *prometheus.CounterVec
}

// NewRPCClientMetrics returns client metrics registered on the global
// registry, or a no-op implementation when metrics are disabled.
func NewRPCClientMetrics() RPCClientMetrics {
	if !IsEnabled() {
		return noopRPCClientMetrics{}
	}
	return NewRPCClientMetricsWith(GetRegistry())
}

// NewRPCClientMetricsWith registers client metrics on reg.
func NewRPCClientMetricsWith(reg prometheus.Registerer) RPCClientMetrics {
	return &rpcClientMetrics{
		callsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnfs_rpc_client_calls_total",
				Help: "Total number of RPC calls issued by program, procedure and status",
			},
			[]string{"program", "procedure", "status"},
		),
		callDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dnfs_rpc_client_call_duration_seconds",
				Help:    "Round-trip duration of RPC calls in seconds, including retries",
				Buckets: durationBuckets,
			},
			[]string{"program", "procedure"},
		),
		retries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnfs_rpc_client_retries_total",
				Help: "Total number of transport retry attempts",
			},
			[]string{"addr"},
		),
		reconnects: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dnfs_rpc_client_reconnects_total",
				Help: "Total number of transport reconnections",
			},
			[]string{"addr"},
		),
	}
}

func (m *rpcClientMetrics) RecordCall(program, procedure string, duration time.Duration, err error) {
	m.callsTotal.WithLabelValues(program, procedure, statusLabel(err)).Inc()
	m.callDuration.WithLabelValues(program, procedure).Observe(duration.Seconds())
}

func (m *rpcClientMetrics) RecordRetry(addr string) {
	m.retries.WithLabelValues(addr).Inc()
}

func (m *rpcClientMetrics) RecordReconnect(addr string) {
	m.reconnects.WithLabelValues(addr).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

type noopRPCServerMetrics struct{}

func (noopRPCServerMetrics) RecordRequest(program, procedure string, duration time.Duration, err error) {
}
func (noopRPCServerMetrics) RecordRequestStart(program, procedure string)         {}
func (noopRPCServerMetrics) RecordRequestEnd(program, procedure string)           {}
func (noopRPCServerMetrics) RecordBytesTransferred(direction string, bytes int64) {}
func (noopRPCServerMetrics) SetActiveConnections(count int32)                     {}
func (noopRPCServerMetrics) RecordConnectionAccepted()                            {}
func (noopRPCServerMetrics) RecordConnectionClosed()                              {}

type noopRPCClientMetrics struct{}

func (noopRPCClientMetrics) RecordCall(program, procedure string, duration time.Duration, err error) {
}
func (noopRPCClientMetrics) RecordRetry(addr string)     {}
func (noopRPCClientMetrics) RecordReconnect(addr string) {}
