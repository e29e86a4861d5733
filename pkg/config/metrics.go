package config

import (
	"github.com/marmos91/dnfs/pkg/metrics"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// RPCMetrics is the collector of the RPC server (never nil, no-op if disabled)
	RPCMetrics metrics.RPCServerMetrics

	// ClientMetrics is the collector of the RPC client (never nil, no-op if disabled)
	ClientMetrics metrics.RPCClientMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed collectors
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op collectors
//
// It registers collectors globally and must be called at most once per process.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			RPCMetrics:    metrics.NewRPCServerMetrics(),
			ClientMetrics: metrics.NewRPCClientMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:        metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		RPCMetrics:    metrics.NewRPCServerMetrics(),
		ClientMetrics: metrics.NewRPCClientMetrics(),
	}
}
