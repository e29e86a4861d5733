package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPCServerMetrics(t *testing.T) {
	t.Run("CountsRequestsByStatus", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := NewRPCServerMetricsWith(reg).(*rpcServerMetrics)

		m.RecordRequest("NFS", "GETATTR", time.Millisecond, nil)
		m.RecordRequest("NFS", "GETATTR", time.Millisecond, nil)
		m.RecordRequest("NFS", "READ", time.Millisecond, errors.New("boom"))

		assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("NFS", "GETATTR", "success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("NFS", "READ", "error")))
	})

	t.Run("TracksInFlight", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := NewRPCServerMetricsWith(reg).(*rpcServerMetrics)

		m.RecordRequestStart("MOUNT", "MNT")
		assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsInFlight.WithLabelValues("MOUNT", "MNT")))
		m.RecordRequestEnd("MOUNT", "MNT")
		assert.Equal(t, 0.0, testutil.ToFloat64(m.requestsInFlight.WithLabelValues("MOUNT", "MNT")))
	})

	t.Run("TracksConnections", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := NewRPCServerMetricsWith(reg).(*rpcServerMetrics)

		m.RecordConnectionAccepted()
		m.SetActiveConnections(3)
		m.RecordConnectionClosed()

		assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsAccepted))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsClosed))
		assert.Equal(t, 3.0, testutil.ToFloat64(m.activeConnections))
	})
}

func TestRPCClientMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRPCClientMetricsWith(reg).(*rpcClientMetrics)

	m.RecordRetry("host:2049")
	m.RecordRetry("host:2049")
	m.RecordReconnect("host:2049")
	m.RecordCall("NFS", "WRITE", time.Second, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.retries.WithLabelValues("host:2049")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects.WithLabelValues("host:2049")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNoopWhenDisabled(t *testing.T) {
	if IsEnabled() {
		t.Skip("global registry already initialized")
	}

	assert.IsType(t, noopRPCServerMetrics{}, NewRPCServerMetrics())
	assert.IsType(t, noopRPCClientMetrics{}, NewRPCClientMetrics())
}
