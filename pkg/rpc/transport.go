package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/metrics"
)

const (
	// DefaultRetryLimit is the number of attempts SendAndReceive makes on a
	// transport that has connected before.
	DefaultRetryLimit = 20

	// DefaultRetryInterval is the pause before redialing after a failed
	// connection attempt.
	DefaultRetryInterval = time.Second
)

// State is the connection state of a Transport.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateReconnecting
)

// String returns the lower-case state name used in log lines.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Dialer opens stream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// TransportConfig tunes a Transport. Zero values select the defaults.
type TransportConfig struct {
	RetryLimit    int
	RetryInterval time.Duration

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration

	// IOTimeout bounds each send+receive exchange. Zero means no deadline
	// beyond the one carried by the context.
	IOTimeout time.Duration

	MaxRecordSize int

	Dialer Dialer

	// NewTimer creates the timer used to wait between attempts. Tests inject
	// a timer that fires immediately.
	NewTimer func() backoff.Timer

	Metrics metrics.RPCClientMetrics
}

func (c *TransportConfig) applyDefaults() {
	if c.RetryLimit <= 0 {
		c.RetryLimit = DefaultRetryLimit
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MaxRecordSize <= 0 {
		c.MaxRecordSize = DefaultMaxRecordSize
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{Timeout: c.DialTimeout, KeepAlive: 30 * time.Second}
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewRPCClientMetrics()
	}
}

// Transport is a reconnecting record-marked stream to a single address.
//
// Calls are strictly request-then-reply; the mutex serializes callers
// sharing one transport. A failed exchange drops the connection and the next
// attempt redials. A transport that has never connected gets exactly one
// attempt so that a wrong address fails fast instead of retrying for the
// whole budget.
type Transport struct {
	addr string
	cfg  TransportConfig

	mu            sync.Mutex
	conn          net.Conn
	state         State
	everConnected bool
}

// NewTransport returns a Transport to addr ("host:port"). No connection is
// made until the first SendAndReceive.
//
// Parameters:
//   - addr: TCP address of the RPC program
//   - cfg: retry and timeout settings; zero fields take the defaults
func NewTransport(addr string, cfg TransportConfig) *Transport {
	cfg.applyDefaults()
	return &Transport{addr: addr, cfg: cfg}
}

// Addr returns the address the transport dials.
func (t *Transport) Addr() string {
	return t.addr
}

// State returns the current connection state. It is StateReconnecting while
// a previously connected transport redials.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Close drops the connection. The transport can be used again afterwards.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.conn != nil {
		err = t.conn.Close()
		t.conn = nil
	}
	t.state = StateDisconnected
	return err
}

// Send writes message as a single fragment on the current connection,
// connecting first if needed. It does not retry.
func (t *Transport) Send(ctx context.Context, message []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.ensureConnected(ctx); err != nil {
		return err
	}
	t.setDeadline(ctx)
	return WriteRecord(t.conn, message)
}

// Receive reads one complete record from the current connection.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil, errors.New("transport not connected")
	}
	t.setDeadline(ctx)
	return ReadRecord(t.conn, t.cfg.MaxRecordSize)
}

// SendAndReceive sends message and waits for the reply record, reconnecting
// and retrying on I/O failure. When the budget is exhausted it returns a
// *TransportError wrapping the last cause.
func (t *Transport) SendAndReceive(ctx context.Context, message []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	policy := &retryPolicy{
		interval: t.cfg.RetryInterval,
		limit:    t.cfg.RetryLimit,
	}
	if !t.everConnected {
		policy.limit = 1
	}

	var (
		reply    []byte
		attempts int
	)

	operation := func() error {
		attempts++
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		if t.conn == nil {
			if err := t.connect(ctx); err != nil {
				policy.connectFailed = true
				return err
			}
		}
		policy.connectFailed = false

		r, err := t.exchange(ctx, message)
		if err != nil {
			t.drop(StateReconnecting)
			return err
		}
		reply = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		t.cfg.Metrics.RecordRetry(t.addr)
		logger.Warn("RPC transport %s: attempt %d failed, retrying in %v: %v", t.addr, attempts, wait, err)
	}

	err := backoff.RetryNotifyWithTimer(operation, backoff.WithContext(policy, ctx), notify, t.newTimer())
	if err != nil {
		if t.conn == nil {
			t.state = StateDisconnected
		}
		return nil, &TransportError{Addr: t.addr, Attempts: attempts, Err: err}
	}
	return reply, nil
}

func (t *Transport) newTimer() backoff.Timer {
	if t.cfg.NewTimer != nil {
		return t.cfg.NewTimer()
	}
	return nil
}

func (t *Transport) ensureConnected(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}
	return t.connect(ctx)
}

func (t *Transport) connect(ctx context.Context) error {
	if t.everConnected {
		t.state = StateReconnecting
		t.cfg.Metrics.RecordReconnect(t.addr)
	}

	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	conn, err := t.cfg.Dialer.DialContext(dialCtx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	logger.Debug("RPC transport connected to %s", t.addr)
	t.conn = conn
	t.state = StateConnected
	t.everConnected = true
	return nil
}

func (t *Transport) exchange(ctx context.Context, message []byte) ([]byte, error) {
	t.setDeadline(ctx)
	if err := WriteRecord(t.conn, message); err != nil {
		return nil, err
	}
	reply, err := ReadRecord(t.conn, t.cfg.MaxRecordSize)
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}

func (t *Transport) setDeadline(ctx context.Context) {
	var deadline time.Time
	if t.cfg.IOTimeout > 0 {
		deadline = time.Now().Add(t.cfg.IOTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = t.conn.SetDeadline(deadline)
}

func (t *Transport) drop(next State) {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.state = next
}

// retryPolicy is the backoff schedule of SendAndReceive: up to limit
// attempts in total, pausing interval only after a failed connection
// attempt. A failed exchange on an established connection redials at once.
type retryPolicy struct {
	interval      time.Duration
	limit         int
	used          int
	connectFailed bool
}

// Reset implements backoff.BackOff.
func (p *retryPolicy) Reset() {
	p.used = 0
}

// NextBackOff implements backoff.BackOff.
func (p *retryPolicy) NextBackOff() time.Duration {
	p.used++
	if p.used >= p.limit {
		return backoff.Stop
	}
	if p.connectFailed {
		return p.interval
	}
	return 0
}
