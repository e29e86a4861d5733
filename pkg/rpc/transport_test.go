package rpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

var errRefused = errors.New("connection refused")

// fakeDialer hands out connections from dial, numbering calls from 1.
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	dial  func(call int) (net.Conn, error)
}

func (d *fakeDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	d.mu.Lock()
	d.calls++
	call := d.calls
	d.mu.Unlock()
	return d.dial(call)
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// echoPeer answers requests on one end of a pipe with "re:" + request, then
// closes the pipe.
func echoPeer(requests int) net.Conn {
	client, server := net.Pipe()
	go func() {
		defer func() { _ = server.Close() }()
		for i := 0; i < requests; i++ {
			message, err := ReadRecord(server, 0)
			if err != nil {
				return
			}
			if err := WriteRecord(server, append([]byte("re:"), message...)); err != nil {
				return
			}
		}
	}()
	return client
}

// timerRecorder creates timers that fire immediately and remembers the
// requested waits.
type timerRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *timerRecorder) NewTimer() backoff.Timer {
	return &fakeTimer{recorder: r, c: make(chan time.Time, 1)}
}

func (r *timerRecorder) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

type fakeTimer struct {
	recorder *timerRecorder
	c        chan time.Time
}

func (t *fakeTimer) Start(d time.Duration) {
	t.recorder.mu.Lock()
	t.recorder.waits = append(t.recorder.waits, d)
	t.recorder.mu.Unlock()
	t.c <- time.Time{}
}

func (t *fakeTimer) Stop() {}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func newTestTransport(dialer *fakeDialer, timers *timerRecorder, limit int) *Transport {
	return NewTransport("nfs.example:2049", TransportConfig{
		RetryLimit:    limit,
		RetryInterval: time.Second,
		Dialer:        dialer,
		NewTimer:      timers.NewTimer,
	})
}

// ============================================================================
// SendAndReceive Tests
// ============================================================================

func TestTransportSendAndReceive(t *testing.T) {
	ctx := context.Background()

	t.Run("ExchangesMessage", func(t *testing.T) {
		dialer := &fakeDialer{dial: func(int) (net.Conn, error) { return echoPeer(1), nil }}
		timers := &timerRecorder{}
		tr := newTestTransport(dialer, timers, 0)
		defer func() { _ = tr.Close() }()

		assert.Equal(t, StateDisconnected, tr.State())

		reply, err := tr.SendAndReceive(ctx, []byte("ping"))
		require.NoError(t, err)
		assert.Equal(t, []byte("re:ping"), reply)
		assert.Equal(t, StateConnected, tr.State())
		assert.Empty(t, timers.Waits())
	})

	t.Run("NeverConnectedFailsAfterOneAttempt", func(t *testing.T) {
		dialer := &fakeDialer{dial: func(int) (net.Conn, error) { return nil, errRefused }}
		timers := &timerRecorder{}
		tr := newTestTransport(dialer, timers, 0)

		_, err := tr.SendAndReceive(ctx, []byte("ping"))
		require.Error(t, err)

		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, 1, transportErr.Attempts)
		assert.ErrorIs(t, err, errRefused)
		assert.Contains(t, err.Error(), "unable to send RPC message to nfs.example:2049")
		assert.Equal(t, 1, dialer.Calls())
		assert.Empty(t, timers.Waits())
		assert.Equal(t, StateDisconnected, tr.State())
	})

	t.Run("RedialsImmediatelyAfterBrokenConnection", func(t *testing.T) {
		dialer := &fakeDialer{dial: func(int) (net.Conn, error) { return echoPeer(1), nil }}
		timers := &timerRecorder{}
		tr := newTestTransport(dialer, timers, 0)
		defer func() { _ = tr.Close() }()

		_, err := tr.SendAndReceive(ctx, []byte("one"))
		require.NoError(t, err)

		reply, err := tr.SendAndReceive(ctx, []byte("two"))
		require.NoError(t, err)
		assert.Equal(t, []byte("re:two"), reply)
		assert.Equal(t, 2, dialer.Calls())
		assert.Equal(t, []time.Duration{0}, timers.Waits())
	})

	t.Run("WaitsIntervalAfterConnectFailures", func(t *testing.T) {
		dialer := &fakeDialer{dial: func(call int) (net.Conn, error) {
			if call == 2 || call == 3 {
				return nil, errRefused
			}
			return echoPeer(1), nil
		}}
		timers := &timerRecorder{}
		tr := newTestTransport(dialer, timers, 0)
		defer func() { _ = tr.Close() }()

		_, err := tr.SendAndReceive(ctx, []byte("one"))
		require.NoError(t, err)

		reply, err := tr.SendAndReceive(ctx, []byte("two"))
		require.NoError(t, err)
		assert.Equal(t, []byte("re:two"), reply)
		assert.Equal(t, 4, dialer.Calls())
		assert.Equal(t, []time.Duration{0, time.Second, time.Second}, timers.Waits())
		assert.Equal(t, StateConnected, tr.State())
	})

	t.Run("ExhaustsRetryBudget", func(t *testing.T) {
		dialer := &fakeDialer{dial: func(call int) (net.Conn, error) {
			if call == 1 {
				return echoPeer(1), nil
			}
			return nil, errRefused
		}}
		timers := &timerRecorder{}
		tr := newTestTransport(dialer, timers, 3)

		_, err := tr.SendAndReceive(ctx, []byte("one"))
		require.NoError(t, err)

		_, err = tr.SendAndReceive(ctx, []byte("two"))
		var transportErr *TransportError
		require.ErrorAs(t, err, &transportErr)
		assert.Equal(t, 3, transportErr.Attempts)
		assert.ErrorIs(t, err, errRefused)
		assert.Equal(t, []time.Duration{0, time.Second}, timers.Waits())
		assert.Equal(t, StateDisconnected, tr.State())
	})

	t.Run("StopsOnCancelledContext", func(t *testing.T) {
		dialer := &fakeDialer{dial: func(int) (net.Conn, error) { return echoPeer(1), nil }}
		tr := newTestTransport(dialer, &timerRecorder{}, 0)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := tr.SendAndReceive(cancelled, []byte("ping"))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, dialer.Calls())
	})
}

// ============================================================================
// Send/Receive Tests
// ============================================================================

func TestTransportSendReceive(t *testing.T) {
	t.Run("SplitsExchange", func(t *testing.T) {
		dialer := &fakeDialer{dial: func(int) (net.Conn, error) { return echoPeer(1), nil }}
		tr := newTestTransport(dialer, &timerRecorder{}, 0)
		defer func() { _ = tr.Close() }()

		require.NoError(t, tr.Send(context.Background(), []byte("hello")))
		reply, err := tr.Receive(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []byte("re:hello"), reply)
	})

	t.Run("ReceiveRequiresConnection", func(t *testing.T) {
		tr := newTestTransport(&fakeDialer{}, &timerRecorder{}, 0)

		_, err := tr.Receive(context.Background())
		require.Error(t, err)
	})
}

// ============================================================================
// Client Tests
// ============================================================================

// replyPeer answers every call on one end of a pipe with a successful empty
// reply whose XID is the call's XID plus skew.
func replyPeer(skew uint32) net.Conn {
	client, server := net.Pipe()
	go func() {
		defer func() { _ = server.Close() }()
		for {
			message, err := ReadRecord(server, 0)
			if err != nil {
				return
			}
			call, _, err := DecodeCall(message)
			if err != nil {
				return
			}
			reply, err := EncodeReply(&ReplyHeader{XID: call.XID + skew, ReplyStat: MsgAccepted, AcceptStat: Success}, nil)
			if err != nil {
				return
			}
			if err := WriteRecord(server, reply); err != nil {
				return
			}
		}
	}()
	return client
}

func TestClientXIDMismatch(t *testing.T) {
	ctx := context.Background()

	dialer := &fakeDialer{dial: func(call int) (net.Conn, error) {
		if call == 1 {
			return replyPeer(1000), nil
		}
		return replyPeer(0), nil
	}}
	client := NewClient("nfs.example", ClientConfig{
		Resolver:  StaticPorts{testProgram: 2049},
		Transport: TransportConfig{Dialer: dialer},
	})
	defer func() { _ = client.Close() }()

	caller := client.Program(testProgram, testVersion)

	var mismatch *XIDMismatchError
	require.ErrorAs(t, caller.Call(ctx, procNull, nil, nil), &mismatch)
	assert.Equal(t, mismatch.Want+1000, mismatch.Got)

	// The out-of-step connection is gone, so the next call redials.
	require.NoError(t, caller.Call(ctx, procNull, nil, nil))
	assert.Equal(t, 2, dialer.Calls())
}
