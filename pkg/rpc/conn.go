package rpc

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/marmos91/dnfs/internal/logger"
)

// conn serves the requests of one client connection in order.
type conn struct {
	server *Server
	conn   net.Conn
	addr   string
}

func newConn(server *Server, c net.Conn) *conn {
	return &conn{server: server, conn: c, addr: c.RemoteAddr().String()}
}

// serve reads records until the client goes away, a timeout fires or the
// server shuts down. A panic is logged and closes only this connection.
func (c *conn) serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in connection handler from %s: %v", c.addr, r)
		}
		_ = c.conn.Close()
	}()

	logger.Debug("New connection from %s", c.addr)

	// Wake a reader blocked waiting for the next request on shutdown.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Connection from %s closed due to context cancellation", c.addr)
			return
		case <-c.server.shutdown:
			logger.Debug("Connection from %s closed due to server shutdown", c.addr)
			return
		default:
		}

		if err := c.handleRequest(ctx); err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("Connection from %s closed by client", c.addr)
			case errors.As(err, &netErr) && netErr.Timeout():
				logger.Debug("Connection from %s timed out: %v", c.addr, err)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				logger.Debug("Connection from %s cancelled: %v", c.addr, err)
			default:
				logger.Debug("Error handling request from %s: %v", c.addr, err)
			}
			return
		}
	}
}

// handleRequest reads one record, dispatches it and writes the reply.
// Malformed calls are dropped without closing the connection.
func (c *conn) handleRequest(ctx context.Context) error {
	cfg := c.server.config

	// The idle timeout covers the wait for the first byte; the read timeout
	// then bounds the rest of the record.
	if err := c.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	message, err := c.readRecord(cfg)
	if err != nil {
		return err
	}
	c.server.metrics.RecordBytesTransferred("in", int64(len(message)))

	if err := c.server.limiter.Wait(ctx); err != nil {
		return err
	}

	reply, err := c.server.HandleMessage(ctx, message, c.addr)
	if err != nil {
		logger.Debug("Dropping message from %s: %v", c.addr, err)
		return nil
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := WriteRecord(c.conn, reply); err != nil {
		return err
	}
	c.server.metrics.RecordBytesTransferred("out", int64(len(reply)))
	return nil
}

func (c *conn) readRecord(cfg ServerConfig) ([]byte, error) {
	r := &deadlineReader{conn: c.conn, timeout: cfg.ReadTimeout}
	return ReadRecord(r, cfg.MaxRecordSize)
}

// deadlineReader switches the connection from the idle deadline to the read
// deadline once the first bytes of a record have arrived.
type deadlineReader struct {
	conn    net.Conn
	timeout time.Duration
	started bool
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	n, err := r.conn.Read(p)
	if n > 0 && !r.started {
		r.started = true
		if dlErr := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); dlErr != nil && err == nil {
			err = dlErr
		}
	}
	return n, err
}
