package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/internal/ratelimiter"
	"github.com/marmos91/dnfs/pkg/metrics"
)

// ServerConfig holds connection limits and timeouts for a Server.
//
// Default values (applied by NewServer if zero):
//   - MaxConnections: 0 (unlimited)
//   - ReadTimeout: 5m
//   - WriteTimeout: 30s
//   - IdleTimeout: 5m
//   - ShutdownTimeout: 30s
//   - MaxRecordSize: 32 MiB
//   - RequestsPerSecond: 0 (unlimited)
type ServerConfig struct {
	// MaxConnections limits concurrent client connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// ReadTimeout bounds reading one complete request record.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing one reply record.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IdleTimeout closes connections idle between requests.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout is how long Serve waits for connections to drain
	// before force-closing them.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MaxRecordSize bounds a reassembled request record.
	MaxRecordSize int `mapstructure:"max_record_size" validate:"min=0"`

	// RequestsPerSecond caps the calls served per second across all
	// connections. Calls over the limit wait for a token. 0 means unlimited.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// RequestBurst is how many calls may run above the sustained rate.
	RequestBurst uint `mapstructure:"request_burst"`
}

func (c *ServerConfig) applyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxRecordSize == 0 {
		c.MaxRecordSize = DefaultMaxRecordSize
	}
}

// Server accepts record-marked TCP connections and dispatches each call to
// the registered Program.
//
// One Server may serve several listeners (for example portmap on 111 and
// NFS on 2049); every program is reachable through every listener.
//
// Shutdown flow:
//  1. Context cancelled or Stop called
//  2. Listeners closed
//  3. Request context cancelled for in-flight calls
//  4. Wait for connections to drain, up to ShutdownTimeout
//  5. Force-close the rest
type Server struct {
	config  ServerConfig
	metrics metrics.RPCServerMetrics
	limiter *ratelimiter.Limiter

	programsMu sync.RWMutex
	programs   map[uint32]map[uint32]Program

	listenersMu sync.Mutex
	listeners   []net.Listener

	activeConns       sync.WaitGroup
	activeConnections sync.Map
	connCount         atomic.Int32
	connSemaphore     chan struct{}

	shutdownOnce   sync.Once
	shutdown       chan struct{}
	requestCtx     context.Context
	cancelRequests context.CancelFunc
}

// NewServer creates a server. A nil m selects no-op metrics.
func NewServer(config ServerConfig, m metrics.RPCServerMetrics) *Server {
	config.applyDefaults()

	var connSemaphore chan struct{}
	if config.MaxConnections > 0 {
		connSemaphore = make(chan struct{}, config.MaxConnections)
	}

	if m == nil {
		m = metrics.NewRPCServerMetrics()
	}

	requestCtx, cancelRequests := context.WithCancel(context.Background())

	return &Server{
		config:         config,
		metrics:        m,
		limiter:        ratelimiter.New(config.RequestsPerSecond, config.RequestBurst),
		programs:       make(map[uint32]map[uint32]Program),
		connSemaphore:  connSemaphore,
		shutdown:       make(chan struct{}),
		requestCtx:     requestCtx,
		cancelRequests: cancelRequests,
	}
}

// Register adds a program version. Registering the same program version
// twice replaces the earlier one.
func (s *Server) Register(p Program) {
	s.programsMu.Lock()
	defer s.programsMu.Unlock()

	versions, ok := s.programs[p.Program()]
	if !ok {
		versions = make(map[uint32]Program)
		s.programs[p.Program()] = versions
	}
	versions[p.Version()] = p
	logger.Debug("RPC server: registered %s v%d", ProgramName(p.Program()), p.Version())
}

// lookup returns the program version, or the supported version range when
// only the version is unknown.
func (s *Server) lookup(program, version uint32) (Program, *MismatchInfo) {
	s.programsMu.RLock()
	defer s.programsMu.RUnlock()

	versions, ok := s.programs[program]
	if !ok {
		return nil, nil
	}
	if p, ok := versions[version]; ok {
		return p, nil
	}

	mismatch := &MismatchInfo{Low: ^uint32(0)}
	for v := range versions {
		if v < mismatch.Low {
			mismatch.Low = v
		}
		if v > mismatch.High {
			mismatch.High = v
		}
	}
	return nil, mismatch
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.listenersMu.Lock()
	select {
	case <-s.shutdown:
		s.listenersMu.Unlock()
		_ = ln.Close()
		return nil
	default:
	}
	s.listeners = append(s.listeners, ln)
	s.listenersMu.Unlock()

	logger.Info("RPC server listening on %s", ln.Addr())

	stop := context.AfterFunc(ctx, func() {
		logger.Info("RPC server shutdown signal received: %v", ctx.Err())
		s.initiateShutdown()
	})
	defer stop()

	for {
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		tcpConn, err := ln.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept on %s: %w", ln.Addr(), err)
		}

		s.activeConns.Add(1)
		active := s.connCount.Add(1)
		connAddr := tcpConn.RemoteAddr().String()
		s.activeConnections.Store(connAddr, tcpConn)

		s.metrics.RecordConnectionAccepted()
		s.metrics.SetActiveConnections(active)
		logger.Debug("RPC connection accepted from %s (active: %d)", connAddr, active)

		go func(addr string, c net.Conn) {
			defer func() {
				s.activeConnections.Delete(addr)
				remaining := s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}
				s.metrics.RecordConnectionClosed()
				s.metrics.SetActiveConnections(remaining)
				logger.Debug("RPC connection closed from %s (active: %d)", addr, remaining)
				s.activeConns.Done()
			}()

			newConn(s, c).serve(s.requestCtx)
		}(connAddr, tcpConn)
	}
}

func (s *Server) initiateShutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.listenersMu.Lock()
		for _, ln := range s.listeners {
			if err := ln.Close(); err != nil {
				logger.Debug("Error closing listener %s: %v", ln.Addr(), err)
			}
		}
		s.listenersMu.Unlock()

		s.cancelRequests()
	})
}

func (s *Server) gracefulShutdown() error {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		logger.Warn("RPC shutdown timeout exceeded: %d connection(s) still active after %v, forcing closure",
			remaining, s.config.ShutdownTimeout)
		s.forceCloseConnections()
		return fmt.Errorf("rpc shutdown timeout: %d connections force-closed", remaining)
	}
}

func (s *Server) forceCloseConnections() {
	s.activeConnections.Range(func(key, value any) bool {
		if err := value.(net.Conn).Close(); err != nil {
			logger.Debug("Error force-closing connection to %s: %v", key, err)
		}
		return true
	})
}

// Stop initiates shutdown and waits for connections to drain or ctx to end.
func (s *Server) Stop(ctx context.Context) error {
	s.initiateShutdown()

	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.forceCloseConnections()
		return ctx.Err()
	}
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}
