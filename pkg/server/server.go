// Package server assembles a complete NFSv3 server: one RPC server carrying
// the portmap, MOUNT and NFS programs, the listeners they are reachable on,
// and an optional Prometheus endpoint.
//
// Every program is served on every listener, so a client that skips the
// portmapper can reach MOUNT through the NFS port. The portmap registry
// advertises the ports actually bound, which makes port 0 usable in tests.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/metrics"
	"github.com/marmos91/dnfs/pkg/mount"
	"github.com/marmos91/dnfs/pkg/nfs3"
	"github.com/marmos91/dnfs/pkg/portmap"
	"github.com/marmos91/dnfs/pkg/rpc"
	"golang.org/x/sync/errgroup"
)

// Backend answers both MOUNT and NFS requests. *fileserver.Server is one.
type Backend interface {
	mount.Handler
	nfs3.Handler
}

// Config selects the listening addresses.
type Config struct {
	// ListenAddress is the host part of every listener. Empty listens on
	// all interfaces.
	ListenAddress string

	// NFSPort is the NFS listener port. 0 picks a free port.
	NFSPort int

	// MountPort is the MOUNT listener port. 0 or NFSPort serves MOUNT on the
	// NFS listener only.
	MountPort int

	// EnablePortmap starts a listener on PortmapPort.
	EnablePortmap bool
	PortmapPort   int

	RPC rpc.ServerConfig
}

// Service names used by Addr.
const (
	ServiceNFS     = "nfs"
	ServiceMount   = "mount"
	ServicePortmap = "portmap"
)

// Server runs the RPC programs of a Backend.
type Server struct {
	config   Config
	rpc      *rpc.Server
	registry *portmap.Registry
	metrics  *metrics.Server

	mu        sync.Mutex
	listeners map[string]net.Listener
	order     []string

	serveOnce sync.Once
}

// New wires backend into an RPC server. A nil m selects no-op RPC metrics;
// a nil metricsServer disables the HTTP endpoint.
func New(config Config, backend Backend, m metrics.RPCServerMetrics, metricsServer *metrics.Server) *Server {
	if backend == nil {
		panic("server: backend cannot be nil")
	}

	registry := portmap.NewRegistry()
	rpcServer := rpc.NewServer(config.RPC, m)
	rpcServer.Register(portmap.NewProgram(registry))
	rpcServer.Register(mount.NewProgram(backend))
	rpcServer.Register(nfs3.NewProgram(backend))

	return &Server{
		config:    config,
		rpc:       rpcServer,
		registry:  registry,
		metrics:   metricsServer,
		listeners: make(map[string]net.Listener),
	}
}

// Listen binds the configured listeners and registers their ports with the
// portmap registry. Serve calls it when it has not been called yet.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.listeners) > 0 {
		return nil
	}

	if err := s.listenLocked(ServiceNFS, s.config.NFSPort); err != nil {
		return err
	}
	nfsPort := portOf(s.listeners[ServiceNFS])
	mountPort := nfsPort
	if s.config.MountPort != 0 && s.config.MountPort != s.config.NFSPort {
		if err := s.listenLocked(ServiceMount, s.config.MountPort); err != nil {
			s.closeListenersLocked()
			return err
		}
		mountPort = portOf(s.listeners[ServiceMount])
	}

	portmapPort := 0
	if s.config.EnablePortmap {
		if err := s.listenLocked(ServicePortmap, s.config.PortmapPort); err != nil {
			s.closeListenersLocked()
			return err
		}
		portmapPort = portOf(s.listeners[ServicePortmap])
	}

	s.registry.RegisterServices(portmapPort, mountPort, nfsPort)
	logger.Info("Registered services: nfs=%d mount=%d portmap=%d", nfsPort, mountPort, portmapPort)
	return nil
}

func (s *Server) listenLocked(service string, port int) error {
	addr := net.JoinHostPort(s.config.ListenAddress, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s on %s: %w", service, addr, err)
	}
	s.listeners[service] = ln
	s.order = append(s.order, service)
	return nil
}

func (s *Server) closeListenersLocked() {
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	clear(s.listeners)
	s.order = nil
}

func portOf(ln net.Listener) int {
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Addr returns the bound address of a service, or nil when it has no
// listener of its own.
func (s *Server) Addr(service string) net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ln, ok := s.listeners[service]; ok {
		return ln.Addr()
	}
	return nil
}

// Registry returns the portmap registry served by this server.
func (s *Server) Registry() *portmap.Registry {
	return s.registry
}

// Serve runs every listener and the metrics endpoint until ctx is cancelled
// or one of them fails, then shuts the rest down. It returns nil after a
// clean shutdown. Serve may only be called once.
func (s *Server) Serve(ctx context.Context) error {
	err := errors.New("server: Serve already called")
	s.serveOnce.Do(func() {
		err = s.serve(ctx)
	})
	return err
}

func (s *Server) serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.mu.Lock()
	services := append([]string(nil), s.order...)
	listeners := make([]net.Listener, len(services))
	for i, name := range services {
		listeners[i] = s.listeners[name]
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for i, ln := range listeners {
		name := services[i]
		g.Go(func() error {
			logger.Info("Starting %s listener on %s", name, ln.Addr())
			if err := s.rpc.Serve(gctx, ln); err != nil {
				logger.Error("%s listener failed: %v", name, err)
				return fmt.Errorf("%s listener: %w", name, err)
			}
			logger.Debug("%s listener stopped", name)
			return nil
		})
	}
	if s.metrics != nil {
		g.Go(func() error {
			return s.metrics.Start(gctx)
		})
	}

	err := g.Wait()
	logger.Info("Server stopped")
	return err
}

// Stop shuts the RPC server down and waits for connections to drain or ctx
// to end.
func (s *Server) Stop(ctx context.Context) error {
	err := s.rpc.Stop(ctx)
	if s.metrics != nil {
		err = errors.Join(err, s.metrics.Stop(ctx))
	}
	return err
}

// ActiveConnections returns the number of open client connections.
func (s *Server) ActiveConnections() int32 {
	return s.rpc.ActiveConnections()
}
