// Package client provides an NFSv3 client session: it mounts an export,
// learns the server's transfer limits and wraps the raw procedures with an
// attribute cache and status-to-error translation.
//
// A Session is safe for concurrent use; calls are serialized per program by
// the underlying transports.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/metrics"
	"github.com/marmos91/dnfs/pkg/mount"
	"github.com/marmos91/dnfs/pkg/nfs3"
	"github.com/marmos91/dnfs/pkg/portmap"
	"github.com/marmos91/dnfs/pkg/rpc"
)

// Config describes how to reach and mount an export.
type Config struct {
	// Host is the server name or address.
	Host string

	// Path is the directory to attach to. It may lie below an export, in
	// which case the remaining components are looked up after mounting.
	Path string

	// Auth is sent as AUTH_UNIX with every call. Nil selects AUTH_NULL.
	Auth *rpc.UnixAuth

	// PortmapPort is where the portmapper listens. Default 111.
	PortmapPort int

	// MountPort and NFSPort skip portmap discovery for that program when
	// non-zero.
	MountPort int
	NFSPort   int

	Transport rpc.TransportConfig

	Metrics metrics.RPCClientMetrics
}

// Option customizes a Session.
type Option func(*Session)

// WithClock replaces time.Now for FSSTAT cache expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// fsStatMinLifetime keeps FSSTAT replies for at least this long, so that a
// burst of capacity queries costs one round trip.
const fsStatMinLifetime = time.Second

// invarsecForever marks FSSTAT counters that never change.
const invarsecForever = ^uint32(0)

type cachedStat struct {
	stat    nfs3.FSStat
	until   time.Time
	forever bool
}

// Session is a mounted export.
type Session struct {
	mount *mount.Client
	nfs   *nfs3.Client

	rpcClient *rpc.Client
	portmap   *portmap.Client

	export mount.Export
	root   nfs3.FileHandle
	info   nfs3.FSInfo
	now    func() time.Time

	mu    sync.Mutex
	attrs map[string]nfs3.FileAttributes
	stats map[string]cachedStat
}

// Dial connects to cfg.Host, resolves the MOUNT and NFS ports through the
// portmapper unless fixed, and mounts cfg.Path.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Session, error) {
	if cfg.Host == "" {
		return nil, errors.New("client: host is required")
	}
	if cfg.PortmapPort == 0 {
		cfg.PortmapPort = rpc.PortmapPort
	}

	credential := rpc.NullAuth
	if cfg.Auth != nil {
		var err error
		if credential, err = cfg.Auth.OpaqueAuth(); err != nil {
			return nil, fmt.Errorf("client: encode credential: %w", err)
		}
	}

	rpcCfg := rpc.ClientConfig{
		Credential:    credential,
		Transport:     cfg.Transport,
		Metrics:       cfg.Metrics,
		ProcedureName: procedureName,
	}

	resolver := &portResolver{static: rpc.StaticPorts{}}
	if cfg.MountPort != 0 {
		resolver.static[rpc.ProgramMount] = cfg.MountPort
	}
	if cfg.NFSPort != 0 {
		resolver.static[rpc.ProgramNFS] = cfg.NFSPort
	}
	if cfg.MountPort == 0 || cfg.NFSPort == 0 {
		resolver.portmap = portmap.Connect(cfg.Host, cfg.PortmapPort, rpcCfg)
	}
	rpcCfg.Resolver = resolver

	rpcClient := rpc.NewClient(cfg.Host, rpcCfg)
	s := newSession(
		rpcClient.Program(rpc.ProgramMount, rpc.MountVersion),
		rpcClient.Program(rpc.ProgramNFS, rpc.NFSVersion),
		opts,
	)
	s.rpcClient = rpcClient
	s.portmap = resolver.portmap

	if err := s.attach(ctx, cfg.Path); err != nil {
		_ = s.closeTransports()
		return nil, err
	}
	logger.Info("Mounted %s:%s (export %s)", cfg.Host, cfg.Path, s.export.Dir)
	return s, nil
}

// New mounts path over existing callers bound to MOUNT v3 and NFS v3. The
// callers stay owned by the caller; Close only unmounts.
func New(ctx context.Context, mountCaller, nfsCaller rpc.Caller, path string, opts ...Option) (*Session, error) {
	s := newSession(mountCaller, nfsCaller, opts)
	if err := s.attach(ctx, path); err != nil {
		return nil, err
	}
	return s, nil
}

func newSession(mountCaller, nfsCaller rpc.Caller, opts []Option) *Session {
	s := &Session{
		mount: mount.NewClient(mountCaller),
		nfs:   nfs3.NewClient(nfsCaller),
		now:   time.Now,
		attrs: make(map[string]nfs3.FileAttributes),
		stats: make(map[string]cachedStat),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// attach mounts the export containing path, reads FSINFO from its root and
// walks the rest of path.
func (s *Session) attach(ctx context.Context, path string) error {
	res, export, rest, err := s.mount.MountPath(ctx, path)
	if err != nil {
		return err
	}
	s.export = export
	root := nfs3.FileHandle(res.Handle)

	info, err := s.nfs.FsInfo(ctx, &nfs3.HandleArgs{Handle: root})
	if err != nil {
		return err
	}
	s.cacheAttributes(root, info.ObjAttributes)
	if err := info.Status.Err("FSINFO"); err != nil {
		return err
	}
	s.info = info.Info

	for _, name := range rest {
		next, err := s.Lookup(ctx, root, name)
		if err != nil {
			return err
		}
		if next == nil {
			return &nfs3.Error{Status: nfs3.ErrNoEnt, Op: "LOOKUP " + name}
		}
		root = next
	}
	s.root = root
	return nil
}

// Close unmounts the export and closes the connections opened by Dial.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	if err := s.mount.Unmount(ctx, s.export.Dir); err != nil {
		logger.Warn("Unmount %s failed: %v", s.export.Dir, err)
		errs = append(errs, err)
	}
	if err := s.closeTransports(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Session) closeTransports() error {
	var errs []error
	if s.rpcClient != nil {
		errs = append(errs, s.rpcClient.Close())
	}
	if s.portmap != nil {
		errs = append(errs, s.portmap.Close())
	}
	return errors.Join(errs...)
}

// Root returns the handle of the mounted directory.
func (s *Session) Root() nfs3.FileHandle {
	return s.root
}

// Export returns the export the session mounted.
func (s *Session) Export() mount.Export {
	return s.export
}

// FsInfo returns the FSINFO limits read when the session was attached.
func (s *Session) FsInfo() nfs3.FSInfo {
	return s.info
}

// ============================================================================
// Attribute Cache
// ============================================================================

// cacheAttributes replaces the cached attributes of h. Nil attributes leave
// the entry untouched.
func (s *Session) cacheAttributes(h nfs3.FileHandle, attr *nfs3.FileAttributes) {
	if h == nil || attr == nil {
		return
	}
	s.mu.Lock()
	s.attrs[h.Key()] = *attr
	s.mu.Unlock()
}

func (s *Session) cachedAttributes(h nfs3.FileHandle) (*nfs3.FileAttributes, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attr, ok := s.attrs[h.Key()]
	if !ok {
		return nil, false
	}
	return &attr, true
}

// ============================================================================
// Port Resolution
// ============================================================================

// portResolver prefers fixed ports and falls back to the portmapper.
type portResolver struct {
	static  rpc.StaticPorts
	portmap *portmap.Client
}

func (r *portResolver) GetPort(ctx context.Context, program, version uint32) (int, error) {
	if port, ok := r.static[program]; ok {
		return port, nil
	}
	if r.portmap == nil {
		return r.static.GetPort(ctx, program, version)
	}
	port, err := r.portmap.GetPort(ctx, program, version)
	if err != nil {
		return 0, err
	}
	if port == 0 {
		return 0, fmt.Errorf("%s v%d is not registered with the portmapper", rpc.ProgramName(program), version)
	}
	logger.Debug("Portmap: %s v%d is on port %d", rpc.ProgramName(program), version, port)
	return port, nil
}

func procedureName(program, proc uint32) string {
	switch program {
	case rpc.ProgramNFS:
		return nfs3.ProcedureName(proc)
	case rpc.ProgramMount:
		return mount.ProcedureName(proc)
	case rpc.ProgramPortmap:
		return portmap.ProcedureName(proc)
	default:
		return fmt.Sprintf("PROC_%d", proc)
	}
}
