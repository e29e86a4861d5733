// Package fileserver serves directory trees over NFS version 3.
//
// A Server implements both nfs3.Handler and mount.Handler on top of one or
// more afero filesystems, one per export. File handles are issued by a
// handles.Table, which binds an incrementing id to each path the server has
// handed out.
package fileserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/fileserver/handles"
	"github.com/marmos91/dnfs/pkg/mount"
	"github.com/marmos91/dnfs/pkg/nfs3"
	"github.com/spf13/afero"
)

// Export is one exported tree.
type Export struct {
	// Path is the name clients mount, such as "/data".
	Path string

	// Fs holds the exported files. Its root is the export root.
	Fs afero.Fs

	// ReadOnly rejects every modifying procedure with NFS3ERR_ROFS.
	ReadOnly bool

	// AllowedClients restricts MNT to these addresses or CIDR ranges. Empty
	// allows every client.
	AllowedClients []string
}

// Options tunes the values a Server reports.
type Options struct {
	// FSInfo is returned by FSINFO. Zero fields take DefaultFSInfo values.
	FSInfo nfs3.FSInfo

	// Capacity is the total size reported by FSSTAT. Default 1 TiB.
	Capacity uint64

	// MaxFiles is the file count limit reported by FSSTAT. Default 1<<20.
	MaxFiles uint64

	// StatTTL is how long FSSTAT usage figures are reused. Default 5s.
	StatTTL time.Duration
}

// DefaultFSInfo returns the FSINFO limits used when none are configured.
func DefaultFSInfo() nfs3.FSInfo {
	const size = 10 << 20
	return nfs3.FSInfo{
		RtMax:       size,
		RtPref:      size,
		RtMult:      100 << 10,
		WtMax:       size,
		WtPref:      size,
		WtMult:      100 << 10,
		DtPref:      size,
		MaxFileSize: math.MaxInt32,
		TimeDelta:   nfs3.Time{Nseconds: uint32(time.Millisecond)},
		Properties:  nfs3.FSFLink | nfs3.FSFSymlink | nfs3.FSFHomogeneous | nfs3.FSFCanSetTime,
	}
}

func (o *Options) applyDefaults() {
	def := DefaultFSInfo()
	fill := func(v *uint32, d uint32) {
		if *v == 0 {
			*v = d
		}
	}
	fill(&o.FSInfo.RtMax, def.RtMax)
	fill(&o.FSInfo.RtPref, def.RtPref)
	fill(&o.FSInfo.RtMult, def.RtMult)
	fill(&o.FSInfo.WtMax, def.WtMax)
	fill(&o.FSInfo.WtPref, def.WtPref)
	fill(&o.FSInfo.WtMult, def.WtMult)
	fill(&o.FSInfo.DtPref, def.DtPref)
	fill(&o.FSInfo.Properties, def.Properties)
	if o.FSInfo.MaxFileSize == 0 {
		o.FSInfo.MaxFileSize = def.MaxFileSize
	}
	if o.FSInfo.TimeDelta == (nfs3.Time{}) {
		o.FSInfo.TimeDelta = def.TimeDelta
	}
	if o.Capacity == 0 {
		o.Capacity = 1 << 40
	}
	if o.MaxFiles == 0 {
		o.MaxFiles = 1 << 20
	}
	if o.StatTTL == 0 {
		o.StatTTL = 5 * time.Second
	}
}

type export struct {
	Export
	dir      string
	key      string // first component of every handle table key of the export
	fsid     uint64
	networks []*net.IPNet
	hosts    []string
}

// Server is an NFS3 and MOUNT backend.
type Server struct {
	nfs3.UnimplementedHandler

	exports []*export
	byDir   map[string]*export
	byKey   map[string]*export
	table   handles.Table
	opts    Options

	// writeVerifier changes on every start so that clients resend
	// uncommitted writes after a restart.
	writeVerifier  nfs3.Verifier
	cookieVerifier nfs3.Verifier

	statsMu sync.Mutex
	stats   map[string]usage
}

type usage struct {
	bytes uint64
	files uint64
	at    time.Time
}

// New validates the exports and builds a Server. The table is owned by the
// Server from then on and closed by Close.
func New(exports []Export, table handles.Table, opts Options) (*Server, error) {
	if len(exports) == 0 {
		return nil, errors.New("fileserver: no exports")
	}
	if table == nil {
		return nil, errors.New("fileserver: handle table is required")
	}
	opts.applyDefaults()

	s := &Server{
		byDir: make(map[string]*export),
		byKey: make(map[string]*export),
		table: table,
		opts:  opts,
		stats: make(map[string]usage),
	}

	for i, e := range exports {
		if e.Fs == nil {
			return nil, fmt.Errorf("fileserver: export %q has no filesystem", e.Path)
		}
		dir := handles.Clean(e.Path)
		if _, dup := s.byDir[dir]; dup {
			return nil, fmt.Errorf("fileserver: duplicate export %q", dir)
		}

		ex := &export{Export: e, dir: dir, key: "/" + url.PathEscape(dir), fsid: uint64(i + 1)}
		for _, client := range e.AllowedClients {
			if _, network, err := net.ParseCIDR(client); err == nil {
				ex.networks = append(ex.networks, network)
				continue
			}
			if ip := net.ParseIP(client); ip != nil {
				bits := 8 * net.IPv6len
				if v4 := ip.To4(); v4 != nil {
					ip, bits = v4, 8*net.IPv4len
				}
				ex.networks = append(ex.networks, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
				continue
			}
			ex.hosts = append(ex.hosts, client)
		}

		s.exports = append(s.exports, ex)
		s.byDir[dir] = ex
		s.byKey[ex.key] = ex
	}

	id := uuid.New()
	copy(s.writeVerifier[:], id[:nfs3.VerifierSize])
	copy(s.cookieVerifier[:], id[nfs3.VerifierSize:])

	logger.Info("File server ready: exports=%d", len(s.exports))
	return s, nil
}

// Close releases the handle table.
func (s *Server) Close() error {
	return s.table.Close()
}

// WriteVerifier returns the verifier reported by WRITE and COMMIT.
func (s *Server) WriteVerifier() nfs3.Verifier {
	return s.writeVerifier
}

func (s *Server) mountExports() []mount.Export {
	out := make([]mount.Export, 0, len(s.exports))
	for _, e := range s.exports {
		out = append(out, mount.Export{Dir: e.dir, Groups: slices.Clone(e.AllowedClients)})
	}
	return out
}

// ============================================================================
// Handle Resolution
// ============================================================================

// Handle table keys are export-qualified: the escaped export path forms a
// single leading component and the path inside the export follows it, so
// "/a" + "/b/x" is stored as "/%2Fa/b/x". A handle therefore stays bound to
// the export it was issued through, even when another export is mounted at
// one of its descendants.

// handleKey returns the handle table key of rel.
func (e *export) handleKey(rel string) string {
	return path.Join(e.key, rel)
}

// fromKey splits a handle table key into its export and the path inside it.
func (s *Server) fromKey(key string) (*export, string, bool) {
	first, rest, _ := strings.Cut(strings.TrimPrefix(key, "/"), "/")
	e, ok := s.byKey["/"+first]
	if !ok {
		return nil, "", false
	}
	return e, "/" + rest, true
}

// node is a resolved file handle.
type node struct {
	export *export
	path   string // server path: export dir joined with rel
	rel    string // path inside export.Fs
	handle nfs3.FileHandle
	info   os.FileInfo
}

func (n *node) isDir() bool {
	return n.info.IsDir()
}

// locate maps a mount path to the export that serves it.
func (s *Server) locate(p string) (*export, string, bool) {
	e, rest, ok := mount.ResolveExport(s.mountExports(), p)
	if !ok {
		return nil, "", false
	}
	return s.byDir[e.Dir], "/" + strings.Join(rest, "/"), true
}

// resolve turns h into a node, reporting NFS3ERR_STALE for handles that are
// unknown or whose file has disappeared.
func (s *Server) resolve(ctx context.Context, h nfs3.FileHandle) (*node, error) {
	key, ok, err := s.table.Path(ctx, h)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, decodeErr := handles.Decode(h); decodeErr != nil {
			return nil, &nfs3.Error{Status: nfs3.ErrBadHandle}
		}
		return nil, &nfs3.Error{Status: nfs3.ErrStale}
	}

	e, rel, ok := s.fromKey(key)
	if !ok {
		return nil, &nfs3.Error{Status: nfs3.ErrStale}
	}
	info, err := lstat(e.Fs, rel)
	if errors.Is(err, os.ErrNotExist) {
		_ = s.table.Forget(ctx, key)
		return nil, &nfs3.Error{Status: nfs3.ErrStale}
	}
	if err != nil {
		return nil, err
	}
	return &node{export: e, path: joinExport(e, rel), rel: rel, handle: h, info: info}, nil
}

// child resolves name in dir. "." and ".." are handled, with ".." of an
// export root naming the root itself.
func (s *Server) child(ctx context.Context, dir *node, name string) (*node, error) {
	if !dir.isDir() {
		return nil, &nfs3.Error{Status: nfs3.ErrNotDir}
	}
	switch name {
	case ".":
		return dir, nil
	case "..":
		if dir.path == dir.export.dir {
			return dir, nil
		}
		return s.open(ctx, dir.export, path.Dir(dir.path))
	}
	if err := checkName(name); err != nil {
		return nil, err
	}
	return s.open(ctx, dir.export, path.Join(dir.path, name))
}

// open stats p and issues its handle.
func (s *Server) open(ctx context.Context, e *export, p string) (*node, error) {
	rel := relPath(e, p)
	info, err := lstat(e.Fs, rel)
	if err != nil {
		return nil, err
	}
	h, err := s.table.Handle(ctx, e.handleKey(rel))
	if err != nil {
		return nil, err
	}
	return &node{export: e, path: p, rel: rel, handle: h, info: info}, nil
}

// refresh re-reads the attributes of n after a modification.
func (s *Server) refresh(n *node) {
	if info, err := lstat(n.export.Fs, n.rel); err == nil {
		n.info = info
	}
}

func relPath(e *export, p string) string {
	if e.dir == "/" {
		return p
	}
	return "/" + strings.TrimPrefix(strings.TrimPrefix(p, e.dir), "/")
}

func joinExport(e *export, rel string) string {
	return path.Join(e.dir, rel)
}

// checkName validates a name used to create or address a directory entry.
func checkName(name string) error {
	switch {
	case name == "", name == ".", name == "..", strings.ContainsRune(name, '/'), strings.ContainsRune(name, 0):
		return &nfs3.Error{Status: nfs3.ErrInval}
	case len(name) > nfs3.MaxNameLen:
		return &nfs3.Error{Status: nfs3.ErrNameTooLong}
	}
	return nil
}

func lstat(fs afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(name)
		return info, err
	}
	return fs.Stat(name)
}

// writable reports NFS3ERR_ROFS for read-only exports.
func writable(e *export) error {
	if e.ReadOnly {
		return &nfs3.Error{Status: nfs3.ErrRofs}
	}
	return nil
}
