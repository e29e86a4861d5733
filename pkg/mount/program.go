package mount

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/marmos91/dnfs/pkg/xdr"
)

// Handler is the export backend behind the MOUNT program.
type Handler interface {
	// Exports lists the exported directories.
	Exports(ctx context.Context) ([]Export, error)

	// Mount returns the root handle of the export at path and the auth
	// flavors accepted under it. A *Error selects the reply status; any other
	// error is reported as MNT3ERR_SERVERFAULT.
	Mount(ctx context.Context, auth *rpc.AuthContext, path string) (handle []byte, flavors []uint32, err error)
}

// Program serves MOUNT version 3 over a Handler and keeps the advisory
// mount table reported by DUMP.
type Program struct {
	handler Handler

	mu     sync.Mutex
	mounts []Entry
}

// NewProgram returns the MOUNT program (100005) version 3 backed by handler.
// The mount table starts empty.
func NewProgram(handler Handler) *Program {
	return &Program{handler: handler}
}

// Program returns 100005.
func (p *Program) Program() uint32 { return rpc.ProgramMount }
// Version returns 3.
func (p *Program) Version() uint32 { return rpc.MountVersion }

// ProcedureName returns the RFC 1813 Appendix I name of proc.
func (p *Program) ProcedureName(proc uint32) string {
	return ProcedureName(proc)
}

// Dispatch serves one MOUNT call. Successful MNT calls are recorded in the
// mount table under the caller's host, UMNT and UMNTALL remove them.
func (p *Program) Dispatch(ctx context.Context, call *rpc.Call) ([]byte, error) {
	host := clientHost(call.Auth.ClientAddr)

	switch call.Header.Procedure {
	case ProcNull:
		return nil, nil

	case ProcMnt:
		var args DirPath
		if err := xdr.Unmarshal(call.Args, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
		}
		return xdr.Marshal(p.mount(ctx, call.Auth, host, args.Path))

	case ProcDump:
		list := p.Mounts()
		return xdr.Marshal(&list)

	case ProcUmnt:
		var args DirPath
		if err := xdr.Unmarshal(call.Args, &args); err != nil {
			return nil, fmt.Errorf("%w: %v", rpc.ErrGarbageArgs, err)
		}
		p.unmount(host, args.Path)
		return nil, nil

	case ProcUmntAll:
		p.unmount(host, "")
		return nil, nil

	case ProcExport:
		exports, err := p.handler.Exports(ctx)
		if err != nil {
			return nil, fmt.Errorf("list exports: %w", err)
		}
		list := ExportList(exports)
		return xdr.Marshal(&list)

	default:
		return nil, rpc.ErrProcUnavail
	}
}

func (p *Program) mount(ctx context.Context, auth *rpc.AuthContext, host, path string) *Result {
	if unix := auth.Unix; unix != nil {
		logger.Info("Mount request: path=%s client=%s auth=UNIX uid=%d gid=%d machine=%s",
			path, host, unix.UID, unix.GID, unix.MachineName)
	} else {
		logger.Info("Mount request: path=%s client=%s auth_flavor=%d", path, host, auth.Flavor)
	}

	handle, flavors, err := p.handler.Mount(ctx, auth, path)
	if err != nil {
		var mntErr *Error
		if errors.As(err, &mntErr) {
			logger.Warn("Mount denied: path=%s client=%s status=%s", path, host, mntErr.Status)
			return &Result{Status: mntErr.Status}
		}
		logger.Error("Mount failed: path=%s client=%s error=%v", path, host, err)
		return &Result{Status: ErrServerFault}
	}
	if len(handle) > MaxHandleLen {
		logger.Error("Mount failed: path=%s handle of %d bytes exceeds %d", path, len(handle), MaxHandleLen)
		return &Result{Status: ErrServerFault}
	}

	p.mu.Lock()
	entry := Entry{Hostname: host, Directory: path}
	if !slices.Contains(p.mounts, entry) {
		p.mounts = append(p.mounts, entry)
	}
	p.mu.Unlock()

	logger.Info("Mount successful: path=%s client=%s", path, host)
	return &Result{Status: OK, Handle: handle, AuthFlavors: flavors}
}

// unmount removes the entries of host, limited to path when it is not empty.
func (p *Program) unmount(host, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.mounts = slices.DeleteFunc(p.mounts, func(e Entry) bool {
		return e.Hostname == host && (path == "" || e.Directory == path)
	})
	logger.Debug("Unmount: client=%s path=%q remaining=%d", host, path, len(p.mounts))
}

// Mounts returns a snapshot of the mount table.
func (p *Program) Mounts() MountList {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.mounts)
}

func clientHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
