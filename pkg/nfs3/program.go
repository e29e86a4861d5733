package nfs3

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/marmos91/dnfs/pkg/xdr"
)

// Program serves NFS version 3 over a Handler.
type Program struct {
	handler Handler
}

// NewProgram returns the NFS program (100003) version 3 served by handler.
// Register it with an rpc.Server.
func NewProgram(handler Handler) *Program {
	return &Program{handler: handler}
}

// Program returns the RPC program number, 100003.
func (p *Program) Program() uint32 { return rpc.ProgramNFS }
// Version returns 3.
func (p *Program) Version() uint32 { return rpc.NFSVersion }

// ProcedureName returns the RFC 1813 name of proc, used in logs and metric
// labels.
func (p *Program) ProcedureName(proc uint32) string {
	return ProcedureName(proc)
}

// Dispatch decodes the arguments of call, invokes the matching Handler
// method and encodes its result.
func (p *Program) Dispatch(ctx context.Context, call *rpc.Call) ([]byte, error) {
	h := p.handler

	switch call.Header.Procedure {
	case ProcNull:
		if err := h.Null(ctx); err != nil {
			if errors.Is(err, ErrNotImplemented) {
				return nil, rpc.ErrProcUnavail
			}
			return nil, err
		}
		return nil, nil
	case ProcGetAttr:
		return serve(ctx, call, h.GetAttr)
	case ProcSetAttr:
		return serve(ctx, call, h.SetAttr)
	case ProcLookup:
		return serve(ctx, call, h.Lookup)
	case ProcAccess:
		return serve(ctx, call, h.Access)
	case ProcReadLink:
		return serve(ctx, call, h.ReadLink)
	case ProcRead:
		return serve(ctx, call, h.Read)
	case ProcWrite:
		return serve(ctx, call, h.Write)
	case ProcCreate:
		return serve(ctx, call, h.Create)
	case ProcMkdir:
		return serve(ctx, call, h.Mkdir)
	case ProcSymlink:
		return serve(ctx, call, h.Symlink)
	case ProcMknod:
		return serve(ctx, call, h.Mknod)
	case ProcRemove:
		return serve(ctx, call, h.Remove)
	case ProcRmdir:
		return serve(ctx, call, h.Rmdir)
	case ProcRename:
		return serve(ctx, call, h.Rename)
	case ProcLink:
		return serve(ctx, call, h.Link)
	case ProcReadDir:
		return serve(ctx, call, h.ReadDir)
	case ProcReadDirPlus:
		return serve(ctx, call, h.ReadDirPlus)
	case ProcFsStat:
		return serve(ctx, call, h.FsStat)
	case ProcFsInfo:
		return serve(ctx, call, h.FsInfo)
	case ProcPathConf:
		return serve(ctx, call, h.PathConf)
	case ProcCommit:
		return serve(ctx, call, h.Commit)
	default:
		return nil, rpc.ErrProcUnavail
	}
}

type argsPtr[A any] interface {
	*A
	xdr.Decoder
}

type resultPtr[R any] interface {
	*R
	xdr.Encoder
	xdr.Decoder
	statusField() *Status
}

// serve decodes the arguments, runs fn and encodes its result. Errors that
// carry an NFS status become a bare result with that status.
func serve[A, R any, PA argsPtr[A], PR resultPtr[R]](
	ctx context.Context,
	call *rpc.Call,
	fn func(context.Context, *rpc.AuthContext, PA) (PR, error),
) ([]byte, error) {
	procName := ProcedureName(call.Header.Procedure)

	args := PA(new(A))
	if err := xdr.Unmarshal(call.Args, args); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rpc.ErrGarbageArgs, procName, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", procName, err)
	}

	res, err := fn(ctx, call.Auth, args)
	if err != nil {
		status, ok := StatusOf(err)
		if !ok {
			return nil, fmt.Errorf("%s: %w", procName, err)
		}
		logger.Debug("NFS %s: client=%s status=%s: %v", procName, call.Auth.ClientAddr, status, err)
		res = PR(new(R))
		*res.statusField() = status
	}
	if res == nil {
		return nil, fmt.Errorf("%s: handler returned no result", procName)
	}

	return xdr.Marshal(res)
}
