package portmap

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/marmos91/dnfs/pkg/xdr"
	xdr2 "github.com/rasky/go-xdr/xdr2"
)

// Program serves a Registry as portmap version 2. SET and UNSET are only
// honoured for loopback clients; CALLIT is not served.
type Program struct {
	registry *Registry
}

// NewProgram returns the portmap program (100000) version 2 over registry.
func NewProgram(registry *Registry) *Program {
	return &Program{registry: registry}
}

// Program returns 100000.
func (p *Program) Program() uint32 { return rpc.ProgramPortmap }
// Version returns 2.
func (p *Program) Version() uint32 { return rpc.PortmapVersion }

// ProcedureName returns the RFC 1833 name of proc.
func (p *Program) ProcedureName(proc uint32) string {
	return ProcedureName(proc)
}

// Dispatch serves NULL, SET, UNSET, GETPORT and DUMP. Other procedures,
// CALLIT included, fail with PROC_UNAVAIL.
func (p *Program) Dispatch(_ context.Context, call *rpc.Call) ([]byte, error) {
	switch call.Header.Procedure {
	case ProcNull:
		return nil, nil

	case ProcSet:
		m, err := decodeMapping(call.Args)
		if err != nil {
			return nil, err
		}
		if !isLoopback(call.Auth.ClientAddr) {
			logger.Warn("Portmap SET rejected for non-local client %s", call.Auth.ClientAddr)
			return xdr.Marshal(&boolResult{false})
		}
		return xdr.Marshal(&boolResult{p.registry.Set(m)})

	case ProcUnset:
		m, err := decodeMapping(call.Args)
		if err != nil {
			return nil, err
		}
		if !isLoopback(call.Auth.ClientAddr) {
			logger.Warn("Portmap UNSET rejected for non-local client %s", call.Auth.ClientAddr)
			return xdr.Marshal(&boolResult{false})
		}
		return xdr.Marshal(&boolResult{p.registry.Unset(m.Prog, m.Vers)})

	case ProcGetport:
		m, err := decodeMapping(call.Args)
		if err != nil {
			return nil, err
		}
		port := p.registry.Getport(m.Prog, m.Vers, m.Prot)
		logger.Debug("Portmap GETPORT prog=%d vers=%d prot=%d -> %d", m.Prog, m.Vers, m.Prot, port)
		return xdr.Marshal(&portResult{port})

	case ProcDump:
		list := p.registry.Dump()
		return xdr.Marshal(&list)

	default:
		return nil, rpc.ErrProcUnavail
	}
}

// decodeMapping reads the fixed-size mapping argument.
func decodeMapping(args []byte) (Mapping, error) {
	var m Mapping
	if _, err := xdr2.Unmarshal(bytes.NewReader(args), &m); err != nil {
		return Mapping{}, fmt.Errorf("%w: mapping: %v", rpc.ErrGarbageArgs, err)
	}
	return m, nil
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
