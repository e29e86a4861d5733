package portmap

import (
	"context"
	"fmt"

	"github.com/marmos91/dnfs/pkg/rpc"
)

// Client queries a remote portmapper. It implements rpc.PortResolver for TCP
// services.
type Client struct {
	caller rpc.Caller
	owned  *rpc.Client
}

// NewClient wraps a caller bound to portmap version 2.
func NewClient(caller rpc.Caller) *Client {
	return &Client{caller: caller}
}

// Connect creates a client for the portmapper at host:port. cfg.Resolver is
// replaced by the fixed port.
func Connect(host string, port int, cfg rpc.ClientConfig) *Client {
	cfg.Resolver = rpc.StaticPorts{rpc.ProgramPortmap: port}
	if cfg.ProcedureName == nil {
		cfg.ProcedureName = func(_, proc uint32) string { return ProcedureName(proc) }
	}
	owned := rpc.NewClient(host, cfg)
	return &Client{
		caller: owned.Program(rpc.ProgramPortmap, rpc.PortmapVersion),
		owned:  owned,
	}
}

// Close closes the underlying connection when the client owns it.
func (c *Client) Close() error {
	if c.owned == nil {
		return nil
	}
	return c.owned.Close()
}

// Null pings the portmapper.
func (c *Client) Null(ctx context.Context) error {
	return c.caller.Call(ctx, ProcNull, nil, nil)
}

// GetPort returns the TCP port of (program, version), or 0 if it is not
// registered.
func (c *Client) GetPort(ctx context.Context, program, version uint32) (int, error) {
	var res portResult
	args := &Mapping{Prog: program, Vers: version, Prot: ProtoTCP}
	if err := c.caller.Call(ctx, ProcGetport, args, &res); err != nil {
		return 0, fmt.Errorf("portmap GETPORT %s v%d: %w", rpc.ProgramName(program), version, err)
	}
	return int(res.Port), nil
}

// Set registers a mapping. Remote portmappers normally refuse it unless
// called from the same host.
func (c *Client) Set(ctx context.Context, m Mapping) (bool, error) {
	var res boolResult
	if err := c.caller.Call(ctx, ProcSet, &m, &res); err != nil {
		return false, fmt.Errorf("portmap SET: %w", err)
	}
	return res.Value, nil
}

// Unset removes the mappings of (program, version).
func (c *Client) Unset(ctx context.Context, program, version uint32) (bool, error) {
	var res boolResult
	if err := c.caller.Call(ctx, ProcUnset, &Mapping{Prog: program, Vers: version}, &res); err != nil {
		return false, fmt.Errorf("portmap UNSET: %w", err)
	}
	return res.Value, nil
}

// Dump lists every registered mapping.
func (c *Client) Dump(ctx context.Context) (MappingList, error) {
	var res MappingList
	if err := c.caller.Call(ctx, ProcDump, nil, &res); err != nil {
		return nil, fmt.Errorf("portmap DUMP: %w", err)
	}
	return res, nil
}
