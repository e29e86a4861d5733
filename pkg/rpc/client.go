package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/metrics"
	"github.com/marmos91/dnfs/pkg/xdr"
)

// Caller issues calls against one program version. *ProgramClient
// implements it over the network; tests substitute their own.
type Caller interface {
	Call(ctx context.Context, proc uint32, args xdr.Encoder, res xdr.Decoder) error
}

// PortResolver maps a program version to the TCP port serving it.
type PortResolver interface {
	GetPort(ctx context.Context, program, version uint32) (int, error)
}

// StaticPorts resolves programs from a fixed table keyed by program number.
type StaticPorts map[uint32]int

// GetPort returns the port configured for program, ignoring version.
func (s StaticPorts) GetPort(_ context.Context, program, version uint32) (int, error) {
	port, ok := s[program]
	if !ok {
		return 0, fmt.Errorf("no port configured for %s v%d", ProgramName(program), version)
	}
	return port, nil
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// Credential sent with every call. Defaults to AUTH_NULL.
	Credential OpaqueAuth

	// Resolver locates programs. Required.
	Resolver PortResolver

	Transport TransportConfig

	Metrics metrics.RPCClientMetrics

	// ProcedureName labels procedures in logs and metrics. Optional.
	ProcedureName func(program, proc uint32) string
}

type programVersion struct {
	program uint32
	version uint32
}

// Client speaks ONC RPC to one host. It keeps one Transport per program
// version; the port of each is resolved on first use and cached for the
// lifetime of the client.
type Client struct {
	host string
	cfg  ClientConfig

	xid atomic.Uint32

	mu         sync.Mutex
	transports map[programVersion]*Transport
}

// NewClient returns a Client for host. Transports are created lazily, one
// per program version, after the resolver has mapped the program to a port.
//
// Parameters:
//   - host: host name or IP address, without a port
//   - cfg: credential, resolver and transport settings
//
// The initial xid is seeded from the clock, as RFC 5531 Section 9 only
// requires xids to be unique per client over a short window.
func NewClient(host string, cfg ClientConfig) *Client {
	if cfg.Credential.Body == nil {
		cfg.Credential = NullAuth
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewRPCClientMetrics()
	}
	if cfg.Transport.Metrics == nil {
		cfg.Transport.Metrics = cfg.Metrics
	}

	c := &Client{
		host:       host,
		cfg:        cfg,
		transports: make(map[programVersion]*Transport),
	}
	// Seed from the clock so restarted clients do not reuse recent xids.
	c.xid.Store(uint32(time.Now().UnixNano()))
	return c
}

// Host returns the host the client was created for.
func (c *Client) Host() string {
	return c.host
}

// NextXID returns a fresh transaction id.
func (c *Client) NextXID() uint32 {
	return c.xid.Add(1)
}

// Program binds the client to one program version.
func (c *Client) Program(program, version uint32) *ProgramClient {
	return &ProgramClient{client: c, program: program, version: version}
}

// Close closes every transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for key, t := range c.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.transports, key)
	}
	return errors.Join(errs...)
}

func (c *Client) transport(ctx context.Context, program, version uint32) (*Transport, error) {
	key := programVersion{program, version}

	c.mu.Lock()
	t, ok := c.transports[key]
	c.mu.Unlock()
	if ok {
		return t, nil
	}

	if c.cfg.Resolver == nil {
		return nil, errors.New("rpc client has no port resolver")
	}
	port, err := c.cfg.Resolver.GetPort(ctx, program, version)
	if err != nil {
		return nil, fmt.Errorf("resolve port for %s v%d: %w", ProgramName(program), version, err)
	}
	if port == 0 {
		return nil, fmt.Errorf("%s v%d is not registered on %s", ProgramName(program), version, c.host)
	}

	addr := net.JoinHostPort(c.host, strconv.Itoa(port))
	logger.Debug("RPC client: %s v%d resolved to %s", ProgramName(program), version, addr)

	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.transports[key]; ok {
		return t, nil
	}
	t = NewTransport(addr, c.cfg.Transport)
	c.transports[key] = t
	return t, nil
}

// Call sends one call and decodes the result into res. Envelope failures are
// returned as *ProtocolError, exhausted retries as *TransportError.
func (c *Client) Call(ctx context.Context, program, version, proc uint32, args xdr.Encoder, res xdr.Decoder) (err error) {
	start := time.Now()
	procName := c.procedureName(program, proc)
	defer func() {
		c.cfg.Metrics.RecordCall(ProgramName(program), procName, time.Since(start), err)
	}()

	t, err := c.transport(ctx, program, version)
	if err != nil {
		return err
	}

	header := &CallHeader{
		XID:       c.NextXID(),
		Program:   program,
		Version:   version,
		Procedure: proc,
		Cred:      c.cfg.Credential,
		Verf:      NullAuth,
	}
	message, err := EncodeCall(header, args)
	if err != nil {
		return err
	}

	logger.Debug("RPC call: xid=0x%x prog=%d vers=%d proc=%s", header.XID, program, version, procName)

	data, err := t.SendAndReceive(ctx, message)
	if err != nil {
		return err
	}

	reply, body, err := DecodeReply(data)
	if err != nil {
		return err
	}
	if reply.XID != header.XID {
		// The stream is out of step: every later reply on this connection
		// would answer an earlier call. Redial on the next call instead.
		logger.Warn("RPC transport %s: reply xid=0x%x does not match call xid=0x%x, dropping connection",
			t.Addr(), reply.XID, header.XID)
		_ = t.Close()
		return &XIDMismatchError{Want: header.XID, Got: reply.XID}
	}
	if !reply.IsSuccess() {
		return &ProtocolError{Program: program, Version: version, Procedure: proc, Reply: *reply}
	}

	if res != nil {
		if err := xdr.Unmarshal(body, res); err != nil {
			return fmt.Errorf("%s %s: %w", ProgramName(program), procName, err)
		}
	}
	return nil
}

func (c *Client) procedureName(program, proc uint32) string {
	if c.cfg.ProcedureName != nil {
		return c.cfg.ProcedureName(program, proc)
	}
	return strconv.FormatUint(uint64(proc), 10)
}

// ProgramClient is a Client bound to one program version.
type ProgramClient struct {
	client  *Client
	program uint32
	version uint32
}

// Call implements Caller for the bound program version.
func (p *ProgramClient) Call(ctx context.Context, proc uint32, args xdr.Encoder, res xdr.Decoder) error {
	return p.client.Call(ctx, p.program, p.version, proc, args, res)
}
