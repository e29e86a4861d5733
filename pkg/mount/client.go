package mount

import (
	"context"
	"fmt"

	"github.com/marmos91/dnfs/pkg/rpc"
)

// Client calls a remote MOUNT version 3 program.
type Client struct {
	caller rpc.Caller
}

// NewClient wraps a caller bound to MOUNT version 3, typically
// rpcClient.Program(rpc.ProgramMount, rpc.MountVersion).
func NewClient(caller rpc.Caller) *Client {
	return &Client{caller: caller}
}

// Null calls MOUNTPROC3_NULL.
func (c *Client) Null(ctx context.Context) error {
	return c.caller.Call(ctx, ProcNull, nil, nil)
}

// Mount exchanges an export path for its root handle. A non-OK status is
// returned as *Error.
func (c *Client) Mount(ctx context.Context, path string) (*Result, error) {
	var res Result
	if err := c.caller.Call(ctx, ProcMnt, &DirPath{Path: path}, &res); err != nil {
		return nil, fmt.Errorf("mount %s: %w", path, err)
	}
	if res.Status != OK {
		return nil, &Error{Status: res.Status, Path: path}
	}
	return &res, nil
}

// Unmount removes the server's mount table entry for path.
func (c *Client) Unmount(ctx context.Context, path string) error {
	if err := c.caller.Call(ctx, ProcUmnt, &DirPath{Path: path}, nil); err != nil {
		return fmt.Errorf("unmount %s: %w", path, err)
	}
	return nil
}

// UnmountAll removes every mount table entry of this client.
func (c *Client) UnmountAll(ctx context.Context) error {
	if err := c.caller.Call(ctx, ProcUmntAll, nil, nil); err != nil {
		return fmt.Errorf("unmount all: %w", err)
	}
	return nil
}

// Exports lists the server's exports in server order.
func (c *Client) Exports(ctx context.Context) ([]Export, error) {
	var res ExportList
	if err := c.caller.Call(ctx, ProcExport, nil, &res); err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	return res, nil
}

// Dump lists the server's mount table.
func (c *Client) Dump(ctx context.Context) ([]Entry, error) {
	var res MountList
	if err := c.caller.Call(ctx, ProcDump, nil, &res); err != nil {
		return nil, fmt.Errorf("dump mounts: %w", err)
	}
	return res, nil
}

// MountPath resolves target against the export list, mounts the chosen
// export and returns the mount result with the path components that remain
// to be looked up below the export root.
func (c *Client) MountPath(ctx context.Context, target string) (*Result, Export, []string, error) {
	exports, err := c.Exports(ctx)
	if err != nil {
		return nil, Export{}, nil, err
	}
	export, rest, ok := ResolveExport(exports, target)
	if !ok {
		return nil, Export{}, nil, &Error{Status: ErrNoEnt, Path: target}
	}
	res, err := c.Mount(ctx, export.Dir)
	if err != nil {
		return nil, Export{}, nil, err
	}
	return res, export, rest, nil
}
