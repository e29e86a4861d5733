package nfs3

import (
	"context"
	"fmt"

	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/marmos91/dnfs/pkg/xdr"
)

// Client builds NFSv3 calls over an rpc.Caller bound to NFS version 3.
//
// Results are returned with their status untouched: a non-OK status is not
// an error at this level, because failure results still carry attributes
// and weak cache consistency data. Only transport and RPC envelope failures
// are returned as errors.
type Client struct {
	caller rpc.Caller
}

// NewClient wraps a caller, typically
// rpcClient.Program(rpc.ProgramNFS, rpc.NFSVersion).
func NewClient(caller rpc.Caller) *Client {
	return &Client{caller: caller}
}

func call[R any, PR resultPtr[R]](ctx context.Context, c *Client, proc uint32, args xdr.Encoder) (PR, error) {
	res := PR(new(R))
	if err := c.caller.Call(ctx, proc, args, res); err != nil {
		return nil, fmt.Errorf("nfs3 %s: %w", ProcedureName(proc), err)
	}
	return res, nil
}

// Null calls procedure 0, which does no work. It is used to check that the
// server is reachable and serves NFS version 3.
func (c *Client) Null(ctx context.Context) error {
	if err := c.caller.Call(ctx, ProcNull, nil, nil); err != nil {
		return fmt.Errorf("nfs3 NULL: %w", err)
	}
	return nil
}

// GetAttr calls GETATTR (procedure 1).
func (c *Client) GetAttr(ctx context.Context, args *HandleArgs) (*GetAttrResult, error) {
	return call[GetAttrResult](ctx, c, ProcGetAttr, args)
}

// SetAttr calls SETATTR (procedure 2). When args.Guard is set the server
// fails with NFS3ERR_NOT_SYNC if the ctime of the object no longer matches.
func (c *Client) SetAttr(ctx context.Context, args *SetAttrArgs) (*WccResult, error) {
	return call[WccResult](ctx, c, ProcSetAttr, args)
}

// Lookup calls LOOKUP (procedure 3) to resolve one name in a directory.
func (c *Client) Lookup(ctx context.Context, args *DirOpArgs) (*LookupResult, error) {
	return call[LookupResult](ctx, c, ProcLookup, args)
}

// Access calls ACCESS (procedure 4).
func (c *Client) Access(ctx context.Context, args *AccessArgs) (*AccessResult, error) {
	return call[AccessResult](ctx, c, ProcAccess, args)
}

// ReadLink calls READLINK (procedure 5).
func (c *Client) ReadLink(ctx context.Context, args *HandleArgs) (*ReadLinkResult, error) {
	return call[ReadLinkResult](ctx, c, ProcReadLink, args)
}

// Read calls READ (procedure 6). The result may hold fewer bytes than
// requested without EOF being set.
func (c *Client) Read(ctx context.Context, args *ReadArgs) (*ReadResult, error) {
	return call[ReadResult](ctx, c, ProcRead, args)
}

// Write calls WRITE (procedure 7). Callers must check res.Count, which may
// be lower than the number of bytes sent.
func (c *Client) Write(ctx context.Context, args *WriteArgs) (*WriteResult, error) {
	return call[WriteResult](ctx, c, ProcWrite, args)
}

// Create calls CREATE (procedure 8).
func (c *Client) Create(ctx context.Context, args *CreateArgs) (*DirOpResult, error) {
	return call[DirOpResult](ctx, c, ProcCreate, args)
}

// Mkdir calls MKDIR (procedure 9).
func (c *Client) Mkdir(ctx context.Context, args *MkdirArgs) (*DirOpResult, error) {
	return call[DirOpResult](ctx, c, ProcMkdir, args)
}

// Symlink calls SYMLINK (procedure 10).
func (c *Client) Symlink(ctx context.Context, args *SymlinkArgs) (*DirOpResult, error) {
	return call[DirOpResult](ctx, c, ProcSymlink, args)
}

// Mknod calls MKNOD (procedure 11).
func (c *Client) Mknod(ctx context.Context, args *MknodArgs) (*DirOpResult, error) {
	return call[DirOpResult](ctx, c, ProcMknod, args)
}

// Remove calls REMOVE (procedure 12).
func (c *Client) Remove(ctx context.Context, args *DirOpArgs) (*WccResult, error) {
	return call[WccResult](ctx, c, ProcRemove, args)
}

// Rmdir calls RMDIR (procedure 13).
func (c *Client) Rmdir(ctx context.Context, args *DirOpArgs) (*WccResult, error) {
	return call[WccResult](ctx, c, ProcRmdir, args)
}

// Rename calls RENAME (procedure 14).
func (c *Client) Rename(ctx context.Context, args *RenameArgs) (*RenameResult, error) {
	return call[RenameResult](ctx, c, ProcRename, args)
}

// Link calls LINK (procedure 15).
func (c *Client) Link(ctx context.Context, args *LinkArgs) (*LinkResult, error) {
	return call[LinkResult](ctx, c, ProcLink, args)
}

// ReadDir calls READDIR (procedure 16) for one page of a listing.
func (c *Client) ReadDir(ctx context.Context, args *ReadDirArgs) (*ReadDirResult, error) {
	return call[ReadDirResult](ctx, c, ProcReadDir, args)
}

// ReadDirPlus calls READDIRPLUS (procedure 17), which returns handles and
// attributes together with the names.
func (c *Client) ReadDirPlus(ctx context.Context, args *ReadDirPlusArgs) (*ReadDirPlusResult, error) {
	return call[ReadDirPlusResult](ctx, c, ProcReadDirPlus, args)
}

// FsStat calls FSSTAT (procedure 18).
func (c *Client) FsStat(ctx context.Context, args *HandleArgs) (*FsStatResult, error) {
	return call[FsStatResult](ctx, c, ProcFsStat, args)
}

// FsInfo calls FSINFO (procedure 19).
func (c *Client) FsInfo(ctx context.Context, args *HandleArgs) (*FsInfoResult, error) {
	return call[FsInfoResult](ctx, c, ProcFsInfo, args)
}

// PathConf calls PATHCONF (procedure 20).
func (c *Client) PathConf(ctx context.Context, args *HandleArgs) (*PathConfResult, error) {
	return call[PathConfResult](ctx, c, ProcPathConf, args)
}

// Commit calls COMMIT (procedure 21). A verifier that differs from the one
// returned by the WRITE calls being committed means the server lost them.
func (c *Client) Commit(ctx context.Context, args *CommitArgs) (*CommitResult, error) {
	return call[CommitResult](ctx, c, ProcCommit, args)
}
