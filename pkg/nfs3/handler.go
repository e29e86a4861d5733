package nfs3

import (
	"context"

	"github.com/marmos91/dnfs/pkg/rpc"
)

// Handler implements the NFSv3 procedures behind a Program.
//
// A handler either returns a result, whose Status may be any status
// including failures that carry attributes, or an error. An *Error return
// becomes a result with that status and no optional data; ErrNotImplemented
// becomes NFS3ERR_NOTSUPP; any other error fails the call with SYSTEM_ERR.
//
// Embed UnimplementedHandler to provide only a subset of procedures.
type Handler interface {
	Null(ctx context.Context) error
	GetAttr(ctx context.Context, auth *rpc.AuthContext, args *HandleArgs) (*GetAttrResult, error)
	SetAttr(ctx context.Context, auth *rpc.AuthContext, args *SetAttrArgs) (*WccResult, error)
	Lookup(ctx context.Context, auth *rpc.AuthContext, args *DirOpArgs) (*LookupResult, error)
	Access(ctx context.Context, auth *rpc.AuthContext, args *AccessArgs) (*AccessResult, error)
	ReadLink(ctx context.Context, auth *rpc.AuthContext, args *HandleArgs) (*ReadLinkResult, error)
	Read(ctx context.Context, auth *rpc.AuthContext, args *ReadArgs) (*ReadResult, error)
	Write(ctx context.Context, auth *rpc.AuthContext, args *WriteArgs) (*WriteResult, error)
	Create(ctx context.Context, auth *rpc.AuthContext, args *CreateArgs) (*DirOpResult, error)
	Mkdir(ctx context.Context, auth *rpc.AuthContext, args *MkdirArgs) (*DirOpResult, error)
	Symlink(ctx context.Context, auth *rpc.AuthContext, args *SymlinkArgs) (*DirOpResult, error)
	Mknod(ctx context.Context, auth *rpc.AuthContext, args *MknodArgs) (*DirOpResult, error)
	Remove(ctx context.Context, auth *rpc.AuthContext, args *DirOpArgs) (*WccResult, error)
	Rmdir(ctx context.Context, auth *rpc.AuthContext, args *DirOpArgs) (*WccResult, error)
	Rename(ctx context.Context, auth *rpc.AuthContext, args *RenameArgs) (*RenameResult, error)
	Link(ctx context.Context, auth *rpc.AuthContext, args *LinkArgs) (*LinkResult, error)
	ReadDir(ctx context.Context, auth *rpc.AuthContext, args *ReadDirArgs) (*ReadDirResult, error)
	ReadDirPlus(ctx context.Context, auth *rpc.AuthContext, args *ReadDirPlusArgs) (*ReadDirPlusResult, error)
	FsStat(ctx context.Context, auth *rpc.AuthContext, args *HandleArgs) (*FsStatResult, error)
	FsInfo(ctx context.Context, auth *rpc.AuthContext, args *HandleArgs) (*FsInfoResult, error)
	PathConf(ctx context.Context, auth *rpc.AuthContext, args *HandleArgs) (*PathConfResult, error)
	Commit(ctx context.Context, auth *rpc.AuthContext, args *CommitArgs) (*CommitResult, error)
}

// UnimplementedHandler answers NULL and returns ErrNotImplemented for every
// other procedure.
type UnimplementedHandler struct{}

// Null succeeds so that clients can always ping the program.
func (UnimplementedHandler) Null(context.Context) error { return nil }

func (UnimplementedHandler) GetAttr(context.Context, *rpc.AuthContext, *HandleArgs) (*GetAttrResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) SetAttr(context.Context, *rpc.AuthContext, *SetAttrArgs) (*WccResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) Lookup(context.Context, *rpc.AuthContext, *DirOpArgs) (*LookupResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) Access(context.Context, *rpc.AuthContext, *AccessArgs) (*AccessResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) ReadLink(context.Context, *rpc.AuthContext, *HandleArgs) (*ReadLinkResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) Read(context.Context, *rpc.AuthContext, *ReadArgs) (*ReadResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) Write(context.Context, *rpc.AuthContext, *WriteArgs) (*WriteResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) Create(context.Context, *rpc.AuthContext, *CreateArgs) (*DirOpResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) Mkdir(context.Context, *rpc.AuthContext, *MkdirArgs) (*DirOpResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) Symlink(context.Context, *rpc.AuthContext, *SymlinkArgs) (*DirOpResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) Mknod(context.Context, *rpc.AuthContext, *MknodArgs) (*DirOpResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) Remove(context.Context, *rpc.AuthContext, *DirOpArgs) (*WccResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) Rmdir(context.Context, *rpc.AuthContext, *DirOpArgs) (*WccResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) Rename(context.Context, *rpc.AuthContext, *RenameArgs) (*RenameResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) Link(context.Context, *rpc.AuthContext, *LinkArgs) (*LinkResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) ReadDir(context.Context, *rpc.AuthContext, *ReadDirArgs) (*ReadDirResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) ReadDirPlus(context.Context, *rpc.AuthContext, *ReadDirPlusArgs) (*ReadDirPlusResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) FsStat(context.Context, *rpc.AuthContext, *HandleArgs) (*FsStatResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) FsInfo(context.Context, *rpc.AuthContext, *HandleArgs) (*FsInfoResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) PathConf(context.Context, *rpc.AuthContext, *HandleArgs) (*PathConfResult, error) {
	return nil, ErrNotImplemented
}

func (UnimplementedHandler) Commit(context.Context, *rpc.AuthContext, *CommitArgs) (*CommitResult, error) {
	return nil, ErrNotImplemented
}
