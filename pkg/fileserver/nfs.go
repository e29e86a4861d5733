package fileserver

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/nfs3"
	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/spf13/afero"
)

// ============================================================================
// Attributes
// ============================================================================

// GetAttr handles GETATTR (RFC 1813 Section 3.3.1). Symlinks are reported
// as themselves, not as their targets.
func (s *Server) GetAttr(ctx context.Context, _ *rpc.AuthContext, args *nfs3.HandleArgs) (*nfs3.GetAttrResult, error) {
	n, err := s.resolve(ctx, args.Handle)
	if err != nil {
		return &nfs3.GetAttrResult{Status: fail("GETATTR", err)}, nil
	}
	logger.Debug("GETATTR: path=%s", n.path)
	return &nfs3.GetAttrResult{Status: nfs3.OK, Attributes: *attributes(n)}, nil
}

// SetAttr handles SETATTR (RFC 1813 Section 3.3.2).
//
// The update is sparse: only fields set in NewAttributes are applied, in
// the order size, mode, ownership, times. With a guard the update is
// refused with NFS3ERR_NOT_SYNC unless the current ctime matches it. The
// wcc_data is filled in whether or not the update succeeds.
func (s *Server) SetAttr(ctx context.Context, _ *rpc.AuthContext, args *nfs3.SetAttrArgs) (*nfs3.WccResult, error) {
	n, err := s.resolve(ctx, args.Object)
	if err != nil {
		return &nfs3.WccResult{Status: fail("SETATTR", err)}, nil
	}
	logger.Debug("SETATTR: path=%s", n.path)

	res := &nfs3.WccResult{Wcc: nfs3.WccData{Before: wccAttr(n)}}
	err = writable(n.export)
	if err == nil && args.Guard != nil && *args.Guard != res.Wcc.Before.Ctime {
		err = &nfs3.Error{Status: nfs3.ErrNotSync}
	}
	if err == nil {
		err = s.applyAttributes(n, args.NewAttributes)
	}

	s.refresh(n)
	res.Wcc.After = attributes(n)
	if err != nil {
		res.Status = fail("SETATTR", err)
	}
	return res, nil
}

// applyAttributes performs a sparse sattr3 update on n.
func (s *Server) applyAttributes(n *node, attrs nfs3.SetAttributes) error {
	fsys, name := n.export.Fs, n.rel

	if attrs.Size != nil {
		switch {
		case n.isDir():
			return &nfs3.Error{Status: nfs3.ErrIsDir}
		case !n.info.Mode().IsRegular():
			return &nfs3.Error{Status: nfs3.ErrInval}
		case *attrs.Size > s.opts.FSInfo.MaxFileSize:
			return &nfs3.Error{Status: nfs3.ErrFBig}
		}
		f, err := fsys.OpenFile(name, os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		err = f.Truncate(int64(*attrs.Size))
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
	}

	if attrs.Mode != nil {
		if err := fsys.Chmod(name, fileMode(*attrs.Mode)); err != nil {
			return err
		}
	}

	if attrs.UID != nil || attrs.GID != nil {
		uid, gid := -1, -1
		if attrs.UID != nil {
			uid = int(*attrs.UID)
		}
		if attrs.GID != nil {
			gid = int(*attrs.GID)
		}
		if err := fsys.Chown(name, uid, gid); err != nil {
			return err
		}
	}

	if attrs.Atime.How != nfs3.DontChange || attrs.Mtime.How != nfs3.DontChange {
		info, err := lstat(fsys, name)
		if err != nil {
			return err
		}
		current := attributes(&node{export: n.export, handle: n.handle, info: info})
		now := time.Now()
		atime := pickTime(attrs.Atime, current.Atime, now)
		mtime := pickTime(attrs.Mtime, current.Mtime, now)
		if err := fsys.Chtimes(name, atime, mtime); err != nil {
			return err
		}
	}
	return nil
}

func pickTime(set nfs3.SetTime, current nfs3.Time, now time.Time) time.Time {
	switch set.How {
	case nfs3.SetToServerTime:
		return now
	case nfs3.SetToClientTime:
		return set.Time.Time()
	default:
		return current.Time()
	}
}

// ============================================================================
// Lookup and Access
// ============================================================================

// Lookup handles LOOKUP (RFC 1813 Section 3.3.3). "." names the directory
// itself, and ".." of an export root stays at the root.
func (s *Server) Lookup(ctx context.Context, _ *rpc.AuthContext, args *nfs3.DirOpArgs) (*nfs3.LookupResult, error) {
	dir, err := s.resolve(ctx, args.Dir)
	if err != nil {
		return &nfs3.LookupResult{Status: fail("LOOKUP", err)}, nil
	}
	logger.Debug("LOOKUP: dir=%s name=%q", dir.path, args.Name)

	res := &nfs3.LookupResult{DirAttributes: attributes(dir)}
	obj, err := s.child(ctx, dir, args.Name)
	if err != nil {
		res.Status = fail("LOOKUP", err)
		return res, nil
	}
	res.Object = obj.handle
	res.ObjAttributes = attributes(obj)
	return res, nil
}

// Access handles ACCESS (RFC 1813 Section 3.3.4), granting the requested
// bits the caller's AUTH_UNIX identity would get from the mode bits. Read
// only exports never grant MODIFY, EXTEND or DELETE.
func (s *Server) Access(ctx context.Context, auth *rpc.AuthContext, args *nfs3.AccessArgs) (*nfs3.AccessResult, error) {
	n, err := s.resolve(ctx, args.Object)
	if err != nil {
		return &nfs3.AccessResult{Status: fail("ACCESS", err)}, nil
	}

	attr := attributes(n)
	granted := args.Access & grantedAccess(auth, attr, n.export.ReadOnly)
	logger.Debug("ACCESS: path=%s requested=0x%x granted=0x%x", n.path, args.Access, granted)
	return &nfs3.AccessResult{Status: nfs3.OK, ObjAttributes: attr, Access: granted}, nil
}

// ReadLink handles READLINK (RFC 1813 Section 3.3.5). Filesystems without
// symlink support answer NFS3ERR_NOTSUPP.
func (s *Server) ReadLink(ctx context.Context, _ *rpc.AuthContext, args *nfs3.HandleArgs) (*nfs3.ReadLinkResult, error) {
	n, err := s.resolve(ctx, args.Handle)
	if err != nil {
		return &nfs3.ReadLinkResult{Status: fail("READLINK", err)}, nil
	}

	res := &nfs3.ReadLinkResult{SymlinkAttributes: attributes(n)}
	if n.info.Mode()&os.ModeSymlink == 0 {
		res.Status = nfs3.ErrInval
		return res, nil
	}
	reader, ok := n.export.Fs.(afero.LinkReader)
	if !ok {
		res.Status = nfs3.ErrNotSupp
		return res, nil
	}
	target, err := reader.ReadlinkIfPossible(n.rel)
	if err != nil {
		res.Status = fail("READLINK", err)
		return res, nil
	}
	res.Target = target
	return res, nil
}

// ============================================================================
// Data
// ============================================================================

// Read handles READ (RFC 1813 Section 3.3.6).
//
// At most min(Count, rtmax) bytes are returned. A read at or past the end
// of the file succeeds with no data and EOF set.
func (s *Server) Read(ctx context.Context, _ *rpc.AuthContext, args *nfs3.ReadArgs) (*nfs3.ReadResult, error) {
	n, err := s.resolve(ctx, args.File)
	if err != nil {
		return &nfs3.ReadResult{Status: fail("READ", err)}, nil
	}
	logger.Debug("READ: path=%s offset=%d count=%d", n.path, args.Offset, args.Count)

	res := &nfs3.ReadResult{FileAttributes: attributes(n)}
	if err := regularFile(n); err != nil {
		res.Status = fail("READ", err)
		return res, nil
	}

	size := uint64(n.info.Size())
	if args.Offset >= size {
		res.Data = []byte{}
		res.EOF = true
		return res, nil
	}
	count := min(uint64(args.Count), uint64(s.opts.FSInfo.RtMax), size-args.Offset)

	f, err := n.export.Fs.Open(n.rel)
	if err != nil {
		res.Status = fail("READ", err)
		return res, nil
	}
	defer f.Close()

	buf := make([]byte, count)
	read, err := f.ReadAt(buf, int64(args.Offset))
	if err != nil && !errors.Is(err, io.EOF) {
		res.Status = fail("READ", err)
		return res, nil
	}
	res.Data = buf[:read]
	res.Count = uint32(read)
	res.EOF = args.Offset+uint64(read) >= size
	return res, nil
}

// Write handles WRITE (RFC 1813 Section 3.3.7).
//
// Writes that would end past the configured maximum file size fail with
// NFS3ERR_FBIG. UNSTABLE writes are acknowledged as such; DATA_SYNC and
// FILE_SYNC writes are synced and reported as FILE_SYNC.
func (s *Server) Write(ctx context.Context, _ *rpc.AuthContext, args *nfs3.WriteArgs) (*nfs3.WriteResult, error) {
	n, err := s.resolve(ctx, args.File)
	if err != nil {
		return &nfs3.WriteResult{Status: fail("WRITE", err)}, nil
	}
	logger.Debug("WRITE: path=%s offset=%d count=%d stable=%s", n.path, args.Offset, args.Count, args.Stable)

	res := &nfs3.WriteResult{FileWcc: nfs3.WccData{Before: wccAttr(n)}, Verifier: s.writeVerifier}
	written, committed, err := s.write(n, args)

	s.refresh(n)
	res.FileWcc.After = attributes(n)
	if err != nil {
		res.Status = fail("WRITE", err)
		return res, nil
	}
	res.Count = uint32(written)
	res.Committed = committed
	return res, nil
}

func (s *Server) write(n *node, args *nfs3.WriteArgs) (int, nfs3.StableHow, error) {
	if err := writable(n.export); err != nil {
		return 0, 0, err
	}
	if err := regularFile(n); err != nil {
		return 0, 0, err
	}

	data := args.Data
	if int(args.Count) < len(data) {
		data = data[:args.Count]
	}
	// Written as a subtraction so offsets near 2^64 cannot wrap past the limit.
	limit := s.opts.FSInfo.MaxFileSize
	if uint64(len(data)) > limit || args.Offset > limit-uint64(len(data)) {
		return 0, 0, &nfs3.Error{Status: nfs3.ErrFBig}
	}

	f, err := n.export.Fs.OpenFile(n.rel, os.O_WRONLY, 0)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	written, err := f.WriteAt(data, int64(args.Offset))
	if err != nil {
		return written, 0, err
	}
	if args.Stable == nfs3.Unstable {
		return written, nfs3.Unstable, nil
	}
	if err := f.Sync(); err != nil {
		return written, 0, err
	}
	return written, nfs3.FileSync, nil
}

// Commit handles COMMIT (RFC 1813 Section 3.3.21) by syncing the whole
// file. The reply carries the same verifier as WRITE.
func (s *Server) Commit(ctx context.Context, _ *rpc.AuthContext, args *nfs3.CommitArgs) (*nfs3.CommitResult, error) {
	n, err := s.resolve(ctx, args.File)
	if err != nil {
		return &nfs3.CommitResult{Status: fail("COMMIT", err)}, nil
	}
	logger.Debug("COMMIT: path=%s offset=%d count=%d", n.path, args.Offset, args.Count)

	res := &nfs3.CommitResult{FileWcc: nfs3.WccData{Before: wccAttr(n)}, Verifier: s.writeVerifier}
	err = regularFile(n)
	if err == nil {
		err = syncFile(n)
	}
	s.refresh(n)
	res.FileWcc.After = attributes(n)
	if err != nil {
		res.Status = fail("COMMIT", err)
	}
	return res, nil
}

func syncFile(n *node) error {
	f, err := n.export.Fs.Open(n.rel)
	if err != nil {
		return err
	}
	err = f.Sync()
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	return err
}

func regularFile(n *node) error {
	switch {
	case n.isDir():
		return &nfs3.Error{Status: nfs3.ErrIsDir}
	case !n.info.Mode().IsRegular():
		return &nfs3.Error{Status: nfs3.ErrInval}
	}
	return nil
}
