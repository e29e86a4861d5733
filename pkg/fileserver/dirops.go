package fileserver

import (
	"context"
	"errors"
	"os"
	"path"
	"strings"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/nfs3"
	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/spf13/afero"
)

const (
	defaultFileMode = 0o644
	defaultDirMode  = 0o755
)

// ============================================================================
// Creation
// ============================================================================

// Create handles CREATE (RFC 1813 Section 3.3.8). UNCHECKED opens an
// existing file and applies the attributes, GUARDED fails with
// NFS3ERR_EXIST, and EXCLUSIVE is answered with NFS3ERR_NOTSUPP.
func (s *Server) Create(ctx context.Context, _ *rpc.AuthContext, args *nfs3.CreateArgs) (*nfs3.DirOpResult, error) {
	return s.dirOp(ctx, "CREATE", args.Where, func(dir *node) (*node, error) {
		return s.create(ctx, dir, args.Where.Name, args.How)
	})
}

// Mkdir handles MKDIR (RFC 1813 Section 3.3.9).
func (s *Server) Mkdir(ctx context.Context, _ *rpc.AuthContext, args *nfs3.MkdirArgs) (*nfs3.DirOpResult, error) {
	return s.dirOp(ctx, "MKDIR", args.Where, func(dir *node) (*node, error) {
		return s.mkdir(ctx, dir, args.Where.Name, args.Attributes)
	})
}

// Symlink handles SYMLINK (RFC 1813 Section 3.3.10).
func (s *Server) Symlink(ctx context.Context, _ *rpc.AuthContext, args *nfs3.SymlinkArgs) (*nfs3.DirOpResult, error) {
	return s.dirOp(ctx, "SYMLINK", args.Where, func(dir *node) (*node, error) {
		return s.symlink(ctx, dir, args.Where.Name, args.Target)
	})
}

// dirOp runs an object-creating procedure in where.Dir and fills in the
// directory's weak cache consistency data around it.
func (s *Server) dirOp(ctx context.Context, op string, where nfs3.DirOpArgs, create func(dir *node) (*node, error)) (*nfs3.DirOpResult, error) {
	dir, err := s.resolve(ctx, where.Dir)
	if err != nil {
		return &nfs3.DirOpResult{Status: fail(op, err)}, nil
	}
	logger.Debug("%s: dir=%s name=%q", op, dir.path, where.Name)

	res := &nfs3.DirOpResult{DirWcc: nfs3.WccData{Before: wccAttr(dir)}}
	var obj *node
	err = prepareEntry(dir, where.Name)
	if err == nil {
		obj, err = create(dir)
	}

	s.refresh(dir)
	res.DirWcc.After = attributes(dir)
	if err != nil {
		res.Status = fail(op, err)
		return res, nil
	}
	res.Object = obj.handle
	res.ObjAttributes = attributes(obj)
	return res, nil
}

// prepareEntry checks that a new entry may be added to dir.
func prepareEntry(dir *node, name string) error {
	if err := writable(dir.export); err != nil {
		return err
	}
	if !dir.isDir() {
		return &nfs3.Error{Status: nfs3.ErrNotDir}
	}
	return checkName(name)
}

func (s *Server) create(ctx context.Context, dir *node, name string, how nfs3.CreateHow) (*node, error) {
	p := path.Join(dir.path, name)
	rel := relPath(dir.export, p)

	flags := os.O_CREATE | os.O_WRONLY
	switch how.Mode {
	case nfs3.CreateExclusive:
		return nil, &nfs3.Error{Status: nfs3.ErrNotSupp}
	case nfs3.CreateGuarded:
		flags |= os.O_EXCL
	}

	existing, err := lstat(dir.export.Fs, rel)
	switch {
	case err == nil && how.Mode == nfs3.CreateGuarded:
		return nil, &nfs3.Error{Status: nfs3.ErrExist}
	case err == nil && !existing.Mode().IsRegular():
		return nil, &nfs3.Error{Status: nfs3.ErrExist}
	case err != nil && !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	perm := os.FileMode(defaultFileMode)
	if how.Attributes.Mode != nil {
		perm = fileMode(*how.Attributes.Mode)
	}
	f, err := dir.export.Fs.OpenFile(rel, flags, perm)
	if err != nil {
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	obj, err := s.open(ctx, dir.export, p)
	if err != nil {
		return nil, err
	}
	if err := s.applyAttributes(obj, how.Attributes); err != nil {
		return nil, err
	}
	s.refresh(obj)
	return obj, nil
}

func (s *Server) mkdir(ctx context.Context, dir *node, name string, attrs nfs3.SetAttributes) (*node, error) {
	p := path.Join(dir.path, name)
	rel := relPath(dir.export, p)

	if _, err := lstat(dir.export.Fs, rel); err == nil {
		return nil, &nfs3.Error{Status: nfs3.ErrExist}
	}

	perm := os.FileMode(defaultDirMode)
	if attrs.Mode != nil {
		perm = fileMode(*attrs.Mode)
	}
	if err := dir.export.Fs.Mkdir(rel, perm); err != nil {
		return nil, err
	}

	obj, err := s.open(ctx, dir.export, p)
	if err != nil {
		return nil, err
	}
	if err := s.applyAttributes(obj, attrs); err != nil {
		return nil, err
	}
	s.refresh(obj)
	return obj, nil
}

func (s *Server) symlink(ctx context.Context, dir *node, name, target string) (*node, error) {
	linker, ok := dir.export.Fs.(afero.Symlinker)
	if !ok {
		return nil, &nfs3.Error{Status: nfs3.ErrNotSupp}
	}
	if target == "" {
		return nil, &nfs3.Error{Status: nfs3.ErrInval}
	}

	p := path.Join(dir.path, name)
	if err := linker.SymlinkIfPossible(target, relPath(dir.export, p)); err != nil {
		return nil, err
	}
	return s.open(ctx, dir.export, p)
}

// ============================================================================
// Removal
// ============================================================================

// Remove handles REMOVE (RFC 1813 Section 3.3.12). Directories are refused
// with NFS3ERR_ISDIR.
func (s *Server) Remove(ctx context.Context, _ *rpc.AuthContext, args *nfs3.DirOpArgs) (*nfs3.WccResult, error) {
	return s.removeOp(ctx, "REMOVE", args, false)
}

// Rmdir handles RMDIR (RFC 1813 Section 3.3.13).
func (s *Server) Rmdir(ctx context.Context, _ *rpc.AuthContext, args *nfs3.DirOpArgs) (*nfs3.WccResult, error) {
	return s.removeOp(ctx, "RMDIR", args, true)
}

func (s *Server) removeOp(ctx context.Context, op string, args *nfs3.DirOpArgs, wantDir bool) (*nfs3.WccResult, error) {
	dir, err := s.resolve(ctx, args.Dir)
	if err != nil {
		return &nfs3.WccResult{Status: fail(op, err)}, nil
	}
	logger.Debug("%s: dir=%s name=%q", op, dir.path, args.Name)

	res := &nfs3.WccResult{Wcc: nfs3.WccData{Before: wccAttr(dir)}}
	err = s.remove(ctx, dir, args.Name, wantDir)

	s.refresh(dir)
	res.Wcc.After = attributes(dir)
	if err != nil {
		res.Status = fail(op, err)
	}
	return res, nil
}

func (s *Server) remove(ctx context.Context, dir *node, name string, wantDir bool) error {
	if err := writable(dir.export); err != nil {
		return err
	}
	if !dir.isDir() {
		return &nfs3.Error{Status: nfs3.ErrNotDir}
	}
	if wantDir && name == ".." {
		return &nfs3.Error{Status: nfs3.ErrExist}
	}
	if err := checkName(name); err != nil {
		return err
	}

	p := path.Join(dir.path, name)
	rel := relPath(dir.export, p)
	info, err := lstat(dir.export.Fs, rel)
	if err != nil {
		return err
	}

	switch {
	case wantDir && !info.IsDir():
		return &nfs3.Error{Status: nfs3.ErrNotDir}
	case !wantDir && info.IsDir():
		return &nfs3.Error{Status: nfs3.ErrIsDir}
	case wantDir:
		if err := requireEmpty(dir.export.Fs, rel); err != nil {
			return err
		}
	}

	if err := dir.export.Fs.Remove(rel); err != nil {
		return err
	}
	return s.table.Forget(ctx, dir.export.handleKey(rel))
}

func requireEmpty(fsys afero.Fs, rel string) error {
	empty, err := afero.IsEmpty(fsys, rel)
	if err != nil {
		return err
	}
	if !empty {
		return &nfs3.Error{Status: nfs3.ErrNotEmpty}
	}
	return nil
}

// ============================================================================
// Rename
// ============================================================================

// Rename handles RENAME (RFC 1813 Section 3.3.14). Handles issued for the
// source, and for anything below it, keep working after the move.
func (s *Server) Rename(ctx context.Context, _ *rpc.AuthContext, args *nfs3.RenameArgs) (*nfs3.RenameResult, error) {
	from, err := s.resolve(ctx, args.From.Dir)
	if err != nil {
		return &nfs3.RenameResult{Status: fail("RENAME", err)}, nil
	}
	to, err := s.resolve(ctx, args.To.Dir)
	if err != nil {
		return &nfs3.RenameResult{Status: fail("RENAME", err)}, nil
	}
	logger.Debug("RENAME: %s/%s -> %s/%s", from.path, args.From.Name, to.path, args.To.Name)

	res := &nfs3.RenameResult{
		FromDirWcc: nfs3.WccData{Before: wccAttr(from)},
		ToDirWcc:   nfs3.WccData{Before: wccAttr(to)},
	}
	err = s.rename(ctx, from, args.From.Name, to, args.To.Name)

	s.refresh(from)
	s.refresh(to)
	res.FromDirWcc.After = attributes(from)
	res.ToDirWcc.After = attributes(to)
	if err != nil {
		res.Status = fail("RENAME", err)
	}
	return res, nil
}

func (s *Server) rename(ctx context.Context, from *node, fromName string, to *node, toName string) error {
	if err := writable(from.export); err != nil {
		return err
	}
	if from.export != to.export {
		return &nfs3.Error{Status: nfs3.ErrXDev}
	}
	if !from.isDir() || !to.isDir() {
		return &nfs3.Error{Status: nfs3.ErrNotDir}
	}
	if err := checkName(fromName); err != nil {
		return err
	}
	if err := checkName(toName); err != nil {
		return err
	}

	fsys := from.export.Fs
	src := path.Join(from.path, fromName)
	dst := path.Join(to.path, toName)
	srcRel, dstRel := relPath(from.export, src), relPath(to.export, dst)

	srcInfo, err := lstat(fsys, srcRel)
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}
	if strings.HasPrefix(dst, src+"/") {
		return &nfs3.Error{Status: nfs3.ErrInval}
	}

	dstInfo, err := lstat(fsys, dstRel)
	switch {
	case err == nil:
		switch {
		case dstInfo.IsDir() && !srcInfo.IsDir():
			return &nfs3.Error{Status: nfs3.ErrIsDir}
		case !dstInfo.IsDir() && srcInfo.IsDir():
			return &nfs3.Error{Status: nfs3.ErrNotDir}
		case dstInfo.IsDir():
			if err := requireEmpty(fsys, dstRel); err != nil {
				return err
			}
		}
		if err := fsys.Remove(dstRel); err != nil {
			return err
		}
	case !errors.Is(err, os.ErrNotExist):
		return err
	}

	if err := fsys.Rename(srcRel, dstRel); err != nil {
		return err
	}
	return s.table.Rename(ctx, from.export.handleKey(srcRel), to.export.handleKey(dstRel))
}
