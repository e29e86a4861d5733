package fileserver

import (
	"context"
	"errors"
	"os"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/fileserver/handles"
	"github.com/marmos91/dnfs/pkg/nfs3"
	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/spf13/afero"
)

// Directory listings are positional: entry i of the sorted listing, with "."
// and ".." first, carries cookie i+1. The cookie verifier is fixed for the
// lifetime of the Server, so cookies from a previous instance are rejected.

// ReadDir handles READDIR (RFC 1813 Section 3.3.16). Entries are added
// while they fit in args.Count; if not even one fits the reply is
// NFS3ERR_TOOSMALL.
func (s *Server) ReadDir(ctx context.Context, _ *rpc.AuthContext, args *nfs3.ReadDirArgs) (*nfs3.ReadDirResult, error) {
	dir, err := s.resolve(ctx, args.Dir)
	if err != nil {
		return &nfs3.ReadDirResult{Status: fail("READDIR", err)}, nil
	}
	logger.Debug("READDIR: dir=%s cookie=%d count=%d", dir.path, args.Cookie, args.Count)

	res := &nfs3.ReadDirResult{DirAttributes: attributes(dir), CookieVerf: s.cookieVerifier}
	names, err := s.entryNames(dir, args.Cookie, args.CookieVerf)
	if err != nil {
		res.Status = fail("READDIR", err)
		return res, nil
	}

	budget := nfs3.NewDirBudget(args.Count, args.Count, nfs3.DirListHeaderSize(res.DirAttributes))
	next, err := s.page(ctx, dir, names, int(args.Cookie), func(cookie uint64, name string, child *node) bool {
		entry := nfs3.DirEntry{FileID: handles.ID(child.handle), Name: name, Cookie: cookie}
		if !budget.Reserve(entry.Size()) {
			return false
		}
		res.Entries = append(res.Entries, entry)
		return true
	})
	if err != nil {
		res.Status = fail("READDIR", err)
		return res, nil
	}

	res.EOF = next == len(names)
	if len(res.Entries) == 0 && !res.EOF {
		res.Status = nfs3.ErrTooSmall
	}
	return res, nil
}

// ReadDirPlus handles READDIRPLUS (RFC 1813 Section 3.3.17), issuing a
// handle for every entry returned.
func (s *Server) ReadDirPlus(ctx context.Context, _ *rpc.AuthContext, args *nfs3.ReadDirPlusArgs) (*nfs3.ReadDirPlusResult, error) {
	dir, err := s.resolve(ctx, args.Dir)
	if err != nil {
		return &nfs3.ReadDirPlusResult{Status: fail("READDIRPLUS", err)}, nil
	}
	logger.Debug("READDIRPLUS: dir=%s cookie=%d dircount=%d maxcount=%d",
		dir.path, args.Cookie, args.DirCount, args.MaxCount)

	res := &nfs3.ReadDirPlusResult{DirAttributes: attributes(dir), CookieVerf: s.cookieVerifier}
	names, err := s.entryNames(dir, args.Cookie, args.CookieVerf)
	if err != nil {
		res.Status = fail("READDIRPLUS", err)
		return res, nil
	}

	budget := nfs3.NewDirBudget(args.DirCount, args.MaxCount, nfs3.DirListHeaderSize(res.DirAttributes))
	next, err := s.page(ctx, dir, names, int(args.Cookie), func(cookie uint64, name string, child *node) bool {
		entry := nfs3.DirPlusEntry{
			FileID:     handles.ID(child.handle),
			Name:       name,
			Cookie:     cookie,
			Attributes: attributes(child),
			Handle:     child.handle,
		}
		if !budget.Reserve(entry.Size()) {
			return false
		}
		res.Entries = append(res.Entries, entry)
		return true
	})
	if err != nil {
		res.Status = fail("READDIRPLUS", err)
		return res, nil
	}

	res.EOF = next == len(names)
	if len(res.Entries) == 0 && !res.EOF {
		res.Status = nfs3.ErrTooSmall
	}
	return res, nil
}

// entryNames lists dir, validating the cookie against the listing.
func (s *Server) entryNames(dir *node, cookie uint64, verifier nfs3.Verifier) ([]string, error) {
	if !dir.isDir() {
		return nil, &nfs3.Error{Status: nfs3.ErrNotDir}
	}
	if cookie != 0 && verifier != s.cookieVerifier {
		return nil, &nfs3.Error{Status: nfs3.ErrBadCookie}
	}

	infos, err := afero.ReadDir(dir.export.Fs, dir.rel)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos)+2)
	names = append(names, ".", "..")
	for _, info := range infos {
		names = append(names, info.Name())
	}

	if cookie > uint64(len(names)) {
		return nil, &nfs3.Error{Status: nfs3.ErrBadCookie}
	}
	return names, nil
}

// page resolves names from start on and hands each to visit until visit
// declines one. It returns the index of the first name not consumed.
// Entries removed since the listing was read are skipped.
func (s *Server) page(ctx context.Context, dir *node, names []string, start int, visit func(cookie uint64, name string, child *node) bool) (int, error) {
	i := start
	for ; i < len(names); i++ {
		child, err := s.child(ctx, dir, names[i])
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return i, err
		}
		if !visit(uint64(i+1), names[i], child) {
			break
		}
	}
	return i, nil
}
