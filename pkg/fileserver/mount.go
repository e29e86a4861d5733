package fileserver

import (
	"context"
	"errors"
	"net"
	"os"
	"slices"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/mount"
	"github.com/marmos91/dnfs/pkg/rpc"
)

// Exports lists the export paths, with the allowed clients as groups.
func (s *Server) Exports(context.Context) ([]mount.Export, error) {
	return s.mountExports(), nil
}

// Mount returns the handle of the directory at p, which must be an export
// path or a directory below one.
func (s *Server) Mount(ctx context.Context, auth *rpc.AuthContext, p string) ([]byte, []uint32, error) {
	e, rel, ok := s.locate(p)
	if !ok {
		return nil, nil, &mount.Error{Status: mount.ErrNoEnt, Path: p}
	}
	if !e.allows(auth) {
		return nil, nil, &mount.Error{Status: mount.ErrAccess, Path: p}
	}

	info, err := lstat(e.Fs, rel)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil, nil, &mount.Error{Status: mount.ErrNoEnt, Path: p}
	case err != nil:
		return nil, nil, err
	case !info.IsDir():
		return nil, nil, &mount.Error{Status: mount.ErrNotDir, Path: p}
	}

	h, err := s.table.Handle(ctx, e.handleKey(rel))
	if err != nil {
		return nil, nil, err
	}
	return h, []uint32{rpc.AuthUnix, rpc.AuthNull}, nil
}

// allows checks the client address of auth against the export's client
// list.
func (e *export) allows(auth *rpc.AuthContext) bool {
	if len(e.AllowedClients) == 0 {
		return true
	}
	if auth == nil {
		return false
	}

	host := auth.ClientAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if slices.Contains(e.hosts, host) {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		for _, network := range e.networks {
			if network.Contains(ip) {
				return true
			}
		}
	}
	logger.Warn("Mount refused: export=%s client=%s", e.dir, host)
	return false
}
