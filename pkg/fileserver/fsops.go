package fileserver

import (
	"context"
	"os"
	"time"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/nfs3"
	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/spf13/afero"
)

// FsStat handles FSSTAT (RFC 1813 Section 3.3.18). Usage is computed by
// walking the export and cached for Options.StatTTL.
func (s *Server) FsStat(ctx context.Context, _ *rpc.AuthContext, args *nfs3.HandleArgs) (*nfs3.FsStatResult, error) {
	n, err := s.resolve(ctx, args.Handle)
	if err != nil {
		return &nfs3.FsStatResult{Status: fail("FSSTAT", err)}, nil
	}

	res := &nfs3.FsStatResult{ObjAttributes: attributes(n)}
	used, err := s.usage(n.export)
	if err != nil {
		res.Status = fail("FSSTAT", err)
		return res, nil
	}

	freeBytes := remaining(s.opts.Capacity, used.bytes)
	freeFiles := remaining(s.opts.MaxFiles, used.files)
	res.Stat = nfs3.FSStat{
		TotalBytes: s.opts.Capacity,
		FreeBytes:  freeBytes,
		AvailBytes: freeBytes,
		TotalFiles: s.opts.MaxFiles,
		FreeFiles:  freeFiles,
		AvailFiles: freeFiles,
	}
	if n.export.ReadOnly {
		res.Stat.AvailBytes, res.Stat.AvailFiles = 0, 0
	}
	return res, nil
}

func remaining(total, used uint64) uint64 {
	if used >= total {
		return 0
	}
	return total - used
}

// usage sums the regular file sizes and counts the entries of an export,
// reusing the last figures for StatTTL.
func (s *Server) usage(e *export) (usage, error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	if u, ok := s.stats[e.dir]; ok && time.Since(u.at) < s.opts.StatTTL {
		return u, nil
	}

	var u usage
	err := afero.Walk(e.Fs, "/", func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			// Unreadable subtrees are left out of the totals.
			return nil
		}
		u.files++
		if info.Mode().IsRegular() {
			u.bytes += uint64(info.Size())
		}
		return nil
	})
	if err != nil {
		return usage{}, err
	}
	u.at = time.Now()
	s.stats[e.dir] = u
	logger.Debug("Usage of %s: bytes=%d files=%d", e.dir, u.bytes, u.files)
	return u, nil
}

// FsInfo handles FSINFO (RFC 1813 Section 3.3.19) with the limits from
// Options.FSInfo.
func (s *Server) FsInfo(ctx context.Context, _ *rpc.AuthContext, args *nfs3.HandleArgs) (*nfs3.FsInfoResult, error) {
	n, err := s.resolve(ctx, args.Handle)
	if err != nil {
		return &nfs3.FsInfoResult{Status: fail("FSINFO", err)}, nil
	}

	info := s.opts.FSInfo
	// LINK is not served.
	info.Properties &^= nfs3.FSFLink
	if _, ok := n.export.Fs.(afero.Symlinker); !ok {
		info.Properties &^= nfs3.FSFSymlink
	}
	return &nfs3.FsInfoResult{Status: nfs3.OK, ObjAttributes: attributes(n), Info: info}, nil
}

// PathConf handles PATHCONF (RFC 1813 Section 3.3.20).
func (s *Server) PathConf(ctx context.Context, _ *rpc.AuthContext, args *nfs3.HandleArgs) (*nfs3.PathConfResult, error) {
	n, err := s.resolve(ctx, args.Handle)
	if err != nil {
		return &nfs3.PathConfResult{Status: fail("PATHCONF", err)}, nil
	}
	return &nfs3.PathConfResult{
		Status:        nfs3.OK,
		ObjAttributes: attributes(n),
		Conf: nfs3.PathConf{
			LinkMax:         1,
			NameMax:         nfs3.MaxNameLen,
			NoTrunc:         true,
			ChownRestricted: true,
			CasePreserving:  true,
		},
	}, nil
}
