package client

import (
	"context"
	"iter"

	"github.com/marmos91/dnfs/pkg/nfs3"
)

// defaultDirCount is used when the server advertised no preferred READDIR
// size.
const defaultDirCount = 8192

// ReadDirectory enumerates dir with READDIRPLUS, following the returned
// cookie and verifier until the server reports end of directory. Entry
// attributes are cached as they arrive.
//
// With silentFail set, an NFS3ERR_ACCES reply ends the enumeration without
// an error, keeping the entries already yielded.
func (s *Session) ReadDirectory(ctx context.Context, dir nfs3.FileHandle, silentFail bool) iter.Seq2[nfs3.DirPlusEntry, error] {
	return func(yield func(nfs3.DirPlusEntry, error) bool) {
		args := &nfs3.ReadDirPlusArgs{
			Dir:      dir,
			DirCount: s.info.DtPref,
			MaxCount: s.info.RtMax,
		}
		if args.DirCount == 0 {
			args.DirCount = defaultDirCount
		}
		if args.MaxCount == 0 {
			args.MaxCount = 4 * args.DirCount
		}

		for {
			res, err := s.nfs.ReadDirPlus(ctx, args)
			if err != nil {
				yield(nfs3.DirPlusEntry{}, err)
				return
			}
			s.cacheAttributes(dir, res.DirAttributes)

			if res.Status == nfs3.ErrAccess && silentFail {
				return
			}
			if err := res.Status.Err("READDIRPLUS"); err != nil {
				yield(nfs3.DirPlusEntry{}, err)
				return
			}

			for _, entry := range res.Entries {
				s.cacheAttributes(entry.Handle, entry.Attributes)
				if !yield(entry, nil) {
					return
				}
				args.Cookie = entry.Cookie
			}
			args.CookieVerf = res.CookieVerf

			if res.EOF {
				return
			}
			if len(res.Entries) == 0 {
				yield(nfs3.DirPlusEntry{}, &nfs3.Error{Status: nfs3.ErrTooSmall, Op: "READDIRPLUS"})
				return
			}
		}
	}
}

// ListDirectory collects ReadDirectory into a slice, skipping "." and "..".
func (s *Session) ListDirectory(ctx context.Context, dir nfs3.FileHandle, silentFail bool) ([]nfs3.DirPlusEntry, error) {
	var entries []nfs3.DirPlusEntry
	for entry, err := range s.ReadDirectory(ctx, dir, silentFail) {
		if err != nil {
			return entries, err
		}
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
