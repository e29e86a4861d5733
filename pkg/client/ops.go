package client

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/marmos91/dnfs/pkg/nfs3"
)

// GetAttributes returns the attributes of h, from the cache when present.
func (s *Session) GetAttributes(ctx context.Context, h nfs3.FileHandle) (*nfs3.FileAttributes, error) {
	if attr, ok := s.cachedAttributes(h); ok {
		return attr, nil
	}

	res, err := s.nfs.GetAttr(ctx, &nfs3.HandleArgs{Handle: h})
	if err != nil {
		return nil, err
	}
	if err := res.Status.Err("GETATTR"); err != nil {
		return nil, err
	}
	s.cacheAttributes(h, &res.Attributes)
	attr := res.Attributes
	return &attr, nil
}

// SetAttributes applies a sparse attribute update to h.
func (s *Session) SetAttributes(ctx context.Context, h nfs3.FileHandle, attrs nfs3.SetAttributes) error {
	res, err := s.nfs.SetAttr(ctx, &nfs3.SetAttrArgs{Object: h, NewAttributes: attrs})
	if err != nil {
		return err
	}
	s.cacheAttributes(h, res.Wcc.After)
	return res.Status.Err("SETATTR")
}

// Lookup returns the handle of name in dir, or nil when it does not exist.
// The attributes of both the object and dir are cached when supplied.
func (s *Session) Lookup(ctx context.Context, dir nfs3.FileHandle, name string) (nfs3.FileHandle, error) {
	res, err := s.nfs.Lookup(ctx, &nfs3.DirOpArgs{Dir: dir, Name: name})
	if err != nil {
		return nil, err
	}
	s.cacheAttributes(res.Object, res.ObjAttributes)
	s.cacheAttributes(dir, res.DirAttributes)

	switch res.Status {
	case nfs3.OK:
		return res.Object, nil
	case nfs3.ErrNoEnt:
		return nil, nil
	default:
		return nil, res.Status.Err("LOOKUP")
	}
}

// Access returns the subset of the requested ACCESS bits the server grants.
func (s *Session) Access(ctx context.Context, h nfs3.FileHandle, requested uint32) (uint32, error) {
	res, err := s.nfs.Access(ctx, &nfs3.AccessArgs{Object: h, Access: requested})
	if err != nil {
		return 0, err
	}
	s.cacheAttributes(h, res.ObjAttributes)
	if err := res.Status.Err("ACCESS"); err != nil {
		return 0, err
	}
	return res.Access, nil
}

// Read issues one READ of at most the server's maximum read size.
func (s *Session) Read(ctx context.Context, h nfs3.FileHandle, offset uint64, count uint32) (*nfs3.ReadResult, error) {
	if limit := s.info.RtMax; limit > 0 && count > limit {
		count = limit
	}
	res, err := s.nfs.Read(ctx, &nfs3.ReadArgs{File: h, Offset: offset, Count: count})
	if err != nil {
		return nil, err
	}
	s.cacheAttributes(h, res.FileAttributes)
	if err := res.Status.Err("READ"); err != nil {
		return nil, err
	}
	return res, nil
}

// Write writes data at offset, splitting it into WRITE calls of at most the
// server's maximum write size. It returns the number of bytes the server
// acknowledged.
func (s *Session) Write(ctx context.Context, h nfs3.FileHandle, offset uint64, data []byte) (int, error) {
	chunk := len(data)
	if limit := int(s.info.WtMax); limit > 0 && chunk > limit {
		chunk = limit
	}

	written := 0
	for written < len(data) {
		n := min(chunk, len(data)-written)
		res, err := s.nfs.Write(ctx, &nfs3.WriteArgs{
			File:   h,
			Offset: offset + uint64(written),
			Count:  uint32(n),
			Stable: nfs3.FileSync,
			Data:   data[written : written+n],
		})
		if err != nil {
			return written, err
		}
		s.cacheAttributes(h, res.FileWcc.After)
		if err := res.Status.Err("WRITE"); err != nil {
			return written, err
		}
		// A server acknowledging nothing, or more than it was sent, would
		// make the next offset skip or repeat data.
		if res.Count == 0 || res.Count > uint32(n) {
			return written, &nfs3.Error{Status: nfs3.ErrIO, Op: "WRITE"}
		}
		written += int(res.Count)
	}
	return written, nil
}

// Create creates a regular file. With createNew set an existing name fails
// with NFS3ERR_EXIST; otherwise an existing file is updated per attrs.
func (s *Session) Create(ctx context.Context, dir nfs3.FileHandle, name string, createNew bool, attrs nfs3.SetAttributes) (nfs3.FileHandle, error) {
	mode := nfs3.CreateUnchecked
	if createNew {
		mode = nfs3.CreateGuarded
	}
	res, err := s.nfs.Create(ctx, &nfs3.CreateArgs{
		Where: nfs3.DirOpArgs{Dir: dir, Name: name},
		How:   nfs3.CreateHow{Mode: mode, Attributes: attrs},
	})
	if err != nil {
		return nil, err
	}
	return s.created(ctx, "CREATE", dir, name, res)
}

// MakeDirectory creates a directory.
func (s *Session) MakeDirectory(ctx context.Context, dir nfs3.FileHandle, name string, attrs nfs3.SetAttributes) (nfs3.FileHandle, error) {
	res, err := s.nfs.Mkdir(ctx, &nfs3.MkdirArgs{Where: nfs3.DirOpArgs{Dir: dir, Name: name}, Attributes: attrs})
	if err != nil {
		return nil, err
	}
	return s.created(ctx, "MKDIR", dir, name, res)
}

// Symlink creates a symbolic link pointing at target.
func (s *Session) Symlink(ctx context.Context, dir nfs3.FileHandle, name, target string, attrs nfs3.SetAttributes) (nfs3.FileHandle, error) {
	res, err := s.nfs.Symlink(ctx, &nfs3.SymlinkArgs{
		Where:      nfs3.DirOpArgs{Dir: dir, Name: name},
		Attributes: attrs,
		Target:     target,
	})
	if err != nil {
		return nil, err
	}
	return s.created(ctx, "SYMLINK", dir, name, res)
}

// created handles the result of an object-creating call. Servers may omit
// the new handle, in which case it is looked up.
func (s *Session) created(ctx context.Context, op string, dir nfs3.FileHandle, name string, res *nfs3.DirOpResult) (nfs3.FileHandle, error) {
	s.cacheAttributes(dir, res.DirWcc.After)
	if err := res.Status.Err(op); err != nil {
		return nil, err
	}
	if res.Object == nil {
		h, err := s.Lookup(ctx, dir, name)
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, &nfs3.Error{Status: nfs3.ErrNoEnt, Op: op}
		}
		return h, nil
	}
	s.cacheAttributes(res.Object, res.ObjAttributes)
	return res.Object, nil
}

// ReadLink returns the target of a symbolic link.
func (s *Session) ReadLink(ctx context.Context, h nfs3.FileHandle) (string, error) {
	res, err := s.nfs.ReadLink(ctx, &nfs3.HandleArgs{Handle: h})
	if err != nil {
		return "", err
	}
	s.cacheAttributes(h, res.SymlinkAttributes)
	if err := res.Status.Err("READLINK"); err != nil {
		return "", err
	}
	return res.Target, nil
}

// Link creates a hard link to file named name in dir.
func (s *Session) Link(ctx context.Context, file, dir nfs3.FileHandle, name string) error {
	res, err := s.nfs.Link(ctx, &nfs3.LinkArgs{File: file, Link: nfs3.DirOpArgs{Dir: dir, Name: name}})
	if err != nil {
		return err
	}
	s.cacheAttributes(file, res.FileAttributes)
	s.cacheAttributes(dir, res.LinkDirWcc.After)
	return res.Status.Err("LINK")
}

// Remove deletes a non-directory entry.
func (s *Session) Remove(ctx context.Context, dir nfs3.FileHandle, name string) error {
	res, err := s.nfs.Remove(ctx, &nfs3.DirOpArgs{Dir: dir, Name: name})
	if err != nil {
		return err
	}
	s.cacheAttributes(dir, res.Wcc.After)
	return res.Status.Err("REMOVE")
}

// RemoveDirectory deletes an empty directory.
func (s *Session) RemoveDirectory(ctx context.Context, dir nfs3.FileHandle, name string) error {
	res, err := s.nfs.Rmdir(ctx, &nfs3.DirOpArgs{Dir: dir, Name: name})
	if err != nil {
		return err
	}
	s.cacheAttributes(dir, res.Wcc.After)
	return res.Status.Err("RMDIR")
}

// Rename moves fromName in fromDir to toName in toDir.
func (s *Session) Rename(ctx context.Context, fromDir nfs3.FileHandle, fromName string, toDir nfs3.FileHandle, toName string) error {
	res, err := s.nfs.Rename(ctx, &nfs3.RenameArgs{
		From: nfs3.DirOpArgs{Dir: fromDir, Name: fromName},
		To:   nfs3.DirOpArgs{Dir: toDir, Name: toName},
	})
	if err != nil {
		return err
	}
	s.cacheAttributes(fromDir, res.FromDirWcc.After)
	s.cacheAttributes(toDir, res.ToDirWcc.After)
	return res.Status.Err("RENAME")
}

// FsStat returns the capacity counters of the file system holding h. A
// reply is reused while the server's invariant period lasts, and for at
// least one second.
func (s *Session) FsStat(ctx context.Context, h nfs3.FileHandle) (nfs3.FSStat, error) {
	now := s.now()

	s.mu.Lock()
	cached, ok := s.stats[h.Key()]
	s.mu.Unlock()
	if ok && (cached.forever || cached.until.After(now.Add(-fsStatMinLifetime))) {
		return cached.stat, nil
	}

	res, err := s.nfs.FsStat(ctx, &nfs3.HandleArgs{Handle: h})
	if err != nil {
		return nfs3.FSStat{}, err
	}
	s.cacheAttributes(h, res.ObjAttributes)
	if err := res.Status.Err("FSSTAT"); err != nil {
		return nfs3.FSStat{}, err
	}

	entry := cachedStat{
		stat:    res.Stat,
		until:   now.Add(time.Duration(res.Stat.Invarsec) * time.Second),
		forever: res.Stat.Invarsec == invarsecForever,
	}
	s.mu.Lock()
	s.stats[h.Key()] = entry
	s.mu.Unlock()
	return res.Stat, nil
}

// PathConf returns the POSIX limits of the file system holding h.
func (s *Session) PathConf(ctx context.Context, h nfs3.FileHandle) (nfs3.PathConf, error) {
	res, err := s.nfs.PathConf(ctx, &nfs3.HandleArgs{Handle: h})
	if err != nil {
		return nfs3.PathConf{}, err
	}
	s.cacheAttributes(h, res.ObjAttributes)
	if err := res.Status.Err("PATHCONF"); err != nil {
		return nfs3.PathConf{}, err
	}
	return res.Conf, nil
}

// Commit flushes unstable writes in [offset, offset+count) and returns the
// server's write verifier. A count of 0 commits to the end of the file.
func (s *Session) Commit(ctx context.Context, h nfs3.FileHandle, offset uint64, count uint32) (nfs3.Verifier, error) {
	res, err := s.nfs.Commit(ctx, &nfs3.CommitArgs{File: h, Offset: offset, Count: count})
	if err != nil {
		return nfs3.Verifier{}, err
	}
	s.cacheAttributes(h, res.FileWcc.After)
	if err := res.Status.Err("COMMIT"); err != nil {
		return nfs3.Verifier{}, err
	}
	return res.Verifier, nil
}

// LookupPath resolves a slash-separated path below the session root. It
// returns nil when a component does not exist.
func (s *Session) LookupPath(ctx context.Context, p string) (nfs3.FileHandle, error) {
	h := s.root
	for _, name := range strings.Split(path.Clean("/"+p), "/") {
		if name == "" {
			continue
		}
		next, err := s.Lookup(ctx, h, name)
		if err != nil || next == nil {
			return nil, err
		}
		h = next
	}
	return h, nil
}
