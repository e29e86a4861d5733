package fileserver

import (
	"io/fs"

	"github.com/marmos91/dnfs/pkg/fileserver/handles"
	"github.com/marmos91/dnfs/pkg/nfs3"
	"github.com/marmos91/dnfs/pkg/rpc"
)

// attributes builds the fattr3 of n. Ownership, link count and the access
// and change times come from the platform stat record when the filesystem
// exposes one; otherwise the modification time stands in for both.
func attributes(n *node) *nfs3.FileAttributes {
	info := n.info
	mtime := nfs3.TimeOf(info.ModTime())

	a := &nfs3.FileAttributes{
		Type:   fileType(info.Mode()),
		Mode:   unixMode(info.Mode()),
		Nlink:  1,
		Size:   uint64(info.Size()),
		Used:   uint64(info.Size()),
		FSID:   n.export.fsid,
		FileID: handles.ID(n.handle),
		Atime:  mtime,
		Mtime:  mtime,
		Ctime:  mtime,
	}
	if info.IsDir() {
		a.Nlink = 2
	}
	sysAttributes(info, a)
	return a
}

func wccAttr(n *node) *nfs3.WccAttr {
	return attributes(n).WccAttr()
}

func fileType(m fs.FileMode) nfs3.FileType {
	switch {
	case m.IsDir():
		return nfs3.FileTypeDirectory
	case m&fs.ModeSymlink != 0:
		return nfs3.FileTypeSymlink
	case m&fs.ModeNamedPipe != 0:
		return nfs3.FileTypeFIFO
	case m&fs.ModeSocket != 0:
		return nfs3.FileTypeSocket
	case m&fs.ModeCharDevice != 0:
		return nfs3.FileTypeChar
	case m&fs.ModeDevice != 0:
		return nfs3.FileTypeBlock
	default:
		return nfs3.FileTypeRegular
	}
}

// unixMode converts the permission bits of m to the octal mode of fattr3.
func unixMode(m fs.FileMode) uint32 {
	mode := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		mode |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		mode |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		mode |= 0o1000
	}
	return mode
}

// fileMode is the inverse of unixMode.
func fileMode(mode uint32) fs.FileMode {
	m := fs.FileMode(mode & 0o777)
	if mode&0o4000 != 0 {
		m |= fs.ModeSetuid
	}
	if mode&0o2000 != 0 {
		m |= fs.ModeSetgid
	}
	if mode&0o1000 != 0 {
		m |= fs.ModeSticky
	}
	return m
}

// ============================================================================
// Access Checks
// ============================================================================

// permissionBits returns the rwx triplet of attr that applies to auth.
// AUTH_NULL callers get the "other" bits and uid 0 gets everything.
func permissionBits(auth *rpc.AuthContext, attr *nfs3.FileAttributes) uint32 {
	if auth == nil || auth.Unix == nil {
		return attr.Mode & 0o7
	}
	unix := auth.Unix
	if unix.UID == 0 {
		return 0o7
	}
	if unix.UID == attr.UID {
		return (attr.Mode >> 6) & 0o7
	}
	if unix.GID == attr.GID {
		return (attr.Mode >> 3) & 0o7
	}
	for _, gid := range unix.GIDs {
		if gid == attr.GID {
			return (attr.Mode >> 3) & 0o7
		}
	}
	return attr.Mode & 0o7
}

// grantedAccess maps the caller's permission bits onto ACCESS bits.
// Modifying rights are withheld on read-only exports.
func grantedAccess(auth *rpc.AuthContext, attr *nfs3.FileAttributes, readOnly bool) uint32 {
	bits := permissionBits(auth, attr)

	var granted uint32
	if bits&0o4 != 0 {
		granted |= nfs3.AccessRead
	}
	if bits&0o2 != 0 && !readOnly {
		granted |= nfs3.AccessModify | nfs3.AccessExtend
		if attr.Type == nfs3.FileTypeDirectory {
			granted |= nfs3.AccessDelete
		}
	}
	if bits&0o1 != 0 {
		if attr.Type == nfs3.FileTypeDirectory {
			granted |= nfs3.AccessLookup
		} else {
			granted |= nfs3.AccessExecute
		}
	}
	return granted
}
