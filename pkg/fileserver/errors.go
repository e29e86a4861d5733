package fileserver

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/nfs3"
	"github.com/spf13/afero"
)

// statusOf maps a filesystem error to the NFS status reported for it.
func statusOf(err error) nfs3.Status {
	if status, ok := nfs3.StatusOf(err); ok {
		return status
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nfs3.ErrNoEnt
	case errors.Is(err, fs.ErrExist):
		return nfs3.ErrExist
	case errors.Is(err, syscall.ENOTEMPTY):
		return nfs3.ErrNotEmpty
	case errors.Is(err, syscall.ENOTDIR):
		return nfs3.ErrNotDir
	case errors.Is(err, syscall.EISDIR):
		return nfs3.ErrIsDir
	case errors.Is(err, syscall.EROFS):
		return nfs3.ErrRofs
	case errors.Is(err, syscall.EPERM):
		return nfs3.ErrPerm
	case errors.Is(err, fs.ErrPermission):
		return nfs3.ErrAccess
	case errors.Is(err, syscall.ENOSPC):
		return nfs3.ErrNoSpc
	case errors.Is(err, syscall.EDQUOT):
		return nfs3.ErrDQuot
	case errors.Is(err, syscall.EFBIG):
		return nfs3.ErrFBig
	case errors.Is(err, syscall.ENAMETOOLONG):
		return nfs3.ErrNameTooLong
	case errors.Is(err, syscall.EXDEV):
		return nfs3.ErrXDev
	case errors.Is(err, syscall.EINVAL):
		return nfs3.ErrInval
	case errors.Is(err, afero.ErrNoSymlink), errors.Is(err, afero.ErrNoReadlink):
		return nfs3.ErrNotSupp
	default:
		return nfs3.ErrIO
	}
}

// fail converts err into a status for op. Client-caused failures are logged
// at debug level and server faults as errors.
func fail(op string, err error) nfs3.Status {
	status := statusOf(err)
	switch status {
	case nfs3.ErrIO, nfs3.ErrServerFault:
		logger.Error("%s failed: %v", op, err)
	default:
		logger.Debug("%s: %s", op, status)
	}
	return status
}
