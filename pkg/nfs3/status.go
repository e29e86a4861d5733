package nfs3

import (
	"errors"
	"fmt"
)

// Status is nfsstat3, the first word of every procedure result.
type Status uint32

const (
	OK             Status = 0
	ErrPerm        Status = 1
	ErrNoEnt       Status = 2
	ErrIO          Status = 5
	ErrNXIO        Status = 6
	ErrAccess      Status = 13
	ErrExist       Status = 17
	ErrXDev        Status = 18
	ErrNoDev       Status = 19
	ErrNotDir      Status = 20
	ErrIsDir       Status = 21
	ErrInval       Status = 22
	ErrFBig        Status = 27
	ErrNoSpc       Status = 28
	ErrROFS        Status = 30
	ErrMLink       Status = 31
	ErrNameTooLong Status = 63
	ErrNotEmpty    Status = 66
	ErrDQuot       Status = 69
	ErrStale       Status = 70
	ErrRemote      Status = 71
	ErrBadHandle   Status = 10001
	ErrNotSync     Status = 10002
	ErrBadCookie   Status = 10003
	ErrNotSupp     Status = 10004
	ErrTooSmall    Status = 10005
	ErrServerFault Status = 10006
	ErrBadType     Status = 10007
	ErrJukebox     Status = 10008
)

type statusInfo struct {
	name        string
	description string
}

var statusTable = map[Status]statusInfo{
	OK:             {"NFS3_OK", "OK"},
	ErrPerm:        {"NFS3ERR_PERM", "Not owner"},
	ErrNoEnt:       {"NFS3ERR_NOENT", "No such file or directory"},
	ErrIO:          {"NFS3ERR_IO", "Hardware I/O error"},
	ErrNXIO:        {"NFS3ERR_NXIO", "I/O error - no such device or address"},
	ErrAccess:      {"NFS3ERR_ACCES", "Permission denied"},
	ErrExist:       {"NFS3ERR_EXIST", "File exists"},
	ErrXDev:        {"NFS3ERR_XDEV", "Attempted cross-device hard link"},
	ErrNoDev:       {"NFS3ERR_NODEV", "No such device"},
	ErrNotDir:      {"NFS3ERR_NOTDIR", "Not a directory"},
	ErrIsDir:       {"NFS3ERR_ISDIR", "Is a directory"},
	ErrInval:       {"NFS3ERR_INVAL", "Invalid or unsupported argument"},
	ErrFBig:        {"NFS3ERR_FBIG", "File too large"},
	ErrNoSpc:       {"NFS3ERR_NOSPC", "No space left on device"},
	ErrROFS:        {"NFS3ERR_ROFS", "Read-only file system"},
	ErrMLink:       {"NFS3ERR_MLINK", "Too many hard links"},
	ErrNameTooLong: {"NFS3ERR_NAMETOOLONG", "Name too long"},
	ErrNotEmpty:    {"NFS3ERR_NOTEMPTY", "Directory not empty"},
	ErrDQuot:       {"NFS3ERR_DQUOT", "Quota hard limit exceeded"},
	ErrStale:       {"NFS3ERR_STALE", "Invalid (stale) file handle"},
	ErrRemote:      {"NFS3ERR_REMOTE", "Too many levels of remote access"},
	ErrBadHandle:   {"NFS3ERR_BADHANDLE", "Illegal NFS file handle"},
	ErrNotSync:     {"NFS3ERR_NOT_SYNC", "Update synchronization error"},
	ErrBadCookie:   {"NFS3ERR_BAD_COOKIE", "Read directory cookie stale"},
	ErrNotSupp:     {"NFS3ERR_NOTSUPP", "Operation is not supported"},
	ErrTooSmall:    {"NFS3ERR_TOOSMALL", "Buffer or request is too small"},
	ErrServerFault: {"NFS3ERR_SERVERFAULT", "Server fault"},
	ErrBadType:     {"NFS3ERR_BADTYPE", "Server doesn't support object type"},
	ErrJukebox:     {"NFS3ERR_JUKEBOX", "Unable to complete in timely fashion"},
}

func (s Status) String() string {
	if info, ok := statusTable[s]; ok {
		return info.name
	}
	return fmt.Sprintf("NFS3ERR_UNKNOWN(%d)", uint32(s))
}

// Description returns a human-readable explanation of s.
func (s Status) Description() string {
	if info, ok := statusTable[s]; ok {
		return info.description
	}
	return fmt.Sprintf("Unknown error: %d", uint32(s))
}

// Err returns nil for OK and an *Error for any other status.
func (s Status) Err(op string) error {
	if s == OK {
		return nil
	}
	return &Error{Status: s, Op: op}
}

// Error is a non-OK NFS status. Op names the failed operation.
type Error struct {
	Status Status
	Op     string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("nfs3: %s (%s)", e.Status, e.Status.Description())
	}
	return fmt.Sprintf("nfs3 %s: %s (%s)", e.Op, e.Status, e.Status.Description())
}

// Is matches another *Error with the same status, so
// errors.Is(err, &nfs3.Error{Status: nfs3.ErrStale}) ignores Op.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Status == e.Status
	}
	return false
}

// ErrNotImplemented is returned by UnimplementedHandler. The dispatcher
// replies NFS3ERR_NOTSUPP for it.
var ErrNotImplemented = errors.New("nfs3: procedure not implemented")

// StatusOf extracts the NFS status carried by err. ErrNotImplemented maps to
// ErrNotSupp. ok is false for errors that carry no status.
func StatusOf(err error) (status Status, ok bool) {
	if err == nil {
		return OK, true
	}
	var nfsErr *Error
	if errors.As(err, &nfsErr) {
		return nfsErr.Status, true
	}
	if errors.Is(err, ErrNotImplemented) {
		return ErrNotSupp, true
	}
	return 0, false
}
