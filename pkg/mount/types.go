// Package mount implements the MOUNT protocol version 3 (RFC 1813
// Appendix I): listing exports and exchanging an export path for the root
// file handle of that export.
package mount

import (
	"errors"
	"fmt"

	"github.com/marmos91/dnfs/pkg/xdr"
)

// Procedure numbers.
const (
	ProcNull    uint32 = 0
	ProcMnt     uint32 = 1
	ProcDump    uint32 = 2
	ProcUmnt    uint32 = 3
	ProcUmntAll uint32 = 4
	ProcExport  uint32 = 5
)

// Protocol limits.
const (
	MaxPathLen   = 1024
	MaxNameLen   = 255
	MaxHandleLen = 64

	// maxListEntries bounds the linked lists accepted from a reply.
	maxListEntries = 65536
	maxAuthFlavors = 64
)

var procedureNames = map[uint32]string{
	ProcNull:    "NULL",
	ProcMnt:     "MNT",
	ProcDump:    "DUMP",
	ProcUmnt:    "UMNT",
	ProcUmntAll: "UMNTALL",
	ProcExport:  "EXPORT",
}

// ProcedureName returns the RFC 1813 Appendix I name of a MOUNT procedure,
// or "UNKNOWN".
func ProcedureName(proc uint32) string {
	if name, ok := procedureNames[proc]; ok {
		return name
	}
	return "UNKNOWN"
}

// Status is the mountstat3 result of MNT.
type Status uint32

const (
	OK             Status = 0
	ErrPerm        Status = 1
	ErrNoEnt       Status = 2
	ErrIO          Status = 5
	ErrAccess      Status = 13
	ErrNotDir      Status = 20
	ErrInval       Status = 22
	ErrNameTooLong Status = 63
	ErrNotSupp     Status = 10004
	ErrServerFault Status = 10006
)

var statusNames = map[Status]string{
	OK:             "MNT3_OK",
	ErrPerm:        "MNT3ERR_PERM",
	ErrNoEnt:       "MNT3ERR_NOENT",
	ErrIO:          "MNT3ERR_IO",
	ErrAccess:      "MNT3ERR_ACCES",
	ErrNotDir:      "MNT3ERR_NOTDIR",
	ErrInval:       "MNT3ERR_INVAL",
	ErrNameTooLong: "MNT3ERR_NAMETOOLONG",
	ErrNotSupp:     "MNT3ERR_NOTSUPP",
	ErrServerFault: "MNT3ERR_SERVERFAULT",
}

// String returns the mountstat3 name, such as MNT3ERR_ACCES.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("MNT3ERR_%d", uint32(s))
}

// Error is a non-OK MNT status.
type Error struct {
	Status Status
	Path   string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "mount: " + e.Status.String()
	}
	return fmt.Sprintf("mount %s: %s", e.Path, e.Status)
}

// Is matches another *Error with the same status.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Status == e.Status
	}
	return false
}

// Export is one entry of the EXPORT list.
type Export struct {
	Dir    string
	Groups []string
}

// ExportList is the exports linked list. Each export carries its own
// linked list of group names.
type ExportList []Export

// EncodeXDR writes exports as defined in RFC 1813 Appendix I:
//
//	struct exportnode {
//	    dirpath  ex_dir;
//	    groups   ex_groups;
//	    exports  ex_next;
//	};
//
// Both lists use the XDR optional-data encoding: a TRUE word before each
// element and a FALSE word at the end.
func (l *ExportList) EncodeXDR(w *xdr.Writer) {
	for _, e := range *l {
		w.WriteBool(true)
		w.WriteString(e.Dir)
		for _, g := range e.Groups {
			w.WriteBool(true)
			w.WriteString(g)
		}
		w.WriteBool(false)
	}
	w.WriteBool(false)
}

// DecodeXDR reads an export list, counting groups and exports together
// against the entry limit.
func (l *ExportList) DecodeXDR(r *xdr.Reader) {
	*l = (*l)[:0]
	entries := 0
	for r.ReadBool() {
		e := Export{Dir: r.ReadString(MaxPathLen)}
		for r.ReadBool() {
			if entries++; entries > maxListEntries {
				r.Fail(xdr.ErrLengthExceeded)
				return
			}
			e.Groups = append(e.Groups, r.ReadString(MaxNameLen))
		}
		if entries++; entries > maxListEntries {
			r.Fail(xdr.ErrLengthExceeded)
			return
		}
		if r.Err() != nil {
			return
		}
		*l = append(*l, e)
	}
}

// Entry is one record of the server's mount table.
type Entry struct {
	Hostname  string
	Directory string
}

// MountList is the DUMP result.
type MountList []Entry

// EncodeXDR writes the mountlist of DUMP:
//
//	struct mountbody {
//	    name       ml_hostname;
//	    dirpath    ml_directory;
//	    mountlist  ml_next;
//	};
func (l *MountList) EncodeXDR(w *xdr.Writer) {
	for _, e := range *l {
		w.WriteBool(true)
		w.WriteString(e.Hostname)
		w.WriteString(e.Directory)
	}
	w.WriteBool(false)
}

func (l *MountList) DecodeXDR(r *xdr.Reader) {
	*l = (*l)[:0]
	for r.ReadBool() {
		if len(*l) >= maxListEntries {
			r.Fail(xdr.ErrLengthExceeded)
			return
		}
		e := Entry{Hostname: r.ReadString(MaxNameLen), Directory: r.ReadString(MaxPathLen)}
		if r.Err() != nil {
			return
		}
		*l = append(*l, e)
	}
}

// DirPath is the argument of MNT and UMNT.
type DirPath struct {
	Path string
}

// EncodeXDR writes the path as an XDR string of at most MNTPATHLEN bytes.
func (d *DirPath) EncodeXDR(w *xdr.Writer) { w.WriteString(d.Path) }
func (d *DirPath) DecodeXDR(r *xdr.Reader) { d.Path = r.ReadString(MaxPathLen) }

// Result is the fhstatus3 reply of MNT. Handle and AuthFlavors are only
// present when Status is OK.
type Result struct {
	Status      Status
	Handle      []byte
	AuthFlavors []uint32
}

// EncodeXDR writes fhstatus3 in wire format:
//  1. Status (4 bytes)
//  2. File handle (variable-length opaque), only if Status is OK
//  3. Auth flavor count and flavors, only if Status is OK
func (m *Result) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(m.Status))
	if m.Status != OK {
		return
	}
	w.WriteOpaque(m.Handle)
	w.WriteUint32(uint32(len(m.AuthFlavors)))
	for _, f := range m.AuthFlavors {
		w.WriteUint32(f)
	}
}

// DecodeXDR reads fhstatus3, bounding the number of auth flavors.
func (m *Result) DecodeXDR(r *xdr.Reader) {
	m.Status = Status(r.ReadUint32())
	if m.Status != OK {
		return
	}
	m.Handle = r.ReadOpaque(MaxHandleLen)
	n := r.ReadUint32()
	if n > maxAuthFlavors {
		r.Fail(fmt.Errorf("%w: %d auth flavors", xdr.ErrLengthExceeded, n))
		return
	}
	m.AuthFlavors = make([]uint32, 0, n)
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		m.AuthFlavors = append(m.AuthFlavors, r.ReadUint32())
	}
}
