package nfs3

import (
	"io/fs"
	"time"

	"github.com/marmos91/dnfs/pkg/xdr"
)

// Time is nfstime3: seconds and nanoseconds since the Unix epoch.
type Time struct {
	Seconds  uint32
	Nseconds uint32
}

// TimeOf converts t, truncating to the 32-bit seconds range of the protocol.
func TimeOf(t time.Time) Time {
	return Time{Seconds: uint32(t.Unix()), Nseconds: uint32(t.Nanosecond())}
}

// Time converts t to a time.Time in the local zone.
func (t Time) Time() time.Time {
	return time.Unix(int64(t.Seconds), int64(t.Nseconds))
}

func (t *Time) encode(w *xdr.Writer) {
	w.WriteUint32(t.Seconds)
	w.WriteUint32(t.Nseconds)
}

func (t *Time) decode(r *xdr.Reader) {
	t.Seconds = r.ReadUint32()
	t.Nseconds = r.ReadUint32()
}

// SpecData is specdata3, the major/minor numbers of a device file.
type SpecData struct {
	Major uint32
	Minor uint32
}

// FileAttributes is fattr3.
type FileAttributes struct {
	Type   FileType
	Mode   uint32
	Nlink  uint32
	UID    uint32
	GID    uint32
	Size   uint64
	Used   uint64
	Rdev   SpecData
	FSID   uint64
	FileID uint64
	Atime  Time
	Mtime  Time
	Ctime  Time
}

// fattr3Size is the encoded size of FileAttributes.
const fattr3Size = 84

// EncodeXDR writes the 84-byte fattr3 structure in wire format:
//
//	struct fattr3 {
//	    ftype3    type;
//	    mode3     mode;
//	    uint32    nlink;
//	    uid3      uid;
//	    gid3      gid;
//	    size3     size;
//	    size3     used;
//	    specdata3 rdev;
//	    uint64    fsid;
//	    fileid3   fileid;
//	    nfstime3  atime;
//	    nfstime3  mtime;
//	    nfstime3  ctime;
//	};
func (a *FileAttributes) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(a.Type))
	w.WriteUint32(a.Mode)
	w.WriteUint32(a.Nlink)
	w.WriteUint32(a.UID)
	w.WriteUint32(a.GID)
	w.WriteUint64(a.Size)
	w.WriteUint64(a.Used)
	w.WriteUint32(a.Rdev.Major)
	w.WriteUint32(a.Rdev.Minor)
	w.WriteUint64(a.FSID)
	w.WriteUint64(a.FileID)
	a.Atime.encode(w)
	a.Mtime.encode(w)
	a.Ctime.encode(w)
}

func (a *FileAttributes) DecodeXDR(r *xdr.Reader) {
	a.Type = FileType(r.ReadUint32())
	a.Mode = r.ReadUint32()
	a.Nlink = r.ReadUint32()
	a.UID = r.ReadUint32()
	a.GID = r.ReadUint32()
	a.Size = r.ReadUint64()
	a.Used = r.ReadUint64()
	a.Rdev.Major = r.ReadUint32()
	a.Rdev.Minor = r.ReadUint32()
	a.FSID = r.ReadUint64()
	a.FileID = r.ReadUint64()
	a.Atime.decode(r)
	a.Mtime.decode(r)
	a.Ctime.decode(r)
}

// IsDir reports whether the attributes describe a directory.
func (a *FileAttributes) IsDir() bool {
	return a.Type == FileTypeDirectory
}

// FileMode returns the permission bits combined with the type bits of
// io/fs.
func (a *FileAttributes) FileMode() fs.FileMode {
	mode := fs.FileMode(a.Mode & 0o777)
	if a.Mode&0o4000 != 0 {
		mode |= fs.ModeSetuid
	}
	if a.Mode&0o2000 != 0 {
		mode |= fs.ModeSetgid
	}
	if a.Mode&0o1000 != 0 {
		mode |= fs.ModeSticky
	}
	switch a.Type {
	case FileTypeDirectory:
		mode |= fs.ModeDir
	case FileTypeSymlink:
		mode |= fs.ModeSymlink
	case FileTypeBlock:
		mode |= fs.ModeDevice
	case FileTypeChar:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case FileTypeSocket:
		mode |= fs.ModeSocket
	case FileTypeFIFO:
		mode |= fs.ModeNamedPipe
	}
	return mode
}

// WccAttr returns the pre-operation subset of a.
func (a *FileAttributes) WccAttr() *WccAttr {
	return &WccAttr{Size: a.Size, Mtime: a.Mtime, Ctime: a.Ctime}
}

// post_op_attr: nil is encoded as absent.
func encodePostOpAttr(w *xdr.Writer, a *FileAttributes) {
	w.WriteBool(a != nil)
	if a != nil {
		a.EncodeXDR(w)
	}
}

func decodePostOpAttr(r *xdr.Reader) *FileAttributes {
	if !r.ReadBool() {
		return nil
	}
	a := &FileAttributes{}
	a.DecodeXDR(r)
	return a
}

func postOpAttrSize(a *FileAttributes) int {
	if a == nil {
		return 4
	}
	return 4 + fattr3Size
}

// WccAttr is wcc_attr, the attributes captured before a modification.
type WccAttr struct {
	Size  uint64
	Mtime Time
	Ctime Time
}

// WccData is wcc_data: optional attributes before the operation and
// optional attributes after it.
type WccData struct {
	Before *WccAttr
	After  *FileAttributes
}

func (d *WccData) encode(w *xdr.Writer) {
	w.WriteBool(d.Before != nil)
	if d.Before != nil {
		w.WriteUint64(d.Before.Size)
		d.Before.Mtime.encode(w)
		d.Before.Ctime.encode(w)
	}
	encodePostOpAttr(w, d.After)
}

func (d *WccData) decode(r *xdr.Reader) {
	d.Before = nil
	if r.ReadBool() {
		d.Before = &WccAttr{Size: r.ReadUint64()}
		d.Before.Mtime.decode(r)
		d.Before.Ctime.decode(r)
	}
	d.After = decodePostOpAttr(r)
}

// SetTime is set_atime / set_mtime. The zero value leaves the time alone.
type SetTime struct {
	How  TimeHow
	Time Time
}

// SetAttributes is sattr3. A nil field is left unchanged.
type SetAttributes struct {
	Mode  *uint32
	UID   *uint32
	GID   *uint32
	Size  *uint64
	Atime SetTime
	Mtime SetTime
}

// EncodeXDR writes sattr3. Every field is a discriminated union: mode, uid,
// gid and size are a set flag followed by the value, while atime and mtime
// carry a time_how whose SET_TO_CLIENT_TIME arm is followed by nfstime3.
func (s *SetAttributes) EncodeXDR(w *xdr.Writer) {
	writeOptionalUint32(w, s.Mode)
	writeOptionalUint32(w, s.UID)
	writeOptionalUint32(w, s.GID)
	w.WriteBool(s.Size != nil)
	if s.Size != nil {
		w.WriteUint64(*s.Size)
	}
	for _, t := range []*SetTime{&s.Atime, &s.Mtime} {
		w.WriteUint32(uint32(t.How))
		if t.How == SetToClientTime {
			t.Time.encode(w)
		}
	}
}

func (s *SetAttributes) DecodeXDR(r *xdr.Reader) {
	s.Mode = readOptionalUint32(r)
	s.UID = readOptionalUint32(r)
	s.GID = readOptionalUint32(r)
	s.Size = nil
	if r.ReadBool() {
		size := r.ReadUint64()
		s.Size = &size
	}
	for _, t := range []*SetTime{&s.Atime, &s.Mtime} {
		t.How = TimeHow(r.ReadUint32())
		t.Time = Time{}
		switch t.How {
		case DontChange, SetToServerTime:
		case SetToClientTime:
			t.Time.decode(r)
		default:
			r.Fail(errInvalidDiscriminant("time_how", uint32(t.How)))
			return
		}
	}
}

func writeOptionalUint32(w *xdr.Writer, v *uint32) {
	w.WriteBool(v != nil)
	if v != nil {
		w.WriteUint32(*v)
	}
}

func readOptionalUint32(r *xdr.Reader) *uint32 {
	if !r.ReadBool() {
		return nil
	}
	v := r.ReadUint32()
	return &v
}
