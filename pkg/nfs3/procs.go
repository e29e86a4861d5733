package nfs3

import (
	"errors"
	"fmt"

	"github.com/marmos91/dnfs/pkg/xdr"
)

var errDiscriminant = errors.New("nfs3: invalid union discriminant")

func errInvalidDiscriminant(name string, v uint32) error {
	return fmt.Errorf("%w: %s %d", errDiscriminant, name, v)
}

// ============================================================================
// Shared argument and result shapes
// ============================================================================

// HandleArgs carries the single file handle argument of GETATTR, READLINK,
// FSSTAT, FSINFO and PATHCONF.
type HandleArgs struct {
	Handle FileHandle
}

// EncodeXDR writes the handle as variable-length opaque data.
func (a *HandleArgs) EncodeXDR(w *xdr.Writer) { w.WriteOpaque(a.Handle) }
// DecodeXDR reads a handle of at most MaxHandleLen bytes.
func (a *HandleArgs) DecodeXDR(r *xdr.Reader) { a.Handle = r.ReadOpaque(MaxHandleLen) }

// WccResult is the result of SETATTR, REMOVE and RMDIR: a status and the
// weak cache consistency data of the affected object or directory.
type WccResult struct {
	Status Status
	Wcc    WccData
}

func (r *WccResult) statusField() *Status { return &r.Status }

// EncodeXDR writes the status followed by wcc_data. The wcc_data is sent
// for every status.
func (r *WccResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	r.Wcc.encode(w)
}

func (r *WccResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.Wcc.decode(rd)
}

// DirOpResult is the result of CREATE, MKDIR, SYMLINK and MKNOD. Object and
// ObjAttributes are only sent with OK and may be absent even then.
type DirOpResult struct {
	Status        Status
	Object        FileHandle
	ObjAttributes *FileAttributes
	DirWcc        WccData
}

func (r *DirOpResult) statusField() *Status { return &r.Status }

// EncodeXDR writes the result in wire format:
//  1. Status (4 bytes)
//  2. post_op_fh3, only if Status is OK
//  3. post_op_attr of the new object, only if Status is OK
//  4. wcc_data of the parent directory
func (r *DirOpResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	if r.Status == OK {
		encodeOptionalHandle(w, r.Object)
		encodePostOpAttr(w, r.ObjAttributes)
	}
	r.DirWcc.encode(w)
}

func (r *DirOpResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.Object, r.ObjAttributes = nil, nil
	if r.Status == OK {
		r.Object = decodeOptionalHandle(rd)
		r.ObjAttributes = decodePostOpAttr(rd)
	}
	r.DirWcc.decode(rd)
}

// ============================================================================
// GETATTR
// ============================================================================

// GetAttrResult is GETATTR3res.
//
// RFC 1813 Section 3.3.1 specifies the GETATTR procedure as:
//
//	GETATTR3res NFSPROC3_GETATTR(GETATTR3args) = 1;
//
// Attributes are only present when Status is OK.
type GetAttrResult struct {
	Status     Status
	Attributes FileAttributes
}

func (r *GetAttrResult) statusField() *Status { return &r.Status }

// EncodeXDR writes the status and, for OK, the fattr3 structure.
func (r *GetAttrResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	if r.Status == OK {
		r.Attributes.EncodeXDR(w)
	}
}

func (r *GetAttrResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	if r.Status == OK {
		r.Attributes.DecodeXDR(rd)
	}
}

// ============================================================================
// SETATTR
// ============================================================================

// SetAttrArgs is SETATTR3args. A non-nil Guard makes the server apply the
// update only when the object's ctime equals it.
type SetAttrArgs struct {
	Object        FileHandle
	NewAttributes SetAttributes
	Guard         *Time
}

// EncodeXDR writes the arguments in wire format:
//  1. Object handle (variable-length opaque)
//  2. sattr3 with a discriminated union per settable field
//  3. sattrguard3: a boolean, followed by nfstime3 when true
func (a *SetAttrArgs) EncodeXDR(w *xdr.Writer) {
	w.WriteOpaque(a.Object)
	a.NewAttributes.EncodeXDR(w)
	w.WriteBool(a.Guard != nil)
	if a.Guard != nil {
		a.Guard.encode(w)
	}
}

// DecodeXDR reads SETATTR3args, leaving Guard nil when the check flag is
// false.
func (a *SetAttrArgs) DecodeXDR(r *xdr.Reader) {
	a.Object = r.ReadOpaque(MaxHandleLen)
	a.NewAttributes.DecodeXDR(r)
	a.Guard = nil
	if r.ReadBool() {
		a.Guard = &Time{}
		a.Guard.decode(r)
	}
}

// ============================================================================
// LOOKUP
// ============================================================================

// LookupResult is LOOKUP3res. DirAttributes is sent with every status.
type LookupResult struct {
	Status        Status
	Object        FileHandle
	ObjAttributes *FileAttributes
	DirAttributes *FileAttributes
}

func (r *LookupResult) statusField() *Status { return &r.Status }

// EncodeXDR writes the result in wire format:
//  1. Status (4 bytes)
//  2. Object handle, only if Status is OK
//  3. post_op_attr of the object, only if Status is OK
//  4. post_op_attr of the directory, always
func (r *LookupResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	if r.Status == OK {
		w.WriteOpaque(r.Object)
		encodePostOpAttr(w, r.ObjAttributes)
	}
	encodePostOpAttr(w, r.DirAttributes)
}

func (r *LookupResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.Object, r.ObjAttributes = nil, nil
	if r.Status == OK {
		r.Object = rd.ReadOpaque(MaxHandleLen)
		r.ObjAttributes = decodePostOpAttr(rd)
	}
	r.DirAttributes = decodePostOpAttr(rd)
}

// ============================================================================
// ACCESS
// ============================================================================

// AccessArgs is ACCESS3args.
//
// RFC 1813 Section 3.3.4 specifies the ACCESS procedure as:
//
//	ACCESS3res NFSPROC3_ACCESS(ACCESS3args) = 4;
//
// Access is a bitmask of the Access* constants the client wants checked.
type AccessArgs struct {
	Object FileHandle
	Access uint32
}

func (a *AccessArgs) EncodeXDR(w *xdr.Writer) {
	w.WriteOpaque(a.Object)
	w.WriteUint32(a.Access)
}

func (a *AccessArgs) DecodeXDR(r *xdr.Reader) {
	a.Object = r.ReadOpaque(MaxHandleLen)
	a.Access = r.ReadUint32()
}

// AccessResult is ACCESS3res. Access holds the subset of the requested bits
// the server grants, and is only sent when Status is OK.
type AccessResult struct {
	Status        Status
	ObjAttributes *FileAttributes
	Access        uint32
}

func (r *AccessResult) statusField() *Status { return &r.Status }

// EncodeXDR writes the status, the post_op_attr of the object and, for OK,
// the granted access mask.
func (r *AccessResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	encodePostOpAttr(w, r.ObjAttributes)
	if r.Status == OK {
		w.WriteUint32(r.Access)
	}
}

func (r *AccessResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.ObjAttributes = decodePostOpAttr(rd)
	if r.Status == OK {
		r.Access = rd.ReadUint32()
	}
}

// ============================================================================
// READLINK
// ============================================================================

// ReadLinkResult is READLINK3res.
//
// RFC 1813 Section 3.3.5 specifies the READLINK procedure as:
//
//	READLINK3res NFSPROC3_READLINK(READLINK3args) = 5;
//
// Target is the symlink data as stored; the server does not interpret it.
type ReadLinkResult struct {
	Status            Status
	SymlinkAttributes *FileAttributes
	Target            string
}

func (r *ReadLinkResult) statusField() *Status { return &r.Status }

func (r *ReadLinkResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	encodePostOpAttr(w, r.SymlinkAttributes)
	if r.Status == OK {
		w.WriteString(r.Target)
	}
}

func (r *ReadLinkResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.SymlinkAttributes = decodePostOpAttr(rd)
	if r.Status == OK {
		r.Target = rd.ReadString(MaxPathLen)
	}
}

// ============================================================================
// READ
// ============================================================================

// ReadArgs is READ3args.
//
// RFC 1813 Section 3.3.6 specifies the READ procedure as:
//
//	READ3res NFSPROC3_READ(READ3args) = 6;
//
// The server may return fewer than Count bytes.
type ReadArgs struct {
	File   FileHandle
	Offset uint64
	Count  uint32
}

// EncodeXDR writes the arguments in wire format:
//  1. File handle (variable-length opaque, at most 64 bytes)
//  2. Offset (8 bytes, big-endian uint64)
//  3. Count (4 bytes, big-endian uint32)
func (a *ReadArgs) EncodeXDR(w *xdr.Writer) {
	w.WriteOpaque(a.File)
	w.WriteUint64(a.Offset)
	w.WriteUint32(a.Count)
}

func (a *ReadArgs) DecodeXDR(r *xdr.Reader) {
	a.File = r.ReadOpaque(MaxHandleLen)
	a.Offset = r.ReadUint64()
	a.Count = r.ReadUint32()
}

// ReadResult is READ3res. Count equals len(Data), and EOF is set when the
// read reached the end of the file.
type ReadResult struct {
	Status         Status
	FileAttributes *FileAttributes
	Count          uint32
	EOF            bool
	Data           []byte
}

func (r *ReadResult) statusField() *Status { return &r.Status }

// EncodeXDR writes the result in wire format:
//  1. Status (4 bytes)
//  2. post_op_attr of the file
//  3. Count (4 bytes), only if Status is OK
//  4. EOF flag (4 bytes), only if Status is OK
//  5. Data (variable-length opaque), only if Status is OK
func (r *ReadResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	encodePostOpAttr(w, r.FileAttributes)
	if r.Status == OK {
		w.WriteUint32(r.Count)
		w.WriteBool(r.EOF)
		w.WriteOpaque(r.Data)
	}
}

// DecodeXDR reads READ3res, rejecting data longer than MaxDataLen.
func (r *ReadResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.FileAttributes = decodePostOpAttr(rd)
	if r.Status == OK {
		r.Count = rd.ReadUint32()
		r.EOF = rd.ReadBool()
		r.Data = rd.ReadOpaque(MaxDataLen)
	}
}

// ============================================================================
// WRITE
// ============================================================================

// WriteArgs is WRITE3args. Count is normally len(Data).
type WriteArgs struct {
	File   FileHandle
	Offset uint64
	Count  uint32
	Stable StableHow
	Data   []byte
}

// EncodeXDR writes the arguments in wire format:
//  1. File handle (variable-length opaque)
//  2. Offset (8 bytes)
//  3. Count (4 bytes)
//  4. stable_how (4 bytes)
//  5. Data (variable-length opaque)
func (a *WriteArgs) EncodeXDR(w *xdr.Writer) {
	w.WriteOpaque(a.File)
	w.WriteUint64(a.Offset)
	w.WriteUint32(a.Count)
	w.WriteUint32(uint32(a.Stable))
	w.WriteOpaque(a.Data)
}

// DecodeXDR reads WRITE3args. A stable_how above FILE_SYNC fails the reader.
func (a *WriteArgs) DecodeXDR(r *xdr.Reader) {
	a.File = r.ReadOpaque(MaxHandleLen)
	a.Offset = r.ReadUint64()
	a.Count = r.ReadUint32()
	a.Stable = StableHow(r.ReadUint32())
	if a.Stable > FileSync {
		r.Fail(errInvalidDiscriminant("stable_how", uint32(a.Stable)))
		return
	}
	a.Data = r.ReadOpaque(MaxDataLen)
}

// WriteResult is WRITE3res.
//
// RFC 1813 Section 3.3.7 specifies the WRITE procedure as:
//
//	WRITE3res NFSPROC3_WRITE(WRITE3args) = 7;
//
// Count is the number of bytes written, Committed the stability level
// actually used. A Verifier that differs from an earlier one tells the
// client the server restarted and unstable data must be resent.
type WriteResult struct {
	Status    Status
	FileWcc   WccData
	Count     uint32
	Committed StableHow
	Verifier  Verifier
}

func (r *WriteResult) statusField() *Status { return &r.Status }

func (r *WriteResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	r.FileWcc.encode(w)
	if r.Status == OK {
		w.WriteUint32(r.Count)
		w.WriteUint32(uint32(r.Committed))
		r.Verifier.encode(w)
	}
}

func (r *WriteResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.FileWcc.decode(rd)
	if r.Status == OK {
		r.Count = rd.ReadUint32()
		r.Committed = StableHow(rd.ReadUint32())
		r.Verifier.decode(rd)
	}
}

// ============================================================================
// CREATE
// ============================================================================

// CreateHow is createhow3. Attributes apply to Unchecked and Guarded;
// Verifier applies to Exclusive.
type CreateHow struct {
	Mode       CreateMode
	Attributes SetAttributes
	Verifier   Verifier
}

// CreateArgs is CREATE3args.
//
// RFC 1813 Section 3.3.8 specifies the CREATE procedure as:
//
//	CREATE3res NFSPROC3_CREATE(CREATE3args) = 8;
type CreateArgs struct {
	Where DirOpArgs
	How   CreateHow
}

// EncodeXDR writes diropargs3 followed by createhow3, whose arm is sattr3
// for UNCHECKED and GUARDED or createverf3 for EXCLUSIVE.
func (a *CreateArgs) EncodeXDR(w *xdr.Writer) {
	a.Where.EncodeXDR(w)
	w.WriteUint32(uint32(a.How.Mode))
	if a.How.Mode == CreateExclusive {
		a.How.Verifier.encode(w)
	} else {
		a.How.Attributes.EncodeXDR(w)
	}
}

func (a *CreateArgs) DecodeXDR(r *xdr.Reader) {
	a.Where.DecodeXDR(r)
	a.How.Mode = CreateMode(r.ReadUint32())
	switch a.How.Mode {
	case CreateUnchecked, CreateGuarded:
		a.How.Attributes.DecodeXDR(r)
	case CreateExclusive:
		a.How.Verifier.decode(r)
	default:
		r.Fail(errInvalidDiscriminant("createmode3", uint32(a.How.Mode)))
	}
}

// ============================================================================
// MKDIR / SYMLINK / MKNOD
// ============================================================================

// MkdirArgs is MKDIR3args.
//
// RFC 1813 Section 3.3.9 specifies the MKDIR procedure as:
//
//	MKDIR3res NFSPROC3_MKDIR(MKDIR3args) = 9;
type MkdirArgs struct {
	Where      DirOpArgs
	Attributes SetAttributes
}

func (a *MkdirArgs) EncodeXDR(w *xdr.Writer) {
	a.Where.EncodeXDR(w)
	a.Attributes.EncodeXDR(w)
}

func (a *MkdirArgs) DecodeXDR(r *xdr.Reader) {
	a.Where.DecodeXDR(r)
	a.Attributes.DecodeXDR(r)
}

// SymlinkArgs is SYMLINK3args. Target is stored verbatim as the link data.
//
// RFC 1813 Section 3.3.10 specifies the SYMLINK procedure as:
//
//	SYMLINK3res NFSPROC3_SYMLINK(SYMLINK3args) = 10;
type SymlinkArgs struct {
	Where      DirOpArgs
	Attributes SetAttributes
	Target     string
}

func (a *SymlinkArgs) EncodeXDR(w *xdr.Writer) {
	a.Where.EncodeXDR(w)
	a.Attributes.EncodeXDR(w)
	w.WriteString(a.Target)
}

func (a *SymlinkArgs) DecodeXDR(r *xdr.Reader) {
	a.Where.DecodeXDR(r)
	a.Attributes.DecodeXDR(r)
	a.Target = r.ReadString(MaxPathLen)
}

// MknodArgs is MKNOD3args. Spec is only sent for block and character
// devices; Attributes is sent for devices, sockets and FIFOs.
type MknodArgs struct {
	Where      DirOpArgs
	Type       FileType
	Attributes SetAttributes
	Spec       SpecData
}

func (a *MknodArgs) EncodeXDR(w *xdr.Writer) {
	a.Where.EncodeXDR(w)
	w.WriteUint32(uint32(a.Type))
	switch a.Type {
	case FileTypeBlock, FileTypeChar:
		a.Attributes.EncodeXDR(w)
		w.WriteUint32(a.Spec.Major)
		w.WriteUint32(a.Spec.Minor)
	case FileTypeSocket, FileTypeFIFO:
		a.Attributes.EncodeXDR(w)
	}
}

func (a *MknodArgs) DecodeXDR(r *xdr.Reader) {
	a.Where.DecodeXDR(r)
	a.Type = FileType(r.ReadUint32())
	switch a.Type {
	case FileTypeBlock, FileTypeChar:
		a.Attributes.DecodeXDR(r)
		a.Spec.Major = r.ReadUint32()
		a.Spec.Minor = r.ReadUint32()
	case FileTypeSocket, FileTypeFIFO:
		a.Attributes.DecodeXDR(r)
	case FileTypeRegular, FileTypeDirectory, FileTypeSymlink:
	default:
		r.Fail(errInvalidDiscriminant("ftype3", uint32(a.Type)))
	}
}

// ============================================================================
// RENAME
// ============================================================================

// RenameArgs is RENAME3args.
//
// RFC 1813 Section 3.3.14 specifies the RENAME procedure as:
//
//	RENAME3res NFSPROC3_RENAME(RENAME3args) = 14;
type RenameArgs struct {
	From DirOpArgs
	To   DirOpArgs
}

func (a *RenameArgs) EncodeXDR(w *xdr.Writer) {
	a.From.EncodeXDR(w)
	a.To.EncodeXDR(w)
}

func (a *RenameArgs) DecodeXDR(r *xdr.Reader) {
	a.From.DecodeXDR(r)
	a.To.DecodeXDR(r)
}

// RenameResult is RENAME3res. Both directories' wcc_data is sent for every
// status.
type RenameResult struct {
	Status     Status
	FromDirWcc WccData
	ToDirWcc   WccData
}

func (r *RenameResult) statusField() *Status { return &r.Status }

func (r *RenameResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	r.FromDirWcc.encode(w)
	r.ToDirWcc.encode(w)
}

func (r *RenameResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.FromDirWcc.decode(rd)
	r.ToDirWcc.decode(rd)
}

// ============================================================================
// LINK
// ============================================================================

// LinkArgs is LINK3args: the existing file and the directory entry to add
// for it.
//
// RFC 1813 Section 3.3.15 specifies the LINK procedure as:
//
//	LINK3res NFSPROC3_LINK(LINK3args) = 15;
type LinkArgs struct {
	File FileHandle
	Link DirOpArgs
}

func (a *LinkArgs) EncodeXDR(w *xdr.Writer) {
	w.WriteOpaque(a.File)
	a.Link.EncodeXDR(w)
}

func (a *LinkArgs) DecodeXDR(r *xdr.Reader) {
	a.File = r.ReadOpaque(MaxHandleLen)
	a.Link.DecodeXDR(r)
}

// LinkResult is LINK3res.
type LinkResult struct {
	Status         Status
	FileAttributes *FileAttributes
	LinkDirWcc     WccData
}

func (r *LinkResult) statusField() *Status { return &r.Status }

func (r *LinkResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	encodePostOpAttr(w, r.FileAttributes)
	r.LinkDirWcc.encode(w)
}

func (r *LinkResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.FileAttributes = decodePostOpAttr(rd)
	r.LinkDirWcc.decode(rd)
}

// ============================================================================
// READDIR
// ============================================================================

// ReadDirArgs is READDIR3args.
//
// RFC 1813 Section 3.3.16 specifies the READDIR procedure as:
//
//	READDIR3res NFSPROC3_READDIR(READDIR3args) = 16;
//
// Cookie 0 starts a listing. A later request passes the cookie of the last
// entry it received together with CookieVerf from the same listing. Count
// bounds the encoded size of the whole reply.
type ReadDirArgs struct {
	Dir        FileHandle
	Cookie     uint64
	CookieVerf Verifier
	Count      uint32
}

// EncodeXDR writes the arguments in wire format:
//  1. Directory handle (variable-length opaque)
//  2. Cookie (8 bytes)
//  3. Cookie verifier (8 bytes, fixed-length opaque)
//  4. Count (4 bytes)
func (a *ReadDirArgs) EncodeXDR(w *xdr.Writer) {
	w.WriteOpaque(a.Dir)
	w.WriteUint64(a.Cookie)
	a.CookieVerf.encode(w)
	w.WriteUint32(a.Count)
}

func (a *ReadDirArgs) DecodeXDR(r *xdr.Reader) {
	a.Dir = r.ReadOpaque(MaxHandleLen)
	a.Cookie = r.ReadUint64()
	a.CookieVerf.decode(r)
	a.Count = r.ReadUint32()
}

// DirEntry is entry3.
type DirEntry struct {
	FileID uint64
	Name   string
	Cookie uint64
}

// Size returns the encoded size of e within an entry list, including the
// list's value-follows word.
func (e *DirEntry) Size() int {
	return 4 + 8 + xdr.OpaqueSize(len(e.Name)) + 8
}

// ReadDirResult is READDIR3res. Entries is encoded as an XDR optional-data
// linked list.
type ReadDirResult struct {
	Status        Status
	DirAttributes *FileAttributes
	CookieVerf    Verifier
	Entries       []DirEntry
	EOF           bool
}

func (r *ReadDirResult) statusField() *Status { return &r.Status }

// EncodeXDR writes the result in wire format:
//  1. Status (4 bytes)
//  2. post_op_attr of the directory
//  3. Cookie verifier (8 bytes), only if Status is OK
//  4. For each entry: value-follows TRUE, fileid, name, cookie
//  5. value-follows FALSE
//  6. EOF flag
func (r *ReadDirResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	encodePostOpAttr(w, r.DirAttributes)
	if r.Status != OK {
		return
	}
	r.CookieVerf.encode(w)
	for i := range r.Entries {
		e := &r.Entries[i]
		w.WriteBool(true)
		w.WriteUint64(e.FileID)
		w.WriteString(e.Name)
		w.WriteUint64(e.Cookie)
	}
	w.WriteBool(false)
	w.WriteBool(r.EOF)
}

// DecodeXDR reads READDIR3res, failing once the list grows past the entry
// limit.
func (r *ReadDirResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.DirAttributes = decodePostOpAttr(rd)
	r.Entries = nil
	if r.Status != OK {
		return
	}
	r.CookieVerf.decode(rd)
	for rd.ReadBool() {
		if len(r.Entries) >= maxDirEntries {
			rd.Fail(fmt.Errorf("%w: more than %d directory entries", xdr.ErrLengthExceeded, maxDirEntries))
			return
		}
		var e DirEntry
		e.FileID = rd.ReadUint64()
		e.Name = rd.ReadString(MaxNameLen)
		e.Cookie = rd.ReadUint64()
		if rd.Err() != nil {
			return
		}
		r.Entries = append(r.Entries, e)
	}
	r.EOF = rd.ReadBool()
}

// ============================================================================
// READDIRPLUS
// ============================================================================

// ReadDirPlusArgs is READDIRPLUS3args.
//
// RFC 1813 Section 3.3.17 specifies the READDIRPLUS procedure as:
//
//	READDIRPLUS3res NFSPROC3_READDIRPLUS(READDIRPLUS3args) = 17;
//
// DirCount bounds the size of the directory information alone (fileid,
// name and cookie), MaxCount the size of the whole reply.
type ReadDirPlusArgs struct {
	Dir        FileHandle
	Cookie     uint64
	CookieVerf Verifier
	DirCount   uint32
	MaxCount   uint32
}

func (a *ReadDirPlusArgs) EncodeXDR(w *xdr.Writer) {
	w.WriteOpaque(a.Dir)
	w.WriteUint64(a.Cookie)
	a.CookieVerf.encode(w)
	w.WriteUint32(a.DirCount)
	w.WriteUint32(a.MaxCount)
}

func (a *ReadDirPlusArgs) DecodeXDR(r *xdr.Reader) {
	a.Dir = r.ReadOpaque(MaxHandleLen)
	a.Cookie = r.ReadUint64()
	a.CookieVerf.decode(r)
	a.DirCount = r.ReadUint32()
	a.MaxCount = r.ReadUint32()
}

// DirPlusEntry is entryplus3. Attributes and Handle may be absent.
type DirPlusEntry struct {
	FileID     uint64
	Name       string
	Cookie     uint64
	Attributes *FileAttributes
	Handle     FileHandle
}

// Size returns the encoded size of e within an entry list, including the
// list's value-follows word.
func (e *DirPlusEntry) Size() int {
	return 4 + 8 + xdr.OpaqueSize(len(e.Name)) + 8 + postOpAttrSize(e.Attributes) + optionalHandleSize(e.Handle)
}

// ReadDirPlusResult is READDIRPLUS3res.
type ReadDirPlusResult struct {
	Status        Status
	DirAttributes *FileAttributes
	CookieVerf    Verifier
	Entries       []DirPlusEntry
	EOF           bool
}

func (r *ReadDirPlusResult) statusField() *Status { return &r.Status }

// EncodeXDR writes the same layout as ReadDirResult, with each entry
// followed by its post_op_attr and post_op_fh3.
func (r *ReadDirPlusResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	encodePostOpAttr(w, r.DirAttributes)
	if r.Status != OK {
		return
	}
	r.CookieVerf.encode(w)
	for i := range r.Entries {
		e := &r.Entries[i]
		w.WriteBool(true)
		w.WriteUint64(e.FileID)
		w.WriteString(e.Name)
		w.WriteUint64(e.Cookie)
		encodePostOpAttr(w, e.Attributes)
		encodeOptionalHandle(w, e.Handle)
	}
	w.WriteBool(false)
	w.WriteBool(r.EOF)
}

func (r *ReadDirPlusResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.DirAttributes = decodePostOpAttr(rd)
	r.Entries = nil
	if r.Status != OK {
		return
	}
	r.CookieVerf.decode(rd)
	for rd.ReadBool() {
		if len(r.Entries) >= maxDirEntries {
			rd.Fail(fmt.Errorf("%w: more than %d directory entries", xdr.ErrLengthExceeded, maxDirEntries))
			return
		}
		var e DirPlusEntry
		e.FileID = rd.ReadUint64()
		e.Name = rd.ReadString(MaxNameLen)
		e.Cookie = rd.ReadUint64()
		e.Attributes = decodePostOpAttr(rd)
		e.Handle = decodeOptionalHandle(rd)
		if rd.Err() != nil {
			return
		}
		r.Entries = append(r.Entries, e)
	}
	r.EOF = rd.ReadBool()
}

// DirListHeaderSize is the encoded size of an OK READDIR or READDIRPLUS
// result without entries: status, directory attributes, cookie verifier,
// list terminator and eof flag.
func DirListHeaderSize(dirAttributes *FileAttributes) int {
	return 4 + postOpAttrSize(dirAttributes) + VerifierSize + 4 + 4
}

// DirBudget tracks encoded entry sizes against the byte limits of a
// directory listing request. READDIRPLUS charges each entry to both dircount
// and maxcount, while maxcount also covers the result header. READDIR uses
// its count for both limits.
type DirBudget struct {
	dirCount int
	maxCount int
	dirUsed  int
	maxUsed  int
}

// NewDirBudget returns a budget for a listing limited to dirCount bytes of
// entries and maxCount bytes in total, of which headerSize is already used.
func NewDirBudget(dirCount, maxCount uint32, headerSize int) *DirBudget {
	return &DirBudget{dirCount: int(dirCount), maxCount: int(maxCount), maxUsed: headerSize}
}

// Reserve charges an entry of size bytes and reports whether it fit. An
// entry that does not fit is not charged.
func (b *DirBudget) Reserve(size int) bool {
	if b.dirUsed+size > b.dirCount || b.maxUsed+size > b.maxCount {
		return false
	}
	b.dirUsed += size
	b.maxUsed += size
	return true
}

// Used returns the encoded size of the result so far.
func (b *DirBudget) Used() int {
	return b.maxUsed
}

// ============================================================================
// FSSTAT / FSINFO / PATHCONF
// ============================================================================

// FsStatResult is FSSTAT3res.
//
// RFC 1813 Section 3.3.18 specifies the FSSTAT procedure as:
//
//	FSSTAT3res NFSPROC3_FSSTAT(FSSTAT3args) = 18;
type FsStatResult struct {
	Status        Status
	ObjAttributes *FileAttributes
	Stat          FSStat
}

func (r *FsStatResult) statusField() *Status { return &r.Status }

func (r *FsStatResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	encodePostOpAttr(w, r.ObjAttributes)
	if r.Status == OK {
		r.Stat.encode(w)
	}
}

func (r *FsStatResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.ObjAttributes = decodePostOpAttr(rd)
	if r.Status == OK {
		r.Stat.decode(rd)
	}
}

// FsInfoResult is FSINFO3res.
//
// RFC 1813 Section 3.3.19 specifies the FSINFO procedure as:
//
//	FSINFO3res NFSPROC3_FSINFO(FSINFO3args) = 19;
//
// Clients size their READ and WRITE requests from Info.
type FsInfoResult struct {
	Status        Status
	ObjAttributes *FileAttributes
	Info          FSInfo
}

func (r *FsInfoResult) statusField() *Status { return &r.Status }

func (r *FsInfoResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	encodePostOpAttr(w, r.ObjAttributes)
	if r.Status == OK {
		r.Info.encode(w)
	}
}

func (r *FsInfoResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.ObjAttributes = decodePostOpAttr(rd)
	if r.Status == OK {
		r.Info.decode(rd)
	}
}

// PathConfResult is PATHCONF3res.
//
// RFC 1813 Section 3.3.20 specifies the PATHCONF procedure as:
//
//	PATHCONF3res NFSPROC3_PATHCONF(PATHCONF3args) = 20;
type PathConfResult struct {
	Status        Status
	ObjAttributes *FileAttributes
	Conf          PathConf
}

func (r *PathConfResult) statusField() *Status { return &r.Status }

func (r *PathConfResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	encodePostOpAttr(w, r.ObjAttributes)
	if r.Status == OK {
		r.Conf.encode(w)
	}
}

func (r *PathConfResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.ObjAttributes = decodePostOpAttr(rd)
	if r.Status == OK {
		r.Conf.decode(rd)
	}
}

// ============================================================================
// COMMIT
// ============================================================================

// CommitArgs is COMMIT3args. A Count of 0 commits from Offset to the end of
// the file.
//
// RFC 1813 Section 3.3.21 specifies the COMMIT procedure as:
//
//	COMMIT3res NFSPROC3_COMMIT(COMMIT3args) = 21;
type CommitArgs struct {
	File   FileHandle
	Offset uint64
	Count  uint32
}

func (a *CommitArgs) EncodeXDR(w *xdr.Writer) {
	w.WriteOpaque(a.File)
	w.WriteUint64(a.Offset)
	w.WriteUint32(a.Count)
}

func (a *CommitArgs) DecodeXDR(r *xdr.Reader) {
	a.File = r.ReadOpaque(MaxHandleLen)
	a.Offset = r.ReadUint64()
	a.Count = r.ReadUint32()
}

// CommitResult is COMMIT3res. Verifier is the same write verifier WRITE
// reports.
type CommitResult struct {
	Status   Status
	FileWcc  WccData
	Verifier Verifier
}

func (r *CommitResult) statusField() *Status { return &r.Status }

func (r *CommitResult) EncodeXDR(w *xdr.Writer) {
	w.WriteUint32(uint32(r.Status))
	r.FileWcc.encode(w)
	if r.Status == OK {
		r.Verifier.encode(w)
	}
}

func (r *CommitResult) DecodeXDR(rd *xdr.Reader) {
	r.Status = Status(rd.ReadUint32())
	r.FileWcc.decode(rd)
	if r.Status == OK {
		r.Verifier.decode(rd)
	}
}
