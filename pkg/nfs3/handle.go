package nfs3

import (
	"bytes"
	"cmp"
	"encoding/hex"

	"github.com/marmos91/dnfs/pkg/xdr"
)

// FileHandle is nfs_fh3: an opaque server-assigned identifier of at most
// MaxHandleLen bytes. Handles are treated as immutable once received.
type FileHandle []byte

// Compare orders handles by length, then lexicographically by bytes.
func (h FileHandle) Compare(other FileHandle) int {
	if c := cmp.Compare(len(h), len(other)); c != 0 {
		return c
	}
	return bytes.Compare(h, other)
}

// Equal reports whether h and other hold the same bytes.
func (h FileHandle) Equal(other FileHandle) bool {
	return bytes.Equal(h, other)
}

// Key returns h as a string usable as a map key.
func (h FileHandle) Key() string {
	return string(h)
}

// Clone returns a copy of h that does not share its backing array.
func (h FileHandle) Clone() FileHandle {
	if h == nil {
		return nil
	}
	return append(FileHandle{}, h...)
}

// String returns h in hex, for logs.
func (h FileHandle) String() string {
	return hex.EncodeToString(h)
}

// EncodeXDR writes nfs_fh3 in wire format:
//  1. Length (4 bytes, big-endian uint32)
//  2. Handle bytes
//  3. Zero padding to a 4-byte boundary
func (h FileHandle) EncodeXDR(w *xdr.Writer) {
	w.WriteOpaque(h)
}

func (h *FileHandle) DecodeXDR(r *xdr.Reader) {
	*h = r.ReadOpaque(MaxHandleLen)
}

// post_op_fh3: a nil handle is encoded as absent.
func encodeOptionalHandle(w *xdr.Writer, h FileHandle) {
	w.WriteBool(h != nil)
	if h != nil {
		w.WriteOpaque(h)
	}
}

func decodeOptionalHandle(r *xdr.Reader) FileHandle {
	if !r.ReadBool() {
		return nil
	}
	h := r.ReadOpaque(MaxHandleLen)
	if h == nil && r.Err() == nil {
		h = []byte{}
	}
	return h
}

func optionalHandleSize(h FileHandle) int {
	if h == nil {
		return 4
	}
	return 4 + xdr.OpaqueSize(len(h))
}

// Verifier is the 8-byte cookie, create and write verifier.
type Verifier [VerifierSize]byte

func (v *Verifier) encode(w *xdr.Writer) {
	w.WriteFixedOpaque(v[:])
}

func (v *Verifier) decode(r *xdr.Reader) {
	copy(v[:], r.ReadFixedOpaque(VerifierSize))
}

// DirOpArgs is diropargs3: a name within a directory.
type DirOpArgs struct {
	Dir  FileHandle
	Name string
}

// EncodeXDR writes the directory handle followed by the name as an XDR
// string.
func (a *DirOpArgs) EncodeXDR(w *xdr.Writer) {
	w.WriteOpaque(a.Dir)
	w.WriteString(a.Name)
}

func (a *DirOpArgs) DecodeXDR(r *xdr.Reader) {
	a.Dir = r.ReadOpaque(MaxHandleLen)
	a.Name = r.ReadString(MaxNameLen)
}
