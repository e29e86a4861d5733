// Package handles maps NFS file handles to server paths.
//
// A handle is the big-endian encoding of a 64-bit id. Ids are allocated from
// an incrementing counter the first time a path is seen. Rename moves the
// binding of a path and of everything below it, so a handle follows its file
// until the file is forgotten.
//
// Paths are opaque keys to a Table. The file server qualifies them with the
// export they were issued through.
package handles

import (
	"context"
	"encoding/binary"
	"errors"
	"path"
	"strings"

	"github.com/marmos91/dnfs/pkg/nfs3"
)

// HandleSize is the length of every handle issued by a Table.
const HandleSize = 8

// ErrInvalidHandle is returned for handles not produced by a Table.
var ErrInvalidHandle = errors.New("handles: malformed file handle")

// Table is a bidirectional handle ↔ path mapping. Paths are absolute and
// slash-separated. Implementations are safe for concurrent use.
type Table interface {
	// Handle returns the handle bound to p, allocating one if needed.
	Handle(ctx context.Context, p string) (nfs3.FileHandle, error)

	// Path returns the path bound to h. ok is false when the handle is
	// unknown, which callers report as a stale handle.
	Path(ctx context.Context, h nfs3.FileHandle) (p string, ok bool, err error)

	// Rename rebinds from and everything below it to to. Handles already
	// bound to to or below it are dropped first.
	Rename(ctx context.Context, from, to string) error

	// Forget drops p and everything below it.
	Forget(ctx context.Context, p string) error

	Close() error
}

// Encode returns the handle for id.
func Encode(id uint64) nfs3.FileHandle {
	h := make(nfs3.FileHandle, HandleSize)
	binary.BigEndian.PutUint64(h, id)
	return h
}

// Decode returns the id carried by h.
func Decode(h nfs3.FileHandle) (uint64, error) {
	if len(h) != HandleSize {
		return 0, ErrInvalidHandle
	}
	return binary.BigEndian.Uint64(h), nil
}

// ID returns the id carried by h, or 0 when h is malformed. It serves as the
// file id reported in attributes.
func ID(h nfs3.FileHandle) uint64 {
	id, _ := Decode(h)
	return id
}

// Clean normalizes p to the form stored by tables.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// within reports whether p is dir or lies below it.
func within(p, dir string) bool {
	if dir == "/" || p == dir {
		return true
	}
	return strings.HasPrefix(p, dir+"/")
}

// rebase moves p from below from to below to.
func rebase(p, from, to string) string {
	if p == from {
		return to
	}
	if from == "/" {
		return path.Join(to, p)
	}
	return path.Join(to, strings.TrimPrefix(p, from))
}
