package client

import (
	"context"
	"errors"
	"io"

	"github.com/marmos91/dnfs/pkg/nfs3"
)

// File is a byte stream over a regular file handle. It implements io.Reader,
// io.Writer, io.ReaderAt, io.WriterAt and io.Seeker. Every call it makes is
// bound to the context it was opened with.
type File struct {
	session *Session
	ctx     context.Context
	handle  nfs3.FileHandle

	offset int64
	length int64
}

// OpenFile opens h for reading and writing. The initial length comes from
// the file's attributes.
func (s *Session) OpenFile(ctx context.Context, h nfs3.FileHandle) (*File, error) {
	attr, err := s.GetAttributes(ctx, h)
	if err != nil {
		return nil, err
	}
	if attr.Type != nfs3.FileTypeRegular {
		return nil, &nfs3.Error{Status: nfs3.ErrInval, Op: "open " + attr.Type.String()}
	}
	return &File{session: s, ctx: ctx, handle: h, length: int64(attr.Size)}, nil
}

// Handle returns the NFS handle of the open file.
func (f *File) Handle() nfs3.FileHandle {
	return f.handle
}

// Length returns the file length known to this File: the size at open time
// raised by every write past the end.
func (f *File) Length() int64 {
	return f.length
}

// ReadAt reads len(p) bytes at off, issuing as many READ calls as needed.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("client: negative offset")
	}

	n := 0
	for n < len(p) {
		res, err := f.session.Read(f.ctx, f.handle, uint64(off)+uint64(n), uint32(min(len(p)-n, maxChunk)))
		if err != nil {
			return n, err
		}
		copied := copy(p[n:], res.Data)
		n += copied
		if res.EOF {
			if n < len(p) {
				return n, io.EOF
			}
			break
		}
		if copied == 0 {
			return n, io.ErrNoProgress
		}
	}
	return n, nil
}

// maxChunk caps one READ request when the server advertised no limit.
const maxChunk = 1 << 30

// WriteAt writes p at off and extends Length when the write ends past it.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("client: negative offset")
	}
	n, err := f.session.Write(f.ctx, f.handle, uint64(off), p)
	if end := off + int64(n); end > f.length {
		f.length = end
	}
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Read reads from the current offset. It returns io.EOF once the offset
// reaches Length.
func (f *File) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if f.offset >= f.length {
		return 0, io.EOF
	}
	n, err := f.ReadAt(p, f.offset)
	f.offset += int64(n)
	if errors.Is(err, io.EOF) && n > 0 {
		err = nil
	}
	return n, err
}

// Write writes at the current offset and advances it by the bytes the
// server acknowledged.
func (f *File) Write(p []byte) (int, error) {
	n, err := f.WriteAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

// Seek sets the offset of the next Read or Write. SeekEnd is relative to
// Length.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = f.offset + offset
	case io.SeekEnd:
		next = f.length + offset
	default:
		return f.offset, errors.New("client: invalid whence")
	}
	if next < 0 {
		return f.offset, errors.New("client: negative position")
	}
	f.offset = next
	return next, nil
}

// Truncate sets the file size.
func (f *File) Truncate(size int64) error {
	if size < 0 {
		return errors.New("client: negative size")
	}
	s := uint64(size)
	if err := f.session.SetAttributes(f.ctx, f.handle, nfs3.SetAttributes{Size: &s}); err != nil {
		return err
	}
	f.length = size
	return nil
}

// Sync commits unstable data to stable storage.
func (f *File) Sync() error {
	_, err := f.session.Commit(f.ctx, f.handle, 0, 0)
	return err
}
