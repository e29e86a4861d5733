package s3fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/afero"
)

// File is an open file or directory of an Fs.
//
// Reads are ranged GETs and writes go straight to the bucket, so Sync and
// Close have nothing to flush.
type File struct {
	fs   *Fs
	path string
	flag int

	mu      sync.Mutex
	info    *fileInfo
	offset  int64
	closed  bool
	entries []os.FileInfo
	listed  bool
}

var _ afero.File = (*File)(nil)

// Name returns the path the file was opened with.
func (f *File) Name() string {
	return f.path
}

// Close marks the file closed.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return os.ErrClosed
	}
	f.closed = true
	return nil
}

// Stat returns the attributes as of the last operation through f.
func (f *File) Stat() (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := *f.info
	return &info, nil
}

// Sync is a no-op: every write is already stored.
func (f *File) Sync() error {
	return nil
}

func (f *File) check(op string, write bool) error {
	switch {
	case f.closed:
		return pathError(op, f.path, os.ErrClosed)
	case f.info.IsDir() && (write || op == "read"):
		return pathError(op, f.path, syscall.EISDIR)
	case write && f.flag&(os.O_WRONLY|os.O_RDWR) == 0:
		return pathError(op, f.path, syscall.EBADF)
	case !write && f.flag&os.O_WRONLY != 0:
		return pathError(op, f.path, syscall.EBADF)
	}
	return nil
}

// ============================================================================
// Reading
// ============================================================================

// ReadAt reads len(p) bytes at off with a ranged GET.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readAt(p, off)
}

func (f *File) readAt(p []byte, off int64) (int, error) {
	if err := f.check("read", false); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, pathError("read", f.path, syscall.EINVAL)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= f.info.size {
		return 0, io.EOF
	}

	end := min(off+int64(len(p)), f.info.size)
	ctx, cancel := f.fs.requestContext()
	defer cancel()

	out, err := f.fs.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.fs.bucket),
		Key:    aws.String(f.fs.fileKey(f.path)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end-1)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, pathError("read", f.path, os.ErrNotExist)
		}
		return 0, pathError("read", f.path, err)
	}
	defer func() { _ = out.Body.Close() }()

	n, err := io.ReadFull(out.Body, p[:end-off])
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, pathError("read", f.path, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Read reads from the current offset.
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.readAt(p, f.offset)
	f.offset += int64(n)
	if n > 0 && err == io.EOF {
		err = nil
	}
	return n, err
}

// Seek sets the offset of the next Read or Write.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, pathError("seek", f.path, os.ErrClosed)
	}
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.offset
	case io.SeekEnd:
		offset += f.info.size
	default:
		return 0, pathError("seek", f.path, syscall.EINVAL)
	}
	if offset < 0 {
		return 0, pathError("seek", f.path, syscall.EINVAL)
	}
	f.offset = offset
	return offset, nil
}

// ============================================================================
// Writing
// ============================================================================

// WriteAt stores p at off, zero-filling any gap past the end of the file.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeAt(p, off)
}

func (f *File) writeAt(p []byte, off int64) (int, error) {
	if err := f.check("write", true); err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, pathError("write", f.path, syscall.EINVAL)
	}
	err := f.rewrite("write", func(data []byte) []byte {
		if end := off + int64(len(p)); end > int64(len(data)) {
			data = append(data, make([]byte, end-int64(len(data)))...)
		}
		copy(data[off:], p)
		return data
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Write stores p at the current offset, or at the end with O_APPEND.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.flag&os.O_APPEND != 0 {
		f.offset = f.info.size
	}
	n, err := f.writeAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

// WriteString writes s at the current offset.
func (f *File) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

// Truncate cuts or zero-extends the file to size.
func (f *File) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check("truncate", true); err != nil {
		return err
	}
	if size < 0 {
		return pathError("truncate", f.path, syscall.EINVAL)
	}
	return f.rewrite("truncate", func(data []byte) []byte {
		if size <= int64(len(data)) {
			return data[:size]
		}
		return append(data, make([]byte, size-int64(len(data)))...)
	})
}

// rewrite runs edit over the whole object and stores the result, keeping
// the permission bits and refreshing the modification time.
func (f *File) rewrite(op string, edit func([]byte) []byte) error {
	fs := f.fs
	ctx, cancel := fs.requestContext()
	defer cancel()

	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	key := fs.fileKey(f.path)
	out, err := fs.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return pathError(op, f.path, os.ErrNotExist)
		}
		return pathError(op, f.path, err)
	}
	data, err := io.ReadAll(out.Body)
	_ = out.Body.Close()
	if err != nil {
		return pathError(op, f.path, err)
	}

	current := infoFromMetadata(f.path, int64(len(data)), out.LastModified, out.Metadata, false)
	data = edit(data)
	now := time.Now()
	if err := fs.put(ctx, key, data, metadata(current.mode, now), ""); err != nil {
		return pathError(op, f.path, err)
	}

	f.info = &fileInfo{name: path.Base(f.path), size: int64(len(data)), mode: current.mode, modTime: now}
	return nil
}

// ============================================================================
// Directory Listing
// ============================================================================

// Readdir returns up to count entries, or all remaining ones when count is
// not positive. Entries carry the size and LastModified reported by the
// listing with default permission bits; Stat an entry for its metadata.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, pathError("readdir", f.path, os.ErrClosed)
	}
	if !f.info.IsDir() {
		return nil, pathError("readdir", f.path, syscall.ENOTDIR)
	}
	if !f.listed {
		entries, err := f.fs.readDir(f.path)
		if err != nil {
			return nil, pathError("readdir", f.path, err)
		}
		f.entries, f.listed = entries, true
	}

	if count <= 0 {
		out := f.entries
		f.entries = nil
		return out, nil
	}
	if len(f.entries) == 0 {
		return nil, io.EOF
	}
	n := min(count, len(f.entries))
	out := f.entries[:n]
	f.entries = f.entries[n:]
	return out, nil
}

// Readdirnames is Readdir returning names only.
func (f *File) Readdirnames(n int) ([]string, error) {
	infos, err := f.Readdir(n)
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, err
}

// readDir lists the direct children of the directory at p, sorted by name.
func (fs *Fs) readDir(p string) ([]os.FileInfo, error) {
	ctx, cancel := fs.requestContext()
	defer cancel()
	return fs.listDir(ctx, p)
}

func (fs *Fs) listDir(ctx context.Context, p string) ([]os.FileInfo, error) {
	prefix := fs.dirKey(p)
	seen := make(map[string]bool)
	var entries []os.FileInfo

	err := fs.list(ctx, prefix, "/", func(obj *types.Object, commonPrefix string) error {
		if obj == nil {
			name := strings.TrimSuffix(strings.TrimPrefix(commonPrefix, prefix), "/")
			if name != "" && !seen[name] {
				seen[name] = true
				entries = append(entries, &fileInfo{name: name, mode: os.ModeDir | defaultDirMode})
			}
			return nil
		}
		name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
		if name == "" || seen[name] {
			return nil
		}
		seen[name] = true
		info := &fileInfo{name: name, size: aws.ToInt64(obj.Size), mode: defaultFileMode}
		if obj.LastModified != nil {
			info.modTime = *obj.LastModified
		}
		entries = append(entries, info)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(entries, func(a, b os.FileInfo) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}
