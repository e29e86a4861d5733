// Package s3fs implements afero.Fs on top of Amazon S3 or an S3-compatible
// object store, so an export can be served straight out of a bucket.
//
// Object Layout:
//   - A file "/docs/report.pdf" is the object "<prefix>docs/report.pdf"
//   - A directory "/docs" is the empty marker object "<prefix>docs/"
//   - A directory without a marker still exists while objects live below it
//   - The root always exists and has no marker
//
// Permission bits and modification times are kept in the object user
// metadata ("mode" and "mtime"). Objects written by other tools fall back to
// 0644 (0755 for directories) and the object LastModified time.
//
// S3 has no random writes, so WriteAt and Truncate are read-modify-write
// cycles of the whole object. They are serialized inside one Fs, making
// concurrent NFS WRITEs to the same file safe on a single server.
package s3fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/spf13/afero"
)

const (
	metaMode  = "mode"
	metaMtime = "mtime"

	defaultFileMode = 0o644
	defaultDirMode  = 0o755

	directoryContentType = "application/x-directory"
)

// API is the subset of *s3.Client used by Fs.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, opts ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ API = (*s3.Client)(nil)

// Config contains configuration for an S3 filesystem.
type Config struct {
	// Client is the configured S3 client
	Client API

	// Bucket is the S3 bucket name. It must already exist.
	Bucket string

	// KeyPrefix is an optional prefix for all object keys
	// Example: "nfs/" stores "/a/b" as "nfs/a/b"
	KeyPrefix string

	// Timeout bounds every S3 request (default: 30s)
	Timeout time.Duration
}

// Fs is an afero.Fs backed by an S3 bucket.
type Fs struct {
	client  API
	bucket  string
	prefix  string
	timeout time.Duration

	// writeMu serializes read-modify-write cycles on objects.
	writeMu sync.Mutex
}

var _ afero.Fs = (*Fs)(nil)

// New verifies bucket access and returns the filesystem. The bucket is not
// created.
func New(ctx context.Context, cfg Config) (*Fs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, errors.New("s3fs: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3fs: bucket name is required")
	}

	prefix := strings.TrimPrefix(cfg.KeyPrefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	if _, err := cfg.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	return &Fs{client: cfg.Client, bucket: cfg.Bucket, prefix: prefix, timeout: timeout}, nil
}

// Name returns the name of the filesystem.
func (fs *Fs) Name() string {
	return "s3fs"
}

func (fs *Fs) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), fs.timeout)
}

// clean normalizes name to an absolute slash-separated path.
func clean(name string) string {
	return path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
}

// fileKey returns the object key of the file at p.
func (fs *Fs) fileKey(p string) string {
	return fs.prefix + strings.TrimPrefix(p, "/")
}

// dirKey returns the marker key of the directory at p, which doubles as the
// listing prefix of its children.
func (fs *Fs) dirKey(p string) string {
	if p == "/" {
		return fs.prefix
	}
	return fs.fileKey(p) + "/"
}

// ============================================================================
// Object Helpers
// ============================================================================

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func pathError(op, name string, err error) error {
	return &os.PathError{Op: op, Path: name, Err: err}
}

func metadata(mode os.FileMode, mtime time.Time) map[string]string {
	return map[string]string{
		metaMode:  strconv.FormatUint(uint64(mode.Perm()), 8),
		metaMtime: strconv.FormatInt(mtime.UnixNano(), 10),
	}
}

// infoFromMetadata builds a FileInfo from object attributes.
func infoFromMetadata(name string, size int64, lastModified *time.Time, meta map[string]string, dir bool) *fileInfo {
	info := &fileInfo{name: path.Base(name), size: size, mode: defaultFileMode}
	if dir {
		info.mode = os.ModeDir | defaultDirMode
		info.size = 0
	}
	if v, ok := meta[metaMode]; ok {
		if perm, err := strconv.ParseUint(v, 8, 32); err == nil {
			info.mode = info.mode&os.ModeType | os.FileMode(perm).Perm()
		}
	}
	if lastModified != nil {
		info.modTime = *lastModified
	}
	if v, ok := meta[metaMtime]; ok {
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			info.modTime = time.Unix(0, ns)
		}
	}
	return info
}

func (fs *Fs) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return fs.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	})
}

func (fs *Fs) put(ctx context.Context, key string, data []byte, meta map[string]string, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(fs.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata:      meta,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	_, err := fs.client.PutObject(ctx, in)
	return err
}

func (fs *Fs) delete(ctx context.Context, key string) error {
	_, err := fs.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(fs.bucket),
		Key:    aws.String(key),
	})
	return err
}

// copyObject copies src to dst. A non-nil meta replaces the metadata of the
// copy, otherwise it is carried over.
func (fs *Fs) copyObject(ctx context.Context, src, dst string, meta map[string]string) error {
	in := &s3.CopyObjectInput{
		Bucket:     aws.String(fs.bucket),
		Key:        aws.String(dst),
		CopySource: aws.String(copySource(fs.bucket, src)),
	}
	if meta != nil {
		in.Metadata = meta
		in.MetadataDirective = types.MetadataDirectiveReplace
	}
	_, err := fs.client.CopyObject(ctx, in)
	return err
}

// copySource returns the URL-encoded "bucket/key" form CopyObject expects.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

// list calls visit for every object and common prefix below prefix. An empty
// delimiter lists recursively.
func (fs *Fs) list(ctx context.Context, prefix, delimiter string, visit func(obj *types.Object, commonPrefix string) error) error {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(fs.bucket),
		Prefix: aws.String(prefix),
	}
	if delimiter != "" {
		in.Delimiter = aws.String(delimiter)
	}

	paginator := s3.NewListObjectsV2Paginator(fs.client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, cp := range page.CommonPrefixes {
			if err := visit(nil, aws.ToString(cp.Prefix)); err != nil {
				return err
			}
		}
		for i := range page.Contents {
			if err := visit(&page.Contents[i], ""); err != nil {
				return err
			}
		}
	}
	return nil
}

var errStopListing = errors.New("s3fs: stop listing")

// hasChildren reports whether any object other than the marker lives below
// the directory at p.
func (fs *Fs) hasChildren(ctx context.Context, p string) (bool, error) {
	marker := fs.dirKey(p)
	found := false
	err := fs.list(ctx, marker, "", func(obj *types.Object, _ string) error {
		if obj != nil && aws.ToString(obj.Key) == marker {
			return nil
		}
		found = true
		return errStopListing
	})
	if errors.Is(err, errStopListing) {
		err = nil
	}
	return found, err
}

// stat resolves p to a file, an explicit directory or an implicit one.
func (fs *Fs) stat(ctx context.Context, p string) (*fileInfo, error) {
	if p == "/" {
		return &fileInfo{name: "/", mode: os.ModeDir | defaultDirMode}, nil
	}

	out, err := fs.head(ctx, fs.fileKey(p))
	if err == nil {
		return infoFromMetadata(p, aws.ToInt64(out.ContentLength), out.LastModified, out.Metadata, false), nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	out, err = fs.head(ctx, fs.dirKey(p))
	if err == nil {
		return infoFromMetadata(p, 0, out.LastModified, out.Metadata, true), nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	implicit, err := fs.hasChildren(ctx, p)
	if err != nil {
		return nil, err
	}
	if implicit {
		return &fileInfo{name: path.Base(p), mode: os.ModeDir | defaultDirMode}, nil
	}
	return nil, os.ErrNotExist
}

// parentDir fails unless the parent of p is an existing directory.
func (fs *Fs) parentDir(ctx context.Context, op, p string) error {
	parent, err := fs.stat(ctx, path.Dir(p))
	if err != nil {
		return pathError(op, p, err)
	}
	if !parent.IsDir() {
		return pathError(op, p, syscall.ENOTDIR)
	}
	return nil
}

// ============================================================================
// afero.Fs
// ============================================================================

// Stat returns the FileInfo of name.
func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	ctx, cancel := fs.requestContext()
	defer cancel()

	info, err := fs.stat(ctx, clean(name))
	if err != nil {
		return nil, pathError("stat", name, err)
	}
	return info, nil
}

// Create creates or truncates name.
func (fs *Fs) Create(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, defaultFileMode)
}

// Open opens name for reading.
func (fs *Fs) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile opens name with the os.OpenFile flag semantics. New files are
// stored immediately so that they are visible to Stat before any write.
func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	ctx, cancel := fs.requestContext()
	defer cancel()

	p := clean(name)
	writing := flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_TRUNC) != 0

	info, err := fs.stat(ctx, p)
	switch {
	case err == nil && flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0:
		return nil, pathError("open", name, os.ErrExist)
	case err == nil && info.IsDir():
		if writing {
			return nil, pathError("open", name, syscall.EISDIR)
		}
		return &File{fs: fs, path: p, info: info, flag: flag}, nil
	case err == nil:
		f := &File{fs: fs, path: p, info: info, flag: flag}
		if flag&os.O_TRUNC != 0 && info.size > 0 {
			if err := f.Truncate(0); err != nil {
				return nil, err
			}
		}
		return f, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, pathError("open", name, err)
	case flag&os.O_CREATE == 0:
		return nil, pathError("open", name, os.ErrNotExist)
	}

	if err := fs.parentDir(ctx, "open", p); err != nil {
		return nil, err
	}
	now := time.Now()
	if err := fs.put(ctx, fs.fileKey(p), nil, metadata(perm, now), ""); err != nil {
		return nil, pathError("open", name, err)
	}
	info = &fileInfo{name: path.Base(p), mode: perm.Perm(), modTime: now}
	return &File{fs: fs, path: p, info: info, flag: flag}, nil
}

// Mkdir creates the marker of directory name.
func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	ctx, cancel := fs.requestContext()
	defer cancel()

	p := clean(name)
	if p == "/" {
		return pathError("mkdir", name, os.ErrExist)
	}
	if _, err := fs.stat(ctx, p); err == nil {
		return pathError("mkdir", name, os.ErrExist)
	} else if !errors.Is(err, os.ErrNotExist) {
		return pathError("mkdir", name, err)
	}
	if err := fs.parentDir(ctx, "mkdir", p); err != nil {
		return err
	}
	if err := fs.put(ctx, fs.dirKey(p), nil, metadata(perm, time.Now()), directoryContentType); err != nil {
		return pathError("mkdir", name, err)
	}
	return nil
}

// MkdirAll creates name and every missing parent.
func (fs *Fs) MkdirAll(name string, perm os.FileMode) error {
	ctx, cancel := fs.requestContext()
	defer cancel()

	p := clean(name)
	if p == "/" {
		return nil
	}

	current := "/"
	for _, component := range strings.Split(strings.TrimPrefix(p, "/"), "/") {
		current = path.Join(current, component)
		info, err := fs.stat(ctx, current)
		switch {
		case err == nil && info.IsDir():
			continue
		case err == nil:
			return pathError("mkdir", current, syscall.ENOTDIR)
		case !errors.Is(err, os.ErrNotExist):
			return pathError("mkdir", current, err)
		}
		if err := fs.put(ctx, fs.dirKey(current), nil, metadata(perm, time.Now()), directoryContentType); err != nil {
			return pathError("mkdir", current, err)
		}
	}
	return nil
}

// Remove removes a file or an empty directory.
func (fs *Fs) Remove(name string) error {
	ctx, cancel := fs.requestContext()
	defer cancel()

	p := clean(name)
	if p == "/" {
		return pathError("remove", name, syscall.EBUSY)
	}
	info, err := fs.stat(ctx, p)
	if err != nil {
		return pathError("remove", name, err)
	}

	if !info.IsDir() {
		if err := fs.delete(ctx, fs.fileKey(p)); err != nil {
			return pathError("remove", name, err)
		}
		return nil
	}

	children, err := fs.hasChildren(ctx, p)
	if err != nil {
		return pathError("remove", name, err)
	}
	if children {
		return pathError("remove", name, syscall.ENOTEMPTY)
	}
	if err := fs.delete(ctx, fs.dirKey(p)); err != nil {
		return pathError("remove", name, err)
	}
	return nil
}

// RemoveAll removes name and everything below it. A missing name is not an
// error.
func (fs *Fs) RemoveAll(name string) error {
	ctx, cancel := fs.requestContext()
	defer cancel()

	p := clean(name)
	var keys []string
	err := fs.list(ctx, fs.dirKey(p), "", func(obj *types.Object, _ string) error {
		if obj != nil {
			keys = append(keys, aws.ToString(obj.Key))
		}
		return nil
	})
	if err != nil {
		return pathError("removeall", name, err)
	}
	if p != "/" {
		keys = append(keys, fs.fileKey(p))
	}

	for _, key := range keys {
		if err := fs.delete(ctx, key); err != nil && !isNotFound(err) {
			return pathError("removeall", name, err)
		}
	}
	return nil
}

// Rename moves a file or a directory tree. A file replaces an existing file
// and a directory replaces an existing empty directory.
func (fs *Fs) Rename(oldname, newname string) error {
	ctx, cancel := fs.requestContext()
	defer cancel()

	src, dst := clean(oldname), clean(newname)
	if src == dst {
		return nil
	}
	if src == "/" || dst == "/" {
		return pathError("rename", oldname, syscall.EBUSY)
	}

	srcInfo, err := fs.stat(ctx, src)
	if err != nil {
		return pathError("rename", oldname, err)
	}
	if err := fs.parentDir(ctx, "rename", dst); err != nil {
		return err
	}

	dstInfo, err := fs.stat(ctx, dst)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return pathError("rename", newname, err)
	case srcInfo.IsDir() && !dstInfo.IsDir():
		return pathError("rename", newname, syscall.ENOTDIR)
	case !srcInfo.IsDir() && dstInfo.IsDir():
		return pathError("rename", newname, syscall.EISDIR)
	case dstInfo.IsDir():
		children, err := fs.hasChildren(ctx, dst)
		if err != nil {
			return pathError("rename", newname, err)
		}
		if children {
			return pathError("rename", newname, syscall.ENOTEMPTY)
		}
	}

	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	if !srcInfo.IsDir() {
		if err := fs.move(ctx, fs.fileKey(src), fs.fileKey(dst)); err != nil {
			return pathError("rename", oldname, err)
		}
		return nil
	}

	if strings.HasPrefix(dst, src+"/") {
		return pathError("rename", newname, syscall.EINVAL)
	}
	srcPrefix, dstPrefix := fs.dirKey(src), fs.dirKey(dst)
	var keys []string
	err = fs.list(ctx, srcPrefix, "", func(obj *types.Object, _ string) error {
		if obj != nil {
			keys = append(keys, aws.ToString(obj.Key))
		}
		return nil
	})
	if err != nil {
		return pathError("rename", oldname, err)
	}
	for _, key := range keys {
		if err := fs.move(ctx, key, dstPrefix+strings.TrimPrefix(key, srcPrefix)); err != nil {
			return pathError("rename", oldname, err)
		}
	}
	return nil
}

// move copies src to dst and deletes src.
func (fs *Fs) move(ctx context.Context, src, dst string) error {
	if err := fs.copyObject(ctx, src, dst, nil); err != nil {
		return err
	}
	return fs.delete(ctx, src)
}

// Chmod replaces the permission bits of name.
func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	return fs.updateMetadata("chmod", name, func(info *fileInfo) {
		info.mode = info.mode&os.ModeType | mode.Perm()
	})
}

// Chown checks that name exists. Ownership is not stored.
func (fs *Fs) Chown(name string, _, _ int) error {
	_, err := fs.Stat(name)
	return err
}

// Chtimes sets the modification time of name. Access times are not stored.
func (fs *Fs) Chtimes(name string, _ time.Time, mtime time.Time) error {
	return fs.updateMetadata("chtimes", name, func(info *fileInfo) {
		info.modTime = mtime
	})
}

// updateMetadata rewrites the metadata of name in place. Implicit
// directories get a marker carrying the new metadata.
func (fs *Fs) updateMetadata(op, name string, update func(*fileInfo)) error {
	ctx, cancel := fs.requestContext()
	defer cancel()

	p := clean(name)
	if p == "/" {
		return nil
	}

	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	info, err := fs.stat(ctx, p)
	if err != nil {
		return pathError(op, name, err)
	}
	update(info)
	meta := metadata(info.mode, info.modTime)

	if !info.IsDir() {
		err = fs.copyObject(ctx, fs.fileKey(p), fs.fileKey(p), meta)
	} else {
		err = fs.put(ctx, fs.dirKey(p), nil, meta, directoryContentType)
	}
	if err != nil {
		return pathError(op, name, err)
	}
	return nil
}

// ============================================================================
// FileInfo
// ============================================================================

type fileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (i *fileInfo) Name() string       { return i.name }
func (i *fileInfo) Size() int64        { return i.size }
func (i *fileInfo) Mode() os.FileMode  { return i.mode }
func (i *fileInfo) ModTime() time.Time { return i.modTime }
func (i *fileInfo) IsDir() bool        { return i.mode.IsDir() }
func (i *fileInfo) Sys() any           { return nil }
