package s3fs

import (
	"context"
	"io"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/marmos91/dnfs/pkg/client"
	"github.com/marmos91/dnfs/pkg/fileserver"
	"github.com/marmos91/dnfs/pkg/fileserver/handles"
	"github.com/marmos91/dnfs/pkg/mount"
	"github.com/marmos91/dnfs/pkg/nfs3"
	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func newTestFs(t *testing.T, prefix string) (*Fs, *memoryBucket) {
	t.Helper()
	bucket := newMemoryBucket("exports")
	fs, err := New(context.Background(), Config{Client: bucket, Bucket: "exports", KeyPrefix: prefix})
	require.NoError(t, err)
	return fs, bucket
}

// ============================================================================
// Construction Tests
// ============================================================================

func TestNew(t *testing.T) {
	ctx := context.Background()

	t.Run("RequiresClient", func(t *testing.T) {
		_, err := New(ctx, Config{Bucket: "exports"})
		assert.Error(t, err)
	})

	t.Run("RequiresBucket", func(t *testing.T) {
		_, err := New(ctx, Config{Client: newMemoryBucket("exports")})
		assert.Error(t, err)
	})

	t.Run("ChecksBucketAccess", func(t *testing.T) {
		bucket := newMemoryBucket("exports")
		_, err := New(ctx, Config{Client: bucket, Bucket: "missing"})
		assert.Error(t, err)
		assert.Equal(t, 1, bucket.count("HeadBucket"))
	})

	t.Run("CancelledContext", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := New(cancelled, Config{Client: newMemoryBucket("exports"), Bucket: "exports"})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("KeyPrefixGetsSeparator", func(t *testing.T) {
		fs, bucket := newTestFs(t, "nfs")
		require.NoError(t, afero.WriteFile(fs, "/a.txt", []byte("a"), 0o644))
		assert.Equal(t, []string{"nfs/a.txt"}, bucket.keys())
	})
}

// ============================================================================
// File Tests
// ============================================================================

func TestFiles(t *testing.T) {
	t.Run("WriteAndReadBack", func(t *testing.T) {
		fs, bucket := newTestFs(t, "")
		require.NoError(t, afero.WriteFile(fs, "/hello.txt", []byte("hello world"), 0o600))

		data, err := afero.ReadFile(fs, "/hello.txt")
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))

		info, err := fs.Stat("/hello.txt")
		require.NoError(t, err)
		assert.False(t, info.IsDir())
		assert.Equal(t, int64(11), info.Size())
		assert.Equal(t, os.FileMode(0o600), info.Mode())

		obj, ok := bucket.object("hello.txt")
		require.True(t, ok)
		assert.Equal(t, "600", obj.meta["mode"])
	})

	t.Run("CreateIsVisibleBeforeWrite", func(t *testing.T) {
		fs, _ := newTestFs(t, "")
		f, err := fs.OpenFile("/empty", os.O_RDWR|os.O_CREATE, 0o644)
		require.NoError(t, err)
		defer f.Close()

		info, err := fs.Stat("/empty")
		require.NoError(t, err)
		assert.Equal(t, int64(0), info.Size())
	})

	t.Run("WriteAtPastEndZeroFills", func(t *testing.T) {
		fs, _ := newTestFs(t, "")
		require.NoError(t, afero.WriteFile(fs, "/f", []byte("ab"), 0o644))

		f, err := fs.OpenFile("/f", os.O_WRONLY, 0)
		require.NoError(t, err)
		n, err := f.WriteAt([]byte("xy"), 4)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		require.NoError(t, f.Close())

		data, err := afero.ReadFile(fs, "/f")
		require.NoError(t, err)
		assert.Equal(t, []byte("ab\x00\x00xy"), data)
	})

	t.Run("ReadAtUsesRange", func(t *testing.T) {
		fs, bucket := newTestFs(t, "")
		bucket.seed("f", "0123456789")

		f, err := fs.Open("/f")
		require.NoError(t, err)
		defer f.Close()

		buf := make([]byte, 4)
		n, err := f.ReadAt(buf, 3)
		require.NoError(t, err)
		assert.Equal(t, "3456", string(buf[:n]))

		n, err = f.ReadAt(buf, 8)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, "89", string(buf[:n]))

		_, err = f.ReadAt(buf, 10)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, 2, bucket.count("GetObject"))
	})

	t.Run("TruncateShrinksAndExtends", func(t *testing.T) {
		fs, _ := newTestFs(t, "")
		require.NoError(t, afero.WriteFile(fs, "/f", []byte("hello"), 0o644))

		f, err := fs.OpenFile("/f", os.O_RDWR, 0)
		require.NoError(t, err)
		require.NoError(t, f.Truncate(2))
		require.NoError(t, f.Truncate(4))
		require.NoError(t, f.Close())

		data, err := afero.ReadFile(fs, "/f")
		require.NoError(t, err)
		assert.Equal(t, []byte("he\x00\x00"), data)
	})

	t.Run("AppendWritesAtEnd", func(t *testing.T) {
		fs, _ := newTestFs(t, "")
		require.NoError(t, afero.WriteFile(fs, "/log", []byte("one\n"), 0o644))

		f, err := fs.OpenFile("/log", os.O_WRONLY|os.O_APPEND, 0)
		require.NoError(t, err)
		_, err = f.WriteString("two\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		data, err := afero.ReadFile(fs, "/log")
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\n", string(data))
	})

	t.Run("OpenErrors", func(t *testing.T) {
		fs, _ := newTestFs(t, "")
		require.NoError(t, afero.WriteFile(fs, "/f", nil, 0o644))

		_, err := fs.Open("/missing")
		assert.ErrorIs(t, err, os.ErrNotExist)

		_, err = fs.OpenFile("/f", os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
		assert.ErrorIs(t, err, os.ErrExist)

		_, err = fs.OpenFile("/nodir/f", os.O_RDWR|os.O_CREATE, 0o644)
		assert.ErrorIs(t, err, os.ErrNotExist)

		_, err = fs.OpenFile("/f/child", os.O_RDWR|os.O_CREATE, 0o644)
		assert.ErrorIs(t, err, syscall.ENOTDIR)

		f, err := fs.Open("/f")
		require.NoError(t, err)
		_, err = f.Write([]byte("x"))
		assert.ErrorIs(t, err, syscall.EBADF)
		require.NoError(t, f.Close())
		assert.ErrorIs(t, f.Close(), os.ErrClosed)
	})

	t.Run("ForeignObjectsGetDefaults", func(t *testing.T) {
		fs, bucket := newTestFs(t, "")
		bucket.seed("uploaded.bin", "raw")

		info, err := fs.Stat("/uploaded.bin")
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o644), info.Mode())
		assert.Equal(t, int64(3), info.Size())
		assert.False(t, info.ModTime().IsZero())
	})
}

// ============================================================================
// Directory Tests
// ============================================================================

func TestDirectories(t *testing.T) {
	t.Run("MkdirWritesMarker", func(t *testing.T) {
		fs, bucket := newTestFs(t, "")
		require.NoError(t, fs.Mkdir("/docs", 0o750))

		obj, ok := bucket.object("docs/")
		require.True(t, ok)
		assert.Equal(t, "application/x-directory", obj.contentType)

		info, err := fs.Stat("/docs")
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0o750), info.Mode().Perm())

		assert.ErrorIs(t, fs.Mkdir("/docs", 0o755), os.ErrExist)
		assert.ErrorIs(t, fs.Mkdir("/a/b", 0o755), os.ErrNotExist)
	})

	t.Run("MkdirAllCreatesParents", func(t *testing.T) {
		fs, bucket := newTestFs(t, "")
		require.NoError(t, fs.MkdirAll("/a/b/c", 0o755))
		require.NoError(t, fs.MkdirAll("/a/b/c", 0o755))
		assert.Equal(t, []string{"a/", "a/b/", "a/b/c/"}, bucket.keys())

		require.NoError(t, afero.WriteFile(fs, "/a/file", nil, 0o644))
		assert.ErrorIs(t, fs.MkdirAll("/a/file/x", 0o755), syscall.ENOTDIR)
	})

	t.Run("ImplicitDirectories", func(t *testing.T) {
		fs, bucket := newTestFs(t, "")
		bucket.seed("photos/2024/beach.jpg", "jpg")

		info, err := fs.Stat("/photos/2024")
		require.NoError(t, err)
		assert.True(t, info.IsDir())

		names, err := afero.ReadDir(fs, "/photos")
		require.NoError(t, err)
		require.Len(t, names, 1)
		assert.Equal(t, "2024", names[0].Name())
		assert.True(t, names[0].IsDir())
	})

	t.Run("ReadDirListsChildrenOnly", func(t *testing.T) {
		fs, bucket := newTestFs(t, "")
		bucket.pageSize = 2
		require.NoError(t, fs.MkdirAll("/d/sub", 0o755))
		for _, name := range []string{"c", "a", "b"} {
			require.NoError(t, afero.WriteFile(fs, "/d/"+name, []byte(name), 0o644))
		}
		require.NoError(t, afero.WriteFile(fs, "/d/sub/deep", nil, 0o644))

		infos, err := afero.ReadDir(fs, "/d")
		require.NoError(t, err)
		var names []string
		for _, info := range infos {
			names = append(names, info.Name())
		}
		assert.Equal(t, []string{"a", "b", "c", "sub"}, names)
		assert.Greater(t, bucket.count("ListObjectsV2"), 1)
	})

	t.Run("ReaddirCount", func(t *testing.T) {
		fs, _ := newTestFs(t, "")
		for _, name := range []string{"a", "b", "c"} {
			require.NoError(t, afero.WriteFile(fs, "/"+name, nil, 0o644))
		}

		f, err := fs.Open("/")
		require.NoError(t, err)
		defer f.Close()

		first, err := f.Readdirnames(2)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, first)
		rest, err := f.Readdirnames(2)
		require.NoError(t, err)
		assert.Equal(t, []string{"c"}, rest)
		_, err = f.Readdirnames(2)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("RemoveRequiresEmptyDirectory", func(t *testing.T) {
		fs, bucket := newTestFs(t, "")
		require.NoError(t, fs.MkdirAll("/d", 0o755))
		require.NoError(t, afero.WriteFile(fs, "/d/f", nil, 0o644))

		assert.ErrorIs(t, fs.Remove("/d"), syscall.ENOTEMPTY)
		require.NoError(t, fs.Remove("/d/f"))
		require.NoError(t, fs.Remove("/d"))
		assert.Empty(t, bucket.keys())
		assert.ErrorIs(t, fs.Remove("/d"), os.ErrNotExist)
	})

	t.Run("RemoveAllDeletesTree", func(t *testing.T) {
		fs, bucket := newTestFs(t, "")
		require.NoError(t, fs.MkdirAll("/t/a/b", 0o755))
		require.NoError(t, afero.WriteFile(fs, "/t/a/b/f", nil, 0o644))
		require.NoError(t, afero.WriteFile(fs, "/keep", nil, 0o644))

		require.NoError(t, fs.RemoveAll("/t"))
		require.NoError(t, fs.RemoveAll("/t"))
		assert.Equal(t, []string{"keep"}, bucket.keys())
	})
}

// ============================================================================
// Rename Tests
// ============================================================================

func TestRename(t *testing.T) {
	t.Run("MovesFile", func(t *testing.T) {
		fs, bucket := newTestFs(t, "")
		require.NoError(t, afero.WriteFile(fs, "/old name.txt", []byte("data"), 0o640))
		require.NoError(t, fs.Rename("/old name.txt", "/new.txt"))

		assert.Equal(t, []string{"new.txt"}, bucket.keys())
		info, err := fs.Stat("/new.txt")
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o640), info.Mode())
	})

	t.Run("ReplacesExistingFile", func(t *testing.T) {
		fs, _ := newTestFs(t, "")
		require.NoError(t, afero.WriteFile(fs, "/a", []byte("a"), 0o644))
		require.NoError(t, afero.WriteFile(fs, "/b", []byte("b"), 0o644))
		require.NoError(t, fs.Rename("/a", "/b"))

		data, err := afero.ReadFile(fs, "/b")
		require.NoError(t, err)
		assert.Equal(t, "a", string(data))
	})

	t.Run("MovesDirectoryTree", func(t *testing.T) {
		fs, bucket := newTestFs(t, "")
		require.NoError(t, fs.MkdirAll("/src/inner", 0o755))
		require.NoError(t, afero.WriteFile(fs, "/src/inner/f", []byte("f"), 0o644))
		require.NoError(t, fs.Rename("/src", "/dst"))

		assert.Equal(t, []string{"dst/", "dst/inner/", "dst/inner/f"}, bucket.keys())
	})

	t.Run("RejectsInvalidTargets", func(t *testing.T) {
		fs, _ := newTestFs(t, "")
		require.NoError(t, fs.MkdirAll("/d/child", 0o755))
		require.NoError(t, fs.MkdirAll("/full", 0o755))
		require.NoError(t, afero.WriteFile(fs, "/full/f", nil, 0o644))
		require.NoError(t, afero.WriteFile(fs, "/file", nil, 0o644))

		assert.ErrorIs(t, fs.Rename("/d", "/full"), syscall.ENOTEMPTY)
		assert.ErrorIs(t, fs.Rename("/d", "/file"), syscall.ENOTDIR)
		assert.ErrorIs(t, fs.Rename("/file", "/d"), syscall.EISDIR)
		assert.ErrorIs(t, fs.Rename("/d", "/d/child/x"), syscall.EINVAL)
		assert.ErrorIs(t, fs.Rename("/missing", "/x"), os.ErrNotExist)
	})
}

// ============================================================================
// Metadata Tests
// ============================================================================

func TestMetadata(t *testing.T) {
	t.Run("ChmodKeepsContent", func(t *testing.T) {
		fs, _ := newTestFs(t, "")
		require.NoError(t, afero.WriteFile(fs, "/f", []byte("content"), 0o644))
		require.NoError(t, fs.Chmod("/f", 0o600))

		info, err := fs.Stat("/f")
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode())
		data, err := afero.ReadFile(fs, "/f")
		require.NoError(t, err)
		assert.Equal(t, "content", string(data))
	})

	t.Run("ChtimesSetsModTime", func(t *testing.T) {
		fs, _ := newTestFs(t, "")
		require.NoError(t, fs.MkdirAll("/d", 0o755))
		mtime := time.Date(2020, 1, 2, 3, 4, 5, 6, time.UTC)
		require.NoError(t, fs.Chtimes("/d", time.Now(), mtime))

		info, err := fs.Stat("/d")
		require.NoError(t, err)
		assert.True(t, info.ModTime().Equal(mtime))
		assert.True(t, info.IsDir())
	})

	t.Run("WritesKeepMode", func(t *testing.T) {
		fs, _ := newTestFs(t, "")
		require.NoError(t, afero.WriteFile(fs, "/f", nil, 0o600))
		f, err := fs.OpenFile("/f", os.O_WRONLY, 0)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte("x"), 0)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		info, err := fs.Stat("/f")
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode())
	})

	t.Run("MissingFiles", func(t *testing.T) {
		fs, _ := newTestFs(t, "")
		assert.ErrorIs(t, fs.Chmod("/missing", 0o600), os.ErrNotExist)
		assert.ErrorIs(t, fs.Chown("/missing", 1, 1), os.ErrNotExist)
	})
}

// ============================================================================
// File Server Tests
// ============================================================================

func TestServesExport(t *testing.T) {
	ctx := context.Background()
	fs, bucket := newTestFs(t, "nfs/")

	srv, err := fileserver.New([]fileserver.Export{{Path: "/bucket", Fs: fs}}, handles.NewMemoryTable(), fileserver.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	auth := &rpc.AuthContext{Flavor: rpc.AuthUnix, Unix: &rpc.UnixAuth{MachineName: "test"}, ClientAddr: "127.0.0.1:700"}
	s, err := client.New(ctx,
		&rpc.LocalCaller{Program: mount.NewProgram(srv), Auth: auth},
		&rpc.LocalCaller{Program: nfs3.NewProgram(srv), Auth: auth},
		"/bucket")
	require.NoError(t, err)

	dir, err := s.MakeDirectory(ctx, s.Root(), "docs", nfs3.SetAttributes{})
	require.NoError(t, err)
	h, err := s.Create(ctx, dir, "note.txt", true, nfs3.SetAttributes{})
	require.NoError(t, err)

	f, err := s.OpenFile(ctx, h)
	require.NoError(t, err)
	_, err = f.Write([]byte("stored in s3"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())

	obj, ok := bucket.object("nfs/docs/note.txt")
	require.True(t, ok)
	assert.Equal(t, "stored in s3", string(obj.data))

	entries, err := s.ListDirectory(ctx, dir, false)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "note.txt", entries[0].Name)

	require.NoError(t, s.Rename(ctx, dir, "note.txt", s.Root(), "moved.txt"))
	moved, err := s.Lookup(ctx, s.Root(), "moved.txt")
	require.NoError(t, err)
	assert.True(t, h.Equal(moved))

	require.NoError(t, s.Remove(ctx, s.Root(), "moved.txt"))
	require.NoError(t, s.RemoveDirectory(ctx, s.Root(), "docs"))
	assert.Empty(t, bucket.keys())
}
