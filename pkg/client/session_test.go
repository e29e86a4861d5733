package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dnfs/pkg/mount"
	"github.com/marmos91/dnfs/pkg/nfs3"
	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/marmos91/dnfs/pkg/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// mockCaller is an rpc.Caller whose replies are scripted per procedure.
type mockCaller struct {
	mock.Mock
}

func (m *mockCaller) Call(_ context.Context, proc uint32, args xdr.Encoder, res xdr.Decoder) error {
	return m.Called(proc, args, res).Error(0)
}

// fakeMount serves a fixed export table.
type fakeMount struct {
	exports []mount.Export
	handles map[string][]byte

	mu      sync.Mutex
	mounted []string
}

func (f *fakeMount) Exports(context.Context) ([]mount.Export, error) {
	return f.exports, nil
}

func (f *fakeMount) Mount(_ context.Context, _ *rpc.AuthContext, path string) ([]byte, []uint32, error) {
	h, ok := f.handles[path]
	if !ok {
		return nil, nil, &mount.Error{Status: mount.ErrNoEnt, Path: path}
	}
	f.mu.Lock()
	f.mounted = append(f.mounted, path)
	f.mu.Unlock()
	return h, []uint32{uint32(rpc.AuthUnix)}, nil
}

var rootHandle = nfs3.FileHandle("root")

func dirAttributes(fileID uint64) *nfs3.FileAttributes {
	return &nfs3.FileAttributes{Type: nfs3.FileTypeDirectory, Mode: 0o755, Nlink: 2, FileID: fileID}
}

func fileAttributes(fileID, size uint64) *nfs3.FileAttributes {
	return &nfs3.FileAttributes{Type: nfs3.FileTypeRegular, Mode: 0o644, Nlink: 1, FileID: fileID, Size: size}
}

func expectFsInfo(m *mockCaller, info nfs3.FSInfo) {
	m.On("Call", nfs3.ProcFsInfo, mock.Anything, mock.Anything).Run(func(a mock.Arguments) {
		res := a.Get(2).(*nfs3.FsInfoResult)
		res.Status = nfs3.OK
		res.ObjAttributes = dirAttributes(1)
		res.Info = info
	}).Return(nil).Once()
}

func newTestSession(t *testing.T, info nfs3.FSInfo, opts ...Option) (*Session, *mockCaller) {
	t.Helper()
	mounts := &fakeMount{
		exports: []mount.Export{{Dir: "/export"}},
		handles: map[string][]byte{"/export": rootHandle},
	}
	nfs := &mockCaller{}
	expectFsInfo(nfs, info)

	s, err := New(context.Background(), &rpc.LocalCaller{Program: mount.NewProgram(mounts)}, nfs, "/export", opts...)
	require.NoError(t, err)
	return s, nfs
}

func defaultInfo() nfs3.FSInfo {
	return nfs3.FSInfo{RtMax: 64 << 10, WtMax: 64 << 10, DtPref: 4096}
}

// ============================================================================
// Bootstrap Tests
// ============================================================================

func TestSessionAttach(t *testing.T) {
	ctx := context.Background()

	t.Run("CachesRootAttributesFromFsInfo", func(t *testing.T) {
		s, nfs := newTestSession(t, defaultInfo())

		assert.Equal(t, rootHandle, s.Root())
		assert.Equal(t, uint32(64<<10), s.FsInfo().WtMax)

		attr, err := s.GetAttributes(ctx, s.Root())
		require.NoError(t, err)
		assert.Equal(t, uint64(1), attr.FileID)
		nfs.AssertExpectations(t)
	})

	t.Run("MountsMostSpecificExport", func(t *testing.T) {
		mounts := &fakeMount{
			exports: []mount.Export{{Dir: "/a"}, {Dir: "/a/b"}},
			handles: map[string][]byte{"/a": []byte("a"), "/a/b": []byte("ab")},
		}
		nfs := &mockCaller{}
		expectFsInfo(nfs, defaultInfo())
		nfs.On("Call", nfs3.ProcLookup, mock.Anything, mock.Anything).Run(func(a mock.Arguments) {
			args := a.Get(1).(*nfs3.DirOpArgs)
			assert.Equal(t, nfs3.FileHandle("ab"), args.Dir)
			assert.Equal(t, "c", args.Name)

			res := a.Get(2).(*nfs3.LookupResult)
			res.Status = nfs3.OK
			res.Object = nfs3.FileHandle("abc")
		}).Return(nil).Once()

		s, err := New(ctx, &rpc.LocalCaller{Program: mount.NewProgram(mounts)}, nfs, "/a/b/c")
		require.NoError(t, err)

		assert.Equal(t, []string{"/a/b"}, mounts.mounted)
		assert.Equal(t, "/a/b", s.Export().Dir)
		assert.Equal(t, nfs3.FileHandle("abc"), s.Root())
		nfs.AssertExpectations(t)
	})

	t.Run("FailsWithoutMatchingExport", func(t *testing.T) {
		mounts := &fakeMount{exports: []mount.Export{{Dir: "/data"}}}

		_, err := New(ctx, &rpc.LocalCaller{Program: mount.NewProgram(mounts)}, &mockCaller{}, "/other")
		assert.ErrorIs(t, err, &mount.Error{Status: mount.ErrNoEnt})
	})
}

// ============================================================================
// Attribute and Error Mapping Tests
// ============================================================================

func TestSessionErrorMapping(t *testing.T) {
	ctx := context.Background()

	t.Run("GetAttributesRaisesStale", func(t *testing.T) {
		s, nfs := newTestSession(t, defaultInfo())
		nfs.On("Call", nfs3.ProcGetAttr, mock.Anything, mock.Anything).Run(func(a mock.Arguments) {
			a.Get(2).(*nfs3.GetAttrResult).Status = nfs3.ErrStale
		}).Return(nil).Once()

		attr, err := s.GetAttributes(ctx, nfs3.FileHandle("gone"))
		assert.Nil(t, attr)

		var nfsErr *nfs3.Error
		require.ErrorAs(t, err, &nfsErr)
		assert.Equal(t, nfs3.ErrStale, nfsErr.Status)
		assert.ErrorIs(t, err, &nfs3.Error{Status: nfs3.ErrStale})
	})

	t.Run("GetAttributesCachesResult", func(t *testing.T) {
		s, nfs := newTestSession(t, defaultInfo())
		nfs.On("Call", nfs3.ProcGetAttr, mock.Anything, mock.Anything).Run(func(a mock.Arguments) {
			res := a.Get(2).(*nfs3.GetAttrResult)
			res.Status = nfs3.OK
			res.Attributes = *fileAttributes(9, 100)
		}).Return(nil).Once()

		for i := 0; i < 3; i++ {
			attr, err := s.GetAttributes(ctx, nfs3.FileHandle("file"))
			require.NoError(t, err)
			assert.Equal(t, uint64(100), attr.Size)
		}
		nfs.AssertExpectations(t)
	})

	t.Run("LookupReturnsNilForMissingEntry", func(t *testing.T) {
		s, nfs := newTestSession(t, defaultInfo())
		nfs.On("Call", nfs3.ProcLookup, mock.Anything, mock.Anything).Run(func(a mock.Arguments) {
			res := a.Get(2).(*nfs3.LookupResult)
			res.Status = nfs3.ErrNoEnt
			res.DirAttributes = dirAttributes(77)
		}).Return(nil).Once()

		h, err := s.Lookup(ctx, nfs3.FileHandle("dir"), "missing")
		require.NoError(t, err)
		assert.Nil(t, h)

		attr, err := s.GetAttributes(ctx, nfs3.FileHandle("dir"))
		require.NoError(t, err)
		assert.Equal(t, uint64(77), attr.FileID, "parent attributes cached from the failed lookup")
	})

	t.Run("LookupRaisesOtherStatuses", func(t *testing.T) {
		s, nfs := newTestSession(t, defaultInfo())
		nfs.On("Call", nfs3.ProcLookup, mock.Anything, mock.Anything).Run(func(a mock.Arguments) {
			a.Get(2).(*nfs3.LookupResult).Status = nfs3.ErrNotDir
		}).Return(nil).Once()

		_, err := s.Lookup(ctx, nfs3.FileHandle("file"), "x")
		assert.ErrorIs(t, err, &nfs3.Error{Status: nfs3.ErrNotDir})
	})

	t.Run("SetAttributesCachesAfterEvenOnFailure", func(t *testing.T) {
		s, nfs := newTestSession(t, defaultInfo())
		nfs.On("Call", nfs3.ProcSetAttr, mock.Anything, mock.Anything).Run(func(a mock.Arguments) {
			res := a.Get(2).(*nfs3.WccResult)
			res.Status = nfs3.ErrPerm
			res.Wcc.After = fileAttributes(5, 42)
		}).Return(nil).Once()

		mode := uint32(0o600)
		err := s.SetAttributes(ctx, nfs3.FileHandle("file"), nfs3.SetAttributes{Mode: &mode})
		assert.ErrorIs(t, err, &nfs3.Error{Status: nfs3.ErrPerm})

		attr, err := s.GetAttributes(ctx, nfs3.FileHandle("file"))
		require.NoError(t, err)
		assert.Equal(t, uint64(42), attr.Size)
	})

	t.Run("PassesTransportErrors", func(t *testing.T) {
		s, nfs := newTestSession(t, defaultInfo())
		broken := errors.New("connection reset")
		nfs.On("Call", nfs3.ProcAccess, mock.Anything, mock.Anything).Return(broken).Once()

		_, err := s.Access(ctx, nfs3.FileHandle("file"), nfs3.AccessRead)
		assert.ErrorIs(t, err, broken)
	})
}

// ============================================================================
// Read/Write Chunking Tests
// ============================================================================

func TestFileChunking(t *testing.T) {
	ctx := context.Background()
	fileHandle := nfs3.FileHandle("file")

	t.Run("WriteSplitsAtMaxWriteSize", func(t *testing.T) {
		const total = 10 << 20
		const chunk = 64 << 10

		s, nfs := newTestSession(t, nfs3.FSInfo{RtMax: chunk, WtMax: chunk, DtPref: 4096})
		nfs.On("Call", nfs3.ProcGetAttr, mock.Anything, mock.Anything).Run(func(a mock.Arguments) {
			res := a.Get(2).(*nfs3.GetAttrResult)
			res.Status = nfs3.OK
			res.Attributes = *fileAttributes(3, 0)
		}).Return(nil).Once()

		var offsets []uint64
		nfs.On("Call", nfs3.ProcWrite, mock.Anything, mock.Anything).Run(func(a mock.Arguments) {
			args := a.Get(1).(*nfs3.WriteArgs)
			offsets = append(offsets, args.Offset)
			assert.LessOrEqual(t, len(args.Data), chunk)

			res := a.Get(2).(*nfs3.WriteResult)
			res.Status = nfs3.OK
			res.Count = args.Count
			res.Committed = nfs3.FileSync
			res.FileWcc.After = fileAttributes(3, args.Offset+uint64(args.Count))
		}).Return(nil).Times(total / chunk)

		f, err := s.OpenFile(ctx, fileHandle)
		require.NoError(t, err)

		n, err := f.Write(make([]byte, total))
		require.NoError(t, err)
		assert.Equal(t, total, n)
		assert.Equal(t, int64(total), f.Length())

		require.Len(t, offsets, 160)
		for i, off := range offsets {
			assert.Equal(t, uint64(i*chunk), off)
		}

		attr, err := s.GetAttributes(ctx, fileHandle)
		require.NoError(t, err)
		assert.Equal(t, uint64(total), attr.Size)
		nfs.AssertExpectations(t)
	})

	t.Run("WriteRejectsOverAcknowledgement", func(t *testing.T) {
		s, nfs := newTestSession(t, nfs3.FSInfo{RtMax: 4, WtMax: 4, DtPref: 4096})
		nfs.On("Call", nfs3.ProcWrite, mock.Anything, mock.Anything).Run(func(a mock.Arguments) {
			args := a.Get(1).(*nfs3.WriteArgs)
			res := a.Get(2).(*nfs3.WriteResult)
			res.Status = nfs3.OK
			res.Count = args.Count + 4
			res.Committed = nfs3.FileSync
		}).Return(nil).Once()

		n, err := s.Write(ctx, fileHandle, 0, []byte("01234567"))
		assert.ErrorIs(t, err, &nfs3.Error{Status: nfs3.ErrIO})
		assert.Zero(t, n)
		nfs.AssertExpectations(t)
	})

	t.Run("ReadAtSplitsAtMaxReadSize", func(t *testing.T) {
		content := []byte("0123456789")
		s, nfs := newTestSession(t, nfs3.FSInfo{RtMax: 4, WtMax: 4, DtPref: 4096})
		nfs.On("Call", nfs3.ProcGetAttr, mock.Anything, mock.Anything).Run(func(a mock.Arguments) {
			res := a.Get(2).(*nfs3.GetAttrResult)
			res.Status = nfs3.OK
			res.Attributes = *fileAttributes(3, uint64(len(content)))
		}).Return(nil).Once()

		var counts []uint32
		nfs.On("Call", nfs3.ProcRead, mock.Anything, mock.Anything).Run(func(a mock.Arguments) {
			args := a.Get(1).(*nfs3.ReadArgs)
			counts = append(counts, args.Count)

			end := min(int(args.Offset)+int(args.Count), len(content))
			res := a.Get(2).(*nfs3.ReadResult)
			res.Status = nfs3.OK
			res.Data = content[args.Offset:end]
			res.Count = uint32(len(res.Data))
			res.EOF = end == len(content)
		}).Return(nil)

		f, err := s.OpenFile(ctx, fileHandle)
		require.NoError(t, err)

		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, content, data)
		assert.Equal(t, []uint32{4, 4, 4}, counts[:3])
	})

	t.Run("OpenFileRejectsDirectory", func(t *testing.T) {
		s, _ := newTestSession(t, defaultInfo())

		_, err := s.OpenFile(ctx, rootHandle)
		assert.ErrorIs(t, err, &nfs3.Error{Status: nfs3.ErrInval})
	})
}

// ============================================================================
// Directory Enumeration Tests
// ============================================================================

func TestReadDirectory(t *testing.T) {
	ctx := context.Background()
	dir := nfs3.FileHandle("dir")
	verifier := nfs3.Verifier{'v', '1'}

	firstPage := func(m *mockCaller) {
		m.On("Call", nfs3.ProcReadDirPlus, mock.MatchedBy(func(args *nfs3.ReadDirPlusArgs) bool {
			return args.Cookie == 0
		}), mock.Anything).Run(func(a mock.Arguments) {
			args := a.Get(1).(*nfs3.ReadDirPlusArgs)
			assert.Equal(t, uint32(4096), args.DirCount)
			assert.Equal(t, uint32(64<<10), args.MaxCount)

			res := a.Get(2).(*nfs3.ReadDirPlusResult)
			res.Status = nfs3.OK
			res.CookieVerf = verifier
			for i, name := range []string{"a", "b", "c"} {
				res.Entries = append(res.Entries, nfs3.DirPlusEntry{
					FileID:     uint64(10 + i),
					Name:       name,
					Cookie:     uint64(i + 1),
					Handle:     nfs3.FileHandle(name),
					Attributes: fileAttributes(uint64(10+i), 1),
				})
			}
		}).Return(nil).Once()
	}

	secondPage := func(m *mockCaller, status nfs3.Status) {
		m.On("Call", nfs3.ProcReadDirPlus, mock.MatchedBy(func(args *nfs3.ReadDirPlusArgs) bool {
			return args.Cookie == 3 && args.CookieVerf == verifier
		}), mock.Anything).Run(func(a mock.Arguments) {
			res := a.Get(2).(*nfs3.ReadDirPlusResult)
			res.Status = status
			if status == nfs3.OK {
				res.Entries = []nfs3.DirPlusEntry{{FileID: 20, Name: "d", Cookie: 4}}
				res.EOF = true
			}
		}).Return(nil).Once()
	}

	names := func(entries []nfs3.DirPlusEntry) []string {
		var out []string
		for _, e := range entries {
			out = append(out, e.Name)
		}
		return out
	}

	t.Run("FollowsCookiesToEOF", func(t *testing.T) {
		s, nfs := newTestSession(t, defaultInfo())
		firstPage(nfs)
		secondPage(nfs, nfs3.OK)

		entries, err := s.ListDirectory(ctx, dir, false)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, names(entries))
		nfs.AssertExpectations(t)

		attr, err := s.GetAttributes(ctx, nfs3.FileHandle("b"))
		require.NoError(t, err)
		assert.Equal(t, uint64(11), attr.FileID)
	})

	t.Run("SilentFailStopsOnAccessDenied", func(t *testing.T) {
		s, nfs := newTestSession(t, defaultInfo())
		firstPage(nfs)
		secondPage(nfs, nfs3.ErrAccess)

		entries, err := s.ListDirectory(ctx, dir, true)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, names(entries))
		nfs.AssertExpectations(t)
	})

	t.Run("AccessDeniedRaisesWithoutSilentFail", func(t *testing.T) {
		s, nfs := newTestSession(t, defaultInfo())
		firstPage(nfs)
		secondPage(nfs, nfs3.ErrAccess)

		entries, err := s.ListDirectory(ctx, dir, false)
		assert.ErrorIs(t, err, &nfs3.Error{Status: nfs3.ErrAccess})
		assert.Equal(t, []string{"a", "b", "c"}, names(entries))
	})

	t.Run("StopsWhenConsumerBreaks", func(t *testing.T) {
		s, nfs := newTestSession(t, defaultInfo())
		firstPage(nfs)

		for entry, err := range s.ReadDirectory(ctx, dir, false) {
			require.NoError(t, err)
			assert.Equal(t, "a", entry.Name)
			break
		}
		nfs.AssertExpectations(t)
	})
}

// ============================================================================
// FsStat Cache Tests
// ============================================================================

func TestFsStatCache(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, invarsec uint32) (*Session, *mockCaller, *time.Time) {
		now := time.Unix(1700000000, 0)
		s, nfs := newTestSession(t, defaultInfo(), WithClock(func() time.Time { return now }))
		nfs.On("Call", nfs3.ProcFsStat, mock.Anything, mock.Anything).Run(func(a mock.Arguments) {
			res := a.Get(2).(*nfs3.FsStatResult)
			res.Status = nfs3.OK
			res.Stat = nfs3.FSStat{TotalBytes: 1 << 30, FreeBytes: 1 << 29, Invarsec: invarsec}
		}).Return(nil)
		return s, nfs, &now
	}

	t.Run("ReusesReplyForOneSecond", func(t *testing.T) {
		s, nfs, now := setup(t, 0)

		_, err := s.FsStat(ctx, rootHandle)
		require.NoError(t, err)

		*now = now.Add(500 * time.Millisecond)
		stat, err := s.FsStat(ctx, rootHandle)
		require.NoError(t, err)
		assert.Equal(t, uint64(1<<30), stat.TotalBytes)
		nfs.AssertNumberOfCalls(t, "Call", 2) // FSINFO + one FSSTAT

		*now = now.Add(2 * time.Second)
		_, err = s.FsStat(ctx, rootHandle)
		require.NoError(t, err)
		nfs.AssertNumberOfCalls(t, "Call", 3)
	})

	t.Run("HonoursInvariantPeriod", func(t *testing.T) {
		s, nfs, now := setup(t, 30)

		_, err := s.FsStat(ctx, rootHandle)
		require.NoError(t, err)

		*now = now.Add(20 * time.Second)
		_, err = s.FsStat(ctx, rootHandle)
		require.NoError(t, err)
		nfs.AssertNumberOfCalls(t, "Call", 2)

		*now = now.Add(20 * time.Second)
		_, err = s.FsStat(ctx, rootHandle)
		require.NoError(t, err)
		nfs.AssertNumberOfCalls(t, "Call", 3)
	})

	t.Run("NeverExpiresForMaxInvarsec", func(t *testing.T) {
		s, nfs, now := setup(t, ^uint32(0))

		_, err := s.FsStat(ctx, rootHandle)
		require.NoError(t, err)

		*now = now.Add(1000 * time.Hour)
		_, err = s.FsStat(ctx, rootHandle)
		require.NoError(t, err)
		nfs.AssertNumberOfCalls(t, "Call", 2)
	})
}
