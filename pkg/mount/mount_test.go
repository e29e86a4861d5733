package mount

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/marmos91/dnfs/pkg/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// staticHandler serves a fixed export table; each export's handle is its
// path bytes.
type staticHandler struct {
	exports []Export
	err     error
}

func (h *staticHandler) Exports(context.Context) ([]Export, error) {
	return h.exports, h.err
}

func (h *staticHandler) Mount(_ context.Context, _ *rpc.AuthContext, path string) ([]byte, []uint32, error) {
	if h.err != nil {
		return nil, nil, h.err
	}
	for _, e := range h.exports {
		if e.Dir == path {
			return []byte(path), []uint32{rpc.AuthUnix, rpc.AuthNull}, nil
		}
	}
	return nil, nil, &Error{Status: ErrNoEnt, Path: path}
}

func newTestClient(handler Handler, clientAddr string) (*Client, *Program) {
	program := NewProgram(handler)
	caller := &rpc.LocalCaller{
		Program: program,
		Auth:    &rpc.AuthContext{Flavor: rpc.AuthNull, ClientAddr: clientAddr},
	}
	return NewClient(caller), program
}

// ============================================================================
// ResolveExport Tests
// ============================================================================

func TestResolveExport(t *testing.T) {
	exports := []Export{{Dir: "/a"}, {Dir: "/a/b"}, {Dir: "/srv/data"}}

	tests := []struct {
		name   string
		target string
		dir    string
		rest   []string
		ok     bool
	}{
		{"PrefersMostSpecificExport", "/a/b/c", "/a/b", []string{"c"}, true},
		{"ExactMatch", "/a/b", "/a/b", nil, true},
		{"ShorterExport", "/a/x/y", "/a", []string{"x", "y"}, true},
		{"RequiresComponentBoundary", "/ab", "", nil, false},
		{"CleansPath", "//srv/data/./logs/", "/srv/data", []string{"logs"}, true},
		{"NoMatch", "/other", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			export, rest, ok := ResolveExport(exports, tt.target)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.dir, export.Dir)
			assert.Equal(t, tt.rest, rest)
		})
	}

	t.Run("RootExportMatchesEverything", func(t *testing.T) {
		export, rest, ok := ResolveExport([]Export{{Dir: "/"}}, "/x/y")
		require.True(t, ok)
		assert.Equal(t, "/", export.Dir)
		assert.Equal(t, []string{"x", "y"}, rest)
	})
}

// ============================================================================
// Codec Tests
// ============================================================================

func TestExportList(t *testing.T) {
	t.Run("EncodesNestedLists", func(t *testing.T) {
		list := ExportList{{Dir: "/a", Groups: []string{"g"}}}

		data, err := xdr.Marshal(&list)
		require.NoError(t, err)
		assert.Equal(t, []byte{
			0, 0, 0, 1, // export follows
			0, 0, 0, 2, '/', 'a', 0, 0,
			0, 0, 0, 1, // group follows
			0, 0, 0, 1, 'g', 0, 0, 0,
			0, 0, 0, 0, // end of groups
			0, 0, 0, 0, // end of exports
		}, data)

		var decoded ExportList
		require.NoError(t, xdr.Unmarshal(data, &decoded))
		assert.Equal(t, list, decoded)
	})

	t.Run("RejectsOverlongPath", func(t *testing.T) {
		data := []byte{0, 0, 0, 1, 0, 0, 0x10, 0x00}

		var decoded ExportList
		err := xdr.Unmarshal(data, &decoded)
		assert.ErrorIs(t, err, xdr.ErrLengthExceeded)
	})
}

func TestResult(t *testing.T) {
	t.Run("OmitsBodyOnError", func(t *testing.T) {
		data, err := xdr.Marshal(&Result{Status: ErrAccess, Handle: []byte{1}})
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0, 0, 13}, data)
	})

	t.Run("RejectsOversizedHandle", func(t *testing.T) {
		res := &Result{Status: OK, Handle: make([]byte, MaxHandleLen+1)}
		data, err := xdr.Marshal(res)
		require.NoError(t, err)

		var decoded Result
		assert.ErrorIs(t, xdr.Unmarshal(data, &decoded), xdr.ErrLengthExceeded)
	})
}

func TestError(t *testing.T) {
	err := error(&Error{Status: ErrAccess, Path: "/secret"})

	assert.Equal(t, "mount /secret: MNT3ERR_ACCES", err.Error())
	assert.True(t, errors.Is(err, &Error{Status: ErrAccess}))
	assert.False(t, errors.Is(err, &Error{Status: ErrNoEnt}))
}

// ============================================================================
// Client/Program Tests
// ============================================================================

func TestClientProgram(t *testing.T) {
	ctx := context.Background()
	handler := &staticHandler{exports: []Export{
		{Dir: "/a", Groups: []string{"*"}},
		{Dir: "/a/b"},
	}}

	t.Run("Null", func(t *testing.T) {
		client, _ := newTestClient(handler, "10.0.0.5:900")
		require.NoError(t, client.Null(ctx))
	})

	t.Run("ListsExportsInOrder", func(t *testing.T) {
		client, _ := newTestClient(handler, "10.0.0.5:900")

		exports, err := client.Exports(ctx)
		require.NoError(t, err)
		require.Len(t, exports, 2)
		assert.Equal(t, "/a", exports[0].Dir)
		assert.Equal(t, []string{"*"}, exports[0].Groups)
		assert.Equal(t, "/a/b", exports[1].Dir)
		assert.Empty(t, exports[1].Groups)
	})

	t.Run("MountsAndTracksEntries", func(t *testing.T) {
		client, program := newTestClient(handler, "10.0.0.5:900")

		res, err := client.Mount(ctx, "/a/b")
		require.NoError(t, err)
		assert.Equal(t, []byte("/a/b"), res.Handle)
		assert.Equal(t, []uint32{rpc.AuthUnix, rpc.AuthNull}, res.AuthFlavors)

		_, err = client.Mount(ctx, "/a")
		require.NoError(t, err)

		dump, err := client.Dump(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Entry{
			{Hostname: "10.0.0.5", Directory: "/a/b"},
			{Hostname: "10.0.0.5", Directory: "/a"},
		}, dump)

		require.NoError(t, client.Unmount(ctx, "/a/b"))
		assert.Equal(t, MountList{{Hostname: "10.0.0.5", Directory: "/a"}}, program.Mounts())

		require.NoError(t, client.UnmountAll(ctx))
		assert.Empty(t, program.Mounts())
	})

	t.Run("ReturnsStatusError", func(t *testing.T) {
		client, program := newTestClient(handler, "10.0.0.5:900")

		_, err := client.Mount(ctx, "/missing")
		var mntErr *Error
		require.ErrorAs(t, err, &mntErr)
		assert.Equal(t, ErrNoEnt, mntErr.Status)
		assert.Empty(t, program.Mounts())
	})

	t.Run("MapsBackendFailureToServerFault", func(t *testing.T) {
		client, _ := newTestClient(&staticHandler{err: errors.New("disk on fire")}, "10.0.0.5:900")

		_, err := client.Mount(ctx, "/a")
		assert.ErrorIs(t, err, &Error{Status: ErrServerFault})
	})

	t.Run("MountPathPicksSpecificExport", func(t *testing.T) {
		client, _ := newTestClient(handler, "10.0.0.5:900")

		res, export, rest, err := client.MountPath(ctx, "/a/b/c")
		require.NoError(t, err)
		assert.Equal(t, "/a/b", export.Dir)
		assert.Equal(t, []string{"c"}, rest)
		assert.Equal(t, []byte("/a/b"), res.Handle)
	})

	t.Run("MountPathWithoutExport", func(t *testing.T) {
		client, _ := newTestClient(handler, "10.0.0.5:900")

		_, _, _, err := client.MountPath(ctx, "/zzz")
		assert.ErrorIs(t, err, &Error{Status: ErrNoEnt})
	})

	t.Run("UnknownProcedure", func(t *testing.T) {
		_, program := newTestClient(handler, "10.0.0.5:900")

		_, err := program.Dispatch(ctx, &rpc.Call{
			Header: &rpc.CallHeader{Procedure: 9},
			Auth:   &rpc.AuthContext{},
		})
		assert.ErrorIs(t, err, rpc.ErrProcUnavail)
	})
}
