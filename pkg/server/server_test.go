package server

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/marmos91/dnfs/pkg/client"
	"github.com/marmos91/dnfs/pkg/fileserver"
	"github.com/marmos91/dnfs/pkg/fileserver/handles"
	"github.com/marmos91/dnfs/pkg/nfs3"
	"github.com/marmos91/dnfs/pkg/portmap"
	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func newBackend(t *testing.T) (*fileserver.Server, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/hello.txt", []byte("hello world"), 0o644))

	backend, err := fileserver.New([]fileserver.Export{{Path: "/export", Fs: fsys}}, handles.NewMemoryTable(), fileserver.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend, fsys
}

// startServer serves cfg until the test ends and returns the server.
func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	backend, _ := newBackend(t)

	cfg.ListenAddress = "127.0.0.1"
	cfg.RPC.ShutdownTimeout = 2 * time.Second
	srv := New(cfg, backend, nil, nil)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv
}

func port(t *testing.T, addr net.Addr) int {
	t.Helper()
	require.NotNil(t, addr)
	return addr.(*net.TCPAddr).Port
}

func fastTransport() rpc.TransportConfig {
	return rpc.TransportConfig{RetryLimit: 2, RetryInterval: 10 * time.Millisecond, DialTimeout: time.Second}
}

// ============================================================================
// Assembly Tests
// ============================================================================

func TestServerThroughPortmap(t *testing.T) {
	srv := startServer(t, Config{EnablePortmap: true})
	ctx := context.Background()

	s, err := client.Dial(ctx, client.Config{
		Host:        "127.0.0.1",
		Path:        "/export",
		Auth:        &rpc.UnixAuth{MachineName: "test"},
		PortmapPort: port(t, srv.Addr(ServicePortmap)),
		Transport:   fastTransport(),
	})
	require.NoError(t, err)
	defer s.Close(ctx)

	t.Run("ReadsExistingFile", func(t *testing.T) {
		h, err := s.Lookup(ctx, s.Root(), "hello.txt")
		require.NoError(t, err)
		f, err := s.OpenFile(ctx, h)
		require.NoError(t, err)
		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))
	})

	t.Run("CreatesAndLists", func(t *testing.T) {
		_, err := s.MakeDirectory(ctx, s.Root(), "docs", nfs3.SetAttributes{})
		require.NoError(t, err)

		entries, err := s.ListDirectory(ctx, s.Root(), false)
		require.NoError(t, err)
		var names []string
		for _, e := range entries {
			names = append(names, e.Name)
		}
		assert.Equal(t, []string{"docs", "hello.txt"}, names)
	})

	t.Run("AdvertisesBoundPorts", func(t *testing.T) {
		pm := portmap.Connect("127.0.0.1", port(t, srv.Addr(ServicePortmap)), rpc.ClientConfig{Transport: fastTransport()})
		defer pm.Close()

		nfsPort, err := pm.GetPort(ctx, rpc.ProgramNFS, rpc.NFSVersion)
		require.NoError(t, err)
		assert.Equal(t, port(t, srv.Addr(ServiceNFS)), nfsPort)

		mountPort, err := pm.GetPort(ctx, rpc.ProgramMount, rpc.MountVersion)
		require.NoError(t, err)
		assert.Equal(t, nfsPort, mountPort)

		mappings, err := pm.Dump(ctx)
		require.NoError(t, err)
		assert.Len(t, mappings, 3)
	})
}

func TestServerWithFixedPorts(t *testing.T) {
	srv := startServer(t, Config{MountPort: freePort(t)})
	ctx := context.Background()

	assert.Nil(t, srv.Addr(ServicePortmap))
	mountPort := port(t, srv.Addr(ServiceMount))
	nfsPort := port(t, srv.Addr(ServiceNFS))
	assert.NotEqual(t, mountPort, nfsPort)
	assert.Equal(t, uint32(mountPort), srv.Registry().Getport(rpc.ProgramMount, rpc.MountVersion, portmap.ProtoTCP))

	s, err := client.Dial(ctx, client.Config{
		Host:      "127.0.0.1",
		Path:      "/export",
		MountPort: mountPort,
		NFSPort:   nfsPort,
		Transport: fastTransport(),
	})
	require.NoError(t, err)
	defer s.Close(ctx)

	attr, err := s.GetAttributes(ctx, s.Root())
	require.NoError(t, err)
	assert.True(t, attr.IsDir())
}

func TestServeOnlyOnce(t *testing.T) {
	backend, _ := newBackend(t)
	srv := New(Config{ListenAddress: "127.0.0.1"}, backend, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, srv.Serve(ctx))
	assert.Error(t, srv.Serve(ctx))
}

func TestListenFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	backend, _ := newBackend(t)
	srv := New(Config{ListenAddress: "127.0.0.1", NFSPort: busy.Addr().(*net.TCPAddr).Port}, backend, nil, nil)
	err = srv.Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen nfs")
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return p
}
