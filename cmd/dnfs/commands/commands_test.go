package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/dnfs/pkg/fileserver"
	"github.com/marmos91/dnfs/pkg/fileserver/handles"
	"github.com/marmos91/dnfs/pkg/server"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// startServer serves an in-memory /export and returns its NFS port.
func startServer(t *testing.T) (int, afero.Fs) {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/hello.txt", []byte("hello world"), 0o644))

	backend, err := fileserver.New([]fileserver.Export{{Path: "/export", Fs: fsys}}, handles.NewMemoryTable(), fileserver.Options{})
	require.NoError(t, err)

	srv := server.New(server.Config{ListenAddress: "127.0.0.1"}, backend, nil, nil)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
		_ = backend.Close()
	})

	return srv.Addr(server.ServiceNFS).(*net.TCPAddr).Port, fsys
}

// run executes the root command and returns what it wrote to stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// clientArgs points a client command at the test server with a config file
// that does not exist, so only defaults apply.
func clientArgs(t *testing.T, port int, cmd ...string) []string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	args := append([]string{}, cmd...)
	return append(args,
		"--config", filepath.Join(t.TempDir(), "missing.yaml"),
		"--host", "127.0.0.1",
		"--nfs-port", strconv.Itoa(port),
	)
}

// ============================================================================
// Client Command Tests
// ============================================================================

func TestClientCommands(t *testing.T) {
	port, fsys := startServer(t)

	t.Run("CatPrintsFile", func(t *testing.T) {
		out, err := run(t, "", clientArgs(t, port, "cat", "/export/hello.txt")...)
		require.NoError(t, err)
		assert.Equal(t, "hello world", out)
	})

	t.Run("PutFromStdin", func(t *testing.T) {
		_, err := run(t, "uploaded", clientArgs(t, port, "put", "-", "/export/up.txt")...)
		require.NoError(t, err)

		data, err := afero.ReadFile(fsys, "/up.txt")
		require.NoError(t, err)
		assert.Equal(t, "uploaded", string(data))

		// A second put replaces the content
		_, err = run(t, "new", clientArgs(t, port, "put", "-", "up.txt")...)
		require.NoError(t, err)
		data, err = afero.ReadFile(fsys, "/up.txt")
		require.NoError(t, err)
		assert.Equal(t, "new", string(data))
	})

	t.Run("ListsAsJSON", func(t *testing.T) {
		out, err := run(t, "", clientArgs(t, port, "ls", "/export", "-o", "json")...)
		require.NoError(t, err)

		var entries []entryView
		require.NoError(t, json.Unmarshal([]byte(out), &entries))
		var names []string
		for _, e := range entries {
			names = append(names, e.Name)
		}
		assert.Contains(t, names, "hello.txt")
	})

	t.Run("StatShowsAttributes", func(t *testing.T) {
		out, err := run(t, "", clientArgs(t, port, "stat", "/export/hello.txt", "-o", "json")...)
		require.NoError(t, err)

		var view entryView
		require.NoError(t, json.Unmarshal([]byte(out), &view))
		assert.Equal(t, "reg", view.Type)
		assert.Equal(t, uint64(11), view.Size)
	})

	t.Run("MkdirAndRemove", func(t *testing.T) {
		_, err := run(t, "", clientArgs(t, port, "mkdir", "/export/docs")...)
		require.NoError(t, err)
		ok, err := afero.DirExists(fsys, "/docs")
		require.NoError(t, err)
		assert.True(t, ok)

		_, err = run(t, "", clientArgs(t, port, "rm", "/export/docs")...)
		require.NoError(t, err)
		ok, err = afero.DirExists(fsys, "/docs")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = run(t, "", clientArgs(t, port, "rm", "/export/docs")...)
		assert.Error(t, err)
	})

	t.Run("ListsExports", func(t *testing.T) {
		out, err := run(t, "", clientArgs(t, port, "exports", "-o", "table")...)
		require.NoError(t, err)
		assert.Contains(t, out, "/export")
	})

	t.Run("ReportsCapacity", func(t *testing.T) {
		out, err := run(t, "", clientArgs(t, port, "df", "-o", "yaml")...)
		require.NoError(t, err)
		assert.Contains(t, out, "total_bytes:")
	})
}

// ============================================================================
// Config Command Tests
// ============================================================================

func TestConfigCommands(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "dnfs.yaml")

	out, err := run(t, "", "config", "init", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, configPath)

	_, err = run(t, "", "config", "init", "--config", configPath)
	assert.ErrorContains(t, err, "already exists")

	out, err = run(t, "", "config", "validate", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	out, err = run(t, "", "config", "show", "--config", configPath, "-o", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "nfs_port: 2049")
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "dnfs "))
}
