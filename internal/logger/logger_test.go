package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger(t *testing.T) {
	t.Cleanup(func() {
		InitWithWriter(os.Stdout, "INFO", "text")
	})

	t.Run("FiltersBelowLevel", func(t *testing.T) {
		var buf bytes.Buffer
		InitWithWriter(&buf, "WARN", "text")

		Debug("debug %d", 1)
		Info("info %d", 2)
		Warn("warn %d", 3)

		out := buf.String()
		assert.NotContains(t, out, "debug 1")
		assert.NotContains(t, out, "info 2")
		assert.Contains(t, out, "warn 3")
	})

	t.Run("FormatsPrintfArguments", func(t *testing.T) {
		var buf bytes.Buffer
		InitWithWriter(&buf, "DEBUG", "text")

		Debug("RPC call: xid=0x%x proc=%d", 0x2a, 3)

		assert.Contains(t, buf.String(), "RPC call: xid=0x2a proc=3")
		assert.True(t, IsDebug())
	})

	t.Run("EmitsJSON", func(t *testing.T) {
		var buf bytes.Buffer
		InitWithWriter(&buf, "INFO", "json")

		Error("mount %s failed", "/export")

		var record map[string]any
		line := strings.TrimSpace(buf.String())
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		assert.Equal(t, "ERROR", record["level"])
		assert.Equal(t, "mount /export failed", record["msg"])
	})

	t.Run("IgnoresUnknownLevel", func(t *testing.T) {
		var buf bytes.Buffer
		InitWithWriter(&buf, "ERROR", "text")
		SetLevel("verbose")

		Warn("still filtered")
		assert.Empty(t, buf.String())
		assert.False(t, IsDebug())
	})
}
