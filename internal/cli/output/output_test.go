package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", FormatTable},
		{"TABLE", FormatTable},
		{" json ", FormatJSON},
		{"yml", FormatYAML},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestPrint(t *testing.T) {
	table := NewTable("Name", "Size")
	table.AddRow("a.txt", "5 B")

	t.Run("Table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Print(&buf, FormatTable, table))
		assert.Contains(t, buf.String(), "NAME")
		assert.Contains(t, buf.String(), "a.txt")
	})

	t.Run("TableRequiresRenderer", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Error(t, Print(&buf, FormatTable, map[string]int{"a": 1}))
	})

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Print(&buf, FormatJSON, map[string]int{"a": 1}))
		assert.JSONEq(t, `{"a":1}`, buf.String())
	})

	t.Run("YAML", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Print(&buf, FormatYAML, map[string]int{"a": 1}))
		assert.Equal(t, "a: 1\n", buf.String())
	})
}

func TestKeyValues(t *testing.T) {
	var buf bytes.Buffer
	KeyValues(&buf, [][2]string{{"Type", "regular"}, {"Size", "5"}})

	assert.Contains(t, buf.String(), "Type")
	assert.Contains(t, buf.String(), "regular")
}
