package cmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trly/msirepo/internal/report"
)

func TestColumnTitle(t *testing.T) {
	tests := map[string]string{
		"name":         "Name",
		"ProductCode":  "Product Code",
		"Manufacturer": "Manufacturer",
		"guid":         "GUID",
		"checksum":     "Checksum",
	}
	for in, want := range tests {
		assert.Equal(t, want, columnTitle(in), in)
	}
}

func TestPrintOutput(t *testing.T) {
	data := map[string]any{"id": "win"}

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintOutput(&buf, "json", data))
		assert.JSONEq(t, `{"id":"win"}`, buf.String())
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, PrintOutput(&buf, "YAML", data))
		assert.Equal(t, "id: win\n", buf.String())
	})

	t.Run("unsupported", func(t *testing.T) {
		var buf bytes.Buffer
		assert.EqualError(t, PrintOutput(&buf, "xml", data), "unsupported output format: xml")
	})
}

func TestStructured(t *testing.T) {
	assert.False(t, structured(""))
	assert.False(t, structured("Table"))
	assert.True(t, structured("json"))
}

func TestPrintReport(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		r := report.New(true)
		r.Summary["units_copied"] = 3

		var buf bytes.Buffer
		require.NoError(t, printReport(&buf, "table", "copy", r))
		assert.Contains(t, buf.String(), "copy succeeded")
		assert.Contains(t, buf.String(), "units_copied")
	})

	t.Run("failure lists each error line", func(t *testing.T) {
		r := report.Failure(errors.New("first\nsecond"))

		var buf bytes.Buffer
		require.NoError(t, printReport(&buf, "table", "sync win", r))
		assert.Contains(t, buf.String(), "sync win failed")
		assert.Contains(t, buf.String(), "first")
		assert.Contains(t, buf.String(), "second")
	})
}
