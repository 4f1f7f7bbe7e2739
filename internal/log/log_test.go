package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, "json", LevelInfo)
	t.Cleanup(func() { Setup(os.Stderr, "json", LevelInfo) })

	Error("export failed", errors.New("boom"), "owner", "u1", "count", 3, 42)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "export failed", line["message"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "u1", line["owner"])
	assert.EqualValues(t, 3, line["count"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, "json", LevelError)
	t.Cleanup(func() { Setup(os.Stderr, "json", LevelInfo) })

	Debug("hidden")
	Info("hidden too")
	assert.Zero(t, buf.Len())

	SetLevel(LevelDebug)
	Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel(" ERROR "))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelInfo, ParseLevel("verbose"))
}
