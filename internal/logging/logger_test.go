package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerKeyValues(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("Gateway", &buf)

	log.Info("extraction finished", "requestId", "abc", "calls", 2, "error", errors.New("boom"), "dangling")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "Gateway", entry["component"])
	assert.Equal(t, "extraction finished", entry["message"])
	assert.Equal(t, "abc", entry["requestId"])
	assert.Equal(t, float64(2), entry["calls"])
	assert.Equal(t, "boom", entry["error"])
	assert.NotContains(t, entry, "dangling")
}

func TestLoggerWith(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter("Processor", &buf).With("requestId", "r-1")

	log.Warn("slow stage")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "r-1", entry["requestId"])
	assert.Equal(t, "warn", entry["level"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", parseLevel("DEBUG").String())
	assert.Equal(t, "warn", parseLevel("warning").String())
	assert.Equal(t, "info", parseLevel("").String())
}
