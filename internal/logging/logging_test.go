package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, err := Setup(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "id", "1407")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "1407", entry["id"])
}

func TestSetupText(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	_, err := Setup(&buf, "debug", "text")
	require.NoError(t, err)

	slog.Debug("via default", "n", 1)
	assert.Contains(t, buf.String(), "msg=\"via default\"")
	assert.Contains(t, buf.String(), "n=1")
}

func TestSetupRejectsUnknown(t *testing.T) {
	_, err := Setup(&bytes.Buffer{}, "loud", "json")
	assert.Error(t, err)
	_, err = Setup(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}
