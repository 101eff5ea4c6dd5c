package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":            slog.LevelError,
		"debug":       slog.LevelDebug,
		"DEV":         slog.LevelDebug,
		"info":        slog.LevelInfo,
		"warning":     slog.LevelWarn,
		"prod":        slog.LevelError,
		"nonsense":    slog.LevelError,
		" info ":      slog.LevelInfo,
		"development": slog.LevelDebug,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info", "json")
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("room created", "room_id", "r1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "room created", entry["msg"])
	assert.Equal(t, "r1", entry["room_id"])
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "info", "xml")
	assert.Error(t, err)
}

func TestPionFactory(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "text")
	require.NoError(t, err)

	l := (&PionFactory{Logger: logger}).NewLogger("ice")
	l.Tracef("trace %d", 1)
	l.Debugf("gathering %s", "host")
	l.Warn("slow")

	out := buf.String()
	assert.NotContains(t, out, "trace 1")
	assert.Contains(t, out, "gathering host")
	assert.Contains(t, out, "scope=ice")
	assert.Contains(t, out, "level=WARN")
}
