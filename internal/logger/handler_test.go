package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestPrettyHandler_FormatsAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	log.With("operation", "recover").WithGroup("entity").Info("entity recovered",
		"type", "Product",
		"id", 123,
		"note", "two words",
	)

	out := buf.String()
	assert.Contains(t, out, "entity recovered")
	assert.Contains(t, out, "operation"+reset+"=recover")
	assert.Contains(t, out, "entity.type"+reset+"=Product")
	assert.Contains(t, out, "entity.id"+reset+"=123")
	assert.Contains(t, out, `"two words"`)
}

func TestPrettyHandler_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, nil))

	log.Debug("hidden")
	log.Error("audit record failed", "error", errors.New("connection refused"))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, red+"error"+reset+"=connection refused")
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(New(&buf, "json", slog.LevelInfo))

	log.Info("audit read failed", "operation", "history")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "audit read failed", record["msg"])
	assert.Equal(t, "history", record["operation"])
}
