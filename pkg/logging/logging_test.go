package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, zapcore.InfoLevel, "json")
	require.NoError(t, err)
	log.Debug("hidden")
	log.Info("Compiled module", zap.String("module", "expression"), zap.Duration("elapsed", 1500*time.Millisecond))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Compiled module", entry["msg"])
	assert.Equal(t, "expression", entry["module"])
	assert.Equal(t, "1.5s", entry["elapsed"])
	ts, ok := entry["ts"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewConfig().Build(&buf)
	require.NoError(t, err)
	log.Warn("Load failed", zap.String("reason", "unmet dependency"))
	assert.Contains(t, buf.String(), "Load failed")
	assert.Contains(t, buf.String(), "unmet dependency")
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(&bytes.Buffer{}, zapcore.InfoLevel, "xml")
	assert.EqualError(t, err, `unknown log format "xml"`)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, level)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	log := zap.NewExample()
	ctx := NewContext(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
}
