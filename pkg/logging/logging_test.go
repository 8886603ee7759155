package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"info", zapcore.InfoLevel},
		{"ERROR", zapcore.ErrorLevel},
		{"debug", zapcore.Level(-1)},
		{"trace", zapcore.Level(-2)},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestNewWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, flush, err := NewWriter(&buf, "debug", "json")
	require.NoError(t, err)

	log.Info("session started", "role", "owner")
	log.V(1).Info("polling", "attempt", 2)
	log.V(2).Info("dropped at debug")
	flush()

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "session started", lines[0]["message"])
	assert.Equal(t, "owner", lines[0]["role"])
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "polling", lines[1]["message"])
	assert.Contains(t, lines[0], "caller")
}

func TestNewWriter_ErrorLevelDropsInfo(t *testing.T) {
	var buf bytes.Buffer
	log, flush, err := NewWriter(&buf, "error", "json")
	require.NoError(t, err)

	log.Info("quiet")
	log.Error(assert.AnError, "loud")
	flush()

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "loud", lines[0]["message"])
	assert.Equal(t, assert.AnError.Error(), lines[0]["error"])
}

func TestNewWriter_Console(t *testing.T) {
	var buf bytes.Buffer
	log, flush, err := NewWriter(&buf, "info", "console")
	require.NoError(t, err)

	log.Info("fixture listening", "addr", "127.0.0.1:8080")
	flush()
	assert.Contains(t, buf.String(), "fixture listening")
	assert.Contains(t, buf.String(), `"addr": "127.0.0.1:8080"`)
}

func TestNewWriter_InvalidFormat(t *testing.T) {
	_, _, err := NewWriter(&bytes.Buffer{}, "info", "xml")
	require.Error(t, err)
}

func TestPionFactory(t *testing.T) {
	var buf bytes.Buffer
	log, flush, err := NewWriter(&buf, "debug", "json")
	require.NoError(t, err)

	pl := PionFactory(log).NewLogger("ice")
	pl.Infof("candidate %d", 1)
	pl.Warn("slow")
	pl.Debug("debug line")
	pl.Trace("trace line")
	pl.Errorf("failed: %s", "boom")
	flush()

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 4, "trace is dropped at debug")
	assert.Equal(t, "candidate 1", lines[0]["message"])
	assert.Equal(t, "ice", lines[0]["scope"])
	assert.Equal(t, "pion", lines[0]["logger"])
	assert.Equal(t, true, lines[1]["warning"])
	assert.Equal(t, "debug line", lines[2]["message"])
	assert.Equal(t, "error", lines[3]["level"])
}

func TestForTest(t *testing.T) {
	log := ForTest(t)
	log.V(2).Info("visible in test output")
}
