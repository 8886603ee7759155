package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/meetsuite/pkg/heartbeat"
)

var suiteEnv = []string{
	"MEETSUITE_CONFIG", "MEETSUITE_BASE_URL", "MEETSUITE_BACKEND", "MEETSUITE_TIMEOUT",
	"MEETSUITE_POLL_INTERVAL", "MEETSUITE_HEADLESS", "MEETSUITE_MAX_PARTICIPANTS",
	"MEETSUITE_LONG_LIVED_DURATION", "MEETSUITE_LONG_LIVED_INTERVAL", "MEETSUITE_LONG_LIVED_START_DELAY",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range suiteEnv {
		t.Setenv(k, "")
	}
}

func flagsCommand(t *testing.T, args ...string) (*cobra.Command, runFlags) {
	t.Helper()
	cmd := &cobra.Command{}
	var f runFlags
	bindFlags(cmd, &f)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd, f
}

func TestResolveConfig_FlagsOverrideFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://file.example.com
long_lived:
  duration: 2h
  interval: 30s
  start_delay: 1s
`), 0o600))

	cmd, f := flagsCommand(t, "--config", path, "--duration", "15m", "--backend", "chromedp")
	cfg, err := resolveConfig(cmd, f)
	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", cfg.BaseURL)
	assert.Equal(t, "chromedp", cfg.Backend)
	assert.Equal(t, 15*time.Minute, cfg.LongLived.Duration)
	assert.Equal(t, 30*time.Second, cfg.LongLived.Interval, "unset flags keep file values")
	assert.Equal(t, time.Second, cfg.LongLived.StartDelay)
}

func TestResolveConfig_RequiresBaseURL(t *testing.T) {
	clearEnv(t)
	cmd, f := flagsCommand(t)
	_, err := resolveConfig(cmd, f)
	assert.ErrorContains(t, err, "--base-url")
}

func TestResolveConfig_RejectsInvalidValues(t *testing.T) {
	clearEnv(t)
	cmd, f := flagsCommand(t, "--base-url", "ftp://meet", "--interval", "-1s")
	_, err := resolveConfig(cmd, f)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")
	assert.Contains(t, err.Error(), "long_lived")
}

func TestRootCommand_FailsWithoutServer(t *testing.T) {
	clearEnv(t)
	cmd := newRootCommand()
	cmd.SetArgs(nil)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, Result{
		Room:     "torture7",
		Duration: 90*time.Minute + 5*time.Second,
		Rounds:   1081,
		Status:   "FAIL",
		Err:      &heartbeat.CheckError{Check: "second bitrate", Failures: 3, Err: errors.New("low")},
	})
	out := buf.String()
	assert.Contains(t, out, "Room:      torture7")
	assert.Contains(t, out, "Duration:  01:30:05")
	assert.Contains(t, out, "Rounds:    1081")
	assert.Contains(t, out, "Status:    FAIL")
	assert.Contains(t, out, "Check:     second bitrate (3 consecutive failures)")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:00", formatDuration(0))
	assert.Equal(t, "00:01:01", formatDuration(61*time.Second))
	assert.Equal(t, "25:00:00", formatDuration(25*time.Hour))
}

func TestHeartbeatOutcome(t *testing.T) {
	t.Run("interrupted", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		interrupted, err := heartbeatOutcome(ctx, context.Canceled, 12)
		assert.True(t, interrupted)
		require.ErrorIs(t, err, context.Canceled)
		assert.Contains(t, err.Error(), "interrupted after 12 rounds")
	})

	t.Run("check failed", func(t *testing.T) {
		checkErr := &heartbeat.CheckError{Check: "owner ice", Failures: 1, Err: errors.New("disconnected")}
		interrupted, err := heartbeatOutcome(context.Background(), checkErr, 4)
		assert.False(t, interrupted)
		assert.Same(t, checkErr, err)
	})

	t.Run("completed", func(t *testing.T) {
		interrupted, err := heartbeatOutcome(context.Background(), nil, 100)
		assert.False(t, interrupted)
		assert.NoError(t, err)
	})
}
