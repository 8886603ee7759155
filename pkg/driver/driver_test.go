package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocator_Query(t *testing.T) {
	tests := []struct {
		name      string
		loc       Locator
		wantQuery string
		wantXPath bool
		wantStr   string
	}{
		{"css", CSS("#hangup"), "#hangup", false, "css=#hangup"},
		{"xpath", XPath("//div[@id='x']"), "//div[@id='x']", true, "xpath=//div[@id='x']"},
		{"test id", TestID("toolbar"), `[data-testid="toolbar"]`, false, "testid=toolbar"},
		{"test id with quote", TestID(`a"b`), `[data-testid="a\"b"]`, false, `testid=a"b`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, isXPath := tt.loc.query()
			assert.Equal(t, tt.wantQuery, q)
			assert.Equal(t, tt.wantXPath, isXPath)
			assert.Equal(t, tt.wantStr, tt.loc.String())
		})
	}
}

func TestStrategy_String(t *testing.T) {
	assert.Equal(t, "css", ByCSS.String())
	assert.Equal(t, "xpath", ByXPath.String())
	assert.Equal(t, "testid", ByTestID.String())
	assert.Equal(t, "unknown", Strategy(42).String())
}

func TestLauncher(t *testing.T) {
	for _, name := range []string{"", "rod", "ROD", "chromedp"} {
		launch, err := Launcher(name)
		require.NoError(t, err, "backend %q", name)
		assert.NotNil(t, launch)
	}

	_, err := Launcher("selenium")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "selenium")
}

func TestOptions_ChromeFlags(t *testing.T) {
	opts := DefaultOptions()
	opts.FakeAudioFile = "/tmp/tone.wav"
	opts.Flags = map[string]string{"lang": "en-US", "disable-gpu": "false"}

	flags := opts.chromeFlags()
	assert.Contains(t, flags, "use-fake-device-for-media-stream")
	assert.Contains(t, flags, "use-fake-ui-for-media-stream")
	assert.Equal(t, "no-user-gesture-required", flags["autoplay-policy"])
	assert.Equal(t, "/tmp/tone.wav", flags["use-file-for-fake-audio-capture"])
	assert.Equal(t, "1280,720", flags["window-size"])
	assert.Equal(t, "en-US", flags["lang"])
	assert.Equal(t, "false", flags["disable-gpu"], "extra flags override defaults")

	opts.FakeMedia = false
	opts.WindowWidth = 0
	flags = opts.chromeFlags()
	assert.NotContains(t, flags, "use-fake-device-for-media-stream")
	assert.NotContains(t, flags, "window-size")
}

func TestOptions_Timeout(t *testing.T) {
	assert.Equal(t, DefaultOptions().Timeout, Options{}.timeout())
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		transient   bool
		unavailable bool
	}{
		{"nil", nil, false, false},
		{"transient", Transient("text", ErrNoSuchElement), true, false},
		{"wrapped transient", fmt.Errorf("outer: %w", Transient("text", errors.New("x"))), true, false},
		{"deadline", context.DeadlineExceeded, true, false},
		{"unavailable", unavailable("click", io.EOF), false, true},
		{"unavailable without cause", unavailable("click", nil), false, true},
		{"plain", errors.New("boom"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
			assert.Equal(t, tt.unavailable, IsUnavailable(tt.err))
		})
	}

	assert.NoError(t, Transient("noop", nil))
	require.ErrorIs(t, Transient("text", ErrNoSuchElement), ErrNoSuchElement)
	require.ErrorIs(t, unavailable("click", io.EOF), io.EOF)
}

func TestIsConnectionLoss(t *testing.T) {
	assert.True(t, isConnectionLoss(io.EOF))
	assert.True(t, isConnectionLoss(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)))
	assert.True(t, isConnectionLoss(errors.New("{-32000 Target closed}")))
	assert.True(t, isConnectionLoss(errors.New("Session with given id not found.")))
	assert.False(t, isConnectionLoss(errors.New("Could not find node with given id")))
	assert.False(t, isConnectionLoss(nil))
}

func TestIsStale(t *testing.T) {
	assert.True(t, isStale(errors.New("{-32000 Could not find node with given id}")))
	assert.True(t, isStale(errors.New("Execution context was destroyed.")))
	assert.False(t, isStale(errors.New("Target closed")))
	assert.False(t, isStale(nil))
}

func TestClosedBackendsReportUnavailable(t *testing.T) {
	ctx := context.Background()

	r := &Rod{}
	r.closed.Store(true)
	_, err := r.Count(ctx, CSS("div"))
	require.ErrorIs(t, err, ErrSessionUnavailable)
	_, err = r.Eval(ctx, "return 1")
	require.ErrorIs(t, err, ErrSessionUnavailable)
	require.NoError(t, r.Close(), "closing twice is a no-op")

	c := &Chromedp{}
	c.closed.Store(true)
	_, err = c.Count(ctx, CSS("div"))
	require.ErrorIs(t, err, ErrSessionUnavailable)
	_, err = c.Text(ctx, CSS("div"))
	require.ErrorIs(t, err, ErrSessionUnavailable)
	_, err = c.Eval(ctx, "return 1")
	require.ErrorIs(t, err, ErrSessionUnavailable)
	require.ErrorIs(t, c.Navigate(ctx, "about:blank"), ErrSessionUnavailable)
	require.ErrorIs(t, c.classify(ctx, "click", errors.New("boom")), ErrSessionUnavailable)
	require.NoError(t, c.Close())
}

func TestChromedp_CanceledBrowserReportsUnavailable(t *testing.T) {
	browserCtx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &Chromedp{browserCtx: browserCtx, timeout: time.Second}
	_, err := c.Count(context.Background(), CSS("div"))
	require.ErrorIs(t, err, ErrSessionUnavailable)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConsoleBuffer(t *testing.T) {
	var b consoleBuffer
	assert.Empty(t, b.snapshot())

	b.add("log: one")
	b.add("error: two")
	assert.Equal(t, []string{"log: one", "error: two"}, b.snapshot())

	for i := 0; i < consoleLimit; i++ {
		b.add(fmt.Sprintf("log: %d", i))
	}
	lines := b.snapshot()
	require.Len(t, lines, consoleLimit)
	assert.Equal(t, "log: 0", lines[0], "oldest lines are dropped first")
	assert.Equal(t, fmt.Sprintf("log: %d", consoleLimit-1), lines[consoleLimit-1])
}

func TestClosedBackendsKeepConsoleLogs(t *testing.T) {
	r := &Rod{}
	r.console.add("log: hello")
	r.closed.Store(true)
	assert.Equal(t, []string{"log: hello"}, r.ConsoleLogs())

	c := &Chromedp{}
	c.closed.Store(true)
	assert.Empty(t, c.ConsoleLogs())
}
