// Package driver defines the browser capabilities the test toolkit consumes
// and provides Chrome-backed implementations of them.
//
// Two backends are available:
//   - Rod: Chrome DevTools Protocol through go-rod (default)
//   - Chromedp: Chrome DevTools Protocol through chromedp
//
// Both launch a WebRTC-ready Chrome (fake media devices, auto-granted
// permissions) and translate backend errors into the package error
// taxonomy: ErrSessionUnavailable for a browser that is gone, and
// *TransientError for queries that failed because the DOM was mid-mutation.
package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// Strategy selects how a Locator's value is interpreted.
type Strategy int

const (
	// ByCSS matches elements with a CSS selector.
	ByCSS Strategy = iota
	// ByXPath matches elements with an XPath expression.
	ByXPath
	// ByTestID matches elements whose data-testid attribute equals the value.
	ByTestID
)

// String returns a string representation of the Strategy.
func (s Strategy) String() string {
	switch s {
	case ByCSS:
		return "css"
	case ByXPath:
		return "xpath"
	case ByTestID:
		return "testid"
	default:
		return "unknown"
	}
}

// Locator identifies elements on a page.
type Locator struct {
	Strategy Strategy
	Value    string
}

// CSS returns a CSS selector locator.
func CSS(selector string) Locator { return Locator{Strategy: ByCSS, Value: selector} }

// XPath returns an XPath locator.
func XPath(expr string) Locator { return Locator{Strategy: ByXPath, Value: expr} }

// TestID returns a locator matching [data-testid="id"].
func TestID(id string) Locator { return Locator{Strategy: ByTestID, Value: id} }

func (l Locator) String() string {
	return l.Strategy.String() + "=" + l.Value
}

// query returns the locator as a CSS selector or XPath expression.
// TestID locators are rewritten to CSS.
func (l Locator) query() (string, bool) {
	switch l.Strategy {
	case ByXPath:
		return l.Value, true
	case ByTestID:
		return fmt.Sprintf(`[data-testid="%s"]`, strings.ReplaceAll(l.Value, `"`, `\"`)), false
	default:
		return l.Value, false
	}
}

// Driver is a running browser instance under automated control.
//
// Element operations act on the first element matching the locator and
// return a *TransientError wrapping ErrNoSuchElement when nothing matches.
// Reads never wait for elements to appear; waiting is the poller's job.
type Driver interface {
	// Navigate opens url in the session's page and waits for it to load.
	Navigate(ctx context.Context, url string) error

	// Count returns the number of elements matching loc.
	Count(ctx context.Context, loc Locator) (int, error)

	// Click clicks the first element matching loc.
	Click(ctx context.Context, loc Locator) error

	// SendKeys types text into the first element matching loc.
	SendKeys(ctx context.Context, loc Locator, text string) error

	// Attribute reads an attribute of the first element matching loc.
	// present is false when the element exists but lacks the attribute.
	Attribute(ctx context.Context, loc Locator, name string) (value string, present bool, err error)

	// Text returns the visible text of the first element matching loc.
	Text(ctx context.Context, loc Locator) (string, error)

	// Visible reports whether the first element matching loc is displayed.
	Visible(ctx context.Context, loc Locator) (bool, error)

	// Eval runs script as the body of a function in the page context and
	// returns its JSON-decoded result. args are passed as the function's
	// arguments. Promises are awaited.
	Eval(ctx context.Context, script string, args ...any) (any, error)

	// Screenshot captures the current viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// ConsoleLogs returns the most recent page console lines, oldest first.
	// It keeps working after Close.
	ConsoleLogs() []string

	// Close terminates the browser. It is safe to call more than once.
	Close() error
}

// Options configures Chrome launch options.
type Options struct {
	Headless bool          // Run in headless mode (default: true)
	Timeout  time.Duration // Default operation timeout (default: 30s)

	// FakeMedia replaces camera and microphone with Chrome's synthetic
	// devices and auto-grants media permissions.
	FakeMedia bool

	// FakeAudioFile streams a WAV file through the fake microphone.
	FakeAudioFile string

	WindowWidth  int
	WindowHeight int

	// Bin is the Chrome binary. Empty lets the backend find or download one.
	Bin string

	// Flags are extra Chrome command line switches; empty values are bare switches.
	Flags map[string]string

	// Logger receives the page's console output at V(1).
	Logger logr.Logger
}

// DefaultOptions returns sensible defaults for E2E testing.
func DefaultOptions() Options {
	return Options{
		Headless:     true,
		Timeout:      30 * time.Second,
		FakeMedia:    true,
		WindowWidth:  1280,
		WindowHeight: 720,
	}
}

// chromeFlags returns the switches shared by every backend.
func (o Options) chromeFlags() map[string]string {
	flags := map[string]string{
		"no-sandbox":               "",
		"disable-gpu":              "",
		"disable-dev-shm-usage":    "",
		"autoplay-policy":          "no-user-gesture-required",
		"disable-features":         "Translate",
		"no-first-run":             "",
		"no-default-browser-check": "",
	}
	if o.FakeMedia {
		flags["use-fake-device-for-media-stream"] = ""
		flags["use-fake-ui-for-media-stream"] = ""
	}
	if o.FakeAudioFile != "" {
		flags["use-file-for-fake-audio-capture"] = o.FakeAudioFile
	}
	if o.WindowWidth > 0 && o.WindowHeight > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", o.WindowWidth, o.WindowHeight)
	}
	for k, v := range o.Flags {
		flags[k] = v
	}
	return flags
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 30 * time.Second
	}
	return o.Timeout
}

// LaunchFunc starts a new browser.
type LaunchFunc func(ctx context.Context, opts Options) (Driver, error)

// Backend names accepted by Launcher.
const (
	BackendRod      = "rod"
	BackendChromedp = "chromedp"
)

// Launcher returns the LaunchFunc for a backend name. An empty name selects rod.
func Launcher(backend string) (LaunchFunc, error) {
	switch strings.ToLower(backend) {
	case "", BackendRod:
		return func(ctx context.Context, opts Options) (Driver, error) {
			return LaunchRod(ctx, opts)
		}, nil
	case BackendChromedp:
		return func(ctx context.Context, opts Options) (Driver, error) {
			return LaunchChromedp(ctx, opts)
		}, nil
	default:
		return nil, fmt.Errorf("unknown browser backend %q", backend)
	}
}
