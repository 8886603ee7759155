package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// Rod drives a WebRTC-ready Chrome through go-rod.
type Rod struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	timeout  time.Duration
	log      logr.Logger
	console  consoleBuffer
	closed   atomic.Bool
}

var _ Driver = (*Rod)(nil)

// LaunchRod starts Chrome with the given options and opens a blank page.
// The browser is configured with:
//   - Fake media streams (no real camera/mic required)
//   - Auto-granted media permissions
//   - No sandbox (for container compatibility)
//   - Autoplay without user gesture
func LaunchRod(ctx context.Context, opts Options) (*Rod, error) {
	l := launcher.New().Headless(opts.Headless)
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}
	for name, value := range opts.chromeFlags() {
		if value == "" {
			l = l.Set(flags.Flag(name))
		} else {
			l = l.Set(flags.Flag(name), value)
		}
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch Chrome: %w", err)
	}
	if err := ctx.Err(); err != nil {
		l.Kill()
		return nil, err
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to Chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	r := &Rod{
		launcher: l,
		browser:  browser,
		page:     page,
		timeout:  opts.timeout(),
		log:      opts.Logger,
	}
	go page.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
		args := make([]string, 0, len(e.Args))
		for _, a := range e.Args {
			if a.Value.Nil() {
				args = append(args, a.Description)
				continue
			}
			args = append(args, a.Value.String())
		}
		line := strings.Join(args, " ")
		r.console.add(string(e.Type) + ": " + line)
		r.log.V(1).Info("browser console", "type", string(e.Type), "args", line)
	})()
	return r, nil
}

// pageFor returns the page bound to ctx. When ctx has no deadline the
// default operation timeout applies.
func (r *Rod) pageFor(ctx context.Context, op string) (*rod.Page, context.CancelFunc, error) {
	if r.closed.Load() {
		return nil, nil, unavailable(op, nil)
	}
	cancel := context.CancelFunc(func() {})
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	return r.page.Context(ctx), cancel, nil
}

// Navigate opens url and waits for the load event.
func (r *Rod) Navigate(ctx context.Context, url string) error {
	const op = "navigate"
	p, cancel, err := r.pageFor(ctx, op)
	if err != nil {
		return err
	}
	defer cancel()

	if err := p.Navigate(url); err != nil {
		return r.classify(op, fmt.Errorf("failed to navigate to %s: %w", url, err))
	}
	if err := p.WaitLoad(); err != nil {
		return r.classify(op, err)
	}
	return nil
}

func (r *Rod) elements(p *rod.Page, loc Locator) (rod.Elements, error) {
	q, isXPath := loc.query()
	if isXPath {
		return p.ElementsX(q)
	}
	return p.Elements(q)
}

func (r *Rod) first(p *rod.Page, op string, loc Locator) (*rod.Element, error) {
	els, err := r.elements(p, loc)
	if err != nil {
		return nil, r.classify(op, err)
	}
	if len(els) == 0 {
		return nil, Transient(op+" "+loc.String(), ErrNoSuchElement)
	}
	return els.First(), nil
}

// Count returns the number of elements matching loc.
func (r *Rod) Count(ctx context.Context, loc Locator) (int, error) {
	const op = "count"
	p, cancel, err := r.pageFor(ctx, op)
	if err != nil {
		return 0, err
	}
	defer cancel()

	els, err := r.elements(p, loc)
	if err != nil {
		return 0, r.classify(op, err)
	}
	return len(els), nil
}

// Click clicks the first element matching loc.
func (r *Rod) Click(ctx context.Context, loc Locator) error {
	const op = "click"
	p, cancel, err := r.pageFor(ctx, op)
	if err != nil {
		return err
	}
	defer cancel()

	el, err := r.first(p, op, loc)
	if err != nil {
		return err
	}
	return r.classify(op, el.Click(proto.InputMouseButtonLeft, 1))
}

// SendKeys selects the element's current text and replaces it with text.
func (r *Rod) SendKeys(ctx context.Context, loc Locator, text string) error {
	const op = "send keys"
	p, cancel, err := r.pageFor(ctx, op)
	if err != nil {
		return err
	}
	defer cancel()

	el, err := r.first(p, op, loc)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return r.classify(op, err)
	}
	return r.classify(op, el.Input(text))
}

// Attribute reads an attribute of the first element matching loc.
func (r *Rod) Attribute(ctx context.Context, loc Locator, name string) (string, bool, error) {
	const op = "attribute"
	p, cancel, err := r.pageFor(ctx, op)
	if err != nil {
		return "", false, err
	}
	defer cancel()

	el, err := r.first(p, op, loc)
	if err != nil {
		return "", false, err
	}
	v, err := el.Attribute(name)
	if err != nil {
		return "", false, r.classify(op, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

// Text returns the visible text of the first element matching loc.
func (r *Rod) Text(ctx context.Context, loc Locator) (string, error) {
	const op = "text"
	p, cancel, err := r.pageFor(ctx, op)
	if err != nil {
		return "", err
	}
	defer cancel()

	el, err := r.first(p, op, loc)
	if err != nil {
		return "", err
	}
	s, err := el.Text()
	if err != nil {
		return "", r.classify(op, err)
	}
	return s, nil
}

// Visible reports whether the first element matching loc is displayed.
func (r *Rod) Visible(ctx context.Context, loc Locator) (bool, error) {
	const op = "visible"
	p, cancel, err := r.pageFor(ctx, op)
	if err != nil {
		return false, err
	}
	defer cancel()

	el, err := r.first(p, op, loc)
	if err != nil {
		return false, err
	}
	ok, err := el.Visible()
	if err != nil {
		return false, r.classify(op, err)
	}
	return ok, nil
}

// Eval executes JavaScript and returns the result.
func (r *Rod) Eval(ctx context.Context, script string, args ...any) (any, error) {
	const op = "eval"
	p, cancel, err := r.pageFor(ctx, op)
	if err != nil {
		return nil, err
	}
	defer cancel()

	result, err := p.Eval(functionSource(script), args...)
	if err != nil {
		return nil, r.classify(op, err)
	}
	return result.Value.Val(), nil
}

// Screenshot captures the viewport as PNG.
func (r *Rod) Screenshot(ctx context.Context) ([]byte, error) {
	const op = "screenshot"
	p, cancel, err := r.pageFor(ctx, op)
	if err != nil {
		return nil, err
	}
	defer cancel()

	b, err := p.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, r.classify(op, err)
	}
	return b, nil
}

// ConsoleLogs returns the most recent page console lines.
func (r *Rod) ConsoleLogs() []string {
	return r.console.snapshot()
}

// Close cleans up browser resources.
// Always call this (via defer) to prevent orphaned Chrome processes.
func (r *Rod) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := r.browser.Close()
	r.launcher.Kill()
	r.launcher.Cleanup()
	if err != nil && !isConnectionLoss(err) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// classify maps rod errors onto the package taxonomy.
func (r *Rod) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if r.closed.Load() || isConnectionLoss(err) {
		return unavailable(op, err)
	}

	var (
		notFound        *rod.ElementNotFoundError
		objectNotFound  *rod.ObjectNotFoundError
		evalErr         *rod.EvalError
		notInteractable *rod.NotInteractableError
		invisible       *rod.InvisibleShapeError
		covered         *rod.CoveredError
	)
	switch {
	case errors.As(err, &notFound),
		errors.As(err, &objectNotFound),
		errors.As(err, &evalErr),
		errors.As(err, &notInteractable),
		errors.As(err, &invisible),
		errors.As(err, &covered),
		isStale(err):
		return Transient(op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
