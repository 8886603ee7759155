package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/go-logr/logr"
)

// Chromedp drives a WebRTC-ready Chrome through chromedp.
//
// Every operation runs in a context derived from the browser context. The
// caller's context only bounds the operation; cancelling it never tears the
// browser down.
type Chromedp struct {
	browserCtx  context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	timeout     time.Duration
	log         logr.Logger
	console     consoleBuffer
	closed      atomic.Bool
}

var _ Driver = (*Chromedp)(nil)

// LaunchChromedp starts Chrome with the given options.
func LaunchChromedp(ctx context.Context, opts Options) (*Chromedp, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.Flag("headless", opts.Headless))
	if opts.Bin != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.Bin))
	}
	for name, value := range opts.chromeFlags() {
		if value == "" {
			allocOpts = append(allocOpts, chromedp.Flag(name, true))
		} else {
			allocOpts = append(allocOpts, chromedp.Flag(name, value))
		}
	}

	// The browser outlives ctx, so neither context derives from it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	c := &Chromedp{
		browserCtx:  browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		timeout:     opts.timeout(),
		log:         opts.Logger,
	}
	chromedp.ListenTarget(browserCtx, func(ev any) {
		if e, ok := ev.(*runtime.EventConsoleAPICalled); ok {
			args := make([]string, 0, len(e.Args))
			for _, a := range e.Args {
				if len(a.Value) == 0 {
					args = append(args, a.Description)
					continue
				}
				args = append(args, string(a.Value))
			}
			line := strings.Join(args, " ")
			c.console.add(string(e.Type) + ": " + line)
			c.log.V(1).Info("browser console", "type", string(e.Type), "args", line)
		}
	})

	started := make(chan error, 1)
	go func() {
		// The first Run allocates the browser and its first tab.
		started <- chromedp.Run(browserCtx)
	}()
	select {
	case err := <-started:
		if err != nil {
			cancel()
			allocCancel()
			return nil, fmt.Errorf("failed to launch Chrome: %w", err)
		}
	case <-ctx.Done():
		cancel()
		allocCancel()
		return nil, ctx.Err()
	}
	return c, nil
}

// run executes actions bounded by ctx, or by the default timeout when ctx has
// no deadline.
func (c *Chromedp) run(ctx context.Context, op string, actions ...chromedp.Action) error {
	if c.closed.Load() {
		return unavailable(op, nil)
	}
	if err := c.browserCtx.Err(); err != nil {
		return unavailable(op, err)
	}
	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	runCtx, cancel := context.WithTimeout(c.browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	return c.classify(ctx, op, err)
}

// eval runs a script body with args and decodes its result into out.
func (c *Chromedp) eval(ctx context.Context, op, body string, out any, args ...any) error {
	expr, err := envelopeExpression(body, args)
	if err != nil {
		return err
	}
	var raw string
	err = c.run(ctx, op, chromedp.Evaluate(expr, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err != nil {
		return err
	}
	return decodeEnvelope(raw, out)
}

func (c *Chromedp) lookup(ctx context.Context, op string, loc Locator, name string) (lookupResult, error) {
	q, isXPath := loc.query()
	var res lookupResult
	if err := c.eval(ctx, op, lookupScript, &res, q, isXPath, op, name); err != nil {
		return res, err
	}
	if !res.Found {
		return res, Transient(op+" "+loc.String(), ErrNoSuchElement)
	}
	return res, nil
}

// Navigate opens url and waits for the load event.
func (c *Chromedp) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, "navigate", chromedp.Navigate(url))
}

// Count returns the number of elements matching loc.
func (c *Chromedp) Count(ctx context.Context, loc Locator) (int, error) {
	q, isXPath := loc.query()
	var n int
	if err := c.eval(ctx, "count", lookupScript, &n, q, isXPath, "count", ""); err != nil {
		return 0, err
	}
	return n, nil
}

// Click clicks the first element matching loc.
func (c *Chromedp) Click(ctx context.Context, loc Locator) error {
	const op = "click"
	if _, err := c.lookup(ctx, op, loc, ""); err != nil {
		return err
	}
	q, isXPath := loc.query()
	return c.run(ctx, op, chromedp.Click(q, queryOption(isXPath), chromedp.NodeVisible))
}

// SendKeys clears the element's value and types text into it.
func (c *Chromedp) SendKeys(ctx context.Context, loc Locator, text string) error {
	const op = "send keys"
	if _, err := c.lookup(ctx, op, loc, ""); err != nil {
		return err
	}
	q, isXPath := loc.query()
	by := queryOption(isXPath)
	return c.run(ctx, op,
		chromedp.Clear(q, by),
		chromedp.SendKeys(q, text, by),
	)
}

// Attribute reads an attribute of the first element matching loc.
func (c *Chromedp) Attribute(ctx context.Context, loc Locator, name string) (string, bool, error) {
	res, err := c.lookup(ctx, "attribute", loc, name)
	if err != nil {
		return "", false, err
	}
	return res.Value, res.Present, nil
}

// Text returns the visible text of the first element matching loc.
func (c *Chromedp) Text(ctx context.Context, loc Locator) (string, error) {
	res, err := c.lookup(ctx, "text", loc, "")
	if err != nil {
		return "", err
	}
	return res.Value, nil
}

// Visible reports whether the first element matching loc is displayed.
func (c *Chromedp) Visible(ctx context.Context, loc Locator) (bool, error) {
	res, err := c.lookup(ctx, "visible", loc, "")
	if err != nil {
		return false, err
	}
	return res.Visible, nil
}

// Eval executes JavaScript and returns the result.
func (c *Chromedp) Eval(ctx context.Context, script string, args ...any) (any, error) {
	var out any
	if err := c.eval(ctx, "eval", script, &out, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// Screenshot captures the viewport as PNG.
func (c *Chromedp) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, "screenshot", chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// ConsoleLogs returns the most recent page console lines.
func (c *Chromedp) ConsoleLogs() []string {
	return c.console.snapshot()
}

// Close terminates the browser process.
func (c *Chromedp) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := chromedp.Cancel(c.browserCtx)
	c.cancel()
	c.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) && !isConnectionLoss(err) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

// classify maps chromedp errors onto the package taxonomy. ctx is the
// caller's context.
func (c *Chromedp) classify(ctx context.Context, op string, err error) error {
	if c.closed.Load() || isConnectionLoss(err) {
		return unavailable(op, err)
	}
	if c.browserCtx != nil && c.browserCtx.Err() != nil {
		return unavailable(op, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}

	var exception *runtime.ExceptionDetails
	switch {
	case errors.As(err, &exception), isStale(err):
		return Transient(op, err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func queryOption(isXPath bool) chromedp.QueryOption {
	if isXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}
