// Package session tracks the browser sessions of a multi-participant test,
// one per named role such as "owner" or "second".
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/thesyncim/meetsuite/pkg/driver"
	"github.com/thesyncim/meetsuite/pkg/poll"
	"github.com/thesyncim/meetsuite/pkg/predicate"
)

// Session is a running browser bound to a role.
type Session struct {
	Role    string
	Driver  driver.Driver
	URL     string
	Started time.Time
}

// WaitUntil polls p against the session. Nil opts use the poll defaults.
func (s *Session) WaitUntil(ctx context.Context, p predicate.Predicate, opts *poll.Options) (*poll.Outcome, error) {
	out, err := poll.Until(ctx, p(s.Driver), opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Role, err)
	}
	return out, nil
}

// Eval runs script in the session's page.
func (s *Session) Eval(ctx context.Context, script string, args ...any) (any, error) {
	return s.Driver.Eval(ctx, script, args...)
}

// Screenshot captures the session's viewport as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	return s.Driver.Screenshot(ctx)
}

// StartOptions configures a single session launch.
type StartOptions struct {
	// URL is opened once the browser is up. Empty leaves the blank page.
	URL string

	// Browser is passed to the launch function.
	Browser driver.Options
}

// StopHook runs before a session's browser is closed, e.g. to hang up.
type StopHook func(ctx context.Context, s *Session) error

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards.
func WithLogger(log logr.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithStopHook sets a best-effort hook run before every Close. Its errors
// are logged, never returned.
func WithStopHook(hook StopHook) Option {
	return func(o *Orchestrator) { o.stopHook = hook }
}

// Orchestrator maps role names to running sessions.
// It is safe for concurrent use.
type Orchestrator struct {
	launch   driver.LaunchFunc
	log      logr.Logger
	stopHook StopHook

	mu       sync.Mutex
	sessions map[string]*Session
}

// New returns an Orchestrator that starts browsers with launch.
func New(launch driver.LaunchFunc, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		launch:   launch,
		log:      logr.Discard(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches a browser for role, opens opts.URL and sets the page title
// to the role name. Starting a role that is already running returns the
// existing session.
func (o *Orchestrator) Start(ctx context.Context, role string, opts StartOptions) (*Session, error) {
	if role == "" {
		return nil, errors.New("role is required")
	}
	if s, ok := o.lookup(role); ok {
		return s, nil
	}

	log := o.log.WithValues("role", role)
	log.V(1).Info("starting session", "url", opts.URL)

	d, err := o.launch(ctx, opts.Browser)
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", role, err)
	}
	s := &Session{Role: role, Driver: d, URL: opts.URL, Started: time.Now()}

	if err := o.open(ctx, s); err != nil {
		if cerr := d.Close(); cerr != nil {
			log.Error(cerr, "failed to close browser after start failure")
		}
		return nil, fmt.Errorf("start %s: %w", role, err)
	}

	o.mu.Lock()
	if existing, ok := o.sessions[role]; ok {
		// Lost a race with a concurrent Start of the same role.
		o.mu.Unlock()
		if err := d.Close(); err != nil {
			log.Error(err, "failed to close duplicate browser")
		}
		return existing, nil
	}
	o.sessions[role] = s
	o.mu.Unlock()

	log.Info("session started", "url", opts.URL)
	return s, nil
}

func (o *Orchestrator) open(ctx context.Context, s *Session) error {
	if s.URL != "" {
		if err := s.Driver.Navigate(ctx, s.URL); err != nil {
			return err
		}
	}
	if _, err := s.Driver.Eval(ctx, "document.title = arguments[0]; return document.title", s.Role); err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	return nil
}

// StartAll starts every role concurrently. Sessions that started before a
// failure stay registered so StopAll can clean them up.
func (o *Orchestrator) StartAll(ctx context.Context, roles map[string]StartOptions) (map[string]*Session, error) {
	var (
		mu      sync.Mutex
		started = make(map[string]*Session, len(roles))
	)
	g, gctx := errgroup.WithContext(ctx)
	for role, opts := range roles {
		g.Go(func() error {
			s, err := o.Start(gctx, role, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			started[role] = s
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return started, err
	}
	return started, nil
}

func (o *Orchestrator) lookup(role string) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[role]
	return s, ok
}

// Get returns the running session for role.
func (o *Orchestrator) Get(role string) (*Session, error) {
	s, ok := o.lookup(role)
	if !ok {
		return nil, fmt.Errorf("role %q: %w", role, driver.ErrSessionUnavailable)
	}
	return s, nil
}

// Roles returns the running roles in sorted order.
func (o *Orchestrator) Roles() []string {
	o.mu.Lock()
	roles := make([]string, 0, len(o.sessions))
	for role := range o.sessions {
		roles = append(roles, role)
	}
	o.mu.Unlock()
	sort.Strings(roles)
	return roles
}

// Stop runs the stop hook for role and closes its browser.
func (o *Orchestrator) Stop(ctx context.Context, role string) error {
	o.mu.Lock()
	s, ok := o.sessions[role]
	delete(o.sessions, role)
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("stop %q: %w", role, driver.ErrSessionUnavailable)
	}
	return o.stop(ctx, s)
}

// StopAll stops every session, continuing past failures, and returns the
// joined errors.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	o.mu.Lock()
	sessions := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.sessions = make(map[string]*Session)
	o.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Role < sessions[j].Role })

	var errs []error
	for _, s := range sessions {
		if err := o.stop(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) stop(ctx context.Context, s *Session) error {
	log := o.log.WithValues("role", s.Role)
	if o.stopHook != nil {
		if err := o.stopHook(ctx, s); err != nil {
			log.Info("stop hook failed", "error", err.Error())
		}
	}
	if err := s.Driver.Close(); err != nil {
		return fmt.Errorf("stop %s: %w", s.Role, err)
	}
	log.Info("session stopped", "uptime", time.Since(s.Started).Round(time.Millisecond).String())
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

const pageSourceScript = "return document.documentElement.outerHTML"

// Diagnose writes the state of every running session into dir: a
// screenshot (<role>.png), the page source (<role>.html), the browser
// console (<role>.log) and a sessions.txt listing each role's URL. It keeps
// going when one session fails.
func (o *Orchestrator) Diagnose(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create diagnostics dir: %w", err)
	}

	var (
		errs    []error
		summary strings.Builder
	)
	for _, role := range o.Roles() {
		s, ok := o.lookup(role)
		if !ok {
			continue
		}
		name := unsafeFileChars.ReplaceAllString(role, "_")

		url := "unknown"
		if v, err := s.Eval(ctx, "return location.href"); err != nil {
			errs = append(errs, fmt.Errorf("%s: read url: %w", role, err))
		} else if str, ok := v.(string); ok {
			url = str
		}
		fmt.Fprintf(&summary, "%s\t%s\n", role, url)

		if err := o.writeFile(dir, role, name+".log", []byte(strings.Join(s.Driver.ConsoleLogs(), "\n"))); err != nil {
			errs = append(errs, err)
		}

		if v, err := s.Eval(ctx, pageSourceScript); err != nil {
			errs = append(errs, fmt.Errorf("%s: page source: %w", role, err))
		} else if html, ok := v.(string); ok {
			if err := o.writeFile(dir, role, name+".html", []byte(html)); err != nil {
				errs = append(errs, err)
			}
		}

		png, err := s.Screenshot(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: screenshot: %w", role, err))
			continue
		}
		if err := o.writeFile(dir, role, name+".png", png); err != nil {
			errs = append(errs, err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, "sessions.txt"), []byte(summary.String()), 0o644); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) writeFile(dir, role, file string, data []byte) error {
	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%s: %w", role, err)
	}
	o.log.V(1).Info("saved diagnostics", "role", role, "path", path)
	return nil
}
