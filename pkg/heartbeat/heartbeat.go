// Package heartbeat keeps checking a running conference for a fixed period.
//
// A Task runs its checks on a schedule until the duration budget is spent,
// a check fails more often in a row than it tolerates, or the task is
// stopped. Done is closed exactly once in every case.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/thesyncim/meetsuite/pkg/internal"
)

// Check is one health probe.
type Check struct {
	Name string

	// Tolerance is the number of consecutive failures allowed. The task
	// fails on failure number Tolerance+1. A success resets the count.
	Tolerance int

	Func func(ctx context.Context) error
}

// Config schedules a Task.
type Config struct {
	StartDelay time.Duration // Delay before the first round (default: 0)
	Interval   time.Duration // Delay between rounds (default: 5s)
	Duration   time.Duration // Total budget measured from Start (default: 1m)

	Logger logr.Logger
	Clock  internal.Clock
}

// DefaultConfig returns the schedule used by the long-lived runner.
func DefaultConfig() Config {
	return Config{
		StartDelay: 5 * time.Second,
		Interval:   5 * time.Second,
		Duration:   time.Minute,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.Duration <= 0 {
		c.Duration = time.Minute
	}
	if c.Clock == nil {
		c.Clock = internal.MonotonicClock{}
	}
	if c.Logger.GetSink() == nil {
		c.Logger = logr.Discard()
	}
	return c
}

// CheckError reports the check that ended a Task.
type CheckError struct {
	Check    string
	Failures int
	Err      error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("heartbeat check %q failed %d consecutive times: %v", e.Check, e.Failures, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}

// Task is a running heartbeat.
type Task struct {
	done   chan struct{}
	cancel context.CancelFunc
	rounds atomic.Int64

	mu  sync.Mutex
	err error
}

// Start runs checks on the schedule in cfg until the budget is spent, a
// check exceeds its tolerance, ctx is done or Stop is called.
func Start(ctx context.Context, cfg Config, checks ...Check) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go t.run(ctx, cfg.withDefaults(), checks)
	return t
}

func (t *Task) run(ctx context.Context, cfg Config, checks []Check) {
	defer close(t.done)
	defer t.cancel()

	log := cfg.Logger
	start := cfg.Clock.Now()
	if cfg.StartDelay > 0 {
		select {
		case <-ctx.Done():
			t.finish(ctx.Err())
			return
		case <-cfg.Clock.After(cfg.StartDelay):
		}
	}

	failures := make([]int, len(checks))
	for {
		round := t.rounds.Add(1)
		elapsed := cfg.Clock.Now().Sub(start)
		log.V(1).Info("heartbeat", "round", round, "remaining", (cfg.Duration - elapsed).String())

		for i, c := range checks {
			err := c.Func(ctx)
			if ctx.Err() != nil {
				t.finish(ctx.Err())
				return
			}
			if err == nil {
				failures[i] = 0
				continue
			}
			failures[i]++
			log.Info("heartbeat check failed", "check", c.Name, "failures", failures[i], "tolerance", c.Tolerance, "error", err.Error())
			if failures[i] > c.Tolerance {
				t.finish(&CheckError{Check: c.Name, Failures: failures[i], Err: err})
				return
			}
		}

		if cfg.Clock.Now().Sub(start) >= cfg.Duration {
			log.Info("heartbeat finished", "rounds", round)
			t.finish(nil)
			return
		}

		select {
		case <-ctx.Done():
			t.finish(ctx.Err())
			return
		case <-cfg.Clock.After(cfg.Interval):
		}
	}
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Done is closed when the task ends.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns nil while running and after a clean finish, a *CheckError when
// a check failed, or the context error when the task was stopped.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Rounds returns the number of check rounds started so far.
func (t *Task) Rounds() int {
	return int(t.rounds.Load())
}

// Wait blocks until the task ends or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the task and waits for it to end. It is safe to call more
// than once and after the task has finished.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

// Failed reports whether err ended a task because of a failing check.
func Failed(err error) bool {
	var ce *CheckError
	return errors.As(err, &ce)
}
