// Package poll implements a generic retry-until-true-or-timeout loop.
//
// A Condition is evaluated repeatedly until it reports success, reports a
// permanent failure, or the timeout elapses. Conditions must be idempotent
// and free of side effects: the poller may evaluate them any number of
// times within the timeout window.
//
// Typical use:
//
//	outcome, err := poll.Until(ctx, poll.Condition{
//	    Name: "ice connected",
//	    Func: func(ctx context.Context) (bool, any, error) {
//	        state, err := readState(ctx)
//	        return state == "connected", state, err
//	    },
//	}, &poll.Options{Timeout: 30 * time.Second})
package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/thesyncim/meetsuite/pkg/internal"
)

const (
	// DefaultTimeout is used when Options.Timeout is zero.
	DefaultTimeout = 10 * time.Second

	// DefaultInterval is used when Options.Interval is zero.
	DefaultInterval = 500 * time.Millisecond
)

// Func evaluates a condition once.
//
// Returning met=true ends the poll successfully with observed as the
// outcome value. Returning met=false with a nil error means "not yet".
// A non-nil error is treated as a transient query failure and retried,
// unless it was wrapped with Break, which ends the poll immediately.
type Func func(ctx context.Context) (met bool, observed any, err error)

// Condition is a named, re-evaluatable check.
type Condition struct {
	// Name describes what is being waited for. It is used in timeout
	// diagnostics, e.g. "participant abc audio muted".
	Name string

	// Func performs a single evaluation.
	Func Func
}

// Options configures a poll.
type Options struct {
	// Timeout is the maximum time to wait (default: 10s).
	Timeout time.Duration

	// Interval is the delay between evaluations (default: 500ms).
	Interval time.Duration

	// Clock overrides the time source. Nil uses the monotonic clock.
	Clock internal.Clock
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.Interval <= 0 {
		out.Interval = DefaultInterval
	}
	if out.Clock == nil {
		out.Clock = internal.MonotonicClock{}
	}
	return out
}

// Outcome describes a successful poll.
type Outcome struct {
	// Value is the observed value returned by the successful evaluation.
	Value any

	// Elapsed is the time from the start of the poll to the successful evaluation.
	Elapsed time.Duration

	// Attempts is the number of evaluations performed, including the successful one.
	Attempts int
}

// Until evaluates cond until it is met, fails permanently, or the timeout
// elapses. It returns a *TimeoutError when the timeout elapses, the
// unwrapped cause when cond reports a permanent failure, and an error
// wrapping ctx.Err() when ctx is done first.
func Until(ctx context.Context, cond Condition, opts *Options) (*Outcome, error) {
	if cond.Func == nil {
		return nil, fmt.Errorf("poll %q: nil condition func", cond.Name)
	}
	o := opts.withDefaults()

	start := o.Clock.Now()
	deadline := start.Add(o.Timeout)

	var (
		attempts int
		last     any
		lastErr  error
	)
	for {
		attempts++

		met, observed, err := evaluate(ctx, cond.Func, deadline.Sub(o.Clock.Now()))
		switch {
		case err != nil:
			if cause, ok := breakCause(err); ok {
				return nil, fmt.Errorf("%s: %w", cond.Name, cause)
			}
			lastErr = err
		case met:
			return &Outcome{
				Value:    observed,
				Elapsed:  o.Clock.Now().Sub(start),
				Attempts: attempts,
			}, nil
		default:
			last = observed
			lastErr = nil
		}

		now := o.Clock.Now()
		remaining := deadline.Sub(now)
		if remaining <= 0 {
			return nil, &TimeoutError{
				Condition: cond.Name,
				Timeout:   o.Timeout,
				Elapsed:   now.Sub(start),
				Attempts:  attempts,
				Last:      last,
				LastErr:   lastErr,
			}
		}

		wait := o.Interval
		if remaining < wait {
			// The final evaluation happens right at the deadline.
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s: %w", cond.Name, ctx.Err())
		case <-o.Clock.After(wait):
		}
	}
}

// evaluate runs f with a context bounded by the time remaining, so a single
// hung query cannot hold the poll past its deadline.
func evaluate(ctx context.Context, f Func, remaining time.Duration) (bool, any, error) {
	if err := ctx.Err(); err != nil {
		return false, nil, Break(err)
	}
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	evalCtx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	return f(evalCtx)
}
