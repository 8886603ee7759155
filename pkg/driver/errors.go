package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrSessionUnavailable reports a browser that crashed, was closed, or was
	// never started. Retrying against it is futile.
	ErrSessionUnavailable = errors.New("browser session unavailable")

	// ErrNoSuchElement reports that no element matched a locator.
	ErrNoSuchElement = errors.New("no such element")
)

// TransientError wraps a query failure caused by a momentary DOM state, such
// as a stale element, a missing element, or a script that threw because the
// page was still loading. Such failures may succeed when retried.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	if e.Op == "" {
		return "transient: " + e.Err.Error()
	}
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a *TransientError for operation op.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is worth retrying.
// Context deadline errors count as transient: the query ran out of its
// per-evaluation budget, not the session.
func IsTransient(err error) bool {
	if err == nil || IsUnavailable(err) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsUnavailable reports whether err means the browser session is gone.
func IsUnavailable(err error) bool {
	return err != nil && errors.Is(err, ErrSessionUnavailable)
}

// unavailable wraps err with ErrSessionUnavailable, keeping the cause.
func unavailable(op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, ErrSessionUnavailable)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrSessionUnavailable, err)
}

// isConnectionLoss reports transport-level failures that mean the DevTools
// connection to the browser is gone.
func isConnectionLoss(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range connectionLossMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// connectionLossMessages are DevTools protocol error texts that mean the
// target or the browser is gone.
var connectionLossMessages = []string{
	"target closed",
	"session with given id not found",
	"no target with given id",
	"websocket: close",
	"use of closed network connection",
	"browser has disconnected",
	"connection closed",
}

// staleMessages are DevTools protocol error texts caused by DOM mutation
// between two protocol calls.
var staleMessages = []string{
	"could not find node with given id",
	"cannot find context with specified id",
	"execution context was destroyed",
	"node is detached from document",
	"no node with given id found",
	"inspected target navigated or closed",
	"object reference chain is too long",
	"cannot find object with id",
}

func isStale(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range staleMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
