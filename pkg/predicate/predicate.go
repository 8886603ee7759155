// Package predicate adapts browser queries into poll conditions.
//
// A Predicate is built once and bound to any session's driver:
//
//	muted := predicate.AttributeEquals(driver.CSS("#participant-abc"), "data-audio-muted", "true")
//	_, err := predicate.WaitUntil(ctx, d, muted, 10*time.Second, 500*time.Millisecond)
//
// Driver failures are mapped onto the poller's tri-state: a session that
// is gone stops the poll, transient query failures are retried, and any
// other error stops the poll.
package predicate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thesyncim/meetsuite/pkg/driver"
	"github.com/thesyncim/meetsuite/pkg/poll"
)

// Predicate builds a condition evaluated against a browser session.
type Predicate func(d driver.Driver) poll.Condition

// classify maps a driver error onto the poller's contract.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case driver.IsUnavailable(err):
		return poll.Break(err)
	case driver.IsTransient(err):
		return err
	default:
		return poll.Break(err)
	}
}

// Script is met when body evaluates to a truthy value.
func Script(body string, args ...any) Predicate {
	return func(d driver.Driver) poll.Condition {
		return poll.Condition{
			Name: "script " + abbreviate(body),
			Func: func(ctx context.Context) (bool, any, error) {
				v, err := d.Eval(ctx, body, args...)
				if err != nil {
					return false, nil, classify(err)
				}
				return truthy(v), v, nil
			},
		}
	}
}

// ScriptEquals is met when body evaluates to expected. Both sides are
// compared in their JSON form, so numeric types need not match.
func ScriptEquals(body string, expected any, args ...any) Predicate {
	return func(d driver.Driver) poll.Condition {
		want, normErr := normalize(expected)
		return poll.Condition{
			Name: fmt.Sprintf("script %s == %v", abbreviate(body), expected),
			Func: func(ctx context.Context) (bool, any, error) {
				if normErr != nil {
					return false, nil, poll.Break(normErr)
				}
				v, err := d.Eval(ctx, body, args...)
				if err != nil {
					return false, nil, classify(err)
				}
				got, err := normalize(v)
				if err != nil {
					return false, v, poll.Break(err)
				}
				return reflect.DeepEqual(got, want), v, nil
			},
		}
	}
}

// Present is met when at least one element matches loc.
func Present(loc driver.Locator) Predicate {
	return countWhere("present "+loc.String(), loc, func(n int) bool { return n > 0 })
}

// Absent is met when no element matches loc.
func Absent(loc driver.Locator) Predicate {
	return countWhere("absent "+loc.String(), loc, func(n int) bool { return n == 0 })
}

// Count is met when exactly n elements match loc.
func Count(loc driver.Locator, n int) Predicate {
	return countWhere(fmt.Sprintf("count %s == %d", loc, n), loc, func(got int) bool { return got == n })
}

func countWhere(name string, loc driver.Locator, ok func(int) bool) Predicate {
	return func(d driver.Driver) poll.Condition {
		return poll.Condition{
			Name: name,
			Func: func(ctx context.Context) (bool, any, error) {
				n, err := d.Count(ctx, loc)
				if err != nil {
					return false, nil, classify(err)
				}
				return ok(n), n, nil
			},
		}
	}
}

// Visible is met when the first element matching loc is displayed.
func Visible(loc driver.Locator) Predicate {
	return func(d driver.Driver) poll.Condition {
		return poll.Condition{
			Name: "visible " + loc.String(),
			Func: func(ctx context.Context) (bool, any, error) {
				ok, err := d.Visible(ctx, loc)
				if err != nil {
					return false, nil, classify(err)
				}
				return ok, ok, nil
			},
		}
	}
}

// Hidden is met when no element matches loc or the first match is not displayed.
func Hidden(loc driver.Locator) Predicate {
	return func(d driver.Driver) poll.Condition {
		return poll.Condition{
			Name: "hidden " + loc.String(),
			Func: func(ctx context.Context) (bool, any, error) {
				n, err := d.Count(ctx, loc)
				if err != nil {
					return false, nil, classify(err)
				}
				if n == 0 {
					return true, "absent", nil
				}
				ok, err := d.Visible(ctx, loc)
				if errors.Is(err, driver.ErrNoSuchElement) {
					// Removed between the two queries.
					return true, "absent", nil
				}
				if err != nil {
					return false, nil, classify(err)
				}
				if ok {
					return false, "visible", nil
				}
				return true, "hidden", nil
			},
		}
	}
}

// AttributeEquals is met when the attribute is present and equals value.
func AttributeEquals(loc driver.Locator, name, value string) Predicate {
	return attributeWhere(fmt.Sprintf("%s[%s] == %q", loc, name, value), loc, name,
		func(v string) bool { return v == value })
}

// AttributeContains is met when the attribute is present and contains substr.
func AttributeContains(loc driver.Locator, name, substr string) Predicate {
	return attributeWhere(fmt.Sprintf("%s[%s] contains %q", loc, name, substr), loc, name,
		func(v string) bool { return strings.Contains(v, substr) })
}

// HasClass is met when class is one of the element's classes.
func HasClass(loc driver.Locator, class string) Predicate {
	return attributeWhere(fmt.Sprintf("%s has class %q", loc, class), loc, "class",
		func(v string) bool { return slices.Contains(strings.Fields(v), class) })
}

func attributeWhere(name string, loc driver.Locator, attr string, ok func(string) bool) Predicate {
	return func(d driver.Driver) poll.Condition {
		return poll.Condition{
			Name: name,
			Func: func(ctx context.Context) (bool, any, error) {
				v, present, err := d.Attribute(ctx, loc, attr)
				if err != nil {
					return false, nil, classify(err)
				}
				if !present {
					return false, nil, nil
				}
				return ok(v), v, nil
			},
		}
	}
}

// TextEquals is met when the element's trimmed text equals text.
func TextEquals(loc driver.Locator, text string) Predicate {
	return func(d driver.Driver) poll.Condition {
		return poll.Condition{
			Name: fmt.Sprintf("%s text == %q", loc, text),
			Func: func(ctx context.Context) (bool, any, error) {
				s, err := d.Text(ctx, loc)
				if err != nil {
					return false, nil, classify(err)
				}
				s = strings.TrimSpace(s)
				return s == text, s, nil
			},
		}
	}
}

// Not inverts p. Errors from p pass through unchanged.
func Not(p Predicate) Predicate {
	return func(d driver.Driver) poll.Condition {
		inner := p(d)
		return poll.Condition{
			Name: "not " + inner.Name,
			Func: func(ctx context.Context) (bool, any, error) {
				met, observed, err := inner.Func(ctx)
				if err != nil {
					return false, observed, err
				}
				return !met, observed, nil
			},
		}
	}
}

// All is met when every predicate is met. Evaluation stops at the first
// predicate that is not met; its observation is reported.
func All(ps ...Predicate) Predicate {
	return func(d driver.Driver) poll.Condition {
		conds := bind(d, ps)
		return poll.Condition{
			Name: joinNames("all", conds),
			Func: func(ctx context.Context) (bool, any, error) {
				for _, c := range conds {
					met, observed, err := c.Func(ctx)
					if err != nil {
						return false, nil, fmt.Errorf("%s: %w", c.Name, err)
					}
					if !met {
						return false, fmt.Sprintf("%s: %v", c.Name, observed), nil
					}
				}
				return true, nil, nil
			},
		}
	}
}

// Any is met when at least one predicate is met. Transient errors from one
// predicate do not prevent the others from being evaluated.
func Any(ps ...Predicate) Predicate {
	return func(d driver.Driver) poll.Condition {
		conds := bind(d, ps)
		return poll.Condition{
			Name: joinNames("any", conds),
			Func: func(ctx context.Context) (bool, any, error) {
				var lastErr error
				for _, c := range conds {
					met, observed, err := c.Func(ctx)
					if err != nil {
						if poll.IsBreak(err) {
							return false, nil, err
						}
						lastErr = fmt.Errorf("%s: %w", c.Name, err)
						continue
					}
					if met {
						return true, observed, nil
					}
				}
				return false, nil, lastErr
			},
		}
	}
}

func bind(d driver.Driver, ps []Predicate) []poll.Condition {
	conds := make([]poll.Condition, len(ps))
	for i, p := range ps {
		conds[i] = p(d)
	}
	return conds
}

func joinNames(op string, conds []poll.Condition) string {
	names := make([]string, len(conds))
	for i, c := range conds {
		names[i] = c.Name
	}
	return op + "(" + strings.Join(names, ", ") + ")"
}

// WaitUntil polls p against d until it is met or timeout elapses.
func WaitUntil(ctx context.Context, d driver.Driver, p Predicate, timeout, interval time.Duration) (*poll.Outcome, error) {
	return poll.Until(ctx, p(d), &poll.Options{Timeout: timeout, Interval: interval})
}

// Must is WaitUntil for tests: it fails t with the timeout diagnostic.
func Must(t testing.TB, ctx context.Context, d driver.Driver, p Predicate, timeout, interval time.Duration) *poll.Outcome {
	t.Helper()
	out, err := WaitUntil(ctx, d, p, timeout, interval)
	require.NoError(t, err)
	return out
}

// truthy mirrors JavaScript truthiness for JSON-decoded values.
func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0 && !math.IsNaN(x)
	case int:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize %T: %w", v, err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("normalize %T: %w", v, err)
	}
	return out, nil
}

func abbreviate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}
