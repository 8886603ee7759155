// Package health talks to the conference server's diagnostic endpoints:
// the JSON statistics document and the shutdown admin endpoint.
package health

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/thesyncim/meetsuite/pkg/poll"
)

const (
	// StatsPath serves the statistics document.
	StatsPath = "/stats"

	// ShutdownPath accepts graceful and forced shutdown requests.
	ShutdownPath = "/admin/shutdown"
)

// Count is a statistics counter. Servers report counters either as JSON
// numbers or as quoted numbers; both decode.
type Count int64

// UnmarshalJSON accepts 3, "3" and null.
func (c *Count) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*c = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		*c = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid count %s: %w", b, err)
	}
	*c = Count(n)
	return nil
}

// Stats is the statistics document.
type Stats struct {
	Conferences  Count `json:"conferences"`
	Participants Count `json:"participants"`
	ShuttingDown bool  `json:"shutting_down"`
}

// Client queries a conference server.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient returns a Client for baseURL with a 10s request timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

// Stats fetches the current statistics.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+StatsPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("get stats: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var s Stats
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &s, nil
}

// Shutdown asks the server to shut down. A graceful shutdown refuses new
// conferences and waits for the running ones to end; a forced one ends
// them immediately.
func (c *Client) Shutdown(ctx context.Context, force bool) error {
	key := "graceful-shutdown"
	if force {
		key = "force-shutdown"
	}
	body, err := json.Marshal(map[string]string{key: "true"})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+ShutdownPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", key, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %d", key, resp.StatusCode)
	}
	return nil
}

// WaitDrained polls the statistics until no conference is running. A
// server that stopped accepting connections counts as drained.
func (c *Client) WaitDrained(ctx context.Context, opts *poll.Options) (*poll.Outcome, error) {
	return poll.Until(ctx, poll.Condition{
		Name: "conferences == 0",
		Func: func(ctx context.Context) (bool, any, error) {
			s, err := c.Stats(ctx)
			if isConnectionRefused(err) {
				return true, "server gone", nil
			}
			if err != nil {
				return false, nil, err
			}
			return s.Conferences == 0, s.Conferences, nil
		},
	}, opts)
}

func isConnectionRefused(err error) bool {
	return err != nil && errors.Is(err, syscall.ECONNREFUSED)
}
