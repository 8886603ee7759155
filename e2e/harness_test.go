//go:build e2e

package e2e

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thesyncim/meetsuite/cmd/meetfixture/server"
	"github.com/thesyncim/meetsuite/pkg/config"
	"github.com/thesyncim/meetsuite/pkg/driver"
	"github.com/thesyncim/meetsuite/pkg/logging"
	"github.com/thesyncim/meetsuite/pkg/meet"
	"github.com/thesyncim/meetsuite/pkg/poll"
	"github.com/thesyncim/meetsuite/pkg/predicate"
	"github.com/thesyncim/meetsuite/pkg/session"
)

// fixture is the conference server a test runs against.
type fixture struct {
	BaseURL string

	// Server is nil when the suite targets an external deployment.
	Server *server.Server
}

func suiteConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.FromEnv()
	require.NoError(t, err)
	return cfg
}

// startFixture starts an in-process server on a random port, or points at
// MEETSUITE_BASE_URL when set.
func startFixture(t *testing.T, cfg config.Config, mutate func(*server.Config)) *fixture {
	t.Helper()
	if cfg.BaseURL != "" {
		return &fixture{BaseURL: cfg.BaseURL}
	}

	scfg := server.DefaultConfig()
	scfg.Logger = logging.ForTest(t).WithName("fixture")
	scfg.MaxParticipants = cfg.MaxParticipants
	if mutate != nil {
		mutate(&scfg)
	}
	srv, err := server.NewServer(scfg)
	require.NoError(t, err)
	addr, err := srv.Start()
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("server shutdown error: %v", err)
		}
	})
	t.Logf("fixture started on %s", addr)
	return &fixture{BaseURL: "http://" + addr, Server: srv}
}

// requireFixture skips tests that need control over the server.
func (f *fixture) requireFixture(t *testing.T) {
	t.Helper()
	if f.Server == nil {
		t.Skip("needs the in-process fixture server")
	}
}

// newConference returns a conference in a fresh room with its own
// orchestrator. Sessions are stopped when the test ends; failed tests get
// screenshots first.
func newConference(t *testing.T, cfg config.Config, f *fixture) *meet.Conference {
	t.Helper()
	launch, err := driver.Launcher(cfg.Backend)
	require.NoError(t, err)

	log := logging.ForTest(t)
	orch := session.New(launch,
		session.WithLogger(log),
		session.WithStopHook(func(ctx context.Context, s *session.Session) error {
			return (&meet.Participant{Session: s}).Hangup(ctx)
		}),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if t.Failed() {
			dir := filepath.Join(cfg.ArtifactsDir, strings.ReplaceAll(t.Name(), "/", "_"))
			if err := orch.Diagnose(ctx, dir); err != nil {
				t.Logf("diagnostics: %v", err)
			} else {
				t.Logf("diagnostics written to %s", dir)
			}
		}
		if err := orch.StopAll(ctx); err != nil {
			t.Errorf("stop sessions: %v", err)
		}
	})

	conf := meet.NewConference(orch, f.BaseURL)
	conf.Browser = cfg.BrowserOptions()
	conf.Browser.Logger = log
	conf.Poll = &poll.Options{Timeout: 3 * cfg.Timeout, Interval: cfg.PollInterval}
	return conf
}

func join(t *testing.T, conf *meet.Conference, role string, opts meet.JoinOptions) *meet.Participant {
	t.Helper()
	p, err := conf.Join(context.Background(), role, opts)
	require.NoError(t, err)
	return p
}

// joinMedia joins role and waits until its media is connected.
func joinMedia(t *testing.T, conf *meet.Conference, role string, opts meet.JoinOptions) *meet.Participant {
	t.Helper()
	p := join(t, conf, role, opts)
	wait(t, p, meet.IceConnected())
	return p
}

func wait(t *testing.T, p *meet.Participant, pred predicate.Predicate) *poll.Outcome {
	t.Helper()
	out, err := p.WaitUntil(context.Background(), pred)
	require.NoError(t, err)
	return out
}
