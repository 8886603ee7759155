// Long-lived conference runner.
//
// This tool joins two browsers to a room on a running conference server and
// keeps checking that both stay joined with media flowing, for up to hours.
//
// Usage:
//
//	longlived --base-url https://meet.example.com --duration 1h
//	longlived --config suite.yaml --duration 10m --min-kbps 100
//
// Settings not given as flags come from the YAML file and MEETSUITE_*
// environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/thesyncim/meetsuite/pkg/config"
	"github.com/thesyncim/meetsuite/pkg/driver"
	"github.com/thesyncim/meetsuite/pkg/heartbeat"
	"github.com/thesyncim/meetsuite/pkg/logging"
	"github.com/thesyncim/meetsuite/pkg/meet"
	"github.com/thesyncim/meetsuite/pkg/poll"
	"github.com/thesyncim/meetsuite/pkg/session"
)

// Roles joined by the runner. The owner joins first and moderates.
const (
	roleOwner  = "owner"
	roleSecond = "second"
)

// Result contains the results of a long-lived run.
type Result struct {
	Room     string
	Duration time.Duration
	Rounds   int
	Err      error
	Status   string
}

type runFlags struct {
	configPath string
	baseURL    string
	backend    string
	duration   time.Duration
	interval   time.Duration
	startDelay time.Duration
	minKbps    int
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:          "longlived",
		Short:        "Keep two participants in a conference and check their health",
		Args:         cobra.NoArgs,
		SilenceUsage: true, // do not print usage message when commands fail
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result := run(ctx, cfg, f.minKbps)
			printSummary(cmd.OutOrStdout(), result)
			return result.Err
		},
	}
	bindFlags(cmd, &f)
	return cmd
}

func bindFlags(cmd *cobra.Command, f *runFlags) {
	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", os.Getenv(config.EnvConfigFile), "YAML configuration file")
	flags.StringVar(&f.baseURL, "base-url", "", "conference server, e.g. https://meet.example.com")
	flags.StringVar(&f.backend, "backend", "", "browser backend (rod, chromedp)")
	flags.DurationVar(&f.duration, "duration", 0, "how long to keep checking (e.g. 10m, 24h)")
	flags.DurationVar(&f.interval, "interval", 0, "delay between check rounds")
	flags.DurationVar(&f.startDelay, "start-delay", 0, "delay before the first round")
	flags.IntVar(&f.minKbps, "min-kbps", 50, "lowest acceptable upload bitrate per participant")
}

// resolveConfig layers flags the user set over the file and environment.
func resolveConfig(cmd *cobra.Command, f runFlags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	changed := cmd.Flags().Changed
	if changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if changed("backend") {
		cfg.Backend = f.backend
	}
	if changed("duration") {
		cfg.LongLived.Duration = f.duration
	}
	if changed("interval") {
		cfg.LongLived.Interval = f.interval
	}
	if changed("start-delay") {
		cfg.LongLived.StartDelay = f.startDelay
	}
	if cfg.BaseURL == "" {
		return config.Config{}, errors.New("a conference server is required (--base-url or MEETSUITE_BASE_URL)")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config, minKbps int) Result {
	start := time.Now()
	result := Result{Status: "PASS"}
	fail := func(err error) Result {
		result.Err = err
		result.Status = "FAIL"
		result.Duration = time.Since(start)
		return result
	}

	log, flush, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fail(err)
	}
	defer flush()

	launch, err := driver.Launcher(cfg.Backend)
	if err != nil {
		return fail(err)
	}
	orch := session.New(launch, session.WithLogger(log), session.WithStopHook(hangup))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := orch.StopAll(stopCtx); err != nil {
			log.Error(err, "failed to stop sessions")
		}
	}()

	conf := meet.NewConference(orch, cfg.BaseURL)
	conf.Browser = cfg.BrowserOptions()
	conf.Browser.Logger = log
	conf.Poll = &poll.Options{Timeout: 3 * cfg.Timeout, Interval: cfg.PollInterval}
	result.Room = conf.Room
	log.Info("joining", "room", conf.Room, "url", conf.URL(meet.Fragment{}))

	participants, err := joinAll(ctx, conf)
	if err != nil {
		diagnose(orch, cfg.ArtifactsDir, log)
		return fail(err)
	}

	var checks []heartbeat.Check
	for _, p := range participants {
		checks = append(checks, p.HeartbeatChecks(minKbps)...)
	}
	task := heartbeat.Start(ctx, heartbeat.Config{
		StartDelay: cfg.LongLived.StartDelay,
		Interval:   cfg.LongLived.Interval,
		Duration:   cfg.LongLived.Duration,
		Logger:     log.WithName("heartbeat"),
	}, checks...)
	<-task.Done()

	result.Rounds = task.Rounds()
	interrupted, err := heartbeatOutcome(ctx, task.Err(), result.Rounds)
	switch {
	case interrupted:
		log.Info("interrupted", "rounds", result.Rounds)
		result = fail(err)
		result.Status = "INTERRUPTED"
		return result
	case err != nil:
		diagnose(orch, cfg.ArtifactsDir, log)
		return fail(err)
	}
	result.Duration = time.Since(start)
	return result
}

// heartbeatOutcome decides how a finished heartbeat ends the run. A
// cancelled ctx means the user stopped the run, whatever the task reported.
func heartbeatOutcome(ctx context.Context, taskErr error, rounds int) (interrupted bool, err error) {
	if ctx.Err() != nil {
		return true, fmt.Errorf("interrupted after %d rounds: %w", rounds, ctx.Err())
	}
	return false, taskErr
}

func joinAll(ctx context.Context, conf *meet.Conference) ([]*meet.Participant, error) {
	var participants []*meet.Participant
	for _, role := range []string{roleOwner, roleSecond} {
		p, err := conf.Join(ctx, role, meet.JoinOptions{Fragment: meet.Fragment{DisplayName: role}})
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	for _, p := range participants {
		if _, err := p.WaitUntil(ctx, meet.ParticipantCount(len(participants))); err != nil {
			return nil, err
		}
		if _, err := p.WaitUntil(ctx, meet.IceConnected()); err != nil {
			return nil, err
		}
	}
	return participants, nil
}

// hangup leaves the conference before the browser closes, so the server
// sees a clean departure.
func hangup(ctx context.Context, s *session.Session) error {
	p := &meet.Participant{Session: s}
	return p.Hangup(ctx)
}

func diagnose(orch *session.Orchestrator, dir string, log logr.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := orch.Diagnose(ctx, dir); err != nil {
		log.Error(err, "failed to collect diagnostics", "dir", dir)
		return
	}
	log.Info("diagnostics written", "dir", dir)
}

func printSummary(w io.Writer, result Result) {
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Long-lived Run Complete\n")
	fmt.Fprintf(w, "=======================\n")
	fmt.Fprintf(w, "Room:      %s\n", result.Room)
	fmt.Fprintf(w, "Duration:  %s\n", formatDuration(result.Duration))
	fmt.Fprintf(w, "Rounds:    %d\n", result.Rounds)
	fmt.Fprintf(w, "Status:    %s\n", result.Status)
	if result.Err != nil {
		fmt.Fprintf(w, "Error:     %v\n", result.Err)
		var ce *heartbeat.CheckError
		if errors.As(result.Err, &ce) {
			fmt.Fprintf(w, "Check:     %s (%d consecutive failures)\n", ce.Check, ce.Failures)
		}
	}
	fmt.Fprintf(w, "\n")
}

func formatDuration(d time.Duration) string {
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
