// Conference fixture server
//
// meetfixture serves a minimal conferencing backend for browser tests: rooms
// joined over WebSocket signaling, media received by a Pion peer connection,
// and the /stats and /admin/shutdown endpoints a health checker polls.
//
// Usage:
//
//	meetfixture serve --addr :8080 --max-participants 10
//	open http://localhost:8080/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/thesyncim/meetsuite/cmd/meetfixture/server"
	"github.com/thesyncim/meetsuite/pkg/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "meetfixture",
		Short:        "Conference fixture for browser tests",
		SilenceUsage: true, // do not print usage message when commands fail
	}
	root.AddCommand(newServeCommand())
	return root
}

type serveFlags struct {
	addr            string
	maxParticipants int
	speakerInterval time.Duration
	drainTimeout    time.Duration
	logLevel        string
	logFormat       string
}

func newServeCommand() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the conference fixture until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), f)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.addr, "addr", ":8080", "listen address")
	flags.IntVar(&f.maxParticipants, "max-participants", server.DefaultConfig().MaxParticipants, "participants allowed per room")
	flags.DurationVar(&f.speakerInterval, "speaker-interval", server.DefaultConfig().SpeakerInterval, "dominant speaker election interval")
	flags.DurationVar(&f.drainTimeout, "drain-timeout", 30*time.Second, "how long an interrupted server waits for rooms to end")
	flags.StringVar(&f.logLevel, "log-level", logging.LevelInfo, "log level (error, info, debug, trace)")
	flags.StringVar(&f.logFormat, "log-format", logging.FormatConsole, "log format (json, console)")
	return cmd
}

func runServe(ctx context.Context, f serveFlags) error {
	log, flush, err := logging.New(f.logLevel, f.logFormat)
	if err != nil {
		return err
	}
	defer flush()

	drained := make(chan struct{})
	cfg := server.DefaultConfig()
	cfg.Addr = f.addr
	cfg.MaxParticipants = f.maxParticipants
	cfg.SpeakerInterval = f.speakerInterval
	cfg.Logger = log
	cfg.OnDrained = func() { close(drained) }

	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	addr, err := srv.Start()
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	log.Info("listening", "addr", addr)

	if ctx == nil {
		ctx = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-drained:
		log.Info("drained after shutdown request")
	case <-sigCtx.Done():
		log.Info("interrupted, draining", "timeout", f.drainTimeout)
		srv.RequestShutdown(false)
		select {
		case <-drained:
		case <-time.After(f.drainTimeout):
			log.Info("drain timed out, closing remaining rooms")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
