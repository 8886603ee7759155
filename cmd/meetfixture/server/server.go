// Package server provides an importable conferencing fixture: rooms joined
// over a WebSocket signaling channel, media received over WebRTC, and the
// statistics and shutdown endpoints a health checker polls. Tests start and
// stop it programmatically without running main().
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds server configuration options.
type Config struct {
	Addr         string        // Listen address (e.g., ":8080" or ":0" for random port)
	ReadTimeout  time.Duration // HTTP read timeout
	WriteTimeout time.Duration // HTTP write timeout

	// MaxParticipants caps each room; further joins are rejected as full.
	MaxParticipants int

	// SpeakerInterval is how often each room elects a dominant speaker.
	SpeakerInterval time.Duration

	Logger logr.Logger

	// OnDrained is called once when a shutdown was requested and the last
	// room has ended.
	OnDrained func()
}

// DefaultConfig returns a configuration suitable for testing.
// Uses ":0" to bind to a random available port.
func DefaultConfig() Config {
	return Config{
		Addr:            ":0",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		MaxParticipants: 10,
		SpeakerInterval: 500 * time.Millisecond,
	}
}

// Server is an importable conferencing fixture.
type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *hub
	metrics    *metrics
	registry   *prometheus.Registry
	log        logr.Logger
	speakerInt time.Duration

	listener net.Listener
	addr     string
	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	stopped  chan struct{}
}

// NewServer creates a new server with the given configuration.
// The server is not started until Start() is called.
func NewServer(cfg Config) (*Server, error) {
	if cfg.MaxParticipants <= 0 {
		return nil, fmt.Errorf("max participants must be positive, got %d", cfg.MaxParticipants)
	}
	if cfg.SpeakerInterval <= 0 {
		cfg.SpeakerInterval = DefaultConfig().SpeakerInterval
	}
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}

	reg := prometheus.NewRegistry()
	m := newMetrics(reg)
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		hub:        newHub(cfg.MaxParticipants, log, m, cfg.OnDrained),
		metrics:    m,
		registry:   reg,
		log:        log,
		speakerInt: cfg.SpeakerInterval,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Handler returns the HTTP handler, for serving without Start.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests.
// Returns the actual address the server is listening on (useful when port is 0).
// This method is non-blocking - the server runs in a goroutine.
func (s *Server) Start() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return s.addr, nil
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen: %w", err)
	}

	s.listener = ln
	s.addr = ln.Addr().String()
	s.running = true
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(err, "server stopped")
		}
	}()
	go s.electSpeakers(s.stop, s.stopped)

	s.log.Info("server started", "addr", s.addr)
	return s.addr, nil
}

func (s *Server) electSpeakers(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(s.speakerInt)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.hub.electSpeakers()
		}
	}
}

// Shutdown stops the server. Signaling connections are hijacked and outlive
// http.Server.Shutdown, so they are closed explicitly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false
	close(s.stop)
	<-s.stopped
	s.hub.closeAll()
	return s.httpServer.Shutdown(ctx)
}

// Addr returns the address the server is listening on.
// Returns empty string if server is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stats returns the current statistics document.
func (s *Server) Stats() Stats {
	return s.hub.stats()
}

// RequestShutdown refuses new joins. When force is set every participant is
// disconnected as well.
func (s *Server) RequestShutdown(force bool) {
	s.hub.shutdown(force)
}
