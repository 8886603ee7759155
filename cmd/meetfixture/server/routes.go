package server

import (
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thesyncim/meetsuite/pkg/avatar"
)

var roomPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func validRoom(name string) bool {
	return roomPattern.MatchString(name)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/stats", s.handleStats)
	r.Post("/admin/shutdown", s.handleShutdown)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get(avatar.Default, handleAvatar)
	r.Get("/ws/{room}", s.handleWebSocket)
	r.Post("/offer/{room}/{participant}", s.handleOffer)
	r.Get("/{room}", s.handleRoom)
	return r
}

// handleIndex sends visitors to a fresh room.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	name := "room-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
	http.Redirect(w, r, "/"+name, http.StatusFound)
}

func (s *Server) handleRoom(w http.ResponseWriter, r *http.Request) {
	if !validRoom(chi.URLParam(r, "room")) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, HTMLPage)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.hub.stats())
}

// handleShutdown accepts {"graceful-shutdown":"true"} or {"force-shutdown":"true"}.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	switch {
	case req["force-shutdown"] == "true":
		s.hub.shutdown(true)
	case req["graceful-shutdown"] == "true":
		s.hub.shutdown(false)
	default:
		http.Error(w, "expected graceful-shutdown or force-shutdown", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.hub.stats())
}

func handleAvatar(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/svg+xml")
	_, _ = io.WriteString(w, avatarSVG)
}
