package server

import (
	"errors"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/thesyncim/meetsuite/pkg/avatar"
)

// Join rejection reasons sent to the page in error messages.
const (
	ReasonPasswordRequired = "password-required"
	ReasonConferenceFull   = "conference-full"
	ReasonShuttingDown     = "shutting-down"
	ReasonNotModerator     = "not-moderator"
	ReasonBadRequest       = "bad-request"
)

var (
	errPasswordRequired = errors.New(ReasonPasswordRequired)
	errConferenceFull   = errors.New(ReasonConferenceFull)
	errShuttingDown     = errors.New(ReasonShuttingDown)
)

// clientMessage is a signaling message from the page.
type clientMessage struct {
	Type        string `json:"type"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
	Password    string `json:"password,omitempty"`
	AudioMuted  *bool  `json:"audioMuted,omitempty"`
	VideoMuted  *bool  `json:"videoMuted,omitempty"`
}

// serverMessage is a signaling message to the page.
type serverMessage struct {
	Type      string  `json:"type"`
	ID        string  `json:"id,omitempty"`
	Moderator bool    `json:"moderator,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	Roster    *Roster `json:"roster,omitempty"`
}

// RosterEntry describes one participant as every member of the room sees it.
type RosterEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
	AudioMuted  bool   `json:"audioMuted"`
	VideoMuted  bool   `json:"videoMuted"`
	ICE         string `json:"ice"`
	Moderator   bool   `json:"moderator"`
}

// Roster is the room state broadcast on every change.
type Roster struct {
	Participants []RosterEntry `json:"participants"`
	Locked       bool          `json:"locked"`
	Dominant     string        `json:"dominant"`
}

// participant fields are guarded by the owning room's mutex.
type participant struct {
	id          string
	displayName string
	email       string
	moderator   bool
	audioMuted  bool
	videoMuted  bool
	ice         string

	client *client
	pc     *webrtc.PeerConnection
}

func (p *participant) entry() RosterEntry {
	return RosterEntry{
		ID:          p.id,
		DisplayName: p.displayName,
		Avatar:      avatar.URL(p.email),
		AudioMuted:  p.audioMuted,
		VideoMuted:  p.videoMuted,
		ICE:         p.ice,
		Moderator:   p.moderator,
	}
}

type room struct {
	name     string
	speakers *SpeakerDetector

	mu           sync.Mutex
	participants []*participant // join order
	locked       bool
	password     string
	dominant     string
}

func (r *room) find(id string) *participant {
	for _, p := range r.participants {
		if p.id == id {
			return p
		}
	}
	return nil
}

// remove drops p and hands moderation to the longest-present participant.
func (r *room) remove(p *participant) bool {
	for i, q := range r.participants {
		if q != p {
			continue
		}
		r.participants = append(r.participants[:i], r.participants[i+1:]...)
		if p.moderator && len(r.participants) > 0 {
			r.participants[0].moderator = true
		}
		return true
	}
	return false
}

// snapshot returns the roster and the clients to send it to. r.mu must be held.
func (r *room) snapshot() (*Roster, []*client) {
	roster := &Roster{
		Participants: make([]RosterEntry, 0, len(r.participants)),
		Locked:       r.locked,
		Dominant:     r.dominant,
	}
	clients := make([]*client, 0, len(r.participants))
	for _, p := range r.participants {
		roster.Participants = append(roster.Participants, p.entry())
		clients = append(clients, p.client)
	}
	return roster, clients
}

// hub owns every room. Lock order is hub.mu, then room.mu.
type hub struct {
	maxParticipants int
	log             logr.Logger
	metrics         *metrics
	onDrained       func()

	mu           sync.Mutex
	rooms        map[string]*room
	shuttingDown bool
	drainOnce    sync.Once
}

func newHub(maxParticipants int, log logr.Logger, m *metrics, onDrained func()) *hub {
	return &hub{
		maxParticipants: maxParticipants,
		log:             log,
		metrics:         m,
		onDrained:       onDrained,
		rooms:           make(map[string]*room),
	}
}

// join admits c into roomName, creating the room if needed.
func (h *hub) join(roomName string, msg clientMessage, c *client) (*room, *participant, error) {
	h.mu.Lock()
	if h.shuttingDown {
		h.mu.Unlock()
		h.metrics.joins.WithLabelValues(ReasonShuttingDown).Inc()
		return nil, nil, errShuttingDown
	}
	rm, ok := h.rooms[roomName]
	if !ok {
		rm = &room{name: roomName, speakers: NewSpeakerDetector()}
		h.rooms[roomName] = rm
		h.metrics.rooms.Inc()
		h.log.Info("room created", "room", roomName)
	}

	rm.mu.Lock()
	var err error
	switch {
	case rm.locked && msg.Password != rm.password:
		err = errPasswordRequired
	case len(rm.participants) >= h.maxParticipants:
		err = errConferenceFull
	}
	if err != nil {
		rm.mu.Unlock()
		h.mu.Unlock()
		h.metrics.joins.WithLabelValues(err.Error()).Inc()
		return nil, nil, err
	}

	p := &participant{
		id:          uuid.NewString(),
		displayName: msg.DisplayName,
		email:       msg.Email,
		moderator:   len(rm.participants) == 0,
		audioMuted:  msg.AudioMuted != nil && *msg.AudioMuted,
		videoMuted:  msg.VideoMuted != nil && *msg.VideoMuted,
		ice:         webrtc.ICEConnectionStateNew.String(),
		client:      c,
	}
	rm.participants = append(rm.participants, p)
	joined := serverMessage{Type: "joined", ID: p.id, Moderator: p.moderator}
	rm.mu.Unlock()
	h.mu.Unlock()

	h.metrics.joins.WithLabelValues("joined").Inc()
	h.metrics.participants.Inc()
	h.log.Info("participant joined", "room", roomName, "participant", p.id, "moderator", joined.Moderator)

	c.enqueue(joined)
	h.broadcast(rm)
	return rm, p, nil
}

// leave removes p from rm, closing its media, and drops the room when empty.
func (h *hub) leave(rm *room, p *participant) {
	h.mu.Lock()
	rm.mu.Lock()
	removed := rm.remove(p)
	empty := len(rm.participants) == 0
	pc := p.pc
	p.pc = nil
	rm.speakers.Forget(p.id)
	if rm.dominant == p.id {
		rm.dominant = ""
	}
	rm.mu.Unlock()

	if empty && h.rooms[rm.name] == rm {
		delete(h.rooms, rm.name)
		h.metrics.rooms.Dec()
		h.log.Info("room closed", "room", rm.name)
	}
	drained := h.shuttingDown && len(h.rooms) == 0
	h.mu.Unlock()

	if pc != nil {
		if err := pc.Close(); err != nil {
			h.log.V(1).Info("failed to close peer connection", "participant", p.id, "error", err.Error())
		}
	}
	if removed {
		h.metrics.participants.Dec()
		h.log.Info("participant left", "room", rm.name, "participant", p.id)
		if !empty {
			h.broadcast(rm)
		}
	}
	if drained {
		h.drained()
	}
}

// handle applies a message from a joined participant.
func (h *hub) handle(rm *room, p *participant, msg clientMessage) {
	rm.mu.Lock()
	switch msg.Type {
	case "mute":
		if msg.AudioMuted != nil {
			p.audioMuted = *msg.AudioMuted
		}
		if msg.VideoMuted != nil {
			p.videoMuted = *msg.VideoMuted
		}
	case "profile":
		p.displayName = msg.DisplayName
		p.email = msg.Email
	case "lock":
		if !p.moderator {
			rm.mu.Unlock()
			p.client.enqueue(serverMessage{Type: "error", Reason: ReasonNotModerator})
			return
		}
		rm.password = msg.Password
		rm.locked = msg.Password != ""
		h.log.Info("room lock changed", "room", rm.name, "locked", rm.locked)
	default:
		rm.mu.Unlock()
		p.client.enqueue(serverMessage{Type: "error", Reason: ReasonBadRequest})
		return
	}
	rm.mu.Unlock()
	h.broadcast(rm)
}

func (h *hub) broadcast(rm *room) {
	rm.mu.Lock()
	roster, clients := rm.snapshot()
	rm.mu.Unlock()
	for _, c := range clients {
		c.enqueue(serverMessage{Type: "roster", Roster: roster})
	}
}

// lookup finds a joined participant.
func (h *hub) lookup(roomName, id string) (*room, *participant, bool) {
	h.mu.Lock()
	rm, ok := h.rooms[roomName]
	h.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	p := rm.find(id)
	return rm, p, p != nil
}

// attachMedia replaces p's peer connection. It reports false when p has
// already left, in which case the caller owns pc.
func (h *hub) attachMedia(rm *room, p *participant, pc *webrtc.PeerConnection) bool {
	rm.mu.Lock()
	if rm.find(p.id) == nil {
		rm.mu.Unlock()
		return false
	}
	old := p.pc
	p.pc = pc
	rm.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return true
}

func (h *hub) setICE(rm *room, p *participant, state string) {
	rm.mu.Lock()
	changed := p.ice != state
	p.ice = state
	rm.mu.Unlock()
	if changed {
		h.metrics.iceStates.WithLabelValues(state).Inc()
		h.broadcast(rm)
	}
}

// electSpeakers runs one dominant speaker election in every room.
func (h *hub) electSpeakers() {
	h.mu.Lock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, rm := range h.rooms {
		rooms = append(rooms, rm)
	}
	h.mu.Unlock()

	for _, rm := range rooms {
		rm.mu.Lock()
		id, changed := rm.speakers.Elect(func(id string) bool {
			p := rm.find(id)
			return p != nil && !p.audioMuted
		})
		if changed {
			rm.dominant = id
		}
		rm.mu.Unlock()
		if changed {
			h.metrics.speakerChanges.Inc()
			h.log.V(1).Info("dominant speaker changed", "room", rm.name, "participant", id)
			h.broadcast(rm)
		}
	}
}

// Stats is the statistics document served at /stats.
type Stats struct {
	Conferences  int  `json:"conferences"`
	Participants int  `json:"participants"`
	ShuttingDown bool `json:"shutting_down"`
}

func (h *hub) stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := Stats{Conferences: len(h.rooms), ShuttingDown: h.shuttingDown}
	for _, rm := range h.rooms {
		rm.mu.Lock()
		s.Participants += len(rm.participants)
		rm.mu.Unlock()
	}
	return s
}

// shutdown refuses new joins. A forced shutdown also disconnects everyone.
func (h *hub) shutdown(force bool) {
	h.mu.Lock()
	h.shuttingDown = true
	var clients []*client
	if force {
		for _, rm := range h.rooms {
			rm.mu.Lock()
			for _, p := range rm.participants {
				clients = append(clients, p.client)
			}
			rm.mu.Unlock()
		}
	}
	drained := len(h.rooms) == 0
	h.mu.Unlock()

	h.log.Info("shutdown requested", "force", force)
	for _, c := range clients {
		c.enqueue(serverMessage{Type: "closed", Reason: ReasonShuttingDown})
		c.close()
	}
	if drained {
		h.drained()
	}
}

func (h *hub) drained() {
	h.drainOnce.Do(func() {
		h.log.Info("all conferences ended")
		if h.onDrained != nil {
			go h.onDrained()
		}
	})
}

// closeAll disconnects every client without marking the hub as shutting down.
func (h *hub) closeAll() {
	h.mu.Lock()
	var clients []*client
	for _, rm := range h.rooms {
		rm.mu.Lock()
		for _, p := range rm.participants {
			clients = append(clients, p.client)
		}
		rm.mu.Unlock()
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}
