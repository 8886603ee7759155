package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	sendQueue    = 64
)

// client is one signaling WebSocket. Messages are queued and written by
// writePump; close is safe to call from any goroutine.
type client struct {
	conn *websocket.Conn
	log  logr.Logger

	send      chan serverMessage
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, log logr.Logger) *client {
	return &client{
		conn: conn,
		log:  log,
		send: make(chan serverMessage, sendQueue),
		done: make(chan struct{}),
	}
}

// enqueue queues msg. A client that cannot keep up is disconnected.
func (c *client) enqueue(msg serverMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		c.log.Info("signaling queue full, disconnecting")
		c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// writePump writes queued messages until the client is closed, then flushes
// what is left and closes the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(msg); err != nil {
				c.log.V(1).Info("signaling write failed", "error", err.Error())
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if c.write(msg) != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *client) write(msg serverMessage) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// handleWebSocket serves /ws/{room}. The first accepted join binds the
// connection to a participant; every later message acts on it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomName := chi.URLParam(r, "room")
	if !validRoom(roomName) {
		http.Error(w, "invalid room name", http.StatusBadRequest)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.V(1).Info("websocket upgrade failed", "error", err.Error())
		return
	}

	c := newClient(conn, s.log.WithValues("room", roomName))
	go c.writePump()
	defer c.close()

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	var (
		rm *room
		p  *participant
	)
	defer func() {
		if p != nil {
			s.hub.leave(rm, p)
		}
	}()

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.V(1).Info("signaling read failed", "error", err.Error())
			}
			return
		}

		if p == nil {
			if msg.Type != "join" {
				c.enqueue(serverMessage{Type: "error", Reason: ReasonBadRequest})
				continue
			}
			rm, p, err = s.hub.join(roomName, msg, c)
			switch {
			case err == nil:
			case errors.Is(err, errPasswordRequired):
				// The page may retry with a password on the same connection.
				c.enqueue(serverMessage{Type: "error", Reason: err.Error()})
			default:
				c.enqueue(serverMessage{Type: "error", Reason: err.Error()})
				return
			}
			continue
		}

		if msg.Type == "leave" {
			return
		}
		s.hub.handle(rm, p, msg)
	}
}
