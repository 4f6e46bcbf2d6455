// Package hub tracks the sessions served by the mock real-time server and
// routes their events to registered handlers.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/rs/zerolog"
)

// Message is an application event received from a session.
type Message struct {
	SessionID  string          `json:"session_id"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// EventHandler handles one named event.
type EventHandler func(sessionID string, msg Message) error

// SessionInfo holds metadata about a live session.
type SessionInfo struct {
	ID          string          `json:"id"`
	Origin      string          `json:"origin,omitempty"`
	Transport   types.Transport `json:"transport"`
	Joined      bool            `json:"joined"`
	ConnectedAt time.Time       `json:"connected_at"`
}

// Hub manages all sessions of the mock server.
type Hub struct {
	sessions map[string]*Session

	register   chan *Session
	unregister chan *Session
	incoming   chan Message

	handlers  map[string]EventHandler
	onConnect []func(string)
	onDisconn []func(string)

	mu     sync.RWMutex
	logger zerolog.Logger
	done   chan struct{}
	once   sync.Once
}

// New creates a new Hub instance.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		sessions:   make(map[string]*Session),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		incoming:   make(chan Message, 256),
		handlers:   make(map[string]EventHandler),
		logger:     logger.With().Str("component", "hub").Logger(),
		done:       make(chan struct{}),
	}
}

// Run starts the hub event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.addSession(s)
		case s := <-h.unregister:
			h.removeSession(s)
		case msg := <-h.incoming:
			h.handleMessage(msg)
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop halts the hub event loop and closes every session.
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// Register adds a session. It is visible to Lookup when Register returns;
// connection callbacks run on the hub loop.
func (h *Hub) Register(s *Session) {
	select {
	case <-h.done:
		s.Close()
		return
	default:
	}
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	select {
	case h.register <- s:
	case <-h.done:
	}
}

// Unregister queues a session for removal.
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Dispatch queues an event for its handler.
func (h *Hub) Dispatch(msg Message) {
	select {
	case h.incoming <- msg:
	case <-h.done:
	}
}

func (h *Hub) addSession(s *Session) {
	h.logger.Info().Str("sid", s.ID).Str("transport", string(s.Transport())).Msg("session registered")

	for _, cb := range h.onConnect {
		cb(s.ID)
	}
}

func (h *Hub) removeSession(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.ID)
	h.mu.Unlock()

	s.Close()
	h.logger.Info().Str("sid", s.ID).Msg("session unregistered")

	for _, cb := range h.onDisconn {
		cb(s.ID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		s.Close()
		delete(h.sessions, id)
	}
}
