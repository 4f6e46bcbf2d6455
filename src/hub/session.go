package hub

import (
	"sync"
	"time"

	"github.com/orchestra-mcp/socketprobe/src/types"
)

// Session is one Engine.IO session and its outbound packet queue.
type Session struct {
	ID          string
	Origin      string
	send        chan string
	connectedAt time.Time
	transport   types.Transport
	socketID    string
	mu          sync.RWMutex
	done        chan struct{}
	closed      bool
}

// NewSession creates a session speaking transport t.
func NewSession(id, origin string, t types.Transport) *Session {
	return &Session{
		ID:          id,
		Origin:      origin,
		send:        make(chan string, 256),
		connectedAt: time.Now(),
		transport:   t,
		done:        make(chan struct{}),
	}
}

// Info returns metadata about this session.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		ID:          s.ID,
		Origin:      s.Origin,
		Transport:   s.transport,
		Joined:      s.socketID != "",
		ConnectedAt: s.connectedAt,
	}
}

// SetTransport records a completed transport upgrade.
func (s *Session) SetTransport(t types.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transport = t
}

// Transport returns the transport currently carrying the session.
func (s *Session) Transport() types.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transport
}

// Join marks the default namespace as connected under socketID.
func (s *Session) Join(socketID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.socketID = socketID
}

// Leave disconnects the namespace.
func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.socketID = ""
}

// Joined reports whether the namespace is connected.
func (s *Session) Joined() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.socketID != ""
}

// Enqueue queues an encoded packet. It returns false when the session is
// closed or its buffer is full.
func (s *Session) Enqueue(packet string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- packet:
		return true
	default:
		return false
	}
}

// Outbox returns the queue drained by the active transport.
func (s *Session) Outbox() <-chan string { return s.send }

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close stops the session. Safe to call repeatedly.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
		close(s.send)
	}
}
