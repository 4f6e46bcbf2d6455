package hub

import (
	"github.com/orchestra-mcp/socketprobe/src/transport"
)

func (h *Hub) handleMessage(msg Message) {
	h.mu.RLock()
	handler, ok := h.handlers[msg.Event]
	h.mu.RUnlock()

	if !ok {
		h.logger.Debug().Str("event", msg.Event).Msg("no handler")
		return
	}
	if err := handler(msg.SessionID, msg); err != nil {
		h.logger.Error().Err(err).Str("event", msg.Event).Msg("handler error")
	}
}

func encodeEvent(event string, payload any) (string, error) {
	body, err := transport.EncodeEvent("/", event, payload)
	if err != nil {
		return "", err
	}
	return transport.Packet{Type: transport.PacketMessage, Data: body}.String(), nil
}

// Emit sends a named event directly to one joined session.
func (h *Hub) Emit(sessionID, event string, payload any) bool {
	h.mu.RLock()
	s, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if !ok || !s.Joined() {
		return false
	}
	pkt, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode failed")
		return false
	}
	return s.Enqueue(pkt)
}

// Broadcast sends a named event to every joined session and returns how
// many sessions accepted it.
func (h *Hub) Broadcast(event string, payload any) int {
	pkt, err := encodeEvent(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode failed")
		return 0
	}

	// Copy sessions to avoid holding lock during sends.
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if !s.Joined() {
			continue
		}
		if s.Enqueue(pkt) {
			sent++
		} else {
			h.logger.Warn().Str("sid", s.ID).Msg("send buffer full, dropping")
		}
	}
	return sent
}
