package hub

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/socketprobe/src/transport"
	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHub creates a hub and starts its event loop in a goroutine.
func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := New(zerolog.Nop())
	go h.Run()
	t.Cleanup(func() { h.Stop() })
	return h
}

func registerSession(t *testing.T, h *Hub, id string) *Session {
	t.Helper()
	s := NewSession(id, "https://allowed.example", types.TransportPolling)
	h.Register(s)
	require.Eventually(t, func() bool { return h.Lookup(id) != nil }, time.Second, 5*time.Millisecond)
	return s
}

func drain(s *Session) []string {
	var out []string
	for {
		select {
		case pkt, ok := <-s.Outbox():
			if !ok {
				return out
			}
			out = append(out, pkt)
		default:
			return out
		}
	}
}

func TestHubRegisterAndUnregister(t *testing.T) {
	h := newTestHub(t)

	registerSession(t, h, "s1")
	s2 := registerSession(t, h, "s2")
	assert.Equal(t, 2, h.SessionCount())

	h.Unregister(s2)
	require.Eventually(t, func() bool { return h.Lookup("s2") == nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, h.SessionCount())

	select {
	case <-s2.Done():
	default:
		t.Fatal("unregistered session should be closed")
	}
}

func TestEmitRequiresJoinedSession(t *testing.T) {
	h := newTestHub(t)
	s := registerSession(t, h, "s1")

	assert.False(t, h.Emit("s1", "health_response", map[string]any{"status": "ok"}))
	s.Join("sock-1")
	assert.True(t, h.Emit("s1", "health_response", map[string]any{"status": "ok"}))
	assert.False(t, h.Emit("ghost", "health_response", nil))

	pkts := drain(s)
	require.Len(t, pkts, 1)
	p, err := transport.DecodePacket(pkts[0])
	require.NoError(t, err)
	sp, err := transport.DecodeSocket(p.Data)
	require.NoError(t, err)
	name, payload, err := transport.DecodeEvent(sp.Data)
	require.NoError(t, err)
	assert.Equal(t, "health_response", name)
	assert.JSONEq(t, `{"status":"ok"}`, string(payload))
}

func TestBroadcastReachesJoinedSessionsOnly(t *testing.T) {
	h := newTestHub(t)
	a := registerSession(t, h, "a")
	b := registerSession(t, h, "b")
	a.Join("sock-a")

	assert.Equal(t, 1, h.Broadcast("agent_response", map[string]any{"text": "hi"}))
	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))
}

func TestHandlerInvocation(t *testing.T) {
	h := newTestHub(t)

	var mu sync.Mutex
	var got Message
	h.RegisterHandler("health_check", func(sessionID string, msg Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = msg
		return nil
	})

	h.Dispatch(Message{SessionID: "s1", Event: "health_check", Payload: json.RawMessage(`{}`)})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.SessionID == "s1"
	}, time.Second, 5*time.Millisecond)
}

func TestConnectionCallbacks(t *testing.T) {
	h := newTestHub(t)

	var mu sync.Mutex
	var connected, disconnected []string
	h.OnConnection(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		connected = append(connected, id)
	})
	h.OnDisconnection(func(id string) {
		mu.Lock()
		defer mu.Unlock()
		disconnected = append(disconnected, id)
	})

	s := registerSession(t, h, "cb")
	h.Unregister(s)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(disconnected) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"cb"}, connected)
	assert.Equal(t, []string{"cb"}, disconnected)
}

func TestSessionEnqueueAfterClose(t *testing.T) {
	s := NewSession("x", "", types.TransportWebSocket)
	assert.True(t, s.Enqueue("6"))
	s.Close()
	s.Close()
	assert.False(t, s.Enqueue("6"))
}

func TestSessionInfo(t *testing.T) {
	h := newTestHub(t)
	s := registerSession(t, h, "info")
	s.SetTransport(types.TransportWebSocket)
	s.Join("sock")

	infos := h.Sessions()
	require.Len(t, infos, 1)
	assert.Equal(t, "info", infos[0].ID)
	assert.Equal(t, types.TransportWebSocket, infos[0].Transport)
	assert.True(t, infos[0].Joined)
	assert.True(t, strings.HasPrefix(infos[0].Origin, "https://"))
}
