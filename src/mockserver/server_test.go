package mockserver

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/socketprobe/src/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func startTestServer(t *testing.T, mutate func(*Config)) (*Server, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://allowed.example"}
	cfg.PollTimeout = 200 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	srv := New(cfg, zerolog.Nop())
	base, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown() })
	return srv, base
}

func do(t *testing.T, method, uri, origin, body string) (int, string) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if body != "" {
		req.SetBodyString(body)
	}
	require.NoError(t, fasthttp.DoTimeout(req, resp, 2*time.Second))
	return resp.StatusCode(), string(resp.Body())
}

func TestHealthRoute(t *testing.T) {
	_, base := startTestServer(t, nil)
	status, body := do(t, fasthttp.MethodGet, base+"/health", "", "")
	require.Equal(t, 200, status)

	var decoded struct {
		Status   string          `json:"status"`
		Services map[string]bool `json:"services"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &decoded))
	assert.Equal(t, "healthy", decoded.Status)
	assert.True(t, decoded.Services["stt"])
}

func TestHealthRouteDegraded(t *testing.T) {
	_, base := startTestServer(t, func(c *Config) {
		c.Services = map[string]bool{"stt": true, "tts": false}
	})
	_, body := do(t, fasthttp.MethodGet, base+"/health", "", "")
	assert.Contains(t, body, `"status":"degraded"`)
}

func TestPollingHandshake(t *testing.T) {
	srv, base := startTestServer(t, nil)
	status, body := do(t, fasthttp.MethodGet, base+"/socket.io/?EIO=4&transport=polling", "https://allowed.example", "")
	require.Equal(t, 200, status)

	p, err := transport.DecodePacket(body)
	require.NoError(t, err)
	require.Equal(t, transport.PacketOpen, p.Type)
	var info transport.OpenInfo
	require.NoError(t, json.Unmarshal([]byte(p.Data), &info))
	assert.NotEmpty(t, info.SID)
	assert.True(t, info.CanUpgrade("websocket"))
	assert.Equal(t, 25000, info.PingInterval)

	require.NotNil(t, srv.Hub().Lookup(info.SID))

	_, sessions := do(t, fasthttp.MethodGet, base+"/sessions", "", "")
	assert.Contains(t, sessions, info.SID)

	// An idle poll times out with a noop.
	_, poll := do(t, fasthttp.MethodGet, base+"/socket.io/?EIO=4&transport=polling&sid="+info.SID, "https://allowed.example", "")
	assert.Equal(t, "6", poll)
}

func TestEngineRejections(t *testing.T) {
	_, base := startTestServer(t, nil)
	cases := []struct {
		name   string
		method string
		query  string
		origin string
		want   string
	}{
		{"blocked origin", fasthttp.MethodGet, "EIO=4&transport=polling", "https://blocked.example", originDenied},
		{"old protocol", fasthttp.MethodGet, "EIO=3&transport=polling", "", "Unsupported protocol version"},
		{"unknown transport", fasthttp.MethodGet, "EIO=4&transport=carrier-pigeon", "", "Transport unknown"},
		{"unknown sid", fasthttp.MethodGet, "EIO=4&transport=polling&sid=nope", "", "Session ID unknown"},
		{"post without sid", fasthttp.MethodPost, "EIO=4&transport=polling", "", "Bad request"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := do(t, tc.method, base+"/socket.io/?"+tc.query, tc.origin, "")
			assert.Equal(t, 400, status)
			assert.Contains(t, body, tc.want)
		})
	}
}

func TestBroadcastRoute(t *testing.T) {
	_, base := startTestServer(t, nil)

	status, body := do(t, fasthttp.MethodPost, base+"/broadcast/news", "", "{bad")
	assert.Equal(t, 400, status)
	assert.Contains(t, body, "invalid_json")

	status, body = do(t, fasthttp.MethodPost, base+"/broadcast/news", "", `{"n":1}`)
	assert.Equal(t, 200, status)
	assert.Contains(t, body, `"delivered":0`)
}

func TestOriginAllowed(t *testing.T) {
	s := New(Config{AllowedOrigins: []string{"https://allowed.example"}}, zerolog.Nop())
	assert.True(t, s.originAllowed(""))
	assert.True(t, s.originAllowed("https://allowed.example"))
	assert.True(t, s.originAllowed("HTTPS://ALLOWED.EXAMPLE"))
	assert.False(t, s.originAllowed("https://blocked.example"))

	open := New(Config{}, zerolog.Nop())
	assert.True(t, open.originAllowed("https://anything.example"))

	wildcard := New(Config{AllowedOrigins: []string{"*"}}, zerolog.Nop())
	assert.True(t, wildcard.originAllowed("https://anything.example"))
}

func TestSocketPathDefault(t *testing.T) {
	s := New(Config{}, zerolog.Nop())
	assert.True(t, strings.HasPrefix(s.cfg.SocketPath, "/socket.io"))
}

func dialWebSocket(t *testing.T, base string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(base, "http") + "/socket.io/?EIO=4&transport=websocket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte(transport.PacketOpen), data[0])
	return conn
}

func TestWebSocketDisconnectThenShutdown(t *testing.T) {
	srv, base := startTestServer(t, nil)

	conn := dialWebSocket(t, base)
	require.Eventually(t, func() bool { return srv.Hub().SessionCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return srv.Hub().SessionCount() == 0 }, time.Second, 10*time.Millisecond)

	// The server keeps serving after a client went away.
	status, _ := do(t, fasthttp.MethodGet, base+"/health", "", "")
	assert.Equal(t, 200, status)

	second := dialWebSocket(t, base)
	defer second.Close()
	require.NoError(t, srv.Shutdown())

	// Shutdown closes the session; the client sees the engine close packet
	// or the connection going away, never a hung socket.
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := second.ReadMessage()
		if err != nil {
			break
		}
		if string(data) == (transport.Packet{Type: transport.PacketClose}).String() {
			break
		}
	}
}
