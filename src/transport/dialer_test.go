package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/orchestra-mcp/socketprobe/src/mockserver"
	"github.com/orchestra-mcp/socketprobe/src/transport"
	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	allowedOrigin = "https://allowed.example"
	blockedOrigin = "https://blocked.example"
)

type received struct {
	name    string
	payload json.RawMessage
}

func startServer(t *testing.T, mutate func(*mockserver.Config)) (*mockserver.Server, string) {
	t.Helper()
	cfg := mockserver.DefaultConfig()
	cfg.AllowedOrigins = []string{allowedOrigin}
	cfg.PollTimeout = 300 * time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	srv := mockserver.New(cfg, zerolog.Nop())
	base, err := srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown() })
	return srv, base
}

func connect(t *testing.T, base, origin string, transports ...types.Transport) (types.Channel, chan received, chan error, error) {
	t.Helper()
	events := make(chan received, 16)
	errs := make(chan error, 1)
	headers := map[string]string{}
	if origin != "" {
		headers["Origin"] = origin
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// The client poll budget must outlast the server's poll timeout.
	d := transport.New(zerolog.Nop(), 2*time.Second)
	ch, err := d.Connect(ctx, types.ConnectRequest{
		Endpoint: types.Endpoint{BaseURL: base, Transports: transports},
		Headers:  headers,
		Deliver: func(name string, payload json.RawMessage) {
			events <- received{name: name, payload: payload}
		},
		OnError: func(err error) { errs <- err },
	})
	if ch != nil {
		t.Cleanup(func() { _ = ch.Close() })
	}
	return ch, events, errs, err
}

func waitEvent(t *testing.T, events chan received, name string) received {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.name == name {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func TestPollingUpgradesToWebSocket(t *testing.T) {
	_, base := startServer(t, nil)

	ch, events, _, err := connect(t, base, allowedOrigin, types.TransportPolling, types.TransportWebSocket)
	require.NoError(t, err)
	assert.Equal(t, types.TransportWebSocket, ch.Transport())

	require.NoError(t, ch.Emit("health_check", map[string]any{}))
	ev := waitEvent(t, events, "health_response")
	assert.Contains(t, string(ev.payload), `"status":"ok"`)
}

func TestPollingOnly(t *testing.T) {
	_, base := startServer(t, nil)

	ch, events, _, err := connect(t, base, allowedOrigin, types.TransportPolling)
	require.NoError(t, err)
	assert.Equal(t, types.TransportPolling, ch.Transport())

	require.NoError(t, ch.Emit("health_check", nil))
	waitEvent(t, events, "health_response")
}

func TestWebSocketOnly(t *testing.T) {
	_, base := startServer(t, nil)

	ch, events, _, err := connect(t, base, allowedOrigin, types.TransportWebSocket)
	require.NoError(t, err)
	assert.Equal(t, types.TransportWebSocket, ch.Transport())

	require.NoError(t, ch.Emit("echo", map[string]any{"n": 1}))
	ev := waitEvent(t, events, "echo")
	assert.JSONEq(t, `{"n":1}`, string(ev.payload))
}

func TestMissingOriginIsAccepted(t *testing.T) {
	_, base := startServer(t, nil)

	_, _, _, err := connect(t, base, "", types.TransportPolling, types.TransportWebSocket)
	require.NoError(t, err)
}

func TestBlockedOriginRejected(t *testing.T) {
	_, base := startServer(t, nil)

	for _, transports := range [][]types.Transport{
		{types.TransportPolling, types.TransportWebSocket},
		{types.TransportWebSocket},
	} {
		ch, _, _, err := connect(t, base, blockedOrigin, transports...)
		require.Error(t, err)
		assert.Nil(t, ch)
		assert.True(t, errors.Is(err, types.ErrHandshakeRejected), err.Error())

		var pe *types.ProbeError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, types.ReasonOriginDenied, pe.Reason)
		assert.Equal(t, 400, pe.Status)
		assert.True(t, pe.PolicyRelated())
	}
}

func TestConnectErrorIsRejection(t *testing.T) {
	_, base := startServer(t, func(c *mockserver.Config) { c.RejectConnect = true })

	_, _, _, err := connect(t, base, allowedOrigin, types.TransportWebSocket)
	var pe *types.ProbeError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, types.KindHandshakeRejected, pe.Kind)
	assert.Equal(t, types.ReasonConnectError, pe.Reason)
	assert.Contains(t, pe.Message, "rejected")
}

func TestRefusedConnectionIsNetworkError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	for _, tr := range []types.Transport{types.TransportPolling, types.TransportWebSocket} {
		_, _, _, err := connect(t, "http://"+addr, allowedOrigin, tr)
		assert.True(t, errors.Is(err, types.ErrNetwork), "%s: %v", tr, err)
	}
}

func TestSilentServerTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	var mu sync.Mutex
	var held []net.Conn
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range held {
			_ = c.Close()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	d := transport.New(zerolog.Nop(), time.Second)
	_, err = d.Connect(ctx, types.ConnectRequest{
		Endpoint: types.Endpoint{BaseURL: "http://" + ln.Addr().String(), Transports: []types.Transport{types.TransportPolling}},
	})
	assert.True(t, errors.Is(err, types.ErrTimeout), "%v", err)
}

func TestInvalidBaseURL(t *testing.T) {
	d := transport.New(zerolog.Nop(), 0)
	_, err := d.Connect(context.Background(), types.ConnectRequest{
		Endpoint: types.Endpoint{BaseURL: "::not a url", Transports: []types.Transport{types.TransportPolling}},
	})
	assert.True(t, errors.Is(err, types.ErrConfig))
}

func TestServerBroadcastIsDelivered(t *testing.T) {
	srv, base := startServer(t, nil)

	_, events, _, err := connect(t, base, allowedOrigin, types.TransportWebSocket)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return srv.Hub().Broadcast("agent_response", map[string]any{"text": "hello"}) == 1
	}, time.Second, 10*time.Millisecond)
	ev := waitEvent(t, events, "agent_response")
	assert.JSONEq(t, `{"text":"hello"}`, string(ev.payload))
}

func TestEmitAfterCloseIsNotConnected(t *testing.T) {
	_, base := startServer(t, nil)

	ch, _, errs, err := connect(t, base, allowedOrigin, types.TransportWebSocket)
	require.NoError(t, err)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	err = ch.Emit("health_check", nil)
	assert.True(t, errors.Is(err, types.ErrNotConnected))

	select {
	case err := <-errs:
		t.Fatalf("closing locally must not report a failure: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServerCloseReportsError(t *testing.T) {
	srv, base := startServer(t, nil)

	_, _, errs, err := connect(t, base, allowedOrigin, types.TransportWebSocket)
	require.NoError(t, err)

	srv.Hub().Stop()
	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, types.ErrNetwork), "%v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("expected channel failure after server closed the session")
	}
}
