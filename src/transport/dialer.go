// Package transport implements the client side of the Engine.IO v4 /
// Socket.IO v5 handshake over long-polling and websocket transports.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// DefaultPollTimeout bounds a single long-poll request.
const DefaultPollTimeout = 30 * time.Second

// frameConn is one transport carrying Engine.IO packets.
type frameConn interface {
	read(ctx context.Context) ([]Packet, error)
	write(packets ...Packet) error
	close() error
	transport() types.Transport
}

// Dialer opens Socket.IO channels. It satisfies types.Connector.
type Dialer struct {
	http        *fasthttp.Client
	ws          *websocket.Dialer
	pollTimeout time.Duration
	logger      zerolog.Logger
}

// New creates a Dialer. A zero pollTimeout uses DefaultPollTimeout.
func New(logger zerolog.Logger, pollTimeout time.Duration) *Dialer {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	return &Dialer{
		http: &fasthttp.Client{
			Name:                "socketprobe",
			MaxIdleConnDuration: 10 * time.Second,
		},
		ws: &websocket.Dialer{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pollTimeout: pollTimeout,
		logger:      logger.With().Str("component", "transport").Logger(),
	}
}

var _ types.Connector = (*Dialer)(nil)

// Connect negotiates a channel following the endpoint's transport order and
// joins the endpoint namespace. Failures are returned as *types.ProbeError.
func (d *Dialer) Connect(ctx context.Context, req types.ConnectRequest) (types.Channel, error) {
	if len(req.Endpoint.Transports) == 0 {
		return nil, types.NewError(types.KindConfig, "no transports configured", nil)
	}
	base, err := url.Parse(req.Endpoint.BaseURL)
	if err != nil || base.Host == "" {
		return nil, types.NewError(types.KindConfig, fmt.Sprintf("invalid base url %q", req.Endpoint.BaseURL), err)
	}
	hs := &handshake{d: d, req: req, base: base}

	var conn frameConn
	var info OpenInfo
	switch req.Endpoint.Transports[0] {
	case types.TransportPolling:
		conn, info, err = hs.openPolling(ctx)
	case types.TransportWebSocket:
		conn, info, err = hs.openWebSocket(ctx)
	default:
		return nil, types.NewError(types.KindConfig, fmt.Sprintf("unknown transport %q", req.Endpoint.Transports[0]), nil)
	}
	if err != nil {
		return nil, err
	}

	// Closing the transport unblocks any read still in flight when ctx ends.
	var mu sync.Mutex
	cur := conn
	stop := context.AfterFunc(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		_ = cur.close()
	})
	defer stop()

	if conn.transport() == types.TransportPolling && req.Endpoint.Upgrades() {
		if info.CanUpgrade(string(types.TransportWebSocket)) {
			ws, err := hs.upgrade(ctx, info.SID)
			if err != nil {
				_ = conn.close()
				return nil, hs.classify(ctx, err)
			}
			mu.Lock()
			_ = cur.close()
			cur, conn = ws, ws
			mu.Unlock()
		} else {
			d.logger.Warn().Str("sid", info.SID).Msg("server offers no websocket upgrade, staying on polling")
		}
	}

	backlog, err := hs.joinNamespace(ctx, conn)
	if err != nil {
		_ = conn.close()
		return nil, hs.classify(ctx, err)
	}

	d.logger.Debug().
		Str("sid", info.SID).
		Str("transport", string(conn.transport())).
		Msg("channel established")
	return newChannel(conn, req, d.logger, backlog), nil
}

// handshake carries per-connect state.
type handshake struct {
	d    *Dialer
	req  types.ConnectRequest
	base *url.URL
}

func (h *handshake) originSent() bool {
	_, ok := h.req.Headers["Origin"]
	return ok
}

func (h *handshake) endpointURL(t types.Transport, sid string) string {
	u := *h.base
	u.Path = h.req.Endpoint.SocketPath()
	if t == types.TransportWebSocket {
		switch u.Scheme {
		case "https":
			u.Scheme = "wss"
		case "http":
			u.Scheme = "ws"
		}
	}
	q := url.Values{}
	q.Set("EIO", "4")
	q.Set("transport", string(t))
	if t == types.TransportPolling {
		q.Set("t", strconv.FormatInt(time.Now().UnixNano(), 36))
	}
	if sid != "" {
		q.Set("sid", sid)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *handshake) openPolling(ctx context.Context) (frameConn, OpenInfo, error) {
	status, body, err := h.d.poll(ctx, nil, fasthttp.MethodGet, h.endpointURL(types.TransportPolling, ""), h.req.Headers, "")
	if err != nil {
		return nil, OpenInfo{}, h.classify(ctx, err)
	}
	if status != fasthttp.StatusOK {
		return nil, OpenInfo{}, h.rejection(status, body)
	}
	packets, err := DecodePayload(body)
	if err != nil || len(packets) == 0 {
		return nil, OpenInfo{}, types.NewError(types.KindProtocol, "malformed open payload", err)
	}
	info, err := parseOpen(packets[0])
	if err != nil {
		return nil, OpenInfo{}, err
	}
	conn := newPollingConn(h.d, h.req.Headers, func() string {
		return h.endpointURL(types.TransportPolling, info.SID)
	})
	// Packets bundled with the open packet are replayed on the first read.
	conn.pending = packets[1:]
	return conn, info, nil
}

func (h *handshake) openWebSocket(ctx context.Context) (frameConn, OpenInfo, error) {
	conn, err := h.dialWebSocket(ctx, "")
	if err != nil {
		return nil, OpenInfo{}, err
	}
	packets, err := conn.read(ctx)
	if err != nil {
		_ = conn.close()
		return nil, OpenInfo{}, h.classify(ctx, err)
	}
	info, err := parseOpen(packets[0])
	if err != nil {
		_ = conn.close()
		return nil, OpenInfo{}, err
	}
	return conn, info, nil
}

func (h *handshake) dialWebSocket(ctx context.Context, sid string) (*wsConn, error) {
	hdr := make(http.Header, len(h.req.Headers))
	for k, v := range h.req.Headers {
		hdr.Set(k, v)
	}
	raw, resp, err := h.d.ws.DialContext(ctx, h.endpointURL(types.TransportWebSocket, sid), hdr)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body := readLimited(resp.Body)
			return nil, h.rejection(resp.StatusCode, body)
		}
		return nil, h.classify(ctx, err)
	}
	return newWSConn(raw), nil
}

// upgrade moves an open polling session onto a websocket.
func (h *handshake) upgrade(ctx context.Context, sid string) (frameConn, error) {
	ws, err := h.dialWebSocket(ctx, sid)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = ws.close() })
	defer stop()
	if err := ws.write(Packet{Type: PacketPing, Data: "probe"}); err != nil {
		_ = ws.close()
		return nil, err
	}
	packets, err := ws.read(ctx)
	if err != nil {
		_ = ws.close()
		return nil, err
	}
	if packets[0].Type != PacketPong || packets[0].Data != "probe" {
		_ = ws.close()
		return nil, types.NewError(types.KindProtocol, fmt.Sprintf("unexpected upgrade probe reply %q", packets[0].String()), nil)
	}
	if err := ws.write(Packet{Type: PacketUpgrade}); err != nil {
		_ = ws.close()
		return nil, err
	}
	return ws, nil
}

// joinNamespace sends CONNECT and waits for the server's verdict. Packets
// that arrived in the same batch after the acknowledgement are returned so
// the channel handles them first.
func (h *handshake) joinNamespace(ctx context.Context, conn frameConn) ([]Packet, error) {
	ns := normalizeNamespace(h.req.Endpoint.Namespace)
	body := EncodeSocket(SocketPacket{Type: SocketConnect, Namespace: ns})
	if err := conn.write(Packet{Type: PacketMessage, Data: body}); err != nil {
		return nil, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		packets, err := conn.read(ctx)
		if err != nil {
			return nil, err
		}
		for i, p := range packets {
			switch p.Type {
			case PacketPing:
				if err := conn.write(Packet{Type: PacketPong, Data: p.Data}); err != nil {
					return nil, err
				}
			case PacketClose:
				return nil, types.Rejected(types.ReasonRefused, 0, "server closed the session during connect")
			case PacketMessage:
				sp, err := DecodeSocket(p.Data)
				if err != nil {
					return nil, types.NewError(types.KindProtocol, "malformed socket packet", err)
				}
				if sp.Namespace != ns {
					continue
				}
				switch sp.Type {
				case SocketConnect:
					return packets[i+1:], nil
				case SocketConnectError:
					msg := ConnectErrorMessage(sp.Data)
					reason := types.ReasonConnectError
					if types.ClassifyRejection(0, msg, h.originSent()) == types.ReasonOriginDenied {
						reason = types.ReasonOriginDenied
					}
					return nil, types.Rejected(reason, 0, msg)
				}
			}
		}
	}
}

func (h *handshake) rejection(status int, body string) error {
	return types.Rejected(types.ClassifyRejection(status, body, h.originSent()), status, trimBody(body))
}

// classify maps a raw failure onto the error taxonomy.
func (h *handshake) classify(ctx context.Context, err error) error {
	var pe *types.ProbeError
	if errors.As(err, &pe) {
		return pe
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return types.NewError(types.KindTimeout, "deadline elapsed during handshake", err)
		}
		return types.NewError(types.KindNetwork, "handshake cancelled", err)
	}
	if errors.Is(err, fasthttp.ErrTimeout) || errors.Is(err, fasthttp.ErrDialTimeout) {
		return types.NewError(types.KindTimeout, "handshake request timed out", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewError(types.KindTimeout, "handshake request timed out", err)
	}
	return types.NewError(types.KindNetwork, "", err)
}

func parseOpen(p Packet) (OpenInfo, error) {
	if p.Type != PacketOpen {
		return OpenInfo{}, types.NewError(types.KindProtocol, fmt.Sprintf("expected open packet, got %q", p.String()), nil)
	}
	info, err := decodeOpen(p.Data)
	if err != nil {
		return OpenInfo{}, types.NewError(types.KindProtocol, "malformed open packet", err)
	}
	if info.SID == "" {
		return OpenInfo{}, types.NewError(types.KindProtocol, "open packet has no sid", nil)
	}
	return info, nil
}

func decodeOpen(data string) (OpenInfo, error) {
	var info OpenInfo
	err := json.Unmarshal([]byte(data), &info)
	return info, err
}

func readLimited(r io.Reader) string {
	buf, _ := io.ReadAll(io.LimitReader(r, 1024))
	return string(buf)
}

func trimBody(body string) string {
	const max = 200
	if len(body) > max {
		return body[:max] + "..."
	}
	return body
}
