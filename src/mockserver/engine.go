package mockserver

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/socketprobe/src/hub"
	"github.com/orchestra-mcp/socketprobe/src/transport"
	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/valyala/fasthttp"
)

// originDenied matches the body python-engineio sends for a refused origin.
const originDenied = "Not an accepted origin."

func (s *Server) handleEngine(ctx *fasthttp.RequestCtx) {
	origin := string(ctx.Request.Header.Peek("Origin"))
	if !s.originAllowed(origin) {
		s.logger.Warn().Str("origin", origin).Msg("origin rejected")
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString(originDenied)
		return
	}

	args := ctx.QueryArgs()
	if string(args.Peek("EIO")) != "4" {
		s.badRequest(ctx, "Unsupported protocol version")
		return
	}
	sid := string(args.Peek("sid"))
	switch types.Transport(args.Peek("transport")) {
	case types.TransportPolling:
		s.handlePolling(ctx, sid, origin)
	case types.TransportWebSocket:
		s.handleWebSocket(ctx, sid, origin)
	default:
		s.badRequest(ctx, "Transport unknown")
	}
}

func (s *Server) badRequest(ctx *fasthttp.RequestCtx, message string) {
	ctx.SetStatusCode(fasthttp.StatusBadRequest)
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(map[string]any{"code": 3, "message": message})
	ctx.SetBody(body)
}

func (s *Server) openPacket(sid string, upgrades []string) string {
	info := transport.OpenInfo{
		SID:          sid,
		Upgrades:     upgrades,
		PingInterval: int(s.cfg.PingInterval / time.Millisecond),
		PingTimeout:  int(s.cfg.PingTimeout / time.Millisecond),
		MaxPayload:   1000000,
	}
	data, _ := json.Marshal(info)
	return transport.Packet{Type: transport.PacketOpen, Data: string(data)}.String()
}

func (s *Server) handlePolling(ctx *fasthttp.RequestCtx, sid, origin string) {
	ctx.SetContentType("text/plain; charset=UTF-8")

	if sid == "" {
		if !ctx.IsGet() {
			s.badRequest(ctx, "Bad request")
			return
		}
		sess := hub.NewSession(uuid.New().String(), origin, types.TransportPolling)
		s.hub.Register(sess)
		ctx.SetBodyString(s.openPacket(sess.ID, []string{string(types.TransportWebSocket)}))
		return
	}

	sess := s.hub.Lookup(sid)
	if sess == nil {
		s.badRequest(ctx, "Session ID unknown")
		return
	}

	switch {
	case ctx.IsGet():
		ctx.SetBodyString(s.longPoll(sess))
	case ctx.IsPost():
		packets, err := transport.DecodePayload(string(ctx.PostBody()))
		if err != nil {
			s.badRequest(ctx, "Bad request")
			return
		}
		for _, p := range packets {
			s.handlePacket(sess, p)
		}
		ctx.SetBodyString("ok")
	default:
		s.badRequest(ctx, "Bad request")
	}
}

// longPoll waits for queued packets or the poll timeout.
func (s *Server) longPoll(sess *hub.Session) string {
	timer := time.NewTimer(s.cfg.PollTimeout)
	defer timer.Stop()

	select {
	case first, ok := <-sess.Outbox():
		if !ok {
			return transport.Packet{Type: transport.PacketClose}.String()
		}
		batch := []string{first}
		for {
			select {
			case next, ok := <-sess.Outbox():
				if !ok {
					return joinPackets(batch)
				}
				batch = append(batch, next)
			default:
				return joinPackets(batch)
			}
		}
	case <-timer.C:
		return transport.Packet{Type: transport.PacketNoop}.String()
	case <-sess.Done():
		return transport.Packet{Type: transport.PacketClose}.String()
	}
}

func joinPackets(raw []string) string {
	out := raw[0]
	for _, p := range raw[1:] {
		out += "\x1e" + p
	}
	return out
}

func (s *Server) handleWebSocket(ctx *fasthttp.RequestCtx, sid, origin string) {
	var sess *hub.Session
	if sid != "" {
		if sess = s.hub.Lookup(sid); sess == nil {
			s.badRequest(ctx, "Session ID unknown")
			return
		}
	}

	err := s.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		defer conn.Close()
		if sess == nil {
			sess = hub.NewSession(uuid.New().String(), origin, types.TransportWebSocket)
			s.hub.Register(sess)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(s.openPacket(sess.ID, []string{}))); err != nil {
				s.hub.Unregister(sess)
				return
			}
		} else if !s.probeUpgrade(conn, sess) {
			return
		}
		// The connection is released when this callback returns, so the
		// writer must be gone by then.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			s.writePump(conn, sess)
		}()
		s.readPump(conn, sess)
		sess.Close()
		<-writerDone
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
	}
}

// probeUpgrade completes the 2probe/3probe/5 exchange on a polling session.
func (s *Server) probeUpgrade(conn *websocket.Conn, sess *hub.Session) bool {
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PingTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		p, err := transport.DecodePacket(string(data))
		if err != nil {
			return false
		}
		switch p.Type {
		case transport.PacketPing:
			reply := transport.Packet{Type: transport.PacketPong, Data: p.Data}.String()
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return false
			}
		case transport.PacketUpgrade:
			sess.SetTransport(types.TransportWebSocket)
			// End any poll still parked on the old transport.
			sess.Enqueue(transport.Packet{Type: transport.PacketNoop}.String())
			return true
		default:
			return false
		}
	}
}

// readPump reads packets from the websocket until it closes.
func (s *Server) readPump(conn *websocket.Conn, sess *hub.Session) {
	defer s.hub.Unregister(sess)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		p, err := transport.DecodePacket(string(data))
		if err != nil {
			s.logger.Debug().Err(err).Str("sid", sess.ID).Msg("dropping malformed frame")
			continue
		}
		s.handlePacket(sess, p)
	}
}

// writePump writes queued packets and periodic pings to the websocket.
func (s *Server) writePump(conn *websocket.Conn, sess *hub.Session) {
	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()
	defer conn.Close()

	for {
		select {
		case pkt, ok := <-sess.Outbox():
			if !ok {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(transport.Packet{Type: transport.PacketClose}.String()))
				return
			}
			if pkt == (transport.Packet{Type: transport.PacketNoop}).String() {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(pkt)); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.TextMessage, []byte{byte(transport.PacketPing)}); err != nil {
				return
			}
		}
	}
}

func (s *Server) handlePacket(sess *hub.Session, p transport.Packet) {
	switch p.Type {
	case transport.PacketPing:
		sess.Enqueue(transport.Packet{Type: transport.PacketPong, Data: p.Data}.String())
	case transport.PacketClose:
		s.hub.Unregister(sess)
	case transport.PacketMessage:
		s.handleSocket(sess, p.Data)
	}
}

func (s *Server) handleSocket(sess *hub.Session, data string) {
	sp, err := transport.DecodeSocket(data)
	if err != nil {
		s.logger.Debug().Err(err).Str("sid", sess.ID).Msg("dropping malformed socket packet")
		return
	}
	if sp.Namespace != "/" {
		sess.Enqueue(socketPacket(transport.SocketConnectError, sp.Namespace, map[string]string{"message": "Invalid namespace"}))
		return
	}

	switch sp.Type {
	case transport.SocketConnect:
		if s.cfg.RejectConnect {
			sess.Enqueue(socketPacket(transport.SocketConnectError, "/", map[string]string{"message": "Connection rejected by server"}))
			return
		}
		socketID := uuid.New().String()
		sess.Join(socketID)
		sess.Enqueue(socketPacket(transport.SocketConnect, "/", map[string]string{"sid": socketID}))
	case transport.SocketDisconnect:
		sess.Leave()
	case transport.SocketEvent:
		if !sess.Joined() {
			return
		}
		name, payload, err := transport.DecodeEvent(sp.Data)
		if err != nil {
			s.logger.Debug().Err(err).Str("sid", sess.ID).Msg("dropping malformed event")
			return
		}
		s.hub.Dispatch(hub.Message{
			SessionID:  sess.ID,
			Event:      name,
			Payload:    payload,
			ReceivedAt: time.Now(),
		})
	}
}

func socketPacket(t transport.SocketType, ns string, body any) string {
	data, _ := json.Marshal(body)
	inner := transport.EncodeSocket(transport.SocketPacket{Type: t, Namespace: ns, Data: data})
	return transport.Packet{Type: transport.PacketMessage, Data: inner}.String()
}
