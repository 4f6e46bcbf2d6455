package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/rs/zerolog"
)

// channel is an established Socket.IO namespace connection.
type channel struct {
	conn    frameConn
	ns      string
	deliver types.DeliverFunc
	onError func(error)
	logger  zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
	failOnce  sync.Once
}

// newChannel starts the read loop. backlog holds packets already read
// from conn; they are handled before anything new.
func newChannel(conn frameConn, req types.ConnectRequest, logger zerolog.Logger, backlog []Packet) *channel {
	c := &channel{
		conn:    conn,
		ns:      normalizeNamespace(req.Endpoint.Namespace),
		deliver: req.Deliver,
		onError: req.OnError,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go c.readLoop(backlog)
	return c
}

func (c *channel) Transport() types.Transport { return c.conn.transport() }

func (c *channel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Emit sends a named event on the namespace.
func (c *channel) Emit(event string, payload any) error {
	if c.closed() {
		return types.NewError(types.KindNotConnected, "channel is closed", nil)
	}
	body, err := EncodeEvent(c.ns, event, payload)
	if err != nil {
		return types.NewError(types.KindProtocol, "", err)
	}
	if err := c.conn.write(Packet{Type: PacketMessage, Data: body}); err != nil {
		return types.NewError(types.KindNetwork, "emit "+event, err)
	}
	return nil
}

// Close leaves the namespace and releases the transport. Safe to call repeatedly.
func (c *channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		bye := EncodeSocket(SocketPacket{Type: SocketDisconnect, Namespace: c.ns})
		if werr := c.conn.write(Packet{Type: PacketMessage, Data: bye}, Packet{Type: PacketClose}); werr != nil {
			c.logger.Debug().Err(werr).Msg("disconnect packet not delivered")
		}
		err = c.conn.close()
	})
	return err
}

func (c *channel) readLoop(backlog []Packet) {
	for _, p := range backlog {
		if err := c.handle(p); err != nil {
			c.fail(err)
			return
		}
	}
	for {
		packets, err := c.conn.read(context.Background())
		if err != nil {
			if c.closed() || errors.Is(err, errTransportClosed) {
				return
			}
			var pe *types.ProbeError
			if !errors.As(err, &pe) {
				pe = types.NewError(types.KindNetwork, "connection lost", err)
			}
			c.fail(pe)
			return
		}
		for _, p := range packets {
			if err := c.handle(p); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *channel) handle(p Packet) error {
	switch p.Type {
	case PacketPing:
		return c.conn.write(Packet{Type: PacketPong, Data: p.Data})
	case PacketClose:
		return types.NewError(types.KindNetwork, "server closed the session", nil)
	case PacketMessage:
		return c.handleSocket(p.Data)
	}
	return nil
}

func (c *channel) handleSocket(data string) error {
	sp, err := DecodeSocket(data)
	if err != nil {
		return types.NewError(types.KindProtocol, "malformed socket packet", err)
	}
	if sp.Namespace != c.ns {
		return nil
	}
	switch sp.Type {
	case SocketEvent:
		name, payload, err := DecodeEvent(sp.Data)
		if err != nil {
			return types.NewError(types.KindProtocol, "malformed event", err)
		}
		if c.deliver != nil {
			c.deliver(name, payload)
		}
	case SocketDisconnect:
		return types.NewError(types.KindNetwork, "server disconnected the namespace", nil)
	case SocketConnectError:
		return types.Rejected(types.ReasonConnectError, 0, ConnectErrorMessage(sp.Data))
	}
	return nil
}

func (c *channel) fail(err error) {
	if c.closed() {
		return
	}
	c.failOnce.Do(func() {
		c.logger.Debug().Err(err).Msg("channel failed")
		if c.onError != nil {
			c.onError(err)
		}
	})
}
