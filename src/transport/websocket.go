package transport

import (
	"context"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/socketprobe/src/types"
)

// wsConn carries one Engine.IO packet per websocket text frame.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (w *wsConn) transport() types.Transport { return types.TransportWebSocket }

func (w *wsConn) read(ctx context.Context) ([]Packet, error) {
	deadline, _ := ctx.Deadline()
	if err := w.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	mt, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if mt != websocket.TextMessage {
		return nil, types.NewError(types.KindProtocol, "binary frames are not supported", nil)
	}
	p, err := DecodePacket(string(data))
	if err != nil {
		return nil, types.NewError(types.KindProtocol, "malformed frame", err)
	}
	return []Packet{p}, nil
}

func (w *wsConn) write(packets ...Packet) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	for _, p := range packets {
		if err := w.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
			return err
		}
		if err := w.conn.WriteMessage(websocket.TextMessage, []byte(p.String())); err != nil {
			return err
		}
	}
	return nil
}

func (w *wsConn) close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.conn.Close()
	})
	return err
}
