package types

import (
	"context"
	"encoding/json"
)

// DeliverFunc receives one application event from a channel's reader.
type DeliverFunc func(name string, payload json.RawMessage)

// Channel abstracts an established duplex event channel for testability.
type Channel interface {
	Emit(event string, payload any) error
	Transport() Transport
	Close() error
}

// ConnectRequest carries everything a Connector needs for one handshake.
type ConnectRequest struct {
	Endpoint Endpoint
	Headers  map[string]string
	// Deliver is called from the channel's reader for every received event.
	Deliver DeliverFunc
	// OnError is called at most once when the channel fails after the handshake.
	OnError func(error)
}

// Connector opens channels. Connect returns a *ProbeError on failure.
type Connector interface {
	Connect(ctx context.Context, req ConnectRequest) (Channel, error)
}
