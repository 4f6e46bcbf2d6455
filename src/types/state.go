package types

import (
	"encoding/json"
	"fmt"
)

// ConnectionState is the lifecycle state of a connection attempt.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateHandshakeAccepted
	StateHandshakeRejected
	StateAwaitingEvents
	StateCompleted
	StateTimedOut
	StateFailed
)

var stateNames = map[ConnectionState]string{
	StateIdle:              "idle",
	StateConnecting:        "connecting",
	StateHandshakeAccepted: "handshake_accepted",
	StateHandshakeRejected: "handshake_rejected",
	StateAwaitingEvents:    "awaiting_events",
	StateCompleted:         "completed",
	StateTimedOut:          "timed_out",
	StateFailed:            "failed",
}

// String returns the string representation of a ConnectionState.
func (s ConnectionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transition can occur from s.
func (s ConnectionState) Terminal() bool {
	switch s {
	case StateHandshakeRejected, StateCompleted, StateTimedOut, StateFailed:
		return true
	}
	return false
}

// Live reports whether a channel is open and usable in s.
func (s ConnectionState) Live() bool {
	return s == StateHandshakeAccepted || s == StateAwaitingEvents
}

// MarshalJSON encodes the state by name.
func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name. Unknown names are an error.
func (s *ConnectionState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st, n := range stateNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", name)
}
