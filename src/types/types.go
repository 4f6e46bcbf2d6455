package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Transport names a real-time transport.
type Transport string

const (
	TransportPolling   Transport = "polling"
	TransportWebSocket Transport = "websocket"
)

// Endpoint identifies a real-time service and how to reach it.
type Endpoint struct {
	BaseURL    string      `json:"base_url" yaml:"base_url"`
	Path       string      `json:"path,omitempty" yaml:"path,omitempty"`
	Namespace  string      `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Transports []Transport `json:"transports" yaml:"transports"`
}

// DefaultSocketPath is the handshake path used when Endpoint.Path is empty.
const DefaultSocketPath = "/socket.io/"

// SocketPath returns the handshake path with a trailing slash.
func (e Endpoint) SocketPath() string {
	p := e.Path
	if p == "" {
		p = DefaultSocketPath
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// Upgrades reports whether the transport order starts on polling and
// later moves to a websocket.
func (e Endpoint) Upgrades() bool {
	return len(e.Transports) > 1 &&
		e.Transports[0] == TransportPolling &&
		e.Transports[1] == TransportWebSocket
}

// Outcome is the expected result of a scenario.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Scenario is one configured connection attempt with a declared expectation.
type Scenario struct {
	Name     string            `json:"name" yaml:"name"`
	Endpoint Endpoint          `json:"endpoint" yaml:"endpoint"`
	Origin   string            `json:"origin,omitempty" yaml:"origin,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Expected Outcome           `json:"expected" yaml:"expected"`
	Deadline time.Duration     `json:"deadline" yaml:"deadline"`

	// ProbeEvent is emitted once the handshake is accepted. Empty skips the probe.
	ProbeEvent   string `json:"probe_event,omitempty" yaml:"probe_event,omitempty"`
	ProbePayload any    `json:"probe_payload,omitempty" yaml:"probe_payload,omitempty"`
	// ConfirmEvent is the event name that satisfies the scenario.
	ConfirmEvent string `json:"confirm_event" yaml:"confirm_event"`

	// AllowNetworkFailure lets a network-level failure satisfy a Rejected expectation.
	AllowNetworkFailure bool `json:"allow_network_failure,omitempty" yaml:"allow_network_failure,omitempty"`
}

// Validate checks the scenario before a run starts.
func (s Scenario) Validate() error {
	if s.Name == "" {
		return NewError(KindConfig, "scenario name is required", nil)
	}
	if s.Endpoint.BaseURL == "" {
		return NewError(KindConfig, fmt.Sprintf("scenario %q: endpoint base url is required", s.Name), nil)
	}
	if len(s.Endpoint.Transports) == 0 {
		return NewError(KindConfig, fmt.Sprintf("scenario %q: at least one transport is required", s.Name), nil)
	}
	for _, t := range s.Endpoint.Transports {
		if t != TransportPolling && t != TransportWebSocket {
			return NewError(KindConfig, fmt.Sprintf("scenario %q: unknown transport %q", s.Name, t), nil)
		}
	}
	if s.Expected != OutcomeAccepted && s.Expected != OutcomeRejected {
		return NewError(KindConfig, fmt.Sprintf("scenario %q: unknown expected outcome %q", s.Name, s.Expected), nil)
	}
	if s.Deadline <= 0 {
		return NewError(KindConfig, fmt.Sprintf("scenario %q: deadline must be positive", s.Name), nil)
	}
	if s.ConfirmEvent == "" {
		return NewError(KindConfig, fmt.Sprintf("scenario %q: confirm event is required", s.Name), nil)
	}
	return nil
}

// RequestHeaders returns the headers sent on every negotiation request.
func (s Scenario) RequestHeaders() map[string]string {
	h := make(map[string]string, len(s.Headers)+1)
	for k, v := range s.Headers {
		h[k] = v
	}
	if s.Origin != "" {
		h["Origin"] = s.Origin
	}
	return h
}

// Event is an application event received on a channel.
type Event struct {
	Seq        int             `json:"seq"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Level classifies a diagnostic message.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Diagnostic is a human-readable note collected during an attempt.
type Diagnostic struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// ScenarioResult is the outcome of running one scenario.
type ScenarioResult struct {
	Scenario    string          `json:"scenario"`
	Expected    Outcome         `json:"expected"`
	State       ConnectionState `json:"state"`
	Transport   Transport       `json:"transport,omitempty"`
	Events      []Event         `json:"events"`
	Diagnostics []Diagnostic    `json:"diagnostics,omitempty"`
	Elapsed     time.Duration   `json:"elapsed"`
	Success     bool            `json:"success"`
	Err         *ProbeError     `json:"error,omitempty"`
}

// RunSummary aggregates the results of one run.
type RunSummary struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	Results   []ScenarioResult `json:"results"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// Add appends a result and updates the counts.
func (s *RunSummary) Add(r ScenarioResult) {
	s.Results = append(s.Results, r)
	if r.Success {
		s.Passed++
	} else {
		s.Failed++
	}
}

// OK reports whether every scenario succeeded.
func (s RunSummary) OK() bool {
	return len(s.Results) > 0 && s.Failed == 0
}
