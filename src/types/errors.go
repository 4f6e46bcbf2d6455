package types

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a probe failure.
type Kind string

const (
	KindNetwork           Kind = "network_error"
	KindHandshakeRejected Kind = "handshake_rejected"
	KindProtocol          Kind = "protocol_error"
	KindTimeout           Kind = "timeout"
	KindNotConnected      Kind = "not_connected"
	KindConfig            Kind = "config_error"
	KindCancelled         Kind = "cancelled"
)

// Sentinel errors matched by errors.Is against a *ProbeError of the same kind.
var (
	ErrNetwork           = errors.New(string(KindNetwork))
	ErrHandshakeRejected = errors.New(string(KindHandshakeRejected))
	ErrProtocol          = errors.New(string(KindProtocol))
	ErrTimeout           = errors.New(string(KindTimeout))
	ErrNotConnected      = errors.New(string(KindNotConnected))
	ErrConfig            = errors.New(string(KindConfig))
	ErrCancelled         = errors.New(string(KindCancelled))
)

var kindSentinels = map[Kind]error{
	KindNetwork:           ErrNetwork,
	KindHandshakeRejected: ErrHandshakeRejected,
	KindProtocol:          ErrProtocol,
	KindTimeout:           ErrTimeout,
	KindNotConnected:      ErrNotConnected,
	KindConfig:            ErrConfig,
	KindCancelled:         ErrCancelled,
}

// Reason refines a handshake rejection.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonOriginDenied Reason = "origin_denied"
	ReasonRefused      Reason = "refused"
	ReasonConnectError Reason = "connect_error"
)

// ProbeError is the error type surfaced by transports and attempts.
type ProbeError struct {
	Kind    Kind   `json:"kind"`
	Reason  Reason `json:"reason,omitempty"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// NewError builds a ProbeError of the given kind.
func NewError(kind Kind, msg string, err error) *ProbeError {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return &ProbeError{Kind: kind, Message: msg, Err: err}
}

// Rejected builds a HandshakeRejected error.
func Rejected(reason Reason, status int, msg string) *ProbeError {
	return &ProbeError{Kind: KindHandshakeRejected, Reason: reason, Status: status, Message: msg}
}

func (e *ProbeError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Reason != ReasonNone {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " [HTTP %d]", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Is matches the sentinel of the same kind.
func (e *ProbeError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// PolicyRelated reports whether the failure was a policy-level refusal.
func (e *ProbeError) PolicyRelated() bool {
	if e == nil {
		return false
	}
	return e.Kind == KindHandshakeRejected || e.Reason == ReasonOriginDenied
}

// AsProbeError converts any error into a *ProbeError, defaulting to fallback kind.
func AsProbeError(err error, fallback Kind) *ProbeError {
	if err == nil {
		return nil
	}
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe
	}
	return NewError(fallback, "", err)
}

// ClassifyRejection derives a rejection reason from a negotiation response.
// A 403 counts as an origin denial only when an Origin header was sent.
func ClassifyRejection(status int, body string, originSent bool) Reason {
	if strings.Contains(strings.ToLower(body), "origin") {
		return ReasonOriginDenied
	}
	if status == 403 && originSent {
		return ReasonOriginDenied
	}
	return ReasonRefused
}
