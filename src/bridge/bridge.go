// Package bridge fans probe results out to other processes over pub/sub.
package bridge

import (
	"context"
	"time"

	"github.com/orchestra-mcp/socketprobe/src/types"
)

// Kind tags the payload carried by an Envelope.
type Kind string

const (
	KindResult  Kind = "result"
	KindSummary Kind = "summary"
)

// Envelope is one published message.
type Envelope struct {
	InstanceID string                `json:"instance_id"`
	Kind       Kind                  `json:"kind"`
	RunID      string                `json:"run_id"`
	Result     *types.ScenarioResult `json:"result,omitempty"`
	Summary    *types.RunSummary     `json:"summary,omitempty"`
	SentAt     time.Time             `json:"sent_at"`
}

// Bridge publishes results to, and relays results from, other instances.
type Bridge interface {
	// PublishResult sends one finished scenario result.
	PublishResult(ctx context.Context, runID string, res types.ScenarioResult) error

	// PublishSummary sends a finished run.
	PublishSummary(ctx context.Context, summary types.RunSummary) error

	// Start connects and begins relaying messages from other instances.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// Target receives envelopes published by other instances.
type Target interface {
	Receive(env Envelope)
}

// TargetFunc adapts a function to Target.
type TargetFunc func(Envelope)

func (f TargetFunc) Receive(env Envelope) { f(env) }
