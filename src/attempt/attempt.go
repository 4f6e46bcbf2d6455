// Package attempt drives one connection lifecycle against a single
// endpoint, origin and transport configuration under a deadline.
package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/orchestra-mcp/socketprobe/src/recorder"
	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/rs/zerolog"
)

// Attempt owns one ConnectionState and at most one live channel.
type Attempt struct {
	scenario  types.Scenario
	connector types.Connector
	rec       *recorder.Recorder
	logger    zerolog.Logger
	now       func() time.Time

	mu          sync.Mutex
	state       types.ConnectionState
	channel     types.Channel
	transport   types.Transport
	err         *types.ProbeError
	diagnostics []types.Diagnostic
	startedAt   time.Time
	endedAt     time.Time
	ctx         context.Context
	cancel      context.CancelFunc

	releaseOnce sync.Once
}

// New creates an idle attempt for scenario.
func New(scenario types.Scenario, connector types.Connector, logger zerolog.Logger) *Attempt {
	return &Attempt{
		scenario:  scenario,
		connector: connector,
		rec:       recorder.New(),
		logger:    logger.With().Str("component", "attempt").Str("scenario", scenario.Name).Logger(),
		now:       time.Now,
		state:     types.StateIdle,
	}
}

// State returns the current state.
func (a *Attempt) State() types.ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Err returns the error that ended the attempt, if any.
func (a *Attempt) Err() *types.ProbeError {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Recorder returns the attempt's event log.
func (a *Attempt) Recorder() *recorder.Recorder { return a.rec }

// Start connects and blocks until the handshake is accepted or the attempt
// reaches a terminal state. The scenario deadline starts counting here.
func (a *Attempt) Start(ctx context.Context) error {
	if a.scenario.Endpoint.BaseURL == "" {
		return types.NewError(types.KindConfig, "scenario has no endpoint", nil)
	}

	a.mu.Lock()
	if a.state != types.StateIdle {
		st := a.state
		a.mu.Unlock()
		return types.NewError(types.KindNotConnected, fmt.Sprintf("attempt cannot start from state %s", st), nil)
	}
	a.startedAt = a.now()
	a.ctx, a.cancel = context.WithDeadline(ctx, a.startedAt.Add(a.scenario.Deadline))
	runCtx := a.ctx
	a.mu.Unlock()

	if !a.transition(types.StateConnecting, nil) {
		return a.Err()
	}
	a.note(types.LevelInfo, "connecting to %s (transports %v, origin %q)",
		a.scenario.Endpoint.BaseURL, a.scenario.Endpoint.Transports, a.scenario.Origin)

	ch, err := a.connector.Connect(runCtx, types.ConnectRequest{
		Endpoint: a.scenario.Endpoint,
		Headers:  a.scenario.RequestHeaders(),
		Deliver:  a.deliver,
		OnError:  a.channelFailed,
	})
	if err != nil {
		pe := types.AsProbeError(err, types.KindNetwork)
		a.transition(terminalFor(pe), pe)
		if cur := a.Err(); cur != nil {
			return cur
		}
		return pe
	}

	a.mu.Lock()
	if a.state != types.StateConnecting {
		// Stopped while the handshake was in flight.
		a.mu.Unlock()
		_ = ch.Close()
		return a.Err()
	}
	a.channel = ch
	a.transport = ch.Transport()
	a.mu.Unlock()

	a.transition(types.StateHandshakeAccepted, nil)
	a.note(types.LevelInfo, "handshake accepted over %s", ch.Transport())
	return nil
}

// terminalFor maps a handshake failure onto its terminal state.
func terminalFor(pe *types.ProbeError) types.ConnectionState {
	switch pe.Kind {
	case types.KindHandshakeRejected:
		return types.StateHandshakeRejected
	case types.KindTimeout:
		return types.StateTimedOut
	}
	return types.StateFailed
}

// Probe emits a named event on the live channel.
func (a *Attempt) Probe(event string, payload any) error {
	a.mu.Lock()
	st, ch := a.state, a.channel
	a.mu.Unlock()
	if !st.Live() || ch == nil {
		return types.NewError(types.KindNotConnected, fmt.Sprintf("cannot probe %q in state %s", event, st), nil)
	}
	if err := ch.Emit(event, payload); err != nil {
		pe := types.AsProbeError(err, types.KindNetwork)
		a.transition(types.StateFailed, pe)
		return pe
	}
	a.note(types.LevelInfo, "emitted %s", event)
	return nil
}

// AwaitEvent waits for an event satisfying match. A zero deadline waits for
// the scenario deadline. The attempt completes on a match and times out if
// the deadline fires first; an event recorded at the same instant wins.
func (a *Attempt) AwaitEvent(match func(types.Event) bool, deadline time.Time) (types.Event, error) {
	a.mu.Lock()
	st, base := a.state, a.ctx
	a.mu.Unlock()
	if !st.Live() {
		return types.Event{}, types.NewError(types.KindNotConnected, fmt.Sprintf("cannot await in state %s", st), nil)
	}
	if st == types.StateHandshakeAccepted {
		a.transition(types.StateAwaitingEvents, nil)
	}

	waitCtx, cancel := base, context.CancelFunc(func() {})
	if !deadline.IsZero() {
		waitCtx, cancel = context.WithDeadline(base, deadline)
	}
	defer cancel()

	ev, err := a.rec.Await(waitCtx, 0, match)
	if err == nil && a.transition(types.StateCompleted, nil) {
		a.note(types.LevelInfo, "received %s", ev.Name)
		return ev, nil
	}

	if cur := a.State(); cur.Terminal() {
		if pe := a.Err(); pe != nil {
			return types.Event{}, pe
		}
		return types.Event{}, types.NewError(types.KindNotConnected, fmt.Sprintf("attempt ended in state %s", cur), nil)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		pe := types.NewError(types.KindTimeout, "deadline elapsed before the expected event arrived", nil)
		a.transition(types.StateTimedOut, pe)
		return types.Event{}, pe
	}
	pe := types.NewError(types.KindCancelled, "wait cancelled", err)
	a.transition(types.StateFailed, pe)
	return types.Event{}, pe
}

// Stop ends a non-terminal attempt and releases its channel. It is safe to
// call from any goroutine and more than once.
func (a *Attempt) Stop() {
	a.transition(types.StateFailed, types.NewError(types.KindCancelled, "attempt stopped before a verdict", nil))
}

// Result snapshots the attempt as a ScenarioResult. Success is left for the
// caller to score.
func (a *Attempt) Result() types.ScenarioResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	var elapsed time.Duration
	switch {
	case a.startedAt.IsZero():
	case a.endedAt.IsZero():
		elapsed = a.now().Sub(a.startedAt)
	default:
		elapsed = a.endedAt.Sub(a.startedAt)
	}
	diags := make([]types.Diagnostic, len(a.diagnostics))
	copy(diags, a.diagnostics)

	return types.ScenarioResult{
		Scenario:    a.scenario.Name,
		Expected:    a.scenario.Expected,
		State:       a.state,
		Transport:   a.transport,
		Events:      a.rec.Events(),
		Diagnostics: diags,
		Elapsed:     elapsed,
		Err:         a.err,
	}
}

func (a *Attempt) deliver(name string, payload json.RawMessage) {
	ev := a.rec.Record(name, payload)
	a.logger.Debug().Str("event", name).Int("seq", ev.Seq).Msg("event received")
}

func (a *Attempt) channelFailed(err error) {
	a.transition(types.StateFailed, types.AsProbeError(err, types.KindNetwork))
}

func (a *Attempt) note(level types.Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	a.mu.Lock()
	a.diagnostics = append(a.diagnostics, types.Diagnostic{Level: level, Message: msg, At: a.now()})
	a.mu.Unlock()

	switch level {
	case types.LevelError:
		a.logger.Error().Msg(msg)
	case types.LevelWarn:
		a.logger.Warn().Msg(msg)
	default:
		a.logger.Debug().Msg(msg)
	}
}
