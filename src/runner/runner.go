// Package runner executes scenarios strictly one after another, each with a
// fresh connection attempt, and scores every outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/socketprobe/src/attempt"
	"github.com/orchestra-mcp/socketprobe/src/recorder"
	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/rs/zerolog"
)

// ErrNoScenarios is returned when a run is started without scenarios.
var ErrNoScenarios = types.NewError(types.KindConfig, "no scenarios to run", nil)

// Runner runs scenarios sequentially against a Connector.
type Runner struct {
	connector types.Connector
	logger    zerolog.Logger
	onResult  []func(runID string, res types.ScenarioResult)
}

// New creates a runner.
func New(connector types.Connector, logger zerolog.Logger) *Runner {
	return &Runner{
		connector: connector,
		logger:    logger.With().Str("component", "runner").Logger(),
	}
}

// OnResult registers a callback invoked after each scenario finishes.
func (r *Runner) OnResult(cb func(runID string, res types.ScenarioResult)) {
	r.onResult = append(r.onResult, cb)
}

// Run validates every scenario, then executes them in order. Only a
// configuration error returns a non-nil error; per-scenario failures are
// captured in their results.
func (r *Runner) Run(ctx context.Context, scenarios []types.Scenario) (types.RunSummary, error) {
	if len(scenarios) == 0 {
		return types.RunSummary{}, ErrNoScenarios
	}
	for _, s := range scenarios {
		if err := s.Validate(); err != nil {
			return types.RunSummary{}, err
		}
	}

	summary := types.RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}
	log := r.logger.With().Str("run_id", summary.RunID).Logger()
	log.Info().Int("scenarios", len(scenarios)).Msg("run started")

	for _, s := range scenarios {
		res := r.runOne(ctx, s)
		summary.Add(res)

		ev := log.Info()
		if !res.Success {
			ev = log.Warn()
		}
		ev.Str("scenario", s.Name).
			Str("state", res.State.String()).
			Bool("success", res.Success).
			Dur("elapsed", res.Elapsed).
			Msg("scenario finished")

		for _, cb := range r.onResult {
			cb(summary.RunID, res)
		}
	}

	log.Info().Int("passed", summary.Passed).Int("failed", summary.Failed).Msg("run finished")
	return summary, nil
}

// runOne drives a single attempt to a terminal state. The attempt is
// stopped before its result is read, so its channel is released before
// the next scenario starts.
func (r *Runner) runOne(ctx context.Context, s types.Scenario) types.ScenarioResult {
	a := attempt.New(s, r.connector, r.logger)
	if err := a.Start(ctx); err == nil {
		r.observe(a, s)
	}
	a.Stop()

	res := a.Result()
	res.Success = Score(s, res.State, res.Err)
	if !res.Success {
		res.Diagnostics = append(res.Diagnostics, types.Diagnostic{
			Level:   types.LevelError,
			Message: fmt.Sprintf("expected %s, observed %s", s.Expected, res.State),
			At:      time.Now(),
		})
	}
	return res
}

func (r *Runner) observe(a *attempt.Attempt, s types.Scenario) {
	if s.ProbeEvent != "" {
		if err := a.Probe(s.ProbeEvent, s.ProbePayload); err != nil {
			return
		}
	}
	_, _ = a.AwaitEvent(recorder.Named(s.ConfirmEvent), time.Time{})
}

// Score decides whether the observed terminal state satisfies the
// scenario's expectation.
func Score(s types.Scenario, state types.ConnectionState, err *types.ProbeError) bool {
	switch s.Expected {
	case types.OutcomeAccepted:
		return state == types.StateCompleted
	case types.OutcomeRejected:
		switch state {
		case types.StateHandshakeRejected:
			return true
		case types.StateFailed:
			if err.PolicyRelated() {
				return true
			}
			return s.AllowNetworkFailure && err != nil && errors.Is(err, types.ErrNetwork)
		}
	}
	return false
}
