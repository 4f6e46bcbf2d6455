package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSummary() types.RunSummary {
	var s types.RunSummary
	s.RunID = "run-1"
	s.StartedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Add(types.ScenarioResult{
		Scenario:  "authorized origin",
		Expected:  types.OutcomeAccepted,
		State:     types.StateCompleted,
		Transport: types.TransportWebSocket,
		Events:    []types.Event{{Seq: 0, Name: "health_response"}},
		Elapsed:   42 * time.Millisecond,
		Success:   true,
	})
	s.Add(types.ScenarioResult{
		Scenario: "unauthorized origin",
		Expected: types.OutcomeRejected,
		State:    types.StateHandshakeRejected,
		Err:      types.Rejected(types.ReasonOriginDenied, 400, "Not an accepted origin."),
		Elapsed:  5 * time.Millisecond,
		Success:  true,
	})
	return s
}

func TestRenderTextPassing(t *testing.T) {
	rep := New(FormatText).Render(sampleSummary())

	assert.True(t, rep.OK)
	assert.Equal(t, ExitOK, rep.ExitCode)
	assert.Contains(t, rep.Text, "[1] authorized origin: PASS")
	assert.Contains(t, rep.Text, "[2] unauthorized origin: PASS")
	assert.Contains(t, rep.Text, "state:    completed")
	assert.Contains(t, rep.Text, "events:   1")
	assert.Contains(t, rep.Text, "reason:   origin_denied")
	assert.Contains(t, rep.Text, "PASS: 2 passed, 0 failed")
	assert.NotContains(t, rep.Text, "hint:")
}

func TestRenderTextFailureHasHint(t *testing.T) {
	s := sampleSummary()
	s.Add(types.ScenarioResult{
		Scenario:    "down",
		Expected:    types.OutcomeAccepted,
		State:       types.StateFailed,
		Err:         types.NewError(types.KindNetwork, "connection refused", nil),
		Diagnostics: []types.Diagnostic{{Level: types.LevelError, Message: "expected accepted, observed failed"}},
	})

	rep := New(FormatText).Render(s)
	assert.False(t, rep.OK)
	assert.Equal(t, ExitFailure, rep.ExitCode)
	assert.Contains(t, rep.Text, "[3] down: FAIL")
	assert.Contains(t, rep.Text, "error:    network_error: connection refused")
	assert.Contains(t, rep.Text, "error: expected accepted, observed failed")
	assert.Contains(t, rep.Text, "hint:     server unreachable")
	assert.Contains(t, rep.Text, "FAIL: 2 passed, 1 failed")
}

func TestRenderEnumeratesEveryScenario(t *testing.T) {
	s := sampleSummary()
	rep := New(FormatText).Render(s)
	for _, r := range s.Results {
		assert.Equal(t, 1, strings.Count(rep.Text, "] "+r.Scenario+": "), r.Scenario)
	}
}

func TestRenderDoesNotMutate(t *testing.T) {
	s := sampleSummary()
	before, err := json.Marshal(s)
	require.NoError(t, err)
	New(FormatJSON).Render(s)
	New(FormatText).Render(s)
	after, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestRenderEmptySummaryFails(t *testing.T) {
	rep := New(FormatText).Render(types.RunSummary{})
	assert.False(t, rep.OK)
	assert.Equal(t, ExitFailure, rep.ExitCode)
}

func TestRenderJSON(t *testing.T) {
	rep := New(FormatJSON).Render(sampleSummary())
	require.True(t, rep.OK)

	var decoded struct {
		RunID   string `json:"run_id"`
		OK      bool   `json:"ok"`
		Passed  int    `json:"passed"`
		Results []struct {
			Scenario string `json:"scenario"`
			State    string `json:"state"`
			Error    *struct {
				Kind   string `json:"kind"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(rep.Text), &decoded))
	assert.Equal(t, "run-1", decoded.RunID)
	assert.True(t, decoded.OK)
	assert.Equal(t, 2, decoded.Passed)
	require.Len(t, decoded.Results, 2)
	assert.Equal(t, "completed", decoded.Results[0].State)
	assert.Nil(t, decoded.Results[0].Error)
	require.NotNil(t, decoded.Results[1].Error)
	assert.Equal(t, "handshake_rejected", decoded.Results[1].Error.Kind)
	assert.Equal(t, "origin_denied", decoded.Results[1].Error.Reason)
}

func TestUnknownFormatFallsBackToText(t *testing.T) {
	rep := New("xml").Render(sampleSummary())
	assert.Contains(t, rep.Text, "socketprobe run run-1")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	rep, err := New(FormatText).Write(&buf, sampleSummary())
	require.NoError(t, err)
	assert.Equal(t, rep.Text, buf.String())

	_, err = New(FormatText).Write(failingWriter{}, sampleSummary())
	assert.ErrorContains(t, err, "disk full")
}

func TestHint(t *testing.T) {
	cases := []struct {
		name string
		res  types.ScenarioResult
		want string
	}{
		{
			name: "origin denied on accepted",
			res: types.ScenarioResult{Expected: types.OutcomeAccepted, State: types.StateHandshakeRejected,
				Err: types.Rejected(types.ReasonOriginDenied, 403, "forbidden")},
			want: "allowlist",
		},
		{
			name: "accepted but should be rejected",
			res:  types.ScenarioResult{Expected: types.OutcomeRejected, State: types.StateCompleted},
			want: "should be refused",
		},
		{
			name: "timeout",
			res: types.ScenarioResult{Expected: types.OutcomeAccepted, State: types.StateTimedOut,
				Err: types.NewError(types.KindTimeout, "deadline", nil)},
			want: "confirmation event",
		},
		{
			name: "protocol",
			res: types.ScenarioResult{Expected: types.OutcomeAccepted, State: types.StateFailed,
				Err: types.NewError(types.KindProtocol, "bad frame", nil)},
			want: "protocol",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Contains(t, Hint(tc.res), tc.want)
		})
	}
	assert.Empty(t, Hint(types.ScenarioResult{Expected: types.OutcomeAccepted, State: types.StateCompleted}))
}
