package types_test

import (
	"encoding/json"
	"testing"

	"github.com/orchestra-mcp/socketprobe/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStateJSON(t *testing.T) {
	for st := types.StateIdle; st <= types.StateFailed; st++ {
		data, err := json.Marshal(st)
		require.NoError(t, err)

		var got types.ConnectionState
		require.NoError(t, json.Unmarshal(data, &got), string(data))
		assert.Equal(t, st, got)
	}
}

func TestConnectionStateRejectsUnknownName(t *testing.T) {
	got := types.StateCompleted
	err := json.Unmarshal([]byte(`"complete"`), &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"complete"`)
	assert.Equal(t, types.StateCompleted, got)

	var res types.ScenarioResult
	assert.Error(t, json.Unmarshal([]byte(`{"state":"bogus"}`), &res))
}

func TestConnectionStateTerminal(t *testing.T) {
	assert.False(t, types.StateAwaitingEvents.Terminal())
	assert.True(t, types.StateTimedOut.Terminal())
	assert.True(t, types.StateHandshakeAccepted.Live())
	assert.False(t, types.StateFailed.Live())
	assert.Equal(t, "unknown", types.ConnectionState(99).String())
}
