package runner

import (
	"time"

	"github.com/orchestra-mcp/socketprobe/src/types"
)

// Defaults configures the built-in scenario set.
type Defaults struct {
	AllowedOrigin string
	BlockedOrigin string
	Deadline      time.Duration
	ProbeEvent    string
	ConfirmEvent  string
	SocketPath    string
}

// DefaultScenarios returns the standard origin-policy checks for base.
func DefaultScenarios(base string, d Defaults) []types.Scenario {
	upgrade := types.Endpoint{
		BaseURL:    base,
		Path:       d.SocketPath,
		Transports: []types.Transport{types.TransportPolling, types.TransportWebSocket},
	}
	wsOnly := types.Endpoint{
		BaseURL:    base,
		Path:       d.SocketPath,
		Transports: []types.Transport{types.TransportWebSocket},
	}
	mk := func(name string, ep types.Endpoint, origin string, expected types.Outcome) types.Scenario {
		return types.Scenario{
			Name:         name,
			Endpoint:     ep,
			Origin:       origin,
			Expected:     expected,
			Deadline:     d.Deadline,
			ProbeEvent:   d.ProbeEvent,
			ProbePayload: map[string]any{"source": "socketprobe"},
			ConfirmEvent: d.ConfirmEvent,
		}
	}
	return []types.Scenario{
		mk("authorized origin", upgrade, d.AllowedOrigin, types.OutcomeAccepted),
		mk("no origin header", upgrade, "", types.OutcomeAccepted),
		mk("unauthorized origin", upgrade, d.BlockedOrigin, types.OutcomeRejected),
		mk("websocket only, authorized origin", wsOnly, d.AllowedOrigin, types.OutcomeAccepted),
	}
}
