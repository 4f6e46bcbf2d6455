package attempt

import (
	"github.com/orchestra-mcp/socketprobe/src/types"
)

// allowed lists the legal transitions. Terminal states have no entry.
var allowed = map[types.ConnectionState][]types.ConnectionState{
	types.StateIdle: {types.StateConnecting, types.StateFailed},
	types.StateConnecting: {
		types.StateHandshakeAccepted,
		types.StateHandshakeRejected,
		types.StateTimedOut,
		types.StateFailed,
	},
	types.StateHandshakeAccepted: {types.StateAwaitingEvents, types.StateFailed},
	types.StateAwaitingEvents: {
		types.StateCompleted,
		types.StateTimedOut,
		types.StateFailed,
	},
}

func canTransition(from, to types.ConnectionState) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition moves the attempt to state to. Entering a terminal state
// records err, cancels pending waits and releases the channel exactly once.
// It returns false when the move is not legal from the current state.
func (a *Attempt) transition(to types.ConnectionState, err *types.ProbeError) bool {
	a.mu.Lock()
	from := a.state
	if !canTransition(from, to) {
		a.mu.Unlock()
		if !from.Terminal() {
			a.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("illegal transition ignored")
		}
		return false
	}
	a.state = to

	var ch types.Channel
	var cancel func()
	if to.Terminal() {
		a.endedAt = a.now()
		if err != nil {
			a.err = err
		}
		ch, a.channel = a.channel, nil
		cancel = a.cancel
	}
	a.mu.Unlock()

	a.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("state changed")
	if !to.Terminal() {
		return true
	}
	if cancel != nil {
		cancel()
	}
	a.release(ch)
	if err != nil {
		a.note(types.LevelWarn, "%s: %s", to, err.Error())
	}
	return true
}

func (a *Attempt) release(ch types.Channel) {
	a.releaseOnce.Do(func() {
		if ch == nil {
			return
		}
		if err := ch.Close(); err != nil {
			a.logger.Debug().Err(err).Msg("channel close failed")
		}
	})
}
