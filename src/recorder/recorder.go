// Package recorder keeps the append-only log of events received on a channel.
package recorder

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
	"time"

	"github.com/orchestra-mcp/socketprobe/src/types"
)

// Recorder is an append-only, receipt-ordered event log. Record is called
// from a channel's reader goroutine; readers and waiters may run anywhere.
type Recorder struct {
	mu      sync.RWMutex
	events  []types.Event
	changed chan struct{}
	now     func() time.Time
}

// New creates an empty recorder.
func New() *Recorder {
	return &Recorder{
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// Record appends an event and wakes every waiter.
func (r *Recorder) Record(name string, payload json.RawMessage) types.Event {
	r.mu.Lock()
	at := r.now()
	if n := len(r.events); n > 0 && at.Before(r.events[n-1].ReceivedAt) {
		at = r.events[n-1].ReceivedAt
	}
	ev := types.Event{
		Seq:        len(r.events),
		Name:       name,
		Payload:    payload,
		ReceivedAt: at,
	}
	r.events = append(r.events, ev)
	close(r.changed)
	r.changed = make(chan struct{})
	r.mu.Unlock()
	return ev
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// Events returns a snapshot of all events in receipt order.
func (r *Recorder) Events() []types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Event, len(r.events))
	copy(out, r.events)
	return out
}

// EventsOfKind yields events named name in receipt order. The sequence is
// evaluated lazily and may be ranged over repeatedly.
func (r *Recorder) EventsOfKind(name string) iter.Seq[types.Event] {
	return func(yield func(types.Event) bool) {
		for i := 0; ; i++ {
			r.mu.RLock()
			if i >= len(r.events) {
				r.mu.RUnlock()
				return
			}
			ev := r.events[i]
			r.mu.RUnlock()
			if ev.Name != name {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Await blocks until an event at index from or later satisfies match, or ctx
// is done. If both happen together the event wins: a final scan runs after
// cancellation is observed.
func (r *Recorder) Await(ctx context.Context, from int, match func(types.Event) bool) (types.Event, error) {
	cursor := from
	for {
		ev, ok, next, changed := r.scan(cursor, match)
		if ok {
			return ev, nil
		}
		cursor = next
		select {
		case <-changed:
		case <-ctx.Done():
			if ev, ok, _, _ := r.scan(cursor, match); ok {
				return ev, nil
			}
			return types.Event{}, ctx.Err()
		}
	}
}

func (r *Recorder) scan(from int, match func(types.Event) bool) (types.Event, bool, int, <-chan struct{}) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := from; i < len(r.events); i++ {
		if match(r.events[i]) {
			return r.events[i], true, i + 1, nil
		}
	}
	return types.Event{}, false, len(r.events), r.changed
}

// Named returns a predicate matching events by name.
func Named(name string) func(types.Event) bool {
	return func(ev types.Event) bool { return ev.Name == name }
}
