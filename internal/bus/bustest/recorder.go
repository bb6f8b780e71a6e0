// Package bustest provides a recording bus subscriber for tests.
package bustest

import (
	"context"
	"sync"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// Recorder is a bus.Subscriber that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []wire.Event
	signal chan struct{}
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{signal: make(chan struct{}, 1)}
}

func (r *Recorder) Receive(_ context.Context, e wire.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	select {
	case r.signal <- struct{}{}:
	default:
	}
	return nil
}

// Events returns a copy of everything received so far.
func (r *Recorder) Events() []wire.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]wire.Event(nil), r.events...)
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Match returns the recorded events for which keep returns true.
func (r *Recorder) Match(keep func(wire.Event) bool) []wire.Event {
	var out []wire.Event
	for _, e := range r.Events() {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t wire.Type) []wire.Event {
	return r.Match(func(e wire.Event) bool { return e.Kind() == t })
}

// WaitFor blocks until keep matches at least n events or timeout elapses,
// and returns the matches.
func (r *Recorder) WaitFor(n int, timeout time.Duration, keep func(wire.Event) bool) []wire.Event {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if got := r.Match(keep); len(got) >= n {
			return got
		}
		select {
		case <-r.signal:
		case <-deadline.C:
			return r.Match(keep)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// WaitType is WaitFor filtered on event type.
func (r *Recorder) WaitType(t wire.Type, n int, timeout time.Duration) []wire.Event {
	return r.WaitFor(n, timeout, func(e wire.Event) bool { return e.Kind() == t })
}
