package gateway

import "time"

const (
	DefaultBackoffFloor = 10 * time.Second
	DefaultBackoffCap   = 10 * time.Minute
)

// Backoff yields reconnect delays: Floor first, doubling after each call,
// never more than Cap.
type Backoff struct {
	Floor time.Duration
	Cap   time.Duration
	next  time.Duration
}

// NewBackoff returns a backoff between floor and cap. Non-positive values
// select the defaults.
func NewBackoff(floor, cap time.Duration) *Backoff {
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	if cap < floor {
		cap = max(DefaultBackoffCap, floor)
	}
	return &Backoff{Floor: floor, Cap: cap}
}

// Next returns the delay before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.next < b.Floor {
		b.next = b.Floor
	}
	d := b.next
	b.next = min(b.next*2, b.Cap)
	return d
}

// Reset starts the sequence over at Floor.
func (b *Backoff) Reset() { b.next = 0 }
