// Package transport abstracts the duplex message channel a connection runs
// over: a websocket in production, an in-memory pipe in tests.
package transport

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrClosed means the transport is gone; no further I/O is possible.
	ErrClosed = errors.New("transport closed")
	// ErrMalformed means a message arrived that is not valid JSON. The
	// transport remains usable.
	ErrMalformed = errors.New("malformed message")
	// ErrTimeout means a receive deadline elapsed.
	ErrTimeout = errors.New("receive timed out")
)

// Transport sends and receives JSON messages.
type Transport interface {
	SendJSON(ctx context.Context, v any) error
	ReceiveJSON(ctx context.Context) (json.RawMessage, error)
	Close(reason string) error
}

// IsFatal reports whether err leaves the transport unusable.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrMalformed)
}

func timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}
