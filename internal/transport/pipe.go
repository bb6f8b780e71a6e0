package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

const pipeBuffer = 64

// PipeEnd is one side of an in-memory Transport pair.
type PipeEnd struct {
	in    <-chan []byte
	out   chan<- []byte
	state *pipeState
}

type pipeState struct {
	once   sync.Once
	done   chan struct{}
	mu     sync.Mutex
	reason string
}

// Pipe returns two connected transports. Closing either end closes both.
func Pipe() (*PipeEnd, *PipeEnd) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	st := &pipeState{done: make(chan struct{})}
	return &PipeEnd{in: ba, out: ab, state: st}, &PipeEnd{in: ab, out: ba, state: st}
}

func (p *PipeEnd) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return p.SendRaw(ctx, data)
}

// SendRaw sends data without validating it.
func (p *PipeEnd) SendRaw(ctx context.Context, data []byte) error {
	select {
	case <-p.state.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- data:
		return nil
	case <-p.state.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PipeEnd) ReceiveJSON(ctx context.Context) (json.RawMessage, error) {
	select {
	case data := <-p.in:
		return validate(data)
	default:
	}
	select {
	case data := <-p.in:
		return validate(data)
	case <-p.state.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, timeoutOr(ctx, ctx.Err())
	}
}

func validate(data []byte) (json.RawMessage, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	return json.RawMessage(data), nil
}

func (p *PipeEnd) Close(reason string) error {
	p.state.once.Do(func() {
		p.state.mu.Lock()
		p.state.reason = reason
		p.state.mu.Unlock()
		close(p.state.done)
	})
	return nil
}

// Closed reports whether the pipe has been closed, and the reason given.
func (p *PipeEnd) Closed() (bool, string) {
	select {
	case <-p.state.done:
		p.state.mu.Lock()
		defer p.state.mu.Unlock()
		return true, p.state.reason
	default:
		return false, ""
	}
}

// Done is closed when the pipe closes.
func (p *PipeEnd) Done() <-chan struct{} { return p.state.done }
