package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

const readLimit = 1 << 20

// WS is a Transport over a websocket connection. A single reader goroutine
// owns conn.Read for the life of the connection, so a receive deadline only
// abandons the wait and leaves the socket open for a parting message.
type WS struct {
	conn *websocket.Conn

	life    context.Context
	stop    context.CancelFunc
	reader  sync.Once
	frames  chan []byte
	dead    chan struct{}
	err     error // set before dead is closed
	closing chan struct{}
	closed  sync.Once
}

// NewWS wraps an established websocket connection.
func NewWS(c *websocket.Conn) *WS {
	c.SetReadLimit(readLimit)
	life, stop := context.WithCancel(context.Background())
	return &WS{
		conn:    c,
		life:    life,
		stop:    stop,
		frames:  make(chan []byte),
		dead:    make(chan struct{}),
		closing: make(chan struct{}),
	}
}

func (t *WS) readLoop() {
	defer close(t.dead)
	for {
		_, data, err := t.conn.Read(t.life)
		if err != nil {
			t.err = fmt.Errorf("%w: %v", ErrClosed, err)
			return
		}
		// Once closing, frames are discarded so Read can reach the peer's
		// close frame.
		select {
		case t.frames <- data:
		case <-t.closing:
		}
	}
}

// Accept upgrades an HTTP request to a websocket Transport.
func Accept(w http.ResponseWriter, r *http.Request) (*WS, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, fmt.Errorf("accepting websocket: %w", err)
	}
	return NewWS(c), nil
}

// Dial connects to a websocket endpoint.
func Dial(ctx context.Context, url string, header http.Header) (*WS, error) {
	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return NewWS(c), nil
}

func (t *WS) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return nil
}

// ReceiveJSON waits for the next message. When ctx expires it returns
// ErrTimeout and the connection stays usable.
func (t *WS) ReceiveJSON(ctx context.Context) (json.RawMessage, error) {
	t.reader.Do(func() { go t.readLoop() })
	select {
	case data := <-t.frames:
		return validate(data)
	case <-t.dead:
		return nil, t.err
	case <-ctx.Done():
		return nil, timeoutOr(ctx, ctx.Err())
	}
}

func (t *WS) Close(reason string) error {
	t.closed.Do(func() { close(t.closing) })
	defer t.stop()
	return t.conn.Close(websocket.StatusNormalClosure, reason)
}
