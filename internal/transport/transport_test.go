package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestPipeRoundTrip(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()

	if err := a.SendJSON(ctx, map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("SendJSON: %v", err)
	}
	got, err := b.ReceiveJSON(ctx)
	if err != nil {
		t.Fatalf("ReceiveJSON: %v", err)
	}
	if string(got) != `{"type":"ping"}` {
		t.Errorf("got %s", got)
	}
}

func TestPipeMalformedIsNotFatal(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()
	_ = a.SendRaw(ctx, []byte("{oops"))
	_ = a.SendJSON(ctx, 1)

	_, err := b.ReceiveJSON(ctx)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("got %v, want ErrMalformed", err)
	}
	if IsFatal(err) {
		t.Error("malformed should not be fatal")
	}
	if got, err := b.ReceiveJSON(ctx); err != nil || string(got) != "1" {
		t.Errorf("next receive = %s, %v", got, err)
	}
}

func TestPipeTimeout(t *testing.T) {
	_, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := b.ReceiveJSON(ctx)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}

func TestPipeCloseClosesBothEnds(t *testing.T) {
	a, b := Pipe()
	ctx := context.Background()
	_ = a.SendJSON(ctx, "last")
	_ = a.Close("bye")

	// Messages sent before close are still delivered.
	if got, err := b.ReceiveJSON(ctx); err != nil || string(got) != `"last"` {
		t.Fatalf("got %s, %v", got, err)
	}
	if _, err := b.ReceiveJSON(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("receive after close = %v, want ErrClosed", err)
	}
	if err := b.SendJSON(ctx, "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close = %v, want ErrClosed", err)
	}
	closed, reason := b.Closed()
	if !closed || reason != "bye" {
		t.Errorf("Closed() = %v, %q", closed, reason)
	}
	_ = b.Close("again")
	if _, reason := a.Closed(); reason != "bye" {
		t.Errorf("reason overwritten to %q", reason)
	}
}

func TestWebsocketRoundTrip(t *testing.T) {
	serverErr := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Accept(w, r)
		if err != nil {
			serverErr <- err
			return
		}
		defer ws.Close("done")
		ctx := r.Context()
		for {
			msg, err := ws.ReceiveJSON(ctx)
			if errors.Is(err, ErrMalformed) {
				_ = ws.SendJSON(ctx, map[string]string{"error": "malformed"})
				continue
			}
			if err != nil {
				serverErr <- nil
				return
			}
			if err := ws.SendJSON(ctx, msg); err != nil {
				serverErr <- err
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := c.SendJSON(ctx, map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("SendJSON: %v", err)
	}
	got, err := c.ReceiveJSON(ctx)
	if err != nil {
		t.Fatalf("ReceiveJSON: %v", err)
	}
	if string(got) != `{"type":"ping"}` {
		t.Errorf("echo = %s", got)
	}

	_ = c.Close("client done")
	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("server: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("server did not observe close")
	}
}

func TestWebsocketReceiveTimeout(t *testing.T) {
	hold := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Accept(w, r)
		if err != nil {
			return
		}
		defer ws.Close("done")
		<-hold
	}))
	defer srv.Close()
	defer close(hold)

	c, err := Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.ReceiveJSON(ctx); !errors.Is(err, ErrTimeout) {
		t.Errorf("got %v, want ErrTimeout", err)
	}
}

func TestWebsocketTimeoutKeepsConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := Accept(w, r)
		if err != nil {
			return
		}
		defer ws.Close("done")
		short, cancel := context.WithTimeout(r.Context(), 50*time.Millisecond)
		defer cancel()
		if _, err := ws.ReceiveJSON(short); !errors.Is(err, ErrTimeout) {
			_ = ws.SendJSON(r.Context(), map[string]string{"unexpected": err.Error()})
			return
		}
		_ = ws.SendJSON(r.Context(), map[string]string{"type": "bye_timeout"})
		// A late message is still delivered after the timed-out wait.
		if msg, err := ws.ReceiveJSON(r.Context()); err == nil {
			_ = ws.SendJSON(r.Context(), msg)
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close("test done")

	got, err := c.ReceiveJSON(ctx)
	if err != nil || string(got) != `{"type":"bye_timeout"}` {
		t.Fatalf("after server timeout: %s, %v", got, err)
	}
	if err := c.SendJSON(ctx, map[string]int{"late": 1}); err != nil {
		t.Fatalf("SendJSON: %v", err)
	}
	if got, err := c.ReceiveJSON(ctx); err != nil || string(got) != `{"late":1}` {
		t.Errorf("echo of late message: %s, %v", got, err)
	}
}
