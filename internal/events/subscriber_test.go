package events

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/leafbus/internal/addr"
	"github.com/alfredjeanlab/leafbus/internal/bus"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

var _ Subscriber = (*NATSSubscriber)(nil)

// startTestNATS runs an embedded NATS server for the test and returns its
// client URL.
func startTestNATS(t *testing.T) string {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	return srv.ClientURL()
}

// mirrorPair connects a publisher behind a hub bus mirror and a subscriber
// on the same server.
func mirrorPair(t *testing.T, opts ...nats.Option) (*bus.Bus, *NATSPublisher, *NATSSubscriber) {
	t.Helper()
	url := startTestNATS(t)
	pub, err := NewNATSPublisher(url)
	if err != nil {
		t.Fatalf("creating publisher: %v", err)
	}
	t.Cleanup(func() { pub.Close() })
	sub, err := NewNATSSubscriber(url, opts...)
	if err != nil {
		t.Fatalf("creating subscriber: %v", err)
	}
	t.Cleanup(func() { sub.Close() })

	b := bus.New(addr.Earth)
	b.Subscribe(NewMirror(pub, nil))
	return b, pub, sub
}

func receive(t *testing.T, ch <-chan []byte) wire.Event {
	t.Helper()
	select {
	case data := <-ch:
		e, err := wire.Decode(data)
		if err != nil {
			t.Fatalf("decoding %s: %v", data, err)
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mirrored event")
		return nil
	}
}

func TestNATSSubscriber_MirroredEventsInOrder(t *testing.T) {
	b, pub, sub := mirrorPair(t)
	ch, cancel, err := sub.Subscribe(AllSubjects)
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	ctx := context.Background()
	b.Post(ctx, &wire.Action{Header: wire.Header{Type: wire.TypeAction, Src: "@1", Dst: "oak:b"}, EID: "oak:b:led:on", Action: "toggle"})
	b.Post(ctx, wire.Make(wire.TypePing, "@1", addr.Server))
	b.Post(ctx, &wire.Log{Header: wire.Header{Type: wire.TypeLog, Src: "oak:b", Dst: addr.Clients}, Levelname: "ERROR", Levelno: 40, Message: "sensor lost"})
	pub.conn.Flush()

	if a, ok := receive(t, ch).(*wire.Action); !ok || a.EID != "oak:b:led:on" || a.Dst != "oak:b" {
		t.Errorf("first event = %+v, want the action", a)
	}
	if l, ok := receive(t, ch).(*wire.Log); !ok || l.Message != "sensor lost" {
		t.Errorf("second event = %+v, want the log (ping is never mirrored)", l)
	}
}

func TestNATSSubscriber_SubjectFilter(t *testing.T) {
	b, pub, sub := mirrorPair(t)
	ch, cancel, err := sub.Subscribe(Subject(wire.TypeLog))
	if err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	defer cancel()

	ctx := context.Background()
	st, _ := wire.NewState("oak:b", addr.Clients, "oak:b:temp:c", 21.5, time.Unix(1700000000, 0))
	b.Post(ctx, st)
	b.Post(ctx, &wire.Log{Header: wire.Header{Type: wire.TypeLog, Src: "oak:b", Dst: addr.Clients}, Message: "only me"})
	pub.conn.Flush()

	if e := receive(t, ch); e.Kind() != wire.TypeLog {
		t.Errorf("got %s through a leaf.log subscription", e.Kind())
	}
	select {
	case data := <-ch:
		t.Errorf("unexpected extra message %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNATSSubscriber_CancelClosesChannel(t *testing.T) {
	for _, name := range []string{"idle", "twice", "while publishing"} {
		t.Run(name, func(t *testing.T) {
			_, pub, sub := mirrorPair(t)
			ch, cancel, err := sub.Subscribe(AllSubjects)
			if err != nil {
				t.Fatalf("subscribing: %v", err)
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				if name != "while publishing" {
					return
				}
				for range 100 {
					_ = pub.conn.Publish("leaf.state", []byte(`{"type":"state"}`))
				}
				_ = pub.conn.Flush()
			}()

			cancel()
			if name == "twice" {
				cancel()
			}
			<-done

			for range ch {
			}
		})
	}
}

func TestNATSSubscriber_Options(t *testing.T) {
	disconnected := make(chan struct{}, 1)
	_, _, sub := mirrorPair(t, nats.DisconnectErrHandler(func(*nats.Conn, error) {
		select {
		case disconnected <- struct{}{}:
		default:
		}
	}))
	if !sub.conn.IsConnected() {
		t.Fatal("subscriber not connected")
	}
	if sub.conn.Opts.MaxReconnect != -1 {
		t.Errorf("MaxReconnect = %d, want unlimited", sub.conn.Opts.MaxReconnect)
	}
}
