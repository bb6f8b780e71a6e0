// Package events mirrors bus traffic onto an external message broker so
// operators and other services can watch the hub without connecting to it.
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// SubjectPrefix starts every mirrored subject: "leaf.state", "leaf.log".
const SubjectPrefix = "leaf"

// AllSubjects matches every mirrored event.
const AllSubjects = SubjectPrefix + ".>"

// Subject is the broker subject an event of type t is published under.
func Subject(t wire.Type) string {
	return SubjectPrefix + "." + string(t)
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Never mirrored: keepalives and anything carrying credentials.
var private = map[wire.Type]bool{
	wire.TypePing:       true,
	wire.TypePong:       true,
	wire.TypeGetAuth:    true,
	wire.TypePutAuth:    true,
	wire.TypePutSecrets: true,
	wire.TypePutCert:    true,
}

// Mirror is a bus subscriber that republishes events. Publish failures
// are logged and never returned to the bus. Give it a logger that does not
// post onto the bus it mirrors.
type Mirror struct {
	pub    Publisher
	only   map[wire.Type]bool
	logger *slog.Logger
}

// NewMirror publishes through pub. If types is non-empty only those types
// are mirrored.
func NewMirror(pub Publisher, logger *slog.Logger, types ...wire.Type) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mirror{pub: pub, logger: logger}
	if len(types) > 0 {
		m.only = make(map[wire.Type]bool, len(types))
		for _, t := range types {
			m.only[t] = true
		}
	}
	return m
}

func (m *Mirror) Receive(ctx context.Context, e wire.Event) error {
	t := e.Kind()
	if private[t] || (m.only != nil && !m.only[t]) {
		return nil
	}
	data, err := wire.Encode(e)
	if err != nil {
		m.logger.Warn("events: encoding mirrored event", "type", t, "err", err)
		return nil
	}
	// A failed log publish is not logged: the logger may feed the bus and
	// every failure would produce another log event to mirror.
	if err := m.pub.Publish(ctx, Subject(t), json.RawMessage(data)); err != nil && t != wire.TypeLog {
		m.logger.Warn("events: mirror publish failed", "type", t, "err", err)
	}
	return nil
}
