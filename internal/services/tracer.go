package services

import (
	"context"
	"log/slog"

	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// Tracer logs every event at debug level.
type Tracer struct {
	Logger *slog.Logger
}

func (t *Tracer) Receive(ctx context.Context, e wire.Event) error {
	h := e.Head()
	t.Logger.DebugContext(ctx, "bus: event", "type", e.Kind(), "src", h.Src, "dst", h.Dst)
	return nil
}
