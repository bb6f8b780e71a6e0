package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/alfredjeanlab/leafbus/internal/bus"
	"github.com/alfredjeanlab/leafbus/internal/wire"
)

// LogHandler is a slog.Handler that turns records into log events on the
// bus. It uses PostSync, so logging never blocks on bus delivery and a
// burst of records may be dropped.
type LogHandler struct {
	bus   *bus.Bus
	level slog.Leveler
	dst   string
	name  string
	attrs []slog.Attr
	group string
}

// NewLogHandler posts records at or above level to dst.
func NewLogHandler(b *bus.Bus, level slog.Leveler, dst string) *LogHandler {
	return &LogHandler{bus: b, level: level, dst: dst, name: b.Addr()}
}

func (h *LogHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	var msg strings.Builder
	msg.WriteString(r.Message)
	var traceback string
	write := func(a slog.Attr) bool {
		if a.Key == "traceback" || a.Key == "stack" {
			traceback = a.Value.String()
			return true
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&msg, " %s=%v", key, a.Value)
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(write)

	levelno, levelname := pyLevel(r.Level)
	h.bus.PostSync(&wire.Log{
		Header:    wire.Header{Type: wire.TypeLog, Src: h.bus.Addr(), Dst: h.dst},
		Levelname: levelname,
		Levelno:   levelno,
		Name:      h.name,
		FuncName:  funcName(r.PC),
		Message:   msg.String(),
		Traceback: traceback,
		Timestamp: wire.Timestamp(recordTime(r)),
	})
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	c := *h
	if c.group != "" {
		c.group += "." + name
	} else {
		c.group = name
	}
	return &c
}

func recordTime(r slog.Record) time.Time {
	if r.Time.IsZero() {
		return time.Now()
	}
	return r.Time
}

func funcName(pc uintptr) string {
	if pc == 0 {
		return ""
	}
	f, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	name := f.Function
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// pyLevel maps slog levels onto the 10..50 scale log events carry.
func pyLevel(l slog.Level) (int, string) {
	switch {
	case l < slog.LevelInfo:
		return 10, "DEBUG"
	case l < slog.LevelWarn:
		return 20, "INFO"
	case l < slog.LevelError:
		return 30, "WARNING"
	case l < slog.LevelError+4:
		return 40, "ERROR"
	default:
		return 50, "CRITICAL"
	}
}

// TeeHandler fans records out to several handlers.
type TeeHandler []slog.Handler

func (t TeeHandler) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (t TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(TeeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t TeeHandler) WithGroup(name string) slog.Handler {
	out := make(TeeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
