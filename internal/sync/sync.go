package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Destination receives each export.
type Destination interface {
	Write(ctx context.Context, data []byte) error
}

// Status describes the most recent export.
type Status struct {
	At    time.Time
	Bytes int
	Err   error
}

// Scheduler exports a snapshot to its destinations every interval. Each
// round is bounded by the interval so a hung destination cannot stall the
// next one.
type Scheduler struct {
	source       Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	last Status
}

// NewScheduler creates a scheduler for src.
func NewScheduler(src Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		source:       src,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start exports once immediately, then on each tick until ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Go(func() { s.run(ctx) })
}

// Stop cancels the scheduler and waits for an export in progress.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Last returns the status of the most recent completed export. At is zero
// before the first one.
func (s *Scheduler) Last() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		st := s.syncOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.record(st)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) record(st Status) {
	s.mu.Lock()
	s.last = st
	s.mu.Unlock()
}

func (s *Scheduler) syncOnce(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	st := Status{At: time.Now()}
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.source, &buf); err != nil {
		s.logger.Error("sync: export failed", "err", err)
		st.Err = err
		return st
	}
	st.Bytes = buf.Len()

	var errs []error
	for i, dest := range s.destinations {
		if err := dest.Write(ctx, buf.Bytes()); err != nil {
			name := fmt.Sprintf("%T#%d", dest, i)
			s.logger.Error("sync: destination write failed", "destination", name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	st.Err = errors.Join(errs...)
	s.logger.Debug("sync: exported", "destinations", len(s.destinations), "bytes", st.Bytes)
	return st
}
