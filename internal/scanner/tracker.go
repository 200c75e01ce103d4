package scanner

import (
	"log/slog"
	"sync"
)

// Tracker records every live ImageBuffer so that shutdown can release
// whatever the racing sessions have not.
type Tracker struct {
	mu      sync.Mutex
	buffers map[*ImageBuffer]struct{}
	closed  bool
	logger  *slog.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		buffers: make(map[*ImageBuffer]struct{}),
		logger:  logger,
	}
}

// Register starts tracking b. It fails with ErrShutdown once DrainAll has run;
// the caller then owns the release.
func (t *Tracker) Register(b *ImageBuffer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrShutdown
	}
	t.buffers[b] = struct{}{}
	return nil
}

func (t *Tracker) forget(b *ImageBuffer) {
	t.mu.Lock()
	delete(t.buffers, b)
	t.mu.Unlock()
}

// Len returns the number of tracked buffers.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buffers)
}

// DrainAll stops accepting registrations and force-releases every tracked
// buffer. Buffers being released concurrently by their session are skipped
// by the idempotent Release. The set is empty when DrainAll returns.
// It returns the number of buffers this call released.
func (t *Tracker) DrainAll() int {
	t.mu.Lock()
	t.closed = true
	pending := make([]*ImageBuffer, 0, len(t.buffers))
	for b := range t.buffers {
		pending = append(pending, b)
	}
	t.buffers = make(map[*ImageBuffer]struct{})
	t.mu.Unlock()

	released := 0
	for _, b := range pending {
		if b.Release() {
			released++
		}
	}
	if len(pending) > 0 {
		t.logger.Info("Drained image buffers", "tracked", len(pending), "released", released)
	}
	return released
}
