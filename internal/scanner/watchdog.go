package scanner

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs delayed callbacks one at a time on a single goroutine,
// independent of the decode pool so that a busy pool never delays a timeout.
type Scheduler struct {
	due  chan *Timer
	quit chan struct{}
	done chan struct{}

	mu      sync.Mutex
	pending map[*Timer]struct{}
	closed  bool

	logger *slog.Logger
}

// Timer is a callback scheduled on a Scheduler.
type Timer struct {
	s       *Scheduler
	fn      func()
	t       *time.Timer
	stopped atomic.Bool
}

// NewScheduler starts a scheduler goroutine. Close stops it.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		due:     make(chan *Timer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		pending: make(map[*Timer]struct{}),
		logger:  logger,
	}
	go s.loop()
	return s
}

// Schedule runs fn on the scheduler goroutine after d. After Close it returns
// a timer that never fires.
func (s *Scheduler) Schedule(d time.Duration, fn func()) *Timer {
	tm := &Timer{s: s, fn: fn}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		tm.stopped.Store(true)
		return tm
	}
	s.pending[tm] = struct{}{}
	tm.t = time.AfterFunc(d, func() { s.fire(tm) })
	return tm
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels every pending timer and stops the scheduler goroutine,
// waiting for a running callback to return. Idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	for tm := range s.pending {
		tm.stopped.Store(true)
		tm.t.Stop()
	}
	s.pending = make(map[*Timer]struct{})
	s.mu.Unlock()

	close(s.quit)
	<-s.done
}

func (s *Scheduler) fire(tm *Timer) {
	select {
	case s.due <- tm:
	case <-s.quit:
	}
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		select {
		case tm := <-s.due:
			s.mu.Lock()
			delete(s.pending, tm)
			s.mu.Unlock()

			if !tm.stopped.CompareAndSwap(false, true) {
				continue
			}
			s.run(tm.fn)
		case <-s.quit:
			return
		}
	}
}

func (s *Scheduler) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled callback panicked", "panic", r)
		}
	}()
	fn()
}

// Stop cancels the timer. It reports whether the call prevented the
// callback from running. Safe on a nil timer.
func (tm *Timer) Stop() bool {
	if tm == nil || !tm.stopped.CompareAndSwap(false, true) {
		return false
	}
	tm.s.mu.Lock()
	delete(tm.s.pending, tm)
	if tm.t != nil {
		tm.t.Stop()
	}
	tm.s.mu.Unlock()
	return true
}
