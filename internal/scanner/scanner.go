// Package scanner races two decode engines over live camera frames.
//
// A Scanner admits at most one frame at a time and drops frames that arrive
// while a session is in flight. Each admitted frame gets a session: the frame
// is turned into an ImageBuffer (original plus optional enhanced image), both
// engines decode it concurrently, and a watchdog bounds the race. The first
// participant to claim the session decides its outcome; everything else that
// finishes later is discarded. Engine calls cannot be interrupted, so
// cancellation only stops a late result from being acted upon.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultTimeout       = 3 * time.Second
	DefaultWorkers       = 4
	DefaultShutdownGrace = 500 * time.Millisecond
)

var (
	// ErrShutdown is returned once the scanner has been shut down.
	ErrShutdown = errors.New("scanner shut down")
	// ErrEngineCount is returned by New unless exactly two engines are configured.
	ErrEngineCount = errors.New("exactly two decode engines are required")
)

// Config configures a Scanner.
type Config struct {
	// Engines are the two decode engines raced on every frame.
	Engines []Engine
	// Enhancer is optional; without it engines only see the original image.
	Enhancer Enhancer
	// Listener receives each successful result exactly once.
	Listener Listener
	// TimeoutObserver is optional and receives the images of timed-out sessions.
	TimeoutObserver TimeoutObserver
	// Dispatch runs listener callbacks on the caller's preferred goroutine.
	// Nil runs them on the goroutine that won the race.
	Dispatch func(func())
	// OnSessionEnd is optional and called once per session after cleanup.
	OnSessionEnd func(SessionSummary)

	Timeout         time.Duration
	Workers         int
	ShutdownGrace   time.Duration
	StopAfterResult bool

	Logger *slog.Logger
}

// Admission is the outcome of Submit.
type Admission int

const (
	Admitted Admission = iota
	DroppedBusy
	DroppedPaused
	DroppedShutdown
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case DroppedBusy:
		return "dropped_busy"
	case DroppedPaused:
		return "dropped_paused"
	case DroppedShutdown:
		return "dropped_shutdown"
	default:
		return "unknown"
	}
}

// SessionSummary describes a finished session.
type SessionSummary struct {
	ID      string
	Phase   Phase
	Result  ScanResult
	Elapsed time.Duration
	Tasks   []TaskSummary
}

// TaskSummary is a task's state when its session ended.
type TaskSummary struct {
	Engine string
	State  TaskState
}

// Scanner is the admission controller and race coordinator for one camera.
type Scanner struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	enabled   atomic.Bool
	delivered atomic.Bool
	closed    atomic.Bool
	active    atomic.Pointer[Session]

	tracker  *Tracker
	watchdog *Scheduler
	pool     *pool
	stats    counters

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a scanner with admission enabled.
func New(cfg Config) (*Scanner, error) {
	if len(cfg.Engines) != 2 {
		return nil, fmt.Errorf("%w: got %d", ErrEngineCount, len(cfg.Engines))
	}
	for i, e := range cfg.Engines {
		if e == nil {
			return nil, fmt.Errorf("decode engine %d is nil", i)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	sc := &Scanner{
		cfg:      cfg,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		tracker:  NewTracker(cfg.Logger),
		watchdog: NewScheduler(cfg.Logger),
		pool:     newPool(cfg.Workers),
	}
	sc.enabled.Store(true)
	return sc, nil
}

// Submit offers a frame to the scanner. It returns after the admission check:
// a dropped frame is closed before Submit returns, an admitted frame is owned
// by its session from then on. frame must not be nil.
func (sc *Scanner) Submit(frame Frame) Admission {
	switch {
	case sc.closed.Load():
		return sc.drop(frame, DroppedShutdown)
	case !sc.enabled.Load():
		return sc.drop(frame, DroppedPaused)
	case sc.active.Load() != nil:
		return sc.drop(frame, DroppedBusy)
	}

	s := newSession(sc.ctx, frame, sc.cfg.Engines, sc.logger)
	if !sc.active.CompareAndSwap(nil, s) {
		s.cancel()
		return sc.drop(frame, DroppedBusy)
	}
	// Shutdown started after the fast check and may already be waiting on s.
	if sc.closed.Load() {
		s.claim()
		s.cancel()
		sc.active.CompareAndSwap(s, nil)
		s.markDone()
		return sc.drop(frame, DroppedShutdown)
	}

	sc.stats.admitted.Add(1)
	go sc.race(s)
	return Admitted
}

func (sc *Scanner) drop(frame Frame, reason Admission) Admission {
	switch reason {
	case DroppedBusy:
		sc.stats.droppedBusy.Add(1)
	case DroppedPaused:
		sc.stats.droppedPaused.Add(1)
	case DroppedShutdown:
		sc.stats.droppedShutdown.Add(1)
	}
	closeFrame(sc.logger, frame)
	return reason
}

// Pause stops admitting frames. A race already in flight is not affected.
func (sc *Scanner) Pause() {
	sc.enabled.Store(false)
}

// Resume admits frames again and clears the delivered flag of the previous
// scanning period. It has no effect after Shutdown.
func (sc *Scanner) Resume() {
	if sc.closed.Load() {
		return
	}
	sc.delivered.Store(false)
	sc.enabled.Store(true)
}

// Scanning reports whether frames are currently admitted.
func (sc *Scanner) Scanning() bool {
	return sc.enabled.Load() && !sc.closed.Load()
}

// Active returns the session in flight, or nil.
func (sc *Scanner) Active() *Session {
	return sc.active.Load()
}

// Tracked returns the number of image buffers not yet released.
func (sc *Scanner) Tracked() int {
	return sc.tracker.Len()
}

// Shutdown disables admission, cancels queued decode work and the watchdog,
// then waits up to the shutdown grace period for the session in flight. Work
// still running afterwards is abandoned and every tracked buffer is released.
// It returns ctx.Err() if ctx ended the wait early. Safe to call more than once.
func (sc *Scanner) Shutdown(ctx context.Context) error {
	sc.shutdownOnce.Do(func() {
		sc.shutdownErr = sc.shutdown(ctx)
	})
	return sc.shutdownErr
}

func (sc *Scanner) shutdown(ctx context.Context) error {
	sc.closed.Store(true)
	sc.enabled.Store(false)
	sc.cancel()
	sc.watchdog.Close()

	var err error
	if s := sc.active.Load(); s != nil {
		grace := time.NewTimer(sc.cfg.ShutdownGrace)
		defer grace.Stop()

		select {
		case <-s.Done():
		case <-grace.C:
			sc.logger.Warn("Shutdown grace period elapsed, abandoning session", "session", s.ID(), "phase", s.Phase().String())
		case <-ctx.Done():
			err = ctx.Err()
		}
		if s.claim() {
			sc.finish(s, PhaseCancelled, nil)
		}
	}

	released := sc.tracker.DrainAll()
	sc.logger.Info("Scanner shut down", "forced_releases", released)
	return err
}
