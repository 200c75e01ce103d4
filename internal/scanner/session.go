package scanner

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle position of a FrameSession.
type Phase int32

const (
	PhaseExtracting Phase = iota
	PhaseRacing
	PhaseCompleted
	PhaseTimedOut
	PhaseAllFailed
	PhaseCancelled
	// PhaseDropped ends a session whose frame could not be turned into an image.
	PhaseDropped
)

func (p Phase) String() string {
	switch p {
	case PhaseExtracting:
		return "extracting"
	case PhaseRacing:
		return "racing"
	case PhaseCompleted:
		return "completed"
	case PhaseTimedOut:
		return "timed_out"
	case PhaseAllFailed:
		return "all_failed"
	case PhaseCancelled:
		return "cancelled"
	case PhaseDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Terminal reports whether the phase ends a session.
func (p Phase) Terminal() bool {
	return p >= PhaseCompleted
}

// TaskState is the lifecycle position of one engine's DecodeTask.
type TaskState int32

const (
	TaskPending TaskState = iota
	TaskRunning
	TaskSucceeded
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DecodeTask is one engine's attempt within a session.
type DecodeTask struct {
	engine Engine
	state  atomic.Int32
}

// Engine returns the name of the task's engine.
func (t *DecodeTask) Engine() string { return t.engine.Name() }

// State returns the task's current state.
func (t *DecodeTask) State() TaskState { return TaskState(t.state.Load()) }

func (t *DecodeTask) setState(s TaskState) { t.state.Store(int32(s)) }

// Session is the lifecycle of one admitted frame. The claim flag is the only
// synchronisation point between the two tasks and the watchdog: whoever
// flips it first decides the terminal phase.
type Session struct {
	id      string
	started time.Time
	frame   *frameHandle
	tasks   []*DecodeTask
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger

	phase   atomic.Int32
	claimed atomic.Bool
	pending atomic.Int32

	mu       sync.Mutex
	buffer   *ImageBuffer
	timer    *Timer
	finished bool

	doneOnce sync.Once
	done     chan struct{}
}

func newSession(parent context.Context, frame Frame, engines []Engine, logger *slog.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	s := &Session{
		id:      id,
		started: time.Now(),
		frame:   &frameHandle{frame: frame},
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With("session", id),
		done:    make(chan struct{}),
	}
	for _, e := range engines {
		s.tasks = append(s.tasks, &DecodeTask{engine: e})
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Phase returns the current phase.
func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

// Tasks returns the session's decode tasks.
func (s *Session) Tasks() []*DecodeTask { return s.tasks }

// Claimed reports whether a participant has already won the session.
func (s *Session) Claimed() bool { return s.claimed.Load() }

// Done is closed once the session has reached a terminal phase and released
// its resources.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) claim() bool {
	return s.claimed.CompareAndSwap(false, true)
}

// attach hands the built buffer to the session. It fails when the session
// was already claimed during extraction; the caller then releases the buffer.
func (s *Session) attach(b *ImageBuffer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	s.buffer = b
	return true
}

func (s *Session) setTimer(tm *Timer) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		tm.Stop()
		return
	}
	s.timer = tm
	s.mu.Unlock()
}

// detach marks the session finished, stops its watchdog and returns the
// buffer for release. Only the claim winner calls it.
func (s *Session) detach() *ImageBuffer {
	s.mu.Lock()
	s.finished = true
	b, tm := s.buffer, s.timer
	s.buffer, s.timer = nil, nil
	s.mu.Unlock()

	tm.Stop()
	return b
}

func (s *Session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
