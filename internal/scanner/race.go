package scanner

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// race builds the session's buffer and starts both decode tasks and the
// watchdog. It runs on the session goroutine and returns once everything is
// launched; the participants finish the session themselves.
func (sc *Scanner) race(s *Session) {
	buf, err := sc.extract(s)
	if err != nil {
		sc.stats.extractFailures.Add(1)
		s.logger.Warn("Failed to extract frame, dropping", "error", err)
		closeFrame(s.logger, s.frame)
		if s.claim() {
			sc.finish(s, PhaseDropped, nil)
		}
		return
	}

	if err := sc.tracker.Register(buf); err != nil {
		buf.Release()
		if s.claim() {
			sc.finish(s, PhaseCancelled, nil)
		}
		return
	}
	if !s.attach(buf) {
		// Claimed by shutdown while extracting.
		buf.Release()
		return
	}
	if !s.phase.CompareAndSwap(int32(PhaseExtracting), int32(PhaseRacing)) {
		return
	}

	variants := buf.Variants()
	s.pending.Store(int32(len(s.tasks)))
	for _, t := range s.tasks {
		sc.pool.submit(s.ctx,
			func() { sc.runTask(s, t, variants) },
			func() {
				t.setState(TaskCancelled)
				sc.taskDone(s)
			},
		)
	}

	s.setTimer(sc.watchdog.Schedule(sc.cfg.Timeout, func() { sc.onTimeout(s) }))
}

// extract turns the raw frame into an ImageBuffer. Enhancement failures fall
// back to the original image; extraction failures are returned.
func (sc *Scanner) extract(s *Session) (buf *ImageBuffer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("extracting frame: panic: %v", r)
		}
	}()

	original, err := s.frame.Image()
	if err != nil {
		return nil, fmt.Errorf("extracting frame: %w", err)
	}
	if original == nil {
		return nil, errors.New("extracting frame: no image")
	}

	enhanced := sc.enhance(s, original)
	return newImageBuffer(s.id, s.frame, original, enhanced, sc.tracker, s.logger), nil
}

func (sc *Scanner) enhance(s *Session, img image.Image) (out image.Image) {
	if sc.cfg.Enhancer == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Enhancer panicked, using original image", "panic", r)
			out = nil
		}
	}()

	enhanced, err := sc.cfg.Enhancer.Enhance(img)
	if err != nil {
		s.logger.Warn("Failed to enhance image, using original", "error", err)
		return nil
	}
	return enhanced
}

// runTask tries the engine on each variant in order until one yields text.
// The fallback attempt is skipped once the session is claimed.
func (sc *Scanner) runTask(s *Session, t *DecodeTask, variants []image.Image) {
	t.setState(TaskRunning)

	var text string
	for _, img := range variants {
		if s.Claimed() || s.ctx.Err() != nil {
			break
		}
		if text = sc.attempt(s, t, img); text != "" {
			break
		}
	}

	switch {
	case text != "":
		t.setState(TaskSucceeded)
		result := NewSuccess(text, t.Engine(), time.Since(s.started))
		if s.claim() {
			sc.finish(s, PhaseCompleted, &result)
		} else {
			sc.stats.lateResults.Add(1)
			s.logger.Debug("Discarding late result", "engine", t.Engine(), "latency_ms", result.LatencyMS)
		}
	case s.Claimed() || s.ctx.Err() != nil:
		t.setState(TaskCancelled)
	default:
		t.setState(TaskFailed)
	}

	sc.taskDone(s)
}

// attempt runs one engine call. Engine errors and panics count as a miss.
func (sc *Scanner) attempt(s *Session, t *DecodeTask, img image.Image) (text string) {
	defer func() {
		if r := recover(); r != nil {
			sc.stats.engineFaults.Add(1)
			s.logger.Warn("Decode engine panicked", "engine", t.Engine(), "panic", r)
			text = ""
		}
	}()

	decoded, err := t.engine.Decode(s.ctx, img)
	if err != nil {
		if s.ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			s.logger.Debug("Decode cancelled", "engine", t.Engine())
			return ""
		}
		sc.stats.engineFaults.Add(1)
		s.logger.Warn("Decode engine failed", "engine", t.Engine(), "error", err)
		return ""
	}
	return decoded
}

// taskDone ends the session as AllFailed (or Cancelled during shutdown) when
// the last task finishes and nobody has claimed it.
func (sc *Scanner) taskDone(s *Session) {
	if s.pending.Add(-1) != 0 {
		return
	}
	phase := PhaseAllFailed
	if sc.ctx.Err() != nil {
		phase = PhaseCancelled
	}
	if s.claim() {
		sc.finish(s, phase, nil)
	}
}

func (sc *Scanner) onTimeout(s *Session) {
	if !s.claim() {
		return
	}
	sc.finish(s, PhaseTimedOut, nil)
}

// finish is called exactly once per session, by the claim winner. It cancels
// the other participants, delivers the result if there is one, releases the
// buffer (or closes the frame if no buffer was built yet) and frees the
// admission slot.
func (sc *Scanner) finish(s *Session, phase Phase, result *ScanResult) {
	s.cancel()
	buf := s.detach()

	if result != nil {
		if sc.cfg.StopAfterResult {
			sc.enabled.Store(false)
		}
		sc.deliver(s, *result)
	}
	if phase == PhaseTimedOut && buf != nil {
		sc.observeTimeout(s, buf)
	}
	if buf != nil {
		buf.Release()
	} else {
		// Claimed before extraction produced a buffer.
		closeFrame(s.logger, s.frame)
	}

	s.phase.Store(int32(phase))
	sc.stats.record(phase)

	elapsed := time.Since(s.started)
	switch phase {
	case PhaseCompleted:
		s.logger.Info("Code decoded", "engine", result.Source, "text", result.Text, "latency_ms", result.LatencyMS)
	case PhaseTimedOut:
		s.logger.Debug("Decode timed out", "elapsed_ms", elapsed.Milliseconds())
	default:
		s.logger.Debug("Session ended", "phase", phase.String(), "elapsed_ms", elapsed.Milliseconds())
	}

	if sc.cfg.OnSessionEnd != nil {
		sc.report(s, phase, result, elapsed)
	}

	sc.active.CompareAndSwap(s, nil)
	s.markDone()
}

func (sc *Scanner) deliver(s *Session, result ScanResult) {
	sc.delivered.Store(true)
	if sc.cfg.Listener == nil {
		return
	}
	sc.dispatch(func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Result listener panicked", "panic", r)
			}
		}()
		sc.cfg.Listener.OnScanResult(result)
	})
}

func (sc *Scanner) dispatch(fn func()) {
	if sc.cfg.Dispatch != nil {
		sc.cfg.Dispatch(fn)
		return
	}
	fn()
}

func (sc *Scanner) observeTimeout(s *Session, buf *ImageBuffer) {
	if sc.cfg.TimeoutObserver == nil {
		return
	}
	original, enhanced := buf.Original(), buf.Enhanced()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Timeout observer panicked", "panic", r)
			}
		}()
		sc.cfg.TimeoutObserver.OnTimeout(s.id, original, enhanced)
	}()
}

func (sc *Scanner) report(s *Session, phase Phase, result *ScanResult, elapsed time.Duration) {
	summary := SessionSummary{
		ID:      s.id,
		Phase:   phase,
		Elapsed: elapsed,
	}
	if result != nil {
		summary.Result = *result
	}
	for _, t := range s.tasks {
		summary.Tasks = append(summary.Tasks, TaskSummary{Engine: t.Engine(), State: t.State()})
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Session hook panicked", "panic", r)
		}
	}()
	sc.cfg.OnSessionEnd(summary)
}
