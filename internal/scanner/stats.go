package scanner

import "sync/atomic"

type counters struct {
	admitted        atomic.Uint64
	droppedBusy     atomic.Uint64
	droppedPaused   atomic.Uint64
	droppedShutdown atomic.Uint64
	completed       atomic.Uint64
	timedOut        atomic.Uint64
	allFailed       atomic.Uint64
	cancelled       atomic.Uint64
	extractFailures atomic.Uint64
	lateResults     atomic.Uint64
	engineFaults    atomic.Uint64
}

func (c *counters) record(phase Phase) {
	switch phase {
	case PhaseCompleted:
		c.completed.Add(1)
	case PhaseTimedOut:
		c.timedOut.Add(1)
	case PhaseAllFailed:
		c.allFailed.Add(1)
	case PhaseCancelled:
		c.cancelled.Add(1)
	}
}

// Stats is a snapshot of a scanner's counters. Values may be slightly stale
// relative to each other.
type Stats struct {
	Scanning        bool   `json:"scanning"`
	ResultDelivered bool   `json:"result_delivered"`
	ActiveSession   string `json:"active_session,omitempty"`
	ActivePhase     string `json:"active_phase,omitempty"`

	Admitted        uint64 `json:"admitted"`
	DroppedBusy     uint64 `json:"dropped_busy"`
	DroppedPaused   uint64 `json:"dropped_paused"`
	DroppedShutdown uint64 `json:"dropped_shutdown"`

	Completed       uint64 `json:"completed"`
	TimedOut        uint64 `json:"timed_out"`
	AllFailed       uint64 `json:"all_failed"`
	Cancelled       uint64 `json:"cancelled"`
	ExtractFailures uint64 `json:"extract_failures"`

	LateResults  uint64 `json:"late_results"`
	EngineFaults uint64 `json:"engine_faults"`

	TrackedBuffers  int   `json:"tracked_buffers"`
	DecodesInFlight int64 `json:"decodes_in_flight"`
}

// Stats returns a snapshot of the scanner's state and counters.
func (sc *Scanner) Stats() Stats {
	st := Stats{
		Scanning:        sc.Scanning(),
		ResultDelivered: sc.delivered.Load(),
		Admitted:        sc.stats.admitted.Load(),
		DroppedBusy:     sc.stats.droppedBusy.Load(),
		DroppedPaused:   sc.stats.droppedPaused.Load(),
		DroppedShutdown: sc.stats.droppedShutdown.Load(),
		Completed:       sc.stats.completed.Load(),
		TimedOut:        sc.stats.timedOut.Load(),
		AllFailed:       sc.stats.allFailed.Load(),
		Cancelled:       sc.stats.cancelled.Load(),
		ExtractFailures: sc.stats.extractFailures.Load(),
		LateResults:     sc.stats.lateResults.Load(),
		EngineFaults:    sc.stats.engineFaults.Load(),
		TrackedBuffers:  sc.tracker.Len(),
		DecodesInFlight: sc.pool.inFlight(),
	}
	if s := sc.active.Load(); s != nil {
		st.ActiveSession = s.ID()
		st.ActivePhase = s.Phase().String()
	}
	return st
}
