package results

import "time"

// Record is a decoded code delivered by the scanner
type Record struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Source    string    `json:"source"`     // Engine that won the race
	LatencyMS int64     `json:"latency_ms"` // From admission to decode
	ScannedAt time.Time `json:"scanned_at"`
}

// Timeout records a session whose race ran out of time, with the frame
// snapshots saved for inspection
type Timeout struct {
	SessionID string    `json:"session_id"`
	Original  string    `json:"original"`
	Enhanced  string    `json:"enhanced,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
