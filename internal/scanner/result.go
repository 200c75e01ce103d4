package scanner

import (
	"context"
	"fmt"
	"image"
	"time"
)

// ScanResult is the outcome of a decode race delivered to a Listener.
// Text is non-empty if and only if Success is true.
type ScanResult struct {
	Success   bool   `json:"success"`
	Text      string `json:"text,omitempty"`
	Source    string `json:"source"`
	LatencyMS int64  `json:"latency_ms"`
}

// NewSuccess creates a successful result. An empty text yields a failure,
// keeping the text/success invariant.
func NewSuccess(text, source string, latency time.Duration) ScanResult {
	if text == "" {
		return NewFailure(source, latency)
	}
	return ScanResult{
		Success:   true,
		Text:      text,
		Source:    source,
		LatencyMS: latencyMS(latency),
	}
}

// NewFailure creates a result for an engine that found nothing.
func NewFailure(source string, latency time.Duration) ScanResult {
	return ScanResult{
		Source:    source,
		LatencyMS: latencyMS(latency),
	}
}

func latencyMS(d time.Duration) int64 {
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}

func (r ScanResult) String() string {
	return fmt.Sprintf("ScanResult{success=%t, text=%q, source=%s, latency=%dms}", r.Success, r.Text, r.Source, r.LatencyMS)
}

// Listener receives the result of every session that completes successfully.
// It is invoked exactly once per completed session.
type Listener interface {
	OnScanResult(result ScanResult)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(result ScanResult)

// OnScanResult calls f(result).
func (f ListenerFunc) OnScanResult(result ScanResult) {
	f(result)
}

// TimeoutObserver is notified with the images of a session whose race timed out.
// enhanced is nil when enhancement was skipped or failed.
type TimeoutObserver interface {
	OnTimeout(sessionID string, original, enhanced image.Image)
}

// Engine is a decode engine. Decode returns the decoded text, or an empty
// string when nothing was found. Engines are not assumed to honour ctx.
type Engine interface {
	Name() string
	Decode(ctx context.Context, img image.Image) (string, error)
}

// Enhancer derives an image that is easier to decode than the raw frame.
type Enhancer interface {
	Enhance(img image.Image) (image.Image, error)
}
