package scanner

import (
	"errors"
	"image"
	"log/slog"
	"sync/atomic"
)

// ErrFrameClosed is returned when a frame handle is closed more than once.
var ErrFrameClosed = errors.New("frame already closed")

// Frame is a raw camera frame. Image extracts its pixels; Close releases the
// underlying resource and must be called exactly once.
type Frame interface {
	Image() (image.Image, error)
	Close() error
}

// frameHandle guards a Frame so that every cleanup path may call Close
// but only the first one reaches the frame.
type frameHandle struct {
	frame  Frame
	closed atomic.Bool
}

func (h *frameHandle) Image() (image.Image, error) {
	return h.frame.Image()
}

func (h *frameHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return ErrFrameClosed
	}
	return h.frame.Close()
}

// closeFrame closes a frame, logging instead of propagating failures.
func closeFrame(logger *slog.Logger, frame Frame) {
	if frame == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("Panic while closing frame", "panic", r)
		}
	}()
	if err := frame.Close(); err != nil {
		if errors.Is(err, ErrFrameClosed) {
			logger.Debug("Frame already closed, skipping")
			return
		}
		logger.Warn("Failed to close frame", "error", err)
	}
}

// ImageBuffer holds one admitted frame's original image and an optional
// enhanced variant. Both images are read-only once the buffer is built and
// are shared by the decode tasks without copying.
type ImageBuffer struct {
	id       string
	frame    Frame
	original image.Image
	enhanced image.Image
	tracker  *Tracker
	logger   *slog.Logger
	released atomic.Bool
}

func newImageBuffer(id string, frame Frame, original, enhanced image.Image, tracker *Tracker, logger *slog.Logger) *ImageBuffer {
	return &ImageBuffer{
		id:       id,
		frame:    frame,
		original: original,
		enhanced: enhanced,
		tracker:  tracker,
		logger:   logger,
	}
}

// ID returns the id of the session that owns the buffer.
func (b *ImageBuffer) ID() string { return b.id }

// Original returns the unenhanced image.
func (b *ImageBuffer) Original() image.Image { return b.original }

// Enhanced returns the enhanced image, or nil.
func (b *ImageBuffer) Enhanced() image.Image { return b.enhanced }

// Variants returns the images in the order engines should try them:
// enhanced first when present, then the original.
func (b *ImageBuffer) Variants() []image.Image {
	if b.enhanced == nil {
		return []image.Image{b.original}
	}
	return []image.Image{b.enhanced, b.original}
}

// Released reports whether Release has run.
func (b *ImageBuffer) Released() bool { return b.released.Load() }

// Release closes the originating frame and removes the buffer from its
// tracker. It is safe to call any number of times from any goroutine; only
// the first call does work, and it reports whether this call was that one.
func (b *ImageBuffer) Release() bool {
	if !b.released.CompareAndSwap(false, true) {
		b.logger.Debug("Image buffer already released", "buffer", b.id)
		return false
	}
	closeFrame(b.logger, b.frame)
	if b.tracker != nil {
		b.tracker.forget(b)
	}
	return true
}
