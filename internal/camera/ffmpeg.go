package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/zombor/codescan/internal/scanner"
)

// FFmpegSource captures a webcam through ffmpeg as raw RGB24 frames.
type FFmpegSource struct {
	// Device is the capture device; empty picks the platform default.
	Device string
	Width  int
	Height int
	FPS    float64
	// FFmpeg is the ffmpeg binary; empty looks it up on PATH.
	FFmpeg string
	Logger *slog.Logger

	pool *BufferPool
}

// Pool returns the frame buffer pool, available once Run has started.
func (s *FFmpegSource) Pool() *BufferPool {
	return s.pool
}

// inputArgs returns the platform specific ffmpeg input flags.
func inputArgs(goos, device string) ([]string, error) {
	switch goos {
	case "linux":
		if device == "" {
			device = "/dev/video0"
		}
		return []string{"-f", "v4l2", "-i", device}, nil
	case "darwin":
		if device == "" {
			device = "0"
		}
		return []string{"-f", "avfoundation", "-i", device}, nil
	case "windows":
		if device == "" {
			device = "Integrated Webcam"
		}
		return []string{"-f", "dshow", "-i", "video=" + device}, nil
	default:
		return nil, fmt.Errorf("unsupported OS: %s", goos)
	}
}

func (s *FFmpegSource) args(goos string) ([]string, error) {
	in, err := inputArgs(goos, s.Device)
	if err != nil {
		return nil, err
	}
	vf := fmt.Sprintf("scale=%d:%d,fps=%s", s.Width, s.Height, strconv.FormatFloat(s.FPS, 'f', -1, 64))
	return append(in,
		"-hide_banner", "-loglevel", "error",
		"-fflags", "nobuffer", "-flags", "low_delay",
		"-probesize", "32", "-analyzeduration", "0",
		"-threads", "1", "-f", "rawvideo",
		"-pix_fmt", "rgb24", "-vf", vf, "-",
	), nil
}

// Run starts ffmpeg and emits every captured frame until ctx is done or
// ffmpeg exits.
func (s *FFmpegSource) Run(ctx context.Context, emit func(scanner.Frame)) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("invalid capture size %dx%d", s.Width, s.Height)
	}
	if s.FPS <= 0 {
		s.FPS = 10
	}
	bin := s.FFmpeg
	if bin == "" {
		bin = "ffmpeg"
	}

	args, err := s.args(runtime.GOOS)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get FFmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}
	logger.Info("FFmpeg capture started", "device", s.Device, "width", s.Width, "height", s.Height, "fps", s.FPS)

	s.pool = NewBufferPool(s.Width, s.Height)
	readErr := s.read(bufio.NewReaderSize(stdout, s.Width*s.Height*3), emit)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if readErr != nil {
		return readErr
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
	return nil
}

// read splits the rawvideo stream into frames.
func (s *FFmpegSource) read(r io.Reader, emit func(scanner.Frame)) error {
	for {
		frame := NewRawFrame(s.pool, s.Width, s.Height)
		if _, err := io.ReadFull(r, frame.Pixels()); err != nil {
			frame.Close()
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("reading from FFmpeg: %w", err)
		}
		emit(frame)
	}
}
