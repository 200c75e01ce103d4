package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zombor/codescan/internal/scanner"
)

// Source produces frames until ctx is done or the source runs out. Each
// frame is handed to emit, which takes ownership of it.
type Source interface {
	Run(ctx context.Context, emit func(scanner.Frame)) error
}

// ErrNoFrames is returned by DirSource when the directory holds no images.
var ErrNoFrames = errors.New("no image files found")

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".heic": "image/heic",
	".heif": "image/heif",
	".pdf":  "application/pdf",
}

// DirSource replays the image files of a directory at a fixed rate.
type DirSource struct {
	Dir string
	FPS float64
	// Loops is the number of passes over the directory; 0 loops forever.
	Loops  int
	Logger *slog.Logger
}

// loadFrames returns the sorted list of image paths in dir
func loadFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := contentTypes[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Run emits one frame per tick, in file name order.
func (d *DirSource) Run(ctx context.Context, emit func(scanner.Frame)) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	frames, err := loadFrames(d.Dir)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("%w in %s", ErrNoFrames, d.Dir)
	}

	fps := d.FPS
	if fps <= 0 {
		fps = 2
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	logger.Info("Replaying frames", "dir", d.Dir, "frames", len(frames), "fps", fps)

	iteration, frameIdx := 0, 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			path := frames[frameIdx]
			data, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("Failed to read frame", "path", path, "error", err)
			} else {
				ct := contentTypes[strings.ToLower(filepath.Ext(path))]
				emit(NewEncodedFrame(data, ct))
			}

			frameIdx++
			if frameIdx >= len(frames) {
				frameIdx = 0
				iteration++
				logger.Debug("Replay loop completed", "loop", iteration)
				if d.Loops > 0 && iteration >= d.Loops {
					return nil
				}
			}
		}
	}
}
