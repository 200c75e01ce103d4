package scanning

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"
)

// ErrUnknownEngine is returned by New for an engine kind it does not know.
var ErrUnknownEngine = errors.New("unknown decode engine")

// Engine kinds accepted by New.
const (
	KindQRCode = "qrcode"
	KindOneD   = "oned"
	KindGemini = "gemini"
	KindOllama = "ollama"
)

// Engine decodes a code from a single image. Decode returns an empty string
// when the image holds no readable code.
type Engine interface {
	// Name identifies the engine in results and logs
	Name() string
	// Decode reads the code in img
	Decode(ctx context.Context, img image.Image) (string, error)
	// Close closes the engine and releases resources
	Close() error
}

// Options configures the engines built by New.
type Options struct {
	GeminiAPIKey string
	GeminiModel  string
	OllamaURL    string
	OllamaModel  string
	// RequestTimeout bounds a single LLM call. Zero uses each engine's default.
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// New builds the engine named by kind.
func New(kind string, opts Options) (Engine, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindQRCode:
		return NewQRCode(opts.Logger), nil
	case KindOneD:
		return NewOneD(opts.Logger), nil
	case KindGemini:
		return NewGemini(opts.GeminiAPIKey, opts.GeminiModel, opts.RequestTimeout)
	case KindOllama:
		return NewOllama(opts.OllamaURL, opts.OllamaModel, opts.RequestTimeout)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, kind)
	}
}

// NewAll builds one engine per kind. Engines already built are closed if a
// later one fails.
func NewAll(kinds []string, opts Options) ([]Engine, error) {
	engines := make([]Engine, 0, len(kinds))
	for _, kind := range kinds {
		e, err := New(kind, opts)
		if err != nil {
			CloseAll(engines)
			return nil, fmt.Errorf("creating %s engine: %w", kind, err)
		}
		engines = append(engines, e)
	}
	return engines, nil
}

// CloseAll closes every engine and joins their errors.
func CloseAll(engines []Engine) error {
	var errs []error
	for _, e := range engines {
		if err := e.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s engine: %w", e.Name(), err))
		}
	}
	return errors.Join(errs...)
}
