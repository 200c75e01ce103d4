package scanning

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// zxingEngine runs one or more gozxing readers over an image and returns the
// first text found. Readers keep state between calls, so a fresh set is built
// per Decode.
type zxingEngine struct {
	name    string
	readers func() []gozxing.Reader
	hints   map[gozxing.DecodeHintType]interface{}
	logger  *slog.Logger
}

// NewQRCode creates the QR code engine.
func NewQRCode(logger *slog.Logger) Engine {
	return &zxingEngine{
		name: KindQRCode,
		readers: func() []gozxing.Reader {
			return []gozxing.Reader{qrcode.NewQRCodeReader()}
		},
		hints:  tryHarder(),
		logger: logger,
	}
}

// NewOneD creates the linear barcode engine: Code 128, Code 39, EAN-13,
// EAN-8, UPC-A and UPC-E.
func NewOneD(logger *slog.Logger) Engine {
	hints := tryHarder()
	return &zxingEngine{
		name: KindOneD,
		readers: func() []gozxing.Reader {
			return []gozxing.Reader{
				oned.NewCode128Reader(),
				oned.NewCode39Reader(),
				oned.NewMultiFormatUPCEANReader(hints),
			}
		},
		hints:  hints,
		logger: logger,
	}
}

func tryHarder() map[gozxing.DecodeHintType]interface{} {
	return map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
}

func (z *zxingEngine) Name() string { return z.name }

// Decode returns "" when no reader finds a code. Other reader failures are
// returned so they show up as engine faults.
func (z *zxingEngine) Decode(ctx context.Context, img image.Image) (string, error) {
	if img == nil {
		return "", errors.New("no image")
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("binarizing image: %w", err)
	}

	var lastErr error
	for _, reader := range z.readers() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		result, err := reader.Decode(bmp, z.hints)
		if err == nil {
			return result.GetText(), nil
		}
		if isNotFound(err) {
			continue
		}
		lastErr = err
	}
	if lastErr != nil {
		return "", fmt.Errorf("%s decode: %w", z.name, lastErr)
	}
	z.logger.Debug("No code found", "engine", z.name)
	return "", nil
}

func isNotFound(err error) bool {
	var nf gozxing.NotFoundException
	return errors.As(err, &nf)
}

// Close is a no-op; gozxing readers hold no resources.
func (z *zxingEngine) Close() error {
	return nil
}
