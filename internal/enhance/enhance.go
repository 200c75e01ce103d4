// Package enhance prepares camera frames for decoding.
package enhance

import (
	"errors"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const (
	DefaultMaxEdge  = 1280
	DefaultContrast = 30
	DefaultSharpen  = 1.0
)

// ErrEmptyImage is returned for images without pixels.
var ErrEmptyImage = errors.New("empty image")

// Options tunes the enhancement pipeline. Zero values use the defaults;
// a negative Contrast or Sharpen disables that step.
type Options struct {
	MaxEdge  int
	Contrast float64
	Sharpen  float64
	// Binarize thresholds the result to pure black and white.
	Binarize bool
}

// Enhancer downscales, converts to grayscale, boosts contrast and sharpens
// a frame. It is safe for concurrent use.
type Enhancer struct {
	opts Options
}

// New creates an Enhancer.
func New(opts Options) *Enhancer {
	if opts.MaxEdge <= 0 {
		opts.MaxEdge = DefaultMaxEdge
	}
	if opts.Contrast == 0 {
		opts.Contrast = DefaultContrast
	}
	if opts.Sharpen == 0 {
		opts.Sharpen = DefaultSharpen
	}
	return &Enhancer{opts: opts}
}

// Enhance returns a new image; img is never modified.
func (e *Enhancer) Enhance(img image.Image) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, ErrEmptyImage
	}

	b := img.Bounds()
	if b.Dx() > e.opts.MaxEdge || b.Dy() > e.opts.MaxEdge {
		img = imaging.Fit(img, e.opts.MaxEdge, e.opts.MaxEdge, imaging.Lanczos)
	}

	out := imaging.Grayscale(img)
	if e.opts.Contrast > 0 {
		out = imaging.AdjustContrast(out, e.opts.Contrast)
	}
	if e.opts.Sharpen > 0 {
		out = imaging.Sharpen(out, e.opts.Sharpen)
	}
	if e.opts.Binarize {
		out = binarize(out)
	}
	return out, nil
}

// binarize thresholds a grayscale image at its Otsu level.
func binarize(img *image.NRGBA) *image.NRGBA {
	level := otsu(imaging.Histogram(img))
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		v := uint8(0)
		if c.R > level {
			v = 0xff
		}
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

// otsu returns the luminance level that maximises between-class variance of
// a normalised 256-bin histogram. Levels up to and including it are dark.
func otsu(hist [256]float64) uint8 {
	var total float64
	for i, p := range hist {
		total += float64(i) * p
	}

	var (
		best        uint8
		bestVar     float64
		weight, sum float64
	)
	for i, p := range hist {
		weight += p
		if weight == 0 {
			continue
		}
		if weight >= 1 {
			break
		}
		sum += float64(i) * p
		mean0 := sum / weight
		mean1 := (total - sum) / (1 - weight)
		v := weight * (1 - weight) * (mean0 - mean1) * (mean0 - mean1)
		if v > bestVar {
			bestVar = v
			best = uint8(i)
		}
	}
	return best
}
