// Package camera produces frames for the scanner: ffmpeg capture from a
// webcam, replay of image files, and single uploaded images.
package camera

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/zombor/codescan/internal/scanner"
	"github.com/zombor/codescan/internal/scanning"
)

// EncodedFrame is a frame still in its file encoding (JPEG, PNG, HEIC, PDF...).
type EncodedFrame struct {
	contentType string
	closed      atomic.Bool

	mu   sync.Mutex
	data []byte
}

// NewEncodedFrame wraps encoded image data. An empty contentType is sniffed
// when the image is decoded.
func NewEncodedFrame(data []byte, contentType string) *EncodedFrame {
	return &EncodedFrame{data: data, contentType: contentType}
}

// Image decodes the frame.
func (f *EncodedFrame) Image() (image.Image, error) {
	f.mu.Lock()
	data := f.data
	f.mu.Unlock()
	if f.closed.Load() {
		return nil, scanner.ErrFrameClosed
	}
	return scanning.DecodeImage(data, f.contentType)
}

// Close drops the encoded data.
func (f *EncodedFrame) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return scanner.ErrFrameClosed
	}
	f.mu.Lock()
	f.data = nil
	f.mu.Unlock()
	return nil
}

// BufferPool recycles RGB24 frame buffers of one size.
type BufferPool struct {
	size int
	pool sync.Pool
	live atomic.Int64
}

// NewBufferPool creates a pool of width*height*3 byte buffers.
func NewBufferPool(width, height int) *BufferPool {
	p := &BufferPool{size: width * height * 3}
	p.pool.New = func() any {
		b := make([]byte, p.size)
		return &b
	}
	return p
}

func (p *BufferPool) get() *[]byte {
	p.live.Add(1)
	return p.pool.Get().(*[]byte)
}

func (p *BufferPool) put(b *[]byte) {
	p.live.Add(-1)
	p.pool.Put(b)
}

// Live returns the number of buffers handed out and not yet returned.
func (p *BufferPool) Live() int64 {
	return p.live.Load()
}

// RawFrame is an RGB24 frame held in a pooled buffer. Close returns the
// buffer to the pool, so Image copies the pixels out.
type RawFrame struct {
	width, height int
	buf           *[]byte
	pool          *BufferPool
	mu            sync.Mutex
}

// NewRawFrame takes a buffer from pool; fill it through Pixels before
// handing the frame on.
func NewRawFrame(pool *BufferPool, width, height int) *RawFrame {
	return &RawFrame{width: width, height: height, buf: pool.get(), pool: pool}
}

// Pixels returns the frame's RGB24 buffer, or nil once closed.
func (f *RawFrame) Pixels() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf == nil {
		return nil
	}
	return *f.buf
}

// Image converts the frame to an RGBA image.
func (f *RawFrame) Image() (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf == nil {
		return nil, scanner.ErrFrameClosed
	}

	src := *f.buf
	if len(src) < f.width*f.height*3 {
		return nil, fmt.Errorf("raw frame: %d bytes for %dx%d", len(src), f.width, f.height)
	}
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	for i, j := 0, 0; i < f.width*f.height*3; i, j = i+3, j+4 {
		img.Pix[j] = src[i]
		img.Pix[j+1] = src[i+1]
		img.Pix[j+2] = src[i+2]
		img.Pix[j+3] = 0xff
	}
	return img, nil
}

// Close returns the buffer to its pool.
func (f *RawFrame) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf == nil {
		return scanner.ErrFrameClosed
	}
	f.pool.put(f.buf)
	f.buf = nil
	return nil
}
