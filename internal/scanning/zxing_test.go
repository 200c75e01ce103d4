package scanning

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"log/slog"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// onWhite renders a code matrix onto a larger white canvas, like a camera
// frame with the code somewhere in the middle.
func onWhite(code image.Image, pad int) image.Image {
	b := code.Bounds()
	canvas := image.NewGray(image.Rect(0, 0, b.Dx()+2*pad, b.Dy()+2*pad))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(canvas, b.Add(image.Pt(pad, pad)), code, b.Min, draw.Src)
	return canvas
}

var _ = Describe("gozxing engines", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("QRCode", func() {
		var engine Engine

		BeforeEach(func() {
			engine = NewQRCode(slog.Default())
		})

		It("reads a QR code", func() {
			matrix, err := qrcode.NewQRCodeWriter().Encode("https://example.com/item/42", gozxing.BarcodeFormat_QR_CODE, 200, 200, nil)
			Expect(err).NotTo(HaveOccurred())

			text, err := engine.Decode(ctx, onWhite(matrix, 40))
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("https://example.com/item/42"))
		})

		It("returns nothing for a blank frame", func() {
			blank := image.NewGray(image.Rect(0, 0, 120, 120))
			draw.Draw(blank, blank.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
			text, err := engine.Decode(ctx, blank)
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(BeEmpty())
		})

		It("stops when the context is already cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			_, err := engine.Decode(cancelled, image.NewGray(image.Rect(0, 0, 10, 10)))
			Expect(err).To(MatchError(context.Canceled))
		})

		It("is named after its kind", func() {
			Expect(engine.Name()).To(Equal(KindQRCode))
			Expect(engine.Close()).To(Succeed())
		})
	})

	Describe("OneD", func() {
		var engine Engine

		BeforeEach(func() {
			engine = NewOneD(slog.Default())
		})

		It("reads a Code 128 barcode", func() {
			matrix, err := oned.NewCode128Writer().Encode("ABC123", gozxing.BarcodeFormat_CODE_128, 300, 80, nil)
			Expect(err).NotTo(HaveOccurred())

			text, err := engine.Decode(ctx, onWhite(matrix, 20))
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("ABC123"))
		})

		It("returns nothing for a blank frame", func() {
			blank := image.NewGray(image.Rect(0, 0, 200, 80))
			draw.Draw(blank, blank.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
			text, err := engine.Decode(ctx, blank)
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(BeEmpty())
		})
	})
})
