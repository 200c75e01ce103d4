package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func checkerboard(size int) image.Image {
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if (x/4+y/4)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 0xff})
			}
		}
	}
	return img
}

var _ = Describe("DecodeImage", func() {
	It("decodes PNG data", func() {
		data, err := EncodePNG(checkerboard(16))
		Expect(err).NotTo(HaveOccurred())

		img, err := DecodeImage(data, "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Bounds().Dx()).To(Equal(16))
	})

	It("sniffs the format when the content type is missing", func() {
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, checkerboard(32), nil)).To(Succeed())

		img, err := DecodeImage(buf.Bytes(), "")
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Bounds().Dy()).To(Equal(32))
	})

	It("ignores content type parameters", func() {
		data, err := EncodePNG(checkerboard(8))
		Expect(err).NotTo(HaveOccurred())

		_, err = DecodeImage(data, "Image/PNG; charset=binary")
		Expect(err).NotTo(HaveOccurred())
	})

	It("rejects unknown formats", func() {
		_, err := DecodeImage([]byte("definitely not an image"), "image/x-unknown")
		Expect(err).To(MatchError(ErrUnsupportedFormat))
	})

	It("rejects empty data", func() {
		_, err := DecodeImage(nil, "image/png")
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("HEIC detection", func() {
	It("recognises the ftyp brands", func() {
		header := append([]byte{0, 0, 0, 24}, []byte("ftypheic")...)
		Expect(isHEICFormat(header)).To(BeTrue())
		Expect(isHEICFormat([]byte("short"))).To(BeFalse())
	})

	It("recognises the MIME types", func() {
		Expect(isHEICMimeType(" image/HEIC ")).To(BeTrue())
		Expect(isHEICMimeType("image/heif")).To(BeTrue())
		Expect(isHEICMimeType("image/png")).To(BeFalse())
	})
})
