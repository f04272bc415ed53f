package codec

import (
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

func encodeJPEG(w io.Writer, img *image.NRGBA, quality *uint8) error {
	return jpeg.Encode(w, opaque(img), &jpeg.Options{Quality: jpegQuality(quality)})
}

func jpegQuality(quality *uint8) int {
	if quality == nil {
		return DefaultJPEGQuality
	}
	q := int(*quality)
	if q < 1 {
		q = 1
	}
	return q
}

// opaque drops the alpha channel, keeping each pixel's straight colour.
func opaque(img *image.NRGBA) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, img.Rect.Dx(), img.Rect.Dy()))
	copy(dst.Pix, img.Pix)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

func encodePNG(w io.Writer, img *image.NRGBA, _ *uint8) error {
	encoder := png.Encoder{CompressionLevel: png.BestCompression}
	return encoder.Encode(w, img)
}

func encodeGIF(w io.Writer, img *image.NRGBA, _ *uint8) error {
	return gif.Encode(w, img, &gif.Options{NumColors: 256})
}

func encodeBMP(w io.Writer, img *image.NRGBA, _ *uint8) error {
	return bmp.Encode(w, img)
}

func encodeTIFF(w io.Writer, img *image.NRGBA, _ *uint8) error {
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}
