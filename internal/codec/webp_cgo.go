//go:build cgo

package codec

import (
	"image"
	"io"

	"github.com/chai2010/webp"
)

func decodeWebP(r io.Reader) (image.Image, error) {
	return webp.Decode(r)
}

func decodeWebPConfig(r io.Reader) (image.Config, error) {
	return webp.DecodeConfig(r)
}

// encodeWebP is lossless unless a quality is given.
func encodeWebP(w io.Writer, img *image.NRGBA, quality *uint8) error {
	if quality == nil {
		return webp.Encode(w, img, &webp.Options{Lossless: true})
	}
	return webp.Encode(w, img, &webp.Options{Quality: float32(*quality)})
}
