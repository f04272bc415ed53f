package imageops

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imagecpr/internal/domain"
)

// Composite blends mark over base inside wm.Position. The mark is resized to
// the placement size first. Each RGB channel becomes
//
//	dst*(1-a) + src*a
//
// where a is wm.Opacity, multiplied by the mark's own alpha when
// wm.UseOwnAlpha is set. The base alpha channel is kept as is.
func Composite(base, mark image.Image, wm domain.Watermark) (*image.NRGBA, error) {
	pos := wm.Position
	if pos.Width <= 0 || pos.Height <= 0 {
		return nil, fmt.Errorf("%w: watermark position must have a non-zero area, got %s", domain.ErrInvalidParameter, pos)
	}
	if math.IsNaN(wm.Opacity) || wm.Opacity < 0 || wm.Opacity > 1 {
		return nil, fmt.Errorf("%w: watermark opacity factor must be within [0, 1], got %v", domain.ErrInvalidParameter, wm.Opacity)
	}

	bounds := base.Bounds()
	if !pos.Fits(bounds.Dx(), bounds.Dy()) {
		return nil, fmt.Errorf("%w: position %s exceeds %dx%d image", domain.ErrWatermarkOutOfBounds, pos, bounds.Dx(), bounds.Dy())
	}

	overlay, err := Resize(mark, domain.Size{Width: pos.Width, Height: pos.Height})
	if err != nil {
		return nil, fmt.Errorf("resize watermark: %w", err)
	}

	dst := imaging.Clone(base)
	for y := 0; y < pos.Height; y++ {
		src := overlay.Pix[overlay.PixOffset(0, y):]
		row := dst.Pix[dst.PixOffset(pos.X, pos.Y+y):]
		for x := 0; x < pos.Width; x++ {
			s := src[x*4 : x*4+4 : x*4+4]
			d := row[x*4 : x*4+4 : x*4+4]

			a := wm.Opacity
			if wm.UseOwnAlpha {
				a = float64(s[3]) / 255 * wm.Opacity
			}
			if a == 0 {
				continue
			}

			d[0] = blend(d[0], s[0], a)
			d[1] = blend(d[1], s[1], a)
			d[2] = blend(d[2], s[2], a)
		}
	}
	return dst, nil
}

func blend(dst, src uint8, a float64) uint8 {
	v := float64(dst)*(1-a) + float64(src)*a
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}
