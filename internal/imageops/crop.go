package imageops

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imagecpr/internal/domain"
)

// Crop copies the pixels inside r verbatim into a new buffer of r's size.
func Crop(img image.Image, r domain.Rect) (*image.NRGBA, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("%w: crop must have a non-zero area, got %s", domain.ErrInvalidParameter, r)
	}

	bounds := img.Bounds()
	if !r.Fits(bounds.Dx(), bounds.Dy()) {
		return nil, fmt.Errorf("%w: rectangle %s exceeds %dx%d image", domain.ErrCropOutOfBounds, r, bounds.Dx(), bounds.Dy())
	}

	return imaging.Crop(img, r.Rectangle(bounds.Min)), nil
}
