package imageops

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imagecpr/internal/domain"
)

// Resize resamples img to exactly size with a 3-lobe Lanczos filter. The
// aspect ratio is not preserved.
func Resize(img image.Image, size domain.Size) (*image.NRGBA, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("%w: resize target must be positive, got %s", domain.ErrInvalidParameter, size)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: cannot resize an empty image", domain.ErrInvalidParameter)
	}
	return imaging.Resize(img, size.Width, size.Height, imaging.Lanczos), nil
}
