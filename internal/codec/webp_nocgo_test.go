//go:build !cgo

package codec

import (
	"testing"

	"github.com/dunamismax/imagecpr/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestWebPEncodingNeedsCgo(t *testing.T) {
	assert.False(t, Encodable(domain.FormatWebP))
	assert.True(t, Supported(domain.FormatWebP))

	_, err := Encode(gradient(4, 4, false), domain.FormatWebP, nil)
	assert.ErrorIs(t, err, domain.ErrEncode)
	assert.ErrorContains(t, err, "no encoder")

	for _, f := range []domain.Format{domain.FormatJPEG, domain.FormatPNG, domain.FormatGIF, domain.FormatBMP, domain.FormatTIFF} {
		assert.True(t, Encodable(f), f)
	}
}
