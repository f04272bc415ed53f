//go:build cgo

package codec

import (
	"image"
	"testing"

	"github.com/dunamismax/imagecpr/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebPLosslessRoundTrip(t *testing.T) {
	require.True(t, Encodable(domain.FormatWebP))
	src := gradient(32, 16, false)

	encoded, err := Encode(src, domain.FormatWebP, nil)
	require.NoError(t, err)

	decoded, err := Decode(encoded, domain.FormatWebP)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, decoded.Pix)

	cfg, err := DecodeConfig(encoded, domain.FormatWebP)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 16, cfg.Height)
}

func TestEncodeWebPLossyWithQuality(t *testing.T) {
	q := uint8(70)
	encoded, err := Encode(gradient(40, 30, true), domain.FormatWebP, &q)
	require.NoError(t, err)

	decoded, format, err := DecodeAuto(encoded)
	require.NoError(t, err)
	assert.Equal(t, domain.FormatWebP, format)
	assert.Equal(t, image.Rect(0, 0, 40, 30), decoded.Rect)
}
