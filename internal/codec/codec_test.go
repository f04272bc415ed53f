package codec

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/dunamismax/imagecpr/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryFormatHasTableEntry(t *testing.T) {
	for _, f := range domain.SupportedFormats() {
		assert.True(t, Supported(f), "missing codec for %s", f)
	}
}

func TestLosslessRoundTrip(t *testing.T) {
	src := gradient(37, 23, true)

	for _, format := range []domain.Format{domain.FormatPNG, domain.FormatTIFF} {
		t.Run(string(format), func(t *testing.T) {
			encoded, err := Encode(src, format, nil)
			require.NoError(t, err)

			decoded, err := Decode(encoded, format)
			require.NoError(t, err)
			assert.Equal(t, src.Rect, decoded.Rect)
			assert.Equal(t, src.Pix, decoded.Pix)
		})
	}
}

func TestOpaqueBMPRoundTrip(t *testing.T) {
	src := gradient(32, 16, false)

	encoded, err := Encode(src, domain.FormatBMP, nil)
	require.NoError(t, err)

	decoded, err := Decode(encoded, domain.FormatBMP)
	require.NoError(t, err)
	assert.Equal(t, src.Pix, decoded.Pix)
}

func TestEncodeJPEGDropsAlphaAndHonoursQuality(t *testing.T) {
	src := gradient(64, 64, true)

	low, high := uint8(10), uint8(95)
	small, err := Encode(src, domain.FormatJPEG, &low)
	require.NoError(t, err)
	large, err := Encode(src, domain.FormatJPEG, &high)
	require.NoError(t, err)
	assert.Less(t, len(small), len(large))

	decoded, err := jpeg.Decode(bytes.NewReader(large))
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Bounds().Dx())
	_, _, _, a := decoded.At(3, 3).RGBA()
	assert.Equal(t, uint32(0xffff), a)

	zero := uint8(0)
	_, err = Encode(src, domain.FormatJPEG, &zero)
	require.NoError(t, err)
}

func TestDecodeConfigReadsHeaderOnly(t *testing.T) {
	for _, format := range []domain.Format{domain.FormatPNG, domain.FormatJPEG, domain.FormatGIF, domain.FormatBMP, domain.FormatTIFF} {
		encoded, err := Encode(gradient(12, 7, false), format, nil)
		require.NoError(t, err, format)

		cfg, err := DecodeConfig(encoded, format)
		require.NoError(t, err, format)
		assert.Equal(t, 12, cfg.Width, format)
		assert.Equal(t, 7, cfg.Height, format)
	}

	// Signature plus IHDR is enough for PNG.
	pngBytes, err := Encode(gradient(12, 7, false), domain.FormatPNG, nil)
	require.NoError(t, err)
	cfg, err := DecodeConfig(pngBytes[:33], domain.FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Width)

	_, err = Decode(pngBytes[:33], domain.FormatPNG)
	assert.ErrorIs(t, err, domain.ErrDecode)

	_, err = DecodeConfig([]byte("junk"), domain.FormatPNG)
	assert.ErrorIs(t, err, domain.ErrDecode)

	_, err = DecodeConfig(nil, domain.Format("heic"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestDecodeTrustsDeclaredFormat(t *testing.T) {
	pngBytes, err := Encode(gradient(8, 8, false), domain.FormatPNG, nil)
	require.NoError(t, err)

	_, err = Decode(pngBytes, domain.FormatJPEG)
	assert.ErrorIs(t, err, domain.ErrDecode)

	_, err = Decode(nil, domain.FormatPNG)
	assert.ErrorIs(t, err, domain.ErrDecode)

	_, err = Decode(pngBytes, domain.Format("heic"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestDecodeAutoDetectsSignature(t *testing.T) {
	for _, format := range []domain.Format{domain.FormatPNG, domain.FormatJPEG, domain.FormatGIF, domain.FormatBMP, domain.FormatTIFF} {
		encoded, err := Encode(gradient(10, 10, false), format, nil)
		require.NoError(t, err, format)

		img, detected, err := DecodeAuto(encoded)
		require.NoError(t, err, format)
		assert.Equal(t, format, detected)
		assert.Equal(t, 10, img.Rect.Dx())
	}

	_, _, err := DecodeAuto([]byte("definitely not an image"))
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestEncodeRejectsUnsupportedFormatAndEmptyImage(t *testing.T) {
	_, err := Encode(gradient(2, 2, false), domain.Format("avif"), nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = Encode(image.NewNRGBA(image.Rect(0, 0, 0, 0)), domain.FormatPNG, nil)
	assert.ErrorIs(t, err, domain.ErrEncode)
}

func TestSniff(t *testing.T) {
	cases := map[string]domain.Format{
		"\x89PNG\r\n\x1a\nrest":    domain.FormatPNG,
		"\xff\xd8\xff\xe0":         domain.FormatJPEG,
		"GIF89a..":                 domain.FormatGIF,
		"RIFF\x00\x00\x00\x00WEBP": domain.FormatWebP,
		"II*\x00":                  domain.FormatTIFF,
		"BM....":                   domain.FormatBMP,
	}
	for data, want := range cases {
		got, ok := Sniff([]byte(data))
		require.True(t, ok, data)
		assert.Equal(t, want, got)
	}

	_, ok := Sniff([]byte("RIFF\x00\x00\x00\x00WAVE"))
	assert.False(t, ok)
}

func gradient(w, h int, translucent bool) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := uint8(255)
			if translucent {
				a = uint8(64 + (x*191)/w)
			}
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: a,
			})
		}
	}
	return img
}
