package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/dunamismax/imagecpr/internal/codec"
	"github.com/dunamismax/imagecpr/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess_TranscodeMatchesCodecRoundTrip(t *testing.T) {
	input := buildTestPNG(t, 64, 48)

	for _, target := range []domain.Format{domain.FormatJPEG, domain.FormatPNG, domain.FormatWebP, domain.FormatTIFF} {
		t.Run(string(target), func(t *testing.T) {
			if !codec.Encodable(target) {
				t.Skipf("%s encoder not compiled in", target)
			}
			got, err := Process(context.Background(), input, domain.Config{
				Format:       domain.FormatPNG,
				OutputFormat: target,
			})
			require.NoError(t, err)

			decoded, err := codec.Decode(input, domain.FormatPNG)
			require.NoError(t, err)
			want, err := codec.Encode(decoded, target, nil)
			require.NoError(t, err)

			assert.Equal(t, want, got)
		})
	}
}

func TestProcess_CropResizeToJPEG(t *testing.T) {
	input := buildTestPNG(t, 200, 200)
	quality := uint8(90)

	res, err := NewProcessor().Process(context.Background(), input, domain.Config{
		Format:       domain.FormatPNG,
		Crop:         &domain.Rect{X: 50, Y: 50, Width: 100, Height: 100},
		Size:         &domain.Size{Width: 50, Height: 50},
		OutputFormat: domain.FormatJPEG,
		Quality:      &quality,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FormatJPEG, res.Format)
	assert.Equal(t, 50, res.Width)
	assert.Equal(t, 50, res.Height)

	format, ok := codec.Sniff(res.Data)
	require.True(t, ok)
	assert.Equal(t, domain.FormatJPEG, format)

	img, err := codec.Decode(res.Data, domain.FormatJPEG)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 50, 50), img.Rect)
}

func TestProcess_NoStagesKeepsPixels(t *testing.T) {
	input := buildTestPNG(t, 31, 17)

	out, err := Process(context.Background(), input, domain.Config{Format: domain.FormatPNG})
	require.NoError(t, err)

	want, err := codec.Decode(input, domain.FormatPNG)
	require.NoError(t, err)
	got, err := codec.Decode(out, domain.FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, want.Pix, got.Pix)
}

func TestProcess_CropRunsBeforeResize(t *testing.T) {
	input := buildTestPNG(t, 200, 200)

	_, err := Process(context.Background(), input, domain.Config{
		Format: domain.FormatPNG,
		Crop:   &domain.Rect{X: 150, Y: 150, Width: 100, Height: 100},
		Size:   &domain.Size{Width: 400, Height: 400},
	})
	require.ErrorIs(t, err, domain.ErrCropOutOfBounds)
	assert.Contains(t, err.Error(), "crop stage")
}

func TestProcess_WatermarkPlacedOnResizedBuffer(t *testing.T) {
	input := buildTestPNG(t, 200, 200)
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	cfg := func(x int) domain.Config {
		return domain.Config{
			Format: domain.FormatPNG,
			Size:   &domain.Size{Width: 50, Height: 50},
			Watermark: &domain.Watermark{
				Content:  solidPNG(t, 4, 4, white),
				Position: domain.Rect{X: x, Y: 40, Width: 10, Height: 10},
				Opacity:  1,
			},
		}
	}

	out, err := Process(context.Background(), input, cfg(40))
	require.NoError(t, err)
	img, err := codec.Decode(out, domain.FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 50, 50), img.Rect)
	assert.Equal(t, white, img.NRGBAAt(45, 45))
	assert.NotEqual(t, white, img.NRGBAAt(30, 30))

	// x=41 fits the 200x200 source but not the 50x50 resize result.
	_, err = Process(context.Background(), input, cfg(41))
	require.ErrorIs(t, err, domain.ErrWatermarkOutOfBounds)
	assert.Contains(t, err.Error(), "watermark stage")
}

func TestProcess_WatermarkIsSniffed(t *testing.T) {
	base := buildTestPNG(t, 40, 40)
	baseJPEG, err := Process(context.Background(), base, domain.Config{
		Format:       domain.FormatPNG,
		OutputFormat: domain.FormatJPEG,
	})
	require.NoError(t, err)

	mark := solidPNG(t, 10, 10, color.NRGBA{R: 255, A: 255})
	res, err := NewProcessor().Process(context.Background(), baseJPEG, domain.Config{
		Format: domain.FormatJPEG,
		Watermark: &domain.Watermark{
			Content:  mark,
			Position: domain.Rect{X: 0, Y: 0, Width: 10, Height: 10},
			Opacity:  1,
		},
		OutputFormat: domain.FormatPNG,
	})
	require.NoError(t, err)

	img, err := codec.Decode(res.Data, domain.FormatPNG)
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{R: 255, A: 255}, img.NRGBAAt(5, 5))
}

func TestProcess_Errors(t *testing.T) {
	input := buildTestPNG(t, 100, 100)

	tests := []struct {
		name string
		in   []byte
		cfg  domain.Config
		want error
	}{
		{
			name: "crop out of bounds",
			in:   input,
			cfg:  domain.Config{Format: domain.FormatPNG, Crop: &domain.Rect{X: 90, Y: 90, Width: 20, Height: 20}},
			want: domain.ErrCropOutOfBounds,
		},
		{
			name: "declared format mismatch",
			in:   input,
			cfg:  domain.Config{Format: domain.FormatJPEG},
			want: domain.ErrDecode,
		},
		{
			name: "unsupported output",
			in:   input,
			cfg:  domain.Config{Format: domain.FormatPNG, OutputFormat: "heic"},
			want: domain.ErrUnsupportedFormat,
		},
		{
			name: "zero size",
			in:   input,
			cfg:  domain.Config{Format: domain.FormatPNG, Size: &domain.Size{Width: 0, Height: 10}},
			want: domain.ErrInvalidParameter,
		},
		{
			name: "watermark outside image",
			in:   input,
			cfg: domain.Config{Format: domain.FormatPNG, Watermark: &domain.Watermark{
				Content:  solidPNG(t, 4, 4, color.NRGBA{A: 255}),
				Position: domain.Rect{X: 95, Y: 95, Width: 10, Height: 10},
				Opacity:  1,
			}},
			want: domain.ErrWatermarkOutOfBounds,
		},
		{
			name: "watermark not an image",
			in:   input,
			cfg: domain.Config{Format: domain.FormatPNG, Watermark: &domain.Watermark{
				Content:  []byte("definitely not an image"),
				Position: domain.Rect{X: 0, Y: 0, Width: 10, Height: 10},
				Opacity:  1,
			}},
			want: domain.ErrDecode,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out, err := Process(context.Background(), tc.in, tc.cfg)
			assert.Nil(t, out)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestProcessor_MaxPixels(t *testing.T) {
	p := NewProcessor(WithMaxPixels(100))
	ctx := context.Background()

	_, err := p.Process(ctx, buildTestPNG(t, 5, 5), domain.Config{
		Format: domain.FormatPNG,
		Size:   &domain.Size{Width: 20, Height: 20},
	})
	require.ErrorIs(t, err, domain.ErrInvalidParameter)
	assert.NotContains(t, err.Error(), "stage")

	_, err = p.Process(ctx, buildTestPNG(t, 20, 20), domain.Config{Format: domain.FormatPNG})
	require.ErrorIs(t, err, domain.ErrInvalidParameter)
	assert.Contains(t, err.Error(), "decode stage")

	_, err = p.Process(ctx, buildTestPNG(t, 8, 8), domain.Config{
		Format: domain.FormatPNG,
		Watermark: &domain.Watermark{
			Content:  solidPNG(t, 20, 20, color.NRGBA{A: 255}),
			Position: domain.Rect{Width: 4, Height: 4},
			Opacity:  1,
		},
	})
	require.ErrorIs(t, err, domain.ErrInvalidParameter)
	assert.Contains(t, err.Error(), "watermark stage")

	out, err := p.Process(ctx, buildTestPNG(t, 10, 10), domain.Config{
		Format: domain.FormatPNG,
		Size:   &domain.Size{Width: 10, Height: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 10, out.Width)
}

func TestProcess_RefusesOversizedHeaderBeforeDecoding(t *testing.T) {
	// A 1x1 PNG whose header claims 100000x100000 pixels. Only the header is
	// valid, so reaching the full decoder would fail with ErrDecode instead.
	data := buildTestPNG(t, 1, 1)
	binary.BigEndian.PutUint32(data[16:20], 100000)
	binary.BigEndian.PutUint32(data[20:24], 100000)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	data = data[:33]

	_, err := Process(context.Background(), data, domain.Config{Format: domain.FormatPNG})
	require.ErrorIs(t, err, domain.ErrInvalidParameter)
	assert.NotErrorIs(t, err, domain.ErrDecode)
	assert.Contains(t, err.Error(), "100000x100000")
}

func TestProcessor_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	p := NewProcessor(WithMetrics(m))
	input := buildTestPNG(t, 20, 20)

	_, err := p.Process(context.Background(), input, domain.Config{Format: domain.FormatPNG})
	require.NoError(t, err)

	_, err = p.Process(context.Background(), input, domain.Config{
		Format: domain.FormatPNG,
		Crop:   &domain.Rect{X: 10, Y: 10, Width: 20, Height: 20},
	})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("crop_out_of_bounds")))
	// decode, encode and crop each got a series.
	assert.Equal(t, 3, testutil.CollectAndCount(m.stageDuration))
}

func buildTestPNG(t testing.TB, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: 140,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode source png: %v", err)
	}
	return buf.Bytes()
}

func solidPNG(t testing.TB, w, h int, c color.NRGBA) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode watermark png: %v", err)
	}
	return buf.Bytes()
}
