//go:build govips && cgo

package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/imagecpr/internal/domain"
)

var (
	startupOnce sync.Once
	shutdownMu  sync.Mutex
	started     bool
)

// Backend names the encoder implementation compiled in.
const Backend = "libvips"

// Startup initialises libvips. Call it once before the first Encode.
func Startup() error {
	startupOnce.Do(func() {
		vips.Startup(&vips.Config{
			MaxCacheFiles: 0,
			MaxCacheMem:   128 * 1024 * 1024,
			MaxCacheSize:  100,
		})

		shutdownMu.Lock()
		started = true
		shutdownMu.Unlock()
	})
	return nil
}

func Shutdown() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()
	if !started {
		return
	}
	vips.Shutdown()
	started = false
}

func init() {
	jpegEntry := table[domain.FormatJPEG]
	jpegEntry.encode = encodeVipsJPEG
	table[domain.FormatJPEG] = jpegEntry

	webpEntry := table[domain.FormatWebP]
	webpEntry.encode = encodeVipsWebP
	table[domain.FormatWebP] = webpEntry
}

func encodeVipsJPEG(w io.Writer, img *image.NRGBA, quality *uint8) error {
	ref, err := loadVips(opaque(img))
	if err != nil {
		return err
	}
	defer ref.Close()

	params := vips.NewJpegExportParams()
	params.Quality = jpegQuality(quality)
	params.StripMetadata = true
	data, _, err := ref.ExportJpeg(params)
	if err != nil {
		return fmt.Errorf("vips export jpeg: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func encodeVipsWebP(w io.Writer, img *image.NRGBA, quality *uint8) error {
	ref, err := loadVips(img)
	if err != nil {
		return err
	}
	defer ref.Close()

	params := vips.NewWebpExportParams()
	params.StripMetadata = true
	if quality == nil {
		params.Lossless = true
	} else {
		params.Quality = int(*quality)
	}
	data, _, err := ref.ExportWebp(params)
	if err != nil {
		return fmt.Errorf("vips export webp: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// loadVips hands pixels to libvips through an uncompressed PNG so no channel
// values are altered on the way in.
func loadVips(img image.Image) (*vips.ImageRef, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.NoCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("stage pixels for vips: %w", err)
	}
	ref, err := vips.NewImageFromBuffer(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("vips load: %w", err)
	}
	return ref, nil
}
