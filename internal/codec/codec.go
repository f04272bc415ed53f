// Package codec is the decode/encode boundary of the pipeline. Every format is
// an entry in a closed table keyed by domain.Format; decoded images are always
// normalised to *image.NRGBA before they leave the package.
package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/imagecpr/internal/domain"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// DefaultJPEGQuality applies when a JPEG is requested without a quality.
const DefaultJPEGQuality = 80

type (
	decodeFunc       func(r io.Reader) (image.Image, error)
	decodeConfigFunc func(r io.Reader) (image.Config, error)
	encodeFunc       func(w io.Writer, img *image.NRGBA, quality *uint8) error
)

// entry.encode is nil for formats this build can read but not write.
type entry struct {
	decode decodeFunc
	config decodeConfigFunc
	encode encodeFunc
}

var table = map[domain.Format]entry{
	domain.FormatJPEG: {decode: jpeg.Decode, config: jpeg.DecodeConfig, encode: encodeJPEG},
	domain.FormatPNG:  {decode: png.Decode, config: png.DecodeConfig, encode: encodePNG},
	domain.FormatWebP: {decode: decodeWebP, config: decodeWebPConfig, encode: encodeWebP},
	domain.FormatGIF:  {decode: gif.Decode, config: gif.DecodeConfig, encode: encodeGIF},
	domain.FormatBMP:  {decode: bmp.Decode, config: bmp.DecodeConfig, encode: encodeBMP},
	domain.FormatTIFF: {decode: tiff.Decode, config: tiff.DecodeConfig, encode: encodeTIFF},
}

func lookup(format domain.Format) (entry, error) {
	e, ok := table[format]
	if !ok {
		return entry{}, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, format)
	}
	return e, nil
}

// Decode decodes data as the caller-declared format. The bytes are not sniffed:
// a PNG declared as "jpeg" fails with domain.ErrDecode.
func Decode(data []byte, format domain.Format) (*image.NRGBA, error) {
	e, err := lookup(format)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s: empty input", domain.ErrDecode, format)
	}

	img, err := e.decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrDecode, format, err)
	}
	return toNRGBA(img), nil
}

// DecodeConfig reads only the header of data and reports its dimensions, so
// callers can refuse oversized images before allocating pixels.
func DecodeConfig(data []byte, format domain.Format) (image.Config, error) {
	e, err := lookup(format)
	if err != nil {
		return image.Config{}, err
	}
	cfg, err := e.config(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, fmt.Errorf("%w: %s: %w", domain.ErrDecode, format, err)
	}
	return cfg, nil
}

// DecodeAuto detects the format from the leading signature bytes and decodes
// with it. Watermarks go through this path; primary images use Decode.
func DecodeAuto(data []byte) (*image.NRGBA, domain.Format, error) {
	format, ok := Sniff(data)
	if !ok {
		return nil, "", fmt.Errorf("%w: unrecognized image signature", domain.ErrDecode)
	}
	img, err := Decode(data, format)
	if err != nil {
		return nil, "", err
	}
	return img, format, nil
}

// Encode writes img in the given format. quality is honoured by lossy formats
// only; nil means the format's default.
func Encode(img image.Image, format domain.Format, quality *uint8) ([]byte, error) {
	e, err := lookup(format)
	if err != nil {
		return nil, err
	}
	if e.encode == nil {
		return nil, fmt.Errorf("%w: %s: no encoder in this build", domain.ErrEncode, format)
	}
	if quality != nil && *quality > 100 {
		return nil, fmt.Errorf("%w: quality must be within [0, 100], got %d", domain.ErrInvalidParameter, *quality)
	}

	src := toNRGBA(img)
	if src.Rect.Empty() {
		return nil, fmt.Errorf("%w: %s: image has no pixels", domain.ErrEncode, format)
	}

	var buf bytes.Buffer
	if err := e.encode(&buf, src, quality); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrEncode, format, err)
	}
	return buf.Bytes(), nil
}

// Supported reports whether format has a table entry.
func Supported(format domain.Format) bool {
	_, ok := table[format]
	return ok
}

// Encodable reports whether this build can write format.
func Encodable(format domain.Format) bool {
	return table[format].encode != nil
}

// toNRGBA returns an NRGBA copy anchored at the origin. It always copies so
// the caller owns the result exclusively.
func toNRGBA(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}
