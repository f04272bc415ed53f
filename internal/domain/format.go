package domain

import (
	"fmt"
	"strings"
)

type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
	FormatGIF  Format = "gif"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
)

var formatAliases = map[string]Format{
	"jpeg": FormatJPEG,
	"jpg":  FormatJPEG,
	"png":  FormatPNG,
	"webp": FormatWebP,
	"gif":  FormatGIF,
	"bmp":  FormatBMP,
	"tiff": FormatTIFF,
	"tif":  FormatTIFF,
}

// SupportedFormats lists every format tag the codec boundary handles.
func SupportedFormats() []Format {
	return []Format{FormatJPEG, FormatPNG, FormatWebP, FormatGIF, FormatBMP, FormatTIFF}
}

// ParseFormat resolves a case-insensitive tag or file extension ("jpg", "TIF")
// to its canonical Format.
func ParseFormat(tag string) (Format, error) {
	normalized := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "."))
	if f, ok := formatAliases[normalized]; ok {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, tag)
}

// Valid reports whether f is one of the canonical format tags.
func (f Format) Valid() bool {
	canonical, ok := formatAliases[string(f)]
	return ok && canonical == f
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	case FormatGIF:
		return "image/gif"
	case FormatBMP:
		return "image/bmp"
	case FormatTIFF:
		return "image/tiff"
	default:
		return "image/png"
	}
}

// Extension returns the file extension used when persisting an output,
// without the leading dot.
func (f Format) Extension() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// Lossless reports whether encoding ignores the quality setting.
func (f Format) Lossless() bool {
	switch f {
	case FormatJPEG, FormatWebP:
		return false
	default:
		return true
	}
}
