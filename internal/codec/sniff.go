package codec

import (
	"bytes"

	"github.com/dunamismax/imagecpr/internal/domain"
)

var signatures = []struct {
	format domain.Format
	match  func([]byte) bool
}{
	{domain.FormatPNG, prefix("\x89PNG\r\n\x1a\n")},
	{domain.FormatJPEG, prefix("\xff\xd8\xff")},
	{domain.FormatGIF, func(b []byte) bool {
		return bytes.HasPrefix(b, []byte("GIF87a")) || bytes.HasPrefix(b, []byte("GIF89a"))
	}},
	{domain.FormatWebP, func(b []byte) bool {
		return len(b) >= 12 && bytes.Equal(b[0:4], []byte("RIFF")) && bytes.Equal(b[8:12], []byte("WEBP"))
	}},
	{domain.FormatTIFF, func(b []byte) bool {
		return bytes.HasPrefix(b, []byte("II*\x00")) || bytes.HasPrefix(b, []byte("MM\x00*"))
	}},
	{domain.FormatBMP, prefix("BM")},
}

func prefix(p string) func([]byte) bool {
	return func(b []byte) bool { return bytes.HasPrefix(b, []byte(p)) }
}

// Sniff reports the format whose magic bytes open data.
func Sniff(data []byte) (domain.Format, bool) {
	for _, sig := range signatures {
		if sig.match(data) {
			return sig.format, true
		}
	}
	return "", false
}
