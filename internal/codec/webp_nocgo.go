//go:build !cgo

package codec

import xwebp "golang.org/x/image/webp"

// Without cgo there is no libwebp: WebP can be read but not written.
var (
	decodeWebP       decodeFunc       = xwebp.Decode
	decodeWebPConfig decodeConfigFunc = xwebp.DecodeConfig
	encodeWebP       encodeFunc
)
