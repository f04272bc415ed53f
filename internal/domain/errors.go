package domain

import "errors"

// Error kinds surfaced by the transformation pipeline. Every failure returned by
// the pipeline wraps exactly one of these, so callers can branch with errors.Is.
var (
	ErrUnsupportedFormat    = errors.New("unsupported format")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrCropOutOfBounds      = errors.New("crop out of bounds")
	ErrWatermarkOutOfBounds = errors.New("watermark out of bounds")
	ErrDecode               = errors.New("decode error")
	ErrEncode               = errors.New("encode error")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{ErrUnsupportedFormat, "unsupported_format"},
	{ErrInvalidParameter, "invalid_parameter"},
	{ErrCropOutOfBounds, "crop_out_of_bounds"},
	{ErrWatermarkOutOfBounds, "watermark_out_of_bounds"},
	{ErrDecode, "decode_error"},
	{ErrEncode, "encode_error"},
}

// ErrorKind returns a stable label for err, or "internal" when err does not
// wrap one of the pipeline error kinds.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// IsPipelineError reports whether err is a deterministic pipeline failure.
// Retrying such a request with the same input always fails the same way.
func IsPipelineError(err error) bool {
	kind := ErrorKind(err)
	return kind != "" && kind != "internal"
}
