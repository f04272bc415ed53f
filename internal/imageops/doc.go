// Package imageops implements the geometric and compositing stages of the
// pipeline over *image.NRGBA buffers.
//
// Rectangles are expressed in the pixel coordinates of the buffer they are
// applied to, with (0,0) at the top-left corner. A rectangle that does not fit
// is an error; nothing is clamped. Every operation returns a new buffer and
// leaves its inputs untouched.
package imageops
