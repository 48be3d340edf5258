// Package imaging provides the decoded page image and the operations the
// tiling engine and the processing pipeline run on it.
//
// An Image is an owned reference to an immutable raster in one of two
// formats, GRAYSCALE_8 or RGBA_8888. Every operation returns a new Image
// and leaves the receiver untouched. Handle implements Image in-process;
// the transport package implements it over a decode worker.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - For a Rect, (Left,Top) is inclusive and (Right,Bottom) is exclusive
//
// Rects outside the image are rejected with an *OutOfBoundsError, never
// clamped.
//
// # Thread Safety
//
// Handle is safe for concurrent use. Operations take a read lock on the
// raster; Close takes the write lock and fails all later operations with
// ErrUseAfterClose.
//
// # Resampling
//
// Resize selects its filter with a Kernel. Upsampling uses the kernel of
// an UpsamplingMode; downsampling may run in linear light, converting
// through precomputed sRGB tables.
//
// # Error Handling
//
// Operations return errors for:
//   - Rects outside the image bounds (ErrOutOfBounds)
//   - Malformed sizes, shrink factors and lookup tables (ErrInvalidArgument)
//   - Use of a closed image (ErrUseAfterClose)
//   - Undecodable source bytes (*DecodeError)
package imaging
