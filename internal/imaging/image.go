package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// Format is the pixel layout of a decoded image.
type Format int

const (
	// FormatGray8 is one 8-bit band per pixel (GRAYSCALE_8).
	FormatGray8 Format = iota
	// FormatRGBA8 is four interleaved 8-bit bands per pixel, non-premultiplied (RGBA_8888).
	FormatRGBA8
)

// Bands returns the number of bytes per pixel for the format.
func (f Format) Bands() int {
	if f == FormatGray8 {
		return 1
	}
	return 4
}

func (f Format) String() string {
	switch f {
	case FormatGray8:
		return "GRAYSCALE_8"
	case FormatRGBA8:
		return "RGBA_8888"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Rect is a rectangle in source pixel space.
//
// Left and Top are inclusive, Right and Bottom exclusive, so Width is
// Right-Left. This matches image.Rectangle and the rest of the package.
type Rect struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// RectOf converts an image.Rectangle.
func RectOf(r image.Rectangle) Rect {
	return Rect{Left: r.Min.X, Top: r.Min.Y, Right: r.Max.X, Bottom: r.Max.Y}
}

// Width returns Right-Left.
func (r Rect) Width() int { return r.Right - r.Left }

// Height returns Bottom-Top.
func (r Rect) Height() int { return r.Bottom - r.Top }

// Empty reports whether the rect contains no pixels.
func (r Rect) Empty() bool { return r.Left >= r.Right || r.Top >= r.Bottom }

// Image converts to image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

// Within reports whether r lies inside a width x height image.
func (r Rect) Within(width, height int) bool {
	return r.Left >= 0 && r.Top >= 0 && r.Left <= r.Right && r.Top <= r.Bottom &&
		r.Right <= width && r.Bottom <= height
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", r.Left, r.Top, r.Right, r.Bottom)
}

// ResizeOptions controls Image.Resize.
type ResizeOptions struct {
	// Crop preserves aspect ratio by scaling to cover the target and
	// cropping the centered window. When false the content is stretched.
	Crop bool
	// Kernel is the resampling kernel. The zero value is KernelNearest.
	Kernel Kernel
	// LinearLight resamples in linear light instead of sRGB.
	LinearLight bool
}

// DecodeOptions controls Decoder.Decode. Zero Width and Height keep the
// source size; a single zero side preserves aspect ratio.
type DecodeOptions struct {
	Width  int
	Height int
	Crop   bool
}

// Image is an owned reference to a decoded raster.
//
// Every transform returns a new Image owned by the caller and leaves the
// receiver valid. Images must be closed; operations on a closed image fail
// with ErrUseAfterClose. Close is idempotent.
//
// Implementations are selected at composition time: Handle runs in-process,
// transport.RemoteImage forwards to a decode worker.
type Image interface {
	Width() int
	Height() int
	Bands() int
	Format() Format

	ExtractArea(ctx context.Context, rect Rect) (Image, error)
	Resize(ctx context.Context, width, height int, opts ResizeOptions) (Image, error)
	Shrink(ctx context.Context, factor float64) (Image, error)
	FindTrim(ctx context.Context) (Rect, error)
	MakeHistogram(ctx context.Context) (Image, error)
	MapLookupTable(ctx context.Context, table []byte) (Image, error)
	Bytes(ctx context.Context) ([]byte, error)
	Close() error
}

// Decoder turns encoded bytes into an Image. Ownership of data passes to
// the decoder; callers must not modify it afterwards.
type Decoder interface {
	Decode(ctx context.Context, data []byte, opts DecodeOptions) (Image, error)
}

// Bounds returns the full rect of img.
func Bounds(img Image) Rect {
	return Rect{Right: img.Width(), Bottom: img.Height()}
}

var (
	// ErrUseAfterClose is returned by operations on a closed Image.
	ErrUseAfterClose = errors.New("image used after close")

	// ErrOutOfBounds matches every *OutOfBoundsError via errors.Is.
	ErrOutOfBounds = errors.New("rect out of bounds")

	// ErrInvalidArgument reports a malformed size, factor or table.
	ErrInvalidArgument = errors.New("invalid argument")
)

// OutOfBoundsError reports a rect that does not lie within the source image.
type OutOfBoundsError struct {
	Rect          Rect
	Width, Height int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("rect %s outside image bounds %dx%d", e.Rect, e.Width, e.Height)
}

// Is makes errors.Is(err, ErrOutOfBounds) true.
func (e *OutOfBoundsError) Is(target error) bool { return target == ErrOutOfBounds }

// DecodeError reports source bytes that could not be decoded.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "failed to decode image: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// Raster wraps the bytes of img as a standard library image so it can be
// drawn. The returned image shares nothing with img.
func Raster(ctx context.Context, img Image) (image.Image, error) {
	pix, err := img.Bytes(ctx)
	if err != nil {
		return nil, err
	}
	return rasterFromBytes(pix, img.Width(), img.Height(), img.Format())
}

func rasterFromBytes(pix []byte, width, height int, format Format) (image.Image, error) {
	if len(pix) != width*height*format.Bands() {
		return nil, fmt.Errorf("%w: %d bytes for %dx%d %s", ErrInvalidArgument, len(pix), width, height, format)
	}
	r := image.Rect(0, 0, width, height)
	if format == FormatGray8 {
		return &image.Gray{Pix: pix, Stride: width, Rect: r}, nil
	}
	return &image.NRGBA{Pix: pix, Stride: width * 4, Rect: r}, nil
}
