package imaging

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sync"

	"github.com/anthonynsimon/bild/histogram"
	"github.com/anthonynsimon/bild/parallel"
	"github.com/disintegration/imaging"
)

// Handle is the in-process Image implementation.
//
// The raster behind a Handle is never mutated after construction, so
// transforms read it without holding the lock; the lock only guards the
// closed flag.
type Handle struct {
	mu     sync.RWMutex
	img    image.Image // *image.Gray or *image.NRGBA, origin (0,0), no padding
	closed bool

	width, height int
	format        Format
}

var _ Image = (*Handle)(nil)

// NewHandle takes a decoded image and normalizes it to one of the two
// supported formats. Gray images stay single-band, everything else
// becomes non-premultiplied RGBA.
func NewHandle(img image.Image) *Handle {
	b := img.Bounds()
	var norm image.Image
	switch src := img.(type) {
	case *image.Gray:
		if b.Min == (image.Point{}) && src.Stride == b.Dx() {
			norm = src
		} else {
			g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
			draw.Draw(g, g.Bounds(), src, b.Min, draw.Src)
			norm = g
		}
	default:
		norm = imaging.Clone(img)
	}
	return newHandle(norm)
}

// FromBytes wraps a raw pixel buffer as produced by Bytes. The handle
// takes ownership of pix.
func FromBytes(pix []byte, width, height int, format Format) (*Handle, error) {
	img, err := rasterFromBytes(pix, width, height, format)
	if err != nil {
		return nil, err
	}
	return newHandle(img), nil
}

func newHandle(img image.Image) *Handle {
	h := &Handle{img: img, width: img.Bounds().Dx(), height: img.Bounds().Dy()}
	if _, ok := img.(*image.Gray); ok {
		h.format = FormatGray8
	} else {
		h.format = FormatRGBA8
	}
	return h
}

func (h *Handle) Width() int     { return h.width }
func (h *Handle) Height() int    { return h.height }
func (h *Handle) Bands() int     { return h.format.Bands() }
func (h *Handle) Format() Format { return h.format }

// raster returns the backing image or ErrUseAfterClose.
func (h *Handle) raster(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrUseAfterClose
	}
	return h.img, nil
}

// wrap builds the result handle, converting back to gray when the
// receiver is gray.
func (h *Handle) wrap(img *image.NRGBA) *Handle {
	if h.format == FormatGray8 {
		return newHandle(toGray(img))
	}
	return newHandle(img)
}

// ExtractArea copies rect into a new image of exactly rect's size.
func (h *Handle) ExtractArea(ctx context.Context, rect Rect) (Image, error) {
	src, err := h.raster(ctx)
	if err != nil {
		return nil, err
	}
	if !rect.Within(h.width, h.height) {
		return nil, &OutOfBoundsError{Rect: rect, Width: h.width, Height: h.height}
	}
	if rect.Empty() {
		return nil, fmt.Errorf("%w: empty rect %s", ErrInvalidArgument, rect)
	}

	if g, ok := src.(*image.Gray); ok {
		dst := image.NewGray(image.Rect(0, 0, rect.Width(), rect.Height()))
		for y := 0; y < rect.Height(); y++ {
			off := g.PixOffset(rect.Left, rect.Top+y)
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], g.Pix[off:off+rect.Width()])
		}
		return newHandle(dst), nil
	}
	return newHandle(imaging.Crop(src, rect.Image())), nil
}

// Resize scales to exactly width x height. With opts.Crop the image is
// scaled to cover the target and the centered window is kept.
func (h *Handle) Resize(ctx context.Context, width, height int, opts ResizeOptions) (Image, error) {
	src, err := h.raster(ctx)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: resize to %dx%d", ErrInvalidArgument, width, height)
	}

	filter := opts.Kernel.filter()
	var out *image.NRGBA
	switch {
	case opts.LinearLight:
		if opts.Crop {
			src = imaging.Crop(src, centerCrop(h.width, h.height, width, height))
		}
		out = resizeLinearLight(imaging.Clone(src), width, height, opts.Kernel)
	case opts.Crop:
		out = imaging.Fill(src, width, height, imaging.Center, filter)
	default:
		out = imaging.Resize(src, width, height, filter)
	}
	return h.wrap(out), nil
}

// centerCrop returns the largest centered window of a srcW x srcH image
// having the aspect ratio of dstW x dstH.
func centerCrop(srcW, srcH, dstW, dstH int) image.Rectangle {
	cropW, cropH := srcW, srcH
	if srcW*dstH > srcH*dstW {
		cropW = int(math.Round(float64(srcH) * float64(dstW) / float64(dstH)))
	} else {
		cropH = int(math.Round(float64(srcW) * float64(dstH) / float64(dstW)))
	}
	if cropW < 1 {
		cropW = 1
	}
	if cropH < 1 {
		cropH = 1
	}
	x := (srcW - cropW) / 2
	y := (srcH - cropH) / 2
	return image.Rect(x, y, x+cropW, y+cropH)
}

// Shrink is a box-filter downscale by factor, 0 < factor <= 1.
func (h *Handle) Shrink(ctx context.Context, factor float64) (Image, error) {
	src, err := h.raster(ctx)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(factor) || factor <= 0 || factor > 1 {
		return nil, fmt.Errorf("%w: shrink factor %v", ErrInvalidArgument, factor)
	}
	w := max(1, int(math.Round(float64(h.width)*factor)))
	ht := max(1, int(math.Round(float64(h.height)*factor)))
	if w == h.width && ht == h.height {
		return h.wrap(imaging.Clone(src)), nil
	}
	return h.wrap(imaging.Resize(src, w, ht, imaging.Box)), nil
}

// FindTrim returns the bounding box of content that differs from the
// background color. See findTrim for the heuristic.
func (h *Handle) FindTrim(ctx context.Context) (Rect, error) {
	src, err := h.raster(ctx)
	if err != nil {
		return Rect{}, err
	}
	return findTrim(src, TrimThreshold), nil
}

// MakeHistogram renders the per-channel histogram as an RGBA image.
func (h *Handle) MakeHistogram(ctx context.Context) (Image, error) {
	src, err := h.raster(ctx)
	if err != nil {
		return nil, err
	}
	hist := histogram.NewRGBAHistogram(src)
	return newHandle(imaging.Clone(hist.Image())), nil
}

// MapLookupTable remaps every pixel through table.
//
// A 256-byte table applies to the gray band, or to R, G and B of an RGBA
// image. A 1024-byte table is interleaved RGBA (table[i*4+c]); applied to
// a gray image it expands the result to RGBA with opaque alpha.
func (h *Handle) MapLookupTable(ctx context.Context, table []byte) (Image, error) {
	src, err := h.raster(ctx)
	if err != nil {
		return nil, err
	}

	switch len(table) {
	case 256:
		if g, ok := src.(*image.Gray); ok {
			dst := image.NewGray(g.Rect)
			parallel.Line(h.height, func(start, end int) {
				for i := start * g.Stride; i < end*g.Stride; i++ {
					dst.Pix[i] = table[g.Pix[i]]
				}
			})
			return newHandle(dst), nil
		}
		n := src.(*image.NRGBA)
		dst := image.NewNRGBA(n.Rect)
		parallel.Line(h.height, func(start, end int) {
			for i := start * n.Stride; i < end*n.Stride; i += 4 {
				dst.Pix[i] = table[n.Pix[i]]
				dst.Pix[i+1] = table[n.Pix[i+1]]
				dst.Pix[i+2] = table[n.Pix[i+2]]
				dst.Pix[i+3] = n.Pix[i+3]
			}
		})
		return newHandle(dst), nil

	case 1024:
		dst := image.NewNRGBA(image.Rect(0, 0, h.width, h.height))
		if g, ok := src.(*image.Gray); ok {
			parallel.Line(h.height, func(start, end int) {
				for i := start * g.Stride; i < end*g.Stride; i++ {
					v := int(g.Pix[i]) * 4
					j := i * 4
					dst.Pix[j] = table[v]
					dst.Pix[j+1] = table[v+1]
					dst.Pix[j+2] = table[v+2]
					dst.Pix[j+3] = 0xff
				}
			})
			return newHandle(dst), nil
		}
		n := src.(*image.NRGBA)
		parallel.Line(h.height, func(start, end int) {
			for i := start * n.Stride; i < end*n.Stride; i++ {
				dst.Pix[i] = table[int(n.Pix[i])*4+i%4]
			}
		})
		return newHandle(dst), nil

	default:
		return nil, fmt.Errorf("%w: lookup table of %d bytes", ErrInvalidArgument, len(table))
	}
}

// Bytes returns a copy of the pixel buffer.
func (h *Handle) Bytes(ctx context.Context) ([]byte, error) {
	src, err := h.raster(ctx)
	if err != nil {
		return nil, err
	}
	var pix []byte
	switch img := src.(type) {
	case *image.Gray:
		pix = img.Pix
	case *image.NRGBA:
		pix = img.Pix
	}
	out := make([]byte, len(pix))
	copy(out, pix)
	return out, nil
}

// Close releases the raster. Calling Close more than once is a no-op.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.img = nil
	return nil
}

func toGray(src *image.NRGBA) *image.Gray {
	dst := image.NewGray(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()))
	for i, j := 0, 0; j < len(dst.Pix); i, j = i+4, j+1 {
		dst.Pix[j] = src.Pix[i]
	}
	return dst
}
