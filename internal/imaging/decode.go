package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"math"

	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// LocalDecoder decodes in the calling goroutine. Callers that must not
// block (a render loop) schedule it themselves or use a transport worker.
type LocalDecoder struct{}

var _ Decoder = LocalDecoder{}

// Decode decodes PNG, JPEG, GIF, BMP, TIFF or WebP bytes.
//
// Gray sources stay FormatGray8, all others become FormatRGBA8. When
// opts carries a target size the decoded image is resized with Lanczos3;
// a zero side is derived from the source aspect ratio.
func (LocalDecoder) Decode(ctx context.Context, data []byte, opts DecodeOptions) (Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	h := NewHandle(src)
	if opts.Width <= 0 && opts.Height <= 0 {
		return h, nil
	}
	defer h.Close()

	w, ht, err := targetSize(h.Width(), h.Height(), opts.Width, opts.Height)
	if err != nil {
		return nil, err
	}
	out, err := h.Resize(ctx, w, ht, ResizeOptions{Crop: opts.Crop, Kernel: KernelLanczos3})
	if err != nil {
		return nil, fmt.Errorf("failed to resize decoded image: %w", err)
	}
	return out, nil
}

// targetSize fills in a zero side from the source aspect ratio.
func targetSize(srcW, srcH, w, h int) (int, int, error) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0, fmt.Errorf("%w: cannot size an empty %dx%d source", ErrInvalidArgument, srcW, srcH)
	}
	switch {
	case w <= 0:
		w = max(1, int(math.Round(float64(srcW)*float64(h)/float64(srcH))))
	case h <= 0:
		h = max(1, int(math.Round(float64(srcH)*float64(w)/float64(srcW))))
	}
	return w, h, nil
}
