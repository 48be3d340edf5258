package tiling

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/ironsheep/page-tiler/internal/imaging"
)

// shrinkBelow is the scale under which a box-filter pre-pass runs before
// the downsampling kernel.
const shrinkBelow = 0.5

// renderTile extracts src from base and scales it to the size of dst.
func renderTile(ctx context.Context, base imaging.Image, src, dst image.Rectangle, scale float64, s sampling) (imaging.Image, image.Image, error) {
	img, err := base.ExtractArea(ctx, imaging.RectOf(src))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to extract tile: %w", err)
	}

	w, h := dst.Dx(), dst.Dy()
	if w != src.Dx() || h != src.Dy() {
		scaled, err := scaleTile(ctx, img, w, h, scale, s)
		img.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scale tile to %dx%d: %w", w, h, err)
		}
		img = scaled
	}

	raster, err := imaging.Raster(ctx, img)
	if err != nil {
		img.Close()
		return nil, nil, err
	}
	return img, raster, nil
}

// scaleTile picks the sampling for scale. Upscaling uses the configured
// upsampling kernel; downscaling uses the downsampling kernel, in linear
// light when enabled, after a box shrink for large reductions.
func scaleTile(ctx context.Context, img imaging.Image, w, h int, scale float64, s sampling) (imaging.Image, error) {
	if scale > 1 {
		return img.Resize(ctx, w, h, imaging.ResizeOptions{Kernel: s.up})
	}
	if scale < shrinkBelow {
		shrunk, err := img.Shrink(ctx, math.Min(1, 2*scale))
		if err != nil {
			return nil, err
		}
		defer shrunk.Close()
		img = shrunk
	}
	return img.Resize(ctx, w, h, imaging.ResizeOptions{Kernel: s.down, LinearLight: s.linear})
}
