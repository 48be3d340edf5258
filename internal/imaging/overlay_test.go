package imaging

import (
	"image"
	"image/color"
	"testing"
)

func TestDrawTileOverlay(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	regions := []image.Rectangle{
		image.Rect(0, 0, 50, 50),
		image.Rect(50, 0, 100, 50),
	}

	DrawTileOverlay(img, regions)

	// Outline pixels are opaque, interiors untouched
	if _, _, _, a := img.At(25, 49).RGBA(); a != 0xffff {
		t.Errorf("bottom edge of tile 0 should be drawn, alpha %d", a)
	}
	if _, _, _, a := img.At(50, 25).RGBA(); a != 0xffff {
		t.Errorf("left edge of tile 1 should be drawn, alpha %d", a)
	}
	if _, _, _, a := img.At(30, 30).RGBA(); a != 0 {
		t.Errorf("tile interior should be untouched, alpha %d", a)
	}

	// Neighbouring tiles get different hues
	if img.RGBAAt(25, 49) == img.RGBAAt(75, 49) {
		t.Error("adjacent tiles should use different outline colors")
	}
}

func TestDrawTileOverlay_ClipsToBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))

	// Should not panic for regions partly or fully outside
	DrawTileOverlay(img, []image.Rectangle{
		image.Rect(-10, -10, 10, 10),
		image.Rect(15, 15, 40, 40),
		image.Rect(100, 100, 120, 120),
	})
}

func TestDrawLabel(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	fg := color.RGBA{255, 255, 255, 255}
	bg := color.RGBA{0, 0, 0, 180}
	drawLabel(img, 10, 10, "12", fg, bg)

	hasWhite := false
	hasBackground := false
	for y := 9; y < 20; y++ {
		for x := 9; x < 20; x++ {
			c := img.RGBAAt(x, y)
			if c.R > 200 {
				hasWhite = true
			}
			if c.R == 0 && c.A == 180 {
				hasBackground = true
			}
		}
	}

	if !hasWhite {
		t.Error("label should have white pixels (text)")
	}
	if !hasBackground {
		t.Error("label should have background pixels")
	}
}

func TestDrawLabel_BoundsCheck(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))

	fg := color.RGBA{255, 255, 255, 255}
	bg := color.RGBA{0, 0, 0, 180}

	// These should not panic even if label extends past bounds
	drawLabel(img, 15, 15, "100", fg, bg)
	drawLabel(img, 0, 0, "0", fg, bg)
	drawLabel(img, -5, -5, "test", fg, bg)
	drawLabel(img, 10, 10, "", fg, bg)
}
