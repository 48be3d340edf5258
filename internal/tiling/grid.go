package tiling

import (
	"image"
	"math"
)

// Tile is one square of the page in source pixel space. Tiles on the
// right and bottom edges are clipped to the page.
type Tile struct {
	Index  int
	Source image.Rectangle
}

// Grid partitions a width x height page into edge-sized tiles in row-major
// order. It returns nil for an empty page or a non-positive edge.
func Grid(width, height, edge int) []Tile {
	if width <= 0 || height <= 0 || edge <= 0 {
		return nil
	}
	cols := (width + edge - 1) / edge
	rows := (height + edge - 1) / edge

	tiles := make([]Tile, 0, cols*rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			tiles = append(tiles, Tile{
				Index: len(tiles),
				Source: image.Rect(
					c*edge, r*edge,
					min((c+1)*edge, width), min((r+1)*edge, height),
				),
			})
		}
	}
	return tiles
}

// scaleRect maps a source rect into display space. Every corner is
// rounded on its own so neighbouring tiles share their edges exactly.
func scaleRect(r image.Rectangle, scale float64) image.Rectangle {
	s := func(v int) int { return int(math.Round(float64(v) * scale)) }
	return image.Rect(s(r.Min.X), s(r.Min.Y), s(r.Max.X), s(r.Max.Y))
}

// View is what the page is displayed at.
type View struct {
	// DisplayWidth and DisplayHeight bound the on-screen page size. The
	// page is fitted inside preserving its aspect ratio; a zero side does
	// not constrain.
	DisplayWidth  int
	DisplayHeight int
	// Visible is the viewport in display space.
	Visible image.Rectangle
}

type layout struct {
	intrinsic image.Point
	display   image.Point
	scale     float64
}

// computeLayout fits a width x height page into v. Without stretch-to-fit
// the page is never enlarged beyond its intrinsic size.
func computeLayout(width, height int, v View, stretch bool) layout {
	sx := float64(v.DisplayWidth) / float64(width)
	sy := float64(v.DisplayHeight) / float64(height)

	scale := 1.0
	switch {
	case v.DisplayWidth > 0 && v.DisplayHeight > 0:
		scale = math.Min(sx, sy)
	case v.DisplayWidth > 0:
		scale = sx
	case v.DisplayHeight > 0:
		scale = sy
	}
	if !stretch && scale > 1 {
		scale = 1
	}
	return layout{
		intrinsic: image.Pt(width, height),
		display: image.Pt(
			int(math.Round(float64(width)*scale)),
			int(math.Round(float64(height)*scale)),
		),
		scale: scale,
	}
}
