package tiling

import (
	"image"
	"image/draw"

	"github.com/ironsheep/page-tiler/internal/imaging"
)

// TileView is the render-facing state of one tile.
type TileView struct {
	Index   int
	Source  image.Rectangle // page space
	Display image.Rectangle // display space
	Content image.Image     // nil until the tile has landed
	Visible bool
	Failed  bool
}

// Surface is a snapshot of the page ready to be painted.
type Surface struct {
	State     State
	Intrinsic image.Point // processed page size
	Display   image.Point // page size on screen
	Scale     float64
	Tiles     []TileView
}

// Surface returns the current tile list. Content rasters are immutable and
// stay valid after the tile is evicted.
func (e *Engine) Surface() Surface {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Surface{State: e.state}
	if e.base == nil {
		return s
	}
	s.Intrinsic = e.layout.intrinsic
	s.Display = e.layout.display
	s.Scale = e.layout.scale
	s.Tiles = make([]TileView, len(e.tiles))
	for i, t := range e.tiles {
		s.Tiles[i] = TileView{
			Index:   t.Index,
			Source:  t.Source,
			Display: t.display,
			Content: t.raster,
			Visible: t.display.Overlaps(e.view.Visible),
			Failed:  t.failed,
		}
	}
	return s
}

// Paint draws every landed tile into dst, which is in display space. With
// debug set, tile boundaries and indices are drawn on top.
func (e *Engine) Paint(dst *image.RGBA, debug bool) {
	s := e.Surface()
	regions := make([]image.Rectangle, 0, len(s.Tiles))
	for _, t := range s.Tiles {
		regions = append(regions, t.Display)
		if t.Content == nil {
			continue
		}
		draw.Draw(dst, t.Display, t.Content, image.Point{}, draw.Src)
	}
	if debug {
		imaging.DrawTileOverlay(dst, regions)
	}
}
