package pipeline

import (
	"context"
	"fmt"

	"github.com/ironsheep/page-tiler/internal/imaging"
	"github.com/ironsheep/page-tiler/internal/lut"
	"github.com/ironsheep/page-tiler/internal/reactive"
)

// CropBordersStep removes uniform page margins when enabled.
type CropBordersStep struct {
	enabled *reactive.Value[bool]
}

var _ Step = (*CropBordersStep)(nil)

// NewCropBordersStep creates the step gated by enabled.
func NewCropBordersStep(enabled *reactive.Value[bool]) *CropBordersStep {
	return &CropBordersStep{enabled: enabled}
}

func (s *CropBordersStep) Process(ctx context.Context, _ PageID, img imaging.Image) (imaging.Image, error) {
	if !s.enabled.Get() {
		return nil, nil
	}
	trim, err := img.FindTrim(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find borders: %w", err)
	}
	if trim == imaging.Bounds(img) || trim.Empty() {
		return nil, nil
	}
	return img.ExtractArea(ctx, trim)
}

// Subscribe fires for every book when the flag is toggled.
func (s *CropBordersStep) Subscribe(fn func(bookID string)) func() {
	return s.enabled.Subscribe(func(bool) { fn("") })
}

// ColorCorrectionStep applies the book's resolved lookup table.
type ColorCorrectionStep struct {
	engine *lut.Engine
}

var _ Step = (*ColorCorrectionStep)(nil)

// NewColorCorrectionStep creates the step reading tables from engine.
func NewColorCorrectionStep(engine *lut.Engine) *ColorCorrectionStep {
	return &ColorCorrectionStep{engine: engine}
}

// Process maps the value table first, then the RGBA table.
func (s *ColorCorrectionStep) Process(ctx context.Context, id PageID, img imaging.Image) (imaging.Image, error) {
	table := s.engine.Table(id.BookID)
	if table.IsIdentity() {
		return nil, nil
	}

	cur := img
	for _, t := range [][]byte{table.Value, table.RGBA} {
		if t == nil {
			continue
		}
		next, err := cur.MapLookupTable(ctx, t)
		if cur != img {
			cur.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to apply color correction: %w", err)
		}
		cur = next
	}
	return cur, nil
}

func (s *ColorCorrectionStep) Subscribe(fn func(bookID string)) func() {
	return s.engine.SubscribeAll(fn)
}
