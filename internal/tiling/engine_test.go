package tiling

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/ironsheep/page-tiler/internal/config"
	"github.com/ironsheep/page-tiler/internal/imaging"
	"github.com/ironsheep/page-tiler/internal/imaging/imagingtest"
	"github.com/ironsheep/page-tiler/internal/pipeline"
)

var testPage = pipeline.PageID{BookID: "book", Page: 1}

func encodePage(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode page: %v", err)
	}
	return buf.Bytes()
}

func createGrayPage(width, height int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// createBorderedPage returns a white page with a dark block inset by
// border pixels.
func createBorderedPage(width, height, border int) *image.Gray {
	img := createGrayPage(width, height, 255)
	for y := border; y < height-border; y++ {
		for x := border; x < width-border; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(20 + (x+y)%40)})
		}
	}
	return img
}

func testOptions() Options {
	return Options{
		TileSize:      100,
		MaxConcurrent: 2,
		Logger:        log.New(io.Discard, "", 0),
	}
}

type testEngine struct {
	*Engine
	rec      *imagingtest.Recorder
	settings *config.Settings
}

func newTestEngine(t *testing.T, page image.Image, p *pipeline.Pipeline, settings *config.Settings, opts Options) *testEngine {
	t.Helper()
	if settings == nil {
		settings = config.NewSettings()
	}
	rec := imagingtest.NewRecorder()
	e := NewEngine(testPage, encodePage(t, page), rec.Decoder(imaging.LocalDecoder{}), p, settings, opts)
	t.Cleanup(func() {
		e.Close()
		e.Wait()
	})
	return &testEngine{Engine: e, rec: rec, settings: settings}
}

// tileImages returns the tile images cut from rect.
func (te *testEngine) tileImages(rect image.Rectangle) []*imagingtest.Image {
	var out []*imagingtest.Image
	for _, img := range te.rec.Images() {
		if img.Origin == "ExtractArea"+imaging.RectOf(rect).String() {
			out = append(out, img)
		}
	}
	return out
}

func (te *testEngine) extracts(rect image.Rectangle) int {
	return te.rec.Extracts(imaging.RectOf(rect))
}

func TestEngine_ViewportDelta(t *testing.T) {
	te := newTestEngine(t, createGrayPage(100, 400, 128), nil, nil, testOptions())
	tiles := Grid(100, 400, 100)

	te.SetView(View{DisplayWidth: 100, DisplayHeight: 400, Visible: image.Rect(0, 0, 100, 200)})
	te.Wait()

	if te.State() != StateTiled {
		t.Fatalf("state: got %s, want tiled", te.State())
	}
	for i, want := range []int{1, 1, 0, 0} {
		if got := te.extracts(tiles[i].Source); got != want {
			t.Errorf("tile %d requested %d times, want %d", i, got, want)
		}
	}

	te.SetView(View{DisplayWidth: 100, DisplayHeight: 400, Visible: image.Rect(0, 200, 100, 400)})
	te.Wait()

	for i := 0; i < 2; i++ {
		imgs := te.tileImages(tiles[i].Source)
		if len(imgs) != 1 {
			t.Fatalf("tile %d: got %d images, want 1", i, len(imgs))
		}
		if n := imgs[0].Closes(); n != 1 {
			t.Errorf("tile %d closed %d times, want 1", i, n)
		}
	}
	for i := 2; i < 4; i++ {
		if got := te.extracts(tiles[i].Source); got != 1 {
			t.Errorf("tile %d requested %d times, want 1", i, got)
		}
		for _, img := range te.tileImages(tiles[i].Source) {
			if img.Closes() != 0 {
				t.Errorf("visible tile %d was closed", i)
			}
		}
	}

	s := te.Surface()
	for _, tv := range s.Tiles {
		landed := tv.Content != nil
		if want := tv.Index >= 2; landed != want || tv.Visible != want {
			t.Errorf("tile %d: landed=%v visible=%v, want %v", tv.Index, landed, tv.Visible, want)
		}
	}
	if n := te.rec.Count("Decode"); n != 1 {
		t.Errorf("page decoded %d times, want 1", n)
	}
}

func TestEngine_LookAheadAndRetention(t *testing.T) {
	opts := testOptions()
	opts.LookAhead = 20
	opts.Retention = 150
	te := newTestEngine(t, createGrayPage(100, 500, 128), nil, nil, opts)
	tiles := Grid(100, 500, 100)

	te.SetView(View{DisplayWidth: 100, DisplayHeight: 500, Visible: image.Rect(0, 0, 100, 100)})
	te.Wait()
	// tile 1 lies in the look-ahead margin
	for i, want := range []int{1, 1, 0, 0, 0} {
		if got := te.extracts(tiles[i].Source); got != want {
			t.Errorf("tile %d requested %d times, want %d", i, got, want)
		}
	}

	te.SetView(View{DisplayWidth: 100, DisplayHeight: 500, Visible: image.Rect(0, 300, 100, 400)})
	te.Wait()
	// tile 0 is beyond retention, tile 1 inside it
	if n := te.tileImages(tiles[0].Source)[0].Closes(); n != 1 {
		t.Errorf("tile 0 closed %d times, want 1", n)
	}
	if n := te.tileImages(tiles[1].Source)[0].Closes(); n != 0 {
		t.Errorf("retained tile 1 closed %d times, want 0", n)
	}
	if got := te.extracts(tiles[1].Source); got != 1 {
		t.Errorf("retained tile 1 requested %d times, want 1", got)
	}
}

func TestEngine_CropToggleInvalidatesAllTiles(t *testing.T) {
	settings := config.NewSettings()
	p := pipeline.New(pipeline.NewCropBordersStep(settings.CropBorders))
	opts := testOptions()
	opts.TileSize = 50
	te := newTestEngine(t, createBorderedPage(120, 120, 10), p, settings, opts)

	view := View{DisplayWidth: 120, DisplayHeight: 120, Visible: image.Rect(0, 0, 120, 120)}
	te.SetView(view)
	te.Wait()

	first := te.rec.Images()
	if n := te.rec.Count("ExtractArea"); n != 9 {
		t.Fatalf("initial tile requests: got %d, want 9", n)
	}
	if n := te.rec.Count("FindTrim"); n != 0 {
		t.Errorf("disabled crop called FindTrim %d times", n)
	}

	settings.CropBorders.Set(true)
	te.Wait()

	if n := te.rec.Count("Decode"); n != 2 {
		t.Errorf("page decoded %d times, want 2", n)
	}
	for _, img := range first {
		if n := img.Closes(); n != 1 {
			t.Errorf("%s from before the toggle closed %d times, want 1", img.Origin, n)
		}
	}

	s := te.Surface()
	if s.Intrinsic != image.Pt(100, 100) {
		t.Errorf("cropped page size: got %v, want 100x100", s.Intrinsic)
	}
	if len(s.Tiles) != 4 {
		t.Fatalf("tiles after crop: got %d, want 4", len(s.Tiles))
	}
	for _, tv := range s.Tiles {
		if tv.Content == nil {
			t.Errorf("tile %d not materialized after crop", tv.Index)
		}
	}
	if s.State != StateTiled {
		t.Errorf("state: got %s, want tiled", s.State)
	}
}

func TestEngine_TileFailureIsIsolated(t *testing.T) {
	te := newTestEngine(t, createGrayPage(200, 100, 90), nil, nil, testOptions())
	tiles := Grid(200, 100, 100)
	te.rec.FailExtract(imaging.RectOf(tiles[1].Source), errors.New("worker crashed"))

	view := View{DisplayWidth: 200, DisplayHeight: 100, Visible: image.Rect(0, 0, 200, 100)}
	te.SetView(view)
	te.Wait()

	s := te.Surface()
	if s.State != StateTiled {
		t.Errorf("state: got %s, want tiled", s.State)
	}
	if s.Tiles[0].Content == nil || s.Tiles[0].Failed {
		t.Error("tile 0 should have landed")
	}
	if !s.Tiles[1].Failed || s.Tiles[1].Content != nil {
		t.Error("tile 1 should be failed and empty")
	}
	if te.Err() != nil {
		t.Errorf("tile failure must not fail the page: %v", te.Err())
	}

	te.rec.FailExtract(imaging.RectOf(tiles[1].Source), nil)
	te.SetView(view)
	te.Wait()

	s = te.Surface()
	if s.Tiles[1].Failed || s.Tiles[1].Content == nil {
		t.Error("tile 1 should be retried on the next view change")
	}
	if got := te.extracts(tiles[0].Source); got != 1 {
		t.Errorf("landed tile 0 requested %d times, want 1", got)
	}
}

func TestEngine_DecodeFailure(t *testing.T) {
	rec := imagingtest.NewRecorder()
	e := NewEngine(testPage, []byte("not an image"), rec.Decoder(imaging.LocalDecoder{}), nil, nil, testOptions())
	defer e.Close()

	e.SetView(View{DisplayWidth: 100, Visible: image.Rect(0, 0, 100, 100)})
	e.Wait()

	if e.State() != StateFailed {
		t.Errorf("state: got %s, want failed", e.State())
	}
	var decodeErr *imaging.DecodeError
	if !errors.As(e.Err(), &decodeErr) {
		t.Errorf("expected DecodeError, got %v", e.Err())
	}
}

func TestEngine_PipelineErrorFailsPage(t *testing.T) {
	settings := config.NewSettings()
	settings.CropBorders.Set(true)
	p := pipeline.New(pipeline.NewCropBordersStep(settings.CropBorders))
	te := newTestEngine(t, createBorderedPage(50, 50, 5), p, settings, testOptions())
	te.rec.FailOn("FindTrim", errors.New("trim failed"))

	te.SetView(View{DisplayWidth: 50, Visible: image.Rect(0, 0, 50, 50)})
	te.Wait()

	if te.State() != StateFailed {
		t.Fatalf("state: got %s, want failed", te.State())
	}
	if n := te.rec.Count("ExtractArea"); n != 0 {
		t.Errorf("failed page requested %d tiles", n)
	}
	if open := te.rec.Open(); len(open) != 0 {
		t.Errorf("%d images left open after page failure", len(open))
	}
}

func TestEngine_Sampling(t *testing.T) {
	tests := []struct {
		name        string
		displayW    int
		stretch     bool
		wantResize  int
		wantShrink  int
		wantDisplay image.Point
	}{
		{"native", 200, false, 0, 0, image.Pt(200, 200)},
		{"downscale", 100, false, 4, 0, image.Pt(100, 100)},
		{"large downscale", 50, false, 4, 4, image.Pt(50, 50)},
		{"upscale", 400, true, 4, 0, image.Pt(400, 400)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := config.NewSettings()
			settings.StretchToFit.Set(tt.stretch)
			te := newTestEngine(t, createGrayPage(200, 200, 77), nil, settings, testOptions())

			te.SetView(View{DisplayWidth: tt.displayW, Visible: image.Rect(0, 0, tt.displayW, tt.displayW)})
			te.Wait()

			if n := te.rec.Count("Resize"); n != tt.wantResize {
				t.Errorf("Resize calls: got %d, want %d", n, tt.wantResize)
			}
			if n := te.rec.Count("Shrink"); n != tt.wantShrink {
				t.Errorf("Shrink calls: got %d, want %d", n, tt.wantShrink)
			}
			s := te.Surface()
			if s.Display != tt.wantDisplay {
				t.Errorf("display size: got %v, want %v", s.Display, tt.wantDisplay)
			}
			for _, tv := range s.Tiles {
				if tv.Content == nil {
					t.Fatalf("tile %d not landed", tv.Index)
				}
				if tv.Content.Bounds().Size() != tv.Display.Size() {
					t.Errorf("tile %d content %v does not match display %v", tv.Index, tv.Content.Bounds(), tv.Display)
				}
			}

			dst := image.NewRGBA(image.Rectangle{Max: s.Display})
			te.Paint(dst, false)
			for _, pt := range []image.Point{{0, 0}, {s.Display.X / 2, s.Display.Y / 2}, {s.Display.X - 1, s.Display.Y - 1}} {
				c := dst.RGBAAt(pt.X, pt.Y)
				if c.A != 255 || c.R < 76 || c.R > 78 {
					t.Errorf("painted pixel at %v: got %v, want gray 77", pt, c)
				}
			}
		})
	}
}

func TestEngine_SamplingChangeRetiles(t *testing.T) {
	settings := config.NewSettings()
	settings.StretchToFit.Set(true)
	te := newTestEngine(t, createGrayPage(200, 200, 77), nil, settings, testOptions())

	te.SetView(View{DisplayWidth: 400, Visible: image.Rect(0, 0, 400, 400)})
	te.Wait()
	first := te.rec.Images()

	settings.Upsampling.Set(imaging.UpsampleCatmullRom)
	te.Wait()

	if n := te.rec.Count("ExtractArea"); n != 8 {
		t.Errorf("tile requests: got %d, want 8", n)
	}
	if n := te.rec.Count("Decode"); n != 1 {
		t.Errorf("sampling change must not re-decode, got %d decodes", n)
	}
	for _, img := range first {
		if img.Origin == "Decode" {
			if img.Closes() != 0 {
				t.Error("processed page must survive a sampling change")
			}
			continue
		}
		if img.Closes() != 1 {
			t.Errorf("%s closed %d times, want 1", img.Origin, img.Closes())
		}
	}
}

func TestEngine_CloseReleasesEverything(t *testing.T) {
	te := newTestEngine(t, createGrayPage(300, 300, 10), nil, nil, testOptions())
	te.SetView(View{DisplayWidth: 150, Visible: image.Rect(0, 0, 150, 150)})
	te.Wait()

	te.Close()
	te.Wait()
	for _, img := range te.rec.Images() {
		if img.Closes() != 1 {
			t.Errorf("%s closed %d times, want 1", img.Origin, img.Closes())
		}
	}
	if err := te.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	te.SetView(View{DisplayWidth: 300, Visible: image.Rect(0, 0, 300, 300)})
	te.Wait()
	if n := te.rec.Count("Decode"); n != 1 {
		t.Errorf("closed engine decoded again")
	}
}

func TestEngine_Subscribe(t *testing.T) {
	te := newTestEngine(t, createGrayPage(200, 100, 10), nil, nil, testOptions())

	events := make(chan struct{}, 64)
	cancel := te.Subscribe(func() { events <- struct{}{} })
	defer cancel()

	te.SetView(View{DisplayWidth: 200, Visible: image.Rect(0, 0, 200, 100)})
	te.Wait()

	// view change, page loaded, two tiles landed
	if n := len(events); n < 4 {
		t.Errorf("notifications: got %d, want at least 4", n)
	}
}

func TestEngine_PaintDebugOverlay(t *testing.T) {
	te := newTestEngine(t, createGrayPage(200, 200, 0), nil, nil, testOptions())
	te.SetView(View{DisplayWidth: 200, Visible: image.Rect(0, 0, 200, 200)})
	te.Wait()

	plain := image.NewRGBA(image.Rect(0, 0, 200, 200))
	te.Paint(plain, false)
	debug := image.NewRGBA(image.Rect(0, 0, 200, 200))
	te.Paint(debug, true)

	if c := plain.RGBAAt(100, 50); c.R != 0 || c.G != 0 || c.B != 0 {
		t.Errorf("plain paint at tile edge: got %v, want black", c)
	}
	if c := debug.RGBAAt(100, 50); c.R == 0 && c.G == 0 && c.B == 0 {
		t.Error("debug paint should outline tile boundaries")
	}
}

func TestEngine_DebugLogging(t *testing.T) {
	var buf bytes.Buffer
	opts := testOptions()
	opts.Debug = true
	opts.Logger = log.New(&buf, "", 0)
	te := newTestEngine(t, createGrayPage(100, 100, 10), nil, nil, opts)

	te.SetView(View{DisplayWidth: 100, Visible: image.Rect(0, 0, 100, 100)})
	te.Wait()

	if !strings.Contains(buf.String(), "[book#1] loaded 100x100 GRAYSCALE_8") {
		t.Errorf("debug log missing load line:\n%s", buf.String())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateUnloaded: "unloaded",
		StateTiling:   "tiling",
		StateTiled:    "tiled",
		StateFailed:   "failed",
		State(9):      "State(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}
