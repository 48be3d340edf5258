package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"os"

	"golang.org/x/exp/mmap"

	"github.com/ironsheep/page-tiler/internal/config"
	"github.com/ironsheep/page-tiler/internal/imaging"
	"github.com/ironsheep/page-tiler/internal/lut"
	"github.com/ironsheep/page-tiler/internal/pipeline"
	"github.com/ironsheep/page-tiler/internal/tiling"
	"github.com/ironsheep/page-tiler/internal/transport"
)

type renderFlags struct {
	input, output string
	book          string
	page          int
	corrections   string

	width, height int
	viewport      string

	upsampling   string
	downsampling string
	linear       bool
	stretch      bool
	crop         bool

	remote bool
	debug  bool
}

func parseRenderFlags(args []string) (renderFlags, error) {
	var f renderFlags
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	fs.StringVar(&f.input, "input", "", "Page image file (required)")
	fs.StringVar(&f.output, "output", "", "Output PNG file (defaults to <input>.tiled.png)")
	fs.StringVar(&f.book, "book", "local", "Book id used for color corrections and caching")
	fs.IntVar(&f.page, "page", 0, "Page number within the book")
	fs.StringVar(&f.corrections, "corrections", "", "JSON file mapping book ids to color corrections")
	fs.IntVar(&f.width, "width", 0, "Display width, 0 leaves it unconstrained")
	fs.IntVar(&f.height, "height", 0, "Display height, 0 leaves it unconstrained")
	fs.StringVar(&f.viewport, "viewport", "", "Visible display rect as x0,y0,x1,y1 (defaults to the whole page)")
	fs.StringVar(&f.upsampling, "upsampling", "bilinear", "Upsampling mode: nearest, bilinear, mitchell, catmull-rom")
	fs.StringVar(&f.downsampling, "downsampling", "lanczos3", "Downsampling kernel: nearest, linear, cubic, mitchell, lanczos2, lanczos3")
	fs.BoolVar(&f.linear, "linear", false, "Downsample in linear light")
	fs.BoolVar(&f.stretch, "stretch", false, "Enlarge pages smaller than the display")
	fs.BoolVar(&f.crop, "crop", false, "Crop uniform page borders")
	fs.BoolVar(&f.remote, "remote", false, "Decode in a worker subprocess")
	fs.BoolVar(&f.debug, "debug", false, "Draw tile boundaries and indices")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.input == "" {
		return f, fmt.Errorf("-input is required")
	}
	if f.output == "" {
		f.output = f.input + ".tiled.png"
	}
	return f, nil
}

// parseViewport reads "x0,y0,x1,y1". An empty string covers any page.
func parseViewport(s string) (image.Rectangle, error) {
	if s == "" {
		return image.Rect(0, 0, 1<<30, 1<<30), nil
	}
	var r image.Rectangle
	if _, err := fmt.Sscanf(s, "%d,%d,%d,%d", &r.Min.X, &r.Min.Y, &r.Max.X, &r.Max.Y); err != nil {
		return r, fmt.Errorf("invalid viewport %q: %w", s, err)
	}
	if r.Empty() {
		return r, fmt.Errorf("invalid viewport %q: empty", s)
	}
	return r, nil
}

// readPage copies the page file out of a read-only mapping. The engine
// takes ownership of the returned bytes.
func readPage(path string) ([]byte, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}
	defer r.Close()

	data := make([]byte, r.Len())
	if _, err := r.ReadAt(data, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

func loadCorrections(path string) (lut.Repository, error) {
	if path == "" {
		return lut.NewMemoryRepository(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corrections: %w", err)
	}
	defer f.Close()
	return lut.LoadRepository(f)
}

func applySettings(s *config.Settings, f renderFlags) error {
	up, err := imaging.ParseUpsamplingMode(f.upsampling)
	if err != nil {
		return err
	}
	down, err := imaging.ParseKernel(f.downsampling)
	if err != nil {
		return err
	}
	s.Upsampling.Set(up)
	s.Downsampling.Set(down)
	s.LinearLight.Set(f.linear)
	s.StretchToFit.Set(f.stretch)
	s.CropBorders.Set(f.crop)
	return nil
}

func runRender(ctx context.Context, cfg config.Config, args []string) error {
	f, err := parseRenderFlags(args)
	if err != nil {
		return err
	}
	visible, err := parseViewport(f.viewport)
	if err != nil {
		return err
	}
	settings := config.NewSettings()
	if err := applySettings(settings, f); err != nil {
		return err
	}

	data, err := readPage(f.input)
	if err != nil {
		return err
	}
	repo, err := loadCorrections(f.corrections)
	if err != nil {
		return err
	}
	corrections := lut.NewEngine(repo)
	defer corrections.Close()

	p := pipeline.New(
		pipeline.NewCropBordersStep(settings.CropBorders),
		pipeline.NewColorCorrectionStep(corrections),
	)

	var decoder imaging.Decoder = imaging.LocalDecoder{}
	if f.remote {
		w, err := startWorker(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				log.Printf("Failed to stop worker: %v", err)
			}
		}()
		decoder = transport.NewRemoteDecoder(w.client)
	}

	cache, err := tiling.NewPageCache(cfg.PageCache)
	if err != nil {
		return err
	}
	defer cache.Purge()
	defer cache.Watch(p)()

	opts := tiling.OptionsFrom(cfg)
	opts.Cache = cache
	opts.Logger = log.Default()

	id := pipeline.PageID{BookID: f.book, Page: f.page}
	engine := tiling.NewEngine(id, data, decoder, p, settings, opts)
	defer engine.Close()

	engine.SetView(tiling.View{DisplayWidth: f.width, DisplayHeight: f.height, Visible: visible})
	engine.Wait()
	if engine.State() == tiling.StateFailed {
		return engine.Err()
	}

	surface := engine.Surface()
	failed := 0
	for _, t := range surface.Tiles {
		if t.Failed {
			failed++
		}
	}
	if failed > 0 {
		log.Printf("Failed to render %d of %d tiles of page %s", failed, len(surface.Tiles), id)
	}

	dst := image.NewRGBA(image.Rect(0, 0, surface.Display.X, surface.Display.Y))
	engine.Paint(dst, f.debug)

	out, err := os.Create(f.output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer out.Close()
	if err := png.Encode(out, dst); err != nil {
		return fmt.Errorf("failed to encode PNG: %w", err)
	}

	fmt.Printf("Rendered %s to %s\n", f.input, f.output)
	fmt.Printf("Page size: %dx%d, display %dx%d (scale %.3f), %d tiles\n",
		surface.Intrinsic.X, surface.Intrinsic.Y, surface.Display.X, surface.Display.Y,
		surface.Scale, len(surface.Tiles))
	return nil
}
