// Package tiling displays a decoded page as a grid of independently
// materialized tiles.
//
// An Engine owns one page. It decodes the page bytes, runs the processing
// pipeline once, then extracts and scales only the tiles near the
// viewport. Tiles far outside the viewport are closed to bound memory.
// Any pipeline change re-processes the page and re-tiles it; viewport
// changes only touch the tiles entering or leaving it.
package tiling

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ironsheep/page-tiler/internal/config"
	"github.com/ironsheep/page-tiler/internal/imaging"
	"github.com/ironsheep/page-tiler/internal/pipeline"
	"github.com/ironsheep/page-tiler/internal/reactive"
)

// State is the lifecycle state of a page.
type State int

const (
	StateUnloaded State = iota // no view set yet
	StateTiling                // decoding, processing or materializing tiles
	StateTiled                 // every wanted tile has landed or failed
	StateFailed                // the page could not be decoded or processed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateTiling:
		return "tiling"
	case StateTiled:
		return "tiled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures an Engine.
type Options struct {
	TileSize      int // tile edge in source pixels
	LookAhead     int // display pixels requested beyond the viewport
	Retention     int // display pixels kept beyond the viewport
	MaxConcurrent int // tile requests run at once

	// Cache shares processed pages between engines. Optional.
	Cache *PageCache

	Logger *log.Logger
	Debug  bool
}

// OptionsFrom maps the static configuration onto engine options.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		TileSize:      cfg.TileSize,
		LookAhead:     cfg.LookAhead,
		Retention:     cfg.Retention,
		MaxConcurrent: cfg.MaxConcurrent,
		Debug:         cfg.Debug,
	}
}

// sampling is the snapshot of the scaling settings a tile set is built with.
type sampling struct {
	up     imaging.Kernel
	down   imaging.Kernel
	linear bool
}

type tile struct {
	Tile
	display image.Rectangle
	key     string

	content imaging.Image
	raster  image.Image

	pending bool // a request is in flight
	wanted  bool // a landing result is installed, not discarded
	failed  bool
}

// Engine tiles a single page.
type Engine struct {
	id       pipeline.PageID
	data     []byte
	decoder  imaging.Decoder
	pipeline *pipeline.Pipeline
	settings *config.Settings
	cache    *PageCache
	opts     Options
	log      *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	work   errgroup.Group
	flight singleflight.Group
	wg     sync.WaitGroup

	changed     *reactive.Value[uint64]
	unsubscribe []func()

	mu      sync.Mutex
	state   State
	err     error
	closed  bool
	loading bool
	gen     uint64 // bumped whenever the processed image is invalidated
	view    View
	base    imaging.Image
	release func()
	layout  layout
	samp    sampling
	tiles   []*tile
	epoch   uint64 // bumped whenever a new tile set is built
	queue   []*tile
	workers int
}

// NewEngine creates an engine for the page id encoded in data. Nothing is
// decoded until the first SetView. The engine owns data.
func NewEngine(id pipeline.PageID, data []byte, decoder imaging.Decoder, p *pipeline.Pipeline, settings *config.Settings, opts Options) *Engine {
	if p == nil {
		p = pipeline.New()
	}
	if settings == nil {
		settings = config.NewSettings()
	}
	if opts.TileSize <= 0 {
		opts.TileSize = config.Default().TileSize
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Retention < opts.LookAhead {
		opts.Retention = opts.LookAhead
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		id:       id,
		data:     data,
		decoder:  decoder,
		pipeline: p,
		settings: settings,
		cache:    opts.Cache,
		opts:     opts,
		log:      opts.Logger,
		ctx:      ctx,
		cancel:   cancel,
		changed:  reactive.NewValue[uint64](0),
	}
	e.work.SetLimit(opts.MaxConcurrent)
	e.unsubscribe = []func(){
		p.Subscribe(id, e.invalidateProcessing),
		settings.SubscribeSampling(e.invalidateSampling),
	}
	return e
}

func (e *Engine) debugf(format string, args ...interface{}) {
	if e.opts.Debug {
		e.log.Printf("[%s] "+format, append([]interface{}{e.id}, args...)...)
	}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the error that failed the page, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Subscribe calls fn whenever the surface changes: a tile landed or
// failed, or the page was re-tiled.
func (e *Engine) Subscribe(fn func()) (cancel func()) {
	return e.changed.Subscribe(func(uint64) { fn() })
}

func (e *Engine) notify() {
	e.changed.Update(func(v uint64) uint64 { return v + 1 })
}

// Wait blocks until no decode or tile work is in flight.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// SetView moves the viewport or changes the display size. The first call
// starts loading the page. Tiles that failed earlier are retried if they
// are still wanted.
func (e *Engine) SetView(v View) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.view = v
	switch {
	case e.loading:
		// the load lays out with the latest view when it lands
	case e.base == nil:
		e.startLoad()
	default:
		e.relayout(true)
	}
	e.mu.Unlock()
	e.notify()
}

// Close cancels outstanding work and closes every image the engine owns.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cancel()
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.dropTiles()
	e.releaseBase()
	e.mu.Unlock()

	for _, u := range unsubscribe {
		u()
	}
	return nil
}

// spawn runs fn on its own goroutine, tracked by Wait.
func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// startLoad must be called with mu held.
func (e *Engine) startLoad() {
	e.state = StateTiling
	e.err = nil
	e.loading = true
	gen := e.gen
	e.spawn(func() { e.load(gen) })
}

func (e *Engine) load(gen uint64) {
	img, release, err := e.acquire(gen)

	e.mu.Lock()
	if e.closed || gen != e.gen {
		e.mu.Unlock()
		if release != nil {
			release()
		}
		return
	}
	e.loading = false
	if err != nil {
		e.state = StateFailed
		e.err = err
		e.mu.Unlock()
		e.log.Printf("Failed to load page %s: %v", e.id, err)
		e.notify()
		return
	}
	e.base, e.release = img, release
	e.debugf("loaded %dx%d %s", img.Width(), img.Height(), img.Format())
	e.relayout(true)
	e.mu.Unlock()
	e.notify()
}

// acquire returns the processed page, from the cache when possible.
func (e *Engine) acquire(gen uint64) (imaging.Image, func(), error) {
	if e.cache != nil {
		if img, release, ok := e.cache.Acquire(e.id); ok {
			e.debugf("processed page served from cache")
			return img, release, nil
		}
	}

	src, err := e.decoder.Decode(e.ctx, e.data, imaging.DecodeOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode page: %w", err)
	}
	processed, err := e.pipeline.Process(e.ctx, e.id, src)
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	if processed != nil {
		src.Close()
		src = processed
	}

	if e.cache == nil {
		img := src
		return img, func() { img.Close() }, nil
	}

	// Holding mu keeps an invalidation from slipping in between the
	// generation check and the insert.
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || gen != e.gen {
		img := src
		return img, func() { img.Close() }, nil
	}
	img, release := e.cache.Add(e.id, src)
	return img, release, nil
}

// releaseBase must be called with mu held.
func (e *Engine) releaseBase() {
	if e.release != nil {
		e.release()
	}
	e.base, e.release = nil, nil
}

// dropTiles closes every tile. Must be called with mu held.
func (e *Engine) dropTiles() {
	for _, t := range e.tiles {
		t.wanted = false
		if t.content != nil {
			t.content.Close()
			t.content, t.raster = nil, nil
		}
	}
	e.tiles = nil
}

func (e *Engine) currentSampling() sampling {
	return sampling{
		up:     e.settings.Upsampling.Get().Kernel(),
		down:   e.settings.Downsampling.Get(),
		linear: e.settings.LinearLight.Get(),
	}
}

// relayout recomputes scale and sampling and rebuilds the tile set when
// either changed, then schedules the delta. Must be called with mu held.
func (e *Engine) relayout(retry bool) {
	lay := computeLayout(e.base.Width(), e.base.Height(), e.view, e.settings.StretchToFit.Get())
	samp := e.currentSampling()

	if e.tiles == nil || lay != e.layout || samp != e.samp {
		e.dropTiles()
		e.layout, e.samp = lay, samp
		e.epoch++
		grid := Grid(e.base.Width(), e.base.Height(), e.opts.TileSize)
		e.tiles = make([]*tile, len(grid))
		for i, g := range grid {
			e.tiles[i] = &tile{
				Tile:    g,
				display: scaleRect(g.Source, lay.scale),
				key:     fmt.Sprintf("%d:%d@%g", e.epoch, g.Index, lay.scale),
			}
		}
		e.debugf("tiled into %d tiles at scale %.4f", len(e.tiles), lay.scale)
	}
	e.schedule(retry)
}

// schedule requests the tiles near the viewport and evicts the ones far
// from it. Must be called with mu held.
func (e *Engine) schedule(retry bool) {
	want := e.view.Visible.Inset(-e.opts.LookAhead)
	keep := e.view.Visible.Inset(-e.opts.Retention)

	for _, t := range e.tiles {
		switch {
		case t.display.Overlaps(want):
			t.wanted = true
			if t.failed && retry {
				t.failed = false
			}
			if t.content == nil && !t.pending && !t.failed {
				e.request(t)
			}
		case !t.display.Overlaps(keep):
			t.wanted = false
			t.failed = false
			if t.content != nil {
				e.debugf("evicting tile %d", t.Index)
				t.content.Close()
				t.content, t.raster = nil, nil
			}
		}
	}
	e.updateState()
}

// updateState must be called with mu held.
func (e *Engine) updateState() {
	if e.loading || e.base == nil {
		return
	}
	for _, t := range e.tiles {
		if t.wanted && t.pending {
			e.state = StateTiling
			return
		}
	}
	e.state = StateTiled
}

// request queues t for rendering and starts a worker if fewer than
// MaxConcurrent are running. Must be called with mu held.
func (e *Engine) request(t *tile) {
	t.pending = true
	e.debugf("requesting tile %d %v -> %v", t.Index, t.Source, t.display)
	e.wg.Add(1)
	e.queue = append(e.queue, t)
	if e.workers < e.opts.MaxConcurrent {
		e.workers++
		// A slot is free or held by a worker that is already returning.
		e.work.Go(e.renderLoop)
	}
}

// renderLoop renders queued tiles until the queue is empty.
func (e *Engine) renderLoop() error {
	for {
		e.mu.Lock()
		t := e.nextTile()
		if t == nil {
			e.workers--
			e.mu.Unlock()
			return nil
		}
		base, scale, samp := e.base, e.layout.scale, e.samp
		e.mu.Unlock()

		e.flight.Do(t.key, func() (interface{}, error) {
			img, raster, err := renderTile(e.ctx, base, t.Source, t.display, scale, samp)
			e.land(t, img, raster, err)
			return nil, nil
		})
		e.wg.Done()
	}
}

// nextTile pops the next queued tile that is still current and wanted.
// Skipped tiles are no longer pending. Must be called with mu held.
func (e *Engine) nextTile() *tile {
	for len(e.queue) > 0 {
		t := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		if e.current(t) {
			return t
		}
		t.pending = false
		e.wg.Done()
	}
	return nil
}

// current reports whether t belongs to the live tile set and is wanted.
// Must be called with mu held.
func (e *Engine) current(t *tile) bool {
	return !e.closed && t.Index < len(e.tiles) && e.tiles[t.Index] == t && t.wanted
}

// land installs a finished tile, or discards it when it is no longer
// needed.
func (e *Engine) land(t *tile, img imaging.Image, raster image.Image, err error) {
	e.mu.Lock()
	t.pending = false
	if !e.current(t) {
		e.mu.Unlock()
		if img != nil {
			img.Close()
		}
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			e.updateState()
			e.mu.Unlock()
			return
		}
		t.failed = true
		e.log.Printf("Failed to render tile %d of page %s: %v", t.Index, e.id, err)
	} else {
		t.content, t.raster = img, raster
	}
	e.updateState()
	e.mu.Unlock()
	e.notify()
}

// invalidateProcessing re-decodes and re-processes the page after a
// pipeline change.
func (e *Engine) invalidateProcessing() {
	e.mu.Lock()
	if e.closed || e.state == StateUnloaded {
		e.mu.Unlock()
		return
	}
	e.gen++
	e.dropTiles()
	e.releaseBase()
	if e.cache != nil {
		e.cache.Remove(e.id)
	}
	e.debugf("processing changed, reloading")
	e.startLoad()
	e.mu.Unlock()
	e.notify()
}

// invalidateSampling re-tiles the processed page after a scaling setting
// changed.
func (e *Engine) invalidateSampling() {
	e.mu.Lock()
	if e.closed || e.base == nil {
		e.mu.Unlock()
		return
	}
	e.dropTiles()
	e.relayout(false)
	e.mu.Unlock()
	e.notify()
}
