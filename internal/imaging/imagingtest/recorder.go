// Package imagingtest provides a call-recording imaging.Image double for
// tests of code built on top of the imaging contract.
package imagingtest

import (
	"context"
	"sync"

	"github.com/ironsheep/page-tiler/internal/imaging"
)

// Call is one recorded operation.
type Call struct {
	Op   string
	Rect imaging.Rect // ExtractArea only
}

// Recorder wraps images and decoders and records every operation made on
// them and on every image derived from them.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	images []*Image
	fail   map[string]error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[string]error)}
}

// FailOn makes every later call of op return err. A nil err clears it.
func (r *Recorder) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, op)
		return
	}
	r.fail[op] = err
}

// FailExtract makes ExtractArea of rect return err. A nil err clears it.
func (r *Recorder) FailExtract(rect imaging.Rect, err error) {
	r.FailOn("ExtractArea"+rect.String(), err)
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if err := r.fail[c.Op]; err != nil {
		return err
	}
	if c.Op == "ExtractArea" {
		return r.fail[c.Op+c.Rect.String()]
	}
	return nil
}

// Count returns how many times op was called.
func (r *Recorder) Count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Extracts returns how many times ExtractArea was called with rect.
func (r *Recorder) Extracts(rect imaging.Rect) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == "ExtractArea" && c.Rect == rect {
			n++
		}
	}
	return n
}

// Images returns every image handed out so far, in creation order.
func (r *Recorder) Images() []*Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Image(nil), r.images...)
}

// Open returns the images that have not been closed.
func (r *Recorder) Open() []*Image {
	var open []*Image
	for _, img := range r.Images() {
		if img.Closes() == 0 {
			open = append(open, img)
		}
	}
	return open
}

// Reset forgets the recorded calls but keeps tracking images.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Wrap starts recording img. Origin describes where it came from.
func (r *Recorder) Wrap(img imaging.Image, origin string) *Image {
	w := &Image{Image: img, rec: r, Origin: origin}
	r.mu.Lock()
	r.images = append(r.images, w)
	r.mu.Unlock()
	return w
}

// Decoder wraps d so decoded images are recorded.
func (r *Recorder) Decoder(d imaging.Decoder) imaging.Decoder {
	return &decoder{Decoder: d, rec: r}
}

type decoder struct {
	imaging.Decoder
	rec *Recorder
}

func (d *decoder) Decode(ctx context.Context, data []byte, opts imaging.DecodeOptions) (imaging.Image, error) {
	if err := d.rec.record(Call{Op: "Decode"}); err != nil {
		return nil, err
	}
	img, err := d.Decoder.Decode(ctx, data, opts)
	if err != nil {
		return nil, err
	}
	return d.rec.Wrap(img, "Decode"), nil
}

// Image is a recorded imaging.Image.
type Image struct {
	imaging.Image
	rec    *Recorder
	Origin string

	mu     sync.Mutex
	closes int
}

// Closes returns how many times Close was called on this image.
func (i *Image) Closes() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closes
}

func (i *Image) derive(op string, img imaging.Image, err error) (imaging.Image, error) {
	if err != nil {
		return nil, err
	}
	return i.rec.Wrap(img, op), nil
}

func (i *Image) ExtractArea(ctx context.Context, rect imaging.Rect) (imaging.Image, error) {
	if err := i.rec.record(Call{Op: "ExtractArea", Rect: rect}); err != nil {
		return nil, err
	}
	img, err := i.Image.ExtractArea(ctx, rect)
	return i.derive("ExtractArea"+rect.String(), img, err)
}

func (i *Image) Resize(ctx context.Context, width, height int, opts imaging.ResizeOptions) (imaging.Image, error) {
	if err := i.rec.record(Call{Op: "Resize"}); err != nil {
		return nil, err
	}
	img, err := i.Image.Resize(ctx, width, height, opts)
	return i.derive("Resize", img, err)
}

func (i *Image) Shrink(ctx context.Context, factor float64) (imaging.Image, error) {
	if err := i.rec.record(Call{Op: "Shrink"}); err != nil {
		return nil, err
	}
	img, err := i.Image.Shrink(ctx, factor)
	return i.derive("Shrink", img, err)
}

func (i *Image) FindTrim(ctx context.Context) (imaging.Rect, error) {
	if err := i.rec.record(Call{Op: "FindTrim"}); err != nil {
		return imaging.Rect{}, err
	}
	return i.Image.FindTrim(ctx)
}

func (i *Image) MakeHistogram(ctx context.Context) (imaging.Image, error) {
	if err := i.rec.record(Call{Op: "MakeHistogram"}); err != nil {
		return nil, err
	}
	img, err := i.Image.MakeHistogram(ctx)
	return i.derive("MakeHistogram", img, err)
}

func (i *Image) MapLookupTable(ctx context.Context, table []byte) (imaging.Image, error) {
	if err := i.rec.record(Call{Op: "MapLookupTable"}); err != nil {
		return nil, err
	}
	img, err := i.Image.MapLookupTable(ctx, table)
	return i.derive("MapLookupTable", img, err)
}

func (i *Image) Bytes(ctx context.Context) ([]byte, error) {
	if err := i.rec.record(Call{Op: "Bytes"}); err != nil {
		return nil, err
	}
	return i.Image.Bytes(ctx)
}

func (i *Image) Close() error {
	i.mu.Lock()
	i.closes++
	i.mu.Unlock()
	i.rec.record(Call{Op: "Close"})
	return i.Image.Close()
}
