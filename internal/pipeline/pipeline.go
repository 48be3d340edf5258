// Package pipeline runs the ordered processing steps applied to a decoded
// page before it is tiled, and tells consumers when a step's backing
// configuration changes.
package pipeline

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ironsheep/page-tiler/internal/imaging"
)

// PageID identifies a displayed page.
type PageID struct {
	BookID string `json:"book_id"`
	Page   int    `json:"page"`
}

func (p PageID) String() string {
	return p.BookID + "#" + strconv.Itoa(p.Page)
}

// Step is one conditional image transform.
type Step interface {
	// Process returns a new image, or nil when the step does not apply.
	// It never closes or mutates img.
	Process(ctx context.Context, id PageID, img imaging.Image) (imaging.Image, error)

	// Subscribe calls fn whenever the step's configuration changes. An
	// empty bookID means every book is affected.
	Subscribe(fn func(bookID string)) (cancel func())
}

// Pipeline is an ordered list of steps.
type Pipeline struct {
	steps []Step
}

// New creates a pipeline running steps in order.
func New(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Process feeds img through every step. It returns nil when no step
// applied. Superseded intermediates are closed; img itself is never
// closed. Any step error fails the whole page.
func (p *Pipeline) Process(ctx context.Context, id PageID, img imaging.Image) (imaging.Image, error) {
	cur := img
	for i, step := range p.steps {
		next, err := step.Process(ctx, id, cur)
		if err != nil {
			if cur != img {
				cur.Close()
			}
			return nil, fmt.Errorf("processing step %d failed for page %s: %w", i, id, err)
		}
		if next == nil {
			continue
		}
		if cur != img {
			cur.Close()
		}
		cur = next
	}
	if cur == img {
		return nil, nil
	}
	return cur, nil
}

// Subscribe calls fn whenever a change in any step affects page id.
func (p *Pipeline) Subscribe(id PageID, fn func()) (cancel func()) {
	return p.SubscribeAll(func(bookID string) {
		if bookID == "" || bookID == id.BookID {
			fn()
		}
	})
}

// SubscribeAll calls fn with the affected book id, or "" for every book,
// whenever any step changes.
func (p *Pipeline) SubscribeAll(fn func(bookID string)) (cancel func()) {
	cancels := make([]func(), 0, len(p.steps))
	for _, step := range p.steps {
		cancels = append(cancels, step.Subscribe(fn))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}
