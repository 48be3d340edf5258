package lut

import (
	"sync"

	"github.com/ironsheep/page-tiler/internal/reactive"
)

// Engine keeps the resolved Table of every book it has been asked about
// in step with the repository. Tables are published through
// reactive.Value, so readers always see the latest resolution.
type Engine struct {
	repo    Repository
	changed *reactive.Value[string]

	mu    sync.Mutex
	books map[string]*bookTable
}

type bookTable struct {
	table *reactive.Value[Table]
	stop  func()
}

// NewEngine creates an engine over repo.
func NewEngine(repo Repository) *Engine {
	return &Engine{
		repo:    repo,
		changed: reactive.NewValue(""),
		books:   make(map[string]*bookTable),
	}
}

func (e *Engine) book(bookID string) *bookTable {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.books[bookID]; ok {
		return b
	}

	b := &bookTable{table: reactive.NewValue(Table{})}
	// Watch before the initial read so no edit is missed in between.
	b.stop = e.repo.Watch(bookID, func(c BookCorrection) {
		b.table.Set(c.Resolve())
		e.changed.Set(bookID)
	})
	if c, ok := e.repo.Get(bookID); ok {
		b.table.Set(c.Resolve())
	}
	e.books[bookID] = b
	return b
}

// Table returns the latest resolved table of bookID.
func (e *Engine) Table(bookID string) Table {
	return e.book(bookID).table.Get()
}

// IsActive reports whether bookID currently resolves to a non-identity
// table. It does not depend on which page is displayed, so decode paths
// can decide early whether correction will run.
func (e *Engine) IsActive(bookID string) bool {
	return !e.Table(bookID).IsIdentity()
}

// Subscribe calls fn with every newly resolved table of bookID.
func (e *Engine) Subscribe(bookID string, fn func(Table)) (cancel func()) {
	return e.book(bookID).table.Subscribe(fn)
}

// SubscribeAll calls fn with the book id whenever the configuration of any
// tracked book changes. A book is tracked from its first lookup on.
func (e *Engine) SubscribeAll(fn func(bookID string)) (cancel func()) {
	return e.changed.Subscribe(fn)
}

// Close stops watching the repository.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, b := range e.books {
		b.stop()
		delete(e.books, id)
	}
}
