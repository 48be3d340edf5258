package lut

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/ironsheep/page-tiler/internal/reactive"
)

// CorrectionType selects which authoring model is active for a book.
type CorrectionType string

const (
	CorrectionNone   CorrectionType = "none"
	CorrectionCurves CorrectionType = "curves"
	CorrectionLevels CorrectionType = "levels"
)

// BookCorrection is the color correction configuration of one book. Both
// documents are kept so switching Type back and forth loses nothing.
type BookCorrection struct {
	Type   CorrectionType `json:"type"`
	Curves Curves         `json:"curves"`
	Levels LevelsConfig   `json:"levels"`
}

// Resolve returns the table of the active model.
func (c BookCorrection) Resolve() Table {
	switch c.Type {
	case CorrectionCurves:
		return CurvesTable(c.Curves)
	case CorrectionLevels:
		return LevelsTable(c.Levels)
	default:
		return Table{}
	}
}

// Repository is the reactive source of per-book correction settings.
type Repository interface {
	// Get returns the configuration of bookID, or false if none is set.
	Get(bookID string) (BookCorrection, bool)
	// Watch calls fn with the new configuration whenever bookID changes.
	Watch(bookID string, fn func(BookCorrection)) (cancel func())
}

// MemoryRepository is an in-memory Repository. It is safe for concurrent
// use.
type MemoryRepository struct {
	mu    sync.Mutex
	books map[string]*reactive.Value[BookCorrection]
	set   map[string]bool
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		books: make(map[string]*reactive.Value[BookCorrection]),
		set:   make(map[string]bool),
	}
}

// LoadRepository reads a JSON object mapping book ids to BookCorrection.
func LoadRepository(r io.Reader) (*MemoryRepository, error) {
	var books map[string]BookCorrection
	if err := json.NewDecoder(r).Decode(&books); err != nil {
		return nil, fmt.Errorf("failed to parse color corrections: %w", err)
	}
	repo := NewMemoryRepository()
	for id, c := range books {
		if c.Type == "" {
			c.Type = CorrectionNone
		}
		switch c.Type {
		case CorrectionNone, CorrectionCurves, CorrectionLevels:
		default:
			return nil, fmt.Errorf("book %s: unknown correction type %q", id, c.Type)
		}
		repo.Set(id, c)
	}
	return repo, nil
}

func (r *MemoryRepository) entry(bookID string) *reactive.Value[BookCorrection] {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.books[bookID]
	if !ok {
		v = reactive.NewValue(BookCorrection{Type: CorrectionNone})
		r.books[bookID] = v
	}
	return v
}

func (r *MemoryRepository) Get(bookID string) (BookCorrection, bool) {
	v := r.entry(bookID)
	r.mu.Lock()
	ok := r.set[bookID]
	r.mu.Unlock()
	return v.Get(), ok
}

func (r *MemoryRepository) Watch(bookID string, fn func(BookCorrection)) func() {
	return r.entry(bookID).Subscribe(fn)
}

// Set replaces the whole configuration of bookID.
func (r *MemoryRepository) Set(bookID string, c BookCorrection) {
	r.update(bookID, func(BookCorrection) BookCorrection { return c })
}

// SetType switches the active model of bookID.
func (r *MemoryRepository) SetType(bookID string, t CorrectionType) {
	r.update(bookID, func(c BookCorrection) BookCorrection {
		c.Type = t
		return c
	})
}

// SetCurves replaces the curves document of bookID.
func (r *MemoryRepository) SetCurves(bookID string, curves Curves) {
	r.update(bookID, func(c BookCorrection) BookCorrection {
		c.Curves = curves
		return c
	})
}

// SetLevels replaces the levels document of bookID.
func (r *MemoryRepository) SetLevels(bookID string, levels LevelsConfig) {
	r.update(bookID, func(c BookCorrection) BookCorrection {
		c.Levels = levels
		return c
	})
}

func (r *MemoryRepository) update(bookID string, fn func(BookCorrection) BookCorrection) {
	v := r.entry(bookID)
	r.mu.Lock()
	r.set[bookID] = true
	r.mu.Unlock()
	v.Update(fn)
}
