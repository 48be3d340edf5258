package lut

import (
	"strings"
	"testing"
)

var midtoneCurve = Curves{Value: []Point{{0, 0}, {128, 192}, {255, 255}}}

func TestEngine_Reactive(t *testing.T) {
	repo := NewMemoryRepository()
	engine := NewEngine(repo)
	defer engine.Close()

	if engine.IsActive("book-1") {
		t.Fatal("unconfigured book should be inactive")
	}

	var tables []Table
	engine.Subscribe("book-1", func(tb Table) { tables = append(tables, tb) })

	repo.SetCurves("book-1", midtoneCurve)
	if engine.IsActive("book-1") {
		t.Error("curves stored but type none: should stay inactive")
	}

	repo.SetType("book-1", CorrectionCurves)
	if !engine.IsActive("book-1") {
		t.Fatal("curves type selected: should be active")
	}
	if got := engine.Table("book-1").Value[128]; got != 192 {
		t.Errorf("value[128]: got %d, want 192", got)
	}

	repo.SetType("book-1", CorrectionLevels)
	if engine.IsActive("book-1") {
		t.Error("levels type with identity document should be inactive")
	}

	if len(tables) != 3 {
		t.Errorf("notifications: got %d, want 3", len(tables))
	}
}

func TestEngine_BooksAreIndependent(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Set("a", BookCorrection{Type: CorrectionCurves, Curves: midtoneCurve})
	engine := NewEngine(repo)
	defer engine.Close()

	if !engine.IsActive("a") {
		t.Error("book a should be active")
	}
	if engine.IsActive("b") {
		t.Error("book b should be inactive")
	}
}

func TestEngine_SubscribeAll(t *testing.T) {
	repo := NewMemoryRepository()
	engine := NewEngine(repo)
	defer engine.Close()

	engine.Table("a")
	engine.Table("b")

	var changed []string
	engine.SubscribeAll(func(id string) { changed = append(changed, id) })

	repo.SetType("b", CorrectionCurves)
	repo.SetType("a", CorrectionLevels)

	if len(changed) != 2 || changed[0] != "b" || changed[1] != "a" {
		t.Errorf("changed books: got %v, want [b a]", changed)
	}
}

func TestEngine_CloseStopsWatching(t *testing.T) {
	repo := NewMemoryRepository()
	engine := NewEngine(repo)

	calls := 0
	engine.Subscribe("a", func(Table) { calls++ })
	engine.Close()
	repo.SetType("a", CorrectionCurves)

	if calls != 0 {
		t.Errorf("subscriber called %d times after Close", calls)
	}
}

func TestLoadRepository(t *testing.T) {
	doc := `{
		"book-1": {"type": "curves", "curves": {"value": [{"x":0,"y":0},{"x":128,"y":192},{"x":255,"y":255}]}},
		"book-2": {"type": "levels", "levels": {"red": {"low_input":0,"high_input":255,"low_output":0,"high_output":200,"gamma":1}}},
		"book-3": {}
	}`
	repo, err := LoadRepository(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadRepository failed: %v", err)
	}

	c, ok := repo.Get("book-1")
	if !ok || c.Resolve().Value[128] != 192 {
		t.Errorf("book-1: got %+v, %v", c, ok)
	}
	c, _ = repo.Get("book-2")
	if tb := c.Resolve(); tb.RGBA == nil || tb.RGBA[255*4] != 200 {
		t.Errorf("book-2: red[255] should be 200")
	}
	c, ok = repo.Get("book-3")
	if !ok || c.Type != CorrectionNone {
		t.Errorf("book-3: got type %q, %v", c.Type, ok)
	}
	if _, ok := repo.Get("missing"); ok {
		t.Error("missing book should report not set")
	}
}

func TestLoadRepository_Invalid(t *testing.T) {
	for _, doc := range []string{`not json`, `{"b": {"type": "sepia"}}`} {
		if _, err := LoadRepository(strings.NewReader(doc)); err == nil {
			t.Errorf("LoadRepository(%q) should fail", doc)
		}
	}
}
