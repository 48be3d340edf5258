package lut

import (
	"testing"
)

func TestCurvesTable_Diagonal(t *testing.T) {
	tests := []struct {
		name   string
		points []Point
	}{
		{"empty", nil},
		{"single point", []Point{{X: 10, Y: 200}}},
		{"endpoints", []Point{{0, 0}, {255, 255}}},
		{"on diagonal", []Point{{0, 0}, {64, 64}, {200, 200}, {255, 255}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := CurvesTable(Curves{Value: tt.points, Red: tt.points})
			if !table.IsIdentity() {
				t.Errorf("diagonal curve should resolve to identity, got %+v", table)
			}
		})
	}
}

func TestCurvesTable_MidtoneRaise(t *testing.T) {
	table := CurvesTable(Curves{Value: []Point{{0, 0}, {128, 192}, {255, 255}}})

	if table.Value == nil {
		t.Fatal("expected a value table")
	}
	if table.RGBA != nil {
		t.Error("no color channel set, RGBA table should be nil")
	}
	if got := table.Value[128]; got != 192 {
		t.Errorf("value[128]: got %d, want 192", got)
	}
	if table.Value[0] != 0 || table.Value[255] != 255 {
		t.Errorf("endpoints: got %d and %d", table.Value[0], table.Value[255])
	}
	for i := 1; i < 256; i++ {
		if table.Value[i] < table.Value[i-1] {
			t.Fatalf("curve not monotone at %d: %d < %d", i, table.Value[i], table.Value[i-1])
		}
	}
}

func TestCurvesTable_FlatOutsidePoints(t *testing.T) {
	table := CurvesTable(Curves{Value: []Point{{50, 20}, {200, 240}}})

	if table.Value[0] != 20 || table.Value[50] != 20 {
		t.Errorf("below first point: got %d/%d, want 20", table.Value[0], table.Value[50])
	}
	if table.Value[255] != 240 || table.Value[200] != 240 {
		t.Errorf("above last point: got %d/%d, want 240", table.Value[255], table.Value[200])
	}
}

func TestCurvesTable_UnsortedAndDuplicatePoints(t *testing.T) {
	a := CurvesTable(Curves{Value: []Point{{255, 255}, {128, 100}, {0, 0}, {128, 160}}})
	b := CurvesTable(Curves{Value: []Point{{0, 0}, {128, 160}, {255, 255}}})

	for i := range a.Value {
		if a.Value[i] != b.Value[i] {
			t.Fatalf("entry %d: got %d, want %d", i, a.Value[i], b.Value[i])
		}
	}
}

func TestCurvesTable_RGBAInterleave(t *testing.T) {
	table := CurvesTable(Curves{Red: []Point{{0, 255}, {255, 0}}})

	if table.Value != nil {
		t.Error("value table should be nil")
	}
	if len(table.RGBA) != 1024 {
		t.Fatalf("RGBA table: got %d bytes, want 1024", len(table.RGBA))
	}
	for _, i := range []int{0, 100, 255} {
		r, g, b, a := table.RGBA[i*4], table.RGBA[i*4+1], table.RGBA[i*4+2], table.RGBA[i*4+3]
		if int(r) != 255-i {
			t.Errorf("red[%d]: got %d, want %d", i, r, 255-i)
		}
		if int(g) != i || int(b) != i || int(a) != i {
			t.Errorf("entry %d: unset channels should be identity, got g=%d b=%d a=%d", i, g, b, a)
		}
	}
}

func TestLevelsTable(t *testing.T) {
	id := IdentityLevels()
	if table := LevelsTable(LevelsConfig{Value: &id, Red: &id}); !table.IsIdentity() {
		t.Error("identity levels should resolve to identity")
	}
	if table := LevelsTable(LevelsConfig{}); !table.IsIdentity() {
		t.Error("unset levels should resolve to identity")
	}

	black := Levels{LowInput: 20, HighInput: 235, LowOutput: 0, HighOutput: 255, Gamma: 1}
	table := LevelsTable(LevelsConfig{Value: &black})
	if table.Value == nil {
		t.Fatal("expected a value table")
	}
	if table.Value[10] != 0 || table.Value[20] != 0 {
		t.Errorf("below low input: got %d/%d, want 0", table.Value[10], table.Value[20])
	}
	if table.Value[235] != 255 || table.Value[250] != 255 {
		t.Errorf("above high input: got %d/%d, want 255", table.Value[235], table.Value[250])
	}
}

func TestLevelsTable_Gamma(t *testing.T) {
	bright := Levels{LowInput: 0, HighInput: 255, LowOutput: 0, HighOutput: 255, Gamma: 2}
	table := LevelsTable(LevelsConfig{Blue: &bright})

	// 128/255 ^ (1/2) * 255 = 180.6
	if got := table.RGBA[128*4+2]; got != 181 {
		t.Errorf("blue[128]: got %d, want 181", got)
	}
	if got := table.RGBA[128*4]; got != 128 {
		t.Errorf("red[128] should be identity, got %d", got)
	}
}

func TestLevelsTable_InvalidGamma(t *testing.T) {
	l := Levels{LowInput: 0, HighInput: 255, LowOutput: 0, HighOutput: 255, Gamma: 0}
	if table := LevelsTable(LevelsConfig{Value: &l}); !table.IsIdentity() {
		t.Error("gamma 0 should behave as 1.0 and resolve to identity")
	}
}

func TestBookCorrection_Resolve(t *testing.T) {
	c := BookCorrection{
		Type:   CorrectionNone,
		Curves: Curves{Value: []Point{{0, 0}, {128, 192}, {255, 255}}},
	}
	if !c.Resolve().IsIdentity() {
		t.Error("type none should resolve to identity")
	}
	c.Type = CorrectionCurves
	if c.Resolve().IsIdentity() {
		t.Error("type curves should resolve the curves document")
	}
	c.Type = CorrectionLevels
	if !c.Resolve().IsIdentity() {
		t.Error("type levels with empty document should resolve to identity")
	}
}
