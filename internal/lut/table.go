// Package lut derives per-channel 256-entry pixel remap tables from the
// two color correction authoring models, curves and levels, and keeps the
// resolved table of every book up to date as its configuration changes.
//
// # Table layout
//
// A resolved Table carries an optional single-band Value table applied to
// every color band, and an optional RGBA table interleaved per entry
// (RGBA[i*4+c]). A nil table is the identity and is never applied.
package lut

import (
	"math"
	"sort"
)

// Point is a curve control point; both coordinates are in [0,255].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Curves holds the control points of each channel. A channel with fewer
// than two points is the identity.
type Curves struct {
	Value []Point `json:"value,omitempty"`
	Red   []Point `json:"red,omitempty"`
	Green []Point `json:"green,omitempty"`
	Blue  []Point `json:"blue,omitempty"`
}

// Levels is the classic input/output levels adjustment of one channel.
type Levels struct {
	LowInput   float64 `json:"low_input"`
	HighInput  float64 `json:"high_input"`
	LowOutput  float64 `json:"low_output"`
	HighOutput float64 `json:"high_output"`
	Gamma      float64 `json:"gamma"`
}

// IdentityLevels returns the no-op levels (0, 255, 0, 255, 1.0).
func IdentityLevels() Levels {
	return Levels{LowInput: 0, HighInput: 255, LowOutput: 0, HighOutput: 255, Gamma: 1}
}

// LevelsConfig holds per-channel levels; nil channels are the identity.
type LevelsConfig struct {
	Value *Levels `json:"value,omitempty"`
	Red   *Levels `json:"red,omitempty"`
	Green *Levels `json:"green,omitempty"`
	Blue  *Levels `json:"blue,omitempty"`
}

// Table is the canonical resolved lookup table.
type Table struct {
	Value []byte // 256 entries or nil
	RGBA  []byte // 1024 entries interleaved RGBA or nil
}

// IsIdentity reports whether applying the table would change nothing.
func (t Table) IsIdentity() bool {
	return t.Value == nil && t.RGBA == nil
}

// CurvesTable resolves curves to a Table.
func CurvesTable(c Curves) Table {
	return Table{
		Value: curveChannel(c.Value),
		RGBA:  interleave(curveChannel(c.Red), curveChannel(c.Green), curveChannel(c.Blue)),
	}
}

// LevelsTable resolves levels to a Table.
func LevelsTable(c LevelsConfig) Table {
	return Table{
		Value: levelsChannel(c.Value),
		RGBA:  interleave(levelsChannel(c.Red), levelsChannel(c.Green), levelsChannel(c.Blue)),
	}
}

// interleave builds the RGBA table, filling unset channels and alpha with
// the identity. It returns nil when every color channel is unset.
func interleave(r, g, b []byte) []byte {
	if r == nil && g == nil && b == nil {
		return nil
	}
	out := make([]byte, 1024)
	for i := 0; i < 256; i++ {
		for c, ch := range [][]byte{r, g, b, nil} {
			if ch == nil {
				out[i*4+c] = byte(i)
			} else {
				out[i*4+c] = ch[i]
			}
		}
	}
	return out
}

// identityOrTable returns nil when table maps every entry onto itself.
func identityOrTable(table []byte) []byte {
	for i, v := range table {
		if int(v) != i {
			return table
		}
	}
	return nil
}

func toByte(v float64) byte {
	return byte(math.Round(math.Max(0, math.Min(255, v))))
}

// curveChannel interpolates the control points with a monotone cubic
// Hermite spline (Fritsch-Carlson), so the curve never overshoots between
// points. Outside the first and last point the curve is flat.
func curveChannel(points []Point) []byte {
	pts := normalizePoints(points)
	n := len(pts)
	if n < 2 {
		return nil
	}

	d := make([]float64, n-1)
	for i := 0; i < n-1; i++ {
		d[i] = (pts[i+1].Y - pts[i].Y) / (pts[i+1].X - pts[i].X)
	}
	m := make([]float64, n)
	m[0], m[n-1] = d[0], d[n-2]
	for i := 1; i < n-1; i++ {
		if d[i-1]*d[i] > 0 {
			m[i] = (d[i-1] + d[i]) / 2
		}
	}
	for i := 0; i < n-1; i++ {
		if d[i] == 0 {
			m[i], m[i+1] = 0, 0
			continue
		}
		a, b := m[i]/d[i], m[i+1]/d[i]
		if s := a*a + b*b; s > 9 {
			t := 3 / math.Sqrt(s)
			m[i] = t * a * d[i]
			m[i+1] = t * b * d[i]
		}
	}

	table := make([]byte, 256)
	seg := 0
	for x := 0; x < 256; x++ {
		fx := float64(x)
		switch {
		case fx <= pts[0].X:
			table[x] = toByte(pts[0].Y)
		case fx >= pts[n-1].X:
			table[x] = toByte(pts[n-1].Y)
		default:
			for fx > pts[seg+1].X {
				seg++
			}
			p0, p1 := pts[seg], pts[seg+1]
			h := p1.X - p0.X
			t := (fx - p0.X) / h
			t2, t3 := t*t, t*t*t
			y := (2*t3-3*t2+1)*p0.Y + (t3-2*t2+t)*h*m[seg] + (-2*t3+3*t2)*p1.Y + (t3-t2)*h*m[seg+1]
			table[x] = toByte(y)
		}
	}
	return identityOrTable(table)
}

// normalizePoints clamps to [0,255], sorts by X and keeps the last point
// for duplicate X values.
func normalizePoints(points []Point) []Point {
	pts := make([]Point, 0, len(points))
	for _, p := range points {
		pts = append(pts, Point{
			X: math.Max(0, math.Min(255, p.X)),
			Y: math.Max(0, math.Min(255, p.Y)),
		})
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].X < pts[j].X })

	out := pts[:0]
	for _, p := range pts {
		if len(out) > 0 && out[len(out)-1].X == p.X {
			out[len(out)-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// levelsChannel maps in to
// lowOut + (highOut-lowOut) * clamp((in-lowIn)/(highIn-lowIn))^(1/gamma).
// A non-positive gamma is treated as 1.
func levelsChannel(l *Levels) []byte {
	if l == nil || *l == IdentityLevels() {
		return nil
	}
	gamma := l.Gamma
	if gamma <= 0 {
		gamma = 1
	}
	span := l.HighInput - l.LowInput
	if span < 1 {
		span = 1
	}

	table := make([]byte, 256)
	for i := range table {
		v := math.Max(0, math.Min(1, (float64(i)-l.LowInput)/span))
		v = math.Pow(v, 1/gamma)
		table[i] = toByte(l.LowOutput + (l.HighOutput-l.LowOutput)*v)
	}
	return identityOrTable(table)
}
