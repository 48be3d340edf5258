package imaging

import (
	"image"
	"sort"
)

// TrimThreshold is the largest per-channel difference from the background
// that still counts as margin. It absorbs scanner noise and JPEG ringing
// around otherwise flat page borders.
const TrimThreshold = 10

// pixelBuffer is the common view over *image.Gray and *image.NRGBA.
type pixelBuffer struct {
	pix           []byte
	stride, bands int
	width, height int
}

func bufferOf(img image.Image) pixelBuffer {
	b := img.Bounds()
	switch src := img.(type) {
	case *image.Gray:
		return pixelBuffer{pix: src.Pix, stride: src.Stride, bands: 1, width: b.Dx(), height: b.Dy()}
	case *image.NRGBA:
		return pixelBuffer{pix: src.Pix, stride: src.Stride, bands: 4, width: b.Dx(), height: b.Dy()}
	default:
		n := NewHandle(img).img.(*image.NRGBA)
		return pixelBuffer{pix: n.Pix, stride: n.Stride, bands: 4, width: b.Dx(), height: b.Dy()}
	}
}

func (p pixelBuffer) at(x, y int) []byte {
	i := y*p.stride + x*p.bands
	return p.pix[i : i+p.bands]
}

// background estimates the margin color as the per-channel median of the
// four corner pixels, so a single dirty corner does not win.
func (p pixelBuffer) background() []int {
	corners := [][]byte{
		p.at(0, 0),
		p.at(p.width-1, 0),
		p.at(0, p.height-1),
		p.at(p.width-1, p.height-1),
	}
	bg := make([]int, p.bands)
	for c := 0; c < p.bands; c++ {
		vals := []int{int(corners[0][c]), int(corners[1][c]), int(corners[2][c]), int(corners[3][c])}
		sort.Ints(vals)
		bg[c] = (vals[1] + vals[2] + 1) / 2
	}
	return bg
}

func (p pixelBuffer) differs(x, y int, bg []int, threshold int) bool {
	px := p.at(x, y)
	for c, v := range px {
		d := int(v) - bg[c]
		if d > threshold || d < -threshold {
			return true
		}
	}
	return false
}

// findTrim scans inward from each edge for the first row or column holding
// a pixel that differs from the background by more than threshold. An
// image without such pixels trims to its full bounds.
func findTrim(img image.Image, threshold int) Rect {
	p := bufferOf(img)
	full := Rect{Right: p.width, Bottom: p.height}
	if p.width == 0 || p.height == 0 {
		return full
	}
	bg := p.background()

	rowHas := func(y int) bool {
		for x := 0; x < p.width; x++ {
			if p.differs(x, y, bg, threshold) {
				return true
			}
		}
		return false
	}

	top := 0
	for top < p.height && !rowHas(top) {
		top++
	}
	if top == p.height {
		return full
	}
	bottom := p.height
	for bottom > top && !rowHas(bottom-1) {
		bottom--
	}

	colHas := func(x int) bool {
		for y := top; y < bottom; y++ {
			if p.differs(x, y, bg, threshold) {
				return true
			}
		}
		return false
	}
	left := 0
	for left < p.width && !colHas(left) {
		left++
	}
	right := p.width
	for right > left && !colHas(right-1) {
		right--
	}

	return Rect{Left: left, Top: top, Right: right, Bottom: bottom}
}
