package imaging

import (
	"fmt"
	"image"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	xdraw "golang.org/x/image/draw"
)

// Kernel selects the resampling filter used by Resize.
type Kernel int

const (
	KernelNearest Kernel = iota
	KernelLinear
	KernelCubic
	KernelMitchell
	KernelLanczos2
	KernelLanczos3
)

var kernelNames = map[Kernel]string{
	KernelNearest:  "nearest",
	KernelLinear:   "linear",
	KernelCubic:    "cubic",
	KernelMitchell: "mitchell",
	KernelLanczos2: "lanczos2",
	KernelLanczos3: "lanczos3",
}

func (k Kernel) String() string {
	if name, ok := kernelNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kernel(%d)", int(k))
}

// ParseKernel accepts the names printed by Kernel.String, case-insensitively.
func ParseKernel(s string) (Kernel, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kernelNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown downsampling kernel: %q", s)
}

// UpsamplingMode is the interpolation used when a tile is scaled above 1.0.
type UpsamplingMode int

const (
	UpsampleNearest UpsamplingMode = iota
	UpsampleBilinear
	UpsampleMitchell
	UpsampleCatmullRom
)

var upsamplingNames = map[UpsamplingMode]string{
	UpsampleNearest:    "NEAREST",
	UpsampleBilinear:   "BILINEAR",
	UpsampleMitchell:   "MITCHELL",
	UpsampleCatmullRom: "CATMULL_ROM",
}

func (m UpsamplingMode) String() string {
	if name, ok := upsamplingNames[m]; ok {
		return name
	}
	return fmt.Sprintf("UpsamplingMode(%d)", int(m))
}

// ParseUpsamplingMode accepts NEAREST, BILINEAR, MITCHELL and CATMULL_ROM
// in any case, with '-' allowed in place of '_'.
func ParseUpsamplingMode(s string) (UpsamplingMode, error) {
	s = strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_")
	for m, name := range upsamplingNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown upsampling mode: %q", s)
}

// Kernel returns the resampling kernel implementing the mode.
func (m UpsamplingMode) Kernel() Kernel {
	switch m {
	case UpsampleBilinear:
		return KernelLinear
	case UpsampleMitchell:
		return KernelMitchell
	case UpsampleCatmullRom:
		return KernelCubic
	default:
		return KernelNearest
	}
}

var lanczos2 = imaging.ResampleFilter{
	Support: 2.0,
	Kernel: func(x float64) float64 {
		x = math.Abs(x)
		if x < 2.0 {
			return sinc(x) * sinc(x/2.0)
		}
		return 0
	},
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// filter maps the kernel onto a disintegration/imaging resample filter.
func (k Kernel) filter() imaging.ResampleFilter {
	switch k {
	case KernelLinear:
		return imaging.Linear
	case KernelCubic:
		return imaging.CatmullRom
	case KernelMitchell:
		return imaging.MitchellNetravali
	case KernelLanczos2:
		return lanczos2
	case KernelLanczos3:
		return imaging.Lanczos
	default:
		return imaging.NearestNeighbor
	}
}

// scaler maps the kernel onto an x/image/draw scaler for the 16-bit path.
func (k Kernel) scaler() xdraw.Scaler {
	switch k {
	case KernelNearest:
		return xdraw.NearestNeighbor
	case KernelLinear:
		return xdraw.BiLinear
	case KernelCubic:
		return xdraw.CatmullRom
	default:
		f := k.filter()
		return &xdraw.Kernel{Support: f.Support, At: f.Kernel}
	}
}

var (
	toLinear   [256]uint16
	fromLinear []uint8
	linearOnce sync.Once
)

func initLinearTables() {
	linearOnce.Do(func() {
		for v := 0; v < 256; v++ {
			l, _, _ := colorful.Color{R: float64(v) / 255}.LinearRgb()
			toLinear[v] = uint16(math.Round(clampUnit(l) * 0xffff))
		}
		fromLinear = make([]uint8, 0x10000)
		for v := range fromLinear {
			l := float64(v) / 0xffff
			s := colorful.LinearRgb(l, l, l).R
			fromLinear[v] = uint8(math.Round(clampUnit(s) * 255))
		}
	})
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// resizeLinearLight scales src to width x height after converting the
// color bands to linear light. Alpha is scaled as-is.
func resizeLinearLight(src *image.NRGBA, width, height int, k Kernel) *image.NRGBA {
	initLinearTables()

	b := src.Bounds()
	lin := image.NewNRGBA64(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		si := src.PixOffset(b.Min.X, b.Min.Y+y)
		di := lin.PixOffset(0, y)
		for x := 0; x < b.Dx(); x++ {
			for c := 0; c < 3; c++ {
				v := toLinear[src.Pix[si+c]]
				lin.Pix[di+2*c] = uint8(v >> 8)
				lin.Pix[di+2*c+1] = uint8(v)
			}
			a := src.Pix[si+3]
			lin.Pix[di+6] = a
			lin.Pix[di+7] = a
			si += 4
			di += 8
		}
	}

	scaled := image.NewRGBA64(image.Rect(0, 0, width, height))
	k.scaler().Scale(scaled, scaled.Bounds(), lin, lin.Bounds(), xdraw.Src, nil)

	dst := image.NewNRGBA(scaled.Bounds())
	for i, j := 0, 0; i < len(scaled.Pix); i, j = i+8, j+4 {
		a := uint32(scaled.Pix[i+6])<<8 | uint32(scaled.Pix[i+7])
		for c := 0; c < 3; c++ {
			v := uint32(scaled.Pix[i+2*c])<<8 | uint32(scaled.Pix[i+2*c+1])
			if a != 0 && a != 0xffff {
				v = v * 0xffff / a
			}
			if v > 0xffff {
				v = 0xffff
			}
			dst.Pix[j+c] = fromLinear[v]
		}
		dst.Pix[j+3] = uint8(a >> 8)
	}
	return dst
}
