// Package grating generates phase masks for a spatial light modulator used
// as a programmable grating, beam deflector or pulse shaper.
//
// Patterns are evaluated into matrices of values in [0,1], then mapped onto
// the modulator's gray range and written out as 8-bit images.
package grating

import (
	"fmt"
	"image"
	"image/png"
	"math"
	"slices"
	"strings"

	"github.com/google/renameio/v2"
	"gonum.org/v1/gonum/mat"
)

// Profile is one period of a grating. The argument is in units of 2π and
// the result lies in [0,1].
type Profile func(arg float64) float64

// Sawtooth ramps from 0 to 1 over each period.
func Sawtooth(arg float64) float64 {
	return arg - math.Floor(arg)
}

// SineWave oscillates between 0 and 1.
func SineWave(arg float64) float64 {
	return 0.5 * (1 - math.Sin(2*math.Pi*arg))
}

// Zebra switches between 0 and 1 halfway through each period.
func Zebra(arg float64) float64 {
	return math.RoundToEven(Sawtooth(arg))
}

// Profiles is the registry of grating kinds by name.
var Profiles = map[string]Profile{
	"Sawtooth":  Sawtooth,
	"Sine Wave": SineWave,
	"Zebra":     Zebra,
}

// Kinds returns the registered kind names, sorted.
func Kinds() []string {
	names := make([]string, 0, len(Profiles))
	for k := range Profiles {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// Lookup finds a profile by name, ignoring case.
func Lookup(kind string) (Profile, error) {
	if p, ok := Profiles[kind]; ok {
		return p, nil
	}
	for name, p := range Profiles {
		if strings.EqualFold(name, kind) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown grating kind %q (have %s)", kind, strings.Join(Kinds(), ", "))
}

// Grating is a periodic profile with a spacing in pixels.
type Grating struct {
	Spacing float64
	Kind    string
}

// At evaluates the grating at a pixel coordinate, shifted by phase (in
// units of 2π).
func (g Grating) At(coord, phase float64) (float64, error) {
	p, err := Lookup(g.Kind)
	if err != nil {
		return 0, err
	}
	return p(coord/g.Spacing + phase), nil
}

// Eval evaluates the grating at every element of coords, shifted by phase.
func (g Grating) Eval(coords mat.Matrix, phase float64) (*mat.Dense, error) {
	p, err := Lookup(g.Kind)
	if err != nil {
		return nil, err
	}
	if g.Spacing == 0 {
		return nil, fmt.Errorf("grating spacing must be nonzero")
	}
	var out mat.Dense
	out.Apply(func(_, _ int, v float64) float64 { return p(v/g.Spacing + phase) }, coords)
	return &out, nil
}

// Scale scales value by factor about baseline.
func Scale(value, factor, baseline float64) float64 {
	return factor*(value-baseline) + baseline
}

// MapRange maps value from [0,1] onto [bottom,top].
func MapRange(value, bottom, top float64) float64 {
	return (top-bottom)*value + bottom
}

// Pattern is anything that evaluates to a matrix of values in [0,1].
type Pattern interface {
	Array() (*mat.Dense, error)
}

// GrayRange is the span of gray levels a pattern is mapped onto.
type GrayRange struct{ Bottom, Top float64 }

// FullRange uses every 8-bit gray level.
var FullRange = GrayRange{0, 255}

// Image renders p as an 8-bit grayscale image over gray.
func Image(p Pattern, gray GrayRange) (*image.Gray, error) {
	a, err := p.Array()
	if err != nil {
		return nil, err
	}
	rows, cols := a.Dims()
	img := image.NewGray(image.Rect(0, 0, cols, rows))
	for r := range rows {
		for c := range cols {
			v := MapRange(a.At(r, c), gray.Bottom, gray.Top)
			img.Pix[r*img.Stride+c] = uint8(math.Max(0, math.Min(255, v)))
		}
	}
	return img, nil
}

// WritePNG renders p and atomically writes it to path as a PNG.
func WritePNG(path string, p Pattern, gray GrayRange) error {
	img, err := Image(p, gray)
	if err != nil {
		return err
	}
	pf, err := renameio.NewPendingFile(path)
	if err != nil {
		return err
	}
	defer pf.Cleanup()
	if err := png.Encode(pf, img); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}
