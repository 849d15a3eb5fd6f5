package grating

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Deflector is a grating rotated to deflect the beam in a chosen
// direction.
type Deflector struct {
	Height, Width int // pixels

	Kind    string
	Spacing float64
	Deg     float64 // orientation; 0 deflects vertically
	Phase   float64

	// Brightness controls.
	ScaleFactor float64
	Baseline    float64
}

// NewDeflector returns a vertical sawtooth deflector for the full SLM.
func NewDeflector() *Deflector {
	return &Deflector{
		Height:      1000,
		Width:       1900,
		Kind:        "Sawtooth",
		Spacing:     30,
		ScaleFactor: 1,
	}
}

// Th returns the orientation in radians.
func (d *Deflector) Th() float64 { return d.Deg * math.Pi / 180 }

// SetTh sets the orientation in radians.
func (d *Deflector) SetTh(th float64) { d.Deg = th * 180 / math.Pi }

// Grid returns each pixel's coordinate along the grating axis.
func (d *Deflector) Grid() *mat.Dense {
	sin, cos := math.Sincos(d.Th())
	g := mat.NewDense(d.Height, d.Width, nil)
	g.Apply(func(y, x int, _ float64) float64 {
		return float64(x)*sin + float64(y)*cos
	}, g)
	return g
}

// Array implements Pattern.
func (d *Deflector) Array() (*mat.Dense, error) {
	if d.Height <= 0 || d.Width <= 0 {
		return nil, fmt.Errorf("deflector size %dx%d", d.Width, d.Height)
	}
	a, err := Grating{Spacing: d.Spacing, Kind: d.Kind}.Eval(d.Grid(), d.Phase)
	if err != nil {
		return nil, err
	}
	a.Apply(func(_, _ int, v float64) float64 { return Scale(v, d.ScaleFactor, d.Baseline) }, a)
	return a, nil
}

// PulseShaper is a vertically deflecting grating whose phase and amplitude
// vary column by column. In the Fourier plane of a pulse shaper each column
// is one frequency.
type PulseShaper struct {
	Height, Width int
	Grating       Grating

	// Phase (units of 2π) and Amp hold one value per column.
	Phase []float64
	Amp   []float64
}

// NewPulseShaper returns a shaper with 100 pixel sawtooth spacing and no
// phase or amplitude modulation.
func NewPulseShaper(width, height int) *PulseShaper {
	amp := make([]float64, width)
	for i := range amp {
		amp[i] = 1
	}
	return &PulseShaper{
		Height:  height,
		Width:   width,
		Grating: Grating{Spacing: 100, Kind: "Sawtooth"},
		Phase:   make([]float64, width),
		Amp:     amp,
	}
}

// Array implements Pattern.
func (s *PulseShaper) Array() (*mat.Dense, error) {
	if len(s.Phase) != s.Width || len(s.Amp) != s.Width {
		return nil, fmt.Errorf("pulse shaper is %d columns wide but has %d phases and %d amplitudes",
			s.Width, len(s.Phase), len(s.Amp))
	}
	if s.Height <= 0 || s.Width <= 0 {
		return nil, fmt.Errorf("pulse shaper size %dx%d", s.Width, s.Height)
	}
	p, err := Lookup(s.Grating.Kind)
	if err != nil {
		return nil, err
	}
	if s.Grating.Spacing == 0 {
		return nil, fmt.Errorf("grating spacing must be nonzero")
	}
	a := mat.NewDense(s.Height, s.Width, nil)
	a.Apply(func(y, x int, _ float64) float64 {
		return p(float64(y)/s.Grating.Spacing+s.Phase[x]) * s.Amp[x]
	}, a)
	return a, nil
}
