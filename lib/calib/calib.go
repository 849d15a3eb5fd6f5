// Package calib keeps linear calibrations built from measured pairs, and
// fits measured curves to model functions.
package calib

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"

	"github.com/baldwint/wanglib"
	"github.com/google/renameio/v2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Calibration is a linear mapping fitted to measured (x, y) pairs, e.g.
// spectrometer readout against wavemeter wavelength.
type Calibration struct {
	Points map[float64]float64

	// Fit parameters: y = Slope*x + Intercept. They start as the identity
	// and change only on a successful Recal.
	Slope, Intercept float64
}

// New returns an empty identity calibration.
func New() *Calibration {
	return &Calibration{Points: make(map[float64]float64), Slope: 1}
}

// Add records a pair. A repeated x replaces the earlier y.
func (c *Calibration) Add(x, y float64) {
	if c.Points == nil {
		c.Points = make(map[float64]float64)
	}
	c.Points[x] = y
}

// XY returns the pairs sorted by x.
func (c *Calibration) XY() (xs, ys []float64) {
	xs = slices.Sorted(maps.Keys(c.Points))
	ys = make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = c.Points[x]
	}
	return xs, ys
}

// Recal refits the parameters to the pairs. The old parameters are kept
// on failure.
func (c *Calibration) Recal() error {
	xs, ys := c.XY()
	if len(xs) < 2 {
		return fmt.Errorf("calibration needs at least 2 points, have %d", len(xs))
	}
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	if !floats.HasNaN([]float64{intercept, slope}) {
		c.Slope, c.Intercept = slope, intercept
		return nil
	}
	return errors.New("calibration fit failed")
}

// Eval converts x with the current parameters.
func (c *Calibration) Eval(x float64) float64 {
	return c.Slope*x + c.Intercept
}

// Save writes the pairs as x,y CSV rows.
func (c *Calibration) Save(path string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	xs, ys := c.XY()
	for i := range xs {
		w.Write([]string{
			strconv.FormatFloat(xs[i], 'g', -1, 64),
			strconv.FormatFloat(ys[i], 'g', -1, 64),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return renameio.WriteFile(path, buf.Bytes(), 0o644)
}

// Load adds the pairs in a CSV file written by Save and refits.
func (c *Calibration) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		x, err := wanglib.Num(rec[0])
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		y, err := wanglib.Num(rec[1])
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		c.Add(x, y)
	}
	return c.Recal()
}

// Plot draws the pairs and the fitted line to an image file. The format
// follows the extension (.png, .svg, .pdf).
func (c *Calibration) Plot(path string) error {
	xs, ys := c.XY()
	if len(xs) == 0 {
		return errors.New("no calibration points to plot")
	}
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i] = plotter.XY{X: xs[i], Y: ys[i]}
	}
	p := plot.New()
	sc, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	fit := plotter.NewFunction(c.Eval)
	fit.XMin, fit.XMax = xs[0], xs[len(xs)-1]
	fit.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(sc, fit)
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
