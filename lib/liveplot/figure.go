package liveplot

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Figure is a set of finished lines that can be edited and re-rendered,
// e.g. to drop a bad scan or turn a transmission spectrum into absorbance.
// Line indices may be negative, counting from the end: -1 is the last
// line.
type Figure struct {
	Lines  []Trace
	Panels []int
}

// Add appends traces, all in panel.
func (f *Figure) Add(panel int, traces ...Trace) {
	for _, t := range traces {
		f.Lines = append(f.Lines, t)
		f.Panels = append(f.Panels, panel)
	}
}

func (f *Figure) index(i int) (int, error) {
	n := len(f.Lines)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return 0, fmt.Errorf("no line %d in a figure of %d", i, n)
	}
	return i, nil
}

// Line returns line i.
func (f *Figure) Line(i int) (Trace, error) {
	i, err := f.index(i)
	if err != nil {
		return Trace{}, err
	}
	return f.Lines[i], nil
}

// RemoveLine deletes line i.
func (f *Figure) RemoveLine(i int) error {
	i, err := f.index(i)
	if err != nil {
		return err
	}
	f.Lines = append(f.Lines[:i], f.Lines[i+1:]...)
	f.Panels = append(f.Panels[:i], f.Panels[i+1:]...)
	return nil
}

type savedLine struct {
	X []float64 `yaml:"x"`
	Y []float64 `yaml:"y"`
}

// SaveLine writes the x,y data of line i to path as YAML, adding a .yaml
// extension if path has none. It never overwrites: an existing file is an
// error matching fs.ErrExist. It returns the path written.
func (f *Figure) SaveLine(i int, path string) (string, error) {
	t, err := f.Line(i)
	if err != nil {
		return "", err
	}
	if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
		path += ".yaml"
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%s exists, choose a different name: %w", path, err)
		}
		return "", err
	}
	if err := encodeLine(out, savedLine{X: t.X, Y: t.Y}); err != nil {
		out.Close()
		os.Remove(path)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

var encodeLine = func(w io.Writer, l savedLine) error {
	enc := yaml.NewEncoder(w)
	if err := enc.Encode(l); err != nil {
		return err
	}
	return enc.Close()
}

// LoadLine reads a line written by SaveLine.
func LoadLine(path string) (Trace, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Trace{}, err
	}
	var l savedLine
	if err := yaml.Unmarshal(b, &l); err != nil {
		return Trace{}, fmt.Errorf("%s: %w", path, err)
	}
	if len(l.X) != len(l.Y) {
		return Trace{}, fmt.Errorf("%s: %d x values but %d y values", path, len(l.X), len(l.Y))
	}
	return Trace{X: l.X, Y: l.Y}, nil
}

// ApplyMask blanks the points of line i where keep is false. Blanked
// points are NaN and are not drawn.
func (f *Figure) ApplyMask(i int, keep []bool) error {
	return f.apply(i, len(keep), func(j int, y float64) float64 {
		if keep[j] {
			return y
		}
		return math.NaN()
	})
}

// ApplyOffset moves line i up or down.
func (f *Figure) ApplyOffset(i int, offset float64) error {
	return f.apply(i, -1, func(_ int, y float64) float64 { return y + offset })
}

// ApplyReference turns line i into log(ref/y), the absorbance against a
// reference spectrum.
func (f *Figure) ApplyReference(i int, ref []float64) error {
	return f.apply(i, len(ref), func(j int, y float64) float64 { return math.Log(ref[j] / y) })
}

// apply replaces each y of line i with fn(j, y). n, when not -1, is the
// length the per-point argument must have.
func (f *Figure) apply(i, n int, fn func(j int, y float64) float64) error {
	i, err := f.index(i)
	if err != nil {
		return err
	}
	t := f.Lines[i]
	if n != -1 && n != len(t.Y) {
		return fmt.Errorf("line %d has %d points, got %d", i, len(t.Y), n)
	}
	y := make([]float64, len(t.Y))
	for j, v := range t.Y {
		y[j] = fn(j, v)
	}
	f.Lines[i] = Trace{X: t.X, Y: y}
	return nil
}

// Render draws the figure with r.
func (f *Figure) Render(r Renderer) error {
	return r.Render(f.Lines, f.Panels)
}
