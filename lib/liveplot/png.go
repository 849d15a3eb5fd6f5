package liveplot

import (
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/google/renameio/v2"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// Default PNG size.
const (
	DefaultWidth       = 8 * vg.Inch
	DefaultPanelHeight = 3 * vg.Inch
)

// PNG renders traces as stacked, autoscaled panels into a PNG file.
type PNG struct {
	Path string
	// Width of the image and height of each panel. Zero means the
	// defaults.
	Width, PanelHeight vg.Length
	// Title goes on the top panel.
	Title  string
	XLabel string
}

// Render draws the traces and atomically replaces Path.
func (p *PNG) Render(traces []Trace, panels []int) error {
	pf, err := renameio.NewPendingFile(p.Path)
	if err != nil {
		return err
	}
	defer pf.Cleanup()
	if err := p.Encode(pf, traces, panels); err != nil {
		return err
	}
	return pf.CloseAtomicallyReplace()
}

// Encode encodes the figure as PNG to w.
func (p *PNG) Encode(w io.Writer, traces []Trace, panels []int) error {
	plots, err := Panels(traces, panels)
	if err != nil {
		return err
	}
	if len(plots) == 0 {
		return fmt.Errorf("nothing to plot")
	}
	plots[0].Title.Text = p.Title
	plots[len(plots)-1].X.Label.Text = p.XLabel

	width, height := p.Width, p.PanelHeight
	if width == 0 {
		width = DefaultWidth
	}
	if height == 0 {
		height = DefaultPanelHeight
	}
	img := vgimg.New(width, height*vg.Length(len(plots)))
	dc := draw.New(img)

	grid := make([][]*plot.Plot, len(plots))
	for i, pl := range plots {
		grid[i] = []*plot.Plot{pl}
	}
	tiles := draw.Tiles{Rows: len(plots), Cols: 1, PadY: vg.Millimeter, PadTop: vg.Millimeter, PadBottom: vg.Millimeter, PadLeft: vg.Millimeter, PadRight: vg.Millimeter}
	canvases := plot.Align(grid, tiles, dc)
	for i, pl := range plots {
		pl.Draw(canvases[i][0])
	}

	_, err = vgimg.PngCanvas{Canvas: img}.WriteTo(w)
	return err
}

// Panels builds one plot per panel index, each holding its traces as
// lines. NaN points (masked data) are left out.
func Panels(traces []Trace, panels []int) ([]*plot.Plot, error) {
	if len(traces) != len(panels) {
		return nil, fmt.Errorf("%d panel indices for %d traces", len(panels), len(traces))
	}
	if len(traces) == 0 {
		return nil, nil
	}
	plots := make([]*plot.Plot, slices.Max(panels)+1)
	for i := range plots {
		plots[i] = plot.New()
	}
	for i, t := range traces {
		xys := finite(t)
		if len(xys) == 0 {
			continue
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, fmt.Errorf("trace %d: %w", i, err)
		}
		line.Color = plotutil.Color(i)
		plots[panels[i]].Add(line)
	}
	return plots, nil
}

func finite(t Trace) plotter.XYs {
	xys := make(plotter.XYs, 0, t.Len())
	for i := range t.X {
		x, y := t.X[i], t.Y[i]
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: x, Y: y})
	}
	return xys
}
