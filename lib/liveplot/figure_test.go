package liveplot

import (
	"errors"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFigure() *Figure {
	f := &Figure{}
	f.Add(0,
		Trace{X: []float64{1, 2, 3}, Y: []float64{10, 20, 40}},
		Trace{X: []float64{1, 2, 3}, Y: []float64{1, 2, 3}},
	)
	f.Add(1, Trace{X: []float64{5}, Y: []float64{5}})
	return f
}

func TestRemoveLine(t *testing.T) {
	f := newFigure()
	require.NoError(t, f.RemoveLine(-1))
	assert.Len(t, f.Lines, 2)
	assert.Equal(t, []int{0, 0}, f.Panels)

	require.NoError(t, f.RemoveLine(0))
	assert.Equal(t, []float64{1, 2, 3}, f.Lines[0].Y)

	assert.Error(t, f.RemoveLine(1))
	assert.Error(t, f.RemoveLine(-2))
}

func TestSaveLine(t *testing.T) {
	f := newFigure()
	dir := t.TempDir()

	path, err := f.SaveLine(-2, filepath.Join(dir, "ref"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ref.yaml"), path)

	got, err := LoadLine(path)
	require.NoError(t, err)
	assert.Equal(t, f.Lines[1], got)

	_, err = f.SaveLine(0, filepath.Join(dir, "ref"))
	assert.ErrorIs(t, err, fs.ErrExist)

	_, err = f.SaveLine(3, filepath.Join(dir, "other"))
	assert.Error(t, err)
}

func TestSaveLineFailureLeavesNoFile(t *testing.T) {
	f := newFigure()
	path := filepath.Join(t.TempDir(), "ref.yaml")

	orig := encodeLine
	encodeLine = func(w io.Writer, _ savedLine) error {
		io.WriteString(w, "x: [1,")
		return errors.New("disk full")
	}
	_, err := f.SaveLine(0, path)
	encodeLine = orig
	assert.ErrorContains(t, err, "disk full")
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	got, err := f.SaveLine(0, path)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestApplyMaskAndOffset(t *testing.T) {
	f := newFigure()
	require.NoError(t, f.ApplyMask(0, []bool{true, false, true}))
	y := f.Lines[0].Y
	assert.Equal(t, 10.0, y[0])
	assert.True(t, math.IsNaN(y[1]))
	assert.Equal(t, 40.0, y[2])

	require.NoError(t, f.ApplyOffset(0, 5))
	assert.Equal(t, 15.0, f.Lines[0].Y[0])
	assert.True(t, math.IsNaN(f.Lines[0].Y[1]))

	assert.Error(t, f.ApplyMask(0, []bool{true}))
}

func TestApplyReference(t *testing.T) {
	f := newFigure()
	require.NoError(t, f.ApplyReference(1, []float64{1, 2, 3 * math.E}))
	assert.InDeltaSlice(t, []float64{0, 0, 1}, f.Lines[1].Y, 1e-12)
	assert.Error(t, f.ApplyReference(1, []float64{1}))
}

func TestFigureRender(t *testing.T) {
	rec := &recorder{}
	f := newFigure()
	require.NoError(t, f.Render(rec))
	assert.Equal(t, []int{0, 0, 1}, rec.panels)
	assert.Len(t, rec.frames[0], 3)
}
