package liveplot

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/baldwint/wanglib/lib/acquire"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samples(ss ...acquire.Sample) acquire.Source {
	return func(yield func(acquire.Sample, error) bool) {
		for _, s := range ss {
			if !yield(s, nil) {
				return
			}
		}
	}
}

// recorder keeps every snapshot it is asked to render.
type recorder struct {
	mu     sync.Mutex
	frames [][]Trace
	panels []int
}

func (r *recorder) Render(traces []Trace, panels []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, traces)
	r.panels = panels
	return nil
}

func TestPlotgenTwoTraces(t *testing.T) {
	src := samples(
		acquire.Sample{0, 6, 0, 7},
		acquire.Sample{1, 5, 1, 8},
		acquire.Sample{2, 4, 2, 9},
	)
	rec := &recorder{}
	traces, err := Plotgen(context.Background(), src, WithRenderer(rec), WithAxes(0, 1), WithRefresh(time.Hour))
	require.NoError(t, err)
	want := []Trace{
		{X: []float64{0, 1, 2}, Y: []float64{6, 5, 4}},
		{X: []float64{0, 1, 2}, Y: []float64{7, 8, 9}},
	}
	if diff := cmp.Diff(want, traces); diff != "" {
		t.Errorf("traces (-want +got):\n%s", diff)
	}
	require.NotEmpty(t, rec.frames, "a final render always happens")
	assert.Equal(t, want, rec.frames[len(rec.frames)-1])
	assert.Equal(t, []int{0, 1}, rec.panels)
}

func TestPlotgenMaxLen(t *testing.T) {
	xs := acquire.Arange(0, 10, 1)
	src := acquire.Scanner(context.Background(), xs,
		func(context.Context, float64) error { return nil },
		func() (float64, error) { return 1, nil }, 0)
	traces, err := Plotgen(context.Background(), src, WithMaxLen(3))
	require.NoError(t, err)
	require.Len(t, traces, 1)
	assert.Equal(t, []float64{7, 8, 9}, traces[0].X)
}

func TestPlotgenBadShapes(t *testing.T) {
	_, err := Plotgen(context.Background(), samples(acquire.Sample{1, 2, 3}))
	assert.Error(t, err)

	_, err = Plotgen(context.Background(), samples(acquire.Sample{1, 2}), WithAxes(0, 1))
	assert.Error(t, err)

	_, err = Plotgen(context.Background(), samples())
	assert.Error(t, err)

	traces, err := Plotgen(context.Background(), samples(acquire.Sample{1, 2}, acquire.Sample{1, 2, 3, 4}))
	assert.Error(t, err)
	assert.Len(t, traces[0].X, 1)
}

func TestPlotgenSourceError(t *testing.T) {
	boom := errors.New("lock-in unplugged")
	src := func(yield func(acquire.Sample, error) bool) {
		if !yield(acquire.XY(1, 1), nil) {
			return
		}
		if !yield(acquire.XY(2, 4), nil) {
			return
		}
		yield(nil, boom)
	}
	traces, err := Plotgen(context.Background(), src)
	assert.ErrorIs(t, err, boom)
	require.Len(t, traces, 1)
	assert.Equal(t, []float64{1, 4}, traces[0].Y)
}

func TestPlotgenRendererError(t *testing.T) {
	boom := errors.New("disk full")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	src := acquire.Monitor(ctx, func() (float64, error) { return 0, nil }, time.Millisecond, false)
	_, err := Plotgen(ctx, src, WithRefresh(time.Millisecond),
		WithRenderer(RendererFunc(func([]Trace, []int) error { return boom })))
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, ctx.Err(), "the run should stop on the render error, not the timeout")
}

func TestPlotgenCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	src := acquire.Monitor(ctx, func() (float64, error) {
		n++
		if n == 5 {
			cancel()
		}
		return float64(n), nil
	}, time.Millisecond, false)
	traces, err := Plotgen(ctx, src, WithRefresh(time.Millisecond), WithRenderer(&recorder{}))
	require.NoError(t, err)
	assert.Len(t, traces[0].Y, 5)
}

func TestPNGOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.png")
	src := samples(acquire.Sample{0, 1, 0, 10}, acquire.Sample{1, 2, 1, math.NaN()}, acquire.Sample{2, 3, 2, 30})
	_, err := Plotgen(context.Background(), src, WithOutput(path), WithAxes(0, 1))
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dy(), img.Bounds().Dx()/2, "two stacked panels")
}

func TestPanels(t *testing.T) {
	plots, err := Panels([]Trace{{X: []float64{1}, Y: []float64{1}}, {}}, []int{2, 0})
	require.NoError(t, err)
	assert.Len(t, plots, 3)

	_, err = Panels([]Trace{{}}, nil)
	assert.Error(t, err)

	var buf bytes.Buffer
	assert.Error(t, (&PNG{}).Encode(&buf, nil, nil))
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func TestPlotgenRendersEverySampleWithoutRefresh(t *testing.T) {
	for _, refresh := range []time.Duration{0, -time.Second} {
		rec := &recorder{}
		src := func(yield func(acquire.Sample, error) bool) {
			for i := range 3 {
				// hold each sample back until the previous one is on screen
				deadline := time.Now().Add(2 * time.Second)
				for i >= 2 && rec.count() < i-1 && time.Now().Before(deadline) {
					time.Sleep(time.Millisecond)
				}
				if !yield(acquire.XY(float64(i), float64(10*i)), nil) {
					return
				}
			}
		}
		traces, err := Plotgen(context.Background(), src, WithRenderer(rec), WithRefresh(refresh))
		require.NoError(t, err, "refresh %v", refresh)
		require.Len(t, traces, 1)
		assert.Equal(t, []float64{0, 1, 2}, traces[0].X)
		require.Len(t, rec.frames, 2, "refresh %v", refresh)
		assert.Equal(t, []float64{0, 1}, rec.frames[0][0].X)
		assert.Equal(t, []float64{0, 1, 2}, rec.frames[1][0].X)
	}
}
