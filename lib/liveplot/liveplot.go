// Package liveplot plots acquisition streams while they are being
// gathered.
//
// Plotgen consumes an acquire.Source on one goroutine and re-renders the
// figure on another, so a slow renderer never holds up the instrument:
//
//	traces, err := liveplot.Plotgen(ctx, scan, liveplot.WithOutput("scan.png"))
//
// Each sample carries one X,Y pair per trace. A sample of four values plots
// two traces, the first from s[0:2] and the second from s[2:4].
package liveplot

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/baldwint/wanglib/lib/acquire"
	"github.com/baldwint/wanglib/lib/logging"
	"github.com/gammazero/deque"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultRefresh is the default minimum interval between renders.
const DefaultRefresh = 250 * time.Millisecond

// Trace is the X and Y data of one plotted line.
type Trace struct {
	X, Y []float64
}

// Len returns the number of points.
func (t Trace) Len() int { return len(t.X) }

// Renderer draws a snapshot of the traces. panels[i] is the panel trace i
// is drawn in.
type Renderer interface {
	Render(traces []Trace, panels []int) error
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(traces []Trace, panels []int) error

// Render calls f.
func (f RendererFunc) Render(traces []Trace, panels []int) error { return f(traces, panels) }

type config struct {
	maxLen   int
	axes     []int
	refresh  time.Duration
	renderer Renderer
	log      zerolog.Logger
}

// Option configures Plotgen.
type Option func(*config)

// WithMaxLen keeps only the latest n points of each trace. Zero keeps
// everything.
func WithMaxLen(n int) Option {
	return func(c *config) { c.maxLen = n }
}

// WithAxes puts trace i in panel idx[i]. There must be one index per
// trace. By default every trace shares panel 0.
func WithAxes(idx ...int) Option {
	return func(c *config) { c.axes = idx }
}

// WithRefresh sets the minimum interval between renders. Zero or less
// renders after every sample, skipping samples that arrive mid-render.
func WithRefresh(d time.Duration) Option {
	return func(c *config) { c.refresh = d }
}

// WithOutput renders to a PNG file at path, replaced atomically on every
// refresh.
func WithOutput(path string) Option {
	return func(c *config) { c.renderer = &PNG{Path: path} }
}

// WithRenderer renders through r instead of a PNG file.
func WithRenderer(r Renderer) Option {
	return func(c *config) { c.renderer = r }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.log = l }
}

// window is one trace's bounded trailing buffer.
type window struct {
	x, y deque.Deque[float64]
	max  int
}

func (w *window) push(x, y float64) {
	w.x.PushBack(x)
	w.y.PushBack(y)
	for w.max > 0 && w.x.Len() > w.max {
		w.x.PopFront()
		w.y.PopFront()
	}
}

func (w *window) trace() Trace {
	t := Trace{X: make([]float64, w.x.Len()), Y: make([]float64, w.y.Len())}
	for i := range t.X {
		t.X[i] = w.x.At(i)
		t.Y[i] = w.y.At(i)
	}
	return t
}

// board is the state shared by the acquisition and render goroutines.
type board struct {
	mu      sync.Mutex
	windows []*window
	dirty   bool
}

func (f *board) add(s acquire.Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, w := range f.windows {
		w.push(s.Pair(i))
	}
	f.dirty = true
}

// snapshot copies the traces if anything changed since the last call.
func (f *board) snapshot() ([]Trace, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.dirty {
		return nil, false
	}
	f.dirty = false
	return f.traces(), true
}

func (f *board) traces() []Trace {
	out := make([]Trace, len(f.windows))
	for i, w := range f.windows {
		out[i] = w.trace()
	}
	return out
}

// Plotgen consumes src, plotting as it goes, and returns the final traces.
// The first sample fixes the number of traces. A source error stops the
// run; it is returned along with the traces gathered so far.
func Plotgen(ctx context.Context, src acquire.Source, opts ...Option) ([]Trace, error) {
	cfg := config{refresh: DefaultRefresh, log: logging.WithComponent("liveplot")}
	for _, o := range opts {
		o(&cfg)
	}

	next, stop := iter.Pull2(src)
	defer stop()

	first, err, ok := next()
	if !ok {
		return nil, errors.New("liveplot: source yielded nothing")
	}
	if err != nil {
		return nil, err
	}
	if len(first) == 0 || len(first)%2 != 0 {
		return nil, fmt.Errorf("liveplot: sample of %d values is not a set of X,Y pairs", len(first))
	}
	n := first.Traces()
	panels := cfg.axes
	if panels == nil {
		panels = make([]int, n)
	}
	if len(panels) != n {
		return nil, fmt.Errorf("liveplot: %d axes given for %d traces", len(panels), n)
	}
	for _, p := range panels {
		if p < 0 {
			return nil, fmt.Errorf("liveplot: negative panel index %d", p)
		}
	}

	fig := &board{windows: make([]*window, n)}
	for i := range fig.windows {
		fig.windows[i] = &window{max: cfg.maxLen}
	}
	fig.add(first)

	done := make(chan struct{})
	kick := make(chan struct{}, 1)
	perSample := cfg.refresh <= 0
	g, gctx := errgroup.WithContext(ctx)

	var srcErr error
	g.Go(func() error {
		defer close(done)
		for gctx.Err() == nil {
			s, err, ok := next()
			if !ok {
				return nil
			}
			if err != nil {
				srcErr = err
				return nil
			}
			if len(s) != 2*n {
				srcErr = fmt.Errorf("liveplot: sample of %d values after %d traces were set up", len(s), n)
				return nil
			}
			fig.add(s)
			if perSample {
				select {
				case kick <- struct{}{}:
				default:
				}
			}
		}
		return nil
	})

	if cfg.renderer != nil {
		g.Go(func() error {
			render := func() error {
				traces, changed := fig.snapshot()
				if !changed {
					return nil
				}
				start := time.Now()
				if err := cfg.renderer.Render(traces, panels); err != nil {
					return fmt.Errorf("liveplot: render: %w", err)
				}
				cfg.log.Debug().Dur("took", time.Since(start)).Int("points", traces[0].Len()).Msg("rendered")
				return nil
			}
			var tickC <-chan time.Time
			if !perSample {
				tick := time.NewTicker(cfg.refresh)
				defer tick.Stop()
				tickC = tick.C
			}
			for {
				select {
				case <-done:
					return render()
				case <-tickC:
				case <-kick:
				}
				if err := render(); err != nil {
					return err
				}
			}
		})
	}

	err = g.Wait()
	traces := fig.traces()
	if srcErr != nil {
		return traces, srcErr
	}
	return traces, err
}
