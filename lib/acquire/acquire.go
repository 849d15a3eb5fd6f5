// Package acquire produces streams of measurements: periodic monitors,
// generic scans and lock-in spectrum scans.
//
// A stream is an iter.Seq2[Sample, error]. Nothing is measured until the
// stream is ranged over, and the consumer (a live plot, a database
// recorder, a plain loop) decides when to stop:
//
//	scan := acquire.Scanner(ctx, acquire.Arange(770, 774, 0.1), tr.SetWavelength, li.X, 300*time.Millisecond)
//	for s, err := range scan {
//		...
//	}
//
// A yielded error ends the stream.
package acquire

import (
	"context"
	"fmt"
	"iter"
	"math"
	"time"

	"github.com/baldwint/wanglib"
)

// Sample is one step of an acquisition: X,Y pairs, one pair per trace.
type Sample []float64

// XY returns a single-trace sample.
func XY(x, y float64) Sample { return Sample{x, y} }

// Traces returns the number of X,Y pairs in the sample.
func (s Sample) Traces() int { return len(s) / 2 }

// Pair returns the i-th X,Y pair.
func (s Sample) Pair(i int) (x, y float64) { return s[2*i], s[2*i+1] }

// Source is a stream of samples.
type Source = iter.Seq2[Sample, error]

// Getter reads one value from an instrument.
type Getter func() (float64, error)

// Setter moves an instrument to x, waiting until it gets there.
type Setter func(ctx context.Context, x float64) error

// Monitor calls fn every interval and yields (t, fn()). t is seconds since
// the first call, or since the Unix epoch when absolute is set. It runs
// until ctx is done or the consumer stops.
func Monitor(ctx context.Context, fn Getter, interval time.Duration, absolute bool) Source {
	return func(yield func(Sample, error) bool) {
		start := time.Now()
		for ctx.Err() == nil {
			v, err := fn()
			if err != nil {
				yield(nil, err)
				return
			}
			now := time.Now()
			t := now.Sub(start).Seconds()
			if absolute {
				t = float64(now.UnixNano()) / 1e9
			}
			if !yield(XY(t, v), nil) {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}
}

// Scanner sets each x in turn, waits lag, then yields (x, get()). Use it
// for spectra, delay scans, whatever.
func Scanner(ctx context.Context, xs []float64, set Setter, get Getter, lag time.Duration) Source {
	return func(yield func(Sample, error) bool) {
		for _, x := range xs {
			if ctx.Err() != nil {
				return
			}
			if err := set(ctx, x); err != nil {
				yield(nil, err)
				return
			}
			if err := sleep(ctx, lag); err != nil {
				return
			}
			y, err := get()
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(XY(x, y), nil) {
				return
			}
		}
	}
}

// Spectrometer moves to a wavelength.
type Spectrometer interface {
	SetWavelength(ctx context.Context, wl float64) error
}

// Lockin reads a magnitude and reports its time constant.
type Lockin interface {
	R() (float64, error)
	TimeConstant() (wanglib.Quantity, error)
}

// DefaultWaitFactor is how many lock-in time constants SpectrumScan waits
// before each reading.
const DefaultWaitFactor = 1.75

// SpectrumScan steps spec through wls. At each wavelength it averages avgs
// readings of the lock-in magnitude, waiting waitFactor time constants
// before each, and yields (wl, mean).
func SpectrumScan(ctx context.Context, wls []float64, spec Spectrometer, li Lockin, avgs int, waitFactor float64) Source {
	return func(yield func(Sample, error) bool) {
		if avgs < 1 {
			yield(nil, fmt.Errorf("averages must be positive, got %d", avgs))
			return
		}
		tc, err := li.TimeConstant()
		if err != nil {
			yield(nil, err)
			return
		}
		secs, err := tc.Seconds()
		if err != nil {
			yield(nil, err)
			return
		}
		wait := time.Duration(secs * waitFactor * float64(time.Second))
		for _, wl := range wls {
			if err := spec.SetWavelength(ctx, wl); err != nil {
				yield(nil, err)
				return
			}
			var tally float64
			for range avgs {
				if err := sleep(ctx, wait); err != nil {
					return
				}
				r, err := li.R()
				if err != nil {
					yield(nil, err)
					return
				}
				tally += r
			}
			if !yield(XY(wl, tally/float64(avgs)), nil) {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Arange returns start, start+step, ... up to but excluding stop.
func Arange(start, stop, step float64) []float64 {
	if step == 0 || (stop-start)/step <= 0 {
		return nil
	}
	n := int(math.Ceil((stop - start) / step))
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = start + float64(i)*step
	}
	return xs
}

// Linspace returns n evenly spaced values from start to stop inclusive.
func Linspace(start, stop float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{start}
	}
	xs := make([]float64, n)
	step := (stop - start) / float64(n-1)
	for i := range xs {
		xs[i] = start + float64(i)*step
	}
	xs[n-1] = stop
	return xs
}

// Take stops src after n samples.
func Take(src Source, n int) Source {
	return func(yield func(Sample, error) bool) {
		if n <= 0 {
			return
		}
		i := 0
		for s, err := range src {
			if !yield(s, err) || err != nil {
				return
			}
			i++
			if i >= n {
				return
			}
		}
	}
}

// Tee calls fn with every sample before passing it on. An error from fn
// ends the stream.
func Tee(src Source, fn func(Sample) error) Source {
	return func(yield func(Sample, error) bool) {
		for s, err := range src {
			if err == nil {
				err = fn(s)
				if err != nil {
					s = nil
				}
			}
			if !yield(s, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains src. It returns the samples gathered so far along with
// the first error.
func Collect(src Source) ([]Sample, error) {
	var out []Sample
	for s, err := range src {
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}
