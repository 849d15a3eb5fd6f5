// Copyright (c) 2011–2024 The wanglib developers. All rights reserved.
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/baldwint/wanglib/lib/acquire"
	"github.com/baldwint/wanglib/lib/ccd"
	"github.com/baldwint/wanglib/lib/liveplot"
	"github.com/baldwint/wanglib/lib/lockin"
	"github.com/baldwint/wanglib/lib/logging"
	"github.com/baldwint/wanglib/lib/prologix"
	"github.com/baldwint/wanglib/lib/record"
	"github.com/baldwint/wanglib/lib/spex"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
)

// sink is where an acquisition goes: stdout always, plus an optional live
// plot and an optional run database.
type sink struct {
	plot    string
	maxLen  int
	refresh time.Duration
	axes    []int
	db      string
	count   int
}

func (s *sink) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.plot, "plot", "", "render a live plot to this PNG file")
	fs.IntVar(&s.maxLen, "maxlen", 0, "points kept per trace in the plot (0 keeps all)")
	fs.DurationVar(&s.refresh, "refresh", liveplot.DefaultRefresh, "minimum time between plot renders")
	fs.IntSliceVar(&s.axes, "axes", nil, "plot panel for each trace")
	fs.StringVar(&s.db, "db", "", "record the run in this SQLite database")
	fs.IntVar(&s.count, "count", 0, "stop after this many samples (0 runs until interrupted)")
}

// run drains src into the sink. Cancelling ctx ends the run cleanly.
func (s *sink) run(ctx context.Context, name string, src acquire.Source, out io.Writer) (err error) {
	log := logging.WithComponent("wang")
	if s.count > 0 {
		src = acquire.Take(src, s.count)
	}
	if s.db != "" {
		store, oerr := record.Open(s.db)
		if oerr != nil {
			return oerr
		}
		defer func() { err = multierr.Append(err, store.Close()) }()
		r, serr := store.StartRun(ctx, name)
		if serr != nil {
			return serr
		}
		log.Info().Stringer("run", r.ID).Str("db", s.db).Msg("recording")
		src = acquire.Tee(src, r.Recorder(context.WithoutCancel(ctx)))
	}
	src = acquire.Tee(src, func(smp acquire.Sample) error {
		_, err := fmt.Fprintln(out, formatSample(smp))
		return err
	})

	if s.plot == "" {
		for _, err := range src {
			if err != nil {
				return err
			}
		}
		return nil
	}
	opts := []liveplot.Option{
		liveplot.WithOutput(s.plot),
		liveplot.WithMaxLen(s.maxLen),
		liveplot.WithRefresh(s.refresh),
		liveplot.WithLogger(log),
	}
	if len(s.axes) > 0 {
		opts = append(opts, liveplot.WithAxes(s.axes...))
	}
	_, err = liveplot.Plotgen(ctx, src, opts...)
	return err
}

func formatSample(s acquire.Sample) string {
	f := make([]string, len(s))
	for i, v := range s {
		f[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(f, "\t")
}

// lockinModels are the lock-ins the monitor and scan commands can read.
var lockinModels = []string{"sr830", "egg5110"}

type lockinReader interface {
	acquire.Lockin
	Measure(name string) (float64, error)
}

func openLockin(model string, ctrl *prologix.Controller, addr int) (lockinReader, error) {
	if addr <= 0 {
		return nil, fmt.Errorf("lock-in needs --addr")
	}
	bus := ctrl.Instrument(addr)
	switch strings.ToLower(model) {
	case "sr830":
		return lockin.NewSR830(bus), nil
	case "egg5110":
		return lockin.NewEGG5110(bus)
	}
	return nil, fmt.Errorf("unknown lock-in %q (want one of %s)", model, strings.Join(lockinModels, ", "))
}

func (a *app) monitorCmd() *cobra.Command {
	var (
		s        sink
		model    string
		channels []string
		interval time.Duration
		absolute bool
	)
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Read lock-in outputs over time",
		Long: `Read lock-in outputs at a fixed interval, printing one line per sample:
t, then the value, for each channel. Each channel becomes its own trace.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(channels) == 0 {
				return fmt.Errorf("no channels to monitor")
			}
			ctx := cmd.Context()
			return a.withController(ctx, func(ctrl *prologix.Controller) error {
				li, err := openLockin(model, ctrl, a.conn.Addr)
				if err != nil {
					return err
				}
				readings := make([]float64, len(channels))
				first := func() (float64, error) {
					for i, ch := range channels {
						v, err := li.Measure(strings.ToUpper(ch))
						if err != nil {
							return 0, err
						}
						readings[i] = v
					}
					return readings[0], nil
				}
				src := spread(acquire.Monitor(ctx, first, interval, absolute), readings)
				return s.run(ctx, "monitor "+model+" "+strings.Join(channels, ","), src, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().StringVar(&model, "lockin", "sr830", "lock-in model: "+strings.Join(lockinModels, ", "))
	cmd.Flags().StringSliceVar(&channels, "channels", []string{"R"}, "outputs to read (X, Y, R, ...)")
	cmd.Flags().DurationVar(&interval, "interval", 100*time.Millisecond, "time between readings")
	cmd.Flags().BoolVar(&absolute, "absolute", false, "report Unix time instead of time since start")
	s.addFlags(cmd.Flags())
	return cmd
}

// spread widens each (t, v) sample to one (t, v) pair per reading, taking
// the values from readings as last filled in by the getter.
func spread(src acquire.Source, readings []float64) acquire.Source {
	return func(yield func(acquire.Sample, error) bool) {
		for smp, err := range src {
			if err != nil {
				yield(nil, err)
				return
			}
			out := make(acquire.Sample, 0, 2*len(readings))
			for _, v := range readings {
				out = append(out, smp[0], v)
			}
			if !yield(out, nil) {
				return
			}
		}
	}
}

// spectrometerModels are the monochromators the scan command can drive.
var spectrometerModels = []string{"750m", "triax320"}

type spectrometer interface {
	acquire.Spectrometer
	Close() error
}

func openSpectrometer(ctx context.Context, model, port string) (spectrometer, error) {
	opts := []spex.Option{spex.WithLogger(logging.WithComponent("spex"))}
	switch strings.ToLower(model) {
	case "750m":
		return spex.Open750M(ctx, port, opts...)
	case "triax320":
		return spex.OpenTriax320(ctx, port, opts...)
	}
	return nil, fmt.Errorf("unknown spectrometer %q (want one of %s)", model, strings.Join(spectrometerModels, ", "))
}

func (a *app) scanCmd() *cobra.Command {
	var (
		s                 sink
		model, specModel  string
		specPort          string
		start, stop, step float64
		avgs              int
		waitFactor        float64
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Step a spectrometer through wavelengths, reading a lock-in at each",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			wls := acquire.Arange(start, stop, step)
			if len(wls) == 0 {
				return fmt.Errorf("empty scan from %g to %g step %g", start, stop, step)
			}
			ctx := cmd.Context()
			spec, err := openSpectrometer(ctx, specModel, specPort)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, spec.Close()) }()
			return a.withController(ctx, func(ctrl *prologix.Controller) error {
				li, err := openLockin(model, ctrl, a.conn.Addr)
				if err != nil {
					return err
				}
				src := acquire.SpectrumScan(ctx, wls, spec, li, avgs, waitFactor)
				name := fmt.Sprintf("scan %g-%g nm", start, stop)
				return s.run(ctx, name, src, cmd.OutOrStdout())
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&model, "lockin", "sr830", "lock-in model: "+strings.Join(lockinModels, ", "))
	fs.StringVar(&specModel, "spectrometer", "750m", "spectrometer model: "+strings.Join(spectrometerModels, ", "))
	fs.StringVar(&specPort, "spex-port", "", "serial port of the spectrometer (model default when empty)")
	fs.Float64Var(&start, "start", 700, "first wavelength (nm)")
	fs.Float64Var(&stop, "stop", 800, "scan stops before this wavelength (nm)")
	fs.Float64Var(&step, "step", 1, "wavelength step (nm)")
	fs.IntVar(&avgs, "avgs", 1, "lock-in readings averaged per wavelength")
	fs.Float64Var(&waitFactor, "wait-factor", acquire.DefaultWaitFactor, "time constants to wait before each reading")
	s.addFlags(fs)
	return cmd
}

func (a *app) ccdCmd() *cobra.Command {
	var (
		s      sink
		host   string
		center float64
		peak   bool
	)
	cmd := &cobra.Command{
		Use:   "ccd",
		Short: "Read a spectrum from the CCD server",
		Long: `Read one spectrum from the CCD server and print (wavelength, counts)
with the rows summed. With --peak, instead monitor the wavelength of the
brightest pixel over time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			c, err := ccd.Dial(ctx, host, center)
			if err != nil {
				return err
			}
			defer func() { err = multierr.Append(err, c.Close()) }()
			if peak {
				fn := func() (float64, error) {
					sp, err := c.Spectrum(ctx)
					if err != nil {
						return 0, err
					}
					return sp.Peak(), nil
				}
				return s.run(ctx, "ccd peak", acquire.Monitor(ctx, fn, 0, false), cmd.OutOrStdout())
			}
			sp, err := c.Spectrum(ctx)
			if err != nil {
				return err
			}
			return s.run(ctx, fmt.Sprintf("ccd %g nm", center), spectrumSource(sp), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&host, "ccd-host", "", "CCD server host[:port]")
	cmd.Flags().Float64Var(&center, "center", 800, "center wavelength (nm)")
	cmd.Flags().BoolVar(&peak, "peak", false, "monitor the peak wavelength")
	s.addFlags(cmd.Flags())
	_ = cmd.MarkFlagRequired("ccd-host")
	return cmd
}

// spectrumSource yields one (wavelength, summed counts) sample per pixel.
func spectrumSource(sp *ccd.Spectrum) acquire.Source {
	sum := sp.Sum()
	return func(yield func(acquire.Sample, error) bool) {
		for i, wl := range sp.WL {
			if !yield(acquire.XY(wl, sum[i]), nil) {
				return
			}
		}
	}
}
