// Package siggen drives the Agilent 8648A/B/C/D RF signal generators.
package siggen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/baldwint/wanglib"
	"github.com/gotmc/query"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// DefaultAddress is the factory GPIB address of the 8648.
const DefaultAddress = 18

// Amplitude units accepted by SetAmplitude.
const (
	DBM     = "DBM"
	MV      = "MV"
	UV      = "UV"
	MVEMF   = "MVEMF"
	UVEMF   = "UVEMF"
	DBUV    = "DBUV"
	DBUVEMF = "DBUVEMF"
)

var amplitudeUnits = map[string]bool{
	DBM: true, MV: true, UV: true, MVEMF: true, UVEMF: true, DBUV: true, DBUVEMF: true,
}

// frequency formats keeping the 10 Hz resolution of the instrument
var frequencyFormats = map[string]string{
	"MHZ": "%.5f",
	"KHZ": "%.2f",
}

// AG8648 is an Agilent 8648 RF signal generator.
type AG8648 struct {
	bus wanglib.Bus
	log zerolog.Logger
}

// NewAG8648 returns the signal generator on bus.
func NewAG8648(bus wanglib.Bus) *AG8648 {
	return &AG8648{bus: bus, log: zerolog.Nop()}
}

// WithLogger returns a copy of the generator logging to l.
func (g *AG8648) WithLogger(l zerolog.Logger) *AG8648 {
	c := *g
	c.log = l
	return &c
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// On reports whether the RF output is on.
func (g *AG8648) On() (bool, error) {
	on, err := query.Int(g.bus, "OUTP:STAT?")
	if err != nil {
		return false, wanglib.Errorf("8648", "read output state", err, "")
	}
	return on != 0, nil
}

// SetOn turns the RF output on or off.
func (g *AG8648) SetOn(on bool) error {
	return g.bus.Command("OUTP:STAT %s", onOff(on))
}

// Pulse reports whether pulse modulation is enabled.
func (g *AG8648) Pulse() (bool, error) {
	on, err := query.Int(g.bus, "PULM:STAT?")
	if err != nil {
		return false, wanglib.Errorf("8648", "read pulse modulation", err, "")
	}
	return on != 0, nil
}

// SetPulse enables or disables pulse modulation.
func (g *AG8648) SetPulse(on bool) error {
	return g.bus.Command("PULM:STAT %s", onOff(on))
}

// Amplitude returns the RF amplitude in dBm.
func (g *AG8648) Amplitude() (float64, error) {
	v, err := query.Float64(g.bus, "POW:AMPL?")
	if err != nil {
		return 0, wanglib.Errorf("8648", "read amplitude", err, "")
	}
	return v, nil
}

// SetAmplitude sets the output amplitude in the given unit (DBM when
// empty).
func (g *AG8648) SetAmplitude(val float64, unit string) error {
	if unit == "" {
		unit = DBM
	}
	unit = strings.ToUpper(unit)
	if !amplitudeUnits[unit] {
		return wanglib.Errorf("8648", "set amplitude", wanglib.ErrOutOfRange, "unknown unit %q", unit)
	}
	return g.bus.Command("POW:AMPL %.1f %s", val, unit)
}

// Frequency returns the CW frequency in MHz.
func (g *AG8648) Frequency() (float64, error) {
	hz, err := query.Float64(g.bus, "FREQ:CW?")
	if err != nil {
		return 0, wanglib.Errorf("8648", "read frequency", err, "")
	}
	return hz / 1e6, nil
}

// SetFrequency sets the CW frequency in MHZ or KHZ (MHZ when empty).
func (g *AG8648) SetFrequency(val float64, unit string) error {
	if unit == "" {
		unit = "MHZ"
	}
	unit = strings.ToUpper(unit)
	f, ok := frequencyFormats[unit]
	if !ok {
		return wanglib.Errorf("8648", "set frequency", wanglib.ErrOutOfRange, "unknown unit %q", unit)
	}
	return g.bus.Command("FREQ:CW %s %s", fmt.Sprintf(f, val), unit)
}

// Blink toggles the RF output on and off every half interval until ctx is
// done, then restores the output state found on entry. Useful when aligning
// AOMs.
func (g *AG8648) Blink(ctx context.Context, interval time.Duration) (err error) {
	prior, err := g.On()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, g.SetOn(prior))
	}()

	g.log.Info().Dur("interval", interval).Msg("blinking RF output")
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	on := true
	for {
		if err := g.SetOn(on); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		on = !on
	}
}
