// Package laser drives New Focus Velocity 6300 tunable diode laser
// controllers.
//
// The 6300 answers every read with the response to its most recent command,
// as many times as it is asked. Behind a Prologix controller that looks
// like a device that never stops talking, so read-after-write must be off:
//
//	laser, err := laser.NewVelocity6300(plx.Instrument(1, prologix.WithAuto(false)), false)
//
// Over RS-232 use a serialbus.Port with "\r" as terminator and pass
// serial=true so commands get the '@' prefix the controller expects.
package laser

import (
	"fmt"
	"strings"

	"github.com/baldwint/wanglib"
	"github.com/gotmc/query"
)

// Velocity6300 is a New Focus Velocity 6300 controller.
type Velocity6300 struct {
	bus    wanglib.Bus
	serial bool
	idn    string
}

// NewVelocity6300 returns the controller on bus and reads its
// identification string.
func NewVelocity6300(bus wanglib.Bus, serial bool) (*Velocity6300, error) {
	idn, err := bus.Query("*IDN?")
	if err != nil {
		return nil, wanglib.Errorf("6300", "identify", err, "")
	}
	return &Velocity6300{bus: bus, serial: serial, idn: idn}, nil
}

// IDN returns the identification string read at connection.
func (l *Velocity6300) IDN() string { return l.idn }

// Command issues a setting command. The controller must answer OK; the
// command is retried once before giving up.
func (l *Velocity6300) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	if l.serial {
		cmd = "@" + cmd
	}
	var resp string
	var err error
	for range 2 {
		resp, err = l.bus.Query(cmd)
		if err == nil && strings.TrimSpace(resp) == "OK" {
			return nil
		}
	}
	if err != nil {
		return wanglib.Errorf("6300", "command", err, "%s", cmd)
	}
	return wanglib.Errorf("6300", "command", wanglib.ErrUnexpectedResponse,
		"laser didn't like command: %s. it says: %s", cmd, resp)
}

// StopTracking leaves track mode for ready mode.
func (l *Velocity6300) StopTracking() error {
	return l.Command("outp:trac off")
}

// Busy reports whether an operation is in progress.
func (l *Velocity6300) Busy() (bool, error) {
	done, err := query.Int(l.bus, "*OPC?")
	if err != nil {
		return false, wanglib.Errorf("6300", "read busy", err, "")
	}
	return done == 0, nil
}

// On reports whether the laser is emitting.
func (l *Velocity6300) On() (bool, error) {
	on, err := query.Int(l.bus, "outp?")
	if err != nil {
		return false, wanglib.Errorf("6300", "read output", err, "")
	}
	return on != 0, nil
}

// SetOn turns the laser on or off.
func (l *Velocity6300) SetOn(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return l.Command("outp %d", v)
}

// Wavelength returns the measured wavelength in nm.
func (l *Velocity6300) Wavelength() (float64, error) {
	return l.float("sens:wave", "read wavelength")
}

// SetWavelength sets the wavelength set point in nm.
func (l *Velocity6300) SetWavelength(nm float64) error {
	return l.Command("wave %s", formatNum(nm))
}

// SetWavelengthLimit moves the set point to the diode's "min" or "max".
func (l *Velocity6300) SetWavelengthLimit(limit string) error {
	limit = strings.ToLower(limit)
	if limit != "min" && limit != "max" {
		return wanglib.Errorf("6300", "set wavelength", wanglib.ErrOutOfRange, "limit must be min or max, got %q", limit)
	}
	return l.Command("wave %s", limit)
}

// WavelengthMin returns the shortest wavelength of this diode, in nm.
func (l *Velocity6300) WavelengthMin() (float64, error) {
	return l.float("wave ? min", "read minimum wavelength")
}

// WavelengthMax returns the longest wavelength of this diode, in nm.
func (l *Velocity6300) WavelengthMax() (float64, error) {
	return l.float("wave ? max", "read maximum wavelength")
}

// Piezo returns the piezo voltage as a percentage of full scale.
func (l *Velocity6300) Piezo() (float64, error) {
	return l.float("sens:volt:piez", "read piezo")
}

// SetPiezo sets the piezo voltage as a percentage of full scale.
func (l *Velocity6300) SetPiezo(pct float64) error {
	if pct < 0 || pct > 100 {
		return wanglib.Errorf("6300", "set piezo", wanglib.ErrOutOfRange, "%g%%", pct)
	}
	return l.Command("volt %s", formatNum(pct))
}

// Power returns the front facet power in mW.
func (l *Velocity6300) Power() (float64, error) {
	return l.float("sens:pow:fron", "read power")
}

// Current returns the diode current in mA.
func (l *Velocity6300) Current() (float64, error) {
	return l.float("sens:curr:diod", "read current")
}

// SetCurrent sets the diode current in mA.
func (l *Velocity6300) SetCurrent(mA float64) error {
	return l.Command("curr %s", formatNum(mA))
}

func (l *Velocity6300) float(cmd, op string) (float64, error) {
	v, err := query.Float64(l.bus, cmd)
	if err != nil {
		return 0, wanglib.Errorf("6300", op, err, "")
	}
	return v, nil
}

func formatNum(v float64) string {
	return fmt.Sprintf("%g", v)
}
