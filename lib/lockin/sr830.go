// Package lockin drives lock-in amplifiers: the Stanford Research Systems
// SR830 and the EG&G 5110.
//
// Drivers take any wanglib.Bus, so a Prologix instrument, a serial port or a
// raw GPIB device all work:
//
//	li := lockin.NewSR830(plx.Instrument(8))
//	r, err := li.R()
package lockin

import (
	"fmt"
	"strings"

	"github.com/baldwint/wanglib"
	"github.com/gotmc/query"
)

// SR830 is a Stanford Research Systems SR830 DSP lock-in, typically at GPIB
// address 8.
type SR830 struct {
	bus wanglib.Bus
}

// NewSR830 returns an SR830 on bus.
func NewSR830(bus wanglib.Bus) *SR830 {
	return &SR830{bus: bus}
}

var sr830Outputs = map[string]int{
	"X":     1,
	"Y":     2,
	"MAG":   3,
	"R":     3,
	"THETA": 4,
}

func q(v float64, unit string) wanglib.Quantity {
	return wanglib.Quantity{Value: v, Unit: unit}
}

// SR830 time constants, indexed by OFLT code.
var sr830TimeConstants = []wanglib.Quantity{
	q(10, "us"), q(30, "us"), q(100, "us"), q(300, "us"),
	q(1, "ms"), q(3, "ms"), q(10, "ms"), q(30, "ms"), q(100, "ms"), q(300, "ms"),
	q(1, "s"), q(3, "s"), q(10, "s"), q(30, "s"), q(100, "s"), q(300, "s"),
	q(1, "ks"), q(3, "ks"), q(10, "ks"), q(30, "ks"),
}

// SR830 full scale sensitivities, indexed by SENS code.
var sr830Sensitivities = []wanglib.Quantity{
	q(2, "nV"), q(5, "nV"), q(10, "nV"), q(20, "nV"), q(50, "nV"), q(100, "nV"), q(200, "nV"), q(500, "nV"),
	q(1, "uV"), q(2, "uV"), q(5, "uV"), q(10, "uV"), q(20, "uV"), q(50, "uV"), q(100, "uV"), q(200, "uV"), q(500, "uV"),
	q(1, "mV"), q(2, "mV"), q(5, "mV"), q(10, "mV"), q(20, "mV"), q(50, "mV"), q(100, "mV"), q(200, "mV"), q(500, "mV"),
	q(1, "V"),
}

// Measure reads one of X, Y, MAG (or R) and THETA, in volts or degrees.
func (l *SR830) Measure(name string) (float64, error) {
	n, ok := sr830Outputs[strings.ToUpper(name)]
	if !ok {
		return 0, wanglib.Errorf("SR830", "measure", wanglib.ErrOutOfRange, "unknown output %q", name)
	}
	v, err := query.Float64(l.bus, fmt.Sprintf("OUTP?%d", n))
	if err != nil {
		return 0, wanglib.Errorf("SR830", "measure", err, "%s", name)
	}
	return v, nil
}

// X returns the in-phase signal in volts.
func (l *SR830) X() (float64, error) { return l.Measure("X") }

// Y returns the quadrature signal in volts.
func (l *SR830) Y() (float64, error) { return l.Measure("Y") }

// R returns the signal magnitude in volts.
func (l *SR830) R() (float64, error) { return l.Measure("MAG") }

// ADC reads auxiliary input n (1 through 4) in volts.
func (l *SR830) ADC(n int) (float64, error) {
	if n < 1 || n > 4 {
		return 0, wanglib.Errorf("SR830", "read ADC", wanglib.ErrOutOfRange, "indicate ADC in range 1-4, got %d", n)
	}
	v, err := query.Float64(l.bus, fmt.Sprintf("OAUX?%d", n))
	if err != nil {
		return 0, wanglib.Errorf("SR830", "read ADC", err, "port %d", n)
	}
	return v, nil
}

// TimeConstant returns the current time constant.
func (l *SR830) TimeConstant() (wanglib.Quantity, error) {
	return lookup("SR830", "time constant", l.bus, "OFLT?", sr830TimeConstants)
}

// SetTimeConstant selects a time constant by its OFLT code.
func (l *SR830) SetTimeConstant(code int) error {
	if code < 0 || code >= len(sr830TimeConstants) {
		return wanglib.Errorf("SR830", "set time constant", wanglib.ErrOutOfRange, "code %d", code)
	}
	return l.bus.Command("OFLT %d", code)
}

// Sensitivity returns the full scale sensitivity.
func (l *SR830) Sensitivity() (wanglib.Quantity, error) {
	return lookup("SR830", "sensitivity", l.bus, "SENS?", sr830Sensitivities)
}

// SetSensitivity selects a sensitivity by its SENS code.
func (l *SR830) SetSensitivity(code int) error {
	if code < 0 || code >= len(sr830Sensitivities) {
		return wanglib.Errorf("SR830", "set sensitivity", wanglib.ErrOutOfRange, "code %d", code)
	}
	return l.bus.Command("SENS %d", code)
}

// lookup queries an integer code and maps it through table.
func lookup(model, what string, bus wanglib.Bus, cmd string, table []wanglib.Quantity) (wanglib.Quantity, error) {
	code, err := query.Int(bus, cmd)
	if err != nil {
		return wanglib.Quantity{}, wanglib.Errorf(model, "read "+what, err, "")
	}
	if code < 0 || code >= len(table) {
		return wanglib.Quantity{}, wanglib.Errorf(model, "read "+what, wanglib.ErrUnexpectedResponse, "code %d", code)
	}
	return table[code], nil
}
