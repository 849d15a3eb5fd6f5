package lockin

import (
	"fmt"
	"strings"

	"github.com/baldwint/wanglib"
	"github.com/gotmc/query"
)

// EGG5110 is an EG&G model 5110 lock-in, typically at GPIB address 12.
type EGG5110 struct {
	bus wanglib.Bus
}

// EGG5110 full scale sensitivities, indexed by SEN code.
var egg5110Sensitivities = []wanglib.Quantity{
	q(100, "nV"), q(200, "nV"), q(500, "nV"),
	q(1, "uV"), q(2, "uV"), q(5, "uV"), q(10, "uV"), q(20, "uV"), q(50, "uV"), q(100, "uV"), q(200, "uV"), q(500, "uV"),
	q(1, "mV"), q(2, "mV"), q(5, "mV"), q(10, "mV"), q(20, "mV"), q(50, "mV"), q(100, "mV"), q(200, "mV"), q(500, "mV"),
	q(1, "V"),
}

// EGG5110 time constants, indexed by TC code. Code 0 is the minimum.
var egg5110TimeConstants = []wanglib.Quantity{
	q(0, "MIN"),
	q(1, "ms"), q(3, "ms"), q(10, "ms"), q(30, "ms"), q(100, "ms"), q(300, "ms"),
	q(1, "s"), q(3, "s"), q(10, "s"), q(30, "s"), q(100, "s"), q(300, "s"),
}

// NewEGG5110 returns the 5110 on bus after checking that it identifies as
// one.
func NewEGG5110(bus wanglib.Bus) (*EGG5110, error) {
	id, err := bus.Query("ID")
	if err != nil {
		return nil, wanglib.Errorf("5110", "identify", err, "")
	}
	if strings.TrimSpace(id) != "5110" {
		return nil, wanglib.Errorf("5110", "identify", wanglib.ErrUnexpectedResponse, "5110 lockin not found (ID %q)", id)
	}
	return &EGG5110{bus: bus}, nil
}

// Sensitivity returns the full scale sensitivity.
func (l *EGG5110) Sensitivity() (wanglib.Quantity, error) {
	return lookup("5110", "sensitivity", l.bus, "SEN", egg5110Sensitivities)
}

// SetSensitivity selects a sensitivity by its SEN code.
func (l *EGG5110) SetSensitivity(code int) error {
	if code < 0 || code >= len(egg5110Sensitivities) {
		return wanglib.Errorf("5110", "set sensitivity", wanglib.ErrOutOfRange, "code %d", code)
	}
	return l.bus.Command("SEN %d", code)
}

// TimeConstant returns the current time constant.
func (l *EGG5110) TimeConstant() (wanglib.Quantity, error) {
	return lookup("5110", "time constant", l.bus, "TC", egg5110TimeConstants)
}

// SetTimeConstant selects a time constant by its TC code.
func (l *EGG5110) SetTimeConstant(code int) error {
	if code < 0 || code >= len(egg5110TimeConstants) {
		return wanglib.Errorf("5110", "set time constant", wanglib.ErrOutOfRange, "code %d", code)
	}
	return l.bus.Command("TC %d", code)
}

// Measure reads X, Y or MAG as a fraction of full scale. The 5110 reports
// ten-thousandths of the sensitivity.
func (l *EGG5110) Measure(name string) (float64, error) {
	name = strings.ToUpper(name)
	switch name {
	case "X", "Y", "MAG":
	case "R":
		name = "MAG"
	default:
		return 0, wanglib.Errorf("5110", "measure", wanglib.ErrOutOfRange, "unknown output %q", name)
	}
	v, err := query.Int(l.bus, name)
	if err != nil {
		return 0, wanglib.Errorf("5110", "measure", err, "%s", name)
	}
	return float64(v) / 10000, nil
}

// MeasureWithUnit reads X, Y or MAG and scales it by the sensitivity, so
// the result carries the sensitivity's unit.
func (l *EGG5110) MeasureWithUnit(name string) (wanglib.Quantity, error) {
	frac, err := l.Measure(name)
	if err != nil {
		return wanglib.Quantity{}, err
	}
	sens, err := l.Sensitivity()
	if err != nil {
		return wanglib.Quantity{}, err
	}
	return wanglib.Quantity{Value: frac * sens.Value, Unit: sens.Unit}, nil
}

// X returns the in-phase signal as a fraction of full scale.
func (l *EGG5110) X() (float64, error) { return l.Measure("X") }

// Y returns the quadrature signal as a fraction of full scale.
func (l *EGG5110) Y() (float64, error) { return l.Measure("Y") }

// R returns the magnitude as a fraction of full scale.
func (l *EGG5110) R() (float64, error) { return l.Measure("MAG") }

// Phase returns the signal phase in degrees.
func (l *EGG5110) Phase() (float64, error) {
	mdeg, err := query.Int(l.bus, "PHA")
	if err != nil {
		return 0, wanglib.Errorf("5110", "read phase", err, "")
	}
	return float64(mdeg) / 1000, nil
}

// ADC reads one of the four ADC ports, in volts.
func (l *EGG5110) ADC(n int) (float64, error) {
	if n < 1 || n > 4 {
		return 0, wanglib.Errorf("5110", "read ADC", wanglib.ErrOutOfRange, "indicate ADC between 1 and 4, got %d", n)
	}
	mv, err := query.Int(l.bus, fmt.Sprintf("ADC %d", n))
	if err != nil {
		return 0, wanglib.Errorf("5110", "read ADC", err, "port %d", n)
	}
	return 0.001 * float64(mv), nil
}

// AutoPhase adjusts the reference phase to maximize X and minimize Y.
func (l *EGG5110) AutoPhase() error {
	return l.bus.Command("AQN")
}

// Lights reports whether the front panel lights are on.
func (l *EGG5110) Lights() (bool, error) {
	v, err := query.Int(l.bus, "LTS")
	if err != nil {
		return false, wanglib.Errorf("5110", "read lights", err, "")
	}
	return v != 0, nil
}

// SetLights turns the front panel lights on or off.
func (l *EGG5110) SetLights(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return l.bus.Command("LTS %d", v)
}
