package stage

import (
	"fmt"
	"time"

	"github.com/baldwint/wanglib"
	"github.com/baldwint/wanglib/lib/serialbus"
	"github.com/gotmc/query"
)

// ESP300 is one axis of a Newport ESP300 motion controller, typically at
// GPIB address 9.
type ESP300 struct {
	axis
}

// Unit labels, indexed by SN code.
var esp300Units = []string{"counts", "steps", "mm", "um"}

// Unit label codes for SetUnit.
const (
	UnitCounts = iota
	UnitSteps
	UnitMM
	UnitUM
)

// NewESP300 returns axis num of the ESP300 on bus.
func NewESP300(bus wanglib.Bus, num int, opts ...Option) *ESP300 {
	s := &ESP300{axis: newAxis(bus, num, opts)}
	s.m = model{
		name:     "ESP300",
		limitCmd: "MT",
		posQuery: "PA?",
		absMove:  func(v float64) string { return fmt.Sprintf("PA%f", v) },
		relMove:  func(v float64) string { return fmt.Sprintf("PR%f", v) },
		busy:     s.busy,
		setOn:    s.setOn,
		home:     s.DefineHome,
	}
	return s
}

// OpenESP300Serial opens an ESP300 on an RS-232 port with the controller's
// settings (19200 baud, CR LF terminated) and returns the port for use with
// NewESP300. Pass a traffic log path to record every exchange.
func OpenESP300Serial(name, logFile string) (*serialbus.Port, error) {
	return serialbus.Open(name, serialbus.Config{
		Baud:         19200,
		ReadTimeout:  100 * time.Millisecond,
		QueryTimeout: 10 * time.Second,
		Term:         "\r\n",
		LogFile:      logFile,
	})
}

// On reports whether the motor is powered.
func (s *ESP300) On() (bool, error) {
	on, err := query.Int(s.bus, s.cmd("MO?"))
	if err != nil {
		return false, wanglib.Errorf("ESP300", "read motor state", err, "axis %d", s.num)
	}
	return on != 0, nil
}

func (s *ESP300) setOn(on bool) error {
	if on {
		return s.write("MO")
	}
	return s.write("MF")
}

func (s *ESP300) busy() (bool, error) {
	done, err := query.Int(s.bus, s.cmd("MD?"))
	if err != nil {
		return false, wanglib.Errorf("ESP300", "read motion done", err, "axis %d", s.num)
	}
	return done == 0, nil
}

// DefineHome makes the current position the origin.
func (s *ESP300) DefineHome() error {
	return s.write("DH0")
}

// DefineHomeAt makes the current position read as loc.
func (s *ESP300) DefineHomeAt(loc float64) error {
	return s.write("DH%f", loc)
}

func (s *ESP300) float(cmd, op string) (float64, error) {
	v, err := query.Float64(s.bus, s.cmd("%s", cmd))
	if err != nil {
		return 0, wanglib.Errorf("ESP300", op, err, "axis %d", s.num)
	}
	return v, nil
}

// EncoderResolution returns the distance represented by one encoder pulse.
func (s *ESP300) EncoderResolution() (float64, error) {
	return s.float("SU?", "read encoder resolution")
}

// SetEncoderResolution adjusts the encoder calibration.
func (s *ESP300) SetEncoderResolution(v float64) error { return s.write("SU%f", v) }

// StepSize returns the distance represented by one motor step.
func (s *ESP300) StepSize() (float64, error) { return s.float("FR?", "read step size") }

// SetStepSize adjusts the motor calibration.
func (s *ESP300) SetStepSize(v float64) error { return s.write("FR%f", v) }

// MaxVelocity returns the maximum motor velocity.
func (s *ESP300) MaxVelocity() (float64, error) { return s.float("VU?", "read max velocity") }

// SetMaxVelocity sets the maximum motor velocity.
func (s *ESP300) SetMaxVelocity(v float64) error { return s.write("VU%f", v) }

// Velocity returns the motor velocity.
func (s *ESP300) Velocity() (float64, error) { return s.float("VA?", "read velocity") }

// SetVelocity sets the motor velocity.
func (s *ESP300) SetVelocity(v float64) error { return s.write("VA%f", v) }

// Unit returns the unit label of the axis ("mm", "um", ...).
func (s *ESP300) Unit() (string, error) {
	code, err := query.Int(s.bus, s.cmd("SN?"))
	if err != nil {
		return "", wanglib.Errorf("ESP300", "read unit", err, "axis %d", s.num)
	}
	if code < 0 || code >= len(esp300Units) {
		return "", wanglib.Errorf("ESP300", "read unit", wanglib.ErrUnexpectedResponse, "code %d", code)
	}
	return esp300Units[code], nil
}

// SetUnit sets the unit label by code (UnitCounts, UnitSteps, UnitMM,
// UnitUM).
func (s *ESP300) SetUnit(code int) error {
	if code < 0 || code >= len(esp300Units) {
		return wanglib.Errorf("ESP300", "set unit", wanglib.ErrOutOfRange, "code %d", code)
	}
	return s.write("SN%d", code)
}
