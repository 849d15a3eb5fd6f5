package stage

import (
	"fmt"

	"github.com/baldwint/wanglib"
)

// MM3000 status bits.
const (
	StatusMoving       = 0
	StatusMotorOff     = 1
	StatusPositiveMove = 2
	StatusPosLimit     = 3
	StatusNegLimit     = 4
	StatusPositiveHome = 5
)

// MM3000 is one axis of a Newport MM3000 motion controller (firmware 2.2),
// typically at GPIB address 8. It only accepts integer positions.
type MM3000 struct {
	axis
}

// NewMM3000 returns axis num of the MM3000 on bus.
func NewMM3000(bus wanglib.Bus, num int, opts ...Option) *MM3000 {
	s := &MM3000{axis: newAxis(bus, num, opts)}
	s.m = model{
		name:     "MM3000",
		limitCmd: "ML",
		posQuery: "TP",
		absMove:  func(v float64) string { return fmt.Sprintf("PA%d", int(v)) },
		relMove:  func(v float64) string { return fmt.Sprintf("PR%d", int(v)) },
		busy:     func() (bool, error) { return s.StatusBit(StatusMoving) },
		setOn:    s.setOn,
		home:     s.DefineHome,
	}
	return s
}

// MotorStatus returns the motor status byte.
func (s *MM3000) MotorStatus() (byte, error) {
	resp, err := s.bus.Query(s.cmd("MS"))
	if err != nil {
		return 0, wanglib.Errorf("MM3000", "read status", err, "axis %d", s.num)
	}
	if resp == "" {
		return 0, wanglib.Errorf("MM3000", "read status", wanglib.ErrUnexpectedResponse, "empty status")
	}
	return resp[0], nil
}

// StatusBit picks one bit out of the motor status byte.
func (s *MM3000) StatusBit(bit int) (bool, error) {
	sb, err := s.MotorStatus()
	if err != nil {
		return false, err
	}
	return (sb>>bit)&1 == 1, nil
}

// On reports whether the motor is powered.
func (s *MM3000) On() (bool, error) {
	off, err := s.StatusBit(StatusMotorOff)
	return !off, err
}

func (s *MM3000) setOn(on bool) error {
	if on {
		return s.write("MO")
	}
	return s.write("MF")
}

// DefineHome makes the current position the origin.
func (s *MM3000) DefineHome() error {
	return s.write("DH")
}
