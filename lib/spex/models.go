package spex

import (
	"context"
	"strconv"
	"strings"

	"github.com/baldwint/wanglib"
	"github.com/baldwint/wanglib/lib/serialbus"
)

// Spex750M is a SPEX 750M, which counts grating position in motor steps
// (4000 per nm).
type Spex750M struct {
	*mono
}

// New750M initializes the 750M on port.
func New750M(ctx context.Context, port *serialbus.Port, opts ...Option) (*Spex750M, error) {
	m, err := newMono(ctx, port, "Spex 750M", opts)
	if err != nil {
		return nil, err
	}
	return &Spex750M{m}, nil
}

// Open750M opens the 750M on the named serial port (Default750MPort when
// empty).
func Open750M(ctx context.Context, name string, opts ...Option) (*Spex750M, error) {
	if name == "" {
		name = Default750MPort
	}
	port, err := serialbus.Open(name, SerialConfig())
	if err != nil {
		return nil, err
	}
	s, err := New750M(ctx, port, opts...)
	if err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

// Calibrate tells the 750M that it currently sits at wl nm (read from the
// window).
func (s *Spex750M) Calibrate(ctx context.Context, wl float64) error {
	return s.send(ctx, 1, "G0,%d\r", s.steps(wl))
}

// Wavelength returns the current wavelength in nm.
func (s *Spex750M) Wavelength(ctx context.Context) (float64, error) {
	if err := s.send(ctx, 1, "HO\r"); err != nil {
		return 0, err
	}
	resp, err := s.port.ReadAll()
	if err != nil {
		return 0, err
	}
	steps, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return 0, s.errorf("read wavelength", wanglib.ErrUnexpectedResponse, "%q", resp)
	}
	return float64(steps) / s.stepsPerNM, nil
}

// SetWavelength moves to wl nm, assuming a proper calibration.
func (s *Spex750M) SetWavelength(ctx context.Context, wl float64) error {
	if err := checkRange(s.name, wl); err != nil {
		return err
	}
	cur, err := s.Wavelength(ctx)
	if err != nil {
		return err
	}
	return s.RelMove(ctx, wl-cur)
}

// Triax320 is a TRIAX 320. Unlike the 750M it works in wavelength units,
// has motorized entrance and exit slits and zeroes its grating on
// power-up.
type Triax320 struct {
	*mono
}

// Slit numbers on the TRIAX 320.
const (
	EntranceSlit = 0
	ExitSlit     = 2
)

// NewTriax320 initializes the Triax on port.
func NewTriax320(ctx context.Context, port *serialbus.Port, opts ...Option) (*Triax320, error) {
	m, err := newMono(ctx, port, "Triax 320", opts)
	if err != nil {
		return nil, err
	}
	return &Triax320{m}, nil
}

// OpenTriax320 opens the Triax on the named serial port (DefaultTriaxPort
// when empty).
func OpenTriax320(ctx context.Context, name string, opts ...Option) (*Triax320, error) {
	if name == "" {
		name = DefaultTriaxPort
	}
	port, err := serialbus.Open(name, SerialConfig())
	if err != nil {
		return nil, err
	}
	s, err := NewTriax320(ctx, port, opts...)
	if err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

// Calibrate sets the wavelength reading without moving the motor.
func (s *Triax320) Calibrate(ctx context.Context, wl float64) error {
	return s.send(ctx, 1, "Z60,1,%s\r", formatWL(wl))
}

// Wavelength returns the current wavelength in nm.
func (s *Triax320) Wavelength(ctx context.Context) (float64, error) {
	if err := s.send(ctx, 8, "Z62,1\r"); err != nil {
		return 0, err
	}
	resp, err := s.port.ReadAll()
	if err != nil {
		return 0, err
	}
	wl, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, s.errorf("read wavelength", wanglib.ErrUnexpectedResponse, "%q", resp)
	}
	return wl, nil
}

// SetWavelength moves to wl nm and waits for the motors.
func (s *Triax320) SetWavelength(ctx context.Context, wl float64) error {
	if err := checkRange(s.name, wl); err != nil {
		return err
	}
	if err := s.send(ctx, 1, "Z61,1,%s\r", formatWL(wl)); err != nil {
		return err
	}
	return s.waitIdle(ctx)
}

// MoveSlit moves a slit motor by amount steps.
func (s *Triax320) MoveSlit(ctx context.Context, slit int, amount int) error {
	if err := s.send(ctx, 1, "k0,%d,%d\r", slit, amount); err != nil {
		return err
	}
	return s.waitIdle(ctx)
}

// Slit returns the absolute position of a slit.
func (s *Triax320) Slit(ctx context.Context, slit int) (float64, error) {
	if err := s.send(ctx, 1, "j0,%d\r", slit); err != nil {
		return 0, err
	}
	resp, err := s.port.ReadAll()
	if err != nil {
		return 0, err
	}
	pos, err := strconv.ParseFloat(strings.TrimSpace(resp), 64)
	if err != nil {
		return 0, s.errorf("read slit", wanglib.ErrUnexpectedResponse, "%q", resp)
	}
	return pos, nil
}

// SetSlit moves a slit to an absolute position, closing it to zero first
// to take up backlash.
func (s *Triax320) SetSlit(ctx context.Context, slit int, pos int) error {
	start, err := s.Slit(ctx, slit)
	if err != nil {
		return err
	}
	if err := s.MoveSlit(ctx, slit, -int(start)); err != nil {
		return err
	}
	return s.MoveSlit(ctx, slit, pos)
}

// Slits returns the entrance and exit slit settings.
func (s *Triax320) Slits(ctx context.Context) (entrance, exit float64, err error) {
	if entrance, err = s.Slit(ctx, EntranceSlit); err != nil {
		return 0, 0, err
	}
	if exit, err = s.Slit(ctx, ExitSlit); err != nil {
		return 0, 0, err
	}
	return entrance, exit, nil
}

// SetSlits sets the entrance and exit slits.
func (s *Triax320) SetSlits(ctx context.Context, entrance, exit int) error {
	if err := s.SetSlit(ctx, EntranceSlit, entrance); err != nil {
		return err
	}
	return s.SetSlit(ctx, ExitSlit, exit)
}

// MotorInit moves every motor to its power-up position. This zeroes the
// grating and both slits; reopen the slits afterwards.
func (s *Triax320) MotorInit(ctx context.Context) error {
	if err := s.port.Write("A"); err != nil {
		return err
	}
	return s.WaitForOK(ctx, 1)
}
