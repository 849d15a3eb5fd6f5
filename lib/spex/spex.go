// Package spex controls Jobin-Yvon "SPEX" series monochromators over
// RS-232: the SPEX 750M and the TRIAX 320.
//
// Opening a spectrometer initializes its controller hardware, rebooting it
// once if the first attempt fails. On the 750M check the calibration
// against the wavelength counter in the window before trusting it:
//
//	beast, err := spex.Open750M(ctx, "/dev/ttyUSB0")
//	wl, err := beast.Wavelength(ctx) // should match the window
//	err = beast.Calibrate(ctx, 800)  // if it doesn't
//
// A wavelength scan is then a sequence of relative moves:
//
//	beast.SetWavelength(ctx, 750)
//	for range 200 {
//		beast.RelMove(ctx, 0.5)
//		// measure something
//	}
package spex

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/baldwint/wanglib"
	"github.com/baldwint/wanglib/lib/logging"
	"github.com/baldwint/wanglib/lib/serialbus"
	"github.com/rs/zerolog"
)

// Default serial ports of the two spectrometers on the table.
const (
	Default750MPort  = "/dev/ttyUSB0"
	DefaultTriaxPort = "/dev/ttyUSB1"
)

// Boot status characters.
const (
	StatusAutobauded = '*'
	StatusBooted     = 'B'
	StatusFlashed    = 'F'
)

// Wavelength limits accepted by SetWavelength, in nm.
const (
	MinWavelength = 0
	MaxWavelength = 1500
)

// SerialConfig is the line setting used by the Jobin-Yvon controllers.
func SerialConfig() serialbus.Config {
	return serialbus.Config{
		Baud:         19200,
		ReadTimeout:  100 * time.Millisecond,
		QueryTimeout: 10 * time.Second,
	}
}

// Option configures a spectrometer.
type Option func(*mono)

// WithLag sets how long Ask style exchanges wait for a reply. Default 50ms.
func WithLag(d time.Duration) Option { return func(m *mono) { m.lag = d } }

// WithPoll sets the interval used while waiting for motors. Default 50ms.
func WithPoll(d time.Duration) Option { return func(m *mono) { m.poll = d } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(m *mono) { m.log = l } }

// mono holds the serial protocol shared by all Jobin-Yvon controllers.
type mono struct {
	port       *serialbus.Port
	name       string
	stepsPerNM float64
	lag        time.Duration
	poll       time.Duration
	log        zerolog.Logger
}

func newMono(ctx context.Context, port *serialbus.Port, name string, opts []Option) (*mono, error) {
	m := &mono{
		port:       port,
		name:       name,
		stepsPerNM: 4000,
		lag:        50 * time.Millisecond,
		poll:       50 * time.Millisecond,
		log:        logging.WithComponent("spex"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.InitHardware(ctx); err != nil {
		m.log.Warn().Err(err).Str("model", name).Msg("rebooting once")
		if _, err := m.Reboot(); err != nil {
			return nil, err
		}
		if err := m.InitHardware(ctx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *mono) String() string { return m.name }

func (m *mono) errorf(op string, err error, format string, a ...any) error {
	return wanglib.Errorf(m.name, op, err, format, a...)
}

// Close closes the serial port.
func (m *mono) Close() error { return m.port.Close() }

// discard drops anything left over from earlier exchanges.
func (m *mono) discard() error {
	_, err := m.port.ReadAll()
	return err
}

// BootStatus sends the autobaud character and returns the controller's boot
// status: StatusAutobauded, StatusBooted or StatusFlashed.
func (m *mono) BootStatus() (byte, error) {
	if err := m.discard(); err != nil {
		return 0, err
	}
	resp, err := m.port.Ask(" ", m.lag)
	if err != nil {
		return 0, err
	}
	if resp == "" {
		return 0, m.errorf("boot status", wanglib.ErrNoResponse, "did not give a boot status")
	}
	switch resp[0] {
	case StatusAutobauded, StatusBooted, StatusFlashed:
		return resp[0], nil
	}
	return 0, m.errorf("boot status", wanglib.ErrUnexpectedResponse, "unknown boot status: %q", resp)
}

// Reboot reboots a controller that is not responding.
func (m *mono) Reboot() (string, error) {
	return m.port.Ask("\xde", m.lag)
}

// hiIQ sends the HI IQ character; the controller answers '=' when it is
// ready to be flashed.
func (m *mono) hiIQ() error {
	if err := m.discard(); err != nil {
		return err
	}
	resp, err := m.port.Ask("\xf7", m.lag)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(resp, "=") {
		return m.errorf("HI IQ", wanglib.ErrUnexpectedResponse, "command failed: %q", resp)
	}
	return nil
}

func (m *mono) flash() error {
	_, err := m.port.Ask("O2000\x00", m.lag)
	return err
}

// InitHardware brings the controller from autobauded to flashed.
func (m *mono) InitHardware(ctx context.Context) error {
	status, err := m.BootStatus()
	if err != nil {
		return err
	}
	if status == StatusAutobauded {
		if err := m.hiIQ(); err != nil {
			return err
		}
		if err := m.flash(); err != nil {
			return err
		}
	}
	if status, err = m.BootStatus(); err != nil {
		return err
	}
	if status != StatusFlashed {
		return m.errorf("init hardware", wanglib.ErrUnexpectedResponse, "hardware init failed (status %q)", status)
	}
	return ctx.Err()
}

// WaitForOK waits for at least expected bytes to arrive, then checks that
// the first is the 'o' status byte.
func (m *mono) WaitForOK(ctx context.Context, expected int) error {
	if err := m.port.WaitFor(ctx, expected); err != nil {
		return err
	}
	b, err := m.port.Read(ctx, 1)
	if err != nil {
		return err
	}
	if b != "o" {
		return m.errorf("command", wanglib.ErrUnexpectedResponse, "operation failed: %q", b)
	}
	return nil
}

// send discards stale input, writes cmd and waits for the 'o' status.
func (m *mono) send(ctx context.Context, expected int, format string, a ...any) error {
	if err := m.discard(); err != nil {
		return err
	}
	if err := m.port.Write(fmt.Sprintf(format, a...)); err != nil {
		return err
	}
	return m.WaitForOK(ctx, expected)
}

// Busy reports whether the motors are moving.
func (m *mono) Busy(ctx context.Context) (bool, error) {
	if err := m.port.Write("E"); err != nil {
		return false, err
	}
	if err := m.WaitForOK(ctx, 1); err != nil {
		return false, err
	}
	code, err := m.port.Read(ctx, 1)
	if err != nil {
		return false, err
	}
	switch code {
	case "q":
		return true, nil
	case "z":
		return false, nil
	}
	return false, m.errorf("busy", wanglib.ErrUnexpectedResponse, "%q", code)
}

// waitIdle polls Busy until the motors rest.
func (m *mono) waitIdle(ctx context.Context) error {
	for {
		busy, err := m.Busy(ctx)
		if err != nil || !busy {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.poll):
		}
	}
}

func (m *mono) steps(nm float64) int {
	return int(math.Round(nm * m.stepsPerNM))
}

// RelMove moves the grating by nm nanometres and waits for the motors.
func (m *mono) RelMove(ctx context.Context, nm float64) error {
	if err := m.send(ctx, 1, "F0,%d\r", m.steps(nm)); err != nil {
		return err
	}
	return m.waitIdle(ctx)
}

func checkRange(name string, wl float64) error {
	if wl < MinWavelength || wl > MaxWavelength {
		return wanglib.Errorf(name, "set wavelength", wanglib.ErrOutOfRange, "%g nm", wl)
	}
	return nil
}

func formatWL(wl float64) string {
	return strconv.FormatFloat(wl, 'f', -1, 64)
}
