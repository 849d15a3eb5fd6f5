// Package stage drives Newport motion controllers (ESP300 and MM3000) and
// the delay stages on the table.
//
// Newport command syntax overlaps between models: every command is prefixed
// with the axis number, and moves, limits and positions differ only in
// spelling. The shared behaviour lives in axis; ESP300 and MM3000 supply
// the model specific parts.
//
//	esp := plx.Instrument(9)
//	x := stage.NewESP300(esp, 1)
//	y := stage.NewESP300(esp, 2)
package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/baldwint/wanglib"
)

// DefaultPoll is how often Wait checks whether motion has finished.
const DefaultPoll = 500 * time.Millisecond

// model is what each controller type provides to the shared axis logic.
type model struct {
	name     string
	limitCmd string // move to hardware limit, followed by + or -
	posQuery string // absolute position query
	absMove  func(float64) string
	relMove  func(float64) string
	busy     func() (bool, error)
	setOn    func(bool) error
	home     func() error
}

type axis struct {
	bus   wanglib.Bus
	num   int
	poll  time.Duration
	oneMM float64 // one millimetre in stage units
	m     model
}

// Option configures an axis.
type Option func(*axis)

// WithPoll sets the interval Wait polls at.
func WithPoll(d time.Duration) Option {
	return func(a *axis) { a.poll = d }
}

// WithOneMM sets how many stage units make a millimetre, used by FindZero.
func WithOneMM(units float64) Option {
	return func(a *axis) { a.oneMM = units }
}

func newAxis(bus wanglib.Bus, num int, opts []Option) axis {
	a := axis{bus: bus, num: num, poll: DefaultPoll, oneMM: 1}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// cmd prepends the axis number to a command.
func (a *axis) cmd(format string, v ...any) string {
	return fmt.Sprintf("%d", a.num) + fmt.Sprintf(format, v...)
}

func (a *axis) write(format string, v ...any) error {
	if err := a.bus.Command("%s", a.cmd(format, v...)); err != nil {
		return wanglib.Errorf(a.m.name, "command", err, "axis %d", a.num)
	}
	return nil
}

// Axis returns the axis number.
func (a *axis) Axis() int { return a.num }

// Wait blocks until the motors stop moving or ctx is done.
func (a *axis) Wait(ctx context.Context) error {
	for {
		busy, err := a.m.busy()
		if err != nil {
			return err
		}
		if !busy {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.poll):
		}
	}
}

// Move moves the stage by delta and waits for it to stop.
func (a *axis) Move(ctx context.Context, delta float64) error {
	if err := a.write("%s", a.m.relMove(delta)); err != nil {
		return err
	}
	return a.Wait(ctx)
}

// MoveToLimit moves to the negative hardware limit when direction < 0 and
// the positive one otherwise. The ESP300 sometimes gives up on long
// searches, so get reasonably close first.
func (a *axis) MoveToLimit(ctx context.Context, direction int) error {
	sign := "+"
	if direction < 0 {
		sign = "-"
	}
	if err := a.write("%s%s", a.m.limitCmd, sign); err != nil {
		return err
	}
	return a.Wait(ctx)
}

// Position returns the absolute position of the stage.
func (a *axis) Position() (float64, error) {
	resp, err := a.bus.Query(a.cmd("%s", a.m.posQuery))
	if err != nil {
		return 0, wanglib.Errorf(a.m.name, "read position", err, "axis %d", a.num)
	}
	pos, err := wanglib.Num(strings.TrimRight(resp, " COUNTS"))
	if err != nil {
		return 0, wanglib.Errorf(a.m.name, "read position", wanglib.ErrUnexpectedResponse, "%q", resp)
	}
	return pos, nil
}

// SetPosition moves to an absolute position and waits for it to stop.
func (a *axis) SetPosition(ctx context.Context, pos float64) error {
	if err := a.write("%s", a.m.absMove(pos)); err != nil {
		return err
	}
	return a.Wait(ctx)
}

// SetOn turns the motor on or off.
func (a *axis) SetOn(on bool) error { return a.m.setOn(on) }

// Busy reports whether motion is in progress.
func (a *axis) Busy() (bool, error) { return a.m.busy() }

// FindZero places the origin one millimetre from the negative hardware
// limit.
func (a *axis) FindZero(ctx context.Context) error {
	if err := a.m.setOn(true); err != nil {
		return err
	}
	if err := a.MoveToLimit(ctx, -1); err != nil {
		return err
	}
	if err := a.Move(ctx, a.oneMM); err != nil {
		return err
	}
	return a.m.home()
}

// Positioner is a stage that can report and set its absolute position.
type Positioner interface {
	Position() (float64, error)
	SetPosition(ctx context.Context, pos float64) error
}

// DelayStage adds a delay (in picoseconds) to a stage used to delay pulses.
// The beam double passes the stage, and the delay is zero at the far end.
// Call FindZero on the stage before driving it by delay, or it may run out
// of range.
type DelayStage struct {
	Positioner
	Length float64 // stage length in stage units
	C      float64 // speed of light in stage units per picosecond
}

// Delay returns the delay in picoseconds.
func (d *DelayStage) Delay() (float64, error) {
	pos, err := d.Position()
	if err != nil {
		return 0, err
	}
	return 2 * (d.Length - pos) / d.C, nil
}

// SetDelay moves the stage to give a delay of ps picoseconds.
func (d *DelayStage) SetDelay(ctx context.Context, ps float64) error {
	return d.SetPosition(ctx, d.Length-d.C*ps*0.5)
}
