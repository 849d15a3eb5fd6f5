// Package wavemeter reads Burleigh wavemeters, which broadcast their
// readings continuously over RS-232.
package wavemeter

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/baldwint/wanglib"
	"github.com/baldwint/wanglib/lib/acquire"
	"github.com/baldwint/wanglib/lib/serialbus"
)

// DefaultPort is where the wavemeter is usually plugged in.
const DefaultPort = "/dev/ttyUSB0"

// Display status masks (manual appendix B).
var (
	unitMasks = map[uint16]string{
		0x0009: "nm",
		0x0012: "cm-1",
		0x0024: "GHz",
	}
	displayMasks = map[uint16]string{
		0x0040: "wavelength",
		0x0080: "deviation",
	}
)

// parseCode picks the entry of masks matched by code, considering only the
// bits the masks use.
func parseCode(code uint16, masks map[uint16]string) (string, error) {
	var all uint16
	for k := range masks {
		all |= k
	}
	if s, ok := masks[code&all]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: status 0x%04x", wanglib.ErrUnexpectedResponse, code)
}

// Reading is one parsed broadcast.
type Reading struct {
	// Value is the wavelength (or frequency). NaN when the wavemeter has
	// no lock.
	Value   float64
	Display uint16
	System  uint16
}

// Unit returns the unit of Value.
func (r Reading) Unit() (string, error) { return parseCode(r.Display, unitMasks) }

// Mode returns "wavelength" or "deviation".
func (r Reading) Mode() (string, error) { return parseCode(r.Display, displayMasks) }

// Parse parses a broadcast line "<measurement>,<display hex>,<system hex>".
func Parse(line string) (Reading, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 3 {
		return Reading{}, fmt.Errorf("%w: broadcast %q", wanglib.ErrUnexpectedResponse, line)
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		val = math.NaN()
	}
	display, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 16, 16)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: display status %q", wanglib.ErrUnexpectedResponse, parts[1])
	}
	system, err := strconv.ParseUint(strings.TrimSpace(parts[2]), 16, 16)
	if err != nil {
		return Reading{}, fmt.Errorf("%w: system status %q", wanglib.ErrUnexpectedResponse, parts[2])
	}
	return Reading{Value: val, Display: uint16(display), System: uint16(system)}, nil
}

// Burleigh is a Burleigh wavemeter.
type Burleigh struct {
	port *serialbus.Port
	echo io.Writer
}

// Open opens the wavemeter on the named serial port (DefaultPort when
// empty).
func Open(name string) (*Burleigh, error) {
	if name == "" {
		name = DefaultPort
	}
	port, err := serialbus.Open(name, serialbus.Config{Baud: 9600, LineEnd: "\r\n"})
	if err != nil {
		return nil, err
	}
	return New(port), nil
}

// New returns the wavemeter broadcasting on port.
func New(port *serialbus.Port) *Burleigh {
	return &Burleigh{port: port}
}

// SetEcho makes Stream write each raw broadcast to w, overwriting the
// previous one on a terminal.
func (b *Burleigh) SetEcho(w io.Writer) { b.echo = w }

// Close closes the serial port.
func (b *Burleigh) Close() error { return b.port.Close() }

// Purge drops old broadcasts from the buffer.
func (b *Burleigh) Purge(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.port.ReadAll()
	return err
}

// Read purges stale data and parses the next broadcast.
func (b *Burleigh) Read(ctx context.Context) (Reading, error) {
	if err := b.Purge(ctx); err != nil {
		return Reading{}, err
	}
	return b.next(ctx)
}

func (b *Burleigh) next(ctx context.Context) (Reading, error) {
	line, err := b.port.ReadLine(ctx)
	if err != nil {
		return Reading{}, err
	}
	if b.echo != nil {
		fmt.Fprintf(b.echo, "\r%s", line)
	}
	return Parse(line)
}

// Wavelength returns the current wavelength (or frequency).
func (b *Burleigh) Wavelength(ctx context.Context) (float64, error) {
	r, err := b.Read(ctx)
	return r.Value, err
}

// Unit returns the unit the wavemeter is displaying.
func (b *Burleigh) Unit(ctx context.Context) (string, error) {
	r, err := b.Read(ctx)
	if err != nil {
		return "", err
	}
	return r.Unit()
}

// Display returns "wavelength" or "deviation".
func (b *Burleigh) Display(ctx context.Context) (string, error) {
	r, err := b.Read(ctx)
	if err != nil {
		return "", err
	}
	return r.Mode()
}

// Stream yields (seconds since start, value) for every broadcast until ctx
// is done.
func (b *Burleigh) Stream(ctx context.Context) acquire.Source {
	return func(yield func(acquire.Sample, error) bool) {
		start := time.Now()
		if err := b.Purge(ctx); err != nil {
			if ctx.Err() == nil {
				yield(nil, err)
			}
			return
		}
		for ctx.Err() == nil {
			r, err := b.next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(nil, err)
				return
			}
			if !yield(acquire.XY(time.Since(start).Seconds(), r.Value), nil) {
				return
			}
		}
	}
}
