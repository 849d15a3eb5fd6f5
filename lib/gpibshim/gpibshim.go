// Package gpibshim makes a raw GPIB device handle (a linux-gpib board
// device, a hz.tools/gpib device, or any other io.ReadWriter speaking to one
// instrument) behave like the wanglib.Bus the drivers expect.
//
// Raw handles differ from the Prologix instruments in two ways that matter:
// reads come back with the instrument's terminator still attached, and
// their own "ask" helpers do odd things. Device smooths both over.
package gpibshim

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/baldwint/wanglib"
)

// Device adapts a raw GPIB handle.
type Device struct {
	mu   sync.Mutex
	rw   io.ReadWriter
	term string
	size int
}

var _ wanglib.Bus = (*Device)(nil)

// Option configures a Device.
type Option func(*Device)

// WithTerminator sets what Write appends to commands. Default "\n".
func WithTerminator(term string) Option {
	return func(d *Device) { d.term = term }
}

// WithReadSize sets the largest response read in one go. Default 16 KiB.
func WithReadSize(n int) Option {
	return func(d *Device) { d.size = n }
}

// New wraps rw.
func New(rw io.ReadWriter, opts ...Option) *Device {
	d := &Device{rw: rw, term: "\n", size: 16 << 10}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Write sends cmd with the terminator appended.
func (d *Device) Write(cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(cmd)
}

// Read reads one response and strips trailing whitespace.
func (d *Device) Read() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read()
}

// Ask writes query and then reads the response.
func (d *Device) Ask(query string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.write(query); err != nil {
		return "", err
	}
	return d.read()
}

// Command implements wanglib.Bus.
func (d *Device) Command(format string, a ...any) error {
	if a != nil {
		format = fmt.Sprintf(format, a...)
	}
	return d.Write(format)
}

// Query implements wanglib.Bus.
func (d *Device) Query(cmd string) (string, error) {
	return d.Ask(cmd)
}

func (d *Device) write(cmd string) error {
	if _, err := io.WriteString(d.rw, cmd+d.term); err != nil {
		return fmt.Errorf("gpib write: %w", err)
	}
	return nil
}

func (d *Device) read() (string, error) {
	buf := make([]byte, d.size)
	n, err := d.rw.Read(buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return "", wanglib.ErrNoResponse
		}
		return "", fmt.Errorf("gpib read: %w", err)
	}
	return strings.TrimRight(string(buf[:n]), " \t\r\n"), nil
}
