// Package serialbus talks to RS-232 instruments (spectrometers, the
// wavemeter, motion controllers) that are not behind a GPIB controller.
//
// A Port buffers whatever the instrument sends so that callers can wait for
// a given number of bytes, drain everything available, or read a line, and
// can optionally log all traffic to a file.
package serialbus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/baldwint/wanglib"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"go.uber.org/multierr"
)

// pollInterval is how long to wait between reads when nothing arrived.
const pollInterval = 50 * time.Millisecond

const (
	readSize = 256
	// maxDrainReads caps ReadAll on a port that never goes quiet.
	maxDrainReads = 16
)

// RawPort is the byte stream under a Port. go.bug.st/serial ports satisfy
// it; a Read returning (0, nil) means nothing arrived before the read
// timeout.
type RawPort interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

// Config describes the serial line and how commands are framed.
type Config struct {
	Baud        int
	DataBits    int
	Parity      serial.Parity
	StopBits    serial.StopBits
	ReadTimeout time.Duration // per raw read

	// Term is appended to everything written, e.g. "\r".
	Term string
	// LineEnd ends responses read with ReadLine and Query. Defaults to
	// "\r\n".
	LineEnd string
	// QueryTimeout bounds Query. Defaults to 2s.
	QueryTimeout time.Duration

	// LogFile, when set, receives every write and read.
	LogFile string
}

func (c *Config) defaults() {
	if c.Baud == 0 {
		c.Baud = 9600
	}
	if c.DataBits == 0 {
		c.DataBits = 8
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 100 * time.Millisecond
	}
	if c.LineEnd == "" {
		c.LineEnd = "\r\n"
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 2 * time.Second
	}
}

// Port is a buffered serial connection. It is safe for concurrent use.
type Port struct {
	mu      sync.Mutex
	raw     RawPort
	cfg     Config
	pending []byte

	traffic zerolog.Logger
	logf    *os.File
	start   time.Time
}

var _ wanglib.Bus = (*Port)(nil)

// Open opens the named serial port (e.g. /dev/ttyUSB0 or COM2).
func Open(name string, cfg Config) (*Port, error) {
	cfg.defaults()
	p, err := serial.Open(name, &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("setting read timeout on %s: %w", name, err)
	}
	port, err := New(p, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	return port, nil
}

// New wraps an already open port.
func New(raw RawPort, cfg Config) (*Port, error) {
	cfg.defaults()
	p := &Port{raw: raw, cfg: cfg, traffic: zerolog.Nop(), start: time.Now()}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening traffic log: %w", err)
		}
		p.logf = f
		p.traffic = zerolog.New(f).With().Timestamp().Logger()
		p.traffic.Info().Str("event", "start").Msg("start logging")
	}
	return p, nil
}

func (p *Port) logEvent(event string, data []byte) {
	p.traffic.Info().
		Float64("elapsed", time.Since(p.start).Seconds()).
		Str("event", event).
		Str("data", wanglib.ShowNewlines(string(data))).
		Send()
}

// Write sends data followed by the configured terminator.
func (p *Port) Write(data string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(data)
}

func (p *Port) write(data string) error {
	b := []byte(data + p.cfg.Term)
	if _, err := p.raw.Write(b); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	p.logEvent("write", b)
	return nil
}

// fill does one raw read into the pending buffer and reports how many bytes
// arrived.
func (p *Port) fill() (int, error) {
	buf := make([]byte, readSize)
	n, err := p.raw.Read(buf)
	if n > 0 {
		p.pending = append(p.pending, buf[:n]...)
		p.logEvent("read", buf[:n])
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("serial read: %w", err)
	}
	return n, nil
}

func (p *Port) take(n int) string {
	s := string(p.pending[:n])
	p.pending = p.pending[n:]
	return s
}

// Buffered returns the number of bytes received and not yet read.
func (p *Port) Buffered() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.fill(); err != nil {
		return 0, err
	}
	return len(p.pending), nil
}

// WaitFor blocks until at least n bytes have been received.
func (p *Port) WaitFor(ctx context.Context, n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitFor(ctx, n)
}

func (p *Port) waitFor(ctx context.Context, n int) error {
	for len(p.pending) < n {
		if err := ctx.Err(); err != nil {
			return err
		}
		got, err := p.fill()
		if err != nil {
			return err
		}
		if got == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
		}
	}
	return nil
}

// Read returns exactly n bytes, waiting for them if necessary.
func (p *Port) Read(ctx context.Context, n int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.waitFor(ctx, n); err != nil {
		return "", err
	}
	return p.take(n), nil
}

// ReadAll returns what has been received so far, which may be nothing. It
// stops at the first short read, so an instrument that talks continuously
// cannot keep it busy.
func (p *Port) ReadAll() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readAll()
}

func (p *Port) readAll() (string, error) {
	for range maxDrainReads {
		n, err := p.fill()
		if err != nil {
			return "", err
		}
		if n < readSize {
			break
		}
	}
	return p.take(len(p.pending)), nil
}

// ReadLine reads up to and including the configured line ending and
// returns the line without it.
func (p *Port) ReadLine(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readLine(ctx)
}

func (p *Port) readLine(ctx context.Context) (string, error) {
	end := []byte(p.cfg.LineEnd)
	for {
		if i := bytes.Index(p.pending, end); i >= 0 {
			s := p.take(i + len(end))
			return s[:i], nil
		}
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", wanglib.ErrNoResponse, err)
		}
		got, err := p.fill()
		if err != nil {
			return "", err
		}
		if got == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(pollInterval):
			}
		}
	}
}

// Ask writes query, waits lag, and returns whatever has arrived.
func (p *Port) Ask(query string, lag time.Duration) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write(query); err != nil {
		return "", err
	}
	time.Sleep(lag)
	return p.readAll()
}

// Command implements wanglib.Bus.
func (p *Port) Command(format string, a ...any) error {
	if a != nil {
		format = fmt.Sprintf(format, a...)
	}
	return p.Write(format)
}

// Query implements wanglib.Bus: it writes cmd and reads one line.
func (p *Port) Query(cmd string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.write(cmd); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.QueryTimeout)
	defer cancel()
	return p.readLine(ctx)
}

// Flush discards buffered input.
func (p *Port) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = nil
	return p.raw.ResetInputBuffer()
}

// Close closes the port and the traffic log.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.raw.Close()
	if p.logf != nil {
		err = multierr.Append(err, p.logf.Close())
		p.logf = nil
	}
	return err
}
