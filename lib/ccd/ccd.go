// Package ccd is a client for the LabVIEW CCD server attached to the Spex
// 750M spectrometer.
//
// The server computes the wavelength axis from its dispersion calibration,
// so the client must be told the spectrometer's center wavelength. Update
// CenterWL whenever the grating moves:
//
//	c, err := ccd.Dial(ctx, "128.223.131.20", 800)
//	...
//	c.CenterWL = 750
//	spec, err := c.Spectrum(ctx)
//	counts := spec.Sum()
package ccd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/baldwint/wanglib"
	"github.com/baldwint/wanglib/lib/logging"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultPort is the server's TCP port.
const DefaultPort = "3663"

// headerLen is the width of the ASCII length field preceding each
// spectrum.
const headerLen = 7

// Client talks to the CCD server. It is safe for concurrent use; shots are
// serialized.
type Client struct {
	// CenterWL is the spectrometer's center wavelength in nm.
	CenterWL float64

	mu   sync.Mutex
	addr string
	conn net.Conn
	log  zerolog.Logger
}

// Dial connects to the server at host (optionally host:port).
func Dial(ctx context.Context, host string, centerWL float64) (*Client, error) {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, DefaultPort)
	}
	c := &Client{CenterWL: centerWL, addr: addr, log: logging.WithComponent("ccd")}
	if err := c.Reconnect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Reconnect re-establishes the connection. Call it after the LabVIEW
// program has been stopped and restarted.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("connecting to CCD server %s: %w", c.addr, err)
	}
	c.conn = conn
	c.log.Debug().Str("addr", c.addr).Msg("connected")
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Spectrum is one CCD shot.
type Spectrum struct {
	// WL is the horizontal (wavelength) axis.
	WL []float64
	// Counts has one row per CCD row and one column per WL entry.
	Counts *mat.Dense
}

// Sum collapses the CCD rows into one spectrum matching WL.
func (s *Spectrum) Sum() []float64 {
	rows, cols := s.Counts.Dims()
	out := make([]float64, cols)
	for i := range rows {
		floats.Add(out, s.Counts.RawRowView(i))
	}
	return out
}

// Peak returns the wavelength of the brightest column.
func (s *Spectrum) Peak() float64 {
	return s.WL[floats.MaxIdx(s.Sum())]
}

// Spectrum takes a shot.
func (c *Client) Spectrum(ctx context.Context) (*Spectrum, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, errors.New("ccd: not connected")
	}
	defer c.conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	req := "Q" + strconv.FormatFloat(100*c.CenterWL, 'f', -1, 64)
	if _, err := io.WriteString(c.conn, req); err != nil {
		return nil, c.wrap(ctx, err)
	}

	header := make([]byte, headerLen)
	if n, err := io.ReadFull(c.conn, header); err != nil {
		if n == 0 && ctx.Err() == nil {
			return nil, wanglib.Errorf("CCD server", "read header", wanglib.ErrNoResponse,
				"nothing received, try reconnecting (%v)", err)
		}
		return nil, c.wrap(ctx, err)
	}
	size, err := strconv.Atoi(strings.TrimSpace(string(header)))
	if err != nil || size < 0 {
		return nil, wanglib.Errorf("CCD server", "read header", wanglib.ErrUnexpectedResponse, "length %q", header)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, c.wrap(ctx, err)
	}
	c.log.Debug().Int("bytes", size).Float64("center", c.CenterWL).Msg("shot")
	return Parse(string(body))
}

// wrap prefers the context's error when it caused a network error.
func (c *Client) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("ccd: %w", ctx.Err())
	}
	return fmt.Errorf("ccd: %w", err)
}

// Parse parses the server's payload: newline separated rows of tab
// separated numbers. The first row is the wavelength axis.
func Parse(data string) (*Spectrum, error) {
	lines := strings.Split(strings.TrimRight(data, "\r\n"), "\n")
	if len(lines) < 2 {
		return nil, wanglib.Errorf("CCD server", "parse spectrum", wanglib.ErrUnexpectedResponse,
			"%d rows, need an axis and at least one row of counts", len(lines))
	}
	var (
		cols   int
		values []float64
	)
	for i, line := range lines {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if i == 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, wanglib.Errorf("CCD server", "parse spectrum", wanglib.ErrUnexpectedResponse,
				"row %d has %d columns, want %d", i, len(fields), cols)
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return nil, wanglib.Errorf("CCD server", "parse spectrum", wanglib.ErrUnexpectedResponse,
					"row %d: %v", i, err)
			}
			values = append(values, v)
		}
	}
	return &Spectrum{
		WL:     values[:cols],
		Counts: mat.NewDense(len(lines)-1, cols, values[cols:]),
	}, nil
}
