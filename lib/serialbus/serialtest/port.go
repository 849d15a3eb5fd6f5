// Package serialtest provides an in-memory serialbus.RawPort.
package serialtest

import (
	"bytes"
	"sync"
)

// Port is an in-memory serial port. Every Write is handed to Respond and
// whatever it returns becomes readable. Reads of an empty port return
// (0, nil), like a real port whose read timeout expired.
type Port struct {
	// Respond answers one write. It may be nil.
	Respond func(written string) string

	mu      sync.Mutex
	out     bytes.Buffer
	writes  []string
	closed  bool
	flushes int
}

// Write implements io.Writer.
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := string(b)
	p.writes = append(p.writes, s)
	if p.Respond != nil {
		p.out.WriteString(p.Respond(s))
	}
	return len(b), nil
}

// Read implements io.Reader.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out.Len() == 0 {
		return 0, nil
	}
	return p.out.Read(b)
}

// Feed makes s readable as if the instrument sent it unprompted.
func (p *Port) Feed(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.WriteString(s)
}

// ResetInputBuffer discards unread data.
func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.out.Reset()
	p.flushes++
	return nil
}

// Close marks the port closed.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Writes returns everything written, one entry per Write call.
func (p *Port) Writes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

// Closed reports whether Close was called.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Flushes reports how many times the input buffer was reset.
func (p *Port) Flushes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushes
}
