// Package prologixtest provides an in-memory Prologix controller for tests.
//
// The fake understands the ++ commands the prologix package sends, keeps
// the controller state (address, read-after-write, ...) and routes
// instrument traffic to handler functions attached per GPIB address.
package prologixtest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// ErrTimeout is returned by Read when no response is pending.
var ErrTimeout = timeoutError{}

type timeoutError struct{}

func (timeoutError) Error() string { return "prologixtest: read timeout" }
func (timeoutError) Timeout() bool { return true }

// Handler answers a line written to an instrument. An empty response means
// the instrument has nothing to say.
type Handler func(cmd string) string

// Responses returns a Handler answering from a fixed table and staying
// silent for anything else.
func Responses(table map[string]string) Handler {
	return func(cmd string) string { return table[cmd] }
}

type instrument struct {
	h       Handler
	pending string
	cmds    []string
	cleared int
	local   bool
}

// Fake is an in-memory Prologix controller. It is an io.ReadWriter: writes
// are processed synchronously and responses become readable immediately.
type Fake struct {
	// Version is returned by ++ver.
	Version string
	// NoSaveCfg makes ++savecfg answer "Unrecognized command" like old
	// firmware.
	NoSaveCfg bool
	// SRQ is the state reported by ++srq.
	SRQ bool

	mu      sync.Mutex
	in      []byte
	out     bytes.Buffer
	lines   []string
	addr    int
	sad     int
	auto    bool
	savecfg bool
	eos     int
	readTmo int
	eotChar byte
	insts   map[int]*instrument
}

// New returns a fake controller with power-on defaults.
func New() *Fake {
	return &Fake{
		Version: "Prologix GPIB-USB Controller version 6.107",
		addr:    10,
		auto:    true,
		savecfg: true,
		readTmo: 500,
		eotChar: '\n',
		insts:   make(map[int]*instrument),
	}
}

// Attach puts an instrument with the given handler on the bus.
func (f *Fake) Attach(addr int, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insts[addr] = &instrument{h: h}
}

// Write implements io.Writer.
func (f *Fake) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.in = append(f.in, p...)
	for {
		i := bytes.IndexByte(f.in, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(f.in[:i]), "\r")
		f.in = f.in[i+1:]
		f.lines = append(f.lines, line)
		f.handle(line)
	}
	return len(p), nil
}

// Read implements io.Reader. It returns ErrTimeout when nothing is pending.
func (f *Fake) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.out.Len() == 0 {
		return 0, ErrTimeout
	}
	return f.out.Read(p)
}

// Serve relays traffic between rw (a network connection, say) and the fake
// until rw returns an error. io.EOF is reported as nil.
func (f *Fake) Serve(rw io.ReadWriter) error {
	buf := make([]byte, 512)
	for {
		n, err := rw.Read(buf)
		if n > 0 {
			f.Write(buf[:n])
			f.mu.Lock()
			out := append([]byte(nil), f.out.Bytes()...)
			f.out.Reset()
			f.mu.Unlock()
			if len(out) > 0 {
				if _, werr := rw.Write(out); werr != nil {
					return werr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Lines returns every line the fake has received, ++ commands included.
func (f *Fake) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

// ControllerCommands returns the ++ commands received, without the prefix.
func (f *Fake) ControllerCommands() []string {
	var cmds []string
	for _, l := range f.Lines() {
		if strings.HasPrefix(l, "++") {
			cmds = append(cmds, l[2:])
		}
	}
	return cmds
}

// Commands returns the lines delivered to the instrument at addr.
func (f *Fake) Commands(addr int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in, ok := f.insts[addr]; ok {
		return append([]string(nil), in.cmds...)
	}
	return nil
}

// Cleared reports how many times the instrument at addr received SDC.
func (f *Fake) Cleared(addr int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in, ok := f.insts[addr]; ok {
		return in.cleared
	}
	return 0
}

// Local reports whether the instrument at addr was returned to local.
func (f *Fake) Local(addr int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in, ok := f.insts[addr]; ok {
		return in.local
	}
	return false
}

// Addr returns the currently selected address.
func (f *Fake) Addr() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addr
}

// Auto returns the read-after-write setting.
func (f *Fake) Auto() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auto
}

// Reset forgets received lines and pending output, keeping state.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = nil
	f.out.Reset()
	for _, in := range f.insts {
		in.cmds = nil
	}
}

func (f *Fake) respond(s string) {
	f.out.WriteString(s)
	f.out.WriteString("\r\n")
}

func (f *Fake) handle(line string) {
	if !strings.HasPrefix(line, "++") {
		in, ok := f.insts[f.addr]
		if !ok {
			return // nobody listening
		}
		in.cmds = append(in.cmds, line)
		resp := in.h(line)
		if resp == "" {
			return
		}
		if f.auto {
			f.out.WriteString(resp)
			f.out.WriteByte(f.eotChar)
		} else {
			in.pending = resp
		}
		return
	}

	fields := strings.Fields(line[2:])
	if len(fields) == 0 {
		return
	}
	cmd, args := fields[0], fields[1:]
	arg := func(i int) (int, bool) {
		if i >= len(args) {
			return 0, false
		}
		v, err := strconv.Atoi(args[i])
		return v, err == nil
	}
	intSetting := func(p *int) {
		if v, ok := arg(0); ok {
			*p = v
			return
		}
		f.respond(strconv.Itoa(*p))
	}
	boolSetting := func(p *bool) {
		if v, ok := arg(0); ok {
			*p = v != 0
			return
		}
		f.respond(btoa(*p))
	}

	switch cmd {
	case "addr":
		if v, ok := arg(0); ok {
			f.addr = v
			f.sad, _ = arg(1)
			return
		}
		if f.sad != 0 {
			f.respond(fmt.Sprintf("%d %d", f.addr, f.sad))
		} else {
			f.respond(strconv.Itoa(f.addr))
		}
	case "auto":
		boolSetting(&f.auto)
	case "ver":
		f.respond(f.Version)
	case "savecfg":
		if f.NoSaveCfg {
			if len(args) == 0 {
				f.respond("Unrecognized command")
			}
			return
		}
		boolSetting(&f.savecfg)
	case "eos":
		intSetting(&f.eos)
	case "read_tmo_ms":
		intSetting(&f.readTmo)
	case "eot_char":
		if v, ok := arg(0); ok {
			f.eotChar = byte(v)
		}
	case "srq":
		f.respond(btoa(f.SRQ))
	case "clr":
		if in, ok := f.insts[f.addr]; ok {
			in.cleared++
		}
	case "loc":
		if in, ok := f.insts[f.addr]; ok {
			in.local = true
		}
	case "llo":
		if in, ok := f.insts[f.addr]; ok {
			in.local = false
		}
	case "read":
		if in, ok := f.insts[f.addr]; ok && in.pending != "" {
			f.out.WriteString(in.pending)
			f.out.WriteByte(f.eotChar)
			in.pending = ""
		}
	case "mode", "eoi", "eot_enable", "verbose", "ifc", "xdiag":
	default:
		f.respond("Unrecognized command")
	}
}

func btoa(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
