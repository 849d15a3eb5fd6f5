// Copyright (c) 2011–2024 The wanglib developers. All rights reserved.
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package prologix drives instruments over GPIB using Prologix GPIB-USB and
// GPIB-Ethernet controllers (and the Arduino based AR488 clone).
//
// A Controller owns the connection to the adapter. Instruments on the bus are
// reached through Instrument values, which select their GPIB address and
// read-after-write setting on the controller before every exchange:
//
//	plx, err := prologix.OpenUSB("/dev/ttyUSBgpib")
//	...
//	keithley := plx.Instrument(12)
//	idn, err := keithley.Ask("*IDN?")
package prologix

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/baldwint/wanglib"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrSaveCfgUnsupported is returned when the controller firmware predates the
// ++savecfg command. Without it every configuration change wears the EEPROM.
var ErrSaveCfgUnsupported = errors.New("controller does not support ++savecfg; update firmware or risk wearing out EEPROM")

// Controller models a GPIB controller-in-charge.
type Controller struct {
	mu  sync.Mutex
	rw  io.ReadWriter
	r   *bufio.Reader
	log zerolog.Logger

	closer io.Closer // set when the controller opened the transport itself

	primaryAddr      int
	hasPrimaryAddr   bool
	secondaryAddr    int
	hasSecondaryAddr bool
	auto             bool
	clear            bool
	term             GpibTerm
	usbTerm          byte
	eotChar          byte
	readTimeout      time.Duration
	writeDelay       *rate.Limiter
	debug            bool // if true, log controller commands before sending. Set via WithDebug().
	ar488            bool // compatibility with Arduino AR488 - see WithAR488 documentation for details.

	// what the controller currently has selected, so instruments only
	// re-address it when needed. curAddr < 0 means unknown.
	curAddr int
	curAuto bool
}

// ControllerOption applies an option to the controller.
type ControllerOption func(*Controller)

// NewController configures the Prologix adapter reachable through rw, which
// can either be a Virtual COM Port (VCP) or an Ethernet connection.
// Optionally controller configuration can be included using a
// ControllerOption.
func NewController(rw io.ReadWriter, opts ...ControllerOption) (*Controller, error) {
	c := Controller{
		rw:          rw,
		r:           bufio.NewReader(rw),
		log:         zerolog.Nop(),
		auto:        false,
		term:        AppendCRLF,
		usbTerm:     '\n',
		eotChar:     '\n',
		readTimeout: 500 * time.Millisecond,
		curAddr:     -1,
	}

	// Apply options using the functional option pattern.
	for _, opt := range opts {
		opt(&c)
	}

	if c.hasPrimaryAddr && !isPrimaryAddressValid(c.primaryAddr) {
		return nil, fmt.Errorf("invalid primary address %d (must be 0-30)", c.primaryAddr)
	}
	if c.hasSecondaryAddr && !isSecondaryAddressValid(c.secondaryAddr) {
		return nil, fmt.Errorf("invalid secondary address %d (must be 96-126)", c.secondaryAddr)
	}
	if c.hasSecondaryAddr && !c.hasPrimaryAddr {
		return nil, errors.New("secondary address given without a primary address")
	}

	cmds := []string{}
	if !c.ar488 {
		cmds = append(cmds,
			"verbose 0", // turn off verbosity if on
			"savecfg 0", // Disable saving of configuration parameters in EPROM
		)
	}
	cmds = append(cmds,
		"mode 1", // Switch to controller mode.
		fmt.Sprintf("auto %d", b2i(c.auto)),
		"eoi 1", // Enable EOI assertion with last character.
		fmt.Sprintf("eos %d", c.term),
		fmt.Sprintf("read_tmo_ms %d", c.readTimeout.Milliseconds()),
		fmt.Sprintf("eot_char %d", c.eotChar),
		"eot_enable 1", // Append character when EOI detected.
	)
	if c.hasPrimaryAddr {
		addrCmd := fmt.Sprintf("addr %d", c.primaryAddr)
		if c.hasSecondaryAddr {
			addrCmd = fmt.Sprintf("addr %d %d", c.primaryAddr, c.secondaryAddr)
		}
		cmds = append(cmds, addrCmd)
	}
	if c.clear {
		cmds = append(cmds, "clr")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cmd := range cmds {
		if err := c.commandController(cmd); err != nil {
			return nil, err
		}
	}
	c.curAuto = c.auto
	if c.hasPrimaryAddr {
		c.curAddr = c.primaryAddr
	} else {
		// learn which instrument is selected so the first Instrument
		// exchange only re-addresses when it has to.
		s, err := c.queryController("addr")
		if err != nil {
			return nil, fmt.Errorf("reading controller address: %w", err)
		}
		pad, _, err := parseAddr(s)
		if err != nil {
			return nil, err
		}
		c.curAddr = pad
	}

	return &c, nil
}

// WithAddress selects the instrument at the given primary address when the
// controller is configured.
func WithAddress(addr int) ControllerOption {
	return func(c *Controller) {
		c.hasPrimaryAddr = true
		c.primaryAddr = addr
	}
}

// WithSecondaryAddress sets a secondary address, which must be in the range of
// 96 and 126, inclusive. Requires WithAddress.
func WithSecondaryAddress(addr int) ControllerOption {
	return func(c *Controller) {
		c.hasSecondaryAddr = true
		c.secondaryAddr = addr
	}
}

// WithClear sends the Selected Device Clear (SDC) message to the configured
// address after setup.
func WithClear() ControllerOption { return func(c *Controller) { c.clear = true } }

// WithDebug causes commands and responses to be logged.
func WithDebug() ControllerOption { return func(c *Controller) { c.debug = true } }

// WithLogger sets the logger used for debug output.
func WithLogger(l zerolog.Logger) ControllerOption { return func(c *Controller) { c.log = l } }

// WithAR488 slightly alters the init commands, for compatiblity with the
// Arduino-based AR488. Specifically, we do not emit 'verbose 0', nor do
// we toggle savecfg.
func WithAR488() ControllerOption { return func(c *Controller) { c.ar488 = true } }

// WithWriteDelay enforces a minimum spacing between writes to the
// controller. Slow adapters (notably the AR488) drop commands sent back to
// back.
func WithWriteDelay(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.writeDelay = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithReadTimeout sets the controller's GPIB read timeout (++read_tmo_ms).
func WithReadTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.readTimeout = d }
}

// WithReadAfterWrite sets the initial read-after-write (++auto) setting.
func WithReadAfterWrite(auto bool) ControllerOption {
	return func(c *Controller) { c.auto = auto }
}

// WithGPIBTermination sets the terminator appended to instrument commands.
func WithGPIBTermination(term GpibTerm) ControllerOption {
	return func(c *Controller) { c.term = term }
}

// WithEOTChar sets the character appended to instrument responses when EOI
// is detected. Responses are read up to this character.
func WithEOTChar(ch byte) ControllerOption {
	return func(c *Controller) { c.eotChar = ch }
}

// Close closes the transport if the controller opened it (OpenUSB,
// OpenEthernet). It is a no-op for controllers built with NewController.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closer == nil {
		return nil
	}
	err := c.closer.Close()
	c.closer = nil
	return err
}

// Command formats according to a format specifier if provided and sends a
// SCPI/ASCII command to the instrument at the currently assigned GPIB address.
// All leading and trailing whitespace is removed before appending the USB
// terminator to the command sent to the Prologix.
func (c *Controller) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLine(cmd)
}

// Query queries the instrument at the currently assigned GPIB using the given
// SCPI/ASCII command. The cmd string does not need to include a new line
// character, since all leading and trailing whitespace is removed before
// appending the USB terminator to the command sent to the Prologix.  When data
// from host is received over USB, the Prologix controller removes all
// non-escaped LF, CR and ESC characters and appends the GPIB terminator, as
// specified by the `eos` command, before sending the data to instruments.  To
// change the GPIB terminator use the SetGPIBTermination method.
func (c *Controller) Query(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeLine(cmd); err != nil {
		return "", fmt.Errorf("error writing command: %w", err)
	}
	// If read-after-write is disabled, need to tell the Prologix controller to
	// read.
	if !c.curAuto {
		if err := c.commandController("read eoi"); err != nil {
			return "", err
		}
	}
	return c.readLine()
}

// ReadResponse tells the addressed instrument to talk and returns what it
// sends.
func (c *Controller) ReadResponse() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.commandController("read eoi"); err != nil {
		return "", err
	}
	return c.readLine()
}

// QueryController sends the given command to the Prologix controller and
// returns its response as a string. To indicate this is a command for the
// Prologix controller, thereby not transmitting over GPIB, two plus signs `++`
// are prepended. Addtionally, a new line is appended to act as the USB
// termination character.
func (c *Controller) QueryController(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryController(cmd)
}

// CommandController sends the given command to the Prologix controller. To
// indicate this is a command for the Prologix controller, thereby not
// transmitting to the instrument over GPIB, two plus signs `++` are prepended.
// Addtionally, a new line is appended to act as the USB termination character.
func (c *Controller) CommandController(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commandController(cmd)
}

// Version returns the controller firmware version string.
func (c *Controller) Version() (string, error) {
	return c.QueryController("ver")
}

// InstrumentAddress returns the GPIB address the controller has selected.
// sad is zero when no secondary address is set.
func (c *Controller) InstrumentAddress() (pad, sad int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.queryController("addr")
	if err != nil {
		return 0, 0, err
	}
	pad, sad, err = parseAddr(s)
	if err != nil {
		return 0, 0, err
	}
	c.curAddr = pad
	return pad, sad, nil
}

// Addr returns the currently selected primary GPIB address.
func (c *Controller) Addr() (int, error) {
	pad, _, err := c.InstrumentAddress()
	return pad, err
}

// SetAddr selects the instrument at the given primary address.
func (c *Controller) SetAddr(addr int) error {
	if !isPrimaryAddressValid(addr) {
		return fmt.Errorf("invalid primary address %d (must be 0-30)", addr)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectAddr(addr)
}

// ReadAfterWrite reports whether the controller automatically addresses
// instruments to talk after writing to them (++auto).
func (c *Controller) ReadAfterWrite() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.queryController("auto")
	if err != nil {
		return false, err
	}
	auto, err := parseBool(s)
	if err != nil {
		return false, err
	}
	c.curAuto = auto
	return auto, nil
}

// SetReadAfterWrite turns read-after-write on or off. It is usually
// convenient, but some instruments do poorly with it.
func (c *Controller) SetReadAfterWrite(auto bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectAuto(auto)
}

// SaveCfg reports whether the controller saves its settings in EEPROM. It is
// usually best to leave this off, since it reduces wear on the EEPROM in
// applications that talk to more than one instrument.
func (c *Controller) SaveCfg() (bool, error) {
	s, err := c.QueryController("savecfg")
	if err != nil {
		return false, err
	}
	if s == "Unrecognized command" {
		return false, ErrSaveCfgUnsupported
	}
	return parseBool(s)
}

// SetSaveCfg enables or disables saving settings in EEPROM.
func (c *Controller) SetSaveCfg(save bool) error {
	return c.CommandController(fmt.Sprintf("savecfg %d", b2i(save)))
}

// ReadTimeout returns the GPIB read timeout configured on the controller.
func (c *Controller) ReadTimeout() (time.Duration, error) {
	s, err := c.QueryController("read_tmo_ms")
	if err != nil {
		return 0, err
	}
	ms, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("parsing read timeout %q: %w", s, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// ServiceRequest reports whether the SRQ line is asserted.
func (c *Controller) ServiceRequest() (bool, error) {
	s, err := c.QueryController("srq")
	if err != nil {
		return false, err
	}
	return parseBool(s)
}

// ClearDevice sends the Selected Device Clear (SDC) message to the currently
// addressed instrument.
func (c *Controller) ClearDevice() error {
	return c.CommandController("clr")
}

// FrontPanel returns the addressed instrument to local (front panel) control
// when local is true, and locks out the front panel otherwise.
func (c *Controller) FrontPanel(local bool) error {
	if local {
		return c.CommandController("loc")
	}
	return c.CommandController("llo")
}

// GPIBTermination returns the terminator appended to instrument commands.
func (c *Controller) GPIBTermination() (GpibTerm, error) {
	s, err := c.QueryController("eos")
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(s)
	if err != nil || i < int(AppendCRLF) || i > int(AppendNothing) {
		return 0, fmt.Errorf("unexpected eos response %q", s)
	}
	return GpibTerm(i), nil
}

// SetGPIBTermination sets the terminator appended to instrument commands.
func (c *Controller) SetGPIBTermination(term GpibTerm) error {
	return c.CommandController(fmt.Sprintf("eos %d", term))
}

// The methods below expect c.mu to be held.

func (c *Controller) selectAddr(addr int) error {
	// update the local record first: if the write is interrupted the
	// cache is invalid either way, and -1 forces a re-send next time.
	c.curAddr = -1
	if err := c.commandController(fmt.Sprintf("addr %d", addr)); err != nil {
		return err
	}
	c.curAddr = addr
	return nil
}

func (c *Controller) selectAuto(auto bool) error {
	if err := c.commandController(fmt.Sprintf("auto %d", b2i(auto))); err != nil {
		return err
	}
	c.curAuto = auto
	return nil
}

func (c *Controller) commandController(cmd string) error {
	return c.write(fmt.Sprintf("++%s%c", strings.ToLower(strings.TrimSpace(cmd)), c.usbTerm))
}

func (c *Controller) queryController(cmd string) (string, error) {
	if err := c.commandController(cmd); err != nil {
		return "", err
	}
	return c.readLine()
}

func (c *Controller) writeLine(cmd string) error {
	return c.write(fmt.Sprintf("%s%c", strings.TrimSpace(cmd), c.usbTerm))
}

func (c *Controller) write(cmd string) error {
	if c.writeDelay != nil {
		time.Sleep(c.writeDelay.Reserve().Delay())
	}
	if c.debug {
		c.log.Debug().Str("cmd", wanglib.ShowNewlines(cmd)).Msg("prologix write")
	}
	_, err := io.WriteString(c.rw, cmd)
	return err
}

func (c *Controller) readLine() (string, error) {
	for {
		s, err := c.r.ReadString(c.eotChar)
		if c.debug {
			c.log.Debug().Str("data", wanglib.ShowNewlines(s)).Err(err).Msg("prologix read")
		}
		if err != nil {
			if s == "" {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrNoProgress) || isTimeout(err) {
					return "", fmt.Errorf("%w: %w", wanglib.ErrNoResponse, err)
				}
				return "", err
			}
			// partial data before EOF or timeout: hand back what we got
			return strings.TrimRight(s, " \t\r\n"), nil
		}
		s = strings.TrimRight(s, " \t\r\n")
		// an instrument terminator followed by the EOT char leaves an
		// empty line behind; skip it.
		if s == "" {
			continue
		}
		return s, nil
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// GpibTerm provides the type for the available GPIB terminators.
type GpibTerm int

// Available GPIB terminators for the Prologix Controller.
const (
	AppendCRLF GpibTerm = iota
	AppendCR
	AppendLF
	AppendNothing
)

var gpibTermDesc = map[GpibTerm]string{
	AppendCRLF:    `Append CR+LF (\r\n) to instrument commands`,
	AppendCR:      `Append CR (\r) to instrument commands`,
	AppendLF:      `Append LF (\n) to instrument commands`,
	AppendNothing: `Do not append anything to instrument commands`,
}

func (term GpibTerm) String() string {
	return gpibTermDesc[term]
}

// isPrimaryAddressValid checks that the primary GPIB address is between 0 and
// 30, inclusive.
func isPrimaryAddressValid(addr int) bool {
	return addr >= 0 && addr <= 30
}

// isSecondaryAddressValid checks that the secondary GPIB address is between 96
// and 126, inclusive.
func isSecondaryAddressValid(addr int) bool {
	return addr >= 96 && addr <= 126
}

func parseAddr(s string) (pad, sad int, err error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, 0, fmt.Errorf("empty address response")
	}
	if pad, err = strconv.Atoi(fields[0]); err != nil {
		return 0, 0, fmt.Errorf("parsing address %q: %w", s, err)
	}
	if len(fields) > 1 {
		if sad, err = strconv.Atoi(fields[1]); err != nil {
			return 0, 0, fmt.Errorf("parsing secondary address %q: %w", s, err)
		}
	}
	return pad, sad, nil
}

func parseBool(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, fmt.Errorf("%w: expected 0 or 1, got %q", wanglib.ErrUnexpectedResponse, s)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
