// Package connutil holds the connection settings shared by the command line
// tools: which GPIB controller to use and how to talk to it.
package connutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baldwint/wanglib/lib/find"
	"github.com/baldwint/wanglib/lib/logging"
	"github.com/baldwint/wanglib/lib/prologix"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
)

// Transports.
const (
	USB      = "usb"
	Ethernet = "ethernet"
)

// Conn describes how to reach a GPIB controller.
type Conn struct {
	Transport   string // USB or Ethernet
	SerialPort  string // found with lib/find when empty
	Host        string
	Addr        int // GPIB primary address; 0 leaves the controller as is
	SAD         int // GPIB secondary address; 0 for none
	Delay       time.Duration
	ReadTimeout time.Duration
	AR488       bool
	Debug       bool

	// Finder locates the serial port. Zero value searches /sys.
	Finder find.Finder

	reg prologix.Registry
}

// Defaults returns the settings for a Prologix GPIB-USB controller.
func Defaults() Conn {
	return Conn{
		Transport:   USB,
		ReadTimeout: 500 * time.Millisecond,
	}
}

// AddFlags registers the settings on fs, using the current values as
// defaults.
func (c *Conn) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Transport, "transport", c.Transport, "controller transport: usb or ethernet")
	fs.StringVar(&c.SerialPort, "port", c.SerialPort, "serial port of a GPIB-USB controller (found automatically when empty)")
	fs.StringVar(&c.Host, "host", c.Host, "address of a GPIB-Ethernet controller")
	fs.IntVar(&c.Addr, "addr", c.Addr, "GPIB primary address to select")
	fs.IntVar(&c.SAD, "sad", c.SAD, "GPIB secondary address (96-126)")
	fs.DurationVar(&c.Delay, "delay", c.Delay, "minimum delay between writes")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "GPIB read timeout")
	fs.BoolVar(&c.AR488, "ar488", c.AR488, "controller is an Arduino AR488")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "log controller traffic")
}

// Options returns the controller options for the settings.
func (c *Conn) Options() []prologix.ControllerOption {
	opts := []prologix.ControllerOption{
		prologix.WithLogger(logging.WithComponent("prologix")),
		prologix.WithReadTimeout(c.ReadTimeout),
	}
	if c.Delay > 0 {
		opts = append(opts, prologix.WithWriteDelay(c.Delay))
	}
	if c.AR488 {
		opts = append(opts, prologix.WithAR488())
	}
	if c.Debug {
		opts = append(opts, prologix.WithDebug())
	}
	if c.Addr > 0 {
		opts = append(opts, prologix.WithAddress(c.Addr))
		if c.SAD > 0 {
			opts = append(opts, prologix.WithSecondaryAddress(c.SAD))
		}
	}
	return opts
}

// Port returns the serial port to use, searching for one when SerialPort is
// empty.
func (c *Conn) Port() (string, error) {
	if c.SerialPort != "" {
		return c.SerialPort, nil
	}
	filter := find.PrologixFilter
	if c.AR488 {
		filter = find.AR488Filter
	}
	port, err := c.Finder.Find(filter)
	if err != nil {
		return "", fmt.Errorf("locating controller (use --port): %w", err)
	}
	return port, nil
}

// Open connects to the controller. cleanup hands the instrument back to its
// front panel and closes the connection; its errors are combined.
func (c *Conn) Open(ctx context.Context) (ctrl *prologix.Controller, cleanup func() error, err error) {
	log := logging.WithComponent("connutil")
	switch c.Transport {
	case USB, "":
		port, err := c.Port()
		if err != nil {
			return nil, nil, err
		}
		log.Debug().Str("port", port).Msg("opening GPIB-USB controller")
		ctrl, err = c.reg.USB(port, c.Options()...)
		if err != nil {
			return nil, nil, err
		}
	case Ethernet:
		if c.Host == "" {
			return nil, nil, errors.New("ethernet transport needs --host")
		}
		log.Debug().Str("host", c.Host).Msg("connecting to GPIB-Ethernet controller")
		ctrl, err = c.reg.Ethernet(ctx, c.Host, c.Options()...)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", c.Transport)
	}

	cleanup = func() error {
		err := ctrl.FrontPanel(true)
		if err != nil {
			err = fmt.Errorf("returning to local control: %w", err)
		}
		return multierr.Append(err, c.reg.Close())
	}
	return ctrl, cleanup, nil
}
