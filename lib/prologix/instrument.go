// Copyright (c) 2011–2024 The wanglib developers. All rights reserved.
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package prologix

import (
	"fmt"
	"time"

	"github.com/baldwint/wanglib"
)

// Instrument is an instrument attached to a Prologix controller. It
// implements wanglib.Bus, so it can be handed to any driver under lib/.
type Instrument struct {
	ctrl  *Controller
	addr  int
	auto  bool
	delay time.Duration
}

var _ wanglib.Bus = (*Instrument)(nil)

// InstrumentOption applies an option to an Instrument.
type InstrumentOption func(*Instrument)

// WithAuto sets the read-after-write setting used for this instrument. It
// defaults to true. Instruments that answer every read with their last
// response (the New Focus 6300 for one) need it off.
func WithAuto(auto bool) InstrumentOption {
	return func(i *Instrument) { i.auto = auto }
}

// WithDelay pauses for d after each write to this instrument.
func WithDelay(d time.Duration) InstrumentOption {
	return func(i *Instrument) { i.delay = d }
}

// Instrument returns the instrument at the given GPIB address on this
// controller.
func (c *Controller) Instrument(addr int, opts ...InstrumentOption) *Instrument {
	i := &Instrument{ctrl: c, addr: addr, auto: true}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Addr returns the instrument's GPIB address.
func (i *Instrument) Addr() int { return i.addr }

// Controller returns the controller the instrument is attached to.
func (i *Instrument) Controller() *Controller { return i.ctrl }

// Write writes a command to the instrument.
func (i *Instrument) Write(cmd string) error {
	i.ctrl.mu.Lock()
	defer i.ctrl.mu.Unlock()
	return i.write(cmd)
}

// Read reads a response from the instrument. When read-after-write is off
// the instrument is explicitly told to talk first.
func (i *Instrument) Read() (string, error) {
	i.ctrl.mu.Lock()
	defer i.ctrl.mu.Unlock()
	return i.read()
}

// Ask sends a query to the instrument, then reads its response. It is
// equivalent to Write then Read, except that no other exchange on the same
// controller can come between the two.
func (i *Instrument) Ask(cmd string) (string, error) {
	i.ctrl.mu.Lock()
	defer i.ctrl.mu.Unlock()
	if err := i.write(cmd); err != nil {
		return "", err
	}
	return i.read()
}

// Command implements wanglib.Bus.
func (i *Instrument) Command(format string, a ...any) error {
	if a != nil {
		format = fmt.Sprintf(format, a...)
	}
	return i.Write(format)
}

// Query implements wanglib.Bus.
func (i *Instrument) Query(cmd string) (string, error) {
	return i.Ask(cmd)
}

// Clear sends the Selected Device Clear message to this instrument.
func (i *Instrument) Clear() error {
	i.ctrl.mu.Lock()
	defer i.ctrl.mu.Unlock()
	if err := i.takePriority(); err != nil {
		return err
	}
	return i.ctrl.commandController("clr")
}

// Local returns the instrument to front panel control.
func (i *Instrument) Local() error {
	i.ctrl.mu.Lock()
	defer i.ctrl.mu.Unlock()
	if err := i.takePriority(); err != nil {
		return err
	}
	return i.ctrl.commandController("loc")
}

// takePriority configures the controller to address this instrument. The
// controller lock must be held.
func (i *Instrument) takePriority() error {
	if !isPrimaryAddressValid(i.addr) {
		return fmt.Errorf("invalid primary address %d (must be 0-30)", i.addr)
	}
	if i.auto != i.ctrl.curAuto {
		if err := i.ctrl.selectAuto(i.auto); err != nil {
			return err
		}
	}
	if i.addr != i.ctrl.curAddr {
		if err := i.ctrl.selectAddr(i.addr); err != nil {
			return err
		}
	}
	return nil
}

func (i *Instrument) write(cmd string) error {
	if err := i.takePriority(); err != nil {
		return err
	}
	if err := i.ctrl.writeLine(cmd); err != nil {
		return err
	}
	if i.delay > 0 {
		time.Sleep(i.delay)
	}
	return nil
}

func (i *Instrument) read() (string, error) {
	if err := i.takePriority(); err != nil {
		return "", err
	}
	if !i.auto {
		if err := i.ctrl.commandController("read eoi"); err != nil {
			return "", err
		}
	}
	return i.ctrl.readLine()
}
