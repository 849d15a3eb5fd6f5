// Copyright (c) 2011–2024 The wanglib developers. All rights reserved.
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package prologix

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// Registry hands out one Controller per serial port or host, so every part
// of a program that asks for "/dev/ttyUSBgpib" shares the same connection
// and the same address cache.
type Registry struct {
	mu    sync.Mutex
	ctrls map[string]*Controller
}

// DefaultRegistry backs the package-level USB and Ethernet functions.
var DefaultRegistry = &Registry{}

// USB returns the controller on the given serial port, opening it on first
// use. Options only apply when the controller is opened.
func (r *Registry) USB(port string, opts ...ControllerOption) (*Controller, error) {
	return r.get("usb:"+port, func() (*Controller, error) {
		return OpenUSB(port, opts...)
	})
}

// Ethernet returns the controller at the given host, connecting on first
// use. Options only apply when the controller is opened.
func (r *Registry) Ethernet(ctx context.Context, host string, opts ...ControllerOption) (*Controller, error) {
	return r.get("tcp:"+host, func() (*Controller, error) {
		return OpenEthernet(ctx, host, opts...)
	})
}

func (r *Registry) get(key string, open func() (*Controller, error)) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.ctrls[key]; ok {
		return c, nil
	}
	c, err := open()
	if err != nil {
		return nil, err
	}
	if r.ctrls == nil {
		r.ctrls = make(map[string]*Controller)
	}
	r.ctrls[key] = c
	return c, nil
}

// Close closes every controller in the registry and forgets them.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	for key, c := range r.ctrls {
		err = multierr.Append(err, c.Close())
		delete(r.ctrls, key)
	}
	return err
}

// USB returns the shared controller on the given serial port.
func USB(port string, opts ...ControllerOption) (*Controller, error) {
	return DefaultRegistry.USB(port, opts...)
}

// Ethernet returns the shared controller at the given host.
func Ethernet(ctx context.Context, host string, opts ...ControllerOption) (*Controller, error) {
	return DefaultRegistry.Ethernet(ctx, host, opts...)
}
