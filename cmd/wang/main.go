// Copyright (c) 2011–2024 The wanglib developers. All rights reserved.
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Command wang is a command line front end to wanglib: it finds GPIB
// controllers, talks to instruments interactively, and runs monitors and
// scans with live plotting and run recording.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
