// Copyright (c) 2011–2024 The wanglib developers. All rights reserved.
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/baldwint/wanglib"
	"github.com/baldwint/wanglib/lib/cmdlog"
	"github.com/baldwint/wanglib/lib/find"
	"github.com/baldwint/wanglib/lib/prologix"
	"github.com/baldwint/wanglib/lib/siggen"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

// withController opens the configured controller, runs fn and cleans up.
func (a *app) withController(ctx context.Context, fn func(*prologix.Controller) error) (err error) {
	ctrl, cleanup, err := a.conn.Open(ctx)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, cleanup()) }()
	return fn(ctrl)
}

// bus returns the instrument at --addr, or the controller itself when no
// address was given.
func (a *app) bus(ctrl *prologix.Controller) wanglib.Bus {
	if a.conn.Addr > 0 {
		return ctrl.Instrument(a.conn.Addr)
	}
	return ctrl
}

func (a *app) findCmd() *cobra.Command {
	var serial string
	var all bool
	cmd := &cobra.Command{
		Use:   "find",
		Short: "List USB serial devices, or locate the GPIB controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := a.conn.Finder
			if all {
				ttys, err := f.All()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ttys)
				return nil
			}
			filter := find.PrologixFilter
			switch {
			case serial != "":
				filter = find.SerialFilter(serial)
			case a.conn.AR488:
				filter = find.AR488Filter
			}
			port, err := f.Find(filter)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), port)
			return nil
		},
	}
	cmd.Flags().StringVar(&serial, "serial", "", "match this USB serial number")
	cmd.Flags().BoolVar(&all, "all", false, "list every USB tty")
	return cmd
}

func (a *app) verCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ver",
		Short: "Print the controller firmware version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withController(cmd.Context(), func(ctrl *prologix.Controller) error {
				v, err := ctrl.Version()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
}

func (a *app) askCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask QUERY...",
		Short: "Send a query to the instrument at --addr and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withController(cmd.Context(), func(ctrl *prologix.Controller) error {
				r, err := a.bus(ctrl).Query(strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), r)
				return nil
			})
		},
	}
}

func (a *app) writeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write COMMAND...",
		Short: "Send a command to the instrument at --addr",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withController(cmd.Context(), func(ctrl *prologix.Controller) error {
				return a.bus(ctrl).Command("%s", strings.Join(args, " "))
			})
		},
	}
}

func (a *app) termCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "term",
		Short: "Interactive session: lines ending in ? are queries, ++ lines go to the controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withController(cmd.Context(), func(ctrl *prologix.Controller) error {
				return term(cmd, ctrl, cmdlog.New(a.bus(ctrl), cmd.OutOrStdout()))
			})
		},
	}
}

func term(cmd *cobra.Command, ctrl *prologix.Controller, p *cmdlog.Pretty) error {
	ctx := cmd.Context()
	sc := bufio.NewScanner(cmd.InOrStdin())
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "quit" || line == "exit":
			return nil
		case strings.HasPrefix(line, "++"):
			controllerLine(cmd, ctrl, strings.TrimPrefix(line, "++"))
		case strings.HasSuffix(line, "?"):
			// errors are already shown
			_, _ = p.Query(line)
		default:
			_ = p.Command("%s", line)
		}
	}
	return sc.Err()
}

// Controller commands that never answer, even without arguments.
var controllerActions = map[string]bool{
	"clr": true, "ifc": true, "llo": true, "loc": true, "rst": true, "trg": true,
}

// controllerLine runs a ++ line. Settings given an argument are changed,
// bare settings are read back.
func controllerLine(cmd *cobra.Command, ctrl *prologix.Controller, line string) {
	out := cmd.OutOrStdout()
	name, _, hasArg := strings.Cut(line, " ")
	if hasArg || controllerActions[name] {
		if err := ctrl.CommandController(line); err != nil {
			fmt.Fprintf(out, "%s: error %s\n", cmdlog.CmdStyle.Render("++"+line), err)
			return
		}
		fmt.Fprintf(out, "%s()\n", cmdlog.CmdStyle.Render("++"+line))
		return
	}
	r, err := ctrl.QueryController(line)
	if err != nil {
		fmt.Fprintf(out, "%s: error %s\n", cmdlog.CmdStyle.Render("++"+line), err)
		return
	}
	fmt.Fprintf(out, "%s: %s\n", cmdlog.CmdStyle.Render("++"+line), cmdlog.FormatResponse(r))
}

func (a *app) blinkCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "blink",
		Short: "Toggle the RF output of an Agilent 8648 until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withController(cmd.Context(), func(ctrl *prologix.Controller) error {
				return siggen.NewAG8648(a.bus(ctrl)).Blink(cmd.Context(), interval)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "full on/off period")
	return cmd
}
