// Copyright (c) 2011–2024 The wanglib developers. All rights reserved.
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"fmt"
	"strings"

	"github.com/baldwint/wanglib/lib/grating"
	"github.com/spf13/cobra"
)

func (a *app) gratingCmd() *cobra.Command {
	d := grating.NewDeflector()
	gray := grating.FullRange
	cmd := &cobra.Command{
		Use:   "grating OUT.png",
		Short: "Write a deflector grating image for the SLM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := grating.Lookup(d.Kind); err != nil {
				return err
			}
			if err := grating.WritePNG(args[0], d, gray); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s, spacing %g px, %g deg (%dx%d)\n",
				args[0], d.Kind, d.Spacing, d.Deg, d.Width, d.Height)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&d.Kind, "kind", d.Kind, "grating profile: "+strings.Join(grating.Kinds(), ", "))
	fs.Float64Var(&d.Spacing, "spacing", d.Spacing, "period in pixels")
	fs.Float64Var(&d.Deg, "deg", d.Deg, "orientation in degrees; 0 deflects vertically")
	fs.Float64Var(&d.Phase, "phase", d.Phase, "phase offset in periods")
	fs.Float64Var(&d.ScaleFactor, "scale", d.ScaleFactor, "brightness scale factor")
	fs.Float64Var(&d.Baseline, "baseline", d.Baseline, "brightness baseline")
	fs.IntVar(&d.Width, "width", d.Width, "image width in pixels")
	fs.IntVar(&d.Height, "height", d.Height, "image height in pixels")
	fs.Float64Var(&gray.Bottom, "gray-bottom", gray.Bottom, "gray level for 0")
	fs.Float64Var(&gray.Top, "gray-top", gray.Top, "gray level for 1")
	return cmd
}
