// Copyright (c) 2011–2024 The wanglib developers. All rights reserved.
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/baldwint/wanglib/lib/connutil"
	"github.com/baldwint/wanglib/lib/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const envPrefix = "WANGLIB"

// app holds state shared by the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	conn    connutil.Conn
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), conn: connutil.Defaults()}
	root := &cobra.Command{
		Use:   "wang",
		Short: "Talk to lab instruments through Prologix GPIB controllers and serial ports",
		Long: `wang drives the instruments supported by wanglib.

Settings come from, highest priority first: flags, WANGLIB_* environment
variables (WANGLIB_TRANSPORT, WANGLIB_HOST, ...), and the config file
(.wanglib.yml, --config, or WANGLIB_CONFIG_FILE).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.loadConfig(cmd.Flags()); err != nil {
				return err
			}
			logging.Configure(logging.Config{
				Level:   a.v.GetString("log-level"),
				Output:  cmd.ErrOrStderr(),
				Console: !a.v.GetBool("json-log"),
			})
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is .wanglib.yml, can also use WANGLIB_CONFIG_FILE env var)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.Bool("json-log", false, "log JSON instead of text")
	a.conn.AddFlags(pf)

	root.AddCommand(
		a.findCmd(),
		a.verCmd(),
		a.askCmd(),
		a.writeCmd(),
		a.termCmd(),
		a.monitorCmd(),
		a.scanCmd(),
		a.ccdCmd(),
		a.gratingCmd(),
		a.blinkCmd(),
	)
	return root
}

// loadConfig reads the config file and environment into viper, then copies
// any value the user did not set on the command line back into fs.
func (a *app) loadConfig(fs *pflag.FlagSet) error {
	v := a.v
	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
	} else if env := os.Getenv(envPrefix + "_CONFIG_FILE"); env != "" {
		v.SetConfigFile(env)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".wanglib")
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	if err := v.BindPFlags(fs); err != nil {
		return err
	}

	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || f.Name == "config" || !v.IsSet(f.Name) {
			return
		}
		if serr := fs.Set(f.Name, v.GetString(f.Name)); serr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", f.Name, serr))
		}
	})
	return err
}
