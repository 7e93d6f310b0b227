// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-lpc/corrdbg/monitor"
	"github.com/go-lpc/corrdbg/reg"
	"github.com/spf13/cobra"
)

func newRegCmd(opts *options) *cobra.Command {
	var lname string
	cmd := &cobra.Command{
		Use:   "reg <name> [read | write field=value... | pulse field | toggle field]",
		Short: "Read or modify the fields of a 32-bit register",
		Long: `Read or modify the fields of a 32-bit software register of a host, as
described by a layout file.

Examples:
  corrdbg reg -c corr.toml -H skarab02 -l ctrl.toml gbe_ctrl
  corrdbg reg -c corr.toml -H skarab02 -l ctrl.toml gbe_ctrl write rst=1 en=0
  corrdbg reg -c corr.toml -H skarab02 -l ctrl.toml gbe_ctrl pulse rst`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if lname == "" {
				return fmt.Errorf("no register layout (use -l)")
			}
			l, err := monitor.LoadLayout(lname)
			if err != nil {
				return err
			}

			cfg, err := opts.load()
			if err != nil {
				return err
			}
			host, err := opts.hostOf(cfg)
			if err != nil {
				return err
			}
			cfg.Hosts = []monitor.HostConfig{host}

			buses, closeAll, err := monitor.OpenBuses(cfg)
			if err != nil {
				return err
			}
			defer closeAll()

			r, err := reg.New(buses[host.Name], args[0], l)
			if err != nil {
				return err
			}

			op := "read"
			if len(args) > 1 {
				op = args[1]
			}
			switch op {
			case "read":
			case "write":
				fields, err := parseFields(args[2:])
				if err != nil {
					return err
				}
				err = r.Write(ctx, fields)
				if err != nil {
					return err
				}
			case "pulse", "toggle":
				if len(args) != 3 {
					return fmt.Errorf("%s needs exactly one field", op)
				}
				if op == "pulse" {
					err = r.Pulse(ctx, args[2])
				} else {
					err = r.Toggle(ctx, args[2])
				}
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown register operation %q", op)
			}

			c, err := r.Read(ctx)
			if err != nil {
				return err
			}
			return printFields(cmd.OutOrStdout(), r.Name(), c.Names(), c.Values())
		},
	}
	cmd.Flags().StringVarP(&lname, "layout", "l", "", "path to the register layout file")
	return cmd
}

// parseFields parses field=value pairs.
func parseFields(args []string) (map[string]float64, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no field=value pair")
	}
	o := make(map[string]float64, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field=value pair %q", arg)
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for field %q: %w", k, err)
		}
		o[k] = x
	}
	return o, nil
}

func printFields(w io.Writer, name string, names []string, vs map[string][]float64) error {
	fmt.Fprintf(w, "%s:\n", name)
	for _, k := range names {
		fmt.Fprintf(w, "  %-16s %v\n", k, vs[k][0])
	}
	return nil
}
