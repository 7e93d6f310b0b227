// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-lpc/corrdbg/bitfield"
	"github.com/go-lpc/corrdbg/monitor"
	"github.com/spf13/cobra"
)

func newEncodeCmd(opts *options) *cobra.Command {
	var (
		lname  string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "encode field=v1,v2,... [field=...]",
		Short: "Encode field values into raw words",
		Long: `Encode scaled field values into raw words, as described by a layout file,
and print each word in hexadecimal.

Examples:
  corrdbg encode -l layout.toml data=1,2,3 eof=0,0,1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lname == "" {
				return fmt.Errorf("no layout (use -l)")
			}
			l, err := monitor.LoadLayout(lname)
			if err != nil {
				return err
			}

			vs := make(bitfield.Values, len(args))
			for _, arg := range args {
				k, v, ok := strings.Cut(arg, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid field=values pair %q", arg)
				}
				for _, s := range strings.Split(v, ",") {
					x, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
					if err != nil {
						return fmt.Errorf("invalid value for field %q: %w", k, err)
					}
					vs[k] = append(vs[k], x)
				}
			}

			encode := bitfield.Encode
			if strict {
				encode = bitfield.EncodeStrict
			}
			raw, err := encode(l, vs)
			if err != nil {
				return err
			}

			sz := l.WordBytes()
			for i := 0; i < len(raw); i += sz {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", hex.EncodeToString(raw[i:i+sz]))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&lname, "layout", "l", "", "path to the layout file")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on out of range values instead of clamping")
	return cmd
}
