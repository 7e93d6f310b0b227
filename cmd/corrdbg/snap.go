// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-lpc/corrdbg/internal/snapfile"
	"github.com/go-lpc/corrdbg/monitor"
	"github.com/spf13/cobra"
)

func newSnapCmd(opts *options) *cobra.Command {
	var (
		oname string
		n     int
		delay time.Duration
	)
	cmd := &cobra.Command{
		Use:   "snap",
		Short: "Capture snapshots of a host and dump them to a file",
		Long: `Capture snapshots of a host through its memory-mapped registers, and
dump the raw captures to a file, for offline decoding.

Examples:
  corrdbg snap -c corr.toml -H skarab02 -o gbe.snap -n 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			host, err := opts.hostOf(cfg)
			if err != nil {
				return err
			}
			cfg.Hosts = []monitor.HostConfig{host}

			l, err := cfg.LoadLayout(ctx)
			if err != nil {
				return err
			}

			buses, closeAll, err := monitor.OpenBuses(cfg)
			if err != nil {
				return err
			}
			defer closeAll()

			msg := opts.logger(cmd.ErrOrStderr())
			p, err := monitor.NewPipeline(cfg, l, host.Name, buses[host.Name], msg)
			if err != nil {
				return err
			}

			f, err := os.Create(oname)
			if err != nil {
				return fmt.Errorf("could not create output file: %w", err)
			}
			defer f.Close()

			enc := snapfile.NewEncoder(f)
			for i := 0; i < n; i++ {
				if i > 0 && delay > 0 {
					time.Sleep(delay)
				}
				buf, err := p.Capture(ctx)
				if err != nil {
					return err
				}
				err = enc.Encode(snapfile.Record{
					Host:   host.Name,
					Name:   cfg.Snapshot,
					Time:   time.Now().UTC(),
					Buffer: *buf,
				})
				if err != nil {
					return fmt.Errorf("could not dump capture #%d: %w", i, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "capture #%d: %d words\n", i, buf.LengthWords)
			}

			err = enc.Close()
			if err != nil {
				return fmt.Errorf("could not close dump encoder: %w", err)
			}
			err = f.Close()
			if err != nil {
				return fmt.Errorf("could not close output file: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&oname, "output", "o", "out.snap", "path to the output dump file")
	cmd.Flags().IntVarP(&n, "count", "n", 1, "number of captures")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay between two captures")
	return cmd
}
