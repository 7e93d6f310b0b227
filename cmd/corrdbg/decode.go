// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/go-lpc/corrdbg/internal/snapfile"
	"github.com/go-lpc/corrdbg/monitor"
	"github.com/spf13/cobra"
)

func newDecodeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode <dump-file> [<dump-file>...]",
		Short: "Decode snapshot dump files",
		Long: `Decode the captures held in snapshot dump files into packets and heaps,
and check the timestamp sequences of the heap streams.

Examples:
  corrdbg decode -c corr.toml gbe.snap`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			l, err := cfg.LoadLayout(cmd.Context())
			if err != nil {
				return err
			}

			var (
				out   = cmd.OutOrStdout()
				msg   = opts.logger(cmd.ErrOrStderr())
				pipes = make(map[string]*monitor.Pipeline)
				fatal error
			)
			for _, fname := range args {
				err := decodeFile(out, fname, func(rec *snapfile.Record) error {
					p, ok := pipes[rec.Host]
					if !ok {
						var err error
						p, err = monitor.NewPipeline(cfg, l, rec.Host, nil, msg)
						if err != nil {
							return err
						}
						pipes[rec.Host] = p
					}
					res, err := p.Process(&rec.Buffer)
					printResult(out, res)
					if err != nil && monitor.IsFatal(err) {
						return err
					}
					return nil
				})
				if err != nil {
					fatal = err
					break
				}
			}

			hosts := make([]string, 0, len(pipes))
			for k := range pipes {
				hosts = append(hosts, k)
			}
			sort.Strings(hosts)
			for _, host := range hosts {
				fmt.Fprintf(out, "%v\n", pipes[host].Stats())
			}
			return fatal
		},
	}
	return cmd
}

func decodeFile(w io.Writer, fname string, process func(rec *snapfile.Record) error) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open dump file: %w", err)
	}
	defer f.Close()

	dec := snapfile.NewDecoder(f)
	defer dec.Close()

	for i := 0; ; i++ {
		var rec snapfile.Record
		err := dec.Decode(&rec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not decode record #%d of %q: %w", i, fname, err)
		}
		fmt.Fprintf(w, "%s: record #%d: host=%q snapshot=%q words=%d time=%v\n",
			fname, i, rec.Host, rec.Name, rec.Buffer.LengthWords, rec.Time.UTC().Format("2006-01-02 15:04:05"),
		)
		err = process(&rec)
		if err != nil {
			return err
		}
	}
}

func printResult(w io.Writer, res *monitor.HostResult) {
	fmt.Fprintf(w, "  packets=%d heaps=%d trailing=%d\n", res.Packets, res.Heaps, res.Trailing)
	for _, d := range res.Diagnostics {
		fmt.Fprintf(w, "  diagnostic: %v\n", &d)
	}
	for _, err := range res.Jumps {
		fmt.Fprintf(w, "  jump: %v\n", err)
	}
	for _, err := range res.Zeros {
		fmt.Fprintf(w, "  zero: %v\n", err)
	}
	for _, r := range res.Incomplete {
		fmt.Fprintf(w, "  incomplete: %v\n", r)
	}
	if res.Err != nil {
		fmt.Fprintf(w, "  error: %v\n", res.Err)
	}
}
