// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command corrdbg captures, dumps and decodes correlator snapshots.
//
// Usage:
//
//	corrdbg snap   -c corr.toml [-H host] [-o out.snap] [-n 1]
//	corrdbg decode -c corr.toml file.snap [file.snap ...]
//	corrdbg heaps  [-p 7148] [--ts 0x1600] [--step 4096] file.pcap
//	corrdbg reg    -c corr.toml -H host -l reg.toml NAME [read|write f=v...|pulse f|toggle f]
//	corrdbg encode -l layout.toml f=v1,v2,... [f=...]
package main // import "github.com/go-lpc/corrdbg/cmd/corrdbg"

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/corrdbg"
	"github.com/go-lpc/corrdbg/monitor"
	"github.com/spf13/cobra"
)

func main() {
	log.SetPrefix("corrdbg: ")
	log.SetFlags(0)

	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	config  string
	host    string
	verbose bool
}

func (o *options) logger(w io.Writer) *log.Logger {
	if !o.verbose {
		w = io.Discard
	}
	return log.New(w, "corrdbg: ", 0)
}

func (o *options) load() (*monitor.Config, error) {
	if o.config == "" {
		return nil, fmt.Errorf("no configuration file (use -c)")
	}
	return monitor.LoadConfig(o.config)
}

// hostOf returns the configuration of the selected host, or of the only
// configured host.
func (o *options) hostOf(cfg *monitor.Config) (monitor.HostConfig, error) {
	if o.host == "" {
		if len(cfg.Hosts) != 1 {
			return monitor.HostConfig{}, fmt.Errorf("%d hosts configured, select one with -H", len(cfg.Hosts))
		}
		return cfg.Hosts[0], nil
	}
	for _, h := range cfg.Hosts {
		if h.Name == o.host {
			return h, nil
		}
	}
	return monitor.HostConfig{}, fmt.Errorf("unknown host %q", o.host)
}

func version() string {
	v, _ := corrdbg.Version()
	if v == "" {
		return "(devel)"
	}
	return v
}

func newRootCmd() *cobra.Command {
	var opts options
	root := &cobra.Command{
		Use:   "corrdbg",
		Short: "Correlator snapshot and heap debugging tool",
		Long: `corrdbg captures snapshot blocks of correlator FPGA designs, dumps them
to files, and decodes them back into packets and heaps, checking the
timestamp sequences of the heap streams.

Examples:
  corrdbg snap -c corr.toml -H skarab02 -o gbe.snap
  corrdbg decode -c corr.toml gbe.snap
  corrdbg heaps -p 7148 capture.pcap`,
		Version:       version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.config, "config", "c", "", "path to the monitoring configuration file")
	root.PersistentFlags().StringVarP(&opts.host, "host", "H", "", "name of the host")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newSnapCmd(&opts),
		newDecodeCmd(&opts),
		newHeapsCmd(&opts),
		newRegCmd(&opts),
		newEncodeCmd(&opts),
	)
	return root
}
