// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/go-lpc/corrdbg/heap"
	"github.com/go-lpc/corrdbg/packet"
	"github.com/go-lpc/corrdbg/seqcheck"
	"github.com/spf13/cobra"
)

type heapsOptions struct {
	port     int
	ts       uint64
	step     int64
	policy   string
	idBits   int
	addrBits int
	list     bool
}

func newHeapsCmd(opts *options) *cobra.Command {
	hopts := heapsOptions{
		ts:       0x1600,
		step:     4096,
		idBits:   heap.Flavour64_40.IDBits,
		addrBits: heap.Flavour64_40.AddrBits,
	}
	cmd := &cobra.Command{
		Use:   "heaps <pcap-file>",
		Short: "Rebuild and check the heaps of a network capture",
		Long: `Rebuild the heaps carried by the UDP datagrams of a libpcap capture, and
check the timestamp sequence of each source address.

Examples:
  corrdbg heaps -p 7148 capture.pcap
  corrdbg heaps --ts 0x1600 --step 8192 --policy expected capture.pcap`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("could not open pcap file: %w", err)
			}
			defer f.Close()

			pkts, err := packet.ReadPCAP(f, hopts.port)
			if err != nil {
				return err
			}
			return checkHeaps(cmd.OutOrStdout(), pkts, hopts)
		},
	}
	cmd.Flags().IntVarP(&hopts.port, "port", "p", 0, "UDP destination port (0: all)")
	cmd.Flags().Uint64Var(&hopts.ts, "ts", hopts.ts, "identifier of the timestamp item")
	cmd.Flags().Int64Var(&hopts.step, "step", hopts.step, "expected timestamp step")
	cmd.Flags().StringVar(&hopts.policy, "policy", "observed", "jump policy (observed or expected)")
	cmd.Flags().IntVar(&hopts.idBits, "id-bits", hopts.idBits, "width of the item identifiers, in bits")
	cmd.Flags().IntVar(&hopts.addrBits, "addr-bits", hopts.addrBits, "width of the item addresses, in bits")
	cmd.Flags().BoolVar(&hopts.list, "list", false, "list all the heaps")
	return cmd
}

func checkHeaps(w io.Writer, pkts []packet.RawPacket, opts heapsOptions) error {
	rec, err := heap.NewReconstructor(heap.Flavour{IDBits: opts.idBits, AddrBits: opts.addrBits})
	if err != nil {
		return err
	}
	policy, err := seqcheck.ParsePolicy(opts.policy)
	if err != nil {
		return err
	}
	seq := seqcheck.NewValidator(opts.step, seqcheck.WithPolicy(policy))

	heaps, diags := rec.Reconstruct(pkts)
	for _, d := range diags {
		fmt.Fprintf(w, "diagnostic: %v\n", &d)
	}

	count := make(map[string]int)
	for _, hp := range heaps {
		src := packet.AddrString(hp.Src)
		it, ok := hp.Item(opts.ts)
		if !ok || !it.Immediate {
			fmt.Fprintf(w, "heap %d (src=%s): no timestamp item 0x%x\n", hp.Packet, src, opts.ts)
			continue
		}
		count[src]++
		if opts.list {
			fmt.Fprintf(w, "heap %d: src=%s ts=%d items=%d payload=%d words\n",
				hp.Packet, src, it.Value, len(hp.Items), len(hp.Payload),
			)
		}
		err := seq.Observe(src, int64(it.Value))
		if err != nil {
			fmt.Fprintf(w, "heap %d: %v\n", hp.Packet, err)
			if seqcheck.IsFatal(err) {
				return err
			}
		}
	}

	srcs := make([]string, 0, len(count))
	for k := range count {
		srcs = append(srcs, k)
	}
	sort.Strings(srcs)

	st := seq.Stats()
	fmt.Fprintf(w, "packets=%d heaps=%d diagnostics=%d jumps=%d\n",
		len(pkts), len(heaps), len(diags), st.Jumps,
	)
	for _, src := range srcs {
		last, _ := seq.State(src)
		fmt.Fprintf(w, "  src=%s heaps=%d last=%d\n", src, count[src], last.Last)
	}
	return nil
}
