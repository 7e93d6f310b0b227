// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command heap-shell is an interactive inspector of the heaps carried by
// a network capture.
//
// Usage: heap-shell [OPTIONS] [file.pcap]
//
// Example:
//
//	$> heap-shell -p 7148 ./capture.pcap
//	heap> ls
//	heap> heap 3
//	heap> check 4096
package main // import "github.com/go-lpc/corrdbg/cmd/heap-shell"

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-lpc/corrdbg/heap"
	"github.com/go-lpc/corrdbg/packet"
	"github.com/go-lpc/corrdbg/seqcheck"
	"github.com/peterh/liner"
)

func main() {
	log.SetPrefix("heap-shell: ")
	log.SetFlags(0)

	var (
		port = flag.Int("p", 0, "UDP destination port (0: all)")
		ts   = flag.Uint64("ts", 0x1600, "identifier of the timestamp item")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: heap-shell [OPTIONS] [file.pcap]

Example:

$> heap-shell -p 7148 ./capture.pcap

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	sh := newShell(*port, *ts)
	if flag.NArg() > 0 {
		err := sh.open(os.Stdout, flag.Arg(0))
		if err != nil {
			log.Fatalf("%+v", err)
		}
	}

	err := sh.loop(os.Stdout)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type shell struct {
	port int
	ts   uint64
	rec  *heap.Reconstructor

	fname string
	pkts  []packet.RawPacket
	heaps []heap.Heap
	diags []heap.Diagnostic
}

func newShell(port int, ts uint64) *shell {
	rec, _ := heap.NewReconstructor(heap.Flavour64_40)
	return &shell{port: port, ts: ts, rec: rec}
}

var cmds = []string{"check", "diags", "flavour", "heap", "help", "ls", "open", "quit"}

func (sh *shell) loop(w io.Writer) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)
	term.SetCompleter(func(line string) []string {
		var o []string
		for _, c := range cmds {
			if strings.HasPrefix(c, line) {
				o = append(o, c)
			}
		}
		return o
	})

	hist := filepath.Join(os.TempDir(), ".heap-shell-history")
	if f, err := os.Open(hist); err == nil {
		_, _ = term.ReadHistory(f)
		f.Close()
	}
	defer func() {
		f, err := os.Create(hist)
		if err != nil {
			return
		}
		defer f.Close()
		_, _ = term.WriteHistory(f)
	}()

	for {
		line, err := term.Prompt("heap> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		quit, err := sh.exec(w, line)
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (sh *shell) exec(w io.Writer, line string) (bool, error) {
	args := strings.Fields(line)
	switch args[0] {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintf(w, `commands:
  open <file.pcap>      load the heaps of a capture
  ls                    list the heaps
  heap <index>          display a heap
  diags                 list the rejected packets
  check <step>          check the timestamp sequences
  flavour <id> <addr>   set the item widths, in bits
  quit                  leave the shell
`)
		return false, nil
	case "open":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: open <file.pcap>")
		}
		return false, sh.open(w, args[1])
	case "flavour":
		if len(args) != 3 {
			return false, fmt.Errorf("usage: flavour <id-bits> <addr-bits>")
		}
		return false, sh.flavour(w, args[1], args[2])
	}

	if sh.fname == "" {
		return false, fmt.Errorf("no capture loaded")
	}

	switch args[0] {
	case "ls":
		sh.ls(w)
	case "heap":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: heap <index>")
		}
		return false, sh.display(w, args[1])
	case "diags":
		for _, d := range sh.diags {
			fmt.Fprintf(w, "%v\n", &d)
		}
	case "check":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: check <step>")
		}
		return false, sh.check(w, args[1])
	default:
		return false, fmt.Errorf("unknown command %q", args[0])
	}
	return false, nil
}

func (sh *shell) open(w io.Writer, fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open capture: %w", err)
	}
	defer f.Close()

	pkts, err := packet.ReadPCAP(f, sh.port)
	if err != nil {
		return err
	}
	sh.fname = fname
	sh.pkts = pkts
	sh.rebuild()
	fmt.Fprintf(w, "%s: %d packets, %d heaps, %d diagnostics\n",
		fname, len(sh.pkts), len(sh.heaps), len(sh.diags),
	)
	return nil
}

func (sh *shell) rebuild() {
	sh.heaps, sh.diags = sh.rec.Reconstruct(sh.pkts)
}

func (sh *shell) flavour(w io.Writer, ids, addrs string) error {
	id, err := strconv.Atoi(ids)
	if err != nil {
		return fmt.Errorf("invalid id width: %w", err)
	}
	addr, err := strconv.Atoi(addrs)
	if err != nil {
		return fmt.Errorf("invalid address width: %w", err)
	}
	rec, err := heap.NewReconstructor(heap.Flavour{IDBits: id, AddrBits: addr})
	if err != nil {
		return err
	}
	sh.rec = rec
	sh.rebuild()
	fmt.Fprintf(w, "flavour: %v (%d heaps, %d diagnostics)\n", rec.Flavour, len(sh.heaps), len(sh.diags))
	return nil
}

func (sh *shell) ls(w io.Writer) {
	for _, hp := range sh.heaps {
		ts := "-"
		if it, ok := hp.Item(sh.ts); ok && it.Immediate {
			ts = strconv.FormatUint(it.Value, 10)
		}
		fmt.Fprintf(w, "%5d src=%s ts=%s items=%d payload=%d\n",
			hp.Packet, packet.AddrString(hp.Src), ts, len(hp.Items), len(hp.Payload),
		)
	}
}

func (sh *shell) display(w io.Writer, arg string) error {
	idx, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("invalid heap index: %w", err)
	}
	i := sort.Search(len(sh.heaps), func(i int) bool { return sh.heaps[i].Packet >= idx })
	if i == len(sh.heaps) || sh.heaps[i].Packet != idx {
		return fmt.Errorf("no heap at packet %d", idx)
	}
	hp := sh.heaps[i]
	fmt.Fprintf(w, "packet:  %d\nsrc:     %s\nheader:  0x%016x (version=%d, items=%d)\n",
		hp.Packet, packet.AddrString(hp.Src), hp.Header.Word(), hp.Header.Version, hp.Header.ItemCount,
	)
	for _, it := range hp.Items {
		kind := "addr"
		if it.Immediate {
			kind = "imm "
		}
		fmt.Fprintf(w, "item:    0x%04x %s 0x%x\n", it.ID, kind, it.Value)
	}
	const maxWords = 8
	for j, v := range hp.Payload {
		if j == maxWords {
			fmt.Fprintf(w, "payload: ... (%d words)\n", len(hp.Payload))
			break
		}
		fmt.Fprintf(w, "payload: 0x%016x\n", v)
	}
	return nil
}

func (sh *shell) check(w io.Writer, arg string) error {
	step, err := strconv.ParseInt(arg, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid step: %w", err)
	}
	seq := seqcheck.NewValidator(step)
	for _, hp := range sh.heaps {
		it, ok := hp.Item(sh.ts)
		if !ok || !it.Immediate {
			continue
		}
		err := seq.Observe(packet.AddrString(hp.Src), int64(it.Value))
		if err != nil {
			fmt.Fprintf(w, "heap %d: %v\n", hp.Packet, err)
		}
	}
	st := seq.Stats()
	fmt.Fprintf(w, "observed=%d jumps=%d backwards=%d\n", st.Observed, st.Jumps, st.Backwards)
	return nil
}
