// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"errors"
	"fmt"

	"github.com/go-lpc/corrdbg/packet"
)

type state uint8

const (
	stateHeader state = iota
	stateItems
	statePayload
)

func (s state) String() string {
	switch s {
	case stateHeader:
		return "HEADER"
	case stateItems:
		return "ITEMS"
	case statePayload:
		return "PAYLOAD"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Reconstructor rebuilds heaps out of packets.
type Reconstructor struct {
	Flavour Flavour
}

// NewReconstructor returns a reconstructor for the provided flavour.
func NewReconstructor(f Flavour) (*Reconstructor, error) {
	err := f.Validate()
	if err != nil {
		return nil, err
	}
	return &Reconstructor{Flavour: f}, nil
}

// Packet rebuilds the heap held by p.
// Failures are reported as a *Diagnostic.
func (r *Reconstructor) Packet(p packet.RawPacket) (Heap, error) {
	var (
		st   = stateHeader
		hp   = Heap{Packet: p.Index}
		seen = make(map[uint64]struct{})
		fail = func(kind error, format string, args ...any) (Heap, error) {
			return Heap{}, &Diagnostic{
				Packet: p.Index,
				Start:  p.Start,
				Kind:   kind,
				Err:    fmt.Errorf("%w: "+format+" [%v]", append(append([]any{kind}, args...), st)...),
				Header: hp.Header,
				Items:  hp.Items,
			}
		}
	)

	if err := r.Flavour.Validate(); err != nil {
		return fail(ErrBadFlavour, "invalid reconstructor flavour %v", r.Flavour)
	}

	if len(p.Src) > 0 {
		hp.Src = p.Src[0]
	}
	if p.Trailing != 0 {
		return fail(ErrTruncated, "%d trailing bytes after the last word", p.Trailing)
	}
	if len(p.Words) == 0 {
		return fail(ErrTruncated, "empty packet")
	}

	pos := 0
	for st != statePayload {
		switch st {
		case stateHeader:
			hp.Header = DecodeHeader(p.Words[pos])
			pos++
			if hp.Header.Magic != Magic {
				return fail(ErrBadMagic, "magic=0x%02x, want 0x%02x", hp.Header.Magic, Magic)
			}
			var (
				ids   = 8 * int(hp.Header.IDWidth)
				addrs = 8 * int(hp.Header.AddrWidth)
			)
			if ids != r.Flavour.IDBits || addrs != r.Flavour.AddrBits {
				return fail(ErrBadFlavour, "header declares %d-%d, want %v", ids+addrs, addrs, r.Flavour)
			}
			n := int(hp.Header.ItemCount)
			if len(p.Words) < 1+n {
				return fail(ErrTruncated, "%d words for %d items", len(p.Words), n)
			}
			hp.Items = make([]Item, 0, n)
			st = stateItems

		case stateItems:
			if len(hp.Items) == int(hp.Header.ItemCount) {
				st = statePayload
				continue
			}
			it := r.Flavour.DecodeItem(p.Words[pos])
			pos++
			if _, dup := seen[it.ID]; dup {
				return fail(ErrDuplicateHeaderItem, "item 0x%x", it.ID)
			}
			seen[it.ID] = struct{}{}
			hp.Items = append(hp.Items, it)
		}
	}

	hp.Payload = p.Words[pos:]
	if n, ok := hp.Length(); ok {
		want := (n + 7) / 8
		if got := len(hp.Payload); got != want {
			return fail(ErrHeapLengthMismatch,
				"item 0x%x declares %d bytes (%d words), payload has %d words",
				LengthID, n, want, got,
			)
		}
	}

	return hp, nil
}

// Reconstruct rebuilds the heaps held by pkts.
// Packets that could not be rebuilt are reported as diagnostics, in order.
func (r *Reconstructor) Reconstruct(pkts []packet.RawPacket) ([]Heap, []Diagnostic) {
	var (
		heaps []Heap
		diags []Diagnostic
	)
	for _, p := range pkts {
		hp, err := r.Packet(p)
		if err != nil {
			var diag *Diagnostic
			if !errors.As(err, &diag) {
				diag = &Diagnostic{Packet: p.Index, Start: p.Start, Kind: err, Err: err}
			}
			diags = append(diags, *diag)
			continue
		}
		heaps = append(heaps, hp)
	}
	return heaps, diags
}
