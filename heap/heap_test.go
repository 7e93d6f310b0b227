// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package heap

import (
	"errors"
	"testing"

	"github.com/go-lpc/corrdbg/packet"
	"github.com/google/go-cmp/cmp"
)

func TestDecodeHeader(t *testing.T) {
	hdr := DecodeHeader(0x5304_0305_abcd_0002)
	want := Header{
		Magic:     0x53,
		Version:   4,
		IDWidth:   3,
		AddrWidth: 5,
		Reserved:  0xabcd,
		ItemCount: 2,
	}
	if hdr != want {
		t.Fatalf("invalid header:\ngot= %+v\nwant=%+v", hdr, want)
	}
	if got, want := hdr.Word(), uint64(0x5304_0305_abcd_0002); got != want {
		t.Fatalf("invalid header word: got=0x%x, want=0x%x", got, want)
	}
}

func TestDecodeItem(t *testing.T) {
	for _, tc := range []struct {
		name string
		f    Flavour
		w    uint64
		want Item
	}{
		{
			name: "64-40-immediate",
			f:    Flavour64_40,
			w:    0x8000_0400_0000_1000,
			want: Item{ID: 0x0004, Immediate: true, Value: 0x1000},
		},
		{
			name: "64-40-address",
			f:    Flavour64_40,
			w:    0x0016_0000_0000_0008,
			want: Item{ID: 0x1600, Immediate: false, Value: 0x8},
		},
		{
			name: "64-56-immediate",
			f:    Flavour{IDBits: 8, AddrBits: 56},
			w:    0x8512_3456_789a_bcde,
			want: Item{ID: 0x05, Immediate: true, Value: 0x12_3456_789a_bcde},
		},
		{
			name: "64-56-address",
			f:    Flavour{IDBits: 8, AddrBits: 56},
			w:    0x7f00_0000_0000_0010,
			want: Item{ID: 0x7f, Immediate: false, Value: 0x10},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.f.DecodeItem(tc.w)
			if got != tc.want {
				t.Fatalf("invalid item:\ngot= %+v\nwant=%+v", got, tc.want)
			}
			if got, want := tc.f.EncodeItem(got), tc.w; got != want {
				t.Fatalf("invalid item word: got=0x%x, want=0x%x", got, want)
			}
		})
	}
}

func TestFlavour(t *testing.T) {
	for _, tc := range []struct {
		f   Flavour
		err error
	}{
		{f: Flavour64_40},
		{f: Flavour{IDBits: 8, AddrBits: 56}},
		{f: Flavour{IDBits: 64, AddrBits: 0}},
		{f: Flavour{IDBits: 0, AddrBits: 64}, err: ErrBadFlavour},
		{f: Flavour{IDBits: 16, AddrBits: 40}, err: ErrBadFlavour},
	} {
		t.Run(tc.f.String(), func(t *testing.T) {
			err := tc.f.Validate()
			if !errors.Is(err, tc.err) {
				t.Fatalf("invalid error: got=%v, want=%v", err, tc.err)
			}
		})
	}

	_, err := NewReconstructor(Flavour{IDBits: 1, AddrBits: 1})
	if !errors.Is(err, ErrBadFlavour) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func pkt(idx int, ws ...uint64) packet.RawPacket {
	return packet.RawPacket{Index: idx, Start: 10 * idx, End: 10*idx + len(ws) - 1, Words: ws}
}

func TestPacket(t *testing.T) {
	var (
		f       = Flavour64_40
		payload = []uint64{1, 2, 3, 4}
		tsItem  = Item{ID: 0x1600, Immediate: true, Value: 0x1000}
		lenItem = func(n uint64) Item { return Item{ID: LengthID, Immediate: true, Value: n} }
	)

	r, err := NewReconstructor(f)
	if err != nil {
		t.Fatalf("could not create reconstructor: %+v", err)
	}

	for _, tc := range []struct {
		name  string
		p     packet.RawPacket
		want  Heap
		err   error
		items int // partially decoded items, on error
	}{
		{
			name: "valid",
			p:    pkt(0, f.Encode(4, []Item{tsItem, lenItem(32)}, payload)...),
			want: Heap{
				Packet:  0,
				Header:  Header{Magic: Magic, Version: 4, IDWidth: 3, AddrWidth: 5, ItemCount: 2},
				Items:   []Item{tsItem, lenItem(32)},
				Payload: payload,
			},
		},
		{
			name: "length-rounded-up",
			p:    pkt(1, f.Encode(4, []Item{lenItem(25)}, payload)...),
			want: Heap{
				Packet:  1,
				Header:  Header{Magic: Magic, Version: 4, IDWidth: 3, AddrWidth: 5, ItemCount: 1},
				Items:   []Item{lenItem(25)},
				Payload: payload,
			},
		},
		{
			name: "no-length-item",
			p:    pkt(2, f.Encode(4, []Item{tsItem}, nil)...),
			want: Heap{
				Packet:  2,
				Header:  Header{Magic: Magic, Version: 4, IDWidth: 3, AddrWidth: 5, ItemCount: 1},
				Items:   []Item{tsItem},
				Payload: []uint64{},
			},
		},
		{
			name:  "length-mismatch",
			p:     pkt(3, f.Encode(4, []Item{tsItem, lenItem(32 + 8)}, payload)...),
			err:   ErrHeapLengthMismatch,
			items: 2,
		},
		{
			name:  "duplicate-item",
			p:     pkt(4, f.Encode(4, []Item{tsItem, lenItem(8), tsItem}, payload[:1])...),
			err:   ErrDuplicateHeaderItem,
			items: 2,
		},
		{
			name: "bad-magic",
			p:    pkt(5, 0x5404_0305_0000_0000),
			err:  ErrBadMagic,
		},
		{
			name: "bad-flavour",
			p:    pkt(6, Flavour{IDBits: 16, AddrBits: 48}.Encode(4, []Item{tsItem}, nil)...),
			err:  ErrBadFlavour,
		},
		{
			name: "missing-items",
			p:    pkt(7, f.Encode(4, []Item{tsItem, lenItem(8)}, nil)[:2]...),
			err:  ErrTruncated,
		},
		{
			name: "empty",
			p:    packet.RawPacket{Index: 8},
			err:  ErrTruncated,
		},
		{
			name: "trailing-bytes",
			p: func() packet.RawPacket {
				p := pkt(9, f.Encode(4, []Item{tsItem}, nil)...)
				p.Trailing = 3
				return p
			}(),
			err: ErrTruncated,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			hp, err := r.Packet(tc.p)
			if tc.err == nil {
				if err != nil {
					t.Fatalf("could not rebuild heap: %+v", err)
				}
				if diff := cmp.Diff(tc.want, hp); diff != "" {
					t.Fatalf("invalid heap: (-want, +got)\n%s", diff)
				}
				return
			}

			if !errors.Is(err, tc.err) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.err)
			}
			var diag *Diagnostic
			if !errors.As(err, &diag) {
				t.Fatalf("error is not a diagnostic: %T", err)
			}
			if got, want := diag.Packet, tc.p.Index; got != want {
				t.Fatalf("invalid packet index: got=%d, want=%d", got, want)
			}
			if got, want := diag.Start, tc.p.Start; got != want {
				t.Fatalf("invalid packet start: got=%d, want=%d", got, want)
			}
			if diag.Kind != tc.err {
				t.Fatalf("invalid kind: got=%v, want=%v", diag.Kind, tc.err)
			}
			if got, want := len(diag.Items), tc.items; got != want {
				t.Fatalf("invalid partial items: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestReconstruct(t *testing.T) {
	var (
		f   = Flavour64_40
		r   = &Reconstructor{Flavour: f}
		ts  = func(v uint64) Item { return Item{ID: 0x1600, Immediate: true, Value: v} }
		ln  = func(v uint64) Item { return Item{ID: LengthID, Immediate: true, Value: v} }
		pld = []uint64{0xa, 0xb}
	)

	pkts := []packet.RawPacket{
		pkt(0, f.Encode(4, []Item{ts(0), ln(16)}, pld)...),
		pkt(1, f.Encode(4, []Item{ts(1), ln(24)}, pld)...),
		pkt(2, 0xdead_beef),
		pkt(3, f.Encode(4, []Item{ts(2), ln(16)}, pld)...),
	}

	heaps, diags := r.Reconstruct(pkts)
	if got, want := len(heaps), 2; got != want {
		t.Fatalf("invalid number of heaps: got=%d, want=%d", got, want)
	}
	if got, want := []int{heaps[0].Packet, heaps[1].Packet}, []int{0, 3}; !cmp.Equal(got, want) {
		t.Fatalf("invalid heaps: got=%v, want=%v", got, want)
	}

	if got, want := len(diags), 2; got != want {
		t.Fatalf("invalid number of diagnostics: got=%d, want=%d", got, want)
	}
	for i, tc := range []struct {
		pkt  int
		kind error
	}{
		{1, ErrHeapLengthMismatch},
		{2, ErrBadMagic},
	} {
		d := diags[i]
		if d.Packet != tc.pkt || !errors.Is(&d, tc.kind) {
			t.Fatalf("invalid diagnostic %d: %+v", i, d)
		}
	}

	hp := heaps[1]
	if it, ok := hp.Item(0x1600); !ok || it.Value != 2 {
		t.Fatalf("invalid timestamp item: %+v (ok=%v)", it, ok)
	}
	if n, ok := hp.Length(); !ok || n != 16 {
		t.Fatalf("invalid heap length: %d (ok=%v)", n, ok)
	}
	if _, ok := hp.Item(0x42); ok {
		t.Fatalf("unexpected item 0x42")
	}
}
