// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package heap rebuilds heaps, the self-describing records of the
// correlator's packet protocol, out of packets of 64-bit words.
//
// A heap packet is made of a header word, followed by item words and
// by the payload words:
//
//	header: [magic:8][version:8][id_width:8][addr_width:8][reserved:16][item_count:16]
//	item:   [immediate:1][id:id_bits-1][value:addr_bits]
package heap // import "github.com/go-lpc/corrdbg/heap"

import (
	"errors"
	"fmt"
)

const (
	Magic    = 0x53   // header magic number
	LengthID = 0x0004 // item declaring the heap length, in bytes
)

var (
	ErrBadMagic            = errors.New("heap: bad magic")
	ErrBadFlavour          = errors.New("heap: bad flavour")
	ErrTruncated           = errors.New("heap: truncated packet")
	ErrDuplicateHeaderItem = errors.New("heap: duplicate header item")
	ErrHeapLengthMismatch  = errors.New("heap: heap length mismatch")
)

// Flavour describes how item words are split between the item
// identifier and the item value.
type Flavour struct {
	IDBits   int // width of the identifier, immediate flag included
	AddrBits int // width of the value or payload address
}

// Flavour64_40 is the 64-bit flavour with 40-bit addresses.
var Flavour64_40 = Flavour{IDBits: 24, AddrBits: 40}

func (f Flavour) String() string {
	return fmt.Sprintf("%d-%d", f.IDBits+f.AddrBits, f.AddrBits)
}

// Validate checks that the flavour splits a 64-bit word in two.
func (f Flavour) Validate() error {
	if f.IDBits < 1 || f.AddrBits < 0 || f.IDBits+f.AddrBits != 64 {
		return fmt.Errorf("%w: id_bits=%d + addr_bits=%d (want 64)", ErrBadFlavour, f.IDBits, f.AddrBits)
	}
	return nil
}

// DecodeItem decodes an item word.
func (f Flavour) DecodeItem(w uint64) Item {
	var (
		id   = w >> uint(f.AddrBits)
		imm  = uint64(1) << uint(f.IDBits-1)
		mask = uint64(1)<<uint(f.AddrBits) - 1
	)
	return Item{
		ID:        id &^ imm,
		Immediate: id&imm != 0,
		Value:     w & mask,
	}
}

// EncodeItem encodes an item into a word.
func (f Flavour) EncodeItem(it Item) uint64 {
	var (
		mask = uint64(1)<<uint(f.AddrBits) - 1
		w    = it.ID<<uint(f.AddrBits) | it.Value&mask
	)
	if it.Immediate {
		w |= uint64(1) << 63
	}
	return w
}

// Header is the first word of a heap packet.
type Header struct {
	Magic     uint8
	Version   uint8
	IDWidth   uint8 // width of the item identifier, in bytes
	AddrWidth uint8 // width of the item value, in bytes
	Reserved  uint16
	ItemCount uint16
}

// DecodeHeader decodes a header word.
func DecodeHeader(w uint64) Header {
	return Header{
		Magic:     uint8(w >> 56),
		Version:   uint8(w >> 48),
		IDWidth:   uint8(w >> 40),
		AddrWidth: uint8(w >> 32),
		Reserved:  uint16(w >> 16),
		ItemCount: uint16(w),
	}
}

// Word encodes the header into a word.
func (h Header) Word() uint64 {
	return uint64(h.Magic)<<56 |
		uint64(h.Version)<<48 |
		uint64(h.IDWidth)<<40 |
		uint64(h.AddrWidth)<<32 |
		uint64(h.Reserved)<<16 |
		uint64(h.ItemCount)
}

// Item is a heap header item.
// Immediate items carry their value; the others carry an address into
// the heap payload.
type Item struct {
	ID        uint64
	Immediate bool
	Value     uint64
}

// Heap is a validated heap.
type Heap struct {
	Packet  int // index of the packet the heap was rebuilt from
	Header  Header
	Items   []Item
	Payload []uint64
	Src     uint64 // source address, if known
}

// Item returns the item with the provided identifier.
func (h *Heap) Item(id uint64) (Item, bool) {
	for _, it := range h.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// Length returns the declared heap length, in bytes.
func (h *Heap) Length() (int, bool) {
	it, ok := h.Item(LengthID)
	if !ok {
		return 0, false
	}
	return int(it.Value), true
}

// Encode builds the words of a heap packet with the provided items and
// payload.
func (f Flavour) Encode(version uint8, items []Item, payload []uint64) []uint64 {
	hdr := Header{
		Magic:     Magic,
		Version:   version,
		IDWidth:   uint8(f.IDBits / 8),
		AddrWidth: uint8(f.AddrBits / 8),
		ItemCount: uint16(len(items)),
	}
	ws := make([]uint64, 0, 1+len(items)+len(payload))
	ws = append(ws, hdr.Word())
	for _, it := range items {
		ws = append(ws, f.EncodeItem(it))
	}
	return append(ws, payload...)
}
