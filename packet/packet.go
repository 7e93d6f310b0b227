// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package packet splits decoded capture streams and network captures into
// packets of 64-bit wire words.
package packet // import "github.com/go-lpc/corrdbg/packet"

import (
	"fmt"
	"time"

	"github.com/go-lpc/corrdbg/bitfield"
)

// RawPacket is a packet, as a sequence of 64-bit payload words.
type RawPacket struct {
	Index int // packet index in the stream
	Start int // first cycle (or capture record) of the packet
	End   int // last cycle (or capture record) of the packet

	Words []uint64
	Src   []uint64 // source address of each word, if known
	Valid []bool   // valid flag of each word, if known

	Trailing int       // bytes left over after the last whole word
	Time     time.Time // capture time, if known
}

// Len returns the number of words in the packet.
func (p RawPacket) Len() int { return len(p.Words) }

// Segmenter splits a decoded cycle into packets, along its end-of-frame
// column.
type Segmenter struct {
	Data  string // name of the payload column
	EOF   string // name of the end-of-frame column
	Src   string // name of the source address column (optional)
	Valid string // name of the valid column (optional)

	// DropInvalid discards the cycles whose valid flag is clear.
	// The end-of-frame flag of a discarded cycle still closes the current
	// packet. It needs a Valid column.
	DropInvalid bool
}

// Segment walks c in order and emits one packet per end-of-frame flag.
// Cycles after the last end-of-frame flag cannot form a complete packet:
// they are discarded and their number is returned.
func (seg Segmenter) Segment(c *bitfield.Cycle) ([]RawPacket, int, error) {
	data, err := c.Field(seg.Data)
	if err != nil {
		return nil, 0, fmt.Errorf("packet: data column: %w", err)
	}
	eof, err := c.Field(seg.EOF)
	if err != nil {
		return nil, 0, fmt.Errorf("packet: eof column: %w", err)
	}

	var src, valid *bitfield.Column
	if seg.Src != "" {
		col, err := c.Field(seg.Src)
		if err != nil {
			return nil, 0, fmt.Errorf("packet: src column: %w", err)
		}
		src = &col
	}
	if seg.Valid != "" {
		col, err := c.Field(seg.Valid)
		if err != nil {
			return nil, 0, fmt.Errorf("packet: valid column: %w", err)
		}
		valid = &col
	}
	if seg.DropInvalid && valid == nil {
		return nil, 0, fmt.Errorf("packet: dropping invalid cycles needs a valid column")
	}

	var (
		pkts  []RawPacket
		cur   = RawPacket{Start: -1}
		queue = 0 // cycles accumulated in the current packet
	)
	for i := 0; i < c.Len(); i++ {
		ok := true
		if valid != nil {
			ok = valid.Bool(i)
		}
		if !ok && seg.DropInvalid {
			if eof.Bool(i) && cur.Start >= 0 {
				cur.Index = len(pkts)
				cur.End = i
				pkts = append(pkts, cur)
				cur = RawPacket{Start: -1}
				queue = 0
			}
			continue
		}
		if cur.Start < 0 {
			cur.Start = i
		}
		queue++

		cur.Words = append(cur.Words, data.Uint(i))
		if src != nil {
			cur.Src = append(cur.Src, src.Uint(i))
		}
		if valid != nil {
			cur.Valid = append(cur.Valid, ok)
		}

		if !eof.Bool(i) {
			continue
		}

		cur.Index = len(pkts)
		cur.End = i
		pkts = append(pkts, cur)
		cur = RawPacket{Start: -1}
		queue = 0
	}

	return pkts, queue, nil
}

// Expand widens cycles holding several wire words into one cycle per wire
// word, in wire order.
//
// Each cycle of c emits the columns words[0], ..., words[n-1] as successive
// entries of a 64-bit "data" column.
// The eof column is only set on the last wire word of a cycle.
// The extra columns are repeated for each wire word.
func Expand(c *bitfield.Cycle, words []string, eof string, extra ...string) (*bitfield.Cycle, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("packet: no word column to expand")
	}

	ws := make([]bitfield.Column, len(words))
	for i, name := range words {
		col, err := c.Field(name)
		if err != nil {
			return nil, fmt.Errorf("packet: word column: %w", err)
		}
		ws[i] = col
	}
	flag, err := c.Field(eof)
	if err != nil {
		return nil, fmt.Errorf("packet: eof column: %w", err)
	}
	xs := make([]bitfield.Column, len(extra))
	for i, name := range extra {
		col, err := c.Field(name)
		if err != nil {
			return nil, fmt.Errorf("packet: extra column: %w", err)
		}
		xs[i] = col
	}

	var (
		n    = c.Len() * len(ws)
		data = bitfield.Column{
			Spec: bitfield.FieldSpec{Name: "data", Width: 64},
			Raw:  make([]uint64, 0, n),
		}
		eofs = bitfield.Column{
			Spec: bitfield.FieldSpec{Name: eof, Width: 1, Type: bitfield.Bool},
			Raw:  make([]uint64, 0, n),
		}
		cols = make([]bitfield.Column, len(xs))
	)
	for i, x := range xs {
		cols[i] = bitfield.Column{Spec: x.Spec, Raw: make([]uint64, 0, n)}
	}

	for i := 0; i < c.Len(); i++ {
		for j, w := range ws {
			data.Raw = append(data.Raw, w.Uint(i))
			var v uint64
			if j == len(ws)-1 && flag.Bool(i) {
				v = 1
			}
			eofs.Raw = append(eofs.Raw, v)
			for k, x := range xs {
				cols[k].Raw = append(cols[k].Raw, x.Uint(i))
			}
		}
	}

	return bitfield.NewCycle(append([]bitfield.Column{data, eofs}, cols...)...)
}
