// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reg provides read-modify-write access to the fields of 32-bit
// software registers.
package reg // import "github.com/go-lpc/corrdbg/reg"

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-lpc/corrdbg/bitfield"
	"github.com/go-lpc/corrdbg/bus"
)

// Register is a named 32-bit register, split into fields.
type Register struct {
	bus    bus.Bus
	name   string
	layout *bitfield.Layout
}

// New creates a register on bus b.
// The layout must describe a 32-bit word.
func New(b bus.Bus, name string, l *bitfield.Layout) (*Register, error) {
	if l.WordBits() != 32 {
		return nil, fmt.Errorf("reg: register %q: %w: layout is %d-bit wide, want 32",
			name, bitfield.ErrLayoutMismatch, l.WordBits(),
		)
	}
	return &Register{bus: b, name: name, layout: l}, nil
}

// Name returns the register name.
func (r *Register) Name() string { return r.name }

func (r *Register) read(ctx context.Context) (*bitfield.Cycle, error) {
	v, err := r.bus.ReadWord(ctx, r.name)
	if err != nil {
		return nil, fmt.Errorf("reg: could not read %q: %w", r.name, err)
	}
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return bitfield.Decode(r.layout, buf[:])
}

func (r *Register) write(ctx context.Context, vs bitfield.Values) error {
	raw, err := bitfield.Encode(r.layout, vs)
	if err != nil {
		return fmt.Errorf("reg: could not encode %q: %w", r.name, err)
	}
	err = r.bus.WriteWord(ctx, r.name, binary.BigEndian.Uint32(raw))
	if err != nil {
		return fmt.Errorf("reg: could not write %q: %w", r.name, err)
	}
	return nil
}

// Read reads and decodes the register.
func (r *Register) Read(ctx context.Context) (*bitfield.Cycle, error) {
	return r.read(ctx)
}

// Write reads the register, overrides the provided fields and writes
// the register back.
// Values out of a field's range are clamped.
func (r *Register) Write(ctx context.Context, fields map[string]float64) error {
	for name := range fields {
		if _, ok := r.layout.Field(name); !ok {
			return fmt.Errorf("reg: register %q: %w %q", r.name, bitfield.ErrUnknownField, name)
		}
	}

	cur, err := r.read(ctx)
	if err != nil {
		return err
	}
	vs := cur.Values()
	for name, v := range fields {
		vs[name] = []float64{v}
	}
	return r.write(ctx, vs)
}

// Pulse writes the logical complement of field, and then the original
// value of the register.
func (r *Register) Pulse(ctx context.Context, field string) error {
	cur, vs, err := r.flip(ctx, field)
	if err != nil {
		return err
	}
	err = r.write(ctx, vs)
	if err != nil {
		return err
	}
	return r.write(ctx, cur.Values())
}

// Toggle writes the logical complement of field.
func (r *Register) Toggle(ctx context.Context, field string) error {
	_, vs, err := r.flip(ctx, field)
	if err != nil {
		return err
	}
	return r.write(ctx, vs)
}

// flip reads the register and returns its current content, together with
// the values where field has been logically complemented.
func (r *Register) flip(ctx context.Context, field string) (*bitfield.Cycle, bitfield.Values, error) {
	spec, ok := r.layout.Field(field)
	if !ok {
		return nil, nil, fmt.Errorf("reg: register %q: %w %q", r.name, bitfield.ErrUnknownField, field)
	}
	cur, err := r.read(ctx)
	if err != nil {
		return nil, nil, err
	}
	col, err := cur.Field(field)
	if err != nil {
		return nil, nil, err
	}
	vs := cur.Values()
	vs[field] = []float64{math.Ldexp(complement(col.Uint(0)), -spec.BinaryPoint)}
	return cur, vs, nil
}

func complement(v uint64) float64 {
	if v == 0 {
		return 1
	}
	return 0
}
