// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reg

import (
	"context"
	"errors"
	"testing"

	"github.com/go-lpc/corrdbg/bitfield"
	"github.com/google/go-cmp/cmp"
)

type fakeBus struct {
	regs   map[string]uint32
	writes []uint32
	err    error
}

func (b *fakeBus) ReadWord(ctx context.Context, name string) (uint32, error) {
	if b.err != nil {
		return 0, b.err
	}
	return b.regs[name], nil
}

func (b *fakeBus) WriteWord(ctx context.Context, name string, v uint32) error {
	if b.err != nil {
		return b.err
	}
	b.regs[name] = v
	b.writes = append(b.writes, v)
	return nil
}

func (b *fakeBus) ReadBlock(ctx context.Context, name string, size, offset int) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func newCtrl(t *testing.T, b *fakeBus) *Register {
	t.Helper()
	l, err := bitfield.Pack(32, []bitfield.FieldSpec{
		{Name: "gain", Width: 16, BinaryPoint: 8},
		{Name: "shift", Width: 12},
		{Name: "pad", Width: 2},
		{Name: "sync", Width: 1, Type: bitfield.Bool},
		{Name: "rst", Width: 1, Type: bitfield.Bool},
	})
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}
	r, err := New(b, "ctrl", l)
	if err != nil {
		t.Fatalf("could not create register: %+v", err)
	}
	return r
}

func TestWrite(t *testing.T) {
	ctx := context.Background()
	b := &fakeBus{regs: map[string]uint32{"ctrl": 0x0100_0003}}
	r := newCtrl(t, b)

	err := r.Write(ctx, map[string]float64{"gain": 2.5, "shift": 5})
	if err != nil {
		t.Fatalf("could not write register: %+v", err)
	}
	if got, want := b.regs["ctrl"], uint32(0x0280_0053); got != want {
		t.Fatalf("invalid register: got=0x%08x, want=0x%08x", got, want)
	}

	// clamped.
	err = r.Write(ctx, map[string]float64{"shift": 1 << 20})
	if err != nil {
		t.Fatalf("could not write register: %+v", err)
	}
	if got, want := b.regs["ctrl"], uint32(0x0280_fff3); got != want {
		t.Fatalf("invalid register: got=0x%08x, want=0x%08x", got, want)
	}

	c, err := r.Read(ctx)
	if err != nil {
		t.Fatalf("could not read register: %+v", err)
	}
	gain, err := c.Field("gain")
	if err != nil {
		t.Fatalf("could not find gain: %+v", err)
	}
	if got, want := gain.Float(0), 2.5; got != want {
		t.Fatalf("invalid gain: got=%v, want=%v", got, want)
	}

	err = r.Write(ctx, map[string]float64{"nope": 1})
	if !errors.Is(err, bitfield.ErrUnknownField) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestPulseToggle(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name  string
		init  uint32
		op    func(r *Register) error
		want  []uint32
		final uint32
	}{
		{
			name: "pulse-rst-low",
			init: 0x1234_0000,
			op: func(r *Register) error {
				return r.Pulse(ctx, "rst")
			},
			want:  []uint32{0x1234_0001, 0x1234_0000},
			final: 0x1234_0000,
		},
		{
			name: "pulse-rst-high",
			init: 0x1234_0001,
			op: func(r *Register) error {
				return r.Pulse(ctx, "rst")
			},
			want:  []uint32{0x1234_0000, 0x1234_0001},
			final: 0x1234_0001,
		},
		{
			name: "toggle-sync",
			init: 0x0000_0001,
			op: func(r *Register) error {
				return r.Toggle(ctx, "sync")
			},
			want:  []uint32{0x0000_0003},
			final: 0x0000_0003,
		},
		{
			name: "toggle-multi-bit",
			init: 0x0000_0050,
			op: func(r *Register) error {
				return r.Toggle(ctx, "shift")
			},
			want:  []uint32{0x0000_0000},
			final: 0x0000_0000,
		},
		{
			name: "toggle-fixed-point",
			init: 0x0000_0000,
			op: func(r *Register) error {
				return r.Toggle(ctx, "gain")
			},
			want:  []uint32{0x0001_0000},
			final: 0x0001_0000,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBus{regs: map[string]uint32{"ctrl": tc.init}}
			r := newCtrl(t, b)
			err := tc.op(r)
			if err != nil {
				t.Fatalf("could not run op: %+v", err)
			}
			if diff := cmp.Diff(tc.want, b.writes); diff != "" {
				t.Fatalf("invalid writes: (-want, +got)\n%s", diff)
			}
			if got, want := b.regs["ctrl"], tc.final; got != want {
				t.Fatalf("invalid register: got=0x%08x, want=0x%08x", got, want)
			}
		})
	}
}

func TestErrors(t *testing.T) {
	ctx := context.Background()
	b := &fakeBus{regs: map[string]uint32{}}
	r := newCtrl(t, b)

	if err := r.Pulse(ctx, "nope"); !errors.Is(err, bitfield.ErrUnknownField) {
		t.Fatalf("invalid error: %+v", err)
	}
	if err := r.Toggle(ctx, "nope"); !errors.Is(err, bitfield.ErrUnknownField) {
		t.Fatalf("invalid error: %+v", err)
	}
	if len(b.writes) != 0 {
		t.Fatalf("unexpected writes: %v", b.writes)
	}

	errBus := errors.New("bus error")
	b.err = errBus
	if err := r.Toggle(ctx, "rst"); !errors.Is(err, errBus) {
		t.Fatalf("invalid error: %+v", err)
	}

	l, err := bitfield.Pack(16, []bitfield.FieldSpec{{Name: "x", Width: 16}})
	if err != nil {
		t.Fatalf("could not create layout: %+v", err)
	}
	_, err = New(b, "short", l)
	if !errors.Is(err, bitfield.ErrLayoutMismatch) {
		t.Fatalf("invalid error: %+v", err)
	}
}
