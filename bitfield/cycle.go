// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bitfield

import (
	"fmt"
	"math"
)

// Values holds scaled values, one slice per field name.
type Values map[string][]float64

// Column holds the raw bits of one field, one entry per captured word.
type Column struct {
	Spec FieldSpec
	Raw  []uint64
}

// Len returns the number of entries in the column.
func (col Column) Len() int { return len(col.Raw) }

// Uint returns the raw, unscaled bits of the i-th entry.
func (col Column) Uint(i int) uint64 { return col.Raw[i] }

// Int returns the i-th entry as an integer, sign-extended for signed fields.
// The binary point is ignored.
func (col Column) Int(i int) int64 {
	if col.Spec.signed() {
		return signExtend(col.Raw[i], col.Spec.Width)
	}
	return int64(col.Raw[i])
}

// Bool returns whether the i-th entry is non-zero.
func (col Column) Bool(i int) bool { return col.Raw[i] != 0 }

// Float returns the i-th entry scaled by its binary point.
func (col Column) Float(i int) float64 {
	bp := uint(col.Spec.BinaryPoint)
	if col.Spec.signed() {
		v := signExtend(col.Raw[i], col.Spec.Width)
		if bp == 0 {
			return float64(v)
		}
		// floor division: the remainder is always non-negative.
		quo := v >> bp
		rem := uint64(v) & (^uint64(0) >> (64 - bp))
		return float64(quo) + math.Ldexp(float64(rem), -int(bp))
	}

	v := col.Raw[i]
	if bp == 0 {
		return float64(v)
	}
	quo := v >> bp
	rem := v & (^uint64(0) >> (64 - bp))
	return float64(quo) + math.Ldexp(float64(rem), -int(bp))
}

// Floats returns all the entries of the column, scaled.
func (col Column) Floats() []float64 {
	o := make([]float64, len(col.Raw))
	for i := range o {
		o[i] = col.Float(i)
	}
	return o
}

func signExtend(v uint64, width int) int64 {
	s := 64 - uint(width)
	return int64(v<<s) >> s
}

// Cycle holds decoded words as parallel columns, one per field.
type Cycle struct {
	n     int
	names []string
	cols  map[string]Column
}

// NewCycle creates a cycle out of the provided columns.
// All columns must have the same length and distinct names.
func NewCycle(cols ...Column) (*Cycle, error) {
	c := &Cycle{
		names: make([]string, 0, len(cols)),
		cols:  make(map[string]Column, len(cols)),
	}
	for i, col := range cols {
		name := col.Spec.Name
		if _, dup := c.cols[name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrLayoutMismatch, name)
		}
		if i == 0 {
			c.n = len(col.Raw)
		}
		if len(col.Raw) != c.n {
			return nil, fmt.Errorf("%w: column %q has %d entries, want %d",
				ErrLayoutMismatch, name, len(col.Raw), c.n,
			)
		}
		c.names = append(c.names, name)
		c.cols[name] = col
	}
	return c, nil
}

// Len returns the number of decoded words.
func (c *Cycle) Len() int { return c.n }

// Names returns the column names, in layout order.
func (c *Cycle) Names() []string {
	o := make([]string, len(c.names))
	copy(o, c.names)
	return o
}

// Field returns the named column.
func (c *Cycle) Field(name string) (Column, error) {
	col, ok := c.cols[name]
	if !ok {
		return Column{}, fmt.Errorf("%w %q", ErrUnknownField, name)
	}
	return col, nil
}

// Values returns the scaled values of all the columns.
func (c *Cycle) Values() Values {
	vs := make(Values, len(c.cols))
	for name, col := range c.cols {
		vs[name] = col.Floats()
	}
	return vs
}
