// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bitfield

import (
	"fmt"
	"math"
)

// Decode decodes raw into per-field columns, according to layout l.
// Words are stored most significant byte first.
// The length of raw must be a multiple of the width of a word.
func Decode(l *Layout, raw []byte) (*Cycle, error) {
	sz := l.WordBytes()
	if len(raw)%sz != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of the %d-byte word",
			ErrLayoutMismatch, len(raw), sz,
		)
	}

	var (
		n    = len(raw) / sz
		cols = make([]Column, len(l.fields))
	)
	for i, f := range l.fields {
		cols[i] = Column{Spec: f, Raw: make([]uint64, n)}
	}

	for i := 0; i < n; i++ {
		word := raw[i*sz : (i+1)*sz]
		for j, f := range l.fields {
			cols[j].Raw[i] = getBits(word, f.Offset, f.Width)
		}
	}

	return NewCycle(cols...)
}

// Encode encodes the scaled values into raw words, according to layout l.
// Values that do not fit a field are clamped to the field's range.
func Encode(l *Layout, vs Values) ([]byte, error) {
	return encode(l, vs, false)
}

// EncodeStrict is like Encode but fails with ErrValueOutOfRange when a
// value does not fit its field.
func EncodeStrict(l *Layout, vs Values) ([]byte, error) {
	return encode(l, vs, true)
}

func encode(l *Layout, vs Values, strict bool) ([]byte, error) {
	n := -1
	for _, f := range l.fields {
		v, ok := vs[f.Name]
		if !ok {
			return nil, fmt.Errorf("%w: missing values for field %q", ErrLayoutMismatch, f.Name)
		}
		if n < 0 {
			n = len(v)
		}
		if len(v) != n {
			return nil, fmt.Errorf("%w: field %q has %d values, want %d",
				ErrLayoutMismatch, f.Name, len(v), n,
			)
		}
	}
	if len(vs) != len(l.fields) {
		for name := range vs {
			if _, ok := l.index[name]; !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
			}
		}
	}

	var (
		sz  = l.WordBytes()
		raw = make([]byte, n*sz)
	)
	for _, f := range l.fields {
		for i, v := range vs[f.Name] {
			bits, err := quantize(f, v, strict)
			if err != nil {
				return nil, fmt.Errorf("%w (row=%d)", err, i)
			}
			setBits(raw[i*sz:(i+1)*sz], f.Offset, f.Width, bits)
		}
	}
	return raw, nil
}

// quantize scales v by the binary point of f and returns the raw bits.
func quantize(f FieldSpec, v float64, strict bool) (uint64, error) {
	if math.IsNaN(v) {
		return 0, fmt.Errorf("%w: field %q: NaN", ErrValueOutOfRange, f.Name)
	}

	var (
		x  = math.RoundToEven(math.Ldexp(v, f.BinaryPoint))
		lo float64
		hi float64 // exclusive
	)
	switch f.Type {
	case Signed:
		lo = -math.Ldexp(1, f.Width-1)
		hi = math.Ldexp(1, f.Width-1)
	default:
		lo = 0
		hi = math.Ldexp(1, f.Width)
	}

	switch {
	case x < lo:
		if strict {
			return 0, fmt.Errorf("%w: field %q: %v < %v", ErrValueOutOfRange, f.Name, v, math.Ldexp(lo, -f.BinaryPoint))
		}
		if f.signed() {
			return uint64(1) << uint(f.Width-1), nil
		}
		return 0, nil

	case x >= hi:
		if strict {
			return 0, fmt.Errorf("%w: field %q: %v >= %v", ErrValueOutOfRange, f.Name, v, math.Ldexp(hi, -f.BinaryPoint))
		}
		if f.signed() {
			return f.mask() >> 1, nil
		}
		return f.mask(), nil
	}

	if f.signed() {
		return uint64(int64(x)) & f.mask(), nil
	}
	return uint64(x), nil
}

// getBits extracts width bits starting at bit off (counted from the LSB)
// of the big-endian word.
func getBits(word []byte, off, width int) uint64 {
	var v uint64
	for i := 0; i < width; {
		var (
			b   = off + i
			idx = len(word) - 1 - b/8
			sh  = uint(b % 8)
			n   = 8 - int(sh)
		)
		if n > width-i {
			n = width - i
		}
		chunk := (uint64(word[idx]) >> sh) & (uint64(1)<<uint(n) - 1)
		v |= chunk << uint(i)
		i += n
	}
	return v
}

// setBits stores the width low bits of v starting at bit off (counted from
// the LSB) of the big-endian word.
func setBits(word []byte, off, width int, v uint64) {
	for i := 0; i < width; {
		var (
			b   = off + i
			idx = len(word) - 1 - b/8
			sh  = uint(b % 8)
			n   = 8 - int(sh)
		)
		if n > width-i {
			n = width - i
		}
		mask := byte((uint64(1)<<uint(n) - 1) << sh)
		word[idx] = word[idx]&^mask | byte((v>>uint(i))<<sh)&mask
		i += n
	}
}
