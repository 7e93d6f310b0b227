// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bitfield decodes and encodes raw, bit-packed words captured from
// FPGA registers and snapshot memories into per-field scaled values.
package bitfield // import "github.com/go-lpc/corrdbg/bitfield"

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidLayout   = errors.New("bitfield: invalid layout")
	ErrLayoutMismatch  = errors.New("bitfield: layout mismatch")
	ErrValueOutOfRange = errors.New("bitfield: value out of range")
	ErrUnknownField    = errors.New("bitfield: unknown field")
)

const maxWordBits = 1024

// FieldType describes how the raw bits of a field are interpreted.
type FieldType uint8

const (
	Unsigned FieldType = iota // unsigned fixed-point
	Signed                    // two's complement fixed-point
	Bool                      // single bit, decodes to 0/1
)

func (t FieldType) String() string {
	switch t {
	case Unsigned:
		return "ufix"
	case Signed:
		return "fix"
	case Bool:
		return "bool"
	}
	return fmt.Sprintf("FieldType(%d)", uint8(t))
}

// ParseFieldType parses the type names used by design-info artifacts.
func ParseFieldType(s string) (FieldType, error) {
	switch s {
	case "ufix", "unsigned", "uint", "":
		return Unsigned, nil
	case "fix", "signed", "int":
		return Signed, nil
	case "bool", "boolean":
		return Bool, nil
	}
	return 0, fmt.Errorf("bitfield: unknown field type %q", s)
}

// FieldSpec describes one fixed-width sub-field of a raw word.
// Offset is the bit position of the field's LSB, counted from the LSB of
// the word.
type FieldSpec struct {
	Name        string
	Width       int
	BinaryPoint int
	Type        FieldType
	Offset      int
}

func (f FieldSpec) signed() bool { return f.Type == Signed }

func (f FieldSpec) mask() uint64 {
	return ^uint64(0) >> (64 - uint(f.Width))
}

// Layout is an immutable, validated list of fields covering a word.
type Layout struct {
	bits   int
	fields []FieldSpec
	index  map[string]int
}

// NewLayout creates a layout of wordBits bits from the provided fields.
// The fields must cover the word exactly, without gap nor overlap.
func NewLayout(wordBits int, fields []FieldSpec) (*Layout, error) {
	if wordBits <= 0 || wordBits%8 != 0 || wordBits > maxWordBits {
		return nil, fmt.Errorf("%w: word width %d is not a multiple of 8 in (0, %d]",
			ErrInvalidLayout, wordBits, maxWordBits,
		)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields", ErrInvalidLayout)
	}

	l := &Layout{
		bits:   wordBits,
		fields: make([]FieldSpec, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	copy(l.fields, fields)

	for i, f := range l.fields {
		switch {
		case f.Name == "":
			return nil, fmt.Errorf("%w: field #%d has no name", ErrInvalidLayout, i)
		case f.Width < 1 || f.Width > 64:
			return nil, fmt.Errorf("%w: field %q has width %d (want 1..64)",
				ErrInvalidLayout, f.Name, f.Width,
			)
		case f.BinaryPoint < 0 || f.BinaryPoint > f.Width:
			return nil, fmt.Errorf("%w: field %q has binary point %d (want 0..%d)",
				ErrInvalidLayout, f.Name, f.BinaryPoint, f.Width,
			)
		case f.Type == Bool && (f.Width != 1 || f.BinaryPoint != 0):
			return nil, fmt.Errorf("%w: boolean field %q must be a single integer bit",
				ErrInvalidLayout, f.Name,
			)
		case f.Type > Bool:
			return nil, fmt.Errorf("%w: field %q has invalid type %v",
				ErrInvalidLayout, f.Name, f.Type,
			)
		case f.Offset < 0 || f.Offset+f.Width > wordBits:
			return nil, fmt.Errorf("%w: field %q [%d:%d] does not fit in a %d-bit word",
				ErrInvalidLayout, f.Name, f.Offset+f.Width-1, f.Offset, wordBits,
			)
		}
		if _, dup := l.index[f.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrInvalidLayout, f.Name)
		}
		l.index[f.Name] = i
	}

	order := make([]FieldSpec, len(l.fields))
	copy(order, l.fields)
	sort.Slice(order, func(i, j int) bool {
		return order[i].Offset < order[j].Offset
	})

	next := 0
	for _, f := range order {
		switch {
		case f.Offset < next:
			return nil, fmt.Errorf("%w: field %q overlaps bit %d", ErrInvalidLayout, f.Name, f.Offset)
		case f.Offset > next:
			return nil, fmt.Errorf("%w: gap at bits [%d:%d] before field %q",
				ErrInvalidLayout, f.Offset-1, next, f.Name,
			)
		}
		next = f.Offset + f.Width
	}
	if next != wordBits {
		return nil, fmt.Errorf("%w: fields cover %d bits of a %d-bit word",
			ErrInvalidLayout, next, wordBits,
		)
	}

	return l, nil
}

// Pack creates a layout of wordBits bits, assigning offsets to fields
// MSB first, in the order they are provided.
// The Offset of the provided fields is ignored.
func Pack(wordBits int, fields []FieldSpec) (*Layout, error) {
	packed := make([]FieldSpec, len(fields))
	copy(packed, fields)

	off := wordBits
	for i := range packed {
		off -= packed[i].Width
		packed[i].Offset = off
	}
	if off != 0 {
		return nil, fmt.Errorf("%w: packed fields cover %d bits of a %d-bit word",
			ErrInvalidLayout, wordBits-off, wordBits,
		)
	}
	return NewLayout(wordBits, packed)
}

// WordBits returns the width of a word, in bits.
func (l *Layout) WordBits() int { return l.bits }

// WordBytes returns the width of a word, in bytes.
func (l *Layout) WordBytes() int { return l.bits / 8 }

// Len returns the number of fields.
func (l *Layout) Len() int { return len(l.fields) }

// Fields returns a copy of the fields, in declaration order.
func (l *Layout) Fields() []FieldSpec {
	o := make([]FieldSpec, len(l.fields))
	copy(o, l.fields)
	return o
}

// Field returns the named field.
func (l *Layout) Field(name string) (FieldSpec, bool) {
	i, ok := l.index[name]
	if !ok {
		return FieldSpec{}, false
	}
	return l.fields[i], true
}
