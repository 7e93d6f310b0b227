// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bitfield

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewLayout(t *testing.T) {
	for _, tc := range []struct {
		name   string
		bits   int
		fields []FieldSpec
		want   string
	}{
		{
			name: "ok",
			bits: 16,
			fields: []FieldSpec{
				{Name: "a", Width: 8, Offset: 8},
				{Name: "b", Width: 7, Offset: 1},
				{Name: "c", Width: 1, Offset: 0, Type: Bool},
			},
		},
		{
			name:   "bad-word-width",
			bits:   12,
			fields: []FieldSpec{{Name: "a", Width: 12}},
			want:   "bitfield: invalid layout: word width 12 is not a multiple of 8 in (0, 1024]",
		},
		{
			name: "no-fields",
			bits: 8,
			want: "bitfield: invalid layout: no fields",
		},
		{
			name:   "no-name",
			bits:   8,
			fields: []FieldSpec{{Width: 8}},
			want:   "bitfield: invalid layout: field #0 has no name",
		},
		{
			name: "too-wide",
			bits: 72,
			fields: []FieldSpec{
				{Name: "a", Width: 65, Offset: 7},
				{Name: "b", Width: 7, Offset: 0},
			},
			want: `bitfield: invalid layout: field "a" has width 65 (want 1..64)`,
		},
		{
			name:   "bad-binary-point",
			bits:   8,
			fields: []FieldSpec{{Name: "a", Width: 8, BinaryPoint: 9}},
			want:   `bitfield: invalid layout: field "a" has binary point 9 (want 0..8)`,
		},
		{
			name: "wide-bool",
			bits: 8,
			fields: []FieldSpec{
				{Name: "a", Width: 6, Offset: 2},
				{Name: "b", Width: 2, Type: Bool},
			},
			want: `bitfield: invalid layout: boolean field "b" must be a single integer bit`,
		},
		{
			name: "duplicate",
			bits: 8,
			fields: []FieldSpec{
				{Name: "a", Width: 4, Offset: 4},
				{Name: "a", Width: 4},
			},
			want: `bitfield: invalid layout: duplicate field "a"`,
		},
		{
			name: "overlap",
			bits: 8,
			fields: []FieldSpec{
				{Name: "a", Width: 5, Offset: 3},
				{Name: "b", Width: 4},
			},
			want: `bitfield: invalid layout: field "a" overlaps bit 3`,
		},
		{
			name: "gap",
			bits: 8,
			fields: []FieldSpec{
				{Name: "a", Width: 4, Offset: 4},
				{Name: "b", Width: 2},
			},
			want: `bitfield: invalid layout: gap at bits [3:2] before field "a"`,
		},
		{
			name: "short",
			bits: 8,
			fields: []FieldSpec{
				{Name: "a", Width: 4},
			},
			want: "bitfield: invalid layout: fields cover 4 bits of a 8-bit word",
		},
		{
			name: "out-of-word",
			bits: 8,
			fields: []FieldSpec{
				{Name: "a", Width: 4, Offset: 6},
			},
			want: `bitfield: invalid layout: field "a" [9:6] does not fit in a 8-bit word`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, err := NewLayout(tc.bits, tc.fields)
			if tc.want != "" {
				if err == nil {
					t.Fatalf("expected an error")
				}
				if !errors.Is(err, ErrInvalidLayout) {
					t.Fatalf("invalid error kind: %+v", err)
				}
				if got, want := err.Error(), tc.want; got != want {
					t.Fatalf("invalid error:\ngot= %s\nwant=%s", got, want)
				}
				return
			}
			if err != nil {
				t.Fatalf("could not create layout: %+v", err)
			}
			if got, want := l.WordBytes(), tc.bits/8; got != want {
				t.Fatalf("invalid word size: got=%d, want=%d", got, want)
			}
			if got, want := l.Len(), len(tc.fields); got != want {
				t.Fatalf("invalid number of fields: got=%d, want=%d", got, want)
			}
		})
	}
}

func TestPack(t *testing.T) {
	l, err := Pack(32, []FieldSpec{
		{Name: "a", Width: 8, Type: Signed},
		{Name: "b", Width: 16, BinaryPoint: 4},
		{Name: "c", Width: 1, Type: Bool},
		{Name: "d", Width: 7},
	})
	if err != nil {
		t.Fatalf("could not pack layout: %+v", err)
	}

	for _, tc := range []struct {
		name string
		off  int
	}{
		{"a", 24},
		{"b", 8},
		{"c", 7},
		{"d", 0},
	} {
		f, ok := l.Field(tc.name)
		if !ok {
			t.Fatalf("could not find field %q", tc.name)
		}
		if got, want := f.Offset, tc.off; got != want {
			t.Fatalf("invalid offset for %q: got=%d, want=%d", tc.name, got, want)
		}
	}

	_, err = Pack(32, []FieldSpec{{Name: "a", Width: 8}})
	if !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func mustPack(t *testing.T, bits int, fields ...FieldSpec) *Layout {
	t.Helper()
	l, err := Pack(bits, fields)
	if err != nil {
		t.Fatalf("could not pack layout: %+v", err)
	}
	return l
}

func TestDecode(t *testing.T) {
	l := mustPack(t, 32,
		FieldSpec{Name: "a", Width: 8, Type: Signed},
		FieldSpec{Name: "b", Width: 16, BinaryPoint: 4},
		FieldSpec{Name: "c", Width: 1, Type: Bool},
		FieldSpec{Name: "d", Width: 7},
	)

	raw := []byte{
		0xff, 0x00, 0x18, 0x85,
		0x7f, 0xff, 0xff, 0x7f,
	}

	c, err := Decode(l, raw)
	if err != nil {
		t.Fatalf("could not decode: %+v", err)
	}

	if got, want := c.Len(), 2; got != want {
		t.Fatalf("invalid number of words: got=%d, want=%d", got, want)
	}
	if got, want := c.Names(), []string{"a", "b", "c", "d"}; !cmp.Equal(got, want) {
		t.Fatalf("invalid names: %s", cmp.Diff(want, got))
	}

	want := Values{
		"a": {-1, 127},
		"b": {1.5, 4095.9375},
		"c": {1, 0},
		"d": {5, 127},
	}
	if got := c.Values(); !cmp.Equal(got, want) {
		t.Fatalf("invalid decoded values:\n%s", cmp.Diff(want, got))
	}

	a, err := c.Field("a")
	if err != nil {
		t.Fatalf("could not get field: %+v", err)
	}
	if got, want := a.Int(0), int64(-1); got != want {
		t.Fatalf("invalid a[0]: got=%d, want=%d", got, want)
	}
	if got, want := a.Uint(0), uint64(0xff); got != want {
		t.Fatalf("invalid a[0] raw: got=0x%x, want=0x%x", got, want)
	}

	cc, err := c.Field("c")
	if err != nil {
		t.Fatalf("could not get field: %+v", err)
	}
	if !cc.Bool(0) || cc.Bool(1) {
		t.Fatalf("invalid booleans: %v", cc.Raw)
	}

	_, err = c.Field("nope")
	if !errors.Is(err, ErrUnknownField) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestDecodeFixedPoint(t *testing.T) {
	l := mustPack(t, 16,
		FieldSpec{Name: "x", Width: 8, BinaryPoint: 4, Type: Signed},
		FieldSpec{Name: "y", Width: 8, BinaryPoint: 8},
	)

	for _, tc := range []struct {
		raw  []byte
		x, y float64
	}{
		{[]byte{0xf4, 0x80}, -0.75, 0.5},
		{[]byte{0x80, 0xff}, -8, 255.0 / 256},
		{[]byte{0x7f, 0x01}, 7.9375, 1.0 / 256},
		{[]byte{0xff, 0x00}, -0.0625, 0},
		{[]byte{0x00, 0x00}, 0, 0},
	} {
		c, err := Decode(l, tc.raw)
		if err != nil {
			t.Fatalf("could not decode: %+v", err)
		}
		vs := c.Values()
		if got, want := vs["x"][0], tc.x; got != want {
			t.Fatalf("invalid x for 0x%x: got=%v, want=%v", tc.raw, got, want)
		}
		if got, want := vs["y"][0], tc.y; got != want {
			t.Fatalf("invalid y for 0x%x: got=%v, want=%v", tc.raw, got, want)
		}
	}
}

func TestDecodeWideWords(t *testing.T) {
	l := mustPack(t, 256,
		FieldSpec{Name: "d0", Width: 64},
		FieldSpec{Name: "d1", Width: 64},
		FieldSpec{Name: "d2", Width: 64, Type: Signed},
		FieldSpec{Name: "pad", Width: 61},
		FieldSpec{Name: "eof", Width: 1, Type: Bool},
		FieldSpec{Name: "valid", Width: 1, Type: Bool},
		FieldSpec{Name: "rst", Width: 1, Type: Bool},
	)

	raw := []byte{
		0xde, 0xad, 0xbe, 0xef, 0xca, 0xfe, 0xba, 0xbe,
		0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef,
		0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xfe,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x06,
	}

	c, err := Decode(l, raw)
	if err != nil {
		t.Fatalf("could not decode: %+v", err)
	}

	for _, tc := range []struct {
		name string
		want uint64
	}{
		{"d0", 0xdeadbeefcafebabe},
		{"d1", 0x0123456789abcdef},
		{"d2", 0xfffffffffffffffe},
		{"pad", 0},
		{"eof", 1},
		{"valid", 1},
		{"rst", 0},
	} {
		col, err := c.Field(tc.name)
		if err != nil {
			t.Fatalf("could not get %q: %+v", tc.name, err)
		}
		if got, want := col.Uint(0), tc.want; got != want {
			t.Fatalf("invalid %q: got=0x%x, want=0x%x", tc.name, got, want)
		}
	}

	d2, _ := c.Field("d2")
	if got, want := d2.Int(0), int64(-2); got != want {
		t.Fatalf("invalid signed 64b value: got=%d, want=%d", got, want)
	}

	enc, err := Encode(l, Values{
		"d0": {0}, "d1": {0}, "d2": {-2},
		"pad": {0}, "eof": {1}, "valid": {1}, "rst": {0},
	})
	if err != nil {
		t.Fatalf("could not encode: %+v", err)
	}
	if got, want := enc[16:], raw[16:]; !cmp.Equal(got, want) {
		t.Fatalf("invalid encoding:\n%s", cmp.Diff(want, got))
	}
}

func TestDecodeMismatch(t *testing.T) {
	l := mustPack(t, 32, FieldSpec{Name: "a", Width: 32})

	_, err := Decode(l, []byte{1, 2, 3})
	if !errors.Is(err, ErrLayoutMismatch) {
		t.Fatalf("invalid error: %+v", err)
	}

	c, err := Decode(l, nil)
	if err != nil {
		t.Fatalf("could not decode empty buffer: %+v", err)
	}
	if got, want := c.Len(), 0; got != want {
		t.Fatalf("invalid length: got=%d, want=%d", got, want)
	}
	a, err := c.Field("a")
	if err != nil {
		t.Fatalf("could not get field: %+v", err)
	}
	if got, want := a.Len(), 0; got != want {
		t.Fatalf("invalid column length: got=%d, want=%d", got, want)
	}
}

func TestEncodeClamp(t *testing.T) {
	l := mustPack(t, 16,
		FieldSpec{Name: "s", Width: 8, Type: Signed},
		FieldSpec{Name: "u", Width: 4},
		FieldSpec{Name: "f", Width: 4, BinaryPoint: 2},
	)

	for _, tc := range []struct {
		name    string
		vs      Values
		want    Values
		wantRaw []byte
	}{
		{
			name:    "in-range",
			vs:      Values{"s": {-3}, "u": {9}, "f": {1.25}},
			want:    Values{"s": {-3}, "u": {9}, "f": {1.25}},
			wantRaw: []byte{0xfd, 0x95},
		},
		{
			name:    "saturate-high",
			vs:      Values{"s": {200}, "u": {20}, "f": {10}},
			want:    Values{"s": {127}, "u": {15}, "f": {3.75}},
			wantRaw: []byte{0x7f, 0xff},
		},
		{
			name:    "saturate-low",
			vs:      Values{"s": {-300}, "u": {-1}, "f": {-2}},
			want:    Values{"s": {-128}, "u": {0}, "f": {0}},
			wantRaw: []byte{0x80, 0x00},
		},
		{
			name:    "infinities",
			vs:      Values{"s": {math.Inf(-1)}, "u": {math.Inf(+1)}, "f": {0}},
			want:    Values{"s": {-128}, "u": {15}, "f": {0}},
			wantRaw: []byte{0x80, 0xf0},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := Encode(l, tc.vs)
			if err != nil {
				t.Fatalf("could not encode: %+v", err)
			}
			if got, want := raw, tc.wantRaw; !cmp.Equal(got, want) {
				t.Fatalf("invalid raw encoding: got=0x%x, want=0x%x", got, want)
			}
			c, err := Decode(l, raw)
			if err != nil {
				t.Fatalf("could not decode: %+v", err)
			}
			if got, want := c.Values(), tc.want; !cmp.Equal(got, want) {
				t.Fatalf("invalid round-trip:\n%s", cmp.Diff(want, got))
			}
		})
	}
}

func TestEncodeStrict(t *testing.T) {
	l := mustPack(t, 16,
		FieldSpec{Name: "s", Width: 8, Type: Signed},
		FieldSpec{Name: "u", Width: 8},
	)

	_, err := EncodeStrict(l, Values{"s": {1, 2}, "u": {3, 4}})
	if err != nil {
		t.Fatalf("could not encode: %+v", err)
	}

	for _, tc := range []struct {
		name string
		vs   Values
		want error
	}{
		{"too-high", Values{"s": {128}, "u": {0}}, ErrValueOutOfRange},
		{"too-low", Values{"s": {0}, "u": {-1}}, ErrValueOutOfRange},
		{"nan", Values{"s": {math.NaN()}, "u": {0}}, ErrValueOutOfRange},
		{"missing", Values{"s": {0}}, ErrLayoutMismatch},
		{"ragged", Values{"s": {0}, "u": {0, 1}}, ErrLayoutMismatch},
		{"unknown", Values{"s": {0}, "u": {0}, "x": {0}}, ErrUnknownField},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := EncodeStrict(l, tc.vs)
			if !errors.Is(err, tc.want) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	rnd := rand.New(rand.NewSource(1234))
	for _, tc := range []struct {
		name string
		bits int
		flds []FieldSpec
	}{
		{
			name: "adc-samples",
			bits: 64,
			flds: []FieldSpec{
				{Name: "p0", Width: 10, BinaryPoint: 9, Type: Signed},
				{Name: "p1", Width: 10, BinaryPoint: 9, Type: Signed},
				{Name: "p2", Width: 10, BinaryPoint: 9, Type: Signed},
				{Name: "p3", Width: 10, BinaryPoint: 9, Type: Signed},
				{Name: "ts", Width: 23},
				{Name: "sync", Width: 1, Type: Bool},
			},
		},
		{
			name: "odd-alignment",
			bits: 24,
			flds: []FieldSpec{
				{Name: "p", Width: 3},
				{Name: "q", Width: 13, BinaryPoint: 5, Type: Signed},
				{Name: "r", Width: 8, BinaryPoint: 8},
			},
		},
		{
			name: "corner-turn",
			bits: 128,
			flds: []FieldSpec{
				{Name: "re", Width: 32, BinaryPoint: 31, Type: Signed},
				{Name: "im", Width: 32, BinaryPoint: 31, Type: Signed},
				{Name: "chan", Width: 12},
				{Name: "ant", Width: 7},
				{Name: "pad", Width: 43},
				{Name: "eof", Width: 1, Type: Bool},
				{Name: "valid", Width: 1, Type: Bool},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l, err := Pack(tc.bits, tc.flds)
			if err != nil {
				t.Fatalf("could not pack layout: %+v", err)
			}

			const n = 257
			vs := make(Values)
			for _, f := range l.Fields() {
				lo, hi := 0.0, math.Ldexp(1, f.Width)
				if f.Type == Signed {
					lo, hi = -math.Ldexp(1, f.Width-1), math.Ldexp(1, f.Width-1)
				}
				lo = math.Ldexp(lo, -f.BinaryPoint)
				hi = math.Ldexp(hi-1, -f.BinaryPoint)
				col := make([]float64, n)
				for i := range col {
					col[i] = lo + rnd.Float64()*(hi-lo)
				}
				col[0] = lo
				col[1] = hi
				vs[f.Name] = col
			}

			raw, err := EncodeStrict(l, vs)
			if err != nil {
				t.Fatalf("could not encode: %+v", err)
			}
			if got, want := len(raw), n*l.WordBytes(); got != want {
				t.Fatalf("invalid encoded size: got=%d, want=%d", got, want)
			}

			c, err := Decode(l, raw)
			if err != nil {
				t.Fatalf("could not decode: %+v", err)
			}
			got := c.Values()
			for _, f := range l.Fields() {
				tol := math.Ldexp(1, -f.BinaryPoint)
				for i, want := range vs[f.Name] {
					if v := got[f.Name][i]; math.Abs(v-want) > tol {
						t.Fatalf("invalid round-trip for %s[%d]: got=%v, want=%v (tol=%v)",
							f.Name, i, v, want, tol,
						)
					}
				}
			}
		})
	}
}

func TestSignedTopBit(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for width := 2; width <= 64; width++ {
		fields := []FieldSpec{{Name: "v", Width: width, Type: Signed}}
		if width < 64 {
			fields = append(fields, FieldSpec{Name: "pad", Width: 64 - width})
		}
		l := mustPack(t, 64, fields...)
		f, _ := l.Field("v")

		for i := 0; i < 16; i++ {
			var (
				low = rnd.Uint64() & (f.mask() >> 1)
				top = uint64(1) << uint(width-1)
				neg = make([]byte, 8)
				pos = make([]byte, 8)
			)
			setBits(neg, f.Offset, f.Width, top|low)
			setBits(pos, f.Offset, f.Width, low)

			c, err := Decode(l, append(neg, pos...))
			if err != nil {
				t.Fatalf("could not decode: %+v", err)
			}
			col, _ := c.Field("v")
			if v := col.Int(0); v >= 0 {
				t.Fatalf("width=%d: top bit set decoded as non-negative: %d", width, v)
			}
			if v := col.Int(1); v < 0 {
				t.Fatalf("width=%d: top bit clear decoded as negative: %d", width, v)
			}
			if v := col.Float(0); v >= 0 {
				t.Fatalf("width=%d: top bit set decoded as non-negative: %v", width, v)
			}
		}
	}
}
