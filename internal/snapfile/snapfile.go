// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package snapfile reads and writes snapshot dump files.
//
// A dump file is a sequence of records. Each record holds the metadata of
// a capture and its zstd-compressed raw content, protected by a 64-bit
// xxhash checksum of the raw content.
package snapfile // import "github.com/go-lpc/corrdbg/internal/snapfile"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-lpc/corrdbg/snap"
	"github.com/klauspost/compress/zstd"
)

const (
	magic   = "SNAP"
	version = 1

	maxPayload = 1 << 30
)

var (
	ErrChecksum = errors.New("snapfile: checksum mismatch")
	ErrFormat   = errors.New("snapfile: invalid format")
)

// Record is a snapshot capture, as stored in a dump file.
type Record struct {
	Host   string    // host the capture was taken from
	Name   string    // name of the snapshot block
	Time   time.Time // capture time
	Buffer snap.CaptureBuffer
}

// Encoder writes records to an output stream.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
	zst *zstd.Encoder
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	zst, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return &Encoder{
		w:   w,
		buf: make([]byte, 8),
		err: err,
		zst: zst,
	}
}

// Close releases the resources held by the encoder.
// It does not close the underlying writer.
func (enc *Encoder) Close() error {
	if enc.zst != nil {
		return enc.zst.Close()
	}
	return nil
}

// Encode writes the record to the stream.
func (enc *Encoder) Encode(rec Record) error {
	if enc.err != nil {
		return fmt.Errorf("snapfile: could not encode record: %w", enc.err)
	}

	buf := rec.Buffer
	if buf.WordBytes <= 0 || buf.WordBytes*buf.LengthWords != len(buf.Data) {
		return fmt.Errorf("%w: %d bytes for %d words of %d bytes",
			ErrFormat, len(buf.Data), buf.LengthWords, buf.WordBytes,
		)
	}

	zdata := enc.zst.EncodeAll(buf.Data, nil)

	enc.write([]byte(magic))
	enc.writeU8(version)
	enc.writeStr(rec.Host)
	enc.writeStr(rec.Name)
	var ts int64
	if !rec.Time.IsZero() {
		ts = rec.Time.UnixNano()
	}
	enc.writeU64(uint64(ts))
	enc.writeU16(uint16(buf.WordBytes))
	enc.writeU32(uint32(buf.LengthWords))
	enc.writeBool(buf.Circular)
	enc.writeU32(uint32(buf.WrapOffset))
	enc.writeU64(xxhash.Sum64(buf.Data))
	enc.writeU32(uint32(len(zdata)))
	enc.write(zdata)

	if enc.err != nil {
		return fmt.Errorf("snapfile: could not write record %s/%s: %w", rec.Host, rec.Name, enc.err)
	}
	return nil
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
}

func (enc *Encoder) writeU8(v uint8) {
	enc.buf[0] = v
	enc.write(enc.buf[:1])
}

func (enc *Encoder) writeBool(v bool) {
	var b uint8
	if v {
		b = 1
	}
	enc.writeU8(b)
}

func (enc *Encoder) writeU16(v uint16) {
	const n = 2
	binary.BigEndian.PutUint16(enc.buf[:n], v)
	enc.write(enc.buf[:n])
}

func (enc *Encoder) writeU32(v uint32) {
	const n = 4
	binary.BigEndian.PutUint32(enc.buf[:n], v)
	enc.write(enc.buf[:n])
}

func (enc *Encoder) writeU64(v uint64) {
	const n = 8
	binary.BigEndian.PutUint64(enc.buf[:n], v)
	enc.write(enc.buf[:n])
}

func (enc *Encoder) writeStr(s string) {
	if enc.err == nil && len(s) > 0xffff {
		enc.err = fmt.Errorf("%w: string too long (%d bytes)", ErrFormat, len(s))
		return
	}
	enc.writeU16(uint16(len(s)))
	enc.write([]byte(s))
}

// Decoder reads records from an input stream.
type Decoder struct {
	r   io.Reader
	buf []byte
	err error
	zst *zstd.Decoder
}

// NewDecoder returns a new Decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	zst, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	return &Decoder{
		r:   r,
		buf: make([]byte, 8),
		err: err,
		zst: zst,
	}
}

// Close releases the resources held by the decoder.
func (dec *Decoder) Close() {
	if dec.zst != nil {
		dec.zst.Close()
	}
}

// Decode reads the next record from the stream.
// It returns io.EOF when the stream holds no more records.
func (dec *Decoder) Decode(rec *Record) error {
	if dec.err != nil {
		return fmt.Errorf("snapfile: could not decode record: %w", dec.err)
	}

	var hdr [len(magic)]byte
	_, err := io.ReadFull(dec.r, hdr[:])
	switch {
	case errors.Is(err, io.EOF):
		return io.EOF
	case err != nil:
		return fmt.Errorf("snapfile: could not read record header: %w", err)
	}
	if string(hdr[:]) != magic {
		return fmt.Errorf("%w: bad magic %q", ErrFormat, hdr[:])
	}
	if v := dec.readU8(); dec.err == nil && v != version {
		return fmt.Errorf("%w: unknown version %d", ErrFormat, v)
	}

	var (
		host  = dec.readStr()
		name  = dec.readStr()
		ts    = int64(dec.readU64())
		wsz   = int(dec.readU16())
		nwrds = int(dec.readU32())
		circ  = dec.readU8() != 0
		wrap  = int(dec.readU32())
		sum   = dec.readU64()
		zsz   = int(dec.readU32())
	)
	if dec.err == nil && zsz > maxPayload {
		dec.err = fmt.Errorf("%w: payload too large (%d bytes)", ErrFormat, zsz)
	}
	zdata := dec.read(zsz)
	if dec.err != nil {
		err := dec.err
		dec.err = nil
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("snapfile: could not read record: %w", err)
	}

	size := wsz * nwrds
	if size < 0 || size > maxPayload {
		return fmt.Errorf("%w: %s/%s: invalid capture size (%d words of %d bytes)",
			ErrFormat, host, name, nwrds, wsz,
		)
	}

	data, err := dec.zst.DecodeAll(zdata, make([]byte, 0, size))
	if err != nil {
		return fmt.Errorf("snapfile: could not decompress %s/%s: %w", host, name, err)
	}
	if got := xxhash.Sum64(data); got != sum {
		return fmt.Errorf("%w: %s/%s: got=0x%016x, want=0x%016x", ErrChecksum, host, name, got, sum)
	}
	if len(data) != size {
		return fmt.Errorf("%w: %s/%s: %d bytes for %d words of %d bytes",
			ErrFormat, host, name, len(data), nwrds, wsz,
		)
	}

	var when time.Time
	if ts != 0 {
		when = time.Unix(0, ts).UTC()
	}

	*rec = Record{
		Host: host,
		Name: name,
		Time: when,
		Buffer: snap.CaptureBuffer{
			Data:        data,
			WordBytes:   wsz,
			LengthWords: nwrds,
			Circular:    circ,
			WrapOffset:  wrap,
		},
	}
	return nil
}

func (dec *Decoder) read(n int) []byte {
	if dec.err != nil {
		return nil
	}
	p := make([]byte, n)
	_, dec.err = io.ReadFull(dec.r, p)
	return p
}

func (dec *Decoder) load(n int) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, dec.buf[:n])
}

func (dec *Decoder) readU8() uint8 {
	dec.load(1)
	if dec.err != nil {
		return 0
	}
	return dec.buf[0]
}

func (dec *Decoder) readU16() uint16 {
	dec.load(2)
	if dec.err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(dec.buf[:2])
}

func (dec *Decoder) readU32() uint32 {
	dec.load(4)
	if dec.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(dec.buf[:4])
}

func (dec *Decoder) readU64() uint64 {
	dec.load(8)
	if dec.err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(dec.buf[:8])
}

func (dec *Decoder) readStr() string {
	n := int(dec.readU16())
	return string(dec.read(n))
}
