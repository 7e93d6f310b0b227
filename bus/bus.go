// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bus describes how registers and memories of an FPGA design are
// accessed, and provides a memory-mapped implementation.
package bus // import "github.com/go-lpc/corrdbg/bus"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
)

var ErrNoDevice = errors.New("bus: no such device")

// Bus gives access to the named registers and memories of an FPGA design.
//
// Implementations talk to the hardware (KATCP, memory-mapped bridges, ...).
// Errors are returned as-is to the caller, without any retry.
type Bus interface {
	// ReadWord reads the 32-bit register name.
	ReadWord(ctx context.Context, name string) (uint32, error)
	// WriteWord writes v to the 32-bit register name.
	WriteWord(ctx context.Context, name string, v uint32) error
	// ReadBlock reads size bytes from the memory name, starting at offset.
	ReadBlock(ctx context.Context, name string, size, offset int) ([]byte, error)
}

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

// Mem is a bus over a memory-mapped register file, as exposed by the
// HPS-to-FPGA bridge of SoC boards.
// Registers are 32-bit wide and stored little-endian.
type Mem struct {
	rw   rwer
	devs map[string]int64 // device name -> offset
}

// NewMem creates a memory-mapped bus, with the provided device offsets.
func NewMem(rw rwer, devs map[string]int64) *Mem {
	m := &Mem{
		rw:   rw,
		devs: make(map[string]int64, len(devs)),
	}
	for k, v := range devs {
		m.devs[k] = v
	}
	return m
}

// Devices returns the sorted list of known device names.
func (m *Mem) Devices() []string {
	names := make([]string, 0, len(m.devs))
	for k := range m.devs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (m *Mem) offset(name string) (int64, error) {
	off, ok := m.devs[name]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrNoDevice, name)
	}
	return off, nil
}

func (m *Mem) ReadWord(ctx context.Context, name string) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	off, err := m.offset(name)
	if err != nil {
		return 0, err
	}
	var buf [4]byte
	_, err = m.rw.ReadAt(buf[:], off)
	if err != nil {
		return 0, fmt.Errorf("bus: could not read register %q (0x%x): %w", name, off, err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (m *Mem) WriteWord(ctx context.Context, name string, v uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	off, err := m.offset(name)
	if err != nil {
		return err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err = m.rw.WriteAt(buf[:], off)
	if err != nil {
		return fmt.Errorf("bus: could not write register %q (0x%x): %w", name, off, err)
	}
	return nil
}

func (m *Mem) ReadBlock(ctx context.Context, name string, size, offset int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	off, err := m.offset(name)
	if err != nil {
		return nil, err
	}
	if size < 0 || offset < 0 {
		return nil, fmt.Errorf("bus: invalid block read of %q (size=%d, offset=%d)", name, size, offset)
	}
	buf := make([]byte, size)
	_, err = m.rw.ReadAt(buf, off+int64(offset))
	if err != nil {
		return nil, fmt.Errorf("bus: could not read %d bytes from %q (0x%x+%d): %w",
			size, name, off, offset, err,
		)
	}
	return buf, nil
}

var (
	_ Bus = (*Mem)(nil)
)
