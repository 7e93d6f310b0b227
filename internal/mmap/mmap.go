// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mmap provides random access to memory-mapped files, such as the
// device memory of an HPS-to-FPGA bridge or a raw snapshot dump.
package mmap // import "github.com/go-lpc/corrdbg/internal/mmap"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	errClosed = errors.New("mmap: closed")
)

// Handle is a read/write view over a memory region.
type Handle struct {
	data   []byte
	mapped bool // whether data must be released with munmap
}

// Open maps size bytes of the named file, starting at offset.
// Offset must be a multiple of the page size.
func Open(fname string, offset int64, size int) (*Handle, error) {
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not open %q: %w", fname, err)
	}
	defer f.Close()

	if pg := int64(os.Getpagesize()); offset%pg != 0 {
		return nil, fmt.Errorf("mmap: offset 0x%x is not aligned on a %d-byte page", offset, pg)
	}

	data, err := unix.Mmap(
		int(f.Fd()), offset, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED,
	)
	if err != nil {
		return nil, fmt.Errorf("mmap: could not map %q (offset=0x%x, size=%d): %w", fname, offset, size, err)
	}

	h := &Handle{data: data, mapped: true}
	runtime.SetFinalizer(h, (*Handle).Close)
	return h, nil
}

// HandleFrom creates a handle over an in-memory buffer.
func HandleFrom(data []byte) *Handle {
	return &Handle{data: data}
}

// Close releases the memory region.
func (h *Handle) Close() error {
	if h == nil {
		return os.ErrInvalid
	}

	if h.data == nil {
		return nil
	}
	data := h.data
	h.data = nil
	if !h.mapped {
		return nil
	}
	runtime.SetFinalizer(h, nil)

	return unix.Munmap(data)
}

// Len returns the length of the memory region.
func (h *Handle) Len() int {
	return len(h.data)
}

// Bytes returns the memory region.
// The returned slice is invalidated by Close.
func (h *Handle) Bytes() []byte {
	return h.data
}

func (h *Handle) check(op string, off int64) error {
	if h == nil {
		return os.ErrInvalid
	}
	if h.data == nil {
		return errClosed
	}
	if off < 0 || int64(len(h.data)) < off {
		return fmt.Errorf("mmap: invalid %s offset %d", op, off)
	}
	return nil
}

// ReadAt implements the io.ReaderAt interface.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if err := h.check("ReadAt", off); err != nil {
		return 0, err
	}
	n := copy(p, h.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements the io.WriterAt interface.
func (h *Handle) WriteAt(p []byte, off int64) (int, error) {
	if err := h.check("WriteAt", off); err != nil {
		return 0, err
	}
	n := copy(h.data[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

var (
	_ io.ReaderAt = (*Handle)(nil)
	_ io.WriterAt = (*Handle)(nil)
	_ io.Closer   = (*Handle)(nil)
)
