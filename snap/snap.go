// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package snap arms and reads back snapshot blocks, the triggered capture
// memories of an FPGA design.
//
// A snapshot block named "adc" is driven through the registers:
//   - adc_ctrl: bit0 arm, bit1 manual trigger, bit2 manual valid, bit3 circular,
//   - adc_status: bit31 capture in progress, bits[30:0] captured length in bytes,
//   - adc_trig_offset: trigger offset, in words,
//   - adc_tr_en_cnt: number of words seen since the trigger,
//   - adc_bram: the capture memory.
package snap // import "github.com/go-lpc/corrdbg/snap"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/go-lpc/corrdbg/bus"
)

var (
	ErrCaptureTimeout    = errors.New("snap: capture timeout")
	ErrCaptureIncomplete = errors.New("snap: capture incomplete")
)

const (
	ctrlArm         = 1 << 0
	ctrlTrigManual  = 1 << 1
	ctrlValidManual = 1 << 2
	ctrlCircular    = 1 << 3

	statusBusy = 1 << 31
	statusLen  = statusBusy - 1

	defaultPoll = 5 * time.Millisecond
)

// NoOffset leaves the trigger offset register untouched when arming.
const NoOffset = -1

// Trigger selects the trigger source of a capture.
type Trigger uint8

const (
	TriggerExternal Trigger = iota // trigger from the design
	TriggerManual                  // trigger on arm
)

// ArmOptions control how a snapshot block is armed.
type ArmOptions struct {
	Trigger     Trigger
	ManualValid bool // ignore the design's valid signal
	Offset      int  // trigger offset, in words; NoOffset to leave as is
	Circular    bool // capture into a ring until the trigger fires
}

func (o ArmOptions) ctrl() uint32 {
	var v uint32
	if o.Trigger == TriggerManual {
		v |= ctrlTrigManual
	}
	if o.ManualValid {
		v |= ctrlValidManual
	}
	if o.Circular {
		v |= ctrlCircular
	}
	return v
}

// CaptureBuffer holds the raw content of a snapshot memory.
type CaptureBuffer struct {
	Data        []byte
	WordBytes   int
	LengthWords int
	Circular    bool
	WrapOffset  int // words written past the ring length, for circular captures
}

// Words returns the captured words, oldest first.
// For circular captures, the ring is unrolled from the oldest surviving
// word, at WrapOffset modulo LengthWords.
func (buf *CaptureBuffer) Words() []byte {
	if !buf.Circular || buf.LengthWords <= 0 {
		return buf.Data
	}
	off := (buf.WrapOffset % buf.LengthWords) * buf.WordBytes
	if off == 0 || off >= len(buf.Data) {
		return buf.Data
	}
	o := make([]byte, 0, len(buf.Data))
	o = append(o, buf.Data[off:]...)
	o = append(o, buf.Data[:off]...)
	return o
}

// Snapshot is a snapshot block of an FPGA design.
type Snapshot struct {
	bus  bus.Bus
	name string

	wordBytes int
	poll      time.Duration
	msg       *log.Logger
}

// Option configures a Snapshot.
type Option func(s *Snapshot)

// WithPollInterval sets the delay between two reads of the status register.
func WithPollInterval(d time.Duration) Option {
	return func(s *Snapshot) {
		s.poll = d
	}
}

// WithLogger sets the logger used to report captures.
func WithLogger(msg *log.Logger) Option {
	return func(s *Snapshot) {
		s.msg = msg
	}
}

// WithWordBytes sets the width, in bytes, of a captured word.
func WithWordBytes(n int) Option {
	return func(s *Snapshot) {
		s.wordBytes = n
	}
}

// New returns the snapshot block name on bus b.
// Captured words are 4-byte wide unless WithWordBytes says otherwise.
func New(b bus.Bus, name string, opts ...Option) *Snapshot {
	s := &Snapshot{
		bus:       b,
		name:      name,
		wordBytes: 4,
		poll:      defaultPoll,
		msg:       log.New(io.Discard, "snap: ", 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.poll <= 0 {
		s.poll = defaultPoll
	}
	return s
}

// Name returns the name of the snapshot block.
func (s *Snapshot) Name() string { return s.name }

func (s *Snapshot) reg(suffix string) string { return s.name + "_" + suffix }

func (s *Snapshot) read(ctx context.Context, suffix string) (uint32, error) {
	name := s.reg(suffix)
	v, err := s.bus.ReadWord(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("snap: could not read %q: %w", name, err)
	}
	return v, nil
}

func (s *Snapshot) write(ctx context.Context, suffix string, v uint32) error {
	name := s.reg(suffix)
	err := s.bus.WriteWord(ctx, name, v)
	if err != nil {
		return fmt.Errorf("snap: could not write %q: %w", name, err)
	}
	return nil
}

// Arm arms the snapshot block.
// The control register is written with the arm bit clear, the trigger
// offset is set and the arm bit is raised.
func (s *Snapshot) Arm(ctx context.Context, opts ArmOptions) error {
	ctrl := opts.ctrl()
	err := s.write(ctx, "ctrl", ctrl)
	if err != nil {
		return err
	}

	if opts.Offset >= 0 {
		err = s.write(ctx, "trig_offset", uint32(opts.Offset))
		if err != nil {
			return err
		}
	}

	return s.write(ctx, "ctrl", ctrl|ctrlArm)
}

// Read waits for the capture to complete and reads back the memory.
// A zero or negative timeout waits until ctx is done.
func (s *Snapshot) Read(ctx context.Context, timeout time.Duration) (*CaptureBuffer, error) {
	var (
		start = time.Now()
		tick  = time.NewTicker(s.poll)
	)
	defer tick.Stop()

	var status uint32
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("snap: %q: %w", s.name, err)
		}
		v, err := s.read(ctx, "status")
		if err != nil {
			return nil, err
		}
		status = v
		if status&statusBusy == 0 {
			break
		}
		if timeout > 0 && time.Since(start) >= timeout {
			return nil, fmt.Errorf("%w: %q still capturing after %v", ErrCaptureTimeout, s.name, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("snap: %q: %w", s.name, ctx.Err())
		case <-tick.C:
		}
	}

	again, err := s.read(ctx, "status")
	if err != nil {
		return nil, err
	}
	size := int(status & statusLen)
	switch {
	case size == 0:
		return nil, fmt.Errorf("%w: %q captured no data", ErrCaptureIncomplete, s.name)
	case again != status:
		return nil, fmt.Errorf("%w: %q address still moving (status=0x%08x, then 0x%08x)",
			ErrCaptureIncomplete, s.name, status, again,
		)
	case size%s.wordBytes != 0:
		return nil, fmt.Errorf("%w: %q captured %d bytes, not a whole number of %d-byte words",
			ErrCaptureIncomplete, s.name, size, s.wordBytes,
		)
	}

	ctrl, err := s.read(ctx, "ctrl")
	if err != nil {
		return nil, err
	}

	buf := &CaptureBuffer{
		WordBytes:   s.wordBytes,
		LengthWords: size / s.wordBytes,
		Circular:    ctrl&ctrlCircular != 0,
	}

	if buf.Circular {
		cnt, err := s.read(ctx, "tr_en_cnt")
		if err != nil {
			return nil, err
		}
		buf.WrapOffset = int(cnt) - buf.LengthWords
		if buf.WrapOffset < 0 {
			buf.WrapOffset = 0
		}
	}

	name := s.reg("bram")
	buf.Data, err = s.bus.ReadBlock(ctx, name, size, 0)
	if err != nil {
		return nil, fmt.Errorf("snap: could not read %q: %w", name, err)
	}
	if len(buf.Data) != size {
		return nil, fmt.Errorf("%w: %q returned %d bytes, want %d",
			ErrCaptureIncomplete, name, len(buf.Data), size,
		)
	}

	s.msg.Printf("%s: captured %d words (circular=%v, wrap=%d) in %v",
		s.name, buf.LengthWords, buf.Circular, buf.WrapOffset, time.Since(start),
	)
	return buf, nil
}

// Capture arms the snapshot block and reads back the captured data.
func (s *Snapshot) Capture(ctx context.Context, opts ArmOptions, timeout time.Duration) (*CaptureBuffer, error) {
	err := s.Arm(ctx, opts)
	if err != nil {
		return nil, err
	}
	return s.Read(ctx, timeout)
}
