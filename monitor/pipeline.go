// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/go-lpc/corrdbg/bitfield"
	"github.com/go-lpc/corrdbg/bus"
	"github.com/go-lpc/corrdbg/heap"
	"github.com/go-lpc/corrdbg/packet"
	"github.com/go-lpc/corrdbg/seqcheck"
	"github.com/go-lpc/corrdbg/snap"
)

// ErrNoTimestamp is recorded for heaps without an immediate timestamp item.
var ErrNoTimestamp = errors.New("monitor: no timestamp item")

// HostResult is the outcome of one monitoring cycle on a host.
type HostResult struct {
	Host     string
	Words    int // captured words
	Packets  int // complete packets
	Trailing int // cycles discarded after the last end-of-frame
	Heaps    int // valid heaps

	Diagnostics []heap.Diagnostic // rejected packets
	Jumps       []error           // sequence jumps
	Zeros       []error           // unexpected all-zero heaps
	Incomplete  []seqcheck.Report // time-steps with missing streams

	Err     error // fatal error, if any
	Elapsed time.Duration

	steps []int64 // timestamp steps
	sizes []int   // payload sizes
}

// OK reports whether the cycle saw no anomaly.
func (res *HostResult) OK() bool {
	return res.Err == nil &&
		len(res.Diagnostics) == 0 &&
		len(res.Jumps) == 0 &&
		len(res.Zeros) == 0 &&
		len(res.Incomplete) == 0
}

// Pipeline captures, decodes and validates the data of one host.
// Run and Process must not be called concurrently.
type Pipeline struct {
	host string
	msg  *log.Logger

	snap    *snap.Snapshot
	arm     snap.ArmOptions
	timeout time.Duration

	layout *bitfield.Layout
	words  []string
	extra  []string
	eof    string
	seg    packet.Segmenter
	rec    *heap.Reconstructor

	seq  *seqcheck.Validator
	comp *seqcheck.Completeness
	ts   uint64
	key  string
	step int64

	mu    sync.Mutex // guards the sequence state and the statistics
	stats *Stats
}

// NewPipeline creates the pipeline of the named host, reading snapshots
// from b.
// A nil bus gives a pipeline that can only process already captured
// buffers.
func NewPipeline(cfg *Config, l *bitfield.Layout, host string, b bus.Bus, msg *log.Logger) (*Pipeline, error) {
	if msg == nil {
		msg = log.New(io.Discard, "", 0)
	}

	arm, err := cfg.Arm.options()
	if err != nil {
		return nil, err
	}

	rec, err := heap.NewReconstructor(cfg.Heap.flavour())
	if err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	seq, err := cfg.Sequence.validator()
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		host:    host,
		msg:     msg,
		arm:     arm,
		timeout: cfg.Timeout.Duration,
		layout:  l,
		words:   cfg.Segment.Words,
		extra:   cfg.Segment.Extra,
		eof:     cfg.Segment.EOF,
		seg:     cfg.Segment.segmenter(),
		rec:     rec,
		seq:     seq,
		ts:      cfg.Sequence.Timestamp,
		key:     cfg.Sequence.Key,
		step:    cfg.Sequence.Step,
		stats:   newStats(),
	}

	if b != nil {
		wsz := cfg.WordBytes
		if wsz <= 0 {
			wsz = l.WordBytes()
		}
		p.snap = snap.New(b, cfg.Snapshot,
			snap.WithWordBytes(wsz),
			snap.WithPollInterval(cfg.Poll.Duration),
			snap.WithLogger(msg),
		)
	}

	if len(cfg.Sequence.Expect) > 0 {
		p.comp = seqcheck.NewCompleteness(cfg.Sequence.Expect...)
	}

	return p, nil
}

// Host returns the name of the host.
func (p *Pipeline) Host() string { return p.host }

// Stats returns the statistics accumulated so far.
func (p *Pipeline) Stats() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.summary(p.host)
}

// Resync forgets the state of all the streams of the host.
func (p *Pipeline) Resync() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq.ResyncAll()
}

// Capture arms the snapshot block of the host and reads it back.
func (p *Pipeline) Capture(ctx context.Context) (*snap.CaptureBuffer, error) {
	if p.snap == nil {
		return nil, fmt.Errorf("monitor: host %q has no bus", p.host)
	}
	buf, err := p.snap.Capture(ctx, p.arm, p.timeout)
	if err != nil {
		return nil, fmt.Errorf("monitor: host %q: %w", p.host, err)
	}
	return buf, nil
}

// Run captures a snapshot and processes it.
func (p *Pipeline) Run(ctx context.Context) (*HostResult, error) {
	start := time.Now()
	buf, err := p.Capture(ctx)
	if err != nil {
		res := &HostResult{Host: p.host, Err: err, Elapsed: time.Since(start)}
		return res, err
	}

	res, err := p.Process(buf)
	res.Elapsed = time.Since(start)
	return res, err
}

// Process decodes and validates an already captured buffer.
func (p *Pipeline) Process(buf *snap.CaptureBuffer) (*HostResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := &HostResult{Host: p.host}
	err := p.process(res, buf)
	if err != nil {
		res.Err = fmt.Errorf("monitor: host %q: %w", p.host, err)
	}
	p.stats.fill(res, p.step)
	p.msg.Printf("%s: words=%d packets=%d heaps=%d diags=%d jumps=%d zeros=%d",
		p.host, res.Words, res.Packets, res.Heaps,
		len(res.Diagnostics), len(res.Jumps), len(res.Zeros),
	)
	return res, res.Err
}

func (p *Pipeline) process(res *HostResult, buf *snap.CaptureBuffer) error {
	c, err := bitfield.Decode(p.layout, buf.Words())
	if err != nil {
		return fmt.Errorf("could not decode capture: %w", err)
	}
	res.Words = c.Len()

	if len(p.words) > 0 {
		c, err = packet.Expand(c, p.words, p.eof, p.extra...)
		if err != nil {
			return fmt.Errorf("could not expand capture: %w", err)
		}
	}

	pkts, trailing, err := p.seg.Segment(c)
	if err != nil {
		return fmt.Errorf("could not segment capture: %w", err)
	}
	res.Packets = len(pkts)
	res.Trailing = trailing

	return p.validate(res, pkts)
}

func (p *Pipeline) validate(res *HostResult, pkts []packet.RawPacket) error {
	heaps, diags := p.rec.Reconstruct(pkts)
	res.Diagnostics = append(res.Diagnostics, diags...)

	starts := make(map[int]int, len(pkts))
	for _, pkt := range pkts {
		starts[pkt.Index] = pkt.Start
	}

	var (
		latest int64
		marked bool
	)
	for _, hp := range heaps {
		it, ok := hp.Item(p.ts)
		if !ok || !it.Immediate {
			err := fmt.Errorf("%w 0x%x", ErrNoTimestamp, p.ts)
			res.Diagnostics = append(res.Diagnostics, heap.Diagnostic{
				Packet: hp.Packet,
				Start:  starts[hp.Packet],
				Kind:   ErrNoTimestamp,
				Err:    err,
				Header: hp.Header,
				Items:  hp.Items,
			})
			continue
		}
		res.Heaps++
		res.sizes = append(res.sizes, len(hp.Payload))

		var (
			ts  = int64(it.Value)
			key = p.streamKey(&hp)
		)

		prev, primed := p.seq.State(key)
		err := p.seq.Observe(key, ts)
		if primed && prev.Primed {
			res.steps = append(res.steps, ts-prev.Last)
		}
		if err != nil {
			if seqcheck.IsFatal(err) {
				return fmt.Errorf("packet %d: %w", hp.Packet, err)
			}
			res.Jumps = append(res.Jumps, fmt.Errorf("packet %d: %w", hp.Packet, err))
		}

		if allZeros(hp.Payload) {
			err := p.seq.Sample(key, 0)
			if err != nil {
				res.Zeros = append(res.Zeros, fmt.Errorf("packet %d: %w", hp.Packet, err))
			}
		}

		if p.comp != nil {
			p.comp.Mark(ts, key)
			if !marked || ts > latest {
				latest = ts
				marked = true
			}
		}
	}

	if p.comp != nil && marked {
		for _, r := range p.comp.CloseBefore(latest) {
			if !r.OK() {
				res.Incomplete = append(res.Incomplete, r)
			}
		}
	}

	return nil
}

func (p *Pipeline) streamKey(hp *heap.Heap) string {
	switch p.key {
	case "src":
		return packet.AddrString(hp.Src)
	default:
		return p.host
	}
}

func allZeros(vs []uint64) bool {
	for _, v := range vs {
		if v != 0 {
			return false
		}
	}
	return true
}
