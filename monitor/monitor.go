// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package monitor runs the snapshot capture, heap reconstruction and
// sequence validation of a set of correlator hosts.
package monitor // import "github.com/go-lpc/corrdbg/monitor"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-lpc/corrdbg/bitfield"
	"github.com/go-lpc/corrdbg/bus"
	"github.com/go-lpc/corrdbg/internal/mmap"
	"github.com/go-lpc/corrdbg/seqcheck"
	"github.com/go-lpc/corrdbg/snap"
	"golang.org/x/sync/errgroup"
)

// IsFatal reports whether err signals a hardware or logic fault that
// should halt monitoring.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, snap.ErrCaptureTimeout),
		errors.Is(err, snap.ErrCaptureIncomplete):
		return true
	}
	return seqcheck.IsFatal(err)
}

// Monitor periodically checks the data of a set of hosts.
type Monitor struct {
	cfg   *Config
	msg   *log.Logger
	alert Alerter

	hosts []*Pipeline

	mu   sync.RWMutex // guards last
	last map[string]*HostResult
}

// Option configures a Monitor.
type Option func(m *Monitor)

// WithLogger sets the logger of the monitor.
func WithLogger(msg *log.Logger) Option {
	return func(m *Monitor) {
		m.msg = msg
	}
}

// WithAlerter sets how anomalies are notified.
func WithAlerter(a Alerter) Option {
	return func(m *Monitor) {
		m.alert = a
	}
}

// New creates a monitor for the hosts of cfg, reached through buses.
func New(cfg *Config, l *bitfield.Layout, buses map[string]bus.Bus, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		cfg:   cfg,
		msg:   log.New(io.Discard, "monitor: ", 0),
		alert: nopAlerter{},
		last:  make(map[string]*HostResult, len(cfg.Hosts)),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, h := range cfg.Hosts {
		b, ok := buses[h.Name]
		if !ok || b == nil {
			return nil, fmt.Errorf("monitor: no bus for host %q", h.Name)
		}
		p, err := NewPipeline(cfg, l, h.Name, b, m.msg)
		if err != nil {
			return nil, fmt.Errorf("monitor: could not create pipeline for host %q: %w", h.Name, err)
		}
		m.hosts = append(m.hosts, p)
	}

	return m, nil
}

// Hosts returns the names of the monitored hosts.
func (m *Monitor) Hosts() []string {
	names := make([]string, len(m.hosts))
	for i, p := range m.hosts {
		names[i] = p.Host()
	}
	return names
}

// Cycle runs one capture and validation cycle on all the hosts
// concurrently.
// A fatal error on one host cancels the others; the results gathered so
// far are returned together with that error.
func (m *Monitor) Cycle(ctx context.Context) (map[string]*HostResult, error) {
	var (
		slots    = make([]*HostResult, len(m.hosts))
		grp, sub = errgroup.WithContext(ctx)
	)
	for i := range m.hosts {
		grp.Go(func() error {
			res, err := m.hosts[i].Run(sub)
			slots[i] = res
			if err != nil && IsFatal(err) {
				return err
			}
			return nil
		})
	}
	err := grp.Wait()

	results := make(map[string]*HostResult, len(slots))
	for i, res := range slots {
		if res == nil {
			continue
		}
		results[m.hosts[i].Host()] = res
	}

	m.mu.Lock()
	for k, v := range results {
		m.last[k] = v
	}
	m.mu.Unlock()

	if err == nil {
		for _, res := range slots {
			if res != nil && res.Err != nil {
				err = res.Err
				break
			}
		}
	}
	return results, err
}

// Run runs monitoring cycles until ctx is done or a fatal error occurs.
// Non-fatal cycle errors are logged and monitoring goes on.
func (m *Monitor) Run(ctx context.Context) error {
	freq := m.cfg.Interval.Duration
	if freq <= 0 {
		freq = time.Second
	}
	tick := time.NewTicker(freq)
	defer tick.Stop()

	for {
		err := m.step(ctx)
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// step runs one cycle and reports its anomalies.
// Only fatal errors are returned.
func (m *Monitor) step(ctx context.Context) error {
	res, err := m.Cycle(ctx)
	if ctx.Err() != nil {
		return nil
	}
	m.report(res)
	if err != nil {
		if IsFatal(err) {
			m.msg.Printf("fatal error: %+v", err)
			m.notify("fatal error", err.Error())
			return err
		}
		m.msg.Printf("cycle error: %+v", err)
	}
	return nil
}

func (m *Monitor) report(results map[string]*HostResult) {
	for _, name := range m.Hosts() {
		res, ok := results[name]
		if !ok || res.OK() {
			continue
		}
		o := new(strings.Builder)
		fmt.Fprintf(o, "host: %s\n", name)
		for _, d := range res.Diagnostics {
			fmt.Fprintf(o, "diagnostic: %v\n", &d)
		}
		for _, err := range res.Jumps {
			fmt.Fprintf(o, "jump: %v\n", err)
		}
		for _, err := range res.Zeros {
			fmt.Fprintf(o, "zero: %v\n", err)
		}
		for _, r := range res.Incomplete {
			fmt.Fprintf(o, "incomplete: %v\n", r)
		}
		m.msg.Printf("%s: %d diagnostics, %d jumps, %d zeros, %d incomplete",
			name, len(res.Diagnostics), len(res.Jumps), len(res.Zeros), len(res.Incomplete),
		)
		if res.Err == nil {
			m.notify("anomalies on "+name, o.String())
		}
	}
}

func (m *Monitor) notify(subject, body string) {
	err := m.alert.Alert(subject, body)
	if err != nil {
		m.msg.Printf("could not send alert: %+v", err)
	}
}

// Last returns the result of the last cycle of the named host.
func (m *Monitor) Last(host string) (*HostResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.last[host]
	return res, ok
}

// Summaries returns the accumulated statistics of all the hosts.
func (m *Monitor) Summaries() []Summary {
	o := make([]Summary, len(m.hosts))
	for i, p := range m.hosts {
		o[i] = p.Stats()
	}
	return o
}

// Resync forgets the sequence state of all the hosts.
func (m *Monitor) Resync() {
	for _, p := range m.hosts {
		p.Resync()
	}
}

// OpenBuses memory-maps the register files of the hosts of cfg.
// The returned function unmaps them.
func OpenBuses(cfg *Config) (map[string]bus.Bus, func() error, error) {
	var (
		buses    = make(map[string]bus.Bus, len(cfg.Hosts))
		handles  []*mmap.Handle
		closeAll = func() error {
			var err error
			for _, h := range handles {
				e := h.Close()
				if e != nil && err == nil {
					err = e
				}
			}
			return err
		}
	)

	for _, h := range cfg.Hosts {
		if h.Device == "" {
			_ = closeAll()
			return nil, nil, fmt.Errorf("monitor: host %q has no device", h.Name)
		}
		mem, err := mmap.Open(h.Device, h.Offset, h.Size)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("monitor: could not map registers of host %q: %w", h.Name, err)
		}
		handles = append(handles, mem)
		buses[h.Name] = bus.NewMem(mem, h.Registers)
	}

	return buses, closeAll, nil
}
