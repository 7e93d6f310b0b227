// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/corrdbg/bitfield"
	"github.com/go-lpc/corrdbg/bus"
)

// Server exposes a Monitor as a run-controlled TDAQ process.
//
// The /config command takes a TOML configuration as its body, or reads
// the default configuration file when the body is empty.
// Monitoring cycles run between /start and /stop, and the statistics of
// each cycle are published as JSON on the /stats output.
type Server struct {
	fname string
	msg   *log.Logger
	alert Alerter
	open  func(cfg *Config) (map[string]bus.Bus, func() error, error)

	mu     sync.Mutex
	cfg    *Config
	layout *bitfield.Layout
	mon    *Monitor
	close  func() error

	stats chan []byte
}

// NewServer creates a monitoring server with the provided default
// configuration file.
func NewServer(fname string, msg *log.Logger, alert Alerter) *Server {
	if msg == nil {
		msg = log.New(io.Discard, "monitor: ", 0)
	}
	if alert == nil {
		alert = nopAlerter{}
	}
	return &Server{
		fname: fname,
		msg:   msg,
		alert: alert,
		open:  OpenBuses,
		stats: make(chan []byte, 64),
	}
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := srv.configure(ctx.Ctx, req.Body)
	if err != nil {
		ctx.Msg.Errorf("could not configure monitor: %+v", err)
		return err
	}
	ctx.Msg.Infof("configured %d hosts (snapshot=%q, words=%d bits)",
		len(srv.cfg.Hosts), srv.cfg.Snapshot, srv.layout.WordBits(),
	)
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := srv.init()
	if err != nil {
		ctx.Msg.Errorf("could not initialize monitor: %+v", err)
		return err
	}
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	srv.reset()
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.mon == nil {
		return fmt.Errorf("monitor: /start before /init")
	}
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	for _, sum := range srv.summaries() {
		ctx.Msg.Infof("%v", sum)
	}
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	err := srv.release()
	if err != nil {
		ctx.Msg.Errorf("could not release buses: %+v", err)
		return err
	}
	return nil
}

// Stats publishes the statistics of the last monitoring cycle.
func (srv *Server) Stats(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.stats:
		dst.Body = data
	}
	return nil
}

// Loop runs monitoring cycles until the run is stopped or a fatal error
// occurs.
func (srv *Server) Loop(ctx tdaq.Context) error {
	srv.mu.Lock()
	freq := srv.cfg.Interval.Duration
	srv.mu.Unlock()
	if freq <= 0 {
		freq = time.Second
	}

	tick := time.NewTicker(freq)
	defer tick.Stop()

	for {
		err := srv.cycle(ctx.Ctx)
		if err != nil {
			ctx.Msg.Errorf("monitoring halted: %+v", err)
			return err
		}

		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

func (srv *Server) configure(ctx context.Context, body []byte) error {
	var (
		cfg *Config
		err error
	)
	switch {
	case len(bytes.TrimSpace(body)) > 0:
		cfg, err = ReadConfig(bytes.NewReader(body))
	case srv.fname != "":
		cfg, err = LoadConfig(srv.fname)
	default:
		err = fmt.Errorf("monitor: no configuration")
	}
	if err != nil {
		return err
	}

	l, err := cfg.LoadLayout(ctx)
	if err != nil {
		return err
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.cfg = cfg
	srv.layout = l
	return nil
}

func (srv *Server) init() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.cfg == nil {
		return fmt.Errorf("monitor: /init before /config")
	}
	if srv.close != nil {
		_ = srv.close()
		srv.close = nil
	}

	buses, closeAll, err := srv.open(srv.cfg)
	if err != nil {
		return err
	}

	mon, err := New(srv.cfg, srv.layout, buses, WithLogger(srv.msg), WithAlerter(srv.alert))
	if err != nil {
		_ = closeAll()
		return err
	}
	srv.mon = mon
	srv.close = closeAll
	return nil
}

func (srv *Server) reset() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.mon != nil {
		srv.mon.Resync()
	}
	for {
		select {
		case <-srv.stats:
		default:
			return
		}
	}
}

func (srv *Server) release() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.mon = nil
	if srv.close == nil {
		return nil
	}
	err := srv.close()
	srv.close = nil
	return err
}

func (srv *Server) summaries() []Summary {
	srv.mu.Lock()
	mon := srv.mon
	srv.mu.Unlock()
	if mon == nil {
		return nil
	}
	return mon.Summaries()
}

func (srv *Server) cycle(ctx context.Context) error {
	srv.mu.Lock()
	mon := srv.mon
	srv.mu.Unlock()
	if mon == nil {
		return fmt.Errorf("monitor: no monitor")
	}

	err := mon.step(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(mon.Summaries())
	if err != nil {
		return fmt.Errorf("monitor: could not marshal statistics: %w", err)
	}
	select {
	case srv.stats <- raw:
	default:
		srv.msg.Printf("statistics output full, dropping cycle statistics")
	}
	return nil
}
