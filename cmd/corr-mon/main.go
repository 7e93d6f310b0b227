// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command corr-mon periodically captures the snapshots of a set of
// correlator hosts and checks their heap streams.
//
// Usage: corr-mon [OPTIONS] corr.toml
//
// Example:
//
//	$> corr-mon -mail -pmon -o /var/log/corr ./corr.toml
package main // import "github.com/go-lpc/corrdbg/cmd/corr-mon"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-lpc/corrdbg/bus"
	"github.com/go-lpc/corrdbg/monitor"
	"github.com/sbinet/pmon"
)

func main() {
	log.SetPrefix("corr-mon: ")
	log.SetFlags(0)

	var (
		doMail = flag.Bool("mail", false, "send mail alerts (needs MAIL_XXX environment variables)")
		doMon  = flag.Bool("pmon", false, "enable pmon monitoring")
		freq   = flag.Duration("freq", 1*time.Second, "pmon frequency")
		odir   = flag.String("o", ".", "output directory for pmon logs")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: corr-mon [OPTIONS] corr.toml

Example:

$> corr-mon -mail -pmon -o /var/log/corr ./corr.toml

Options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		log.Fatalf("missing path to configuration file")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	if *doMon {
		kill, err := startPMon(*odir, *freq)
		if err != nil {
			log.Fatalf("%+v", err)
		}
		defer kill()
	}

	var alert monitor.Alerter
	if *doMail {
		ma, err := monitor.MailAlerterFromEnv()
		if err != nil {
			log.Fatalf("could not setup mail alerts: %+v", err)
		}
		alert = ma
	}

	err := run(ctx, flag.Arg(0), alert, monitor.OpenBuses)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

type openFunc func(cfg *monitor.Config) (map[string]bus.Bus, func() error, error)

func run(ctx context.Context, fname string, alert monitor.Alerter, open openFunc) error {
	cfg, err := monitor.LoadConfig(fname)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}

	l, err := cfg.LoadLayout(ctx)
	if err != nil {
		return fmt.Errorf("could not load layout: %w", err)
	}

	buses, closeAll, err := open(cfg)
	if err != nil {
		return fmt.Errorf("could not open buses: %w", err)
	}
	defer closeAll()

	opts := []monitor.Option{
		monitor.WithLogger(log.New(os.Stdout, "corr-mon: ", 0)),
	}
	if alert != nil {
		opts = append(opts, monitor.WithAlerter(alert))
	}

	mon, err := monitor.New(cfg, l, buses, opts...)
	if err != nil {
		return fmt.Errorf("could not create monitor: %w", err)
	}

	log.Printf("monitoring %d hosts (snapshot=%q, interval=%v)...",
		len(cfg.Hosts), cfg.Snapshot, cfg.Interval.Duration,
	)
	err = mon.Run(ctx)
	for _, sum := range mon.Summaries() {
		log.Printf("%v", sum)
	}
	if err != nil {
		return fmt.Errorf("monitoring halted: %w", err)
	}

	err = closeAll()
	if err != nil {
		return fmt.Errorf("could not close buses: %w", err)
	}
	return nil
}

func startPMon(dir string, freq time.Duration) (func(), error) {
	pid := os.Getpid()
	p, err := pmon.Monitor(pid)
	if err != nil {
		return nil, fmt.Errorf("could not start monitoring (pid=%d): %w", pid, err)
	}
	f, err := os.Create(filepath.Join(dir, "corr-mon-pmon.log"))
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop pmon: %+v", err)
		}
		_ = f.Close()
	}, nil
}
