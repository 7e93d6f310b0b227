// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command corr-srv starts a TDAQ server monitoring correlator hosts.
//
// The default configuration file is read from the CORRSRV_CONFIG
// environment variable, and is used when /config carries no body.
// Mail alerts are sent when the MAIL_XXX environment variables are set.
package main // import "github.com/go-lpc/corrdbg/cmd/corr-srv"

import (
	"context"
	"log"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/corrdbg/monitor"
)

func main() {
	cmd := flags.New()

	var alert monitor.Alerter
	ma, err := monitor.MailAlerterFromEnv()
	switch err {
	case nil:
		alert = ma
	default:
		log.Printf("mail alerts disabled: %+v", err)
	}

	dev := monitor.NewServer(
		os.Getenv("CORRSRV_CONFIG"),
		log.New(os.Stdout, "corr-srv: ", 0),
		alert,
	)

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/stats", dev.Stats)

	srv.RunHandle(dev.Loop)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}
