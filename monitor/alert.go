// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	mail "gopkg.in/gomail.v2"
)

// Alerter notifies operators of anomalies.
type Alerter interface {
	Alert(subject, body string) error
}

// MailAlerter sends alerts by mail.
// At most Max alerts are sent per subject.
type MailAlerter struct {
	Server string
	Port   int
	User   string
	Passwd string
	To     []string
	Max    int

	mu   sync.Mutex
	sent map[string]int
	dial func(msg *mail.Message) error
}

// MailAlerterFromEnv creates a mail alerter from the MAIL_USERNAME,
// MAIL_PASSWORD, MAIL_SERVER, MAIL_PORT and MAIL_TGTS environment variables.
func MailAlerterFromEnv() (*MailAlerter, error) {
	var (
		usr  = os.Getenv("MAIL_USERNAME")
		pwd  = os.Getenv("MAIL_PASSWORD")
		srv  = os.Getenv("MAIL_SERVER")
		port = os.Getenv("MAIL_PORT")
		tgts = os.Getenv("MAIL_TGTS")
	)
	if usr == "" || pwd == "" || srv == "" || port == "" || tgts == "" {
		return nil, fmt.Errorf("monitor: missing mail credentials")
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("monitor: invalid MAIL_PORT %q: %w", port, err)
	}
	return &MailAlerter{
		Server: srv,
		Port:   p,
		User:   usr,
		Passwd: pwd,
		To:     strings.Split(tgts, ","),
		Max:    5,
	}, nil
}

func (ma *MailAlerter) Alert(subject, body string) error {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	if ma.sent == nil {
		ma.sent = make(map[string]int)
	}
	if ma.Max > 0 && ma.sent[subject] >= ma.Max {
		return nil
	}
	ma.sent[subject]++

	msg := mail.NewMessage()
	msg.SetHeader("From", ma.User)
	msg.SetHeader("Bcc", ma.To...)
	msg.SetHeader("Subject", "[corrdbg] "+subject)
	msg.SetBody("text/plain", body)

	send := ma.dial
	if send == nil {
		send = ma.dialAndSend
	}
	err := send(msg)
	if err != nil {
		return fmt.Errorf("monitor: could not send mail alert: %w", err)
	}
	return nil
}

func (ma *MailAlerter) dialAndSend(msg *mail.Message) error {
	dial := mail.NewDialer(ma.Server, ma.Port, ma.User, ma.Passwd)
	dial.TLSConfig = &tls.Config{
		InsecureSkipVerify: true,
	}
	return dial.DialAndSend(msg)
}

type nopAlerter struct{}

func (nopAlerter) Alert(subject, body string) error { return nil }

var (
	_ Alerter = (*MailAlerter)(nil)
	_ Alerter = nopAlerter{}
)
