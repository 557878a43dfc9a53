// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package mailer composes and sends the one alert mail a producer or
// consumer cycle emits when something needs operator attention:
// integrity drops, merge conflicts, commit-hook failures, error-queue
// growth. Lines accumulate across a cycle and are flushed as a single
// message bounded by a configured maximum size, rather than one mail
// per event.
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"
)

// Sender abstracts the wire delivery so tests never dial a real SMTP
// server. smtp.SendMail satisfies this signature directly.
type Sender func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Config describes the outgoing mail envelope and size bound.
type Config struct {
	SMTPAddr string
	Auth     smtp.Auth
	From     string
	To       []string
	Subject  string
	// MailtextMaxSize caps the composed body; lines appended beyond
	// this bound are dropped and replaced with a truncation notice.
	MailtextMaxSize int
}

// Composer accumulates lines for one cycle's alert and flushes them
// as a single mail on Flush.
type Composer struct {
	cfg       Config
	send      Sender
	lines     []string
	size      int
	truncated bool
}

// New returns a Composer that sends through smtp.SendMail.
func New(cfg Config) *Composer {
	return &Composer{cfg: cfg, send: smtp.SendMail}
}

// NewWithSender returns a Composer using an injected Sender, for
// tests.
func NewWithSender(cfg Config, send Sender) *Composer {
	return &Composer{cfg: cfg, send: send}
}

// Alert implements emitter.Alerter: subject is folded into the
// composed line, body becomes the line text. Nothing is sent until
// Flush.
func (c *Composer) Alert(_ context.Context, subject, body string) {
	c.append(fmt.Sprintf("[%s] %s", subject, body))
}

func (c *Composer) append(line string) {
	if c.truncated {
		return
	}
	if c.cfg.MailtextMaxSize > 0 && c.size+len(line)+1 > c.cfg.MailtextMaxSize {
		c.lines = append(c.lines, "... truncated, mailtext_maxsize exceeded")
		c.truncated = true
		return
	}
	c.lines = append(c.lines, line)
	c.size += len(line) + 1
}

// Pending reports whether Flush would send a non-empty mail.
func (c *Composer) Pending() bool { return len(c.lines) > 0 }

// Flush sends the accumulated lines as one mail and resets the
// composer for the next cycle. A no-op if nothing was appended.
func (c *Composer) Flush() error {
	if len(c.lines) == 0 {
		return nil
	}
	body := strings.Join(c.lines, "\n")
	msg := fmt.Sprintf("Subject: %s\r\n\r\n%s\r\n", c.cfg.Subject, body)

	err := c.send(c.cfg.SMTPAddr, c.cfg.Auth, c.cfg.From, c.cfg.To, []byte(msg))
	c.lines = nil
	c.size = 0
	c.truncated = false
	if err != nil {
		return errors.Wrap(err, "mailer: send")
	}
	return nil
}
