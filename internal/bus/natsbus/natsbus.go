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

// Package natsbus implements the Messagebus Abstraction (C9) over NATS
// JetStream: one subject per entity type under a shared stream,
// durable pull consumers keyed by consumer-group name for at-least-once
// delivery, and a fixed 60-second backoff between attempts to make the
// initial connection.
package natsbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/bus"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
)

// Config describes the JetStream connection and stream layout.
type Config struct {
	URL        string
	StreamName string
	// SubjectPrefix is prepended to every type name to form its
	// subject, e.g. "HERMES" for type "user" publishes to
	// "HERMES.user".
	SubjectPrefix string
}

func (c Config) subject(typeName string) string {
	return c.SubjectPrefix + "." + typeName
}

// Bus is the JetStream-backed implementation of bus.Publisher and
// bus.Subscriber.
type Bus struct {
	cfg  Config
	conn *nats.Conn
	js   nats.JetStreamContext
}

var (
	_ bus.Publisher  = (*Bus)(nil)
	_ bus.Subscriber = (*Bus)(nil)
)

// Connect dials NATS, retrying with a fixed 60-second backoff until
// ctx is done, and ensures the configured stream exists.
func Connect(ctx context.Context, cfg Config) (*Bus, error) {
	var conn *nats.Conn
	connect := func() error {
		c, err := nats.Connect(cfg.URL)
		if err != nil {
			log.WithError(err).Warn("natsbus: connect failed, will retry")
			return err
		}
		conn = c
		return nil
	}

	boff := backoff.WithContext(backoff.NewConstantBackOff(60*time.Second), ctx)
	if err := backoff.Retry(connect, boff); err != nil {
		return nil, errors.Wrap(err, "natsbus: could not connect")
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "natsbus: JetStream context")
	}

	b := &Bus{cfg: cfg, conn: conn, js: js}
	if err := b.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) ensureStream() error {
	_, err := b.js.StreamInfo(b.cfg.StreamName)
	if err == nil {
		return nil
	}
	_, err = b.js.AddStream(&nats.StreamConfig{
		Name:     b.cfg.StreamName,
		Subjects: []string{b.cfg.SubjectPrefix + ".>"},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return errors.Wrap(err, "natsbus: creating stream")
	}
	return nil
}

// wireMessage is the envelope published to JetStream: either a marker
// or an event, never both.
type wireMessage struct {
	Type     string        `json:"type"`
	IsMarker bool          `json:"is_marker"`
	Marker   string        `json:"marker,omitempty"`
	Event    emitter.Event `json:"event,omitempty"`
}

// Publish implements bus.Publisher and internal/producer/emitter.Publisher.
func (b *Bus) Publish(ctx context.Context, typeName string, ev emitter.Event) error {
	data, err := json.Marshal(wireMessage{Type: typeName, Event: ev})
	if err != nil {
		return errors.Wrap(err, "natsbus: marshaling event")
	}
	_, err = b.js.Publish(b.cfg.subject(typeName), data, nats.Context(ctx))
	return errors.Wrap(err, "natsbus: publish")
}

// PublishMarker implements bus.Publisher.
func (b *Bus) PublishMarker(ctx context.Context, typeName string, m bus.Marker) error {
	data, err := json.Marshal(wireMessage{Type: typeName, IsMarker: true, Marker: m.String()})
	if err != nil {
		return errors.Wrap(err, "natsbus: marshaling marker")
	}
	_, err = b.js.Publish(b.cfg.subject(typeName), data, nats.Context(ctx))
	return errors.Wrap(err, "natsbus: publish marker")
}

// Subscribe implements bus.Subscriber: one durable pull consumer per
// (consumerGroup, typeNames) pair, bound to the shared stream.
func (b *Bus) Subscribe(ctx context.Context, consumerGroup string, typeNames []string) (bus.Subscription, error) {
	subs := make([]*nats.Subscription, 0, len(typeNames))
	for _, typeName := range typeNames {
		sub, err := b.js.PullSubscribe(
			b.cfg.subject(typeName),
			consumerGroup,
			nats.BindStream(b.cfg.StreamName),
			nats.ManualAck(),
		)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return nil, errors.Wrapf(err, "natsbus: pull subscribe for type %q", typeName)
		}
		subs = append(subs, sub)
	}
	return &subscription{subs: subs}, nil
}

type subscription struct {
	subs []*nats.Subscription
}

func (s *subscription) Fetch(ctx context.Context, max int) ([]bus.Message, error) {
	var out []bus.Message
	for _, sub := range s.subs {
		if len(out) >= max {
			break
		}
		msgs, err := sub.Fetch(max-len(out), nats.Context(ctx))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return nil, errors.Wrap(err, "natsbus: fetch")
		}
		for _, m := range msgs {
			msg := m
			var wm wireMessage
			if err := json.Unmarshal(msg.Data, &wm); err != nil {
				log.WithError(err).Warn("natsbus: dropping undecodable message")
				msg.Term()
				continue
			}
			out = append(out, bus.Message{
				Type:        wm.Type,
				IsMarker:    wm.IsMarker,
				MarkerValue: markerFromString(wm.Marker),
				Event:       wm.Event,
				Ack:         func() error { return msg.Ack() },
				Nak:         func() error { return msg.Nak() },
			})
		}
	}
	return out, nil
}

func (s *subscription) Close() error {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			return errors.Wrap(err, "natsbus: unsubscribe")
		}
	}
	return nil
}

func markerFromString(s string) bus.Marker {
	if s == bus.InitsyncEnd.String() {
		return bus.InitsyncEnd
	}
	return bus.InitsyncBegin
}
