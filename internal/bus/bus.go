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

// Package bus declares the Messagebus Abstraction (C9): an ordered,
// at-least-once delivery contract per consumer group, with explicit
// initsync_begin/initsync_end markers bracketing a full-resync replay
// and a stable event identity consumers use to deduplicate redelivery.
// internal/bus/natsbus provides the NATS JetStream implementation.
package bus

import (
	"context"
	"fmt"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
)

// Marker is a control message interleaved with ordinary Events on a
// type's stream to bracket an initial-synchronization replay.
type Marker int

// The two markers a producer emits around a full resync.
const (
	InitsyncBegin Marker = iota
	InitsyncEnd
)

func (m Marker) String() string {
	switch m {
	case InitsyncBegin:
		return "initsync_begin"
	case InitsyncEnd:
		return "initsync_end"
	default:
		return "unknown_marker"
	}
}

// Message is one item read off a subscription: exactly one of Event or
// MarkerValue is meaningful, distinguished by IsMarker.
type Message struct {
	// Type is the entity type this message was published under. For a
	// marker message it is always populated (unlike Event.Type, which
	// a marker leaves zero); for an event message it matches
	// Event.Type.
	Type        string
	IsMarker    bool
	MarkerValue Marker
	Event       emitter.Event

	// Ack must be called once the consumer has durably applied this
	// message; Nak requests redelivery (e.g. after a transient target
	// failure). Bus implementations guarantee a message stays
	// unacknowledged (and thus redelivered) until one of the two is
	// called.
	Ack func() error
	Nak func() error
}

// Publisher is the producer-side half of the abstraction: one
// Publish call per change, per type. It satisfies
// internal/producer/emitter.Publisher.
type Publisher interface {
	Publish(ctx context.Context, typeName string, ev emitter.Event) error
	// PublishMarker brackets a full resync of typeName with
	// InitsyncBegin/InitsyncEnd so every subscribed consumer group
	// observes the same replay window regardless of when it joined.
	PublishMarker(ctx context.Context, typeName string, m Marker) error
}

// Subscriber is the consumer-side half: a durable, named pull
// subscription over one or more types, delivering FIFO per type,
// at-least-once.
type Subscriber interface {
	// Subscribe opens (or resumes) a durable subscription for
	// consumerGroup over typeNames. Re-subscribing with the same
	// consumerGroup resumes from the last acknowledged offset.
	Subscribe(ctx context.Context, consumerGroup string, typeNames []string) (Subscription, error)
}

// Subscription delivers messages for one consumer group.
type Subscription interface {
	// Fetch returns up to max messages. It may wait for messages, but
	// may also return an empty result without error when none are
	// available (for instance once the implementation's own fetch wait
	// elapses).
	Fetch(ctx context.Context, max int) ([]Message, error)
	Close() error
}

// Identity returns the stable tuple (type, pkey, producer_step,
// operation) that a consumer uses to recognize a redelivered message
// as one it has already applied, per §5 "event identity".
func Identity(ev emitter.Event) string {
	return fmt.Sprintf("%s\x1f%s\x1f%d\x1f%s", ev.Type, ev.PKey.String(), ev.Step, ev.Op.String())
}
