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

// Package cycle orchestrates the consumer side: draining a
// bus.Subscription, applying events through the Applier (C11), parking
// failures in the Error Queue (C12) instead of stalling the whole
// subscription, and tracking Initsync Orchestration (C15) windows. A
// type's error queue takes its coalescing mode once, when it is first
// created: a queue created inside a replay window does not coalesce,
// and a queue created before the window keeps the base mode. The
// Runner does not handle dataschema revisions; the Evolver (C10) is
// not invoked from here.
package cycle

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/bus"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/apply"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/errorqueue"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/initsync"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/trashbin"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
)

// Runner drains one subscription and drives events through the
// applier, parking failures per-type in their own error queue.
type Runner struct {
	Applier   *apply.Applier
	Sub       bus.Subscription
	Initsync  *initsync.Tracker
	BaseMode  errorqueue.CoalesceMode
	ErrQueues map[string]*errorqueue.Queue
}

// NewRunner constructs a Runner with an empty error queue per type,
// created lazily in queueFor.
func NewRunner(applier *apply.Applier, sub bus.Subscription, track *initsync.Tracker, baseMode errorqueue.CoalesceMode) *Runner {
	queues := make(map[string]*errorqueue.Queue)
	applier.ErrQueues = queues
	return &Runner{
		Applier: applier, Sub: sub, Initsync: track, BaseMode: baseMode,
		ErrQueues: queues,
	}
}

func (r *Runner) queueFor(typeName string) *errorqueue.Queue {
	q, ok := r.ErrQueues[typeName]
	if !ok {
		q = errorqueue.New(r.Initsync.EffectiveCoalesceMode(typeName, r.BaseMode))
		r.ErrQueues[typeName] = q
	}
	return q
}

// Poll fetches up to max pending messages and drives each through the
// pipeline, returning the number of events applied successfully.
func (r *Runner) Poll(ctx context.Context, max int) (int, error) {
	msgs, err := r.Sub.Fetch(ctx, max)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range msgs {
		if m.IsMarker {
			r.Initsync.HandleMarker(m.Type, m.MarkerValue)
			if err := m.Ack(); err != nil {
				log.WithError(err).Warn("cycle: ack marker failed")
			}
			continue
		}

		typeName := m.Event.Type
		if partiallyProcessed, err := r.Applier.Apply(ctx, typeName, m.Event, false); err != nil {
			log.WithFields(log.Fields{"type": typeName, "pkey": m.Event.PKey.String()}).
				WithError(err).Warn("cycle: apply failed, parking in error queue")
			r.queueFor(typeName).Push(typeName, m.Event.PKey, m.Event, err, partiallyProcessed)
			eventsParked.WithLabelValues(typeName).Inc()
			if nakErr := m.Nak(); nakErr != nil {
				log.WithError(nakErr).Warn("cycle: nak failed")
			}
			continue
		}

		if err := m.Ack(); err != nil {
			log.WithError(err).Warn("cycle: ack failed")
		}
		eventsApplied.WithLabelValues(typeName).Inc()
		applied++
	}
	return applied, nil
}

// RetryErrors replays every type's error queue, returning the total
// number of entries successfully drained.
func (r *Runner) RetryErrors(ctx context.Context) int {
	drained := 0
	for typeName, q := range r.ErrQueues {
		drained += q.RetryAll(ctx, func(ctx context.Context, e errorqueue.Entry) error {
			_, err := r.Applier.Apply(ctx, typeName, e.Event, true)
			return err
		})
	}
	return drained
}

// SweepTrash finalizes every entry in the applier's trashbin whose
// retention window has elapsed as of now, performing the target-side
// delete that was deferred when the removal was first seen.
func (r *Runner) SweepTrash(now time.Time) int {
	if r.Applier.Trash == nil {
		return 0
	}
	return r.Applier.Trash.Sweep(now, func(e trashbin.Entry) error {
		tgt, ok := r.Applier.Targets.TargetFor(e.Type)
		if !ok {
			return errors.Errorf("cycle: no target configured for type %q", e.Type)
		}
		if err := tgt.Apply(context.Background(), e.Type, emitter.Event{
			Type: e.Type, Op: cache.Removed, PKey: e.PKey,
		}); err != nil {
			return err
		}
		trashFinalized.WithLabelValues(e.Type).Inc()
		return nil
	})
}
