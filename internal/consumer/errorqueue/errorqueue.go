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

// Package errorqueue implements the Error Queue with Autoremediation
// (C12): an event the applier could not apply is parked in a FIFO
// scoped to its (type, pkey) instead of blocking every other object of
// the same type. A later event for the same key can coalesce into an
// already-queued entry depending on the configured mode, and a
// periodic retry task replays each key's queue in order, stopping at
// the first entry that still fails.
package errorqueue

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// CoalesceMode controls how consecutive failures for the same
// (type, pkey) accumulate in its queue.
type CoalesceMode int

const (
	// Disabled never coalesces: every failed event gets its own entry,
	// replayed strictly in arrival order.
	Disabled CoalesceMode = iota
	// Conservative merges a new failure into the key's last queued
	// entry in exactly two cases: added followed by modified collapses
	// into a single added carrying the merged attributes, and modified
	// followed by modified collapses into a single modified (later
	// value wins per attribute). Every other op pairing is appended as
	// its own entry.
	Conservative
	// Maximum is a superset of Conservative: on top of its two merge
	// cases, added followed by removed annihilates both (the key's
	// queue loses that entry entirely), removed followed by added
	// replaces both with a single modified carrying the new
	// attributes, and modified followed by removed keeps only the
	// removed.
	Maximum
)

// Entry is one parked event awaiting retry.
type Entry struct {
	Type    string
	PKey    value.PKey
	Event   emitter.Event
	Attempts      int
	FirstFailedAt time.Time
	LastFailedAt  time.Time
	LastError     string
	// IsPartiallyProcessed marks an entry whose prior attempt may have
	// already applied some of its effect against the target before
	// failing -- the retrier must tell the applier so it can avoid
	// re-running non-idempotent side effects a second time.
	IsPartiallyProcessed bool
}

func keyOf(typeName string, pkey value.PKey) string {
	return typeName + "\x1f" + pkey.String()
}

// Queue holds one FIFO per (type, pkey).
type Queue struct {
	mode    CoalesceMode
	order   []string
	entries map[string][]*Entry
}

// New returns an empty Queue using the given coalescing mode.
func New(mode CoalesceMode) *Queue {
	return &Queue{mode: mode, entries: make(map[string][]*Entry)}
}

// mergeAttrs shallow-merges two attribute maps, values in next winning
// over same-named values in prev.
func mergeAttrs(prev, next value.AttrMap) value.AttrMap {
	merged := make(value.AttrMap, len(prev)+len(next))
	for k, v := range prev {
		merged[k] = v
	}
	for k, v := range next {
		merged[k] = v
	}
	return merged
}

// Push records a failed application of ev against typeName's pkey,
// coalescing it into the key's last queued entry per q.mode and §4.10's
// op-pair rules. No merge is ever performed against a predecessor whose
// IsPartiallyProcessed flag is set, since collapsing it would discard
// the fact that the target may already carry part of its effect.
func (q *Queue) Push(typeName string, pkey value.PKey, ev emitter.Event, cause error, partiallyProcessed bool) {
	key := keyOf(typeName, pkey)
	fifo, tracked := q.entries[key]
	if !tracked {
		q.order = append(q.order, key)
	}

	now := time.Now()
	lastErr := ""
	if cause != nil {
		lastErr = cause.Error()
	}

	if q.mode != Disabled && len(fifo) > 0 {
		pred := fifo[len(fifo)-1]
		if !pred.IsPartiallyProcessed {
			switch {
			case pred.Event.Op == cache.Added && ev.Op == cache.Modified,
				pred.Event.Op == cache.Modified && ev.Op == cache.Modified:
				pred.Event.Attrs = mergeAttrs(pred.Event.Attrs, ev.Attrs)
				q.touch(pred, now, lastErr, partiallyProcessed)
				return
			case q.mode == Maximum && pred.Event.Op == cache.Added && ev.Op == cache.Removed:
				q.removeLast(key, fifo)
				return
			case q.mode == Maximum && pred.Event.Op == cache.Removed && ev.Op == cache.Added:
				pred.Event = ev
				pred.Event.Op = cache.Modified
				q.touch(pred, now, lastErr, partiallyProcessed)
				return
			case q.mode == Maximum && pred.Event.Op == cache.Modified && ev.Op == cache.Removed:
				pred.Event = ev
				q.touch(pred, now, lastErr, partiallyProcessed)
				return
			}
		}
	}

	q.entries[key] = append(fifo, &Entry{
		Type: typeName, PKey: pkey, Event: ev,
		Attempts: 1, FirstFailedAt: now, LastFailedAt: now,
		LastError: lastErr, IsPartiallyProcessed: partiallyProcessed,
	})
}

// touch records a merge into an already-queued entry: another attempt
// against the same target state, so it shares the predecessor's
// Attempts/FirstFailedAt lineage instead of resetting it.
func (q *Queue) touch(e *Entry, now time.Time, lastErr string, partiallyProcessed bool) {
	e.Attempts++
	e.LastFailedAt = now
	e.LastError = lastErr
	e.IsPartiallyProcessed = partiallyProcessed
}

// removeLast drops fifo's last entry (an added/removed pair that
// annihilated each other) and, if that empties the key's queue,
// forgets the key entirely.
func (q *Queue) removeLast(key string, fifo []*Entry) {
	remaining := fifo[:len(fifo)-1]
	if len(remaining) > 0 {
		q.entries[key] = remaining
		return
	}
	delete(q.entries, key)
	for i, k := range q.order {
		if k == key {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

// Len returns the total number of parked entries across all keys.
func (q *Queue) Len() int {
	n := 0
	for _, fifo := range q.entries {
		n += len(fifo)
	}
	return n
}

// Pending returns a snapshot of every parked entry, ordered first by
// the key's original failure order, then by each key's own FIFO
// order.
func (q *Queue) Pending() []Entry {
	out := make([]Entry, 0, q.Len())
	for _, key := range q.order {
		for _, e := range q.entries[key] {
			out = append(out, *e)
		}
	}
	return out
}

// Retrier applies one queued event to its eventual target.
type Retrier func(ctx context.Context, e Entry) error

// RetryAll replays every key's queue front-to-back, stopping that
// key's replay at the first entry retry still fails. It returns the
// number of entries it successfully drained.
func (q *Queue) RetryAll(ctx context.Context, retry Retrier) int {
	drained := 0
	remainingOrder := q.order[:0]
	for _, key := range q.order {
		fifo := q.entries[key]
		i := 0
		for ; i < len(fifo); i++ {
			if err := retry(ctx, *fifo[i]); err != nil {
				log.WithFields(log.Fields{
					"type": fifo[i].Type, "pkey": fifo[i].PKey.String(), "attempts": fifo[i].Attempts,
				}).Warn("errorqueue: retry failed, leaving remainder queued")
				break
			}
			drained++
		}
		if i == len(fifo) {
			delete(q.entries, key)
			continue
		}
		q.entries[key] = fifo[i:]
		remainingOrder = append(remainingOrder, key)
	}
	q.order = remainingOrder
	return drained
}

// HasPending reports whether typeName's pkey currently has at least
// one entry awaiting retry, used by the Foreign-Key Policy Engine
// (C13) to decide whether a row is blocked behind an errored parent.
func (q *Queue) HasPending(typeName string, pkey value.PKey) bool {
	_, ok := q.entries[keyOf(typeName, pkey)]
	return ok
}

// Drop removes every parked entry for typeName's pkey, used when a
// later remove event for the same key makes earlier queued failures
// moot (e.g. the object no longer exists at all).
func (q *Queue) Drop(typeName string, pkey value.PKey) {
	key := keyOf(typeName, pkey)
	if _, ok := q.entries[key]; !ok {
		return
	}
	delete(q.entries, key)
	for i, k := range q.order {
		if k == key {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}
