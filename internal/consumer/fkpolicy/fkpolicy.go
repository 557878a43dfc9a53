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

// Package fkpolicy implements the Foreign-Key Policy Engine (C13): it
// guards a consumer's event pipeline against applying an event whose
// foreign key currently points at a row stuck in the Error Queue
// (C12), at one of three enforcement levels. Unlike a referential
// integrity check against the live cache, this gates purely on error
// queue membership -- a parent row that simply hasn't arrived yet, or
// that was legitimately removed, is not this engine's concern.
package fkpolicy

import (
	"fmt"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/errorqueue"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Policy selects how aggressively foreign-key integrity is enforced.
type Policy int

// The three supported enforcement levels.
const (
	// Disabled never blocks an event on foreign-key grounds.
	Disabled Policy = iota
	// OnRemoveEvent blocks removing a parent row while some child still
	// has a pending error queue entry referencing it, and blocks a
	// child event whose foreign key points at a parent currently stuck
	// in the error queue.
	OnRemoveEvent
	// OnEveryEvent is a superset of OnRemoveEvent: it blocks any event
	// on an object whose foreign-key parent has pending errors,
	// regardless of the event's own op.
	OnEveryEvent
)

func (p Policy) String() string {
	switch p {
	case Disabled:
		return "disabled"
	case OnRemoveEvent:
		return "on_remove_event"
	case OnEveryEvent:
		return "on_every_event"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// Engine evaluates one event against the declared foreign keys of a
// schema and the consumer's current per-type error queues.
type Engine struct {
	Schema *dataschema.Schema
	Policy Policy
}

// Verdict is the outcome of evaluating one event.
type Verdict struct {
	Blocked bool
	Reason  string
}

// Evaluate reports whether applying ev (the change to typeName's row
// identified by pkey, carrying attrs for an add/modify) should be
// blocked under the engine's policy. errQueues is the consumer's
// per-type error queue map, keyed by type name; a type with no
// queued entries at all need not have a key present.
func (e Engine) Evaluate(typeName string, op cache.Op, pkey value.PKey, attrs value.AttrMap, errQueues map[string]*errorqueue.Queue) Verdict {
	if e.Policy == Disabled {
		return Verdict{}
	}

	t, ok := e.Schema.ByName(typeName)
	if !ok {
		return Verdict{}
	}

	// Blocks only removed events on a parent while some child row still
	// has a pending error referencing it -- applying the removal now
	// would leave that queued child pointing at nothing once it is
	// finally retried.
	if op == cache.Removed {
		if blockedBy, ok := e.childHasPendingErrorForParent(typeName, pkey, errQueues); ok {
			return Verdict{Blocked: true, Reason: fmt.Sprintf("a pending %q error references this row", blockedBy)}
		}
	}

	// Both remaining policies also block a child event whose own
	// foreign key currently points at a parent stuck in the error
	// queue: applying it now would build on top of a row the consumer
	// doesn't yet know the final state of.
	if parentType, ok := e.parentHasPendingError(t, attrs, errQueues); ok {
		return Verdict{Blocked: true, Reason: fmt.Sprintf("foreign key references %q, which has pending errors", parentType)}
	}

	return Verdict{}
}

// parentHasPendingError reports whether any of t's declared foreign
// keys, evaluated against attrs, points at a row that currently has
// an entry parked in its type's error queue.
func (e Engine) parentHasPendingError(t dataschema.EntityType, attrs value.AttrMap, errQueues map[string]*errorqueue.Queue) (string, bool) {
	for _, fk := range t.ForeignKeys {
		v, present := attrs[fk.LocalAttr]
		if !present || v.IsNull() {
			continue
		}
		q, ok := errQueues[fk.ParentType]
		if !ok {
			continue
		}
		if q.HasPending(fk.ParentType, value.PKey{v}) {
			return fk.ParentType, true
		}
	}
	return "", false
}

// childHasPendingErrorForParent reports whether some other type's
// error queue holds an entry whose attrs still reference parentType's
// pkey through a declared foreign key.
func (e Engine) childHasPendingErrorForParent(parentType string, parentPKey value.PKey, errQueues map[string]*errorqueue.Queue) (string, bool) {
	if len(parentPKey) != 1 {
		// Composite parent keys cannot be matched against a single
		// foreign-key attribute value; such schemas must rely on
		// Disabled or application-level constraints instead.
		return "", false
	}
	for _, t := range e.Schema.Types {
		for _, fk := range t.ForeignKeys {
			if fk.ParentType != parentType {
				continue
			}
			q, ok := errQueues[t.Name]
			if !ok {
				continue
			}
			for _, entry := range q.Pending() {
				if v, present := entry.Event.Attrs[fk.LocalAttr]; present && v.Equal(parentPKey[0]) {
					return t.Name, true
				}
			}
		}
	}
	return "", false
}
