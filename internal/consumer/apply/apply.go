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

// Package apply implements the Consumer Cache & Event Applier (C11):
// for one received event it checks the event's type is known to the
// consumer's current dataschema, asks the Foreign-Key Policy Engine
// (C13) whether the event may proceed, defers a removal to the
// Trashbin (C14) instead of applying it immediately, restores a
// trashed row as a modify when it reappears before its window
// elapses, invokes the configured Target (plugin) to perform the
// actual write, and finally updates the consumer's own local cache so
// later events (and the schema evolver, C10) see a consistent view.
// A failure anywhere past the schema check is reported to the caller,
// which is expected to park it in the Error Queue (C12).
package apply

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/errorqueue"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/fkpolicy"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/schema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/target"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/trashbin"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/object"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Targets resolves which Target backend applies a given type's
// events. Most consumers have one target for every type; a consumer
// fronting more than one backend maps individual types to different
// targets.
type Targets interface {
	TargetFor(typeName string) (target.Target, bool)
}

// SingleTarget is a Targets that routes every type to the same
// Target, the common case.
type SingleTarget struct{ Target target.Target }

// TargetFor implements Targets.
func (s SingleTarget) TargetFor(string) (target.Target, bool) { return s.Target, s.Target != nil }

// Applier wires together the consumer-side pipeline that turns one
// received emitter.Event into a target-side write and an updated
// local cache entry.
type Applier struct {
	Schema   *dataschema.Schema
	Cache    schema.Cache
	Targets  Targets
	FKPolicy fkpolicy.Engine
	Trash    *trashbin.Bin
	// ErrQueues is the consumer's per-type error queue map, shared by
	// reference with the cycle.Runner that owns it, so the Foreign-Key
	// Policy Engine sees every queue a retry cycle lazily creates.
	ErrQueues map[string]*errorqueue.Queue
}

// Apply performs the full C11 pipeline for one event. isAnErrorRetry
// marks this invocation as a replay from the Error Queue (C12) rather
// than a first attempt; it is exposed to the target via ctx (see
// target.StateFromContext) as well as used for logging. The returned
// bool reports whether the backing system may already carry part of
// this event's effect even though Apply failed -- the caller is
// expected to pass it to errorqueue.Push's partiallyProcessed
// argument so later coalescing doesn't silently build on uncertain
// state.
func (a *Applier) Apply(ctx context.Context, typeName string, ev emitter.Event, isAnErrorRetry bool) (bool, error) {
	if _, ok := a.Schema.ByName(typeName); !ok {
		return false, errors.Errorf("apply: type %q is not in the current dataschema", typeName)
	}

	snap, ok := a.Cache[typeName]
	if !ok {
		snap = object.NewSnapshot(typeName)
		a.Cache[typeName] = snap
	}

	verdict := a.FKPolicy.Evaluate(typeName, ev.Op, ev.PKey, ev.Attrs, a.ErrQueues)
	if verdict.Blocked {
		return false, errors.Errorf("apply: blocked by foreign-key policy: %s", verdict.Reason)
	}

	tgt, ok := a.Targets.TargetFor(typeName)
	if !ok {
		return false, errors.Errorf("apply: no target configured for type %q", typeName)
	}

	fields := log.Fields{"type": typeName, "pkey": ev.PKey.String(), "op": ev.Op.String(), "retry": isAnErrorRetry}
	state := &target.ApplyState{IsErrorRetry: isAnErrorRetry}
	ctx = target.WithApplyState(ctx, state)

	if ev.Op == cache.Removed {
		if a.Trash != nil {
			obj, _ := snap.Get(ev.PKey)
			snap.Delete(ev.PKey)
			a.Trash.Defer(typeName, ev.PKey, obj.Attrs)
			log.WithFields(fields).Debug("apply: removal deferred to trashbin")
			return false, nil
		}
		if err := tgt.Apply(ctx, typeName, ev); err != nil {
			return state.PartiallyProcessed, errors.Wrap(err, "apply: target remove")
		}
		snap.Delete(ev.PKey)
		return false, nil
	}

	applyEv := ev
	restoredFromTrash := false
	if a.Trash != nil {
		if _, restored := a.Trash.Restore(typeName, ev.PKey); restored {
			// The target-side delete for the earlier removal was never
			// performed, so the row must be reconciled with a modify
			// rather than an add.
			applyEv.Op = cache.Modified
			restoredFromTrash = true
			// The trashbin entry is already consumed at this point: if
			// the target write below fails, a retry will see no trashbin
			// entry left to restore and would otherwise be replayed as a
			// plain add instead of the modify this row actually needs.
			state.PartiallyProcessed = true
		}
	}

	if err := tgt.Apply(ctx, typeName, applyEv); err != nil {
		return state.PartiallyProcessed, errors.Wrap(err, "apply: target write")
	}

	snap.Put(object.Object{
		PKey:       ev.PKey,
		RemotePKey: ev.RemotePKey,
		Attrs:      value.CloneAttrMap(ev.Attrs),
	})
	log.WithFields(fields).WithField("restored_from_trash", restoredFromTrash).Debug("apply: applied")
	return false, nil
}
