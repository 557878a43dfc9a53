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

// Package cycle orchestrates one full producer pass over a dataschema:
// merge every type's sources (C5), evaluate integrity constraints
// across the freshly merged datamodel (C6), diff each type against
// its previously persisted cache and persist the new state (C7), and
// emit the resulting changes with commit hooks (C8) in an order that
// never leaves a consumer looking at a dangling foreign key mid-cycle
// -- every type's removals first, in reverse declaration order, then
// every type's adds and modifies, in declaration order.
package cycle

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/integrity"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/merge"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/object"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/projection"
)

// Result summarizes one cycle's outcome across every type.
type Result struct {
	Step             int64
	Conflicts        map[string][]merge.Conflict
	IntegrityDropped map[string]int
	Changes          map[string][]cache.Change
}

// Run executes one full cycle. step identifies this cycle for the
// events it emits (monotonically increasing; the caller owns its
// storage and advancement).
func Run(
	ctx context.Context,
	schema *dataschema.Schema,
	drivers merge.Drivers,
	varsOf merge.VarsFunc,
	store cache.Store,
	reg *projection.Registry,
	step int64,
	pub emitter.Publisher,
	committer emitter.Committer,
	alerter emitter.Alerter,
) (*Result, error) {
	result := &Result{
		Step:             step,
		Conflicts:        make(map[string][]merge.Conflict),
		IntegrityDropped: make(map[string]int),
		Changes:          make(map[string][]cache.Change),
	}

	prev := make(map[string]*object.Snapshot, len(schema.Types))
	merged := make(integrity.Datamodel, len(schema.Types))

	for _, t := range schema.Types {
		start := time.Now()
		cached, err := cache.Load(store, t)
		if err != nil {
			return nil, errors.Wrapf(err, "cycle: loading cache for type %q", t.Name)
		}
		prev[t.Name] = cached

		mergeResult, err := merge.MergeType(ctx, t, drivers, varsOf, cached, reg)
		if err != nil {
			return nil, errors.Wrapf(err, "cycle: merging type %q", t.Name)
		}
		result.Conflicts[t.Name] = mergeResult.Conflicts
		merged[t.Name] = mergeResult.Snapshot
		cycleDurations.WithLabelValues(t.Name).Observe(time.Since(start).Seconds())
	}

	integrityResult := integrity.Evaluate(schema, merged, reg)
	result.IntegrityDropped = integrityResult.DroppedByType
	for typeName, n := range integrityResult.DroppedByType {
		integrityDropped.WithLabelValues(typeName).Add(float64(n))
	}

	diffs := make(map[string][]cache.Change, len(schema.Types))
	for _, t := range schema.Types {
		diff := cache.Diff(t, prev[t.Name], merged[t.Name])
		diffs[t.Name] = diff
		result.Changes[t.Name] = diff

		if err := cache.Save(store, t, merged[t.Name]); err != nil {
			return nil, errors.Wrapf(err, "cycle: saving cache for type %q", t.Name)
		}
	}

	for _, typeName := range emitter.RemovalOrder(schema) {
		t, _ := schema.ByName(typeName)
		_, removed := emitter.SplitByOp(diffs[typeName])
		if len(removed) == 0 {
			continue
		}
		if err := emitter.Emit(ctx, t, removed, step, pub, committer, alerter); err != nil {
			return nil, errors.Wrapf(err, "cycle: emitting removals for type %q", typeName)
		}
		changesEmitted.WithLabelValues(typeName).Add(float64(len(removed)))
	}

	for _, typeName := range emitter.EmissionOrder(schema) {
		t, _ := schema.ByName(typeName)
		nonRemoved, _ := emitter.SplitByOp(diffs[typeName])
		if len(nonRemoved) == 0 {
			continue
		}
		if err := emitter.Emit(ctx, t, nonRemoved, step, pub, committer, alerter); err != nil {
			return nil, errors.Wrapf(err, "cycle: emitting changes for type %q", typeName)
		}
		changesEmitted.WithLabelValues(typeName).Add(float64(len(nonRemoved)))
	}

	log.WithFields(log.Fields{"step": step, "types": len(schema.Types)}).Info("cycle: completed")
	return result, nil
}
