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

// Package integrity implements Integrity Evaluation (C6): after every
// declared entity type has been merged (C5) for a cycle, each type's
// integrity_constraints are evaluated row by row against bindings over
// the whole datamodel -- not just the row's own source, as
// merge_constraints are. A row that fails any constraint is dropped
// from its type's snapshot before it ever reaches the differ (C7), and
// the drop is visible to constraints evaluated on types declared
// later in the same cycle.
package integrity

import (
	log "github.com/sirupsen/logrus"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/object"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/projection"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Datamodel is the full set of per-type snapshots produced by one
// merge cycle, keyed by type name, that integrity constraints may
// bind against.
type Datamodel map[string]*object.Snapshot

// Result reports how many rows were dropped, per type, by integrity
// evaluation.
type Result struct {
	DroppedByType map[string]int
}

// Evaluate walks schema.Types in declaration order and, for each
// type's integrity_constraints, removes from dm any row that does not
// satisfy every constraint. Bindings available to a constraint
// expression are:
//
//   - _SELF: the row currently being evaluated, attribute-by-attribute
//   - for every OTHER type in the datamodel, keyed by that type's own
//     name: <TypeName>, the union of every attribute value any row of
//     that type currently holds, and <TypeName>_pkeys, the set of
//     that type's current primary keys as a list value. A constraint
//     on GroupsMembers can therefore check its own "uid" attribute
//     against Users_pkeys directly.
//
// Peer bindings are recomputed once per type, before that type's rows
// are walked, so a drop made earlier in the same Evaluate call (on an
// earlier-declared type) is visible; dm is mutated in place as rows
// are dropped.
func Evaluate(schema *dataschema.Schema, dm Datamodel, reg *projection.Registry) Result {
	result := Result{DroppedByType: make(map[string]int)}

	for _, t := range schema.Types {
		if len(t.IntegrityConstraints) == 0 {
			continue
		}
		snap := dm[t.Name]
		if snap == nil {
			continue
		}

		extra := make(map[string]value.AttrMap, 2*len(dm)+1)
		for otherName, otherSnap := range dm {
			if otherName == t.Name || otherSnap == nil {
				continue
			}
			extra[otherName] = unionAttrs(otherSnap)
			extra[otherName+"_pkeys"] = value.AttrMap{"_": value.List(pkeyList(otherSnap))}
		}

		for _, key := range snap.Keys() {
			obj, ok := snap.ByPKey[key]
			if !ok {
				continue
			}
			extra["_SELF"] = obj.Attrs
			env := projection.Env{Extra: extra}

			passed := true
			for _, expr := range t.IntegrityConstraints {
				ok, err := projection.EvalBool(expr, env, reg)
				if err != nil {
					log.WithFields(log.Fields{"type": t.Name, "pkey": key}).
						WithError(err).Warn("integrity: constraint errored, treating as failed")
					passed = false
					break
				}
				if !ok {
					passed = false
					break
				}
			}
			if !passed {
				snap.Delete(obj.PKey)
				result.DroppedByType[t.Name]++
				log.WithFields(log.Fields{"type": t.Name, "pkey": key}).
					Warn("integrity: dropping row: integrity_constraints failed")
			}
		}
	}

	return result
}

// unionAttrs builds the "<TypeName>" binding: for each attribute name appearing
// anywhere in the type's rows, a list of every value held for it.
func unionAttrs(snap *object.Snapshot) value.AttrMap {
	byAttr := make(map[string][]value.Value)
	for _, obj := range snap.ByPKey {
		for attr, v := range obj.Attrs {
			byAttr[attr] = append(byAttr[attr], v)
		}
	}
	out := make(value.AttrMap, len(byAttr))
	for attr, vals := range byAttr {
		out[attr] = value.List(vals)
	}
	return out
}

func pkeyList(snap *object.Snapshot) []value.Value {
	out := make([]value.Value, 0, snap.Len())
	for _, obj := range snap.ByPKey {
		if len(obj.PKey) == 1 {
			out = append(out, obj.PKey[0])
			continue
		}
		out = append(out, value.List([]value.Value(obj.PKey)))
	}
	return out
}
