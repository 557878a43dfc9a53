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

// Package merge implements the Per-Type Multi-Source Merge component
// (C5): fetching every declared source of an entity type in
// declaration order, projecting each source's rows through the
// compiled attribute mappings (C3), enforcing the per-source primary
// key constraint, resolving attribute conflicts between sources, and
// evaluating any merge_constraints predicates attached to a source.
package merge

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/datasource"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/object"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/projection"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Drivers resolves a source's configured driver by source name.
type Drivers interface {
	Driver(sourceName string) (datasource.Driver, bool)
}

// VarsFunc builds the fetch variables passed to a source's driver,
// given the source binding being fetched. Most drivers need no
// variables at all for a full fetch; incremental/paged sources use
// this hook to inject watermark state.
type VarsFunc func(src dataschema.SourceBinding) datasource.Vars

// Conflict describes one attribute conflict detected during merge,
// surfaced for diagnostics even when it was resolved automatically.
type Conflict struct {
	PKey        string
	Attr        string
	FirstSource string
	FirstValue  value.Value
	NextSource  string
	NextValue   value.Value
	Resolution  dataschema.MergeConflict
}

// Result is the outcome of merging a single entity type for one cycle.
type Result struct {
	Snapshot  *object.Snapshot
	Conflicts []Conflict
	// Skipped counts rows dropped because of a pkey-constraint
	// violation or a failed merge_constraints predicate; they are
	// logged, never fatal to the cycle.
	Skipped int
}

type contribution struct {
	bySource map[string]bool
}

// MergeType runs the full merge algorithm for one entity type.
//
// cached is the consumer-side view of this type from the previous
// cycle (used to resolve UseCachedEntry conflicts and to seed
// RemotePKey continuity); it may be nil on a type's first cycle.
func MergeType(
	ctx context.Context,
	t dataschema.EntityType,
	drivers Drivers,
	varsOf VarsFunc,
	cached *object.Snapshot,
	reg *projection.Registry,
) (*Result, error) {
	snap := object.NewSnapshot(t.Name)
	contributions := make(map[string]*contribution)
	result := &Result{Snapshot: snap}

	for _, src := range t.Sources {
		drv, ok := drivers.Driver(src.Name)
		if !ok {
			return nil, errors.Errorf("merge: type %q: no driver configured for source %q", t.Name, src.Name)
		}

		cm, err := projection.CompileAll(src.Mapping)
		if err != nil {
			return nil, errors.Wrapf(err, "merge: type %q source %q", t.Name, src.Name)
		}

		var vars datasource.Vars
		if varsOf != nil {
			vars = varsOf(src)
		}

		// MustExistInBoth retains only the intersection of what was
		// merged from earlier sources (priorKeys) and what this
		// source's fetch actually touches (touchedKeys): keys this
		// source never sees are pruned from snap below once the fetch
		// completes, per §4.3's "keys in B_i \ A_i are dropped from M".
		var priorKeys map[string]bool
		touchedKeys := make(map[string]bool)
		if src.PKeyMergeConstraint == dataschema.MustExistInBoth {
			priorKeys = snap.Keys()
		}

		fetchErr := drv.Fetch(ctx, src.FetchQuery, vars, func(row datasource.Row) error {
			cachedAttrs := value.AttrMap(nil)
			pkeyGuess, pkErr := pkeyFromRow(t.PrimaryKey, row)
			if pkErr == nil && cached != nil {
				if co, ok := cached.Get(pkeyGuess); ok {
					cachedAttrs = co.Attrs
				}
			}

			attrs, err := projection.Project(cm, projection.Env{Remote: row, Cached: cachedAttrs}, reg)
			if err != nil {
				log.WithFields(log.Fields{"type": t.Name, "source": src.Name}).
					WithError(err).Warn("merge: dropping row: projection failed")
				result.Skipped++
				return nil
			}

			pkey, err := pkeyFromRow(t.PrimaryKey, attrs)
			if err != nil {
				log.WithFields(log.Fields{"type": t.Name, "source": src.Name}).
					WithError(err).Warn("merge: dropping row: primary key incomplete")
				result.Skipped++
				return nil
			}
			pkeyStr := pkey.String()

			contrib := contributions[pkeyStr]
			if contrib == nil {
				contrib = &contribution{bySource: make(map[string]bool)}
				contributions[pkeyStr] = contrib
			}

			if !checkPKeyConstraint(src.PKeyMergeConstraint, contrib, src.Name) {
				log.WithFields(log.Fields{
					"type": t.Name, "source": src.Name, "pkey": pkeyStr,
					"constraint": src.PKeyMergeConstraint.String(),
				}).Warn("merge: dropping row: pkey constraint violated")
				result.Skipped++
				return nil
			}
			contrib.bySource[src.Name] = true

			existing, exists := snap.Get(pkey)
			var merged object.Object
			if !exists {
				merged = object.Object{PKey: pkey, Attrs: make(value.AttrMap, len(attrs)), RemotePKey: pkeyStr}
			} else {
				merged = existing
			}

			for attr, v := range attrs {
				prev, had := merged.Attrs[attr]
				if !had {
					merged.Attrs[attr] = v
					continue
				}
				if prev.Equal(v) {
					continue
				}
				result.Conflicts = append(result.Conflicts, Conflict{
					PKey: pkeyStr, Attr: attr,
					FirstValue: prev, NextValue: v, NextSource: src.Name,
					Resolution: t.OnMergeConflict,
				})
				switch t.OnMergeConflict {
				case dataschema.KeepFirstValue:
					// merged.Attrs[attr] already holds the first value.
				case dataschema.UseCachedEntry:
					if cachedAttrs != nil {
						if cv, ok := cachedAttrs[attr]; ok {
							merged.Attrs[attr] = cv
							continue
						}
					}
					merged.Attrs[attr] = v
				default:
					merged.Attrs[attr] = v
				}
			}

			if !passesMergeConstraints(src.MergeConstraints, merged.Attrs, reg) {
				log.WithFields(log.Fields{"type": t.Name, "source": src.Name, "pkey": pkeyStr}).
					Warn("merge: dropping row: merge_constraints predicate failed")
				result.Skipped++
				snap.Delete(pkey)
				delete(contributions, pkeyStr)
				return nil
			}

			touchedKeys[pkeyStr] = true
			snap.Put(merged)
			return nil
		})
		if fetchErr != nil {
			return nil, errors.Wrapf(fetchErr, "merge: type %q source %q: fetch failed", t.Name, src.Name)
		}

		if src.PKeyMergeConstraint == dataschema.MustExistInBoth {
			for pkeyStr := range priorKeys {
				if touchedKeys[pkeyStr] {
					continue
				}
				log.WithFields(log.Fields{"type": t.Name, "source": src.Name, "pkey": pkeyStr}).
					Warn("merge: dropping row: mustExistInBoth key absent from this source's fetch")
				result.Skipped++
				delete(snap.ByPKey, pkeyStr)
				delete(contributions, pkeyStr)
			}
		}
	}

	return result, nil
}

func pkeyFromRow(names []string, attrs value.AttrMap) (value.PKey, error) {
	pkey := make(value.PKey, len(names))
	for i, name := range names {
		v, ok := attrs[name]
		if !ok || v.IsNull() {
			return nil, errors.Errorf("merge: primary key attribute %q missing or null", name)
		}
		pkey[i] = v
	}
	return pkey, nil
}

// checkPKeyConstraint reports whether a row from source sourceName may
// be merged given c and the pkey's contributions so far this cycle.
func checkPKeyConstraint(c dataschema.PKeyConstraint, contrib *contribution, sourceName string) bool {
	hadAny := len(contrib.bySource) > 0
	switch c {
	case dataschema.NoConstraint:
		return true
	case dataschema.MustNotExist:
		return !hadAny
	case dataschema.MustAlreadyExist:
		return hadAny
	case dataschema.MustExistInBoth:
		// Requires the key to have already been contributed by at
		// least one earlier source; a later pass over
		// merge_constraints cannot retroactively undo an accepted
		// earlier source, so "both" is enforced as "this is not the
		// first source to see this key".
		return hadAny
	default:
		return false
	}
}

func passesMergeConstraints(exprs []string, self value.AttrMap, reg *projection.Registry) bool {
	for _, expr := range exprs {
		ok, err := projection.EvalBool(expr, projection.Env{Extra: map[string]value.AttrMap{"_SELF": self}}, reg)
		if err != nil {
			log.WithError(err).WithField("expr", expr).Warn("merge: merge_constraints predicate errored, treating as failed")
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}
