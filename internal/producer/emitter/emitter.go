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

// Package emitter implements the Event Emitter & Commit Hooks
// component (C8): publishing one cycle's changes, type by type, in the
// order that keeps foreign-key references consistent on the consumer
// side -- declared schema order for adds/modifies, reverse declared
// order for removes -- and invoking each source's commit_one/commit_all
// hook once its changes have been durably published.
package emitter

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Event is one wire-level change notification published to the
// message bus (C9).
type Event struct {
	ID         string        `json:"id"`
	Type       string        `json:"type"`
	Op         cache.Op      `json:"op"`
	PKey       value.PKey    `json:"pkey"`
	RemotePKey string        `json:"remote_pkey"`
	Attrs      value.AttrMap `json:"attrs,omitempty"`
	Step       int64         `json:"producer_step"`
	EmittedAt  time.Time     `json:"emitted_at"`
}

// Publisher delivers one Event to the message bus, within the current
// type's ordered stream. Implemented by internal/bus.
type Publisher interface {
	Publish(ctx context.Context, typeName string, ev Event) error
}

// Committer performs a source's commit_one/commit_all side effect
// once its rows have been durably published -- e.g. advancing a
// watermark or truncating a staging table at the source.
type Committer interface {
	CommitOne(ctx context.Context, src dataschema.SourceBinding, pkey value.PKey) error
	CommitAll(ctx context.Context, src dataschema.SourceBinding) error
}

// Alerter is notified when a commit hook fails; the cycle's changes
// have already been published at that point, so a commit failure is
// reported, not retried inline (§7 "alerting on commit failures").
type Alerter interface {
	Alert(ctx context.Context, subject, body string)
}

// Emit publishes every change for t and then runs the type's
// per-source commit hooks. Within the change set it publishes added,
// then modified, then removed changes, each group in pkey order.
// Ordering across types is the caller's: it emits types in
// declaration order for adds/modifies and in reverse declaration
// order for the removal pass.
func Emit(ctx context.Context, t dataschema.EntityType, changes []cache.Change, step int64, pub Publisher, committer Committer, alerter Alerter) error {
	ordered := make([]cache.Change, len(changes))
	copy(ordered, changes)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Op != ordered[j].Op {
			return ordered[i].Op < ordered[j].Op
		}
		return ordered[i].PKey.String() < ordered[j].PKey.String()
	})
	for _, c := range ordered {
		ev := Event{
			ID:         uuid.NewString(),
			Type:       t.Name,
			Op:         c.Op,
			PKey:       c.PKey,
			RemotePKey: c.RemotePKey,
			Attrs:      c.Attrs,
			Step:       step,
			EmittedAt:  time.Now().UTC(),
		}
		if err := pub.Publish(ctx, t.Name, ev); err != nil {
			return errors.Wrapf(err, "emitter: publishing %s event for type %q", c.Op, t.Name)
		}
	}

	for _, src := range t.Sources {
		if src.CommitAll != "" {
			if err := committer.CommitAll(ctx, src); err != nil {
				log.WithFields(log.Fields{"type": t.Name, "source": src.Name}).WithError(err).Error("emitter: commit_all hook failed")
				alerter.Alert(ctx, "hermes: commit hook failed",
					"commit_all for type "+t.Name+" source "+src.Name+" failed: "+err.Error())
			}
			continue
		}
		if src.CommitOne == "" {
			continue
		}
		for _, c := range changes {
			if err := committer.CommitOne(ctx, src, c.PKey); err != nil {
				log.WithFields(log.Fields{"type": t.Name, "source": src.Name, "pkey": c.PKey.String()}).
					WithError(err).Error("emitter: commit_one hook failed")
				alerter.Alert(ctx, "hermes: commit hook failed",
					"commit_one for type "+t.Name+" source "+src.Name+" pkey "+c.PKey.String()+" failed: "+err.Error())
			}
		}
	}

	return nil
}

// EmissionOrder returns type names in the order a full cycle's
// adds/modifies should be emitted (schema declaration order, so a
// parent row reaches the consumer before any child row that
// foreign-keys it).
func EmissionOrder(schema *dataschema.Schema) []string {
	return schema.TypeNames()
}

// SplitByOp partitions one type's Diff output into its non-removal and
// removal changes, so a cycle orchestrator can run the two emission
// passes (EmissionOrder for the first, RemovalOrder for the second)
// without Emit itself needing to know about cross-type ordering.
func SplitByOp(changes []cache.Change) (nonRemoved, removed []cache.Change) {
	for _, c := range changes {
		if c.Op == cache.Removed {
			removed = append(removed, c)
		} else {
			nonRemoved = append(nonRemoved, c)
		}
	}
	return nonRemoved, removed
}

// RemovalOrder returns type names in the order a full cycle's removes
// should be emitted: the reverse of declaration order, so a child row
// is removed before the parent it references.
func RemovalOrder(schema *dataschema.Schema) []string {
	names := schema.TypeNames()
	reversed := make([]string, len(names))
	for i, n := range names {
		reversed[len(names)-1-i] = n
	}
	return reversed
}
