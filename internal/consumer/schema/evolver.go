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

// Package schema implements the Consumer Dataschema Evolver (C10): it
// reconciles a running consumer's local cache with a newly announced
// dataschema revision -- dropping data for removed types/attributes,
// leaving newly added attributes absent until an event populates them,
// and migrating a renamed primary key attribute in place so the
// object keeps its identity instead of being treated as a remove
// followed by an add. None of this produces a client-visible event:
// it is bookkeeping the consumer performs on its own cache before the
// first event against the new revision arrives.
package schema

import (
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/object"
)

// Cache is the set of per-type snapshots a consumer keeps locally,
// keyed by type name.
type Cache map[string]*object.Snapshot

// ApplyDelta mutates cache in place to reflect delta, the symmetric
// difference between the schema revision the consumer was running
// under and the one it is evolving to.
func ApplyDelta(delta dataschema.Delta, cache Cache) {
	for _, typeName := range delta.RemovedTypes {
		delete(cache, typeName)
	}

	for _, typeName := range delta.AddedTypes {
		if _, ok := cache[typeName]; !ok {
			cache[typeName] = object.NewSnapshot(typeName)
		}
	}

	for _, ref := range delta.RemovedAttrs {
		snap, ok := cache[ref.Type]
		if !ok {
			continue
		}
		for key, obj := range snap.ByPKey {
			delete(obj.Attrs, ref.Attr)
			snap.ByPKey[key] = obj
		}
	}

	// AddedAttrs need no action: the attribute is simply absent from
	// every cached object until the next applied event populates it.

	for _, rename := range delta.RenamedPKeys {
		migratePKeyRename(cache, rename)
	}
}

// migratePKeyRename renames rename.OldAttr to rename.NewAttr on every
// cached object of rename.Type. The primary key's own value is
// unaffected by the attribute rename -- only its declared name
// changes -- so the snapshot's index (keyed by PKey value, not
// attribute name) needs no rebuilding.
func migratePKeyRename(cache Cache, rename dataschema.PKeyRename) {
	snap, ok := cache[rename.Type]
	if !ok {
		return
	}
	for key, obj := range snap.ByPKey {
		if v, had := obj.Attrs[rename.OldAttr]; had {
			delete(obj.Attrs, rename.OldAttr)
			obj.Attrs[rename.NewAttr] = v
		}
		snap.ByPKey[key] = obj
	}
}
