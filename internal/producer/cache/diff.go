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

package cache

import (
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/object"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Op is the kind of change a Change describes.
type Op int

// The three change kinds a differ can produce.
const (
	Added Op = iota
	Modified
	Removed
)

func (o Op) String() string {
	switch o {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one row-level difference between the previous cycle's
// cached snapshot and the snapshot just merged. Attrs holds only the
// attributes that actually changed, for Modified; for Added it holds
// every emittable attribute; for Removed it is nil.
type Change struct {
	Op         Op
	PKey       value.PKey
	RemotePKey string
	Attrs      value.AttrMap
}

// Diff compares prev (the previously cached snapshot, possibly empty)
// against next (this cycle's freshly merged snapshot) and returns the
// set of changes to emit, in no defined order (emitter.Emit orders
// them before publishing). CacheOnly and Local attributes never
// appear in a Change's Attrs and never by themselves trigger a
// Modified change -- they exist only to support merge/projection
// bookkeeping, not to cross the wire (§3 "Attribute Classes").
func Diff(t dataschema.EntityType, prev, next *object.Snapshot) []Change {
	classes := t.AttrClasses()
	var changes []Change

	for key, nextObj := range next.ByPKey {
		prevObj, existed := prev.ByPKey[key]
		if !existed {
			changes = append(changes, Change{Op: Added, PKey: nextObj.PKey, RemotePKey: nextObj.RemotePKey, Attrs: emittable(nextObj.Attrs, classes)})
			continue
		}
		if delta := modifiedAttrs(prevObj.Attrs, nextObj.Attrs, classes); len(delta) > 0 {
			changes = append(changes, Change{Op: Modified, PKey: nextObj.PKey, RemotePKey: nextObj.RemotePKey, Attrs: delta})
		}
	}

	for key, prevObj := range prev.ByPKey {
		if _, stillPresent := next.ByPKey[key]; !stillPresent {
			changes = append(changes, Change{Op: Removed, PKey: prevObj.PKey, RemotePKey: prevObj.RemotePKey})
		}
	}

	return changes
}

func emittable(attrs value.AttrMap, classes map[string]dataschema.AttrClass) value.AttrMap {
	out := make(value.AttrMap, len(attrs))
	for attr, v := range attrs {
		switch classes[attr] {
		case dataschema.CacheOnly, dataschema.Local:
			continue
		}
		out[attr] = v
	}
	return out
}

func modifiedAttrs(prev, next value.AttrMap, classes map[string]dataschema.AttrClass) value.AttrMap {
	out := make(value.AttrMap)
	for attr, nv := range next {
		switch classes[attr] {
		case dataschema.CacheOnly, dataschema.Local:
			continue
		}
		pv, had := prev[attr]
		if !had || !pv.Equal(nv) {
			out[attr] = nv
		}
	}
	for attr := range prev {
		switch classes[attr] {
		case dataschema.CacheOnly, dataschema.Local:
			continue
		}
		if _, stillPresent := next[attr]; !stillPresent {
			out[attr] = value.Null()
		}
	}
	return out
}
