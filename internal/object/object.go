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

// Package object defines the realized row (§3 "Object") shared by the
// merge (C5), integrity (C6), cache/differ (C7) and consumer apply
// (C11) components.
package object

import "github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"

// Object is a realized row of an entity type: its primary key, its
// attribute values, and a synthetic RemotePKey that is retained
// immutably across local-pkey renames so the schema evolver (C10) can
// migrate an index in place instead of treating a rename as a
// remove+add.
type Object struct {
	PKey       value.PKey
	Attrs      value.AttrMap
	RemotePKey string
}

// Clone returns a deep-enough copy of o that mutating the result
// cannot affect o (attribute values themselves are immutable once
// constructed, so only the map and pkey slice need copying).
func (o Object) Clone() Object {
	return Object{
		PKey:       o.PKey.Clone(),
		Attrs:      value.CloneAttrMap(o.Attrs),
		RemotePKey: o.RemotePKey,
	}
}

// Snapshot is the authoritative, in-memory set of Objects for one
// entity type, indexed by the string form of their primary key.
type Snapshot struct {
	TypeName string
	ByPKey   map[string]Object
}

// NewSnapshot returns an empty Snapshot for the named type.
func NewSnapshot(typeName string) *Snapshot {
	return &Snapshot{TypeName: typeName, ByPKey: make(map[string]Object)}
}

// Put indexes o by its primary key.
func (s *Snapshot) Put(o Object) {
	s.ByPKey[o.PKey.String()] = o
}

// Get returns the object with the given pkey, if present.
func (s *Snapshot) Get(pkey value.PKey) (Object, bool) {
	o, ok := s.ByPKey[pkey.String()]
	return o, ok
}

// Delete removes the object with the given pkey, if present.
func (s *Snapshot) Delete(pkey value.PKey) {
	delete(s.ByPKey, pkey.String())
}

// Keys returns the set of primary key strings currently present.
func (s *Snapshot) Keys() map[string]bool {
	out := make(map[string]bool, len(s.ByPKey))
	for k := range s.ByPKey {
		out[k] = true
	}
	return out
}

// Len returns the number of objects in the snapshot.
func (s *Snapshot) Len() int { return len(s.ByPKey) }
