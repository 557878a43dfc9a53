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

package dataschema

// AttrRef names an attribute of a type, for use in a Delta.
type AttrRef struct {
	Type string
	Attr string
}

// PKeyRename records that a type's primary key attribute was renamed
// between two schema revisions while the underlying remote_pkey
// identity stayed the same (§4.8's "renamed primary key" case).
type PKeyRename struct {
	Type    string
	OldAttr string
	NewAttr string
}

// Delta is the symmetric difference between two Schema revisions, as
// consumed by the Consumer Dataschema Evolver (C10).
type Delta struct {
	AddedTypes   []string
	RemovedTypes []string

	AddedAttrs   []AttrRef
	RemovedAttrs []AttrRef

	RenamedPKeys []PKeyRename
}

// IsEmpty reports whether the delta carries no changes.
func (d Delta) IsEmpty() bool {
	return len(d.AddedTypes) == 0 && len(d.RemovedTypes) == 0 &&
		len(d.AddedAttrs) == 0 && len(d.RemovedAttrs) == 0 && len(d.RenamedPKeys) == 0
}

// Diff computes the symmetric difference between old and next,
// detecting type adds/removes, attribute adds/removes within types
// present in both, and single-attribute primary-key renames (where
// the old and new primary key are both a single attribute with a
// different name -- composite-key renames are treated as a remove
// followed by an add of the attributes involved, since there is no
// way to tell, from the schema alone, which old component maps to
// which new one).
func Diff(old, next *Schema) Delta {
	var d Delta

	oldTypes := make(map[string]EntityType, len(old.Types))
	for _, t := range old.Types {
		oldTypes[t.Name] = t
	}
	nextTypes := make(map[string]EntityType, len(next.Types))
	for _, t := range next.Types {
		nextTypes[t.Name] = t
	}

	for name := range nextTypes {
		if _, found := oldTypes[name]; !found {
			d.AddedTypes = append(d.AddedTypes, name)
		}
	}
	for name := range oldTypes {
		if _, found := nextTypes[name]; !found {
			d.RemovedTypes = append(d.RemovedTypes, name)
		}
	}

	for name, oldType := range oldTypes {
		nextType, found := nextTypes[name]
		if !found {
			continue
		}

		if len(oldType.PrimaryKey) == 1 && len(nextType.PrimaryKey) == 1 &&
			oldType.PrimaryKey[0] != nextType.PrimaryKey[0] {
			d.RenamedPKeys = append(d.RenamedPKeys, PKeyRename{
				Type:    name,
				OldAttr: oldType.PrimaryKey[0],
				NewAttr: nextType.PrimaryKey[0],
			})
		}

		oldAttrs := oldType.AllAttrNames()
		nextAttrs := nextType.AllAttrNames()
		for attr := range nextAttrs {
			if !oldAttrs[attr] {
				// A renamed pkey attribute is not a remove/add pair.
				isRenamedTo := false
				for _, r := range d.RenamedPKeys {
					if r.Type == name && r.NewAttr == attr {
						isRenamedTo = true
						break
					}
				}
				if !isRenamedTo {
					d.AddedAttrs = append(d.AddedAttrs, AttrRef{Type: name, Attr: attr})
				}
			}
		}
		for attr := range oldAttrs {
			if !nextAttrs[attr] {
				// A renamed pkey attribute is not a remove/add pair.
				isRenamedAway := false
				for _, r := range d.RenamedPKeys {
					if r.Type == name && r.OldAttr == attr {
						isRenamedAway = true
						break
					}
				}
				if !isRenamedAway {
					d.RemovedAttrs = append(d.RemovedAttrs, AttrRef{Type: name, Attr: attr})
				}
			}
		}
	}

	return d
}
