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

// Package dataschema declares the entity types, attribute classes,
// primary/foreign key relationships and multi-source bindings that
// make up a Hermes datamodel (C2). A Schema is versioned and
// comparable across revisions so that the Consumer Dataschema Evolver
// (C10) can reconcile a running consumer against a newly announced
// revision without restarting.
package dataschema

import (
	"fmt"

	"github.com/pkg/errors"
)

// MergeConflict selects how Per-Type Multi-Source Merge (C5) resolves
// an attribute present with different values from two sources.
type MergeConflict int

// The two supported conflict policies.
const (
	UseCachedEntry MergeConflict = iota
	KeepFirstValue
)

func (m MergeConflict) String() string {
	switch m {
	case UseCachedEntry:
		return "use_cached_entry"
	case KeepFirstValue:
		return "keep_first_value"
	default:
		return fmt.Sprintf("MergeConflict(%d)", int(m))
	}
}

// PKeyConstraint selects the per-source pkey-membership rule applied
// during merge (C5 step 3).
type PKeyConstraint int

// The four supported constraints.
const (
	NoConstraint PKeyConstraint = iota
	MustNotExist
	MustAlreadyExist
	MustExistInBoth
)

func (c PKeyConstraint) String() string {
	switch c {
	case NoConstraint:
		return "noConstraint"
	case MustNotExist:
		return "mustNotExist"
	case MustAlreadyExist:
		return "mustAlreadyExist"
	case MustExistInBoth:
		return "mustExistInBoth"
	default:
		return fmt.Sprintf("PKeyConstraint(%d)", int(c))
	}
}

// AttrClass distinguishes the handling of an attribute per §3
// "Attribute Classes". The classes are mutually exclusive.
type AttrClass int

// The four attribute classes.
const (
	Regular AttrClass = iota
	Local
	Secret
	CacheOnly
)

func (c AttrClass) String() string {
	switch c {
	case Regular:
		return "regular"
	case Local:
		return "local"
	case Secret:
		return "secret"
	case CacheOnly:
		return "cacheonly"
	default:
		return fmt.Sprintf("AttrClass(%d)", int(c))
	}
}

// ForeignKey declares that LocalAttr of the owning type references
// ParentAttr of ParentType.
type ForeignKey struct {
	LocalAttr  string
	ParentType string
	ParentAttr string
}

// AttrMapping is the per-source description of how a local attribute
// is produced. Exactly one of Expr or Concat is set: Expr holds an
// expression to be compiled by the projection engine (C3); Concat
// holds an ordered list of remote attribute names to be concatenated
// into a list per §4.1's "mapping value is a list of remote names"
// rule.
type AttrMapping struct {
	Expr   string
	Concat []string
}

// IsConcat reports whether m is a remote-name concatenation mapping
// rather than an expression.
func (m AttrMapping) IsConcat() bool { return len(m.Concat) > 0 }

// SourceBinding is the per (Type, Source) configuration of §3 "Source
// Binding".
type SourceBinding struct {
	Name string

	FetchQuery string
	CommitOne  string // optional operation name/template; empty if unset
	CommitAll  string // optional operation name/template; empty if unset

	// Mapping is local attribute name -> projection mapping.
	Mapping map[string]AttrMapping

	CacheOnlyAttrs map[string]bool
	SecretAttrs    map[string]bool
	LocalAttrs     map[string]bool

	PKeyMergeConstraint PKeyConstraint
	MergeConstraints    []string // advanced predicates evaluated after this source's merge step
}

// ClassOf returns the attribute class that this binding assigns to
// attr, defaulting to Regular.
func (b SourceBinding) ClassOf(attr string) AttrClass {
	switch {
	case b.SecretAttrs[attr]:
		return Secret
	case b.CacheOnlyAttrs[attr]:
		return CacheOnly
	case b.LocalAttrs[attr]:
		return Local
	default:
		return Regular
	}
}

// EntityType is a named category of records (§3 "Entity Type").
type EntityType struct {
	Name string

	// PrimaryKey is an ordered list of attribute names; a single
	// element is a simple key, more than one is a composite key.
	PrimaryKey []string

	ForeignKeys []ForeignKey

	StringifyTemplate string

	OnMergeConflict MergeConflict

	// IntegrityConstraints are boolean predicate expressions evaluated
	// by the Integrity Evaluation component (C6) after all types have
	// been merged.
	IntegrityConstraints []string

	// Sources is ordered; declaration order determines merge
	// tie-breaks (§4.3 "declaration order of sources determines
	// 'first'") and commit-hook invocation order (§4.6, §9 open
	// question: source-declaration order assumed).
	Sources []SourceBinding
}

// AllAttrNames returns the union of every attribute name mentioned
// across the type's source bindings, used by the evolver (C10) to
// compute symmetric differences between schema revisions.
func (t EntityType) AllAttrNames() map[string]bool {
	names := make(map[string]bool)
	for _, pk := range t.PrimaryKey {
		names[pk] = true
	}
	for _, src := range t.Sources {
		for attr := range src.Mapping {
			names[attr] = true
		}
	}
	return names
}

// AttrClasses returns the type-wide attribute class of every attribute
// mentioned across the type's sources: the first source (in
// declaration order) that assigns an attribute a non-Regular class
// determines it for the whole type, since an attribute's handling
// (cached vs. not, emitted vs. not) must be type-global even though it
// is declared per source binding.
func (t EntityType) AttrClasses() map[string]AttrClass {
	classes := make(map[string]AttrClass)
	for _, src := range t.Sources {
		for attr := range src.Mapping {
			if _, ok := classes[attr]; ok {
				continue
			}
			classes[attr] = src.ClassOf(attr)
		}
	}
	return classes
}

// Schema is the full, versioned datamodel (C2). Types are declared in
// a total order that fixes apply order (adds/modifies) and its
// reverse (removes), per §3.
type Schema struct {
	Revision int
	Types    []EntityType
}

// TypeNames returns the declared type names in declaration order.
func (s *Schema) TypeNames() []string {
	names := make([]string, len(s.Types))
	for i, t := range s.Types {
		names[i] = t.Name
	}
	return names
}

// ByName returns the EntityType with the given name, or ok=false.
func (s *Schema) ByName(name string) (EntityType, bool) {
	for _, t := range s.Types {
		if t.Name == name {
			return t, true
		}
	}
	return EntityType{}, false
}

// IndexOf returns the declaration-order position of the named type, or
// -1 if not found. Validate uses it to check that a foreign key's
// parent type is declared.
func (s *Schema) IndexOf(name string) int {
	for i, t := range s.Types {
		if t.Name == name {
			return i
		}
	}
	return -1
}

// Validate checks the structural invariants of §3 that can be
// verified statically, at configuration-load time: foreign keys must
// reference a declared parent type and primary keys must be
// non-empty. merge_constraints and integrity_constraints expressions
// are not inspected, so a constraint that refers to a type declared
// later than its own is not rejected here.
func (s *Schema) Validate() error {
	seen := make(map[string]bool, len(s.Types))
	for _, t := range s.Types {
		if t.Name == "" {
			return errors.New("dataschema: entity type with empty name")
		}
		if seen[t.Name] {
			return errors.Errorf("dataschema: duplicate entity type %q", t.Name)
		}
		seen[t.Name] = true
		if len(t.PrimaryKey) == 0 {
			return errors.Errorf("dataschema: type %q declares no primary key", t.Name)
		}
		if len(t.Sources) == 0 {
			return errors.Errorf("dataschema: type %q declares no sources", t.Name)
		}
	}

	for i, t := range s.Types {
		for _, fk := range t.ForeignKeys {
			parentIdx := s.IndexOf(fk.ParentType)
			if parentIdx < 0 {
				return errors.Errorf(
					"dataschema: type %q foreign key %q references undeclared parent type %q",
					t.Name, fk.LocalAttr, fk.ParentType)
			}
		}
		for _, src := range t.Sources {
			for attr, mapping := range src.Mapping {
				classes := 0
				if src.SecretAttrs[attr] {
					classes++
				}
				if src.CacheOnlyAttrs[attr] {
					classes++
				}
				if src.LocalAttrs[attr] {
					classes++
				}
				if classes > 1 {
					return errors.Errorf(
						"dataschema: type %q source %q attribute %q belongs to more than one attribute class",
						t.Name, src.Name, attr)
				}
				if mapping.Expr == "" && len(mapping.Concat) == 0 {
					return errors.Errorf(
						"dataschema: type %q source %q attribute %q has an empty mapping",
						t.Name, src.Name, attr)
				}
			}
		}
		_ = i
	}
	return nil
}
