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

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// The wire representation of a Schema kept deliberately separate from
// the domain types above: the YAML document spells enums as lower-
// case words ("use_cached_entry", "must_not_exist") rather than Go
// identifiers, and Load converts between the two so EntityType et al.
// never need yaml struct tags of their own.

type wireAttrMapping struct {
	Expr   string   `yaml:"expr,omitempty"`
	Concat []string `yaml:"concat,omitempty"`
}

type wireSourceBinding struct {
	Name                string                     `yaml:"name"`
	FetchQuery          string                     `yaml:"fetch_query"`
	CommitOne           string                     `yaml:"commit_one,omitempty"`
	CommitAll           string                     `yaml:"commit_all,omitempty"`
	Mapping             map[string]wireAttrMapping `yaml:"mapping"`
	CacheOnlyAttrs      []string                   `yaml:"cacheonly_attrs,omitempty"`
	SecretAttrs         []string                   `yaml:"secret_attrs,omitempty"`
	LocalAttrs          []string                   `yaml:"local_attrs,omitempty"`
	PKeyMergeConstraint string                     `yaml:"pkey_merge_constraint,omitempty"`
	MergeConstraints    []string                   `yaml:"merge_constraints,omitempty"`
}

type wireForeignKey struct {
	LocalAttr  string `yaml:"local_attr"`
	ParentType string `yaml:"parent_type"`
	ParentAttr string `yaml:"parent_attr"`
}

type wireEntityType struct {
	Name                 string              `yaml:"name"`
	PrimaryKey           []string            `yaml:"primary_key"`
	ForeignKeys          []wireForeignKey    `yaml:"foreign_keys,omitempty"`
	StringifyTemplate    string              `yaml:"stringify_template,omitempty"`
	OnMergeConflict      string              `yaml:"on_merge_conflict,omitempty"`
	IntegrityConstraints []string            `yaml:"integrity_constraints,omitempty"`
	Sources              []wireSourceBinding `yaml:"sources"`
}

type wireSchema struct {
	Revision int              `yaml:"revision"`
	Types    []wireEntityType `yaml:"types"`
}

func parseMergeConflict(s string) (MergeConflict, error) {
	switch s {
	case "", "use_cached_entry":
		return UseCachedEntry, nil
	case "keep_first_value":
		return KeepFirstValue, nil
	default:
		return 0, errors.Errorf("dataschema: unknown on_merge_conflict %q", s)
	}
}

func parsePKeyConstraint(s string) (PKeyConstraint, error) {
	switch s {
	case "", "no_constraint":
		return NoConstraint, nil
	case "must_not_exist":
		return MustNotExist, nil
	case "must_already_exist":
		return MustAlreadyExist, nil
	case "must_exist_in_both":
		return MustExistInBoth, nil
	default:
		return 0, errors.Errorf("dataschema: unknown pkey_merge_constraint %q", s)
	}
}

func toStringSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func (w wireSourceBinding) toDomain() (SourceBinding, error) {
	constraint, err := parsePKeyConstraint(w.PKeyMergeConstraint)
	if err != nil {
		return SourceBinding{}, err
	}
	mapping := make(map[string]AttrMapping, len(w.Mapping))
	for attr, m := range w.Mapping {
		mapping[attr] = AttrMapping{Expr: m.Expr, Concat: m.Concat}
	}
	return SourceBinding{
		Name:                w.Name,
		FetchQuery:          w.FetchQuery,
		CommitOne:           w.CommitOne,
		CommitAll:           w.CommitAll,
		Mapping:             mapping,
		CacheOnlyAttrs:      toStringSet(w.CacheOnlyAttrs),
		SecretAttrs:         toStringSet(w.SecretAttrs),
		LocalAttrs:          toStringSet(w.LocalAttrs),
		PKeyMergeConstraint: constraint,
		MergeConstraints:    w.MergeConstraints,
	}, nil
}

func (w wireEntityType) toDomain() (EntityType, error) {
	conflict, err := parseMergeConflict(w.OnMergeConflict)
	if err != nil {
		return EntityType{}, err
	}
	fks := make([]ForeignKey, len(w.ForeignKeys))
	for i, fk := range w.ForeignKeys {
		fks[i] = ForeignKey{LocalAttr: fk.LocalAttr, ParentType: fk.ParentType, ParentAttr: fk.ParentAttr}
	}
	sources := make([]SourceBinding, len(w.Sources))
	for i, s := range w.Sources {
		sb, err := s.toDomain()
		if err != nil {
			return EntityType{}, errors.Wrapf(err, "dataschema: type %q source %q", w.Name, s.Name)
		}
		sources[i] = sb
	}
	return EntityType{
		Name:                 w.Name,
		PrimaryKey:           w.PrimaryKey,
		ForeignKeys:          fks,
		StringifyTemplate:    w.StringifyTemplate,
		OnMergeConflict:      conflict,
		IntegrityConstraints: w.IntegrityConstraints,
		Sources:              sources,
	}, nil
}

// Load reads a Schema from a YAML document, rejecting unknown keys so
// a typo in a datamodel file fails at startup rather than silently
// dropping a constraint.
func Load(path string) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "dataschema: open")
	}
	defer f.Close()

	var w wireSchema
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&w); err != nil {
		return nil, errors.Wrap(err, "dataschema: decode")
	}

	types := make([]EntityType, len(w.Types))
	for i, t := range w.Types {
		et, err := t.toDomain()
		if err != nil {
			return nil, err
		}
		types[i] = et
	}
	return &Schema{Revision: w.Revision, Types: types}, nil
}
