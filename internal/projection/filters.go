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

package projection

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Filter is a pure, deterministic function over an input Value and
// zero or more argument Values. Per §4.1, a filter that cannot
// compute a value must return a recoverable error, which aborts
// projection for the row being processed -- never a panic, never a
// mutation of its input.
type Filter func(in value.Value, args []value.Value) (value.Value, error)

// Registry is a named set of Filters available to compiled
// expressions. It is safe for concurrent read-only use once built;
// registries are normally built once at startup via NewDefaultRegistry
// and shared across projection calls.
type Registry struct {
	filters map[string]Filter
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{filters: make(map[string]Filter)}
}

// Register adds or replaces the named filter.
func (r *Registry) Register(name string, f Filter) {
	r.filters[name] = f
}

// Lookup returns the named filter, or ok=false.
func (r *Registry) Lookup(name string) (Filter, bool) {
	f, ok := r.filters[name]
	return f, ok
}

// NewDefaultRegistry returns the built-in filter set described by
// §4.1: hashing, crypto, regex, and list-splitting filters.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("lower", func(in value.Value, _ []value.Value) (value.Value, error) {
		s, ok := in.AsString()
		if !ok {
			return value.Value{}, errors.New("lower: input is not a string")
		}
		return value.String(strings.ToLower(s)), nil
	})

	r.Register("upper", func(in value.Value, _ []value.Value) (value.Value, error) {
		s, ok := in.AsString()
		if !ok {
			return value.Value{}, errors.New("upper: input is not a string")
		}
		return value.String(strings.ToUpper(s)), nil
	})

	r.Register("trim", func(in value.Value, _ []value.Value) (value.Value, error) {
		s, ok := in.AsString()
		if !ok {
			return value.Value{}, errors.New("trim: input is not a string")
		}
		return value.String(strings.TrimSpace(s)), nil
	})

	r.Register("sha256", func(in value.Value, _ []value.Value) (value.Value, error) {
		s, ok := in.AsString()
		if !ok {
			return value.Value{}, errors.New("sha256: input is not a string")
		}
		sum := sha256.Sum256([]byte(s))
		return value.String(hex.EncodeToString(sum[:])), nil
	})

	// bcrypt is used for secret attributes (e.g. password hashes)
	// projected from a plaintext source column; it is never applied
	// to a value read back from the cache, since secret attributes
	// are never cached (§3 "Attribute Classes").
	r.Register("bcrypt", func(in value.Value, args []value.Value) (value.Value, error) {
		s, ok := in.AsString()
		if !ok {
			return value.Value{}, errors.New("bcrypt: input is not a string")
		}
		cost := bcrypt.DefaultCost
		if len(args) > 0 {
			if f, ok := args[0].AsFloat(); ok {
				cost = int(f)
			}
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(s), cost)
		if err != nil {
			return value.Value{}, errors.Wrap(err, "bcrypt")
		}
		return value.String(string(hashed)), nil
	})

	r.Register("regex_match", func(in value.Value, args []value.Value) (value.Value, error) {
		s, ok := in.AsString()
		if !ok {
			return value.Value{}, errors.New("regex_match: input is not a string")
		}
		if len(args) != 1 {
			return value.Value{}, errors.New("regex_match: expects exactly one pattern argument")
		}
		pattern, ok := args[0].AsString()
		if !ok {
			return value.Value{}, errors.New("regex_match: pattern argument is not a string")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return value.Value{}, errors.Wrap(err, "regex_match: invalid pattern")
		}
		m := re.FindString(s)
		return value.String(m), nil
	})

	r.Register("regex_replace", func(in value.Value, args []value.Value) (value.Value, error) {
		s, ok := in.AsString()
		if !ok {
			return value.Value{}, errors.New("regex_replace: input is not a string")
		}
		if len(args) != 2 {
			return value.Value{}, errors.New("regex_replace: expects pattern and replacement arguments")
		}
		pattern, ok1 := args[0].AsString()
		repl, ok2 := args[1].AsString()
		if !ok1 || !ok2 {
			return value.Value{}, errors.New("regex_replace: arguments must be strings")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return value.Value{}, errors.Wrap(err, "regex_replace: invalid pattern")
		}
		return value.String(re.ReplaceAllString(s, repl)), nil
	})

	r.Register("split", func(in value.Value, args []value.Value) (value.Value, error) {
		s, ok := in.AsString()
		if !ok {
			return value.Value{}, errors.New("split: input is not a string")
		}
		sep := ","
		if len(args) > 0 {
			if a, ok := args[0].AsString(); ok {
				sep = a
			}
		}
		parts := strings.Split(s, sep)
		items := make([]value.Value, len(parts))
		for i, p := range parts {
			items[i] = value.String(p)
		}
		return value.List(items), nil
	})

	// contains reports whether in (expected to be a list) holds a
	// value equal to its single argument -- used by
	// integrity_constraints to test membership against a peer type's
	// attribute-union or "<TypeName>_pkeys" binding.
	r.Register("contains", func(in value.Value, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, errors.New("contains: expects exactly one argument")
		}
		list, ok := in.AsList()
		if !ok {
			return value.Value{}, errors.New("contains: input is not a list")
		}
		for _, item := range list {
			if item.Equal(args[0]) {
				return value.Bool(true), nil
			}
		}
		return value.Bool(false), nil
	})

	r.Register("not_null", func(in value.Value, _ []value.Value) (value.Value, error) {
		return value.Bool(!in.IsNull()), nil
	})

	r.Register("equals", func(in value.Value, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return value.Value{}, errors.New("equals: expects exactly one argument")
		}
		return value.Bool(in.Equal(args[0])), nil
	})

	r.Register("default", func(in value.Value, args []value.Value) (value.Value, error) {
		if !in.IsNull() {
			return in, nil
		}
		if len(args) != 1 {
			return value.Value{}, errors.New("default: expects exactly one fallback argument")
		}
		return args[0], nil
	})

	return r
}
