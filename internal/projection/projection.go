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
	"github.com/pkg/errors"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Env is the binding environment an expression is evaluated against:
// the remote row's attributes and a view of the previously cached
// object, per §4.1.
type Env struct {
	Remote value.AttrMap
	Cached value.AttrMap

	// Extra holds additional named scopes beyond remote/cached, used by
	// merge_constraints to bind "_SELF" (C5), and by
	// integrity_constraints to bind "_SELF", "<TypeName>" and
	// "<TypeName>_pkeys" (C6). Keys are scope names as they appear in
	// expressions.
	Extra map[string]value.AttrMap
}

func (e Env) lookup(scope, attr string) (value.Value, error) {
	var m value.AttrMap
	var known bool
	switch scope {
	case "remote":
		m, known = e.Remote, true
	case "cached":
		m, known = e.Cached, true
	default:
		m, known = e.Extra[scope]
		if !known {
			return value.Value{}, errors.Errorf("projection: unknown scope %q", scope)
		}
	}
	_ = known
	if m == nil {
		return value.Null(), nil
	}
	v, ok := m[attr]
	if !ok {
		return value.Null(), nil
	}
	return v, nil
}

func eval(n node, env Env, reg *Registry) (value.Value, error) {
	switch t := n.(type) {
	case refNode:
		return env.lookup(t.scope, t.attr)
	case litNode:
		if t.isNumber {
			return value.Float(t.num), nil
		}
		return value.String(t.str), nil
	case filterNode:
		in, err := eval(t.input, env, reg)
		if err != nil {
			return value.Value{}, err
		}
		f, ok := reg.Lookup(t.name)
		if !ok {
			return value.Value{}, errors.Errorf("projection: unregistered filter %q", t.name)
		}
		args := make([]value.Value, len(t.args))
		for i, a := range t.args {
			av, err := eval(a, env, reg)
			if err != nil {
				return value.Value{}, err
			}
			args[i] = av
		}
		out, err := f(in, args)
		if err != nil {
			return value.Value{}, errors.Wrapf(err, "projection: filter %q", t.name)
		}
		return out, nil
	default:
		return value.Value{}, errors.Errorf("projection: unknown node type %T", n)
	}
}

// Compiled is a parsed, reusable expression, per §4.1's "compiles each
// local-attribute expression once per cycle" requirement.
type Compiled struct {
	attr string
	n    node
}

// Compile parses a single local-attribute mapping into a reusable
// Compiled expression. Concat mappings (a list of remote names) have
// no expression tree; Project handles them directly.
func Compile(attr string, m dataschema.AttrMapping) (*Compiled, error) {
	if m.IsConcat() {
		return &Compiled{attr: attr}, nil
	}
	n, err := parseExpr(m.Expr)
	if err != nil {
		return nil, errors.Wrapf(err, "projection: compiling attribute %q", attr)
	}
	if err := validateScopes(n, map[string]bool{"remote": true, "cached": true}); err != nil {
		return nil, errors.Wrapf(err, "projection: compiling attribute %q", attr)
	}
	return &Compiled{attr: attr, n: n}, nil
}

// CompiledMapping compiles every attribute mapping of a source binding
// once, returning a reusable set of Compiled expressions keyed by
// local attribute name. It also retains the Concat mappings needed by
// Project.
type CompiledMapping struct {
	exprs  map[string]*Compiled
	concat map[string][]string
}

// CompileAll compiles every attribute in mapping.
func CompileAll(mapping map[string]dataschema.AttrMapping) (*CompiledMapping, error) {
	cm := &CompiledMapping{
		exprs:  make(map[string]*Compiled),
		concat: make(map[string][]string),
	}
	for attr, m := range mapping {
		if m.IsConcat() {
			cm.concat[attr] = m.Concat
			continue
		}
		c, err := Compile(attr, m)
		if err != nil {
			return nil, err
		}
		cm.exprs[attr] = c
	}
	return cm, nil
}

// EvalBool parses and evaluates a standalone boolean expression against
// env -- the same expression grammar used for attribute mappings, but
// invoked once per predicate rather than compiled and cached, since
// merge_constraints (C5) and integrity_constraints (C6) are evaluated
// at most once per row per cycle. A non-boolean result is an error: a
// constraint expression must reduce to a flag, typically via a
// comparison filter such as "equals" or "not_null".
func EvalBool(exprSrc string, env Env, reg *Registry) (bool, error) {
	n, err := parseExpr(exprSrc)
	if err != nil {
		return false, errors.Wrap(err, "projection: compiling constraint")
	}
	v, err := eval(n, env, reg)
	if err != nil {
		return false, err
	}
	b, ok := v.AsBool()
	if !ok {
		return false, errors.Errorf("projection: constraint %q did not evaluate to a boolean", exprSrc)
	}
	return b, nil
}

// Project evaluates every compiled mapping against one remote row,
// yielding the local attribute values for that row. Per §4.1, a
// concatenation mapping joins the non-null remote values in
// declaration order into a list, omitting the attribute entirely if
// the result would be an empty list. A filter error on any one
// attribute aborts projection for the whole row with a wrapped,
// recoverable error identifying which attribute failed -- callers
// (the merge step, C5) are expected to drop the row for this cycle
// and log the diagnostic, not to abort the run.
func Project(cm *CompiledMapping, env Env, reg *Registry) (value.AttrMap, error) {
	out := make(value.AttrMap, len(cm.exprs)+len(cm.concat))

	for attr, names := range cm.concat {
		var items []value.Value
		for _, remoteName := range names {
			v, ok := env.Remote[remoteName]
			if !ok || v.IsNull() {
				continue
			}
			items = append(items, v)
		}
		if len(items) == 0 {
			continue
		}
		out[attr] = value.List(items)
	}

	for attr, c := range cm.exprs {
		v, err := eval(c.n, env, reg)
		if err != nil {
			return nil, errors.Wrapf(err, "projection: row attribute %q", attr)
		}
		out[attr] = v
	}

	return out, nil
}
