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

import "github.com/pkg/errors"

func errUnknownScope(scope string) error {
	return errors.Errorf("projection: unknown reference scope %q", scope)
}

// node is the sealed expression-AST interface. Compiling an
// expression once per cycle and reusing the node tree across rows is
// what "compiles each local-attribute expression once per cycle"
// (§4.1) refers to.
type node interface{ isNode() }

// refNode reads an attribute out of the binding environment: either
// the remote row (`remote.X`), the previously cached object
// (`cached.X`), or a named scope from Env.Extra (`_SELF.X`).
type refNode struct {
	scope string // "remote", "cached" or an Env.Extra key
	attr  string
}

func (refNode) isNode() {}

// litNode is a string or numeric literal.
type litNode struct {
	isNumber bool
	str      string
	num      float64
}

func (litNode) isNode() {}

// filterNode applies a named, registered filter to its input
// argument node, with additional literal/ref arguments.
type filterNode struct {
	input node
	name  string
	args  []node
}

func (filterNode) isNode() {}

// validateScopes walks n and reports an error if any refNode uses a
// scope not present in allowed.
func validateScopes(n node, allowed map[string]bool) error {
	switch t := n.(type) {
	case refNode:
		if !allowed[t.scope] {
			return errUnknownScope(t.scope)
		}
	case filterNode:
		if err := validateScopes(t.input, allowed); err != nil {
			return err
		}
		for _, a := range t.args {
			if err := validateScopes(a, allowed); err != nil {
				return err
			}
		}
	}
	return nil
}
