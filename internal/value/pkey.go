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

package value

import "strings"

// PKey is an ordered tuple of attribute values identifying an Object
// within its type (§3 "Entity Type"). A PKey with a single element
// represents a simple primary key; longer tuples represent composite
// keys. Two PKeys with the same values in the same order are
// considered the same identity regardless of which Value constructor
// produced them.
type PKey []Value

// String returns a stable, human-readable rendering suitable for log
// messages and as a map key when a hashable representation is needed
// (PKey itself cannot be a Go map key because it contains a slice).
func (p PKey) String() string {
	var b strings.Builder
	for i, v := range p {
		if i > 0 {
			b.WriteByte('\x1f') // unit separator: never appears in legal attribute text
		}
		b.WriteString(v.SortKey())
	}
	return b.String()
}

// Equal reports whether p and o identify the same object.
func (p PKey) Equal(o PKey) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if !p[i].Equal(o[i]) {
			return false
		}
	}
	return true
}

// Clone returns a copy of p.
func (p PKey) Clone() PKey {
	cp := make(PKey, len(p))
	copy(cp, p)
	return cp
}
