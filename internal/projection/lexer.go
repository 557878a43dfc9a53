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

// Package projection implements the per-source attribute projection
// expression language (C3): a small, sandboxed interpreter over a
// fixed filter registry and the C1 value model. There is no arbitrary
// code execution -- the grammar has no loops, no function
// definitions, and no host calls other than registered filters.
package projection

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokDot
	tokPipe
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
}

// lex splits an expression into tokens. The grammar is intentionally
// tiny: identifiers, dotted paths, string/number literals, and the
// punctuation needed for `remote.attr | filter(arg, "lit")` pipelines.
func lex(src string) ([]token, error) {
	var toks []token
	r := []rune(src)
	i := 0
	for i < len(r) {
		c := r[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n':
			i++
		case c == '.':
			toks = append(toks, token{tokDot, "."})
			i++
		case c == '|':
			toks = append(toks, token{tokPipe, "|"})
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '"' || c == '\'':
			quote := c
			j := i + 1
			var b strings.Builder
			for j < len(r) && r[j] != quote {
				if r[j] == '\\' && j+1 < len(r) {
					j++
				}
				b.WriteRune(r[j])
				j++
			}
			if j >= len(r) {
				return nil, errors.Errorf("projection: unterminated string literal at %d", i)
			}
			toks = append(toks, token{tokString, b.String()})
			i = j + 1
		case isIdentStart(c):
			j := i + 1
			for j < len(r) && isIdentPart(r[j]) {
				j++
			}
			toks = append(toks, token{tokIdent, string(r[i:j])})
			i = j
		case c >= '0' && c <= '9' || (c == '-' && i+1 < len(r) && r[i+1] >= '0' && r[i+1] <= '9'):
			j := i + 1
			for j < len(r) && (r[j] >= '0' && r[j] <= '9' || r[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, string(r[i:j])})
			i = j
		default:
			return nil, errors.Errorf("projection: unexpected character %q at %d", c, i)
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

func isIdentStart(c rune) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c rune) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func parseNumberLiteral(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}
