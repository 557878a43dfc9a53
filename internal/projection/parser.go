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

// parser is a minimal recursive-descent parser for the pipeline
// grammar:
//
//	expr    := operand ('|' filterCall)*
//	operand := ref | literal
//	ref     := SCOPE '.' IDENT
//	filterCall := IDENT '(' (arg (',' arg)*)? ')'
//	arg     := operand
//
// SCOPE is any identifier; which scope names are legal depends on the
// caller (Compile restricts attribute mappings to "remote"/"cached",
// EvalBool allows the wider constraint-binding scopes of C5/C6).
type parser struct {
	toks []token
	pos  int
}

func parseExpr(src string) (node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parsePipeline()
	if err != nil {
		return nil, err
	}
	if p.cur().kind != tokEOF {
		return nil, errors.Errorf("projection: unexpected trailing input near %q", p.cur().text)
	}
	return n, nil
}

func (p *parser) cur() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) parsePipeline() (node, error) {
	n, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokPipe {
		p.advance()
		if p.cur().kind != tokIdent {
			return nil, errors.Errorf("projection: expected filter name after '|'")
		}
		name := p.advance().text
		var args []node
		if p.cur().kind == tokLParen {
			p.advance()
			if p.cur().kind != tokRParen {
				for {
					a, err := p.parseOperand()
					if err != nil {
						return nil, err
					}
					args = append(args, a)
					if p.cur().kind == tokComma {
						p.advance()
						continue
					}
					break
				}
			}
			if p.cur().kind != tokRParen {
				return nil, errors.Errorf("projection: expected ')' closing filter %q arguments", name)
			}
			p.advance()
		}
		n = filterNode{input: n, name: name, args: args}
	}
	return n, nil
}

func (p *parser) parseOperand() (node, error) {
	switch p.cur().kind {
	case tokString:
		return litNode{str: p.advance().text}, nil
	case tokNumber:
		f, _ := parseNumberLiteral(p.cur().text)
		p.advance()
		return litNode{isNumber: true, num: f}, nil
	case tokIdent:
		scope := p.advance().text
		if p.cur().kind != tokDot {
			return nil, errors.Errorf("projection: expected '.' after %q", scope)
		}
		p.advance()
		if p.cur().kind != tokIdent {
			return nil, errors.Errorf("projection: expected attribute name after '%s.'", scope)
		}
		attr := p.advance().text
		return refNode{scope: scope, attr: attr}, nil
	default:
		return nil, errors.Errorf("projection: unexpected token %q", p.cur().text)
	}
}
