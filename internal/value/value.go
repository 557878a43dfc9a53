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

// Package value contains the typed attribute value model (C1):
// scalars, ordered lists, mappings, timestamps and byte blobs, with
// canonical equality and JSON-safe encoding so that the differ (C7)
// can compare cached and fetched attributes without caring about the
// originating datasource's native types.
package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Kind tags the variant held by a Value.
type Kind int

// The supported attribute kinds. Every Value carries exactly one.
const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindBytes
	KindTimestamp
	KindList
	KindMap
)

//go:generate go run golang.org/x/tools/cmd/stringer -type=Kind

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindTimestamp:
		return "timestamp"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// A Value is a tagged, comparable attribute value. The zero Value is
// KindNull. Values are meant to be copied by value; List and Map
// contents are shared slices/maps and must not be mutated in place
// once a Value has been handed to another component (C3's projection
// contract requires pure, non-mutating evaluation).
type Value struct {
	kind  Kind
	str   string
	num   float64
	isInt bool
	b     bool
	bytes []byte
	ts    time.Time
	list  []Value
	m     map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{kind: KindNull} }

// String wraps a string scalar.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int wraps an integer scalar.
func Int(i int64) Value { return Value{kind: KindInt, num: float64(i), isInt: true} }

// Float wraps a floating point scalar.
func Float(f float64) Value { return Value{kind: KindFloat, num: f} }

// Bool wraps a boolean scalar.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Bytes wraps an opaque byte blob. The input is copied.
func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, bytes: cp}
}

// Timestamp wraps a point in time. Per §6 the wire encoding is
// ISO-8601 without a timezone offset; callers are expected to have
// already normalized to UTC.
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, ts: t.UTC()} }

// List wraps an ordered sequence of values. The input is copied.
func List(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Map wraps an attribute-name to value mapping. The input is copied
// one level deep.
func Map(m map[string]Value) Value {
	cp := make(map[string]Value, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return Value{kind: KindMap, m: cp}
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the wrapped string, or ok=false if v is not a string.
func (v Value) AsString() (s string, ok bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsInt returns the wrapped integer, or ok=false if v is not an int.
func (v Value) AsInt() (i int64, ok bool) {
	if v.kind != KindInt {
		return 0, false
	}
	return int64(v.num), true
}

// AsFloat returns the wrapped float, coercing ints, or ok=false
// otherwise.
func (v Value) AsFloat() (f float64, ok bool) {
	if v.kind != KindFloat && v.kind != KindInt {
		return 0, false
	}
	return v.num, true
}

// AsBool returns the wrapped boolean, or ok=false if v is not a bool.
func (v Value) AsBool() (b bool, ok bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsBytes returns the wrapped byte blob, or ok=false otherwise. The
// returned slice is a copy.
func (v Value) AsBytes() (b []byte, ok bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	cp := make([]byte, len(v.bytes))
	copy(cp, v.bytes)
	return cp, true
}

// AsTimestamp returns the wrapped time, or ok=false otherwise.
func (v Value) AsTimestamp() (t time.Time, ok bool) {
	if v.kind != KindTimestamp {
		return time.Time{}, false
	}
	return v.ts, true
}

// AsList returns the wrapped slice, or ok=false otherwise. The
// returned slice is a copy.
func (v Value) AsList() (items []Value, ok bool) {
	if v.kind != KindList {
		return nil, false
	}
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// AsMap returns the wrapped mapping, or ok=false otherwise. The
// returned map is a copy.
func (v Value) AsMap() (m map[string]Value, ok bool) {
	if v.kind != KindMap {
		return nil, false
	}
	cp := make(map[string]Value, len(v.m))
	for k, val := range v.m {
		cp[k] = val
	}
	return cp, true
}

// Equal reports whether v and o are canonically equal. Lists compare
// element-wise in order; maps compare key-by-key regardless of
// insertion order; timestamps compare at second (not sub-second)
// resolution to match the wire format's lack of sub-second precision
// guarantees across datasource drivers.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		// An int and a float that represent the same number are still
		// considered distinct kinds: the differ (C7) treats a type
		// change on a sent attribute as a modification.
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindInt:
		return v.num == o.num
	case KindFloat:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindBytes:
		if len(v.bytes) != len(o.bytes) {
			return false
		}
		for i := range v.bytes {
			if v.bytes[i] != o.bytes[i] {
				return false
			}
		}
		return true
	case KindTimestamp:
		return v.ts.Truncate(time.Second).Equal(o.ts.Truncate(time.Second))
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, val := range v.m {
			ov, found := o.m[k]
			if !found || !val.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// SortKey returns a deterministic string usable to put Values of the
// same Kind into a total order. It is used by the merge step (C5) and
// by tests; it is not part of the wire format.
func (v Value) SortKey() string {
	switch v.kind {
	case KindList:
		keys := make([]string, len(v.list))
		for i, e := range v.list {
			keys[i] = e.SortKey()
		}
		return fmt.Sprintf("%v", keys)
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + v.m[k].SortKey()
		}
		return fmt.Sprintf("%v", parts)
	default:
		data, _ := v.MarshalJSON()
		return string(data)
	}
}

// wireValue is the JSON-safe representation described in §6: byte
// values are base64-encoded, lists are ordered arrays, mappings are
// attribute-name to value objects, timestamps are ISO-8601 without a
// timezone.
type wireValue struct {
	Kind  string            `json:"kind"`
	Str   *string           `json:"str,omitempty"`
	Num   *float64          `json:"num,omitempty"`
	Bool  *bool             `json:"bool,omitempty"`
	Bytes *string           `json:"bytes,omitempty"`
	Ts    *string           `json:"ts,omitempty"`
	List  []Value           `json:"list,omitempty"`
	Map   map[string]Value  `json:"map,omitempty"`
}

const isoNoZone = "2006-01-02T15:04:05"

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Kind: v.kind.String()}
	switch v.kind {
	case KindNull:
	case KindString:
		w.Str = &v.str
	case KindInt, KindFloat:
		w.Num = &v.num
	case KindBool:
		w.Bool = &v.b
	case KindBytes:
		enc := base64.StdEncoding.EncodeToString(v.bytes)
		w.Bytes = &enc
	case KindTimestamp:
		s := v.ts.UTC().Format(isoNoZone)
		w.Ts = &s
	case KindList:
		w.List = v.list
	case KindMap:
		w.Map = v.m
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return errors.WithStack(err)
	}
	switch w.Kind {
	case "", "null":
		*v = Null()
	case "string":
		if w.Str == nil {
			return errors.Errorf("value: missing str for kind string")
		}
		*v = String(*w.Str)
	case "int":
		if w.Num == nil {
			return errors.Errorf("value: missing num for kind int")
		}
		*v = Int(int64(*w.Num))
	case "float":
		if w.Num == nil {
			return errors.Errorf("value: missing num for kind float")
		}
		*v = Float(*w.Num)
	case "bool":
		if w.Bool == nil {
			return errors.Errorf("value: missing bool for kind bool")
		}
		*v = Bool(*w.Bool)
	case "bytes":
		if w.Bytes == nil {
			return errors.Errorf("value: missing bytes for kind bytes")
		}
		raw, err := base64.StdEncoding.DecodeString(*w.Bytes)
		if err != nil {
			return errors.WithStack(err)
		}
		*v = Bytes(raw)
	case "timestamp":
		if w.Ts == nil {
			return errors.Errorf("value: missing ts for kind timestamp")
		}
		t, err := time.Parse(isoNoZone, *w.Ts)
		if err != nil {
			return errors.WithStack(err)
		}
		*v = Timestamp(t)
	case "list":
		*v = List(w.List)
	case "map":
		*v = Map(w.Map)
	default:
		return errors.Errorf("value: unknown kind %q", w.Kind)
	}
	return nil
}

// AttrMap is the attribute-name to Value mapping used throughout the
// producer/consumer pipeline.
type AttrMap = map[string]Value

// CloneAttrMap returns a shallow copy of m suitable for handing to
// code that must not observe mutations made by its caller (C3's "never
// mutates inputs" contract).
func CloneAttrMap(m AttrMap) AttrMap {
	cp := make(AttrMap, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
