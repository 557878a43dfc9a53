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

package errorqueue

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

func ev(op cache.Op, id int64) emitter.Event {
	return emitter.Event{Type: "user", Op: op, PKey: value.PKey{value.Int(id)}}
}

func evAttrs(op cache.Op, id int64, attrs value.AttrMap) emitter.Event {
	e := ev(op, id)
	e.Attrs = attrs
	return e
}

func TestPushDisabledKeepsEveryEntry(t *testing.T) {
	q := New(Disabled)
	pk := value.PKey{value.Int(1)}
	q.Push("user", pk, ev(cache.Modified, 1), errors.New("boom"), false)
	q.Push("user", pk, ev(cache.Modified, 1), errors.New("boom again"), false)
	require.Equal(t, 2, q.Len())
}

func TestPushConservativeCoalescesSameOp(t *testing.T) {
	q := New(Conservative)
	pk := value.PKey{value.Int(1)}
	q.Push("user", pk, ev(cache.Modified, 1), errors.New("a"), false)
	q.Push("user", pk, ev(cache.Modified, 1), errors.New("b"), false)
	require.Equal(t, 1, q.Len())
	require.Equal(t, 2, q.Pending()[0].Attempts)
}

func TestPushConservativeDoesNotCoalesceAddedThenRemoved(t *testing.T) {
	q := New(Conservative)
	pk := value.PKey{value.Int(1)}
	q.Push("user", pk, ev(cache.Added, 1), errors.New("a"), false)
	q.Push("user", pk, ev(cache.Removed, 1), errors.New("b"), false)
	require.Equal(t, 2, q.Len())
}

func TestPushConservativeAddedThenModifiedMergesToAdded(t *testing.T) {
	// §8 Scenario 4: added(1,{a:1}) then modified(1,{a:2,b:3}) collapses
	// into a single added carrying the merged attributes.
	q := New(Conservative)
	pk := value.PKey{value.Int(1)}
	q.Push("user", pk, evAttrs(cache.Added, 1, value.AttrMap{"a": value.Int(1)}), errors.New("a"), false)
	q.Push("user", pk, evAttrs(cache.Modified, 1, value.AttrMap{"a": value.Int(2), "b": value.Int(3)}), errors.New("b"), false)

	require.Equal(t, 1, q.Len())
	p := q.Pending()[0]
	require.Equal(t, cache.Added, p.Event.Op)
	a, _ := p.Event.Attrs["a"].AsInt()
	b, _ := p.Event.Attrs["b"].AsInt()
	require.EqualValues(t, 2, a)
	require.EqualValues(t, 3, b)
	require.Equal(t, 2, p.Attempts)
}

func TestPushMaximumAddedThenRemovedAnnihilatesBoth(t *testing.T) {
	// §8 Scenario 5: added followed by removed leaves the queue empty.
	q := New(Maximum)
	pk := value.PKey{value.Int(1)}
	q.Push("user", pk, ev(cache.Added, 1), errors.New("a"), false)
	q.Push("user", pk, ev(cache.Removed, 1), errors.New("b"), false)
	require.Equal(t, 0, q.Len())
	require.Empty(t, q.Pending())
}

func TestPushMaximumRemovedThenAddedBecomesModified(t *testing.T) {
	q := New(Maximum)
	pk := value.PKey{value.Int(1)}
	q.Push("user", pk, ev(cache.Removed, 1), errors.New("a"), false)
	q.Push("user", pk, evAttrs(cache.Added, 1, value.AttrMap{"a": value.Int(9)}), errors.New("b"), false)

	require.Equal(t, 1, q.Len())
	p := q.Pending()[0]
	require.Equal(t, cache.Modified, p.Event.Op)
	a, _ := p.Event.Attrs["a"].AsInt()
	require.EqualValues(t, 9, a)
}

func TestPushMaximumModifiedThenRemovedKeepsOnlyRemoved(t *testing.T) {
	q := New(Maximum)
	pk := value.PKey{value.Int(1)}
	q.Push("user", pk, ev(cache.Modified, 1), errors.New("a"), false)
	q.Push("user", pk, ev(cache.Removed, 1), errors.New("b"), false)

	require.Equal(t, 1, q.Len())
	p := q.Pending()[0]
	require.Equal(t, cache.Removed, p.Event.Op)
	require.Equal(t, 2, p.Attempts)
}

func TestPushDoesNotMergeAfterPartiallyProcessedPredecessor(t *testing.T) {
	q := New(Maximum)
	pk := value.PKey{value.Int(1)}
	q.Push("user", pk, ev(cache.Added, 1), errors.New("a"), true)
	q.Push("user", pk, ev(cache.Removed, 1), errors.New("b"), false)

	require.Equal(t, 2, q.Len())
}

func TestRetryAllStopsAtFirstFailurePerKey(t *testing.T) {
	q := New(Disabled)
	pk := value.PKey{value.Int(1)}
	q.Push("user", pk, ev(cache.Modified, 1), errors.New("a"), false)
	q.Push("user", pk, ev(cache.Modified, 1), errors.New("b"), false)
	q.Push("user", pk, ev(cache.Modified, 1), errors.New("c"), false)

	calls := 0
	drained := q.RetryAll(context.Background(), func(_ context.Context, e Entry) error {
		calls++
		if calls == 2 {
			return errors.New("still failing")
		}
		return nil
	})
	require.Equal(t, 1, drained)
	require.Equal(t, 2, q.Len())
}

func TestRetryAllDrainsFullyAcrossKeys(t *testing.T) {
	q := New(Disabled)
	q.Push("user", value.PKey{value.Int(1)}, ev(cache.Modified, 1), errors.New("a"), false)
	q.Push("group", value.PKey{value.Int(2)}, ev(cache.Modified, 2), errors.New("b"), false)

	drained := q.RetryAll(context.Background(), func(_ context.Context, e Entry) error { return nil })
	require.Equal(t, 2, drained)
	require.Equal(t, 0, q.Len())
}

func TestDropRemovesKeyEntirely(t *testing.T) {
	q := New(Disabled)
	pk := value.PKey{value.Int(1)}
	q.Push("user", pk, ev(cache.Modified, 1), errors.New("a"), false)
	q.Drop("user", pk)
	require.Equal(t, 0, q.Len())
}
