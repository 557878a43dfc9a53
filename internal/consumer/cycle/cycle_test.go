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

package cycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/bus"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/apply"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/cycle"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/errorqueue"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/fkpolicy"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/initsync"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/schema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/trashbin"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

type fakeSub struct {
	batches [][]bus.Message
	acked   int
	naked   int
}

func (s *fakeSub) Fetch(context.Context, int) ([]bus.Message, error) {
	if len(s.batches) == 0 {
		return nil, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}
func (s *fakeSub) Close() error { return nil }

func msgFor(ev emitter.Event, sub *fakeSub) bus.Message {
	return bus.Message{
		Type: ev.Type, Event: ev,
		Ack: func() error { sub.acked++; return nil },
		Nak: func() error { sub.naked++; return nil },
	}
}

type fakeTarget struct {
	applied  []emitter.Event
	failOnce bool
}

func (f *fakeTarget) Apply(_ context.Context, _ string, ev emitter.Event) error {
	if f.failOnce {
		f.failOnce = false
		return errors.New("boom")
	}
	f.applied = append(f.applied, ev)
	return nil
}
func (f *fakeTarget) Close() error { return nil }

func testSchema() *dataschema.Schema {
	return &dataschema.Schema{Types: []dataschema.EntityType{{Name: "user", PrimaryKey: []string{"id"}}}}
}

func addEvent(id int64) emitter.Event {
	return emitter.Event{Type: "user", Op: cache.Added, PKey: value.PKey{value.Int(id)}, Attrs: value.AttrMap{"id": value.Int(id)}}
}

func newRunner(tgt *fakeTarget, sub *fakeSub) *cycle.Runner {
	a := &apply.Applier{
		Schema:   testSchema(),
		Cache:    schema.Cache{},
		Targets:  apply.SingleTarget{Target: tgt},
		FKPolicy: fkpolicy.Engine{Schema: testSchema(), Policy: fkpolicy.Disabled},
		Trash:    trashbin.New(time.Hour, ""),
	}
	return cycle.NewRunner(a, sub, initsync.New(false), errorqueue.Disabled)
}

func TestPollAppliesAndAcks(t *testing.T) {
	sub := &fakeSub{}
	tgt := &fakeTarget{}
	sub.batches = [][]bus.Message{{msgFor(addEvent(1), sub)}}
	r := newRunner(tgt, sub)

	n, err := r.Poll(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, sub.acked)
	require.Len(t, tgt.applied, 1)
}

func TestPollParksFailureInErrorQueueAndNaks(t *testing.T) {
	sub := &fakeSub{}
	tgt := &fakeTarget{failOnce: true}
	sub.batches = [][]bus.Message{{msgFor(addEvent(1), sub)}}
	r := newRunner(tgt, sub)

	n, err := r.Poll(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 1, sub.naked)
	require.Equal(t, 1, r.ErrQueues["user"].Len())
}

func TestRetryErrorsDrainsQueuedEntry(t *testing.T) {
	sub := &fakeSub{}
	tgt := &fakeTarget{failOnce: true}
	sub.batches = [][]bus.Message{{msgFor(addEvent(1), sub)}}
	r := newRunner(tgt, sub)
	_, err := r.Poll(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, r.ErrQueues["user"].Len())

	drained := r.RetryErrors(context.Background())
	require.Equal(t, 1, drained)
	require.Equal(t, 0, r.ErrQueues["user"].Len())
	require.Len(t, tgt.applied, 1)
}

func TestMarkerUpdatesInitsyncTracker(t *testing.T) {
	sub := &fakeSub{}
	tgt := &fakeTarget{}
	sub.batches = [][]bus.Message{{
		{Type: "user", IsMarker: true, MarkerValue: bus.InitsyncBegin, Ack: func() error { return nil }},
	}}
	r := newRunner(tgt, sub)
	_, err := r.Poll(context.Background(), 10)
	require.NoError(t, err)
	require.True(t, r.Initsync.InWindow("user"))
}

func TestSweepTrashFinalizesDeferredRemoval(t *testing.T) {
	sub := &fakeSub{}
	tgt := &fakeTarget{}
	r := newRunner(tgt, sub)

	sub.batches = [][]bus.Message{{msgFor(addEvent(1), sub)}}
	_, err := r.Poll(context.Background(), 10)
	require.NoError(t, err)

	removeEv := emitter.Event{Type: "user", Op: cache.Removed, PKey: value.PKey{value.Int(1)}}
	sub.batches = [][]bus.Message{{msgFor(removeEv, sub)}}
	_, err = r.Poll(context.Background(), 10)
	require.NoError(t, err)
	tgt.applied = nil

	finalized := r.SweepTrash(time.Now().Add(2 * time.Hour))
	require.Equal(t, 1, finalized)
	require.Len(t, tgt.applied, 1)
	require.Equal(t, cache.Removed, tgt.applied[0].Op)
}
