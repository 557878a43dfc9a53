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

package fkpolicy

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/errorqueue"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

func testSchema() *dataschema.Schema {
	return &dataschema.Schema{
		Types: []dataschema.EntityType{
			{Name: "group", PrimaryKey: []string{"id"}},
			{
				Name:       "membership",
				PrimaryKey: []string{"id"},
				ForeignKeys: []dataschema.ForeignKey{
					{LocalAttr: "group_id", ParentType: "group", ParentAttr: "id"},
				},
			},
		},
	}
}

// queuesWithErroredChild returns an error queue map where "membership"
// has one pending entry, parked because it failed, referencing
// groupID via its group_id foreign key.
func queuesWithErroredChild(groupID int64) map[string]*errorqueue.Queue {
	q := errorqueue.New(errorqueue.Disabled)
	q.Push("membership", value.PKey{value.Int(1)}, emitter.Event{
		Type: "membership", Op: cache.Added, PKey: value.PKey{value.Int(1)},
		Attrs: value.AttrMap{"id": value.Int(1), "group_id": value.Int(groupID)},
	}, errors.New("boom"), false)
	return map[string]*errorqueue.Queue{"membership": q}
}

// queuesWithErroredParent returns an error queue map where "group" has
// one pending entry for groupID.
func queuesWithErroredParent(groupID int64) map[string]*errorqueue.Queue {
	q := errorqueue.New(errorqueue.Disabled)
	q.Push("group", value.PKey{value.Int(groupID)}, emitter.Event{
		Type: "group", Op: cache.Modified, PKey: value.PKey{value.Int(groupID)},
	}, errors.New("boom"), false)
	return map[string]*errorqueue.Queue{"group": q}
}

func TestEvaluateDisabledNeverBlocks(t *testing.T) {
	e := Engine{Schema: testSchema(), Policy: Disabled}
	v := e.Evaluate("group", cache.Removed, value.PKey{value.Int(1)}, nil, queuesWithErroredChild(1))
	require.False(t, v.Blocked)
}

func TestEvaluateOnRemoveEventBlocksParentWithErroredChild(t *testing.T) {
	e := Engine{Schema: testSchema(), Policy: OnRemoveEvent}
	v := e.Evaluate("group", cache.Removed, value.PKey{value.Int(1)}, nil, queuesWithErroredChild(1))
	require.True(t, v.Blocked)
}

func TestEvaluateOnRemoveEventAllowsParentWithoutErroredChild(t *testing.T) {
	e := Engine{Schema: testSchema(), Policy: OnRemoveEvent}
	v := e.Evaluate("group", cache.Removed, value.PKey{value.Int(2)}, nil, queuesWithErroredChild(1))
	require.False(t, v.Blocked)
}

func TestEvaluateOnRemoveEventBlocksChildReferencingErroredParent(t *testing.T) {
	// §4.11: on_remove_event also blocks a child event whose foreign
	// key points at a parent currently stuck in the error queue,
	// regardless of the child event's own op.
	e := Engine{Schema: testSchema(), Policy: OnRemoveEvent}
	attrs := value.AttrMap{"id": value.Int(2), "group_id": value.Int(1)}
	v := e.Evaluate("membership", cache.Added, value.PKey{value.Int(2)}, attrs, queuesWithErroredParent(1))
	require.True(t, v.Blocked)
}

func TestEvaluateOnRemoveEventAllowsChildReferencingHealthyParent(t *testing.T) {
	e := Engine{Schema: testSchema(), Policy: OnRemoveEvent}
	attrs := value.AttrMap{"id": value.Int(2), "group_id": value.Int(1)}
	v := e.Evaluate("membership", cache.Added, value.PKey{value.Int(2)}, attrs, queuesWithErroredParent(99))
	require.False(t, v.Blocked)
}

func TestEvaluateOnEveryEventBlocksChildReferencingErroredParent(t *testing.T) {
	e := Engine{Schema: testSchema(), Policy: OnEveryEvent}
	attrs := value.AttrMap{"id": value.Int(2), "group_id": value.Int(1)}
	v := e.Evaluate("membership", cache.Modified, value.PKey{value.Int(2)}, attrs, queuesWithErroredParent(1))
	require.True(t, v.Blocked)
}

func TestEvaluateOnEveryEventAllowsChildReferencingHealthyParent(t *testing.T) {
	e := Engine{Schema: testSchema(), Policy: OnEveryEvent}
	attrs := value.AttrMap{"id": value.Int(2), "group_id": value.Int(1)}
	v := e.Evaluate("membership", cache.Added, value.PKey{value.Int(2)}, attrs, map[string]*errorqueue.Queue{})
	require.False(t, v.Blocked)
}

func TestEvaluateScenario6BlocksNewChildOfErroredParent(t *testing.T) {
	// §8 Scenario 6: Users/1 sits in the error queue; a new
	// GroupsMembers(gid=5,uid=1) event referencing it is blocked under
	// on_every_event.
	schema := &dataschema.Schema{
		Types: []dataschema.EntityType{
			{Name: "Users", PrimaryKey: []string{"id"}},
			{
				Name:       "GroupsMembers",
				PrimaryKey: []string{"gid", "uid"},
				ForeignKeys: []dataschema.ForeignKey{
					{LocalAttr: "uid", ParentType: "Users", ParentAttr: "id"},
				},
			},
		},
	}
	usersQueue := errorqueue.New(errorqueue.Disabled)
	usersQueue.Push("Users", value.PKey{value.Int(1)}, emitter.Event{
		Type: "Users", Op: cache.Modified, PKey: value.PKey{value.Int(1)},
	}, errors.New("boom"), false)
	errQueues := map[string]*errorqueue.Queue{"Users": usersQueue}

	e := Engine{Schema: schema, Policy: OnEveryEvent}
	attrs := value.AttrMap{"gid": value.Int(5), "uid": value.Int(1)}
	v := e.Evaluate("GroupsMembers", cache.Added, value.PKey{value.Int(5), value.Int(1)}, attrs, errQueues)
	require.True(t, v.Blocked)
}
