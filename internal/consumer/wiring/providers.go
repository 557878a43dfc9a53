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

// Package wiring assembles the consumer-side object graph. Plain
// constructor functions (BuildTargetRegistry, ParseCoalesceMode, ...)
// wire cmd/hermes-client's real process together, the same way
// internal/producer/wiring does for the producer; a second path,
// InjectFixture, plays the role the teacher's internal/sinktest
// fixtures play for its own integration tests -- a google/wire
// injector (see wire.go/wire_gen.go) that assembles a full pipeline
// around an externally supplied schema, target and bus.Subscription
// so a test gets a ready-to-drive cycle.Runner without hand-assembling
// every layer itself.
package wiring

import (
	"time"

	"github.com/google/wire"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/bus"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/apply"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/cycle"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/errorqueue"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/fkpolicy"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/initsync"
	consschema "github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/schema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/target"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/trashbin"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
)

// Fixture bundles the object graph InjectFixture assembles.
type Fixture struct {
	Schema  *dataschema.Schema
	Applier *apply.Applier
	Runner  *cycle.Runner
}

// ProvideCache returns an empty per-type snapshot cache, the starting
// point for a freshly wired consumer.
func ProvideCache() consschema.Cache { return consschema.Cache{} }

// ProvideTrash returns a trashbin with no persisted backing file, the
// in-memory shape a test fixture needs instead of a real
// TrashRetention/path pair read from config.
func ProvideTrash() *trashbin.Bin { return trashbin.New(time.Hour, "") }

// ProvideInitsync returns a Tracker with no type currently inside a
// replay window.
func ProvideInitsync() *initsync.Tracker { return initsync.New(false) }

// ProvideFKPolicy builds the Foreign-Key Policy Engine bound to ds,
// disabled by default; a caller wanting a specific policy overrides
// the field on the returned value.
func ProvideFKPolicy(ds *dataschema.Schema) fkpolicy.Engine {
	return fkpolicy.Engine{Schema: ds, Policy: fkpolicy.Disabled}
}

// ProvideTargets wraps a single target.Target as the common-case
// apply.Targets that routes every type to it.
func ProvideTargets(tgt target.Target) apply.Targets {
	return apply.SingleTarget{Target: tgt}
}

// ProvideApplier wires the Consumer Cache & Event Applier (C11) from
// its constituent parts.
func ProvideApplier(
	ds *dataschema.Schema,
	cache consschema.Cache,
	targets apply.Targets,
	fk fkpolicy.Engine,
	trash *trashbin.Bin,
) *apply.Applier {
	return &apply.Applier{Schema: ds, Cache: cache, Targets: targets, FKPolicy: fk, Trash: trash}
}

// ProvideRunner wires a cycle.Runner over applier and sub, defaulting
// to Conservative coalescing outside any initsync replay window.
func ProvideRunner(applier *apply.Applier, sub bus.Subscription, track *initsync.Tracker) *cycle.Runner {
	return cycle.NewRunner(applier, sub, track, errorqueue.Conservative)
}

// Set is used by Wire.
var Set = wire.NewSet(
	ProvideCache,
	ProvideTrash,
	ProvideInitsync,
	ProvideFKPolicy,
	ProvideTargets,
	ProvideApplier,
	ProvideRunner,
)
