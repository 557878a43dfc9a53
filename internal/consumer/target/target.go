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

// Package target declares the consumer-side plugin interface: the
// capability every "hermes-client-<plugin>" target implements to turn
// an applied event into a write against whatever system it fronts
// (an LDAP directory, a flat file, a ticketing system, ...). Plugins
// register themselves by name in a Registry at startup, selected by
// the consumer's configured target name.
package target

import (
	"context"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
)

// Target applies one event's change to the plugin's backing system.
// Implementations must be idempotent with respect to
// emitter.Event.ID/Step: the Event Applier (C11) may invoke Apply
// again for a redelivered message.
type Target interface {
	// Apply performs the write (add/modify/delete) described by ev
	// against the target's backing system. ctx may carry an
	// *ApplyState (see StateFromContext); an implementation that
	// performs more than one irreversible step internally before
	// failing should set PartiallyProcessed on it before returning its
	// error, so the Error Queue (C12) knows not to silently coalesce a
	// later event on top of this one.
	Apply(ctx context.Context, typeName string, ev emitter.Event) error
	Close() error
}

type applyStateKey struct{}

// ApplyState carries per-invocation metadata through ctx rather than
// Apply's own signature, so adding a new flag never breaks existing
// plugins. The Event Applier (C11) installs one before calling Apply
// and reads it back afterward.
type ApplyState struct {
	// IsErrorRetry is true when this Apply call replays an event
	// previously parked in the Error Queue (C12), rather than a first
	// attempt at applying it.
	IsErrorRetry bool
	// PartiallyProcessed is set by a Target implementation (or by the
	// Applier itself, when it already took an irreversible step before
	// invoking Apply) to signal that the backing system may already
	// carry part of this event's effect even though Apply ultimately
	// failed.
	PartiallyProcessed bool
}

// WithApplyState returns a context carrying state, retrievable by a
// Target implementation via StateFromContext.
func WithApplyState(ctx context.Context, state *ApplyState) context.Context {
	return context.WithValue(ctx, applyStateKey{}, state)
}

// StateFromContext returns the ApplyState installed by WithApplyState,
// if any.
func StateFromContext(ctx context.Context) (*ApplyState, bool) {
	state, ok := ctx.Value(applyStateKey{}).(*ApplyState)
	return state, ok
}

// Factory constructs a Target from its plugin-specific configuration.
type Factory func(ctx context.Context, config map[string]any) (Target, error)

// Registry maps a plugin name (the "<plugin>" in "hermes-client-
// <plugin>") to its Factory.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the named plugin's Factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Build constructs the named plugin's Target.
func (r *Registry) Build(ctx context.Context, name string, config map[string]any) (Target, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, &UnknownPluginError{Name: name}
	}
	return f(ctx, config)
}

// UnknownPluginError is returned by Build for an unregistered plugin
// name.
type UnknownPluginError struct{ Name string }

func (e *UnknownPluginError) Error() string {
	return "target: unknown plugin " + e.Name
}
