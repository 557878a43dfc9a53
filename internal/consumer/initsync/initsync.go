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

// Package initsync implements Initsync Orchestration (C15): tracking,
// per type, whether the consumer is currently inside the replay
// window bracketed by the producer's initsync_begin/initsync_end
// markers (bus.Marker). While inside that window EffectiveCoalesceMode
// reports errorqueue.Disabled, so an error queue created during a full
// resync keeps every individual row's outcome rather than collapsing
// repeated failures for the same key into one.
package initsync

import (
	"sync"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/bus"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/errorqueue"
)

// Tracker holds the per-type initsync window state for one consumer.
type Tracker struct {
	// UseFirstSequence selects how an out-of-order producer restart is
	// handled: if true, a second InitsyncBegin received for a type
	// already inside a window is ignored, so the window only ever
	// closes on the End matching the *first* Begin seen; if false, each
	// Begin restarts the window, discarding how much of the prior
	// sequence had already replayed.
	UseFirstSequence bool

	mu     sync.Mutex
	active map[string]bool
}

// New returns a Tracker with no type currently inside a window.
func New(useFirstSequence bool) *Tracker {
	return &Tracker{UseFirstSequence: useFirstSequence, active: make(map[string]bool)}
}

// HandleMarker updates typeName's window state in response to a
// marker read off its stream.
func (t *Tracker) HandleMarker(typeName string, m bus.Marker) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch m {
	case bus.InitsyncBegin:
		if t.active[typeName] && t.UseFirstSequence {
			return
		}
		t.active[typeName] = true
	case bus.InitsyncEnd:
		t.active[typeName] = false
	}
}

// InWindow reports whether typeName is currently inside a replay
// window.
func (t *Tracker) InWindow(typeName string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active[typeName]
}

// EffectiveCoalesceMode returns base unchanged outside a replay
// window, and errorqueue.Disabled while typeName is being resynced --
// every failure during initsync gets its own queued entry rather than
// collapsing into a prior one.
func (t *Tracker) EffectiveCoalesceMode(typeName string, base errorqueue.CoalesceMode) errorqueue.CoalesceMode {
	if t.InWindow(typeName) {
		return errorqueue.Disabled
	}
	return base
}
