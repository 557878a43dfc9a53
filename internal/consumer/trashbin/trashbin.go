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

// Package trashbin implements the Trashbin (C14): a removal is not
// applied to the target immediately but held for a retention window,
// so a remove followed quickly by a re-add for the same key -- a
// common artifact of a source briefly dropping and restoring a row --
// is converted into a restore-as-modified instead of a destructive
// delete followed by a fresh create. A periodic sweep finalizes any
// entry whose window has elapsed.
package trashbin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Entry is one pending removal.
type Entry struct {
	Type      string
	PKey      value.PKey
	Attrs     value.AttrMap
	RemovedAt time.Time
}

type wireEntry struct {
	Type      string                     `json:"type"`
	PKey      []json.RawMessage          `json:"pkey"`
	Attrs     map[string]json.RawMessage `json:"attrs"`
	RemovedAt time.Time                  `json:"removed_at"`
}

func keyOf(typeName string, pkey value.PKey) string {
	return typeName + "\x1f" + pkey.String()
}

// Bin holds removals awaiting their retention window.
type Bin struct {
	retention time.Duration
	path      string

	mu      sync.Mutex
	entries map[string]*Entry
}

// New returns an empty Bin holding removals for retention before they
// are finalized. If path is non-empty, Save/Load persist the bin's
// contents there across restarts.
func New(retention time.Duration, path string) *Bin {
	return &Bin{retention: retention, path: path, entries: make(map[string]*Entry)}
}

// Defer parks a removal of typeName's pkey (carrying its last known
// attrs, for a possible restore) instead of letting it reach the
// target immediately.
func (b *Bin) Defer(typeName string, pkey value.PKey, attrs value.AttrMap) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[keyOf(typeName, pkey)] = &Entry{
		Type: typeName, PKey: pkey, Attrs: value.CloneAttrMap(attrs), RemovedAt: time.Now(),
	}
}

// Restore removes and returns typeName's pending removal of pkey, if
// any -- called when a later add/modify event arrives for the same
// key before its window elapsed. The caller should apply the restored
// entry as a modify against the target, since the target-side delete
// was never actually performed.
func (b *Bin) Restore(typeName string, pkey value.PKey) (Entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := keyOf(typeName, pkey)
	e, ok := b.entries[key]
	if !ok {
		return Entry{}, false
	}
	delete(b.entries, key)
	return *e, true
}

// Pending reports whether typeName's pkey currently has a deferred
// removal sitting in the bin.
func (b *Bin) Pending(typeName string, pkey value.PKey) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[keyOf(typeName, pkey)]
	return ok
}

// All returns a snapshot of every entry currently in the bin.
func (b *Bin) All() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, *e)
	}
	return out
}

// Finalizer performs the actual target-side delete for an entry whose
// retention window has elapsed.
type Finalizer func(Entry) error

// Sweep finalizes every entry whose retention window has elapsed as
// of now, removing it from the bin on success and leaving it in place
// (to retry on the next sweep) on error. It returns the number of
// entries finalized.
func (b *Bin) Sweep(now time.Time, finalize Finalizer) int {
	b.mu.Lock()
	expired := make([]string, 0)
	for key, e := range b.entries {
		if now.Sub(e.RemovedAt) >= b.retention {
			expired = append(expired, key)
		}
	}
	b.mu.Unlock()

	finalized := 0
	for _, key := range expired {
		b.mu.Lock()
		e, ok := b.entries[key]
		b.mu.Unlock()
		if !ok {
			continue
		}
		if err := finalize(*e); err != nil {
			continue
		}
		b.mu.Lock()
		delete(b.entries, key)
		b.mu.Unlock()
		finalized++
	}
	return finalized
}

// Save persists the bin's current contents to its configured path.
func (b *Bin) Save() error {
	if b.path == "" {
		return nil
	}
	b.mu.Lock()
	wire := make([]wireEntry, 0, len(b.entries))
	for _, e := range b.entries {
		w := wireEntry{Type: e.Type, RemovedAt: e.RemovedAt, Attrs: make(map[string]json.RawMessage, len(e.Attrs))}
		for _, v := range e.PKey {
			raw, err := json.Marshal(v)
			if err != nil {
				b.mu.Unlock()
				return errors.Wrap(err, "trashbin: marshaling pkey")
			}
			w.PKey = append(w.PKey, raw)
		}
		for attr, v := range e.Attrs {
			raw, err := json.Marshal(v)
			if err != nil {
				b.mu.Unlock()
				return errors.Wrap(err, "trashbin: marshaling attrs")
			}
			w.Attrs[attr] = raw
		}
		wire = append(wire, w)
	}
	b.mu.Unlock()

	buf, err := json.Marshal(wire)
	if err != nil {
		return errors.Wrap(err, "trashbin: encoding")
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "trashbin: creating directory")
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "trashbin: creating temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "trashbin: writing temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "trashbin: closing temp file")
	}
	return errors.Wrap(os.Rename(tmpName, b.path), "trashbin: renaming temp file into place")
}

// Load restores the bin's contents from its configured path. A
// missing file is not an error: the bin starts empty.
func (b *Bin) Load() error {
	if b.path == "" {
		return nil
	}
	buf, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "trashbin: reading file")
	}

	var wire []wireEntry
	if err := json.Unmarshal(buf, &wire); err != nil {
		return errors.Wrap(err, "trashbin: decoding file")
	}

	entries := make(map[string]*Entry, len(wire))
	for _, w := range wire {
		pkey := make(value.PKey, 0, len(w.PKey))
		for _, raw := range w.PKey {
			var v value.Value
			if err := json.Unmarshal(raw, &v); err != nil {
				return errors.Wrap(err, "trashbin: decoding pkey component")
			}
			pkey = append(pkey, v)
		}
		attrs := make(value.AttrMap, len(w.Attrs))
		for attr, raw := range w.Attrs {
			var v value.Value
			if err := json.Unmarshal(raw, &v); err != nil {
				return errors.Wrap(err, "trashbin: decoding attr")
			}
			attrs[attr] = v
		}
		entries[keyOf(w.Type, pkey)] = &Entry{Type: w.Type, PKey: pkey, Attrs: attrs, RemovedAt: w.RemovedAt}
	}

	b.mu.Lock()
	b.entries = entries
	b.mu.Unlock()
	return nil
}
