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

package trashbin

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

func TestDeferThenRestoreReturnsEntry(t *testing.T) {
	b := New(time.Hour, "")
	pk := value.PKey{value.Int(1)}
	b.Defer("user", pk, value.AttrMap{"name": value.String("alice")})

	require.True(t, b.Pending("user", pk))
	e, ok := b.Restore("user", pk)
	require.True(t, ok)
	require.Equal(t, "alice", mustString(t, e.Attrs["name"]))
	require.False(t, b.Pending("user", pk))
}

func TestRestoreUnknownKeyReturnsFalse(t *testing.T) {
	b := New(time.Hour, "")
	_, ok := b.Restore("user", value.PKey{value.Int(99)})
	require.False(t, ok)
}

func TestSweepFinalizesExpiredEntriesOnly(t *testing.T) {
	b := New(time.Minute, "")
	pk1 := value.PKey{value.Int(1)}
	pk2 := value.PKey{value.Int(2)}
	b.Defer("user", pk1, nil)
	b.Defer("user", pk2, nil)

	finalized := make([]string, 0)
	now := time.Now().Add(2 * time.Minute)
	// Manually age pk1 past the window, leave pk2 fresh.
	b.mu.Lock()
	b.entries[keyOf("user", pk1)].RemovedAt = now.Add(-2 * time.Hour)
	b.entries[keyOf("user", pk2)].RemovedAt = now
	b.mu.Unlock()

	count := b.Sweep(now, func(e Entry) error {
		finalized = append(finalized, e.PKey.String())
		return nil
	})
	require.Equal(t, 1, count)
	require.Equal(t, []string{pk1.String()}, finalized)
	require.True(t, b.Pending("user", pk2))
	require.False(t, b.Pending("user", pk1))
}

func TestSweepLeavesEntryQueuedOnFinalizeError(t *testing.T) {
	b := New(time.Minute, "")
	pk := value.PKey{value.Int(1)}
	b.Defer("user", pk, nil)
	b.mu.Lock()
	b.entries[keyOf("user", pk)].RemovedAt = time.Now().Add(-time.Hour)
	b.mu.Unlock()

	count := b.Sweep(time.Now(), func(e Entry) error { return errBoom })
	require.Equal(t, 0, count)
	require.True(t, b.Pending("user", pk))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trashbin.json")

	b := New(time.Hour, path)
	pk := value.PKey{value.Int(1)}
	b.Defer("user", pk, value.AttrMap{"name": value.String("alice")})
	require.NoError(t, b.Save())

	b2 := New(time.Hour, path)
	require.NoError(t, b2.Load())
	require.True(t, b2.Pending("user", pk))
	e, ok := b2.Restore("user", pk)
	require.True(t, ok)
	require.Equal(t, "alice", mustString(t, e.Attrs["name"]))
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	b := New(time.Hour, filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, b.Load())
}

func mustString(t *testing.T, v value.Value) string {
	t.Helper()
	s, ok := v.AsString()
	require.True(t, ok)
	return s
}

type errString string

func (e errString) Error() string { return string(e) }

const errBoom = errString("boom")
