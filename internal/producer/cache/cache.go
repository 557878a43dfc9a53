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

// Package cache implements the producer-side persisted cache (C7): the
// last merged snapshot of every entity type, written to disk so that a
// restarted producer can diff against its pre-restart state instead of
// re-emitting every row as an add. Writes are atomic (temp file plus
// rename) and keep a bounded number of numbered backups; the file
// content can optionally be gzip-compressed.
//
// Attribute classes constrain what is persisted: secret attributes are
// never written to the cache file, since the file is the one piece of
// producer state that could otherwise leak a password hash onto disk
// in a second location beyond the source system itself; local
// attributes are scratch values for the current cycle only and are
// dropped before either caching or emitting.
package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/object"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Store persists and restores one entity type's snapshot to/from
// disk, per §7's backup-rotation and optional-gzip requirements.
type Store struct {
	Dir         string
	BackupCount int
	Gzip        bool
}

type wireObject struct {
	PKey       []json.RawMessage `json:"pkey"`
	Attrs      map[string]json.RawMessage `json:"attrs"`
	RemotePKey string                     `json:"remote_pkey"`
}

type wireSnapshot struct {
	TypeName string       `json:"type"`
	Objects  []wireObject `json:"objects"`
}

func (s Store) path(typeName string) string {
	name := typeName + ".json"
	if s.Gzip {
		name += ".gz"
	}
	return filepath.Join(s.Dir, name)
}

// Save writes snap to disk, excluding any attribute classified Secret
// or Local for t, atomically and with backup rotation.
func Save(s Store, t dataschema.EntityType, snap *object.Snapshot) error {
	classes := t.AttrClasses()
	ws := wireSnapshot{TypeName: snap.TypeName, Objects: make([]wireObject, 0, snap.Len())}

	for _, obj := range snap.ByPKey {
		wo := wireObject{RemotePKey: obj.RemotePKey, Attrs: make(map[string]json.RawMessage)}
		for _, pk := range obj.PKey {
			raw, err := json.Marshal(pk)
			if err != nil {
				return errors.Wrap(err, "cache: marshaling primary key")
			}
			wo.PKey = append(wo.PKey, raw)
		}
		for attr, v := range obj.Attrs {
			switch classes[attr] {
			case dataschema.Secret, dataschema.Local:
				continue
			}
			raw, err := json.Marshal(v)
			if err != nil {
				return errors.Wrapf(err, "cache: marshaling attribute %q", attr)
			}
			wo.Attrs[attr] = raw
		}
		ws.Objects = append(ws.Objects, wo)
	}

	buf, err := json.Marshal(ws)
	if err != nil {
		return errors.Wrap(err, "cache: marshaling snapshot")
	}
	if s.Gzip {
		var gzBuf bytes.Buffer
		gw := gzip.NewWriter(&gzBuf)
		if _, err := gw.Write(buf); err != nil {
			return errors.Wrap(err, "cache: gzip")
		}
		if err := gw.Close(); err != nil {
			return errors.Wrap(err, "cache: gzip close")
		}
		buf = gzBuf.Bytes()
	}

	return atomicWriteWithBackups(s, t.Name, buf)
}

// Load reads the last persisted snapshot for t from disk. A missing
// file is not an error: it returns an empty snapshot, the state of a
// type on its very first cycle.
func Load(s Store, t dataschema.EntityType) (*object.Snapshot, error) {
	snap := object.NewSnapshot(t.Name)

	buf, err := os.ReadFile(s.path(t.Name))
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "cache: reading snapshot file")
	}

	if s.Gzip {
		gr, err := gzip.NewReader(bytes.NewReader(buf))
		if err != nil {
			return nil, errors.Wrap(err, "cache: gzip reader")
		}
		defer gr.Close()
		decoded, err := io.ReadAll(gr)
		if err != nil {
			return nil, errors.Wrap(err, "cache: reading gzip stream")
		}
		buf = decoded
	}

	var ws wireSnapshot
	if err := json.Unmarshal(buf, &ws); err != nil {
		return nil, errors.Wrap(err, "cache: unmarshaling snapshot")
	}

	for _, wo := range ws.Objects {
		pkey := make(value.PKey, len(wo.PKey))
		for i, raw := range wo.PKey {
			var v value.Value
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, errors.Wrap(err, "cache: unmarshaling primary key")
			}
			pkey[i] = v
		}
		attrs := make(value.AttrMap, len(wo.Attrs))
		for attr, raw := range wo.Attrs {
			var v value.Value
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, errors.Wrapf(err, "cache: unmarshaling attribute %q", attr)
			}
			attrs[attr] = v
		}
		snap.Put(object.Object{PKey: pkey, Attrs: attrs, RemotePKey: wo.RemotePKey})
	}
	return snap, nil
}

// atomicWriteWithBackups writes buf to the type's cache file via a
// temp-file-then-rename, first rotating up to s.BackupCount numbered
// backups of the previous file (typeName.json.1, .2, ...).
func atomicWriteWithBackups(s Store, typeName string, buf []byte) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return errors.Wrap(err, "cache: creating cache directory")
	}
	target := s.path(typeName)

	if s.BackupCount > 0 {
		if _, err := os.Stat(target); err == nil {
			if err := rotateBackups(target, s.BackupCount); err != nil {
				return err
			}
		}
	}

	tmp, err := os.CreateTemp(s.Dir, typeName+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "cache: creating temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "cache: writing temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "cache: closing temp file")
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "cache: renaming temp file into place")
	}
	return nil
}

func rotateBackups(target string, count int) error {
	for i := count; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", target, i)
		if i == count {
			os.Remove(src)
			continue
		}
		dst := fmt.Sprintf("%s.%d", target, i+1)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return errors.Wrap(err, "cache: rotating backup")
			}
		}
	}
	return os.Rename(target, target+".1")
}
