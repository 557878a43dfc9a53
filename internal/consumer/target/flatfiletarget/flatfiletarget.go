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

// Package flatfiletarget implements the "flatfile" consumer target
// plugin: one JSON file per entity type, holding every currently-known
// object keyed by its remote primary key. It exists mainly as a
// reference plugin for sites with no live directory or database to
// write to, and for integration testing the consumer pipeline without
// a real backend.
package flatfiletarget

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Config points the plugin at the directory it keeps its per-type
// files in.
type Config struct {
	Dir string
}

type plugin struct {
	cfg Config
	mu  sync.Mutex
}

// New constructs the flatfile target plugin.
func New(cfg Config) (*plugin, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "flatfiletarget: creating directory")
	}
	return &plugin{cfg: cfg}, nil
}

func (p *plugin) path(typeName string) string {
	return filepath.Join(p.cfg.Dir, typeName+".json")
}

func (p *plugin) load(typeName string) (map[string]value.AttrMap, error) {
	buf, err := os.ReadFile(p.path(typeName))
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]value.AttrMap), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "flatfiletarget: reading file")
	}
	out := make(map[string]value.AttrMap)
	if err := json.Unmarshal(buf, &out); err != nil {
		return nil, errors.Wrap(err, "flatfiletarget: decoding file")
	}
	return out, nil
}

func (p *plugin) save(typeName string, records map[string]value.AttrMap) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return errors.Wrap(err, "flatfiletarget: encoding file")
	}

	tmp, err := os.CreateTemp(p.cfg.Dir, typeName+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "flatfiletarget: creating temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "flatfiletarget: writing temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "flatfiletarget: closing temp file")
	}
	return errors.Wrap(os.Rename(tmpName, p.path(typeName)), "flatfiletarget: renaming temp file into place")
}

// Apply implements target.Target.
func (p *plugin) Apply(ctx context.Context, typeName string, ev emitter.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	records, err := p.load(typeName)
	if err != nil {
		return err
	}

	key := ev.PKey.String()
	switch ev.Op {
	case cache.Removed:
		delete(records, key)
	default: // Added, Modified
		records[key] = ev.Attrs
	}

	return p.save(typeName, records)
}

// Close implements target.Target.
func (p *plugin) Close() error { return nil }
