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

package wiring

import (
	"context"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/errorqueue"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/fkpolicy"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/target"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/target/flatfiletarget"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/target/ldaptarget"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/target/sqltarget"
)

// BuildTargetRegistry returns a Registry with every built-in
// "hermes-client-<plugin>" target plugin registered under its wire
// name.
func BuildTargetRegistry() *target.Registry {
	reg := target.NewRegistry()
	reg.Register("ldap", func(ctx context.Context, raw map[string]any) (target.Target, error) {
		var cfg ldaptarget.Config
		if err := decodePluginConfig(raw, &cfg); err != nil {
			return nil, errors.Wrap(err, "wiring: ldap target config")
		}
		return ldaptarget.New(ctx, cfg)
	})
	reg.Register("flatfile", func(_ context.Context, raw map[string]any) (target.Target, error) {
		var cfg flatfiletarget.Config
		if err := decodePluginConfig(raw, &cfg); err != nil {
			return nil, errors.Wrap(err, "wiring: flatfile target config")
		}
		return flatfiletarget.New(cfg)
	})
	reg.Register("sql", func(ctx context.Context, raw map[string]any) (target.Target, error) {
		var cfg sqltarget.Config
		if err := decodePluginConfig(raw, &cfg); err != nil {
			return nil, errors.Wrap(err, "wiring: sql target config")
		}
		return sqltarget.New(ctx, cfg)
	})
	return reg
}

// decodePluginConfig round-trips raw (already decoded from YAML as a
// generic map by config.Load) through yaml.Marshal/Unmarshal into out,
// the same node-to-struct trick config.decodeStrict uses for the
// well-known top-level sections, generalized here to whichever struct
// shape the selected plugin declares.
func decodePluginConfig(raw map[string]any, out any) error {
	buf, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(buf, out)
}

// NodeToMap decodes a raw "hermes-client-<plugin>" YAML section (kept
// as a yaml.Node by config.Load until the target plugin name is
// known) into the generic map the target.Registry's Factory
// signature expects.
func NodeToMap(node yaml.Node) (map[string]any, error) {
	var m map[string]any
	if err := node.Decode(&m); err != nil {
		return nil, errors.Wrap(err, "wiring: decoding plugin config section")
	}
	return m, nil
}

// ParseCoalesceMode parses the hermes-client.error_queue_mode
// configuration value.
func ParseCoalesceMode(s string) (errorqueue.CoalesceMode, error) {
	switch s {
	case "", "disabled":
		return errorqueue.Disabled, nil
	case "conservative":
		return errorqueue.Conservative, nil
	case "maximum":
		return errorqueue.Maximum, nil
	default:
		return errorqueue.Disabled, errors.Errorf("wiring: unknown error_queue_mode %q", s)
	}
}

// ParseFKPolicy parses the hermes-client.fk_policy configuration
// value.
func ParseFKPolicy(s string) (fkpolicy.Policy, error) {
	switch s {
	case "", "disabled":
		return fkpolicy.Disabled, nil
	case "on_remove_event":
		return fkpolicy.OnRemoveEvent, nil
	case "on_every_event":
		return fkpolicy.OnEveryEvent, nil
	default:
		return fkpolicy.Disabled, errors.Errorf("wiring: unknown fk_policy %q", s)
	}
}
