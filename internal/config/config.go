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

// Package config loads the single YAML configuration document shared
// by every Hermes process: the "hermes" runtime section common to
// producer and consumer, "hermes-server" (producer dataschema file,
// bus and tick settings), and "hermes-client" plus one "hermes-client-
// <plugin>" section per configured target plugin. Unknown keys are
// rejected at load time rather than silently ignored.
package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// BaseConfig holds the settings common to every Hermes process,
// mirroring the teacher's own BaseConfig/Config split: one struct of
// shared concerns embedded into each process-specific config, with
// its own flag binding and validation.
type BaseConfig struct {
	LogLevel        string   `yaml:"loglevel"`
	CacheDir        string   `yaml:"cachedir"`
	MailSMTPAddr    string   `yaml:"mail_smtp_addr"`
	MailFrom        string   `yaml:"mail_from"`
	MailTo          []string `yaml:"mail_to"`
	MailtextMaxSize int      `yaml:"mailtext_maxsize"`
}

// Bind registers the subset of BaseConfig overridable from the
// command line, following the teacher's flag-binds-into-config-field
// convention rather than a separate flag-struct.
func (c *BaseConfig) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.LogLevel, "loglevel", c.LogLevel, "log level (trace, debug, info, warn, error)")
	flags.StringVar(&c.CacheDir, "cachedir", c.CacheDir, "directory holding persisted cache/trashbin state")
}

// Preflight validates fields Bind cannot: required values, mutually
// exclusive combinations, and anything only knowable once the whole
// document has decoded.
func (c *BaseConfig) Preflight() error {
	if c.CacheDir == "" {
		return errors.New("config: cachedir is required")
	}
	if c.MailtextMaxSize < 0 {
		return errors.New("config: mailtext_maxsize must not be negative")
	}
	return nil
}

// BusConfig describes how a process reaches the messagebus, common to
// both the producer (publisher) and consumer (subscriber) sides.
type BusConfig struct {
	URL           string `yaml:"url"`
	StreamName    string `yaml:"stream_name"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ServerConfig is the "hermes-server" section: the producer's
// dataschema file, bus connection and tick interval. It carries no
// per-source datasource connection settings.
type ServerConfig struct {
	BaseConfig     `yaml:",inline"`
	Bus            BusConfig `yaml:"bus"`
	DataschemaFile string    `yaml:"dataschema_file"`
	TickInterval   string    `yaml:"tick_interval"`
}

// Preflight extends BaseConfig's with server-specific checks.
func (c *ServerConfig) Preflight() error {
	if err := c.BaseConfig.Preflight(); err != nil {
		return err
	}
	if c.DataschemaFile == "" {
		return errors.New("config: hermes-server.dataschema_file is required")
	}
	return nil
}

// ClientConfig is the "hermes-client" section: the consumer's
// runtime, plus one raw yaml.Node per configured
// "hermes-client-<plugin>" section, decoded later by the plugin
// itself once its name is known.
type ClientConfig struct {
	BaseConfig `yaml:",inline"`
	Bus        BusConfig `yaml:"bus"`
	// DataschemaFile bootstraps the consumer's initial dataschema
	// revision; the Consumer Dataschema Evolver (C10) reconciles the
	// running cache against any later revision the producer
	// announces, so this only has to match what the producer started
	// from, not its current one.
	DataschemaFile     string `yaml:"dataschema_file"`
	ConsumerGroup      string `yaml:"consumer_group"`
	Target             string `yaml:"target"`
	FKPolicy           string `yaml:"fk_policy"`
	ErrorQueueMode     string `yaml:"error_queue_mode"`
	TrashRetention     string `yaml:"trash_retention"`
	PollInterval       string `yaml:"poll_interval"`
	RetryInterval      string `yaml:"retry_interval"`
	TrashSweepInterval string `yaml:"trash_sweep_interval"`
}

// Preflight extends BaseConfig's with client-specific checks.
func (c *ClientConfig) Preflight() error {
	if err := c.BaseConfig.Preflight(); err != nil {
		return err
	}
	if c.DataschemaFile == "" {
		return errors.New("config: hermes-client.dataschema_file is required")
	}
	if c.ConsumerGroup == "" {
		return errors.New("config: hermes-client.consumer_group is required")
	}
	if c.Target == "" {
		return errors.New("config: hermes-client.target is required")
	}
	return nil
}

// Document is the full decoded YAML file: one top-level key per
// process role, with hermes-client-<plugin> sections kept raw since
// their shape depends on which plugin name key.Target names.
type Document struct {
	Hermes       BaseConfig           `yaml:"hermes"`
	Server       *ServerConfig        `yaml:"hermes-server"`
	Client       *ClientConfig        `yaml:"hermes-client"`
	ClientPlugin map[string]yaml.Node `yaml:"-"`
}

// Load reads and strictly decodes the YAML document at path,
// rejecting unknown top-level and nested keys, then routes any
// "hermes-client-<plugin>" key into ClientPlugin for the target
// plugin to decode itself.
func Load(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: open")
	}
	defer f.Close()

	var raw map[string]yaml.Node
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}

	doc := &Document{ClientPlugin: make(map[string]yaml.Node)}
	for key, node := range raw {
		switch key {
		case "hermes":
			if err := decodeStrict(&node, &doc.Hermes); err != nil {
				return nil, errors.Wrap(err, "config: hermes section")
			}
		case "hermes-server":
			doc.Server = &ServerConfig{}
			if err := decodeStrict(&node, doc.Server); err != nil {
				return nil, errors.Wrap(err, "config: hermes-server section")
			}
		case "hermes-client":
			doc.Client = &ClientConfig{}
			if err := decodeStrict(&node, doc.Client); err != nil {
				return nil, errors.Wrap(err, "config: hermes-client section")
			}
		default:
			if len(key) > len("hermes-client-") && key[:len("hermes-client-")] == "hermes-client-" {
				doc.ClientPlugin[key[len("hermes-client-"):]] = node
				continue
			}
			return nil, errors.Errorf("config: unknown top-level key %q", key)
		}
	}
	return doc, nil
}

func decodeStrict(node *yaml.Node, out any) error {
	buf, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	return dec.Decode(out)
}
