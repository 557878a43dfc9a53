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

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/config"
)

func writeYAML(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hermes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDecodesAllSections(t *testing.T) {
	path := writeYAML(t, `
hermes:
  cachedir: /var/lib/hermes
hermes-server:
  cachedir: /var/lib/hermes/server
  dataschema_file: /etc/hermes/dataschema.yaml
hermes-client:
  cachedir: /var/lib/hermes/client
  dataschema_file: /etc/hermes/dataschema.yaml
  consumer_group: hermes-client-1
  target: ldap
hermes-client-ldap:
  base_dn: dc=example,dc=org
`)

	doc, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/hermes", doc.Hermes.CacheDir)
	require.NotNil(t, doc.Server)
	require.Equal(t, "/etc/hermes/dataschema.yaml", doc.Server.DataschemaFile)
	require.NotNil(t, doc.Client)
	require.Equal(t, "ldap", doc.Client.Target)
	require.Contains(t, doc.ClientPlugin, "ldap")
	require.NoError(t, doc.Server.Preflight())
	require.NoError(t, doc.Client.Preflight())
}

func TestLoadRejectsUnknownTopLevelKey(t *testing.T) {
	path := writeYAML(t, "not-a-real-section:\n  foo: bar\n")
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownNestedKey(t *testing.T) {
	path := writeYAML(t, `
hermes-server:
  cachedir: /var/lib/hermes
  dataschema_file: /etc/hermes/dataschema.yaml
  bogus_key: nope
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestServerPreflightRequiresDataschemaFile(t *testing.T) {
	path := writeYAML(t, `
hermes-server:
  cachedir: /var/lib/hermes
`)
	doc, err := config.Load(path)
	require.NoError(t, err)
	require.Error(t, doc.Server.Preflight())
}

func TestClientPreflightRequiresDataschemaFile(t *testing.T) {
	path := writeYAML(t, `
hermes-client:
  cachedir: /var/lib/hermes/client
  consumer_group: hermes-client-1
  target: ldap
`)
	doc, err := config.Load(path)
	require.NoError(t, err)
	require.Error(t, doc.Client.Preflight())
}
