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

package dataschema_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
)

func writeSchemaYAML(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataschema.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadParsesTypesAndSources(t *testing.T) {
	path := writeSchemaYAML(t, `
revision: 1
types:
  - name: user
    primary_key: [id]
    on_merge_conflict: keep_first_value
    foreign_keys:
      - local_attr: group_id
        parent_type: group
        parent_attr: id
    integrity_constraints:
      - "_SELF.mail | not_null"
    sources:
      - name: hr
        fetch_query: "SELECT * FROM users"
        pkey_merge_constraint: must_not_exist
        mapping:
          id:
            expr: "remote.id"
          mail:
            expr: "remote.email"
        secret_attrs: [mail]
  - name: group
    primary_key: [id]
    sources:
      - name: hr
        fetch_query: "SELECT * FROM groups"
        mapping:
          id:
            expr: "remote.id"
`)

	schema, err := dataschema.Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, schema.Revision)
	require.Len(t, schema.Types, 2)

	user, ok := schema.ByName("user")
	require.True(t, ok)
	require.Equal(t, dataschema.KeepFirstValue, user.OnMergeConflict)
	require.Len(t, user.ForeignKeys, 1)
	require.Equal(t, "group_id", user.ForeignKeys[0].LocalAttr)
	require.Len(t, user.Sources, 1)
	require.Equal(t, dataschema.MustNotExist, user.Sources[0].PKeyMergeConstraint)
	require.True(t, user.Sources[0].SecretAttrs["mail"])
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := writeSchemaYAML(t, `
revision: 1
types:
  - name: user
    primary_key: [id]
    bogus: true
    sources: []
`)
	_, err := dataschema.Load(path)
	require.Error(t, err)
}

func TestLoadRejectsUnknownMergeConflict(t *testing.T) {
	path := writeSchemaYAML(t, `
revision: 1
types:
  - name: user
    primary_key: [id]
    on_merge_conflict: not_a_real_policy
    sources: []
`)
	_, err := dataschema.Load(path)
	require.Error(t, err)
}
