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

package sqltarget

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/datasource/sqldrv"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

func newTestPlugin(t *testing.T, dialect sqldrv.Dialect) (*plugin, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &plugin{
		cfg: Config{Dialect: dialect, Table: "users", PrimaryKeyColumns: []string{"id"}},
		db:  db,
	}, mock
}

func TestApplyUpsertPostgresUsesOnConflict(t *testing.T) {
	p, mock := newTestPlugin(t, sqldrv.Postgres)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ev := emitter.Event{
		Type: "user", Op: cache.Added,
		PKey:  value.PKey{value.Int(1)},
		Attrs: value.AttrMap{"id": value.Int(1), "name": value.String("alice")},
	}
	err := p.Apply(context.Background(), "user", ev)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyUpsertMySQLUsesOnDuplicateKey(t *testing.T) {
	p, mock := newTestPlugin(t, sqldrv.MySQL)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ev := emitter.Event{
		Type: "user", Op: cache.Modified,
		PKey:  value.PKey{value.Int(1)},
		Attrs: value.AttrMap{"id": value.Int(1), "name": value.String("bob")},
	}
	err := p.Apply(context.Background(), "user", ev)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRemoveDeletesByPKey(t *testing.T) {
	p, mock := newTestPlugin(t, sqldrv.Postgres)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ev := emitter.Event{Type: "user", Op: cache.Removed, PKey: value.PKey{value.Int(1)}}
	err := p.Apply(context.Background(), "user", ev)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRollsBackOnExecError(t *testing.T) {
	p, mock := newTestPlugin(t, sqldrv.Postgres)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM users").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	ev := emitter.Event{Type: "user", Op: cache.Removed, PKey: value.PKey{value.Int(1)}}
	err := p.Apply(context.Background(), "user", ev)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
