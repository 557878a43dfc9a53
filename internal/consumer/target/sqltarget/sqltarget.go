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

// Package sqltarget implements the "sql" consumer target plugin: an
// applied event becomes an upsert or delete against a single table of
// a relational database, built with the driver's native placeholder
// syntax rather than string-interpolated values. Postgres and pgx
// dialects share the $N/ON CONFLICT branch below; only MySQL needs
// its own placeholder and ON DUPLICATE KEY syntax.
package sqltarget

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql" // register "mysql" driver
	_ "github.com/lib/pq"              // register "postgres" driver
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/datasource/sqldrv"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/cache"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/producer/emitter"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// toDriverArg converts a Value to whatever native type database/sql
// knows how to bind as a parameter.
func toDriverArg(v value.Value) any {
	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		return s
	case value.KindInt:
		i, _ := v.AsInt()
		return i
	case value.KindFloat:
		f, _ := v.AsFloat()
		return f
	case value.KindBool:
		b, _ := v.AsBool()
		return b
	case value.KindBytes:
		b, _ := v.AsBytes()
		return b
	case value.KindTimestamp:
		t, _ := v.AsTimestamp()
		return t
	default:
		return nil
	}
}

// Config describes the target table and how to connect to it.
type Config struct {
	Dialect           sqldrv.Dialect
	DSN               string
	Table             string
	PrimaryKeyColumns []string
}

type plugin struct {
	cfg Config
	db  *sql.DB
}

// New opens the database connection and returns the sql target
// plugin.
func New(ctx context.Context, cfg Config) (*plugin, error) {
	db, err := sql.Open(string(cfg.Dialect), cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "sqltarget: open")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqltarget: ping")
	}
	return &plugin{cfg: cfg, db: db}, nil
}

func (p *plugin) placeholder(i int) string {
	if p.cfg.Dialect == sqldrv.MySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", i)
}

// deleteRow performs a delete on the row identified by ev's primary
// key columns.
func (p *plugin) deleteRow(ctx context.Context, tx *sql.Tx, ev emitter.Event) error {
	var stmt strings.Builder
	fmt.Fprintf(&stmt, "DELETE FROM %s WHERE ", p.cfg.Table)
	args := make([]any, 0, len(p.cfg.PrimaryKeyColumns))
	for i, col := range p.cfg.PrimaryKeyColumns {
		if i > 0 {
			stmt.WriteString(" AND ")
		}
		fmt.Fprintf(&stmt, "%s = %s", col, p.placeholder(i+1))
		if i < len(ev.PKey) {
			args = append(args, toDriverArg(ev.PKey[i]))
		}
	}
	log.WithField("statement", stmt.String()).Debug("sqltarget: delete")
	_, err := tx.ExecContext(ctx, stmt.String(), args...)
	return err
}

// upsertRow performs an upsert of ev's attributes, generalizing the
// teacher's CockroachDB-only "UPSERT INTO" into a standard
// dialect-appropriate ON CONFLICT / ON DUPLICATE KEY clause.
func (p *plugin) upsertRow(ctx context.Context, tx *sql.Tx, ev emitter.Event) error {
	columns := make([]string, 0, len(ev.Attrs))
	args := make([]any, 0, len(ev.Attrs))
	for name, v := range ev.Attrs {
		columns = append(columns, name)
		args = append(args, toDriverArg(v))
	}

	var stmt strings.Builder
	fmt.Fprintf(&stmt, "INSERT INTO %s (%s) VALUES (", p.cfg.Table, strings.Join(columns, ", "))
	for i := range columns {
		if i > 0 {
			stmt.WriteString(", ")
		}
		stmt.WriteString(p.placeholder(i + 1))
	}
	stmt.WriteString(")")

	if p.cfg.Dialect == sqldrv.MySQL {
		stmt.WriteString(" ON DUPLICATE KEY UPDATE ")
		for i, col := range columns {
			if i > 0 {
				stmt.WriteString(", ")
			}
			fmt.Fprintf(&stmt, "%s = VALUES(%s)", col, col)
		}
	} else {
		fmt.Fprintf(&stmt, " ON CONFLICT (%s) DO UPDATE SET ", strings.Join(p.cfg.PrimaryKeyColumns, ", "))
		first := true
		for _, col := range columns {
			if isPrimaryKeyColumn(col, p.cfg.PrimaryKeyColumns) {
				continue
			}
			if !first {
				stmt.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&stmt, "%s = EXCLUDED.%s", col, col)
		}
	}

	log.WithField("statement", stmt.String()).Debug("sqltarget: upsert")
	_, err := tx.ExecContext(ctx, stmt.String(), args...)
	return err
}

func isPrimaryKeyColumn(col string, pkeyCols []string) bool {
	for _, pk := range pkeyCols {
		if pk == col {
			return true
		}
	}
	return false
}

// Apply implements target.Target.
func (p *plugin) Apply(ctx context.Context, typeName string, ev emitter.Event) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqltarget: begin")
	}

	var applyErr error
	if ev.Op == cache.Removed {
		applyErr = p.deleteRow(ctx, tx, ev)
	} else {
		applyErr = p.upsertRow(ctx, tx, ev)
	}
	if applyErr != nil {
		tx.Rollback()
		return errors.Wrap(applyErr, "sqltarget: apply")
	}
	return errors.Wrap(tx.Commit(), "sqltarget: commit")
}

// Close implements target.Target.
func (p *plugin) Close() error { return p.db.Close() }
