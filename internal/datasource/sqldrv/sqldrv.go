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

// Package sqldrv implements the Datasource Driver Interface (C4) over
// database/sql, following the same connection-pool-with-reconnect
// idiom as the teacher's internal/util/stdpool package: a dialect
// string selects the registered driver (pq or pgx for
// PostgreSQL-family sources, mysql for MySQL/MariaDB), and every query
// is bound with the driver's native placeholder syntax rather than
// string interpolation.
package sqldrv

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // register "mysql" driver
	_ "github.com/jackc/pgx/v5/stdlib" // register "pgx" driver
	_ "github.com/lib/pq"              // register "postgres" driver
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/datasource"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Dialect selects the registered database/sql driver name.
type Dialect string

// The three supported dialects. Pgx wraps the jackc/pgx binary
// protocol driver behind database/sql via its stdlib adapter, for
// sites that want pgx's connection handling over lib/pq's.
const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	Pgx      Dialect = "pgx"
)

// Config describes how to connect to a single SQL datasource.
type Config struct {
	Dialect         Dialect
	DSN             string
	ConnMaxLifetime time.Duration
	MaxOpenConns    int
}

type driver struct {
	db      *sql.DB
	dialect Dialect
}

var _ datasource.Driver = (*driver)(nil)

// Open connects to a SQL datasource per Config, pinging to fail fast
// on misconfiguration and applying the same connection-lifetime /
// pool-size knobs the teacher's stdpool package exposes.
func Open(ctx context.Context, cfg Config) (datasource.Driver, error) {
	db, err := sql.Open(string(cfg.Dialect), cfg.DSN)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "sqldrv: could not ping database")
	}
	return &driver{db: db, dialect: cfg.Dialect}, nil
}

// Fetch implements datasource.Driver.
func (d *driver) Fetch(ctx context.Context, query string, vars datasource.Vars, fn func(datasource.Row) error) error {
	args, err := d.bind(query, vars)
	if err != nil {
		return err
	}
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		if reconnectErr := d.reconnectOnTransient(ctx, err); reconnectErr != nil {
			return errors.WithStack(err)
		}
		rows, err = d.db.QueryContext(ctx, query, args...)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errors.WithStack(err)
	}

	for rows.Next() {
		dest := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return errors.WithStack(err)
		}
		row := make(datasource.Row, len(cols))
		for i, col := range cols {
			row[col] = toValue(dest[i])
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return errors.WithStack(rows.Err())
}

// Add implements datasource.Driver.
func (d *driver) Add(ctx context.Context, query string, vars datasource.Vars) error {
	return d.exec(ctx, query, vars)
}

// Modify implements datasource.Driver.
func (d *driver) Modify(ctx context.Context, query string, vars datasource.Vars) error {
	return d.exec(ctx, query, vars)
}

// Delete implements datasource.Driver.
func (d *driver) Delete(ctx context.Context, query string, vars datasource.Vars) error {
	return d.exec(ctx, query, vars)
}

// Close implements datasource.Driver.
func (d *driver) Close() error { return d.db.Close() }

func (d *driver) exec(ctx context.Context, query string, vars datasource.Vars) error {
	args, err := d.bind(query, vars)
	if err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		if reconnectErr := d.reconnectOnTransient(ctx, err); reconnectErr != nil {
			return errors.WithStack(err)
		}
		_, err = d.db.ExecContext(ctx, query, args...)
		return errors.WithStack(err)
	}
	return nil
}

// bind resolves the ordered placeholder list from vars. All three
// supported dialects use positional placeholders ($1.. for postgres
// and pgx, ? for mysql), so the query string itself is expected to
// have already been rendered with the correct placeholder syntax by
// the caller (the fetch/commit template); bind's job is only to
// produce the matching ordered argument slice, from the var names
// listed, in placeholder order, under the `$order` key.
func (d *driver) bind(_ string, vars datasource.Vars) ([]any, error) {
	order, _ := vars["$order"].([]string)
	args := make([]any, len(order))
	for i, name := range order {
		v, ok := vars[name]
		if !ok {
			return nil, errors.Errorf("sqldrv: missing bound variable %q", name)
		}
		args[i] = v
	}
	return args, nil
}

// reconnectOnTransient pings the pool and logs a reconnect attempt
// when the driver reports a connection-level failure; database/sql
// already re-establishes connections transparently from its pool, so
// this mainly exists to surface the event for the source_unavailable
// alerting path (§7).
func (d *driver) reconnectOnTransient(ctx context.Context, cause error) error {
	log.WithError(cause).Warn("sqldrv: transient failure, attempting reconnect")
	return d.db.PingContext(ctx)
}

func toValue(raw any) value.Value {
	switch v := raw.(type) {
	case nil:
		return value.Null()
	case []byte:
		return value.Bytes(v)
	case string:
		return value.String(v)
	case int64:
		return value.Int(v)
	case int32:
		return value.Int(int64(v))
	case float64:
		return value.Float(v)
	case float32:
		return value.Float(float64(v))
	case bool:
		return value.Bool(v)
	case time.Time:
		return value.Timestamp(v)
	default:
		return value.String(fmt.Sprintf("%v", v))
	}
}
