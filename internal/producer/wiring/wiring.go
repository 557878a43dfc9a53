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

// Package wiring assembles part of one producer process's object
// graph from its configuration: datasource drivers keyed by source
// name, and the commit-hook Committer that runs against them. The
// cache store and the bus publisher are built elsewhere. It plays the
// role the teacher's google/wire provider sets (logical.Set) play --
// a single place that turns config into the concrete dependencies
// cycle.Run needs -- kept as plain constructor functions rather than
// generated code since nothing here varies by build tag.
package wiring

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/datasource"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/datasource/ldapdrv"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/datasource/sqldrv"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// SourceConfig selects exactly one of SQL or LDAP for a given source
// name.
type SourceConfig struct {
	Name string
	SQL  *sqldrv.Config
	LDAP *ldapdrv.Config
}

// DriverSet implements merge.Drivers over a fixed map built at
// startup.
type DriverSet struct {
	drivers map[string]datasource.Driver
}

// Driver implements merge.Drivers.
func (d DriverSet) Driver(sourceName string) (datasource.Driver, bool) {
	drv, ok := d.drivers[sourceName]
	return drv, ok
}

// Close releases every driver's resources.
func (d DriverSet) Close() error {
	for name, drv := range d.drivers {
		if err := drv.Close(); err != nil {
			return errors.Wrapf(err, "wiring: closing driver %q", name)
		}
	}
	return nil
}

// DriverCommitter implements emitter.Committer by executing a
// source's CommitOne/CommitAll template as a query against that
// source's own driver -- the same raw query-plus-vars execution
// Modify already performs, generalized to whatever "mark processed"
// statement the source declares. A source that leaves the template
// empty is committed as a no-op.
type DriverCommitter struct {
	Drivers DriverSet
}

// CommitOne implements emitter.Committer.
func (c DriverCommitter) CommitOne(ctx context.Context, src dataschema.SourceBinding, pkey value.PKey) error {
	if src.CommitOne == "" {
		return nil
	}
	drv, ok := c.Drivers.Driver(src.Name)
	if !ok {
		return errors.Errorf("wiring: no driver for source %q", src.Name)
	}
	vars := make(datasource.Vars, len(pkey))
	for i, v := range pkey {
		vars[pkeyVarName(i)] = v
	}
	return errors.Wrapf(drv.Modify(ctx, src.CommitOne, vars), "wiring: commit_one for source %q", src.Name)
}

// CommitAll implements emitter.Committer.
func (c DriverCommitter) CommitAll(ctx context.Context, src dataschema.SourceBinding) error {
	if src.CommitAll == "" {
		return nil
	}
	drv, ok := c.Drivers.Driver(src.Name)
	if !ok {
		return errors.Errorf("wiring: no driver for source %q", src.Name)
	}
	return errors.Wrapf(drv.Modify(ctx, src.CommitAll, datasource.Vars{}), "wiring: commit_all for source %q", src.Name)
}

func pkeyVarName(i int) string {
	if i == 0 {
		return "pkey"
	}
	return fmt.Sprintf("pkey%d", i)
}

// BuildDrivers opens one datasource.Driver per configured source.
func BuildDrivers(ctx context.Context, sources []SourceConfig) (DriverSet, error) {
	drivers := make(map[string]datasource.Driver, len(sources))
	for _, s := range sources {
		var (
			drv datasource.Driver
			err error
		)
		switch {
		case s.SQL != nil:
			drv, err = sqldrv.Open(ctx, *s.SQL)
		case s.LDAP != nil:
			drv, err = ldapdrv.Open(ctx, *s.LDAP)
		default:
			return DriverSet{}, errors.Errorf("wiring: source %q has no driver configured", s.Name)
		}
		if err != nil {
			for _, d := range drivers {
				d.Close()
			}
			return DriverSet{}, errors.Wrapf(err, "wiring: opening source %q", s.Name)
		}
		drivers[s.Name] = drv
	}
	return DriverSet{drivers: drivers}, nil
}
