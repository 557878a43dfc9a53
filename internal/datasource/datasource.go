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

// Package datasource declares the uniform capability interface (C4)
// that every backend driver (relational, directory, flat file) must
// satisfy: fetch/add/modify/delete, each taking a template-rendered
// query and a parameter mapping bound using the backend's native
// parameter syntax -- never by string interpolation.
package datasource

import (
	"context"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/value"
)

// Row is one fetched record: a mapping from remote attribute name to
// typed value, exactly as it will be handed to the projection
// environment's "remote" scope (C3).
type Row = value.AttrMap

// Vars is a parameter mapping bound to a query using the backend's
// native placeholder syntax.
type Vars map[string]any

// Driver is the capability interface every datasource plugin (C4)
// implements. Implementations must support transparent reconnect on
// transient failures -- callers are not expected to retry a dropped
// connection themselves.
type Driver interface {
	// Fetch runs query against the backend and streams matching rows
	// to fn. Returning a non-nil error from fn stops iteration and
	// the error is propagated to the caller.
	Fetch(ctx context.Context, query string, vars Vars, fn func(Row) error) error

	// Add creates a new record described by vars.
	Add(ctx context.Context, query string, vars Vars) error

	// Modify updates an existing record described by vars.
	Modify(ctx context.Context, query string, vars Vars) error

	// Delete removes a record described by vars.
	Delete(ctx context.Context, query string, vars Vars) error

	// Close releases any resources held by the driver.
	Close() error
}

// Factory constructs a Driver from a dialect-specific configuration
// map.
type Factory func(ctx context.Context, config map[string]any) (Driver, error)
