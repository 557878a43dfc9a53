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

//go:build wireinject
// +build wireinject

package wiring

import (
	"github.com/google/wire"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/bus"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/consumer/target"
	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/dataschema"
)

// InjectFixture assembles a Fixture around an externally supplied
// schema, target and bus.Subscription. Regenerate wire_gen.go with
// `go run github.com/google/wire/cmd/wire` after changing Set or this
// signature.
func InjectFixture(ds *dataschema.Schema, tgt target.Target, sub bus.Subscription) (*Fixture, error) {
	wire.Build(
		Set,
		wire.Struct(new(Fixture), "*"),
	)
	return nil, nil
}
