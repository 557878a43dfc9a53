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

// Package metrics holds the shared label sets and bucket definitions
// every package's own promauto constructors build on, so a
// "*_duration_seconds" histogram in the producer cycle and one in the
// consumer cycle end up with comparable buckets and label names.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// LatencyBuckets covers sub-millisecond cache hits up through a
// multi-minute full resync pass.
var LatencyBuckets = []float64{
	.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// TypeLabels is the label set attached to any metric scoped to one
// declared entity type.
var TypeLabels = []string{"type"}

// Namespace is the prefix every Hermes metric is registered under.
const Namespace = "hermes"
