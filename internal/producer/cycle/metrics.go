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

package cycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/DSIN-INSA-Strasbourg/Hermes/internal/util/metrics"
)

var (
	cycleDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metrics.Namespace,
		Name:      "producer_cycle_duration_seconds",
		Help:      "the length of time a full producer cycle took, per type",
		Buckets:   metrics.LatencyBuckets,
	}, metrics.TypeLabels)

	changesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "producer_changes_emitted_total",
		Help:      "the number of changes successfully emitted, per type",
	}, metrics.TypeLabels)

	integrityDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "producer_integrity_dropped_total",
		Help:      "the number of rows dropped by integrity evaluation, per type",
	}, metrics.TypeLabels)
)
