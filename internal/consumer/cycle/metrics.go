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
	eventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "consumer_events_applied_total",
		Help:      "the number of events successfully applied, per type",
	}, metrics.TypeLabels)

	eventsParked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "consumer_events_errorqueue_total",
		Help:      "the number of events parked in the error queue instead of applied, per type",
	}, metrics.TypeLabels)

	trashFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metrics.Namespace,
		Name:      "consumer_trashbin_finalized_total",
		Help:      "the number of trashbin entries finalized by a sweep, per type",
	}, metrics.TypeLabels)
)
