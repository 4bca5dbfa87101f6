// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// recordedCalls counts every ledgered call. There is deliberately no
	// per-function label: tracked names are caller-supplied strings and
	// would create unbounded label cardinality.
	recordedCalls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loopguard",
		Subsystem: "ledger",
		Name:      "recorded_calls_total",
		Help:      "Total calls recorded by the ledger",
	})

	trackedFunctions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "loopguard",
		Subsystem: "ledger",
		Name:      "tracked_functions",
		Help:      "Number of distinct function names with a ledger record",
	})
)
