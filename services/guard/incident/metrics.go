// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package incident

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	classifiedIncidents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loopguard",
		Subsystem: "incident",
		Name:      "classified_total",
		Help:      "Incidents raised, by kind.",
	}, []string{"kind"})

	loggedIncidents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "loopguard",
		Subsystem: "incident",
		Name:      "log_size",
		Help:      "Incidents currently retained in the bounded log.",
	})
)
