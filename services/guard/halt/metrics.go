// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package halt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registeredResources = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "loopguard",
		Subsystem: "halt",
		Name:      "registered_resources",
		Help:      "Resources currently registered for emergency stop, by kind.",
	}, []string{"kind"})

	emergencyStops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "loopguard",
		Subsystem: "halt",
		Name:      "emergency_stops_total",
		Help:      "Emergency stop sweeps executed.",
	})
)
