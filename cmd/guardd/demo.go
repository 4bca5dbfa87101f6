// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/simulateai/loopguard/services/guard"
)

// defaultMetricsHandler serves the default prometheus registry when the
// otel exporter is disabled, so /metrics always works.
func defaultMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// runDemoWorkload drives a tracked render loop that periodically bursts
// past the call-frequency threshold, so operators can watch incidents
// arrive on the stream and in the stats without writing host code.
func runDemoWorkload(ctx context.Context, g *guard.Guard, logger *slog.Logger) {
	type renderer struct {
		Render func(frame int) int
	}

	r := &renderer{Render: func(frame int) int { return frame * 2 }}
	if err := g.Track(r, "Render"); err != nil {
		logger.Error("demo: failed to track the renderer", "error", err)
		return
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	g.RegisterTicker(ticker)

	logger.Info("demo workload running, bursting every 5s")
	frame := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A burst well past the default threshold.
			for i := 0; i < 80; i++ {
				frame = r.Render(frame)
			}
			logger.Debug("demo burst complete", "frame", frame)
		}
	}
}
