// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

// StopRequest asks the daemon to execute an emergency stop.
type StopRequest struct {
	// Reason is recorded in the stop diagnostic. Required.
	Reason string `json:"reason" binding:"required"`
}

// StopResponse reports the stop outcome.
type StopResponse struct {
	Executed bool   `json:"executed"`
	Reason   string `json:"reason"`
}

// ResetRequest optionally carries new thresholds for the reset. Omitted
// fields keep the running configuration's values.
type ResetRequest struct {
	Window            string `json:"window,omitempty"`
	MaxCallsPerWindow *int   `json:"max_calls_per_window,omitempty"`
	MaxStackDepth     *int   `json:"max_stack_depth,omitempty"`
	MaxPatternRepeats *int   `json:"max_pattern_repeats,omitempty"`
	Enabled           *bool  `json:"enabled,omitempty"`
}

// ErrorResponse is the uniform error body for API failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse reports daemon liveness.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
