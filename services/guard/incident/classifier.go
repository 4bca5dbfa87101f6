// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package incident

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/simulateai/loopguard/services/guard/stacktrace"
)

// Thresholds are the detection bounds evaluated on every observation. A
// measurement must strictly exceed its threshold to raise an incident;
// landing exactly on a threshold is normal operation.
type Thresholds struct {
	// MaxCallsPerWindow bounds a function's recent-call count.
	MaxCallsPerWindow int

	// MaxStackDepth bounds the sampled synchronous stack depth.
	MaxStackDepth int

	// MaxPatternRepeats bounds how many times one function may appear on
	// the sampled stack.
	MaxPatternRepeats int
}

// Sink receives classified incidents. Implementations must not block;
// slow consumers should buffer internally.
type Sink interface {
	OnIncident(inc Incident)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(inc Incident)

// OnIncident implements Sink.
func (f SinkFunc) OnIncident(inc Incident) { f(inc) }

// Classifier evaluates each observation against the thresholds, records
// raised incidents in the bounded log, and fans them out to sinks.
//
// Detection is short-circuit ordered: excessive calls, then deep
// recursion, then repeated pattern. One observation raises at most one
// incident.
//
// Thread Safety:
//
//	Classify, AddSink, and SetThresholds are safe for concurrent use.
type Classifier struct {
	mu         sync.Mutex
	thresholds Thresholds
	log        *Log
	sinks      []Sink
	logger     *slog.Logger
	diagLimit  *rate.Limiter
	now        func() time.Time
}

// NewClassifier creates a Classifier writing to log and reporting
// diagnostics through logger. Diagnostic log lines are rate limited so a
// call storm that raises thousands of incidents per second cannot flood
// the host's log output.
func NewClassifier(thresholds Thresholds, log *Log, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		thresholds: thresholds,
		log:        log,
		logger:     logger,
		diagLimit:  rate.NewLimiter(rate.Every(time.Second), 5),
		now:        time.Now,
	}
}

// AddSink registers sink to receive every future incident.
func (c *Classifier) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, sink)
}

// SetThresholds replaces the detection bounds for future observations.
func (c *Classifier) SetThresholds(t Thresholds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thresholds = t
}

// Thresholds returns the current detection bounds.
func (c *Classifier) Thresholds() Thresholds {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.thresholds
}

// Classify evaluates one observation: name with recentCalls within the
// current window, and the stack sample taken at call time. It returns the
// raised incident, or nil when the observation is within bounds.
func (c *Classifier) Classify(name string, recentCalls int, sample stacktrace.Sample) *Incident {
	c.mu.Lock()
	t := c.thresholds
	sinks := c.sinks
	c.mu.Unlock()

	repeats := sample.Occurrences(name)

	var inc Incident
	switch {
	case t.MaxCallsPerWindow > 0 && recentCalls > t.MaxCallsPerWindow:
		inc = newIncident(c.now(), name, KindExcessiveCalls, recentCalls, sample.Depth)
	case t.MaxStackDepth > 0 && sample.Depth > t.MaxStackDepth:
		inc = newIncident(c.now(), name, KindDeepRecursion, sample.Depth, sample.Depth)
	case t.MaxPatternRepeats > 0 && repeats > t.MaxPatternRepeats:
		inc = newIncident(c.now(), name, KindRepeatedPattern, repeats, sample.Depth)
	default:
		return nil
	}

	c.log.Append(inc)
	classifiedIncidents.WithLabelValues(string(inc.Kind)).Inc()

	if c.diagLimit.Allow() {
		c.logger.Warn("runaway execution detected",
			"incident_id", inc.ID,
			"kind", string(inc.Kind),
			"function", inc.FunctionName,
			"count", inc.Count,
			"stack_depth", inc.StackDepth,
		)
	}

	for _, sink := range sinks {
		sink.OnIncident(inc)
	}
	return &inc
}

// Drain is a convenience for sinks that forward to channels: it sends inc
// without blocking, dropping it when the channel is full.
func Drain(ch chan<- Incident, inc Incident) bool {
	select {
	case ch <- inc:
		return true
	default:
		return false
	}
}
