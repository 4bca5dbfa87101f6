// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package incident defines runaway-execution incidents, the bounded
// in-memory incident log, and the classifier that turns call-ledger and
// stack-sample observations into incidents.
package incident

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the category of a runaway-execution incident.
type Kind string

const (
	// KindExcessiveCalls fires when a function's recent-call count exceeds
	// the per-window threshold.
	KindExcessiveCalls Kind = "excessive_calls"

	// KindDeepRecursion fires when the sampled stack depth exceeds the
	// depth threshold.
	KindDeepRecursion Kind = "deep_recursion"

	// KindRepeatedPattern fires when one function appears on the sampled
	// stack more times than the repeat threshold.
	KindRepeatedPattern Kind = "repeated_pattern"
)

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

// Incident is one detected runaway-execution event.
type Incident struct {
	// ID is a unique identifier assigned at classification time.
	ID string `json:"id"`

	// Timestamp is the wall-clock detection time.
	Timestamp time.Time `json:"timestamp"`

	// FunctionName is the ledger key of the observed function.
	FunctionName string `json:"function_name"`

	// Kind is the incident category.
	Kind Kind `json:"kind"`

	// Count is the kind-specific measurement: recent calls for
	// excessive_calls, stack occurrences for repeated_pattern, and the
	// sampled depth for deep_recursion.
	Count int `json:"count"`

	// StackDepth is the sampled stack depth at detection time. Zero when
	// stack capture was degraded.
	StackDepth int `json:"stack_depth"`
}

// newIncident stamps identity and time onto a classified observation.
func newIncident(now time.Time, name string, kind Kind, count, depth int) Incident {
	return Incident{
		ID:           uuid.NewString(),
		Timestamp:    now,
		FunctionName: name,
		Kind:         kind,
		Count:        count,
		StackDepth:   depth,
	}
}

// Log is a bounded, append-only incident history. When full, the oldest
// incident is evicted to admit the newest.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	limit    int
	items    []Incident
	recorded uint64
}

// DefaultLogSize bounds the incident log when no explicit size is given.
const DefaultLogSize = 100

// NewLog creates a Log holding at most limit incidents. Non-positive
// limits fall back to DefaultLogSize.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = DefaultLogSize
	}
	return &Log{limit: limit, items: make([]Incident, 0, limit)}
}

// Append records inc, evicting the oldest entry when the log is full.
func (l *Log) Append(inc Incident) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.items) == l.limit {
		copy(l.items, l.items[1:])
		l.items = l.items[:l.limit-1]
	}
	l.items = append(l.items, inc)
	l.recorded++
	loggedIncidents.Set(float64(len(l.items)))
}

// Snapshot returns the retained incidents, oldest first.
func (l *Log) Snapshot() []Incident {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Incident, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of retained incidents.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Total returns the number of incidents ever appended, including evicted
// ones.
func (l *Log) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recorded
}

// Reset discards all retained incidents. The lifetime total is preserved.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = l.items[:0]
	loggedIncidents.Set(0)
}
