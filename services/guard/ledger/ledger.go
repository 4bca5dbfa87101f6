// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ledger maintains per-function sliding-window call records.
//
// The ledger answers one question: "how many times was this function called
// within the trailing window?". Records are created lazily on first call and
// pruned on every insert, so memory stays proportional to the call rate
// rather than the process lifetime.
//
// Thread Safety:
//
//	All exported methods are safe for concurrent use.
package ledger

import (
	"sync"
	"time"
)

// DefaultWindow is the sliding window applied when none is configured.
const DefaultWindow = time.Second

// Stats is a read-only summary for one tracked function.
type Stats struct {
	// TotalCalls counts every recorded call since creation or the last Reset.
	TotalCalls uint64 `json:"total_calls"`

	// RecentCalls counts calls within the current window.
	RecentCalls int `json:"recent_calls"`
}

// record holds the mutable per-function state.
type record struct {
	total uint64
	// times is ordered oldest-first; pruned on every insert.
	times []time.Time
}

// Ledger tracks call timestamps per function identity.
//
// Function identity is the caller-supplied name string. Same-named functions
// on different owners alias to one record unless the caller qualifies the
// name (e.g. "ModalManager.open"). See NewQualifiedName.
type Ledger struct {
	mu      sync.Mutex
	window  time.Duration
	records map[string]*record

	// now is injectable for deterministic tests.
	now func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger with the given sliding window.
//
// A non-positive window falls back to DefaultWindow.
func New(window time.Duration, opts ...Option) *Ledger {
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Ledger{
		window:  window,
		records: make(map[string]*record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends a call timestamp for name and returns the number of calls
// within the current window, including this one.
//
// Description:
//
//	Prunes timestamps older than the window before counting, so the
//	returned count never includes calls separated from now by more than
//	the window. Never fails; an unseen name creates a new record.
//
// Thread Safety: Safe for concurrent use.
func (l *Ledger) Record(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[name]
	if !ok {
		r = &record{}
		l.records[name] = r
		trackedFunctions.Set(float64(len(l.records)))
	}
	recordedCalls.Inc()

	now := l.now()
	r.total++
	r.times = append(r.times, now)
	r.times = prune(r.times, now.Add(-l.window))
	return len(r.times)
}

// prune drops timestamps at or before cutoff, preserving order.
//
// Entries are ordered oldest-first, so a single scan for the first retained
// index suffices. The retained tail is copied down to release the backing
// array's head for reuse.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	keep := 0
	for keep < len(times) && !times[keep].After(cutoff) {
		keep++
	}
	if keep == 0 {
		return times
	}
	n := copy(times, times[keep:])
	return times[:n]
}

// RecentCount returns the in-window call count for name without recording
// a call. Returns 0 for unseen names.
func (l *Ledger) RecentCount(name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.records[name]
	if !ok {
		return 0
	}
	r.times = prune(r.times, l.now().Add(-l.window))
	return len(r.times)
}

// Snapshot returns per-function statistics for diagnostics.
//
// The returned map is a copy; mutating it does not affect the ledger.
func (l *Ledger) Snapshot() map[string]Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	out := make(map[string]Stats, len(l.records))
	for name, r := range l.records {
		r.times = prune(r.times, cutoff)
		out[name] = Stats{TotalCalls: r.total, RecentCalls: len(r.times)}
	}
	return out
}

// Reset clears the named records, or every record when called without
// arguments. Used for test isolation and manual recovery.
func (l *Ledger) Reset(names ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(names) == 0 {
		l.records = make(map[string]*record)
	} else {
		for _, name := range names {
			delete(l.records, name)
		}
	}
	trackedFunctions.Set(float64(len(l.records)))
}

// Window returns the configured sliding window.
func (l *Ledger) Window() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.window
}

// SetWindow replaces the sliding window for future counts. A non-positive
// window falls back to DefaultWindow. Existing timestamps are kept and
// re-evaluated against the new window on the next access.
func (l *Ledger) SetWindow(window time.Duration) {
	if window <= 0 {
		window = DefaultWindow
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.window = window
}

// NewQualifiedName joins an owner and method name into the "Owner.method"
// form recommended for disambiguating same-named methods across owners.
func NewQualifiedName(owner, method string) string {
	if owner == "" {
		return method
	}
	return owner + "." + method
}
