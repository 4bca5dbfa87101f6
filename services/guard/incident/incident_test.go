// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package incident

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simulateai/loopguard/services/guard/stacktrace"
)

func newTestClassifier(t Thresholds, log *Log) *Classifier {
	c := NewClassifier(t, log, slog.New(slog.DiscardHandler))
	c.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestClassifyExcessiveCalls(t *testing.T) {
	log := NewLog(10)
	c := newTestClassifier(Thresholds{MaxCallsPerWindow: 5, MaxStackDepth: 100, MaxPatternRepeats: 10}, log)

	// Calls 1..5 land on or under the threshold and raise nothing.
	for calls := 1; calls <= 5; calls++ {
		assert.Nil(t, c.Classify("render", calls, stacktrace.Sample{Depth: 3}))
	}

	inc := c.Classify("render", 6, stacktrace.Sample{Depth: 3})
	require.NotNil(t, inc)
	assert.Equal(t, KindExcessiveCalls, inc.Kind)
	assert.Equal(t, "render", inc.FunctionName)
	assert.Equal(t, 6, inc.Count)
	assert.Equal(t, 3, inc.StackDepth)
	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, 1, log.Len())
}

func TestClassifyDeepRecursion(t *testing.T) {
	c := newTestClassifier(Thresholds{MaxCallsPerWindow: 1000, MaxStackDepth: 50, MaxPatternRepeats: 100}, NewLog(10))

	assert.Nil(t, c.Classify("descend", 1, stacktrace.Sample{Depth: 50}))

	inc := c.Classify("descend", 1, stacktrace.Sample{Depth: 51})
	require.NotNil(t, inc)
	assert.Equal(t, KindDeepRecursion, inc.Kind)
	assert.Equal(t, 51, inc.Count)
	assert.Equal(t, 51, inc.StackDepth)
}

func TestClassifyRepeatedPattern(t *testing.T) {
	c := newTestClassifier(Thresholds{MaxCallsPerWindow: 1000, MaxStackDepth: 1000, MaxPatternRepeats: 2}, NewLog(10))

	frames := []string{"main.ping", "main.pong", "main.ping", "main.pong", "main.ping"}
	sample := stacktrace.Sample{Depth: len(frames), Frames: frames}

	inc := c.Classify("ping", 1, sample)
	require.NotNil(t, inc)
	assert.Equal(t, KindRepeatedPattern, inc.Kind)
	assert.Equal(t, 3, inc.Count)

	// Exactly at the repeat bound is still normal.
	twice := stacktrace.Sample{Depth: 4, Frames: []string{"main.ping", "main.pong", "main.ping", "main.pong"}}
	assert.Nil(t, c.Classify("ping", 1, twice))
}

func TestClassifyOrderShortCircuits(t *testing.T) {
	c := newTestClassifier(Thresholds{MaxCallsPerWindow: 1, MaxStackDepth: 1, MaxPatternRepeats: 1}, NewLog(10))

	// All three bounds are breached; only the first rule fires.
	frames := []string{"main.f", "main.f", "main.f"}
	inc := c.Classify("f", 10, stacktrace.Sample{Depth: 3, Frames: frames})
	require.NotNil(t, inc)
	assert.Equal(t, KindExcessiveCalls, inc.Kind)
}

func TestClassifyDegradedSampleSkipsStackRules(t *testing.T) {
	c := newTestClassifier(Thresholds{MaxCallsPerWindow: 100, MaxStackDepth: 5, MaxPatternRepeats: 1}, NewLog(10))

	// A degraded sample has depth zero and no frames, so only the
	// call-frequency rule can ever fire.
	assert.Nil(t, c.Classify("f", 50, stacktrace.Sample{}))

	inc := c.Classify("f", 101, stacktrace.Sample{})
	require.NotNil(t, inc)
	assert.Equal(t, KindExcessiveCalls, inc.Kind)
	assert.Equal(t, 0, inc.StackDepth)
}

func TestClassifyDisabledThresholds(t *testing.T) {
	// Zero thresholds disable their rules entirely.
	c := newTestClassifier(Thresholds{}, NewLog(10))
	assert.Nil(t, c.Classify("f", 1_000_000, stacktrace.Sample{Depth: 10_000}))
}

func TestClassifierSinkFanOut(t *testing.T) {
	c := newTestClassifier(Thresholds{MaxCallsPerWindow: 1}, NewLog(10))

	var got []Incident
	c.AddSink(SinkFunc(func(inc Incident) { got = append(got, inc) }))
	c.AddSink(nil)

	c.Classify("f", 2, stacktrace.Sample{})
	c.Classify("f", 3, stacktrace.Sample{})
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Count)
	assert.Equal(t, 3, got[1].Count)
}

func TestClassifierSetThresholds(t *testing.T) {
	c := newTestClassifier(Thresholds{MaxCallsPerWindow: 100}, NewLog(10))
	assert.Nil(t, c.Classify("f", 50, stacktrace.Sample{}))

	c.SetThresholds(Thresholds{MaxCallsPerWindow: 10})
	require.NotNil(t, c.Classify("f", 50, stacktrace.Sample{}))
	assert.Equal(t, 10, c.Thresholds().MaxCallsPerWindow)
}

func TestLogEvictsOldestWhenFull(t *testing.T) {
	log := NewLog(3)
	for i := 0; i < 5; i++ {
		log.Append(Incident{ID: fmt.Sprintf("inc-%d", i)})
	}

	assert.Equal(t, 3, log.Len())
	assert.Equal(t, uint64(5), log.Total())

	items := log.Snapshot()
	require.Len(t, items, 3)
	assert.Equal(t, "inc-2", items[0].ID)
	assert.Equal(t, "inc-4", items[2].ID)
}

func TestLogReset(t *testing.T) {
	log := NewLog(3)
	log.Append(Incident{ID: "a"})
	log.Reset()

	assert.Equal(t, 0, log.Len())
	assert.Equal(t, uint64(1), log.Total())
}

func TestLogSnapshotIsCopy(t *testing.T) {
	log := NewLog(3)
	log.Append(Incident{ID: "a"})

	snap := log.Snapshot()
	snap[0].ID = "mutated"
	assert.Equal(t, "a", log.Snapshot()[0].ID)
}

func TestDrain(t *testing.T) {
	ch := make(chan Incident, 1)
	assert.True(t, Drain(ch, Incident{ID: "a"}))
	assert.False(t, Drain(ch, Incident{ID: "b"}))
	assert.Equal(t, "a", (<-ch).ID)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "excessive_calls", KindExcessiveCalls.String())
	assert.Equal(t, "deep_recursion", KindDeepRecursion.String())
	assert.Equal(t, "repeated_pattern", KindRepeatedPattern.String())
}
