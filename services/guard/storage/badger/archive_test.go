// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badger

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simulateai/loopguard/services/guard/incident"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewArchive(db, slog.New(slog.DiscardHandler))
}

func testIncident(i int) incident.Incident {
	return incident.Incident{
		ID:           fmt.Sprintf("inc-%03d", i),
		Timestamp:    time.Date(2025, 6, 1, 12, 0, i, 0, time.UTC),
		FunctionName: "render",
		Kind:         incident.KindExcessiveCalls,
		Count:        50 + i,
		StackDepth:   4,
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	a := newTestArchive(t)

	for i := 0; i < 5; i++ {
		a.OnIncident(testIncident(i))
	}

	n, err := a.Len()
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	recent, err := a.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 5)

	// Newest first, fields intact.
	assert.Equal(t, "inc-004", recent[0].ID)
	assert.Equal(t, "inc-000", recent[4].ID)
	assert.Equal(t, incident.KindExcessiveCalls, recent[0].Kind)
	assert.Equal(t, 54, recent[0].Count)
	assert.True(t, recent[0].Timestamp.Equal(testIncident(4).Timestamp))
}

func TestArchiveRecentHonorsLimit(t *testing.T) {
	a := newTestArchive(t)
	for i := 0; i < 10; i++ {
		a.OnIncident(testIncident(i))
	}

	recent, err := a.Recent(3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "inc-009", recent[0].ID)
	assert.Equal(t, "inc-007", recent[2].ID)
}

func TestArchiveRecentEmpty(t *testing.T) {
	a := newTestArchive(t)
	recent, err := a.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestArchivePurge(t *testing.T) {
	a := newTestArchive(t)
	for i := 0; i < 4; i++ {
		a.OnIncident(testIncident(i))
	}

	require.NoError(t, a.Purge())
	n, err := a.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestOpenPersistent(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	db, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
