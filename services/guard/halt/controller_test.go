// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package halt

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController() *Controller {
	return NewController(slog.New(slog.DiscardHandler))
}

func TestStopAllSweepsEverything(t *testing.T) {
	c := newTestController()

	timer := time.NewTimer(time.Hour)
	ticker := time.NewTicker(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	var stopReason string
	c.RegisterTimer(timer)
	c.RegisterTicker(ticker)
	c.RegisterCancel(cancel)
	c.RegisterObserver(ObserverFunc(func(reason string) { stopReason = reason }))
	require.Equal(t, 4, c.Registered())

	c.StopAll("excessive_calls in render")

	assert.True(t, c.Executed())
	assert.Equal(t, 0, c.Registered())
	assert.Equal(t, "excessive_calls in render", stopReason)
	assert.Error(t, ctx.Err())
}

func TestStopAllIsIdempotent(t *testing.T) {
	c := newTestController()

	var stops int
	c.RegisterObserver(ObserverFunc(func(string) { stops++ }))

	c.StopAll("first")
	c.StopAll("second")
	c.StopAll("third")

	assert.Equal(t, 1, stops)
}

func TestStopAllSurvivesPanickingResources(t *testing.T) {
	c := newTestController()

	var cancelled, notified bool
	c.RegisterCancel(func() { panic("bad cancel") })
	c.RegisterCancel(func() { cancelled = true })
	c.RegisterObserver(ObserverFunc(func(string) { panic("bad observer") }))
	c.RegisterObserver(ObserverFunc(func(string) { notified = true }))

	c.StopAll("sweep")

	assert.True(t, cancelled)
	assert.True(t, notified)
}

func TestDeregisterRemovesResource(t *testing.T) {
	c := newTestController()

	var cancelled bool
	id := c.RegisterCancel(func() { cancelled = true })
	c.Deregister(id)
	c.Deregister(999)

	c.StopAll("sweep")
	assert.False(t, cancelled)
}

func TestRegistrationReArmsAfterStop(t *testing.T) {
	c := newTestController()

	timer := time.NewTimer(time.Hour)
	c.RegisterTimer(timer)
	c.StopAll("first")
	require.True(t, c.Executed())

	// A host restarting its loops gets swept by the next stop without an
	// explicit Reset.
	var cancelled bool
	c.RegisterCancel(func() { cancelled = true })
	assert.False(t, c.Executed())

	c.StopAll("second")
	assert.True(t, cancelled)
	assert.Equal(t, 0, c.Registered())
	assert.True(t, c.Executed())
}

func TestResetReArmsController(t *testing.T) {
	c := newTestController()

	var stops int
	c.RegisterObserver(ObserverFunc(func(string) { stops++ }))
	c.StopAll("first")
	require.Equal(t, 1, stops)

	c.Reset()
	assert.False(t, c.Executed())

	c.RegisterObserver(ObserverFunc(func(string) { stops++ }))
	c.StopAll("second")
	assert.Equal(t, 2, stops)
}

func TestConcurrentRegisterAndStop(t *testing.T) {
	c := newTestController()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := c.RegisterCancel(func() {})
				if j%2 == 0 {
					c.Deregister(id)
				}
			}
		}()
	}
	wg.Wait()

	c.StopAll("sweep")
	assert.True(t, c.Executed())
	assert.Equal(t, 0, c.Registered())
}
