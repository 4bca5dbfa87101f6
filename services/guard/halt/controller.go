// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package halt coordinates emergency stops. Hosts register their periodic
// work (timers, tickers, cancel functions, observers) with a Controller;
// when runaway execution is confirmed, StopAll halts everything that was
// registered in one sweep.
package halt

import (
	"log/slog"
	"sync"
	"time"
)

// Observer is notified when an emergency stop executes. Implementations
// run inline during the sweep and must return quickly; a panicking
// observer is recovered and does not abort the sweep.
type Observer interface {
	OnEmergencyStop(reason string)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(reason string)

// OnEmergencyStop implements Observer.
func (f ObserverFunc) OnEmergencyStop(reason string) { f(reason) }

type resourceKind string

const (
	kindTimer    resourceKind = "timer"
	kindTicker   resourceKind = "ticker"
	kindCancel   resourceKind = "cancel"
	kindObserver resourceKind = "observer"
)

type resource struct {
	kind     resourceKind
	timer    *time.Timer
	ticker   *time.Ticker
	cancel   func()
	observer Observer
}

// Controller tracks stoppable resources and executes the emergency stop.
//
// Stopping is sticky: after StopAll, Executed reports true and further
// StopAll calls are no-ops until Reset. Registration remains allowed while
// stopped so a host restarting its loops re-arms the controller naturally.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Controller struct {
	mu        sync.Mutex
	resources map[uint64]resource
	nextID    uint64
	executed  bool
	logger    *slog.Logger
}

// NewController creates a Controller reporting through logger.
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		resources: make(map[uint64]resource),
		logger:    logger,
	}
}

// RegisterTimer tracks t for emergency stop. The returned id deregisters
// it via Deregister.
func (c *Controller) RegisterTimer(t *time.Timer) uint64 {
	return c.register(resource{kind: kindTimer, timer: t})
}

// RegisterTicker tracks t for emergency stop.
func (c *Controller) RegisterTicker(t *time.Ticker) uint64 {
	return c.register(resource{kind: kindTicker, ticker: t})
}

// RegisterCancel tracks cancel, typically a context.CancelFunc governing a
// host loop or animation-style callback chain.
func (c *Controller) RegisterCancel(cancel func()) uint64 {
	return c.register(resource{kind: kindCancel, cancel: cancel})
}

// RegisterObserver tracks obs to be notified on emergency stop.
func (c *Controller) RegisterObserver(obs Observer) uint64 {
	return c.register(resource{kind: kindObserver, observer: obs})
}

func (c *Controller) register(r resource) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.resources[id] = r
	// A registration after a stop re-arms the controller so the new
	// resource is eligible for the next sweep.
	c.executed = false
	registeredResources.WithLabelValues(string(r.kind)).Inc()
	return id
}

// Deregister removes a previously registered resource. Unknown ids are
// ignored.
func (c *Controller) Deregister(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.resources[id]
	if !ok {
		return
	}
	delete(c.resources, id)
	registeredResources.WithLabelValues(string(r.kind)).Dec()
}

// StopAll executes the emergency stop: every registered timer and ticker
// is stopped, every cancel function invoked, and every observer notified
// with reason. The sweep is best effort and continues past panicking
// resources. Repeated calls while already stopped do nothing until a new
// resource is registered or Reset runs.
func (c *Controller) StopAll(reason string) {
	c.mu.Lock()
	if c.executed {
		c.mu.Unlock()
		return
	}
	c.executed = true
	swept := make([]resource, 0, len(c.resources))
	for _, r := range c.resources {
		swept = append(swept, r)
	}
	c.resources = make(map[uint64]resource)
	c.mu.Unlock()

	registeredResources.Reset()

	counts := map[resourceKind]int{}
	for _, r := range swept {
		c.stopOne(r)
		counts[r.kind]++
	}
	emergencyStops.Inc()

	c.logger.Error("emergency stop executed",
		"reason", reason,
		"timers", counts[kindTimer],
		"tickers", counts[kindTicker],
		"cancels", counts[kindCancel],
		"observers", counts[kindObserver],
	)

	for _, r := range swept {
		if r.kind == kindObserver {
			c.notify(r.observer, reason)
		}
	}
}

func (c *Controller) stopOne(r resource) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Warn("resource panicked during emergency stop", "kind", string(r.kind), "panic", p)
		}
	}()
	switch r.kind {
	case kindTimer:
		r.timer.Stop()
	case kindTicker:
		r.ticker.Stop()
	case kindCancel:
		r.cancel()
	}
}

func (c *Controller) notify(obs Observer, reason string) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Warn("observer panicked during emergency stop", "panic", p)
		}
	}()
	obs.OnEmergencyStop(reason)
}

// Executed reports whether an emergency stop has run since the last Reset.
func (c *Controller) Executed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executed
}

// Reset clears the executed flag so a future StopAll sweeps again.
// Resources registered since the stop are retained.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executed = false
}

// Registered returns the number of currently tracked resources.
func (c *Controller) Registered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resources)
}
