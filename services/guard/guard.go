// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guard detects runaway execution: call-frequency storms, deep
// recursion, and repeated call patterns. It wires the call ledger, stack
// sampler, incident classifier and emergency stop controller into one
// explicit context object that hosts embed.
//
// There are no global singletons. Each Guard owns its own state, so a
// process can run independently tuned guards for independent subsystems.
package guard

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simulateai/loopguard/services/guard/config"
	"github.com/simulateai/loopguard/services/guard/halt"
	"github.com/simulateai/loopguard/services/guard/incident"
	"github.com/simulateai/loopguard/services/guard/instrument"
	"github.com/simulateai/loopguard/services/guard/ledger"
	"github.com/simulateai/loopguard/services/guard/stacktrace"
)

// guardFramePrefix keeps the guard's own packages out of stack samples so
// instrumentation never observes itself.
const guardFramePrefix = "github.com/simulateai/loopguard/services/guard"

// Guard is the runaway-execution detector. Create one with New, point
// host code at it through Observe, Track or WrapFunc, and register the
// host's stoppable resources so an emergency stop can halt them.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Guard struct {
	mu  sync.Mutex
	cfg config.Config

	logger     *slog.Logger
	ledger     *ledger.Ledger
	sampler    *stacktrace.Sampler
	incidents  *incident.Log
	classifier *incident.Classifier
	halt       *halt.Controller
	tracker    *instrument.Tracker

	enabled       atomic.Bool
	closed        atomic.Bool
	sinceReset    atomic.Uint64
	autoStopFired atomic.Bool

	subMu  sync.Mutex
	subs   map[uint64]chan incident.Incident
	nextID uint64
}

// Option customizes Guard construction.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	provider stacktrace.FrameProvider
	sinks    []incident.Sink
	clock    func() time.Time
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFrameProvider replaces the runtime stack capturer. Intended for
// tests and for hosts embedding the guard where the native stack is
// unavailable.
func WithFrameProvider(p stacktrace.FrameProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithSink registers an additional incident sink, such as the durable
// archive.
func WithSink(s incident.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithClock overrides the ledger clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New creates a Guard from cfg. The configuration is validated first;
// invalid settings are reported wrapped in config.ErrInvalidConfig.
func New(cfg config.Config, opts ...Option) (*Guard, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("guard: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.provider == nil {
		o.provider = &stacktrace.RuntimeProvider{
			SkipPrefixes: []string{guardFramePrefix},
		}
	}

	g := &Guard{
		cfg:       cfg,
		logger:    o.logger,
		incidents: incident.NewLog(cfg.IncidentLogSize),
		halt:      halt.NewController(o.logger),
		subs:      make(map[uint64]chan incident.Incident),
	}
	g.enabled.Store(cfg.Enabled)

	var ledgerOpts []ledger.Option
	if o.clock != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithClock(o.clock))
	}
	g.ledger = ledger.New(time.Duration(cfg.Window), ledgerOpts...)

	g.sampler = stacktrace.NewSampler(o.provider, cfg.SampleLimit, func() {
		o.logger.Warn("stack capture unavailable, recursion detection degraded")
	})

	g.classifier = incident.NewClassifier(incident.Thresholds{
		MaxCallsPerWindow: cfg.MaxCallsPerWindow,
		MaxStackDepth:     cfg.MaxStackDepth,
		MaxPatternRepeats: cfg.MaxPatternRepeats,
	}, g.incidents, o.logger)

	// Internal sink first so auto-stop and the subscriber feed see every
	// incident, then the caller's sinks in registration order.
	g.classifier.AddSink(incident.SinkFunc(g.onIncident))
	for _, s := range o.sinks {
		g.classifier.AddSink(s)
	}

	g.tracker = instrument.NewTracker(g)

	if !cfg.Enabled {
		o.logger.Info("guard created disabled, detection is off")
	}
	return g, nil
}

// Observe records one call of name and classifies it. It returns the
// incident raised by this call, or nil. Host code that cannot use Track
// or WrapFunc calls Observe directly at the top of the function body.
func (g *Guard) Observe(name string) *incident.Incident {
	if !g.enabled.Load() || g.closed.Load() {
		return nil
	}
	count := g.ledger.Record(name)
	sample := g.sampler.Sample()
	return g.classifier.Classify(name, count, sample)
}

// Record implements instrument.Recorder for wrapped functions. The
// returned block flag honors the BlockOnIncident policy.
func (g *Guard) Record(name string) bool {
	inc := g.Observe(name)
	if inc == nil {
		return false
	}
	g.mu.Lock()
	block := g.cfg.BlockOnIncident
	g.mu.Unlock()
	return block
}

// onIncident runs for every classified incident: feeds subscribers and
// applies the auto-stop policy.
func (g *Guard) onIncident(inc incident.Incident) {
	g.subMu.Lock()
	for _, ch := range g.subs {
		incident.Drain(ch, inc)
	}
	g.subMu.Unlock()

	count := g.sinceReset.Add(1)

	g.mu.Lock()
	autoStop := g.cfg.AutoStop
	threshold := uint64(g.cfg.AutoStopThreshold)
	g.mu.Unlock()

	if autoStop && count >= threshold && g.autoStopFired.CompareAndSwap(false, true) {
		g.EmergencyStop(fmt.Sprintf("%d incidents since last reset, last: %s in %s",
			count, inc.Kind, inc.FunctionName))
	}
}

// Track instruments the func-typed field on owner, a pointer to a
// struct. Every call of the field then flows through Observe under the
// name "Type.Field".
func (g *Guard) Track(owner any, field string) error {
	return g.tracker.Track(owner, field)
}

// Untrack restores a tracked field to the exact function value it held
// before Track.
func (g *Guard) Untrack(owner any, field string) error {
	return g.tracker.Untrack(owner, field)
}

// WrapFunc decorates fn so every call is observed under name. The
// wrapper preserves fn's signature; panics and error returns propagate
// unchanged.
func WrapFunc[F any](g *Guard, name string, fn F) (F, error) {
	return instrument.Wrap(g, name, fn)
}

// RegisterTimer tracks t for emergency stop.
func (g *Guard) RegisterTimer(t *time.Timer) uint64 { return g.halt.RegisterTimer(t) }

// RegisterTicker tracks t for emergency stop.
func (g *Guard) RegisterTicker(t *time.Ticker) uint64 { return g.halt.RegisterTicker(t) }

// RegisterCancel tracks cancel for emergency stop.
func (g *Guard) RegisterCancel(cancel func()) uint64 { return g.halt.RegisterCancel(cancel) }

// RegisterObserver tracks obs for emergency stop notification.
func (g *Guard) RegisterObserver(obs halt.Observer) uint64 { return g.halt.RegisterObserver(obs) }

// Deregister removes a resource registered for emergency stop.
func (g *Guard) Deregister(id uint64) { g.halt.Deregister(id) }

// EmergencyStop halts every registered resource. Repeated calls while
// already stopped are no-ops.
func (g *Guard) EmergencyStop(reason string) {
	g.halt.StopAll(reason)
}

// Stopped reports whether an emergency stop has executed since the last
// Reset.
func (g *Guard) Stopped() bool {
	return g.halt.Executed()
}

// Stats is a point-in-time snapshot of the guard's state.
type Stats struct {
	Enabled               bool                    `json:"enabled"`
	Window                string                  `json:"window"`
	SamplerDegraded       bool                    `json:"sampler_degraded"`
	EmergencyStopExecuted bool                    `json:"emergency_stop_executed"`
	TotalIncidents        uint64                  `json:"total_incidents"`
	Functions             map[string]ledger.Stats `json:"functions"`
	Incidents             []incident.Incident     `json:"incidents"`
}

// Stats returns a snapshot of tracked functions, retained incidents and
// guard status.
func (g *Guard) Stats() Stats {
	return Stats{
		Enabled:               g.enabled.Load(),
		Window:                g.ledger.Window().String(),
		SamplerDegraded:       g.sampler.Degraded(),
		EmergencyStopExecuted: g.halt.Executed(),
		TotalIncidents:        g.incidents.Total(),
		Functions:             g.ledger.Snapshot(),
		Incidents:             g.incidents.Snapshot(),
	}
}

// Reset applies a new configuration and clears detection state: ledger
// records, retained incidents, the auto-stop counter and the emergency
// stop flag. Tracked fields and registered resources survive the reset.
// This is the only reconfiguration path; threshold changes never apply
// mid-observation.
func (g *Guard) Reset(cfg config.Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("guard: %w", err)
	}

	g.mu.Lock()
	g.cfg = cfg
	g.mu.Unlock()

	g.classifier.SetThresholds(incident.Thresholds{
		MaxCallsPerWindow: cfg.MaxCallsPerWindow,
		MaxStackDepth:     cfg.MaxStackDepth,
		MaxPatternRepeats: cfg.MaxPatternRepeats,
	})
	g.ledger.SetWindow(time.Duration(cfg.Window))
	g.ledger.Reset()
	g.incidents.Reset()
	g.sinceReset.Store(0)
	g.autoStopFired.Store(false)
	g.halt.Reset()
	g.enabled.Store(cfg.Enabled)

	g.logger.Info("guard reset",
		"enabled", cfg.Enabled,
		"window", time.Duration(cfg.Window).String(),
		"max_calls_per_window", cfg.MaxCallsPerWindow,
		"max_stack_depth", cfg.MaxStackDepth,
		"max_pattern_repeats", cfg.MaxPatternRepeats,
	)
	return nil
}

// Subscribe returns a feed of future incidents and a cancel function.
// The feed is buffered; incidents are dropped for subscribers that fall
// behind rather than blocking detection.
func (g *Guard) Subscribe() (<-chan incident.Incident, func()) {
	ch := make(chan incident.Incident, 64)

	g.subMu.Lock()
	g.nextID++
	id := g.nextID
	g.subs[id] = ch
	g.subMu.Unlock()

	cancel := func() {
		g.subMu.Lock()
		if _, ok := g.subs[id]; ok {
			delete(g.subs, id)
			close(ch)
		}
		g.subMu.Unlock()
	}
	return ch, cancel
}

// Close disables the guard, restores every tracked field and closes all
// subscriber feeds. Safe to call more than once.
func (g *Guard) Close() error {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}
	g.enabled.Store(false)
	g.tracker.UntrackAll()

	g.subMu.Lock()
	for id, ch := range g.subs {
		delete(g.subs, id)
		close(ch)
	}
	g.subMu.Unlock()
	return nil
}

// Config returns a copy of the active configuration.
func (g *Guard) Config() config.Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cfg
}
