// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package stacktrace captures the current synchronous call stack for
// recursion-depth and repeated-pattern analysis.
//
// The capture path is deliberately narrow: a FrameProvider supplies an
// ordered frame list, and the default provider uses runtime.Callers rather
// than parsing printed traces, so frame identifiers are exact instead of
// best-effort text matches. Sampling is O(stack size), never recurses, and
// is excluded from the guard's own instrumentation so it cannot trigger
// itself.
//
// Thread Safety:
//
//	Sampler and RuntimeProvider are safe for concurrent use.
package stacktrace

import (
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
)

// DefaultFrameLimit bounds how many frames a single sample may capture.
// Deep runaway recursion is detected long before this bound; capturing the
// whole stack of a recursion storm would itself allocate excessively.
const DefaultFrameLimit = 256

// Sample is one observation of the synchronous call stack.
type Sample struct {
	// Depth is the number of captured frames.
	Depth int `json:"depth"`

	// Frames is ordered innermost-first. Each entry is a fully qualified
	// function name as reported by the runtime, e.g.
	// "github.com/simulateai/loopguard/services/guard.(*Guard).Observe".
	Frames []string `json:"frames,omitempty"`
}

// Occurrences counts frames matching name.
//
// A frame matches when it equals name exactly or ends with ".name", so
// callers may supply either a short name ("render") or a qualified one.
func (s Sample) Occurrences(name string) int {
	if name == "" {
		return 0
	}
	count := 0
	suffix := "." + name
	for _, frame := range s.Frames {
		if frame == name || strings.HasSuffix(frame, suffix) {
			count++
		}
	}
	return count
}

// FrameProvider supplies the current call stack as ordered frame names.
//
// Implementations must be O(stack size), must not recurse, and must return
// nil (not an error) when no stack is available; the sampler treats an
// empty result as degraded capture rather than a failure.
type FrameProvider interface {
	// CurrentFrames returns up to limit frame names, innermost first,
	// excluding the provider's own capture frames.
	CurrentFrames(limit int) []string
}

// RuntimeProvider captures frames with runtime.Callers.
type RuntimeProvider struct {
	// SkipPrefixes lists fully qualified function-name prefixes to drop
	// from samples, in addition to the provider's own frames. The guard
	// registers its packages here so instrumentation never observes
	// itself.
	SkipPrefixes []string
}

// CurrentFrames implements FrameProvider.
func (p *RuntimeProvider) CurrentFrames(limit int) []string {
	if limit <= 0 {
		limit = DefaultFrameLimit
	}

	pcs := make([]uintptr, limit)
	// Skip runtime.Callers, CurrentFrames, and the Sample call itself.
	n := runtime.Callers(3, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	out := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !p.skip(frame.Function) {
			out = append(out, frame.Function)
		}
		if !more {
			break
		}
	}
	return out
}

func (p *RuntimeProvider) skip(fn string) bool {
	for _, prefix := range p.SkipPrefixes {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	return false
}

// Sampler produces stack samples via a FrameProvider.
type Sampler struct {
	provider FrameProvider
	limit    int

	// degraded is set when a capture returns no frames; logged once by the
	// owner at initialization or first occurrence.
	degraded     atomic.Bool
	degradedOnce sync.Once
	onDegraded   func()
}

// NewSampler creates a Sampler.
//
// A nil provider yields a permanently degraded sampler whose samples are
// always {0, nil}: recursion and pattern detection silently pass while
// call-frequency detection stays fully functional. onDegraded, if non-nil,
// is invoked exactly once on the first degraded capture.
func NewSampler(provider FrameProvider, limit int, onDegraded func()) *Sampler {
	if limit <= 0 {
		limit = DefaultFrameLimit
	}
	s := &Sampler{provider: provider, limit: limit, onDegraded: onDegraded}
	if provider == nil {
		s.markDegraded()
	}
	return s
}

// Sample captures the caller's current synchronous stack.
//
// Never fails: when the provider yields no frames the sample degrades to
// {Depth: 0, Frames: nil}.
func (s *Sampler) Sample() Sample {
	if s.provider == nil {
		return Sample{}
	}
	frames := s.provider.CurrentFrames(s.limit)
	if len(frames) == 0 {
		s.markDegraded()
		return Sample{}
	}
	return Sample{Depth: len(frames), Frames: frames}
}

// Degraded reports whether any capture has failed to produce frames.
func (s *Sampler) Degraded() bool {
	return s.degraded.Load()
}

func (s *Sampler) markDegraded() {
	s.degraded.Store(true)
	s.degradedOnce.Do(func() {
		if s.onDegraded != nil {
			s.onDegraded()
		}
	})
}

// StaticProvider returns fixed frames on every capture. Intended for tests
// and for hosts embedding the guard in environments where the native stack
// is unavailable.
type StaticProvider struct {
	Frames []string
}

// CurrentFrames implements FrameProvider.
func (p *StaticProvider) CurrentFrames(limit int) []string {
	if limit > 0 && len(p.Frames) > limit {
		return p.Frames[:limit]
	}
	return p.Frames
}
