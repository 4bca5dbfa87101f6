// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"context"
	"log/slog"
	"sync"
)

// Record is one captured log entry.
type Record struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// BufferHandler is an slog.Handler that captures records in memory.
// Intended for tests that assert on log output:
//
//	buf := logging.NewBufferHandler()
//	logger := slog.New(buf)
//	...
//	records := buf.Records()
type BufferHandler struct {
	mu      sync.Mutex
	attrs   []slog.Attr
	records []Record
}

// NewBufferHandler creates an empty BufferHandler.
func NewBufferHandler() *BufferHandler {
	return &BufferHandler{}
}

// Enabled implements slog.Handler. Every level is captured.
func (h *BufferHandler) Enabled(context.Context, slog.Level) bool { return true }

// Handle implements slog.Handler.
func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, Record{Level: r.Level, Message: r.Message, Attrs: attrs})
	return nil
}

// WithAttrs implements slog.Handler. The derived handler shares the
// record buffer so tests see output from child loggers too.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sharedBufferHandler{parent: h, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

// WithGroup implements slog.Handler. Groups are flattened.
func (h *BufferHandler) WithGroup(string) slog.Handler { return h }

// Records returns a copy of the captured records.
func (h *BufferHandler) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Record, len(h.records))
	copy(out, h.records)
	return out
}

// Messages returns just the captured messages, in order.
func (h *BufferHandler) Messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.records))
	for i, r := range h.records {
		out[i] = r.Message
	}
	return out
}

// Reset discards all captured records.
func (h *BufferHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = h.records[:0]
}

// sharedBufferHandler is a WithAttrs view onto a BufferHandler.
type sharedBufferHandler struct {
	parent *BufferHandler
	attrs  []slog.Attr
}

func (h *sharedBufferHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *sharedBufferHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.parent.mu.Lock()
	defer h.parent.mu.Unlock()
	h.parent.records = append(h.parent.records, Record{Level: r.Level, Message: r.Message, Attrs: attrs})
	return nil
}

func (h *sharedBufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sharedBufferHandler{parent: h.parent, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *sharedBufferHandler) WithGroup(string) slog.Handler { return h }
