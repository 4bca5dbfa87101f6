// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/simulateai/loopguard/services/guard/incident"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// StreamEvent is one websocket frame on the incident feed.
type StreamEvent struct {
	// Type is "connected" or "incident".
	Type     string             `json:"type"`
	Incident *incident.Incident `json:"incident,omitempty"`
}

// Stream serves live incidents over websocket connections.
type Stream struct {
	guard  *Guard
	logger *slog.Logger
}

// NewStream creates a Stream over g.
func NewStream(g *Guard, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{guard: g, logger: logger}
}

func sendJSON(ws *websocket.Conn, logger *slog.Logger, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		logger.Warn("failed to write websocket JSON", "error", err)
	}
	return err
}

// HandleStream upgrades the request and forwards every future incident to
// the client until it disconnects.
//
// GET /v1/guard/stream
func (s *Stream) HandleStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("failed to upgrade the websocket", "error", err)
		return
	}
	defer ws.Close()
	s.logger.Info("incident stream client connected", "remote", ws.RemoteAddr().String())

	feed, cancel := s.guard.Subscribe()
	defer cancel()

	if err := sendJSON(ws, s.logger, StreamEvent{Type: "connected"}); err != nil {
		return
	}

	// Reader goroutine: its only job is to notice the disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case inc, ok := <-feed:
			if !ok {
				return
			}
			if err := sendJSON(ws, s.logger, StreamEvent{Type: "incident", Incident: &inc}); err != nil {
				return
			}
		case <-done:
			s.logger.Info("incident stream client disconnected", "remote", ws.RemoteAddr().String())
			return
		}
	}
}
