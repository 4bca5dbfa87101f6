// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simulateai/loopguard/services/guard/incident"
)

func TestStreamDeliversIncidents(t *testing.T) {
	g := newTestGuard(t, testConfig())

	gin.SetMode(gin.TestMode)
	r := gin.New()
	s := NewStream(g, slog.New(slog.DiscardHandler))
	RegisterRoutes(r.Group("/v1"), NewHandlers(g, nil, nil), s)

	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/guard/stream"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer ws.Close()

	var hello StreamEvent
	require.NoError(t, ws.ReadJSON(&hello))
	assert.Equal(t, "connected", hello.Type)

	// Raise one incident after subscription is live.
	for i := 0; i < 6; i++ {
		g.Observe("render")
	}

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event StreamEvent
	require.NoError(t, ws.ReadJSON(&event))
	assert.Equal(t, "incident", event.Type)
	require.NotNil(t, event.Incident)
	assert.Equal(t, incident.KindExcessiveCalls, event.Incident.Kind)
	assert.Equal(t, "render", event.Incident.FunctionName)
}
