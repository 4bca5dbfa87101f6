// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the guard API with the router group.
//
// Endpoints:
//
//	GET    /v1/guard/health            - Liveness probe
//	GET    /v1/guard/stats             - Current guard snapshot
//	GET    /v1/guard/incidents         - Retained incidents (newest first)
//	DELETE /v1/guard/incidents/archive - Purge the durable archive
//	POST   /v1/guard/stop              - Execute the emergency stop
//	POST   /v1/guard/reset             - Reset detection state
//	GET    /v1/guard/stream            - Websocket incident feed
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers, s *Stream) {
	g := rg.Group("/guard")
	g.GET("/health", h.HandleHealth)
	g.GET("/stats", h.HandleStats)
	g.GET("/incidents", h.HandleIncidents)
	g.DELETE("/incidents/archive", h.HandlePurgeArchive)
	g.POST("/stop", h.HandleStop)
	g.POST("/reset", h.HandleReset)
	if s != nil {
		g.GET("/stream", s.HandleStream)
	}
}
