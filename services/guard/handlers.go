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
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/simulateai/loopguard/services/guard/config"
	"github.com/simulateai/loopguard/services/guard/incident"
)

// Archiver is the optional durable incident store behind the API. The
// Badger archive satisfies it.
type Archiver interface {
	Recent(limit int) ([]incident.Incident, error)
	Purge() error
}

// Handlers exposes the guard over HTTP.
type Handlers struct {
	guard   *Guard
	archive Archiver
	logger  *slog.Logger
}

// NewHandlers creates the HTTP handlers for g. archive may be nil when
// durable storage is disabled.
func NewHandlers(g *Guard, archive Archiver, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{guard: g, archive: archive, logger: logger}
}

// HandleHealth reports liveness.
//
// GET /v1/guard/health
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Service: "guardd"})
}

// HandleStats returns the guard's current snapshot.
//
// GET /v1/guard/stats
func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.guard.Stats())
}

// HandleIncidents returns retained incidents, newest first. With
// ?source=archive and storage enabled, it reads from the durable archive
// instead of the in-memory log.
//
// GET /v1/guard/incidents?limit=N&source=archive
func (h *Handlers) HandleIncidents(c *gin.Context) {
	limit := incident.DefaultLogSize
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	if c.Query("source") == "archive" {
		if h.archive == nil {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "incident archive is not enabled"})
			return
		}
		incidents, err := h.archive.Recent(limit)
		if err != nil {
			h.logger.Error("archive read failed", "error", err)
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read the incident archive"})
			return
		}
		c.JSON(http.StatusOK, incidents)
		return
	}

	incidents := h.guard.Stats().Incidents
	// The in-memory log is oldest-first; the API serves newest-first.
	for i, j := 0, len(incidents)-1; i < j; i, j = i+1, j-1 {
		incidents[i], incidents[j] = incidents[j], incidents[i]
	}
	if len(incidents) > limit {
		incidents = incidents[:limit]
	}
	c.JSON(http.StatusOK, incidents)
}

// HandleStop executes the emergency stop.
//
// POST /v1/guard/stop
func (h *Handlers) HandleStop(c *gin.Context) {
	var req StopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "reason is required"})
		return
	}

	alreadyStopped := h.guard.Stopped()
	h.guard.EmergencyStop(req.Reason)
	c.JSON(http.StatusOK, StopResponse{Executed: !alreadyStopped, Reason: req.Reason})
}

// HandleReset resets detection state, optionally with new thresholds.
//
// POST /v1/guard/reset
func (h *Handlers) HandleReset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed reset request"})
		return
	}

	cfg := h.guard.Config()
	if req.Window != "" {
		parsed, err := time.ParseDuration(req.Window)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "window must be a duration like \"500ms\""})
			return
		}
		cfg.Window = config.Duration(parsed)
	}
	if req.MaxCallsPerWindow != nil {
		cfg.MaxCallsPerWindow = *req.MaxCallsPerWindow
	}
	if req.MaxStackDepth != nil {
		cfg.MaxStackDepth = *req.MaxStackDepth
	}
	if req.MaxPatternRepeats != nil {
		cfg.MaxPatternRepeats = *req.MaxPatternRepeats
	}
	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}

	if err := h.guard.Reset(cfg); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.guard.Stats())
}

// HandlePurgeArchive deletes every archived incident.
//
// DELETE /v1/guard/incidents/archive
func (h *Handlers) HandlePurgeArchive(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "incident archive is not enabled"})
		return
	}
	if err := h.archive.Purge(); err != nil {
		h.logger.Error("archive purge failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to purge the incident archive"})
		return
	}
	c.Status(http.StatusNoContent)
}
