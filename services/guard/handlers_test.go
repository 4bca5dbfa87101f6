// Copyright (C) 2025 SimulateAI (engineering@simulateai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guard

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simulateai/loopguard/services/guard/incident"
)

type fakeArchive struct {
	incidents []incident.Incident
	purged    bool
}

func (a *fakeArchive) Recent(limit int) ([]incident.Incident, error) {
	if limit > len(a.incidents) {
		limit = len(a.incidents)
	}
	return a.incidents[:limit], nil
}

func (a *fakeArchive) Purge() error {
	a.purged = true
	a.incidents = nil
	return nil
}

func newTestRouter(t *testing.T, g *Guard, archive Archiver) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandlers(g, archive, nil)
	RegisterRoutes(r.Group("/v1"), h, nil)
	return r
}

func doRequest(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	g := newTestGuard(t, testConfig())
	r := newTestRouter(t, g, nil)

	w := doRequest(r, http.MethodGet, "/v1/guard/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleStats(t *testing.T) {
	g := newTestGuard(t, testConfig())
	for i := 0; i < 3; i++ {
		g.Observe("render")
	}
	r := newTestRouter(t, g, nil)

	w := doRequest(r, http.MethodGet, "/v1/guard/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.True(t, stats.Enabled)
	assert.Equal(t, uint64(3), stats.Functions["render"].TotalCalls)
}

func TestHandleIncidentsNewestFirst(t *testing.T) {
	g := newTestGuard(t, testConfig())
	for i := 0; i < 8; i++ {
		g.Observe("render")
	}
	r := newTestRouter(t, g, nil)

	w := doRequest(r, http.MethodGet, "/v1/guard/incidents?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var incidents []incident.Incident
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &incidents))
	require.Len(t, incidents, 2)
	// Three incidents were raised; the latest has the highest count.
	assert.Equal(t, 8, incidents[0].Count)
	assert.Equal(t, 7, incidents[1].Count)
}

func TestHandleIncidentsBadLimit(t *testing.T) {
	g := newTestGuard(t, testConfig())
	r := newTestRouter(t, g, nil)

	w := doRequest(r, http.MethodGet, "/v1/guard/incidents?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleIncidentsFromArchive(t *testing.T) {
	g := newTestGuard(t, testConfig())
	archive := &fakeArchive{incidents: []incident.Incident{
		{ID: "new", Kind: incident.KindDeepRecursion},
		{ID: "old", Kind: incident.KindExcessiveCalls},
	}}
	r := newTestRouter(t, g, archive)

	w := doRequest(r, http.MethodGet, "/v1/guard/incidents?source=archive&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var incidents []incident.Incident
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &incidents))
	require.Len(t, incidents, 1)
	assert.Equal(t, "new", incidents[0].ID)
}

func TestHandleIncidentsArchiveDisabled(t *testing.T) {
	g := newTestGuard(t, testConfig())
	r := newTestRouter(t, g, nil)

	w := doRequest(r, http.MethodGet, "/v1/guard/incidents?source=archive", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleStop(t *testing.T) {
	g := newTestGuard(t, testConfig())
	var stopped bool
	g.RegisterCancel(func() { stopped = true })
	r := newTestRouter(t, g, nil)

	w := doRequest(r, http.MethodPost, "/v1/guard/stop", StopRequest{Reason: "operator"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, stopped)

	var resp StopResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Executed)

	// Second stop reports Executed false.
	w = doRequest(r, http.MethodPost, "/v1/guard/stop", StopRequest{Reason: "again"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Executed)
}

func TestHandleStopRequiresReason(t *testing.T) {
	g := newTestGuard(t, testConfig())
	r := newTestRouter(t, g, nil)

	w := doRequest(r, http.MethodPost, "/v1/guard/stop", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, g.Stopped())
}

func TestHandleReset(t *testing.T) {
	g := newTestGuard(t, testConfig())
	for i := 0; i < 8; i++ {
		g.Observe("render")
	}
	r := newTestRouter(t, g, nil)

	max := 200
	w := doRequest(r, http.MethodPost, "/v1/guard/reset", ResetRequest{
		Window:            "2s",
		MaxCallsPerWindow: &max,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Empty(t, stats.Incidents)
	assert.Equal(t, "2s", stats.Window)
	assert.Equal(t, 200, g.Config().MaxCallsPerWindow)
}

func TestHandleResetBadWindow(t *testing.T) {
	g := newTestGuard(t, testConfig())
	r := newTestRouter(t, g, nil)

	w := doRequest(r, http.MethodPost, "/v1/guard/reset", ResetRequest{Window: "fast"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePurgeArchive(t *testing.T) {
	g := newTestGuard(t, testConfig())
	archive := &fakeArchive{incidents: []incident.Incident{{ID: "a"}}}
	r := newTestRouter(t, g, archive)

	w := doRequest(r, http.MethodDelete, "/v1/guard/incidents/archive", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, archive.purged)
}
