package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kwv/seabedmesh/mesh"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// testResult returns a finished run over a 3x2 grid at 1 m with three
// covered cells and a two-point track.
func testResult(t *testing.T) *mesh.Result {
	t.Helper()
	acc := mesh.NewAccumulator(mesh.BinningExtend, 0)
	var batch mesh.WorldSamples
	batch.Append(0, 0, 10)
	batch.Append(1, 0, 20)
	batch.Append(2, 1, 30)
	acc.Add(batch)
	raster, err := acc.Finalize(1)
	require.NoError(t, err)

	return &mesh.Result{
		RunID:    "run-1",
		Counters: mesh.Counters{SonarEvents: 3, RawFrames: 3, Accepted: 3, Processed: 3, Samples: 3},
		Raster:   raster,
		Track:    orb.LineString{{0, 0}, {2, 1}},
		Started:  time.Unix(1742392728, 0),
		Duration: time.Second,
	}
}

// finishedState returns a RunState holding testResult.
func finishedState(t *testing.T) *mesh.RunState {
	st := mesh.NewRunState(mesh.DefaultConfig().Render)
	st.Start("survey.bag")
	st.Finish(testResult(t))
	return st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// /health and /status
// ---------------------------------------------------------------------------

func TestHealth_Idle(t *testing.T) {
	h := newHTTPServer(mesh.NewRunState(mesh.RenderConfig{}), nil)
	rec := get(t, h, "/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Status string        `json:"status"`
		Phase  mesh.RunPhase `json:"phase"`
		HasMap bool          `json:"hasMap"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, mesh.PhaseIdle, body.Phase)
	assert.False(t, body.HasMap)
}

func TestHealth_Finished(t *testing.T) {
	rec := get(t, newHTTPServer(finishedState(t), nil), "/health")

	var body struct {
		Phase  mesh.RunPhase `json:"phase"`
		HasMap bool          `json:"hasMap"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, mesh.PhaseFinished, body.Phase)
	assert.True(t, body.HasMap)
}

func TestStatus_Running(t *testing.T) {
	st := mesh.NewRunState(mesh.RenderConfig{})
	st.Start("survey.bag")
	st.UpdateProgress(mesh.Progress{
		RunID:     "run-2",
		Counters:  mesh.Counters{Processed: 50},
		Pose:      mesh.Pose{Easting: 1, Northing: 2, Heading: 90, Depth: -4, HasPosition: true, HasHeading: true, HasDepth: true},
		Timestamp: time.Now(),
	})

	rec := get(t, newHTTPServer(st, nil), "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status mesh.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, mesh.PhaseRunning, status.Phase)
	assert.Equal(t, "run-2", status.RunID)
	assert.Equal(t, "survey.bag", status.Input)
	assert.Equal(t, 50, status.Counters.Processed)
	assert.True(t, status.Pose.Complete())
	assert.Nil(t, status.Stats)
}

func TestStatus_Finished(t *testing.T) {
	rec := get(t, newHTTPServer(finishedState(t), nil), "/status")

	var status mesh.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, mesh.PhaseFinished, status.Phase)
	require.NotNil(t, status.Stats)
	assert.Equal(t, 3, status.Stats.Covered)
	assert.Equal(t, 6, status.Stats.Cells)
}

// ---------------------------------------------------------------------------
// map endpoints
// ---------------------------------------------------------------------------

func TestMapEndpoints_NotReady_503(t *testing.T) {
	st := mesh.NewRunState(mesh.RenderConfig{})
	st.Start("survey.bag")
	h := newHTTPServer(st, nil)

	for _, path := range []string{"/map.png", "/map.svg", "/map.geojson"} {
		t.Run(path, func(t *testing.T) {
			rec := get(t, h, path)
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		})
	}
}

func TestMapEndpoints_Finished(t *testing.T) {
	h := newHTTPServer(finishedState(t), nil)

	tests := []struct {
		path        string
		contentType string
		prefix      string
	}{
		{"/map.png", "image/png", "\x89PNG"},
		{"/map.svg", "image/svg+xml", "<svg"},
		{"/map.geojson", "application/geo+json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, h, tt.path)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
			assert.Contains(t, rec.Body.String(), tt.prefix)
		})
	}
}

func TestMapEndpoints_FailedRun_503(t *testing.T) {
	st := mesh.NewRunState(mesh.RenderConfig{})
	st.Start("survey.bag")
	st.Fail(&mesh.Result{RunID: "run-3"}, mesh.ErrEmptyInput)

	rec := get(t, newHTTPServer(st, nil), "/map.png")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMapEndpoint_ServesCachedRender(t *testing.T) {
	st := finishedState(t)
	h := newHTTPServer(st, nil)

	first := get(t, h, "/map.geojson")
	second := get(t, h, "/map.geojson")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
}

// ---------------------------------------------------------------------------
// /runs
// ---------------------------------------------------------------------------

func TestRuns_WithoutStore_404(t *testing.T) {
	rec := get(t, newHTTPServer(finishedState(t), nil), "/runs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRuns_ListsStoredRuns(t *testing.T) {
	store, err := mesh.OpenStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer store.Close()

	res := testResult(t)
	require.NoError(t, store.SaveRun(context.Background(), mesh.NewRunRecord("survey.bag", res), res.Raster))

	rec := get(t, newHTTPServer(finishedState(t), store), "/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []mesh.RunRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, "survey.bag", runs[0].Input)
	assert.Equal(t, 3, runs[0].Stats.Covered)
}
