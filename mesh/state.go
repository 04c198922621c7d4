package mesh

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// RunPhase is the lifecycle stage of a run.
type RunPhase string

const (
	PhaseIdle     RunPhase = "idle"
	PhaseRunning  RunPhase = "running"
	PhaseFinished RunPhase = "finished"
	PhaseFailed   RunPhase = "failed"
)

// ErrNotReady is returned for map requests before a run has finished.
var ErrNotReady = errors.New("map not ready")

// Status is the JSON view of a run served over HTTP.
type Status struct {
	Phase    RunPhase     `json:"phase"`
	RunID    string       `json:"runId,omitempty"`
	Input    string       `json:"input,omitempty"`
	Counters Counters     `json:"counters"`
	Pose     Pose         `json:"pose"`
	Started  time.Time    `json:"started,omitempty"`
	Updated  time.Time    `json:"updated,omitempty"`
	Duration string       `json:"duration,omitempty"`
	Stats    *RasterStats `json:"stats,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// RunState tracks a run for HTTP endpoints and caches rendered maps.
type RunState struct {
	mu       sync.RWMutex
	status   Status
	result   *Result
	render   RenderConfig
	rendered map[Format][]byte
}

// NewRunState creates an idle state. render configures maps served from it.
func NewRunState(render RenderConfig) *RunState {
	return &RunState{
		status:   Status{Phase: PhaseIdle},
		render:   render,
		rendered: make(map[Format][]byte),
	}
}

// Start marks a run as started.
func (st *RunState) Start(input string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := time.Now()
	st.status = Status{Phase: PhaseRunning, Input: input, Started: now, Updated: now}
	st.result = nil
	st.rendered = make(map[Format][]byte)
}

// UpdateProgress records a progress snapshot.
func (st *RunState) UpdateProgress(p Progress) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.RunID = p.RunID
	st.status.Counters = p.Counters
	st.status.Pose = p.Pose
	st.status.Updated = p.Timestamp
}

// Finish records a completed run.
func (st *RunState) Finish(res *Result) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.result = res
	st.status.Phase = PhaseFinished
	st.status.RunID = res.RunID
	st.status.Counters = res.Counters
	st.status.Pose = res.Pose
	st.status.Updated = time.Now()
	st.status.Duration = res.Duration.String()
	if res.Raster != nil {
		stats := res.Raster.Stats()
		st.status.Stats = &stats
	}
}

// Fail records a failed run. res may carry partial counters.
func (st *RunState) Fail(res *Result, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.Phase = PhaseFailed
	st.status.Error = err.Error()
	st.status.Updated = time.Now()
	if res != nil {
		st.status.RunID = res.RunID
		st.status.Counters = res.Counters
	}
}

// Status returns a copy of the current status.
func (st *RunState) Status() Status {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s := st.status
	if s.Stats != nil {
		stats := *s.Stats
		s.Stats = &stats
	}
	return s
}

// Result returns the finished result, or nil.
func (st *RunState) Result() *Result {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.result
}

// RenderedMap returns the finished map in format, rendering it on first
// request.
func (st *RunState) RenderedMap(format Format) ([]byte, error) {
	st.mu.RLock()
	res := st.result
	cached, ok := st.rendered[format]
	cfg := st.render
	st.mu.RUnlock()

	if ok {
		return cached, nil
	}
	if res == nil || res.Raster == nil {
		return nil, ErrNotReady
	}

	var buf bytes.Buffer
	if err := RenderMap(&buf, format, res.Raster, res.Track, cfg); err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.result == res {
		st.rendered[format] = buf.Bytes()
	}
	return buf.Bytes(), nil
}
