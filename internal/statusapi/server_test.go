// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matt-FFFFFF/caserun/internal/job"
	"github.com/matt-FFFFFF/caserun/internal/metrics"
	"github.com/matt-FFFFFF/caserun/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeSupervisor struct {
	states  map[job.ID]job.State
	calls   []string
	patch   job.Patch
	failing error
}

func (f *fakeSupervisor) List() []job.State {
	return []job.State{f.states["a"], f.states["b"]}
}

func (f *fakeSupervisor) Status(id job.ID) (job.State, error) {
	st, ok := f.states[id]
	if !ok {
		return job.State{}, fmt.Errorf("%w: %s", supervisor.ErrJobNotFound, id)
	}

	return st, nil
}

func (f *fakeSupervisor) act(name string, id job.ID) error {
	if _, err := f.Status(id); err != nil {
		return err
	}

	f.calls = append(f.calls, name+":"+string(id))

	return f.failing
}

func (f *fakeSupervisor) Cancel(id job.ID) error      { return f.act("cancel", id) }
func (f *fakeSupervisor) SaveAndStop(id job.ID) error { return f.act("stop", id) }
func (f *fakeSupervisor) ForceStop(id job.ID) error   { return f.act("kill", id) }

func (f *fakeSupervisor) UpdateConfiguration(id job.ID, p job.Patch) error {
	f.patch = p
	return f.act("update", id)
}

func newFake() *fakeSupervisor {
	started := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	return &fakeSupervisor{states: map[job.ID]job.State{
		"a": {ID: "a", Name: "cavity", Status: job.StatusRunning, Step: job.StepSolve, SolverTime: 0.25,
			Iteration: 50, Processes: 4, Hosts: []string{"node1", "node2"}, StartedAt: started},
		"b": {ID: "b", Name: "pitz", Status: job.StatusFailed, FailedStep: job.StepDecompose, ExitCode: 2,
			LastError: "decompose failed", StartedAt: started, EndedAt: started.Add(time.Minute)},
	}}
}

func do(t *testing.T, s http.Handler, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	res := rec.Result()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	return res, b
}

func TestServer_ListAndGet(t *testing.T) {
	s := NewServer(newFake(), prometheus.NewRegistry())
	s.clock = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 30, 0, time.UTC) }

	res, body := do(t, s, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	var list []jobView
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 2)

	assert.Equal(t, "running", list[0].Status)
	assert.Equal(t, "solve", list[0].Step)
	assert.InDelta(t, 30.0, list[0].ElapsedSeconds, 1e-9)
	assert.Equal(t, []string{"node1", "node2"}, list[0].Hosts)
	assert.Nil(t, list[0].EndedAt)
	assert.Empty(t, list[0].FailedStep)

	assert.Equal(t, "failed", list[1].Status)
	assert.Equal(t, "decompose", list[1].FailedStep)
	assert.Equal(t, 2, list[1].ExitCode)
	assert.InDelta(t, 60.0, list[1].ElapsedSeconds, 1e-9)

	res, body = do(t, s, http.MethodGet, "/jobs/a", "")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var one jobView
	require.NoError(t, json.Unmarshal(body, &one))
	assert.Equal(t, "cavity", one.Name)
	assert.Equal(t, 50, one.Iteration)

	res, body = do(t, s, http.MethodGet, "/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Contains(t, string(body), "job not found")
}

func TestServer_Actions(t *testing.T) {
	for _, action := range []string{"cancel", "stop", "kill"} {
		t.Run(action, func(t *testing.T) {
			f := newFake()
			s := NewServer(f, prometheus.NewRegistry())

			res, _ := do(t, s, http.MethodPost, "/jobs/a/"+action, "")
			assert.Equal(t, http.StatusAccepted, res.StatusCode)
			assert.Equal(t, []string{action + ":a"}, f.calls)

			res, _ = do(t, s, http.MethodGet, "/jobs/a/"+action, "")
			assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
		})
	}
}

func TestServer_ErrorCodes(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: supervisor.ErrInvalidTransition, want: http.StatusConflict},
		{err: supervisor.ErrUpdateRejected, want: http.StatusConflict},
		{err: errors.Join(job.ErrInvalidJobSpec, errors.New("bad")), want: http.StatusBadRequest},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			f := newFake()
			f.failing = tc.err

			res, body := do(t, NewServer(f, prometheus.NewRegistry()), http.MethodPost, "/jobs/b/cancel", "")
			assert.Equal(t, tc.want, res.StatusCode)

			var e errorView
			require.NoError(t, json.Unmarshal(body, &e))
			assert.Equal(t, tc.err.Error(), e.Error)
		})
	}
}

func TestServer_Update(t *testing.T) {
	f := newFake()
	s := NewServer(f, prometheus.NewRegistry())

	res, _ := do(t, s, http.MethodPost, "/jobs/a/update", `{"endTime": "2"}`)
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, job.NewPatch("endTime", "2"), f.patch)

	res, _ = do(t, s, http.MethodPost, "/jobs/a/update", `["endTime"]`)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestServer_UpdateEntriesInKeyOrder(t *testing.T) {
	f := newFake()
	s := NewServer(f, prometheus.NewRegistry())

	res, _ := do(t, s, http.MethodPost, "/jobs/a/update", `{"writeInterval": "5", "endTime": "2", "deltaT": "0.01"}`)
	require.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, "deltaT=0.01 endTime=2 writeInterval=5", f.patch.String())
}

func TestServer_UpdateRejectsInvalidEntries(t *testing.T) {
	for _, body := range []string{
		`{"endTime": "2; stopAt noWriteNow"}`,
		`{"endTime": "soon"}`,
		`{"deltaT": "0.1\nstopAt writeNow"}`,
		`{"bad key": "1"}`,
	} {
		f := newFake()
		s := NewServer(f, prometheus.NewRegistry())

		res, _ := do(t, s, http.MethodPost, "/jobs/a/update", body)
		assert.Equal(t, http.StatusBadRequest, res.StatusCode, body)
		assert.Empty(t, f.calls, body)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordSubmitted()

	res, body := do(t, NewServer(newFake(), reg), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "caserun_jobs_submitted_total 1")
}

func TestServer_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() { errCh <- NewServer(newFake(), prometheus.NewRegistry()).Run(ctx, addr) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	require.Eventually(t, func() bool {
		res, err := client.Get("http://" + addr + "/jobs/a")
		if err != nil {
			return false
		}

		_ = res.Body.Close()

		return res.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
