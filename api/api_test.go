package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/api"
	"github.com/xraph/cadence/engine"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/store/memory"
)

func newServer(t *testing.T) (*engine.Engine, *httptest.Server) {
	t.Helper()
	s, err := cadence.New(
		cadence.WithStore(memory.New()),
		cadence.WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	eng, err := engine.Build(s)
	require.NoError(t, err)
	eng.RegisterTask("report", func(context.Context, []byte) error { return nil })

	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, eng.Stop(ctx))
	})

	srv := httptest.NewServer(api.New(eng).Handler())
	t.Cleanup(srv.Close)
	return eng, srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func hourlyRequest(name string) api.JobRequest {
	return api.JobRequest{
		Name:     name,
		Task:     job.Task{Ref: "report"},
		Schedule: api.ScheduleRequest{Kind: "interval", Interval: "1h"},
		Timeout:  "30s",
	}
}

func TestJobLifecycle(t *testing.T) {
	_, srv := newServer(t)

	var created job.Job
	status := do(t, srv, http.MethodPost, "/v1/jobs", hourlyRequest("report"), &created)
	require.Equal(t, http.StatusCreated, status)
	require.False(t, created.ID.IsNil())
	assert.Equal(t, 30*time.Second, created.Timeout)
	assert.Equal(t, job.DefaultPriority, created.Priority)
	require.NotNil(t, created.NextFireAt)

	var got job.Job
	status = do(t, srv, http.MethodGet, "/v1/jobs/"+created.ID.String(), nil, &got)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "report", got.Name)

	update := hourlyRequest("report-v2")
	nine := 9
	update.Priority = &nine
	var updated job.Job
	status = do(t, srv, http.MethodPut, "/v1/jobs/"+created.ID.String(), update, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 9, updated.Priority)
	assert.Equal(t, created.CreatedAt.UTC(), updated.CreatedAt.UTC())

	var paused job.Job
	status = do(t, srv, http.MethodPost, "/v1/jobs/"+created.ID.String()+"/pause", nil, &paused)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, paused.Enabled)
	assert.Nil(t, paused.NextFireAt)

	var list api.ListJobsResponse
	status = do(t, srv, http.MethodGet, "/v1/jobs?enabled=false", nil, &list)
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, list.Total)

	var resumed job.Job
	status = do(t, srv, http.MethodPost, "/v1/jobs/"+created.ID.String()+"/resume", nil, &resumed)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, resumed.Enabled)

	status = do(t, srv, http.MethodDelete, "/v1/jobs/"+created.ID.String(), nil, nil)
	require.Equal(t, http.StatusNoContent, status)

	var apiErr api.ErrorResponse
	status = do(t, srv, http.MethodGet, "/v1/jobs/"+created.ID.String(), nil, &apiErr)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, apiErr.Error, "not found")
}

func TestCreateJob_Errors(t *testing.T) {
	_, srv := newServer(t)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"unknown task", func() api.JobRequest { r := hourlyRequest("x"); r.Task.Ref = "nope"; return r }(), http.StatusUnprocessableEntity},
		{"bad cron", func() api.JobRequest {
			r := hourlyRequest("x")
			r.Schedule = api.ScheduleRequest{Kind: "cron", Expr: "not a cron"}
			return r
		}(), http.StatusUnprocessableEntity},
		{"bad duration", func() api.JobRequest { r := hourlyRequest("x"); r.Timeout = "soon"; return r }(), http.StatusBadRequest},
		{"bad priority", func() api.JobRequest { r := hourlyRequest("x"); p := 42; r.Priority = &p; return r }(), http.StatusUnprocessableEntity},
		{"zero priority", func() api.JobRequest { r := hourlyRequest("x"); p := 0; r.Priority = &p; return r }(), http.StatusUnprocessableEntity},
		{"unknown field", map[string]any{"name": "x", "colour": "blue"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr api.ErrorResponse
			status := do(t, srv, http.MethodPost, "/v1/jobs", tt.body, &apiErr)
			assert.Equal(t, tt.status, status)
			assert.NotEmpty(t, apiErr.Error)
		})
	}

	var apiErr api.ErrorResponse
	status := do(t, srv, http.MethodGet, "/v1/jobs/not-an-id", nil, &apiErr)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestExecuteNowAndHistory(t *testing.T) {
	eng, srv := newServer(t)

	var created job.Job
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/v1/jobs", hourlyRequest("report"), &created))

	var accepted api.ExecuteNowResponse
	status := do(t, srv, http.MethodPost, "/v1/jobs/"+created.ID.String()+"/run", nil, &accepted)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, created.ID, accepted.JobID)

	require.Eventually(t, func() bool {
		attempts, err := eng.History(context.Background(), run.Query{JobID: created.ID})
		return err == nil && len(attempts) == 1 && attempts[0].Outcome == run.OutcomeSucceeded
	}, 3*time.Second, 5*time.Millisecond)

	var history []*run.Attempt
	status = do(t, srv, http.MethodGet, "/v1/jobs/"+created.ID.String()+"/runs?outcome=succeeded", nil, &history)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, history, 1)
	assert.True(t, history[0].Manual)

	var attempt run.Attempt
	status = do(t, srv, http.MethodGet, "/v1/runs/"+history[0].ID.String(), nil, &attempt)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, history[0].ID, attempt.ID)

	var summary run.Summary
	status = do(t, srv, http.MethodGet, "/v1/jobs/"+created.ID.String()+"/stats", nil, &summary)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, summary.Succeeded)

	var apiErr api.ErrorResponse
	status = do(t, srv, http.MethodPost, "/v1/runs/"+history[0].ID.String()+"/cancel", nil, &apiErr)
	assert.Equal(t, http.StatusConflict, status)
	status = do(t, srv, http.MethodPost, "/v1/runs/"+id.NewRunID().String()+"/cancel", nil, &apiErr)
	assert.Equal(t, http.StatusNotFound, status)

	status = do(t, srv, http.MethodGet, "/v1/runs?outcome=exploded", nil, &apiErr)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSchedules(t *testing.T) {
	_, srv := newServer(t)

	var valid api.ValidateResponse
	status := do(t, srv, http.MethodPost, "/v1/schedules/validate", api.ValidateRequest{
		Schedule: api.ScheduleRequest{Kind: "cron", Expr: "0 9 * * 1-5"},
		Timezone: "Europe/Berlin",
	}, &valid)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, valid.Valid)

	status = do(t, srv, http.MethodPost, "/v1/schedules/validate", api.ValidateRequest{
		Schedule: api.ScheduleRequest{Kind: "cron", Expr: "0 9 * * *"},
		Timezone: "Mars/Olympus",
	}, &valid)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, valid.Valid)
	assert.NotEmpty(t, valid.Error)

	var preview api.PreviewResponse
	status = do(t, srv, http.MethodPost, "/v1/schedules/preview", api.PreviewRequest{
		Schedule: api.ScheduleRequest{Kind: "interval", Interval: "15m"},
		Count:    4,
	}, &preview)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, preview.Times, 4)
	for i := 1; i < len(preview.Times); i++ {
		assert.Equal(t, 15*time.Minute, preview.Times[i].Sub(preview.Times[i-1]))
	}
}

func TestStatsAndHealth(t *testing.T) {
	_, srv := newServer(t)

	var stats map[string]any
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/v1/stats", nil, &stats))
	assert.Contains(t, stats, "queue")
	assert.Contains(t, stats, "worker_id")

	var health api.HealthResponse
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", nil, &health))
	assert.Equal(t, "ok", health.Status)
}
