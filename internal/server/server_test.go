package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/nlsmultistart/internal/fit"
	"github.com/cwbudde/nlsmultistart/internal/store"
)

func newTestServer(t *testing.T, st store.Store) *Server {
	t.Helper()
	s := NewServer(":8080", st, 1)
	t.Cleanup(s.jobManager.Shutdown)
	return s
}

func postJob(t *testing.T, h http.Handler, cfg JobConfig) Job {
	t.Helper()
	body, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Failed to marshal config: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return job
}

func waitForJob(t *testing.T, s *Server, jobID string) Job {
	t.Helper()
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		job, _ := s.jobManager.GetJob(jobID)
		if job.State.terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Job %s did not finish", jobID)
	return Job{}
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestCreateJob(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	job := postJob(t, h, testJobConfig())
	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	done := waitForJob(t, s, job.ID)
	if done.State != StateCompleted {
		t.Errorf("Expected completed, got %s (%s)", done.State, done.Error)
	}
}

func TestCreateJobInvalid(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"formula":`},
		{"missing formula", `{"id":"curve","params":["a"],"param_bds":[0,1],"csv":"curve,x,y\n"}`},
		{"odd bounds", `{"formula":"y ~ a * x","id":"curve","predictors":["x"],"params":["a"],"param_bds":[0],"csv":"c"}`},
		{"no dataset", `{"formula":"y ~ a * x","id":"curve","predictors":["x"],"params":["a"],"param_bds":[0,1]}`},
		{"bad formula", `{"formula":"y ~ a *","id":"curve","predictors":["x"],"params":["a"],"param_bds":[0,1],"csv":"c"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestListJobs(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	s.jobManager.CreateJob(testJobConfig())
	s.jobManager.CreateJob(testJobConfig())

	w := get(h, "/api/v1/jobs")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var jobs []Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestGetJobStatus(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	job := s.jobManager.CreateJob(testJobConfig())

	w := get(h, "/api/v1/jobs/"+job.ID+"/status")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var status map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status["id"] != job.ID {
		t.Errorf("Expected id %s, got %v", job.ID, status["id"])
	}
	if status["state"] != string(StatePending) {
		t.Errorf("Expected pending, got %v", status["state"])
	}
	if _, ok := status["tps"]; !ok {
		t.Error("Status should include tps")
	}

	if w := get(h, "/api/v1/jobs/nonexistent/status"); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestResultsBeforeCompletion(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	job := s.jobManager.CreateJob(testJobConfig())

	for _, table := range []string{"params", "predictions", "failures", "confint"} {
		w := get(h, "/api/v1/jobs/"+job.ID+"/"+table)
		if w.Code != http.StatusConflict {
			t.Errorf("%s: expected status 409, got %d", table, w.Code)
		}
	}
	if w := get(h, "/api/v1/jobs/nonexistent/params"); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestResultTables(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	job := postJob(t, h, testJobConfig())
	if done := waitForJob(t, s, job.ID); done.State != StateCompleted {
		t.Fatalf("Job did not complete: %s (%s)", done.State, done.Error)
	}

	w := get(h, "/api/v1/jobs/"+job.ID+"/params")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var params []fit.PartitionResult
	if err := json.NewDecoder(w.Body).Decode(&params); err != nil {
		t.Fatalf("Failed to decode params: %v", err)
	}
	if len(params) != 2 || params[0].ID != "alpha" || params[1].ID != "beta" {
		t.Fatalf("Unexpected params: %+v", params)
	}

	w = get(h, "/api/v1/jobs/"+job.ID+"/predictions")
	var preds []fit.PredictionPoint
	if err := json.NewDecoder(w.Body).Decode(&preds); err != nil {
		t.Fatalf("Failed to decode predictions: %v", err)
	}
	if len(preds) != 20 {
		t.Errorf("Expected 20 prediction points, got %d", len(preds))
	}

	w = get(h, "/api/v1/jobs/"+job.ID+"/failures")
	var failures []fit.PartitionFailure
	if err := json.NewDecoder(w.Body).Decode(&failures); err != nil {
		t.Fatalf("Failed to decode failures: %v", err)
	}
	if len(failures) != 0 {
		t.Errorf("Expected no failures, got %+v", failures)
	}

	w = get(h, "/api/v1/jobs/"+job.ID+"/params?format=csv")
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Expected text/csv, got %s", ct)
	}
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,a,b,rss,AICc") {
		t.Errorf("Unexpected header: %s", lines[0])
	}
}

func TestConfIntEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	job := postJob(t, h, testJobConfig())
	waitForJob(t, s, job.ID)

	w := get(h, "/api/v1/jobs/"+job.ID+"/confint?level=0.9")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var rows []fit.ConfIntRow
	if err := json.NewDecoder(w.Body).Decode(&rows); err != nil {
		t.Fatalf("Failed to decode rows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("Expected 4 rows (2 partitions x 2 params), got %d", len(rows))
	}
	for _, row := range rows {
		if row.Lower == nil || row.Upper == nil {
			t.Errorf("Row %s/%s should have an interval", row.ID, row.Param)
			continue
		}
		if *row.Lower > row.Estimate || *row.Upper < row.Estimate {
			t.Errorf("Row %s/%s interval does not contain estimate", row.ID, row.Param)
		}
	}

	if w := get(h, "/api/v1/jobs/"+job.ID+"/confint?level=abc"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for bad level, got %d", w.Code)
	}
	if w := get(h, "/api/v1/jobs/"+job.ID+"/confint?level=1.5"); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for level out of range, got %d", w.Code)
	}
}

func TestCancelJob(t *testing.T) {
	s := newTestServer(t, nil)
	h := s.Handler()

	job := s.jobManager.CreateJob(testJobConfig())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/"+job.ID, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/jobs/nonexistent", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestListRuns(t *testing.T) {
	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	s := newTestServer(t, st)
	h := s.Handler()

	w := get(h, "/api/v1/runs")
	var infos []store.RunInfo
	if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
		t.Fatalf("Failed to decode runs: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Expected no runs, got %d", len(infos))
	}

	job := postJob(t, h, testJobConfig())
	waitForJob(t, s, job.ID)

	w = get(h, "/api/v1/runs")
	if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
		t.Fatalf("Failed to decode runs: %v", err)
	}
	if len(infos) != 1 || infos[0].RunID != job.ID {
		t.Errorf("Expected the job's run, got %+v", infos)
	}
}

func TestListRunsWithoutStore(t *testing.T) {
	s := newTestServer(t, nil)

	w := get(s.Handler(), "/api/v1/runs")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("Expected empty list, got %s", w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing")
	}
}

func TestJobStream(t *testing.T) {
	s := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	job := s.jobManager.CreateJob(testJobConfig())

	resp, err := http.Get(ts.URL + "/api/v1/jobs/" + job.ID + "/stream")
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %s", ct)
	}

	if err := s.jobManager.Start(job.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	events := make(chan ProgressEvent)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev ProgressEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				continue
			}
			events <- ev
		}
	}()

	timeout := time.After(30 * time.Second)
	var last ProgressEvent
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if last.State != StateCompleted {
					t.Errorf("Stream ended in state %s", last.State)
				}
				if last.Done != 2 || last.Fitted != 2 {
					t.Errorf("Unexpected final event: %+v", last)
				}
				return
			}
			last = ev
		case <-timeout:
			t.Fatal("Timeout waiting for stream to finish")
		}
	}
}

func TestJobStreamNotFound(t *testing.T) {
	s := newTestServer(t, nil)

	w := get(s.Handler(), "/api/v1/jobs/nonexistent/stream")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	jobID := "test-job"
	ch := eb.Subscribe(jobID)
	defer eb.Unsubscribe(jobID, ch)

	event := ProgressEvent{
		JobID:      jobID,
		State:      StateRunning,
		Partition:  "alpha",
		Done:       1,
		Partitions: 3,
		Timestamp:  time.Now(),
	}
	eb.Broadcast(event)

	select {
	case received := <-ch:
		if received.Partition != "alpha" || received.Done != 1 {
			t.Errorf("Unexpected event: %+v", received)
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for event")
	}

	// Late subscribers receive the last event
	late := eb.Subscribe(jobID)
	select {
	case received := <-late:
		if received.Done != 1 {
			t.Errorf("Expected replayed event, got %+v", received)
		}
	case <-time.After(time.Second):
		t.Error("Late subscriber did not receive last event")
	}
	eb.Unsubscribe(jobID, late)
}

func TestEventBroadcasterCleanup(t *testing.T) {
	eb := NewEventBroadcaster()

	jobID := "test-job"
	ch := eb.Subscribe(jobID)
	eb.Broadcast(ProgressEvent{JobID: jobID, State: StateCompleted})
	<-ch

	eb.CleanupJob(jobID)

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after cleanup")
	}
	eb.Unsubscribe(jobID, ch)
}
