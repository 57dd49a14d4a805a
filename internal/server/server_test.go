package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cwbudde/cmafit/internal/store"
)

func TestServer_CreateJob(t *testing.T) {
	s := NewServer(":8080", nil, "")

	// Create job request
	config := JobConfig{
		Objective:   "sphere",
		Dim:         3,
		Generations: 10,
		PopSize:     20,
		Mu:          10,
		Sigma:       1.0,
		Seed:        42,
	}

	body, _ := json.Marshal(config)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d", w.Code)
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}

	// State should be pending or running (since worker starts immediately)
	if job.State != StatePending && job.State != StateRunning {
		t.Errorf("Expected pending or running state, got %s", job.State)
	}
}

func TestServer_CreateJob_Defaults(t *testing.T) {
	s := NewServer(":8080", nil, "")

	// Only the required fields; the rest should be defaulted
	body := []byte(`{"objective": "sphere", "dim": 4}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if job.Config.Generations != 100 {
		t.Errorf("Expected default generations 100, got %d", job.Config.Generations)
	}
	if job.Config.PopSize != 30 {
		t.Errorf("Expected default popSize 30, got %d", job.Config.PopSize)
	}
	if job.Config.Mu != 15 {
		t.Errorf("Expected default mu popSize/2, got %d", job.Config.Mu)
	}
	if job.Config.Sigma != 1.0 {
		t.Errorf("Expected default sigma 1.0, got %f", job.Config.Sigma)
	}
}

func TestServer_CreateJob_ValidationErrors(t *testing.T) {
	s := NewServer(":8080", nil, "")

	tests := []struct {
		name string
		body string
	}{
		{"missing objective", `{"dim": 5}`},
		{"unknown objective", `{"objective": "nope", "dim": 5}`},
		{"dim too small", `{"objective": "sphere", "dim": 1}`},
		{"mu above popSize", `{"objective": "sphere", "dim": 5, "popSize": 10, "mu": 11}`},
		{"invalid JSON", `{not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader([]byte(tt.body)))
			w := httptest.NewRecorder()

			s.handleCreateJob(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":8080", nil, "")

	// Create two jobs
	s.jobManager.CreateJob(JobConfig{Objective: "sphere", Dim: 3})
	s.jobManager.CreateJob(JobConfig{Objective: "rastrigin", Dim: 5})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()

	s.handleListJobs(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var jobs []*Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := NewServer(":8080", nil, "")

	job := s.jobManager.CreateJob(JobConfig{Objective: "sphere", Dim: 3, PopSize: 20})

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/status", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response["id"] != job.ID {
		t.Error("Response should contain job ID")
	}

	if response["state"] != string(StatePending) {
		t.Errorf("Expected pending state, got %v", response["state"])
	}
}

func TestServer_GetJobStatus_NotFound(t *testing.T) {
	s := NewServer(":8080", nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/status", nil)
	w := httptest.NewRecorder()

	s.handleGetJobStatus(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_CancelJob(t *testing.T) {
	s := NewServer(":8080", nil, "")

	job := s.jobManager.CreateJob(JobConfig{
		Objective:   "sphere",
		Dim:         3,
		Generations: 20,
		PopSize:     20,
		Mu:          10,
		Sigma:       1.0,
		Seed:        42,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.jobManager.RegisterCancel(job.ID, cancel)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/cancel", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleCancelJob(w, req, job.ID)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["state"] != "cancelling" {
		t.Errorf("Expected state cancelling, got %s", response["state"])
	}

	// The worker's context must be done
	select {
	case <-ctx.Done():
	default:
		t.Fatal("Worker context should be cancelled")
	}

	// A worker started with the cancelled context observes it and marks
	// the job cancelled
	if err := runJob(ctx, s.jobManager, nil, "", job.ID); err == nil {
		t.Error("Expected error from cancelled worker")
	}

	updated, _ := s.jobManager.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Expected cancelled state, got %s", updated.State)
	}
}

func TestServer_CancelJob_NotFound(t *testing.T) {
	s := NewServer(":8080", nil, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/nonexistent/cancel", nil)
	w := httptest.NewRecorder()

	s.handleCancelJob(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_CancelJob_AlreadyFinished(t *testing.T) {
	s := NewServer(":8080", nil, "")

	job := s.jobManager.CreateJob(JobConfig{Objective: "sphere", Dim: 3})
	s.jobManager.UpdateJob(job.ID, func(j *Job) {
		j.State = StateCompleted
	})

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/v1/jobs/%s/cancel", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleCancelJob(w, req, job.ID)

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for finished job, got %d", w.Code)
	}
}

func TestServer_CancelJob_WrongMethod(t *testing.T) {
	s := NewServer(":8080", nil, "")

	job := s.jobManager.CreateJob(JobConfig{Objective: "sphere", Dim: 3})

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/cancel", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleCancelJob(w, req, job.ID)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestServer_GetJobResult(t *testing.T) {
	s := NewServer(":8080", nil, "")

	job := s.jobManager.CreateJob(JobConfig{
		Objective:   "sphere",
		Dim:         3,
		Generations: 20,
		PopSize:     20,
		Mu:          10,
		Sigma:       1.0,
		Seed:        42,
	})

	// Run job and wait for completion
	err := runJob(context.Background(), s.jobManager, nil, "", job.ID)
	if err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/result", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetJobResult(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	params, ok := response["bestParams"].([]interface{})
	if !ok || len(params) != 3 {
		t.Errorf("Response should contain 3 best params, got %v", response["bestParams"])
	}
}

func TestServer_GetJobResult_NoResultsYet(t *testing.T) {
	s := NewServer(":8080", nil, "")

	job := s.jobManager.CreateJob(JobConfig{Objective: "sphere", Dim: 3})

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/result", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetJobResult(w, req, job.ID)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 before any results, got %d", w.Code)
	}
}

func TestServer_GetJobTrace(t *testing.T) {
	tmpDir := t.TempDir()
	s := NewServer(":8080", nil, tmpDir)

	job := s.jobManager.CreateJob(JobConfig{
		Objective:   "sphere",
		Dim:         3,
		Generations: 10,
		PopSize:     20,
		Mu:          10,
		Sigma:       1.0,
		Seed:        42,
	})

	if err := runJob(context.Background(), s.jobManager, nil, tmpDir, job.ID); err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/trace", job.ID), nil)
	w := httptest.NewRecorder()

	s.handleGetJobTrace(w, req, job.ID)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var entries []store.TraceEntry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(entries) == 0 {
		t.Error("Expected trace entries")
	}
}

func TestServer_GetJobTrace_Disabled(t *testing.T) {
	s := NewServer(":8080", nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/some-job/trace", nil)
	w := httptest.NewRecorder()

	s.handleGetJobTrace(w, req, "some-job")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 when traces disabled, got %d", w.Code)
	}
}

func TestServer_ListObjectives(t *testing.T) {
	s := NewServer(":8080", nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/objectives", nil)
	w := httptest.NewRecorder()

	s.handleListObjectives(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var names []string
	if err := json.NewDecoder(w.Body).Decode(&names); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(names) == 0 {
		t.Error("Expected at least one objective")
	}

	found := false
	for _, n := range names {
		if n == "sphere" {
			found = true
		}
	}
	if !found {
		t.Error("Expected sphere in objectives list")
	}
}

func TestServer_Index(t *testing.T) {
	s := NewServer(":8080", nil, "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	s.handleIndex(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["service"] != "cmafit" {
		t.Errorf("Expected service cmafit, got %v", response["service"])
	}
}

func TestServer_Index_UnknownPath(t *testing.T) {
	s := NewServer(":8080", nil, "")

	req := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	w := httptest.NewRecorder()

	s.handleIndex(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_ListCheckpoints(t *testing.T) {
	tmpDir := t.TempDir()
	checkpointStore, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	s := NewServer(":8080", checkpointStore, tmpDir)

	job := s.jobManager.CreateJob(JobConfig{
		Objective:   "sphere",
		Dim:         3,
		Generations: 10,
		PopSize:     20,
		Mu:          10,
		Sigma:       1.0,
		Seed:        42,
	})

	if err := runJob(context.Background(), s.jobManager, checkpointStore, "", job.ID); err != nil {
		t.Fatalf("Job failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/checkpoints", nil)
	w := httptest.NewRecorder()

	s.handleListCheckpoints(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var infos []store.CheckpointInfo
	if err := json.NewDecoder(w.Body).Decode(&infos); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(infos) != 1 {
		t.Fatalf("Expected 1 checkpoint, got %d", len(infos))
	}
	if infos[0].JobID != job.ID {
		t.Errorf("Expected checkpoint for job %s, got %s", job.ID, infos[0].JobID)
	}
}

func TestServer_Integration(t *testing.T) {
	// Skip in short mode
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	s := NewServer("localhost:0", nil, "")
	srv := httptest.NewServer(s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/jobs" && r.Method == http.MethodPost {
			s.handleCreateJob(w, r)
		} else if r.URL.Path == "/api/v1/jobs" && r.Method == http.MethodGet {
			s.handleListJobs(w, r)
		} else {
			s.handleJobsWithID(w, r)
		}
	})))
	defer srv.Close()

	// Create job
	config := JobConfig{
		Objective:   "sphere",
		Dim:         3,
		Generations: 20,
		PopSize:     20,
		Mu:          10,
		Sigma:       1.0,
		Seed:        42,
	}

	body, _ := json.Marshal(config)
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	defer resp.Body.Close()

	var job Job
	json.NewDecoder(resp.Body).Decode(&job)

	// Poll status until completed
	maxAttempts := 50
	for i := 0; i < maxAttempts; i++ {
		resp, err := http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/status")
		if err != nil {
			t.Fatalf("Failed to get status: %v", err)
		}

		var status map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()

		if status["state"] == string(StateCompleted) {
			break
		}

		if status["state"] == string(StateFailed) {
			t.Fatalf("Job failed: %v", status["error"])
		}

		if i == maxAttempts-1 {
			t.Fatal("Job did not complete in time")
		}

		time.Sleep(100 * time.Millisecond)
	}

	// Get result
	resp, err = http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/result")
	if err != nil {
		t.Fatalf("Failed to get result: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestServer_JobStream_NotFound(t *testing.T) {
	s := NewServer(":8080", nil, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/stream", nil)
	w := httptest.NewRecorder()

	s.handleJobStream(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	// Subscribe to events
	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	// Broadcast an event
	event := ProgressEvent{
		JobID:      "job1",
		State:      StateRunning,
		Generation: 10,
		BestCost:   100.5,
		Sigma:      0.8,
		Timestamp:  time.Now(),
	}
	eb.Broadcast(event)

	// Receive event
	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("Expected jobID job1, got %s", received.JobID)
		}
		if received.Generation != 10 {
			t.Errorf("Expected generation 10, got %d", received.Generation)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	// Cleanup
	eb.CleanupJob("job1")
}

func TestEventBroadcaster_LateSubscriberGetsLastEvent(t *testing.T) {
	eb := NewEventBroadcaster()

	eb.Broadcast(ProgressEvent{
		JobID:      "job1",
		State:      StateRunning,
		Generation: 42,
		BestCost:   1.5,
		Timestamp:  time.Now(),
	})

	// Subscribing after the broadcast should replay the last event
	ch := eb.Subscribe("job1")
	defer eb.CleanupJob("job1")

	select {
	case received := <-ch:
		if received.Generation != 42 {
			t.Errorf("Expected replayed generation 42, got %d", received.Generation)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for replayed event")
	}
}
