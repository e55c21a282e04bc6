package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cwbudde/nlsmultistart/internal/config"
	"github.com/cwbudde/nlsmultistart/internal/fit"
	"github.com/cwbudde/nlsmultistart/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store
	addr       string
	server     *http.Server
}

// NewServer creates a new HTTP server. st may be nil.
func NewServer(addr string, st store.Store, maxJobs int) *Server {
	return &Server{
		jobManager: NewJobManager(st, maxJobs),
		store:      st,
		addr:       addr,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/runs", s.handleListRuns)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server and cancels running jobs
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.jobManager.Shutdown()
	return err
}

// handleJobs handles /api/v1/jobs
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID handles /api/v1/jobs/:id/*
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	jobID := parts[0]

	if r.Method == http.MethodDelete && len(parts) == 1 {
		s.handleCancelJob(w, r, jobID)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if len(parts) == 1 || parts[1] == "status" {
		s.handleGetJobStatus(w, r, jobID)
		return
	}
	switch parts[1] {
	case "params":
		s.handleTable(w, r, jobID, fit.WriteParamsCSV, func(fc *fit.FitCollection) any { return fc.Params })
	case "predictions":
		s.handleTable(w, r, jobID, fit.WritePredictionsCSV, func(fc *fit.FitCollection) any { return fc.Predictions })
	case "failures":
		s.handleTable(w, r, jobID, fit.WriteFailuresCSV, func(fc *fit.FitCollection) any { return fc.Failures })
	case "confint":
		s.handleConfInt(w, r, jobID)
	case "stream":
		s.handleJobStream(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob handles POST /api/v1/jobs
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	cfg := JobConfig{FitConfig: config.Default()}
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if cfg.CSV == "" && cfg.Data == "" {
		http.Error(w, "csv or data is required", http.StatusBadRequest)
		return
	}
	if _, err := cfg.Model(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(cfg)
	if err := s.jobManager.Start(job.ID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	snapshot, _ := s.jobManager.GetJob(job.ID)
	writeJSON(w, http.StatusCreated, snapshot)
}

// handleListJobs handles GET /api/v1/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobManager.ListJobs())
}

// handleCancelJob handles DELETE /api/v1/jobs/:id
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if err := s.jobManager.Cancel(jobID); err != nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleGetJobStatus handles GET /api/v1/jobs/:id/status
func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if job.EndTime != nil {
		elapsed = job.EndTime.Sub(job.StartTime)
	} else {
		elapsed = time.Since(job.StartTime)
	}

	tps := float64(0)
	if elapsed.Seconds() > 0 {
		tps = float64(job.Trials) / elapsed.Seconds()
	}

	response := map[string]interface{}{
		"id":         job.ID,
		"state":      job.State,
		"formula":    job.Config.Formula,
		"partitions": job.Partitions,
		"done":       job.Done,
		"fitted":     job.Fitted,
		"failed":     job.Failed,
		"trials":     job.Trials,
		"cached":     job.Cached,
		"elapsed":    elapsed.Seconds(),
		"tps":        tps,
		"startTime":  job.StartTime,
		"endTime":    job.EndTime,
		"error":      job.Error,
	}

	writeJSON(w, http.StatusOK, response)
}

// handleTable serves one FitCollection table as JSON, or CSV with ?format=csv.
func (s *Server) handleTable(w http.ResponseWriter, r *http.Request, jobID string, writeCSV func(io.Writer, *fit.FitCollection) error, pick func(*fit.FitCollection) any) {
	fc, ok := s.result(w, jobID)
	if !ok {
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		if err := writeCSV(w, fc); err != nil {
			slog.Error("Failed to write CSV", "job_id", jobID, "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, pick(fc))
}

// handleConfInt handles GET /api/v1/jobs/:id/confint?level=0.95
func (s *Server) handleConfInt(w http.ResponseWriter, r *http.Request, jobID string) {
	fc, ok := s.result(w, jobID)
	if !ok {
		return
	}
	_, ds, _ := s.jobManager.Result(jobID)

	level := fit.DefaultConfLevel
	if v := r.URL.Query().Get("level"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			http.Error(w, "Invalid level", http.StatusBadRequest)
			return
		}
		level = parsed
	}

	rows, err := fit.ConfInt(fc, ds, level)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		if err := fit.WriteConfIntCSV(w, rows); err != nil {
			slog.Error("Failed to write CSV", "job_id", jobID, "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleListRuns handles GET /api/v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		writeJSON(w, http.StatusOK, []store.RunInfo{})
		return
	}
	infos, err := s.store.ListRuns()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, infos)
}

// result looks up a completed job, writing an error response if there is none.
func (s *Server) result(w http.ResponseWriter, jobID string) (*fit.FitCollection, bool) {
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return nil, false
	}
	fc, _, ok := s.jobManager.Result(jobID)
	if !ok {
		http.Error(w, fmt.Sprintf("No results yet (state %s)", job.State), http.StatusConflict)
		return nil, false
	}
	return fc, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
