package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FocuswithJustin/onexrd/internal/batch"
	"github.com/FocuswithJustin/onexrd/internal/logging"
	"github.com/FocuswithJustin/onexrd/internal/validation"
)

// JobStatus represents the current state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

func (s JobStatus) terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ErrJobNotFound is returned for an unknown job ID.
var ErrJobNotFound = errors.New("job not found")

// Job is an asynchronous batch run.
type Job struct {
	ID          string        `json:"id"`
	Status      JobStatus     `json:"status"`
	Progress    int           `json:"progress"` // 0-100
	Done        int           `json:"done"`
	Total       int           `json:"total"`
	Result      *batch.Result `json:"result,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
	CompletedAt string        `json:"completed_at,omitempty"`
	Request     batch.Params  `json:"request"`

	ctx    context.Context
	cancel context.CancelFunc
}

// JobStore keeps jobs in memory.
type JobStore struct {
	jobs map[string]*Job
	mu   sync.RWMutex
}

// NewJobStore creates an empty job store.
func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[string]*Job)}
}

func timestamp() string { return time.Now().UTC().Format(time.RFC3339) }

// Create registers a pending job whose context derives from parent.
func (s *JobStore) Create(parent context.Context, req batch.Params) Job {
	ctx, cancel := context.WithCancel(parent)
	now := timestamp()
	job := &Job{
		ID:        uuid.New().String(),
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		Request:   req,
		ctx:       ctx,
		cancel:    cancel,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return *job
}

// Get returns a snapshot of the job.
func (s *JobStore) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// update applies fn to the job unless it already reached a terminal state.
func (s *JobStore) update(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok || job.Status.terminal() {
		return
	}
	fn(job)
	job.UpdatedAt = timestamp()
	if job.Status.terminal() {
		job.CompletedAt = job.UpdatedAt
		job.cancel()
	}
}

// List returns snapshots of all jobs, oldest first.
func (s *JobStore) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Cancel stops a pending or running job.
func (s *JobStore) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status.terminal() {
		return fmt.Errorf("job cannot be cancelled (status: %s)", job.Status)
	}
	job.cancel()
	job.Status = JobStatusCancelled
	job.UpdatedAt = timestamp()
	job.CompletedAt = job.UpdatedAt
	return nil
}

// CancelAll cancels every unfinished job.
func (s *JobStore) CancelAll() {
	for _, job := range s.List() {
		if !job.Status.terminal() {
			s.Cancel(job.ID)
		}
	}
}

// runJob executes a batch job in the background, mirroring progress into
// the store and onto the WebSocket hub.
func (s *Server) runJob(job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx := logging.WithJobID(job.ctx, job.ID)

		s.jobs.update(job.ID, func(j *Job) { j.Status = JobStatusRunning })
		runner := &batch.Runner{
			Loader: s.loader,
			Reporter: func(p batch.Progress) {
				s.jobs.update(job.ID, func(j *Job) {
					j.Progress, j.Done, j.Total = p.Percent(), p.Done, p.Total
				})
				s.hub.Broadcast(ProgressMessage{
					Type:      MessageProgress,
					Operation: "batch",
					JobID:     job.ID,
					Stage:     p.File,
					Progress:  p.Percent(),
					Message:   fmt.Sprintf("Processed %s (%d/%d)", p.File, p.Done, p.Total),
				})
			},
		}

		res, err := runner.RunJob(ctx, job.ID, job.Request)
		switch {
		case errors.Is(err, context.Canceled):
			s.jobs.update(job.ID, func(j *Job) {
				j.Status = JobStatusCancelled
				j.Error = "Job cancelled"
			})
			s.hub.Broadcast(ProgressMessage{Type: MessageError, Operation: "batch", JobID: job.ID, Message: "Job cancelled"})
		case err != nil:
			logging.JobEvent(ctx, job.ID, "failed", "error", err)
			s.jobs.update(job.ID, func(j *Job) {
				j.Status = JobStatusFailed
				j.Error = err.Error()
			})
			s.hub.Broadcast(ProgressMessage{Type: MessageError, Operation: "batch", JobID: job.ID, Message: err.Error()})
		default:
			s.jobs.update(job.ID, func(j *Job) {
				j.Status = JobStatusCompleted
				j.Progress = 100
				j.Result = res
			})
			s.hub.Broadcast(ProgressMessage{
				Type:      MessageComplete,
				Operation: "batch",
				JobID:     job.ID,
				Progress:  100,
				Message:   fmt.Sprintf("Batch finished with %d failures", res.Failures),
				Data:      map[string]interface{}{"output_path": res.OutputPath, "files": len(res.Rows)},
			})
		}
	}()
}

// handleBatch handles POST /api/v1/batch.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	req := batch.DefaultParams("")
	req.Iterations = s.cfg.Analysis.Iterations
	req.Wavelength = s.cfg.Analysis.Wavelength
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return
	}
	if req.InputDir == "" {
		respondError(w, http.StatusBadRequest, "MISSING_PARAMS", "input_dir is required")
		return
	}
	dir, err := validation.ResolveInRoot(s.cfg.DataRoot, req.InputDir)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PATH", err.Error())
		return
	}
	req.InputDir = dir
	if req.Workers == 0 {
		req.Workers = s.cfg.BatchWorkers
	}

	job := s.jobs.Create(s.ctx, req)
	logging.JobEvent(r.Context(), job.ID, string(JobStatusPending), "dir", dir)
	s.runJob(job)
	respond(w, http.StatusAccepted, job)
}

// handleJobByID handles GET and DELETE /api/v1/jobs/{id}.
func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, jobsPath)
	if id == "" || strings.Contains(id, "/") {
		respondError(w, http.StatusBadRequest, "MISSING_ID", "Job ID is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		job, ok := s.jobs.Get(id)
		if !ok {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "Job not found")
			return
		}
		respond(w, http.StatusOK, job)
	case http.MethodDelete:
		if err := s.jobs.Cancel(id); err != nil {
			if errors.Is(err, ErrJobNotFound) {
				respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
				return
			}
			respondError(w, http.StatusConflict, "CANCEL_FAILED", err.Error())
			return
		}
		respond(w, http.StatusOK, map[string]string{"message": "Job cancelled"})
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and DELETE are allowed")
	}
}

// handleJobs handles GET /api/v1/jobs.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}
	jobs := s.jobs.List()
	respondList(w, jobs, len(jobs))
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
