package rotationhandler

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lucerna-id/credential-engine/interfaces"
	"github.com/lucerna-id/credential-engine/rotation"
)

// MaxRequestBodyBytes caps rotation job submissions. A legitimate request is
// two passphrases and a subject identifier; anything larger is abuse.
const MaxRequestBodyBytes = 64 << 10

// DefaultJobRetention is how long finished jobs stay queryable before the
// registry prunes them.
const DefaultJobRetention = 15 * time.Minute

// JobState is the lifecycle state of a background rotation job.
type JobState string

const (
	// JobStateAccepted means the job is queued but not yet started.
	JobStateAccepted JobState = "accepted"

	// JobStateRunning means the rotation is executing.
	JobStateRunning JobState = "running"

	// JobStateCompleted means the rotation finished and the new passphrase is live.
	JobStateCompleted JobState = "completed"

	// JobStateFailed means the rotation finished without applying the new passphrase.
	JobStateFailed JobState = "failed"
)

// terminal reports whether a job in this state will never change again.
func (s JobState) terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// SubmitJobRequest is the body of POST /api/internal/rotation-jobs.
type SubmitJobRequest struct {
	SubjectID     string `json:"subject_id"`
	OldPassphrase string `json:"old_passphrase"`
	NewPassphrase string `json:"new_passphrase"`
}

// JobResponse reports a job's identifier and current state.
type JobResponse struct {
	JobID  string   `json:"job_id"`
	Status JobState `json:"status"`
}

// Rotator runs a credential rotation to completion. *rotation.Coordinator
// satisfies this; the worker wires one without a dispatcher so contention
// inside the worker fails instead of bouncing between workers forever.
type Rotator interface {
	Rotate(ctx context.Context, subject interfaces.SubjectID, oldPassphrase, newPassphrase string) rotation.Result
}

// Handler processes HTTP requests for the worker's rotation job API.
//
// Submissions are authenticated by a shared bearer token, deduplicated per
// subject, and executed in background goroutines. Job state is kept in an
// in-memory registry with TTL pruning, which is the confirmation channel for
// rotations the engine routed here: a caller that received OutcomeRouted
// polls the job until it reports completed or failed.
type Handler struct {
	rotator   Rotator
	tokenHash [32]byte
	jobs      *jobRegistry
	log       *slog.Logger
}

// NewHandler creates a rotation job handler.
//
// Parameters:
//   - rotator: Executes rotations; must not be nil
//   - authToken: Shared bearer token for the internal dispatch plane
//   - log: Logger for operational insights
//
// Returns:
//   - Configured Handler instance
//   - Error if any dependency is missing
func NewHandler(rotator Rotator, authToken string, log *slog.Logger) (*Handler, error) {
	if rotator == nil {
		return nil, errors.New("rotator is required")
	}
	if authToken == "" {
		return nil, errors.New("dispatch auth token is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}

	return &Handler{
		rotator:   rotator,
		tokenHash: sha256.Sum256([]byte(authToken)),
		jobs:      newJobRegistry(DefaultJobRetention),
		log:       log,
	}, nil
}

// RegisterRoutes configures the HTTP router with the rotation job endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/internal/rotation-jobs", h.HandleSubmitJob)
	r.Get("/api/internal/rotation-jobs/{job_id}", h.HandleJobStatus)
}

// HandleSubmitJob accepts a rotation job for background execution.
//
// Endpoint: POST /api/internal/rotation-jobs
// Auth: Authorization: Bearer <dispatch token>
//
// Request body: {"subject_id": ..., "old_passphrase": ..., "new_passphrase": ...}
// capped at MaxRequestBodyBytes.
//
// Response: 202 with {"job_id", "status"}. If the subject already has an
// active job, that job is returned instead of starting a second rotation
// for the same subject.
func (h *Handler) HandleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Errorf("invalid request body: %w", err).Error(), http.StatusBadRequest)
		return
	}

	subject := interfaces.SubjectID(req.SubjectID)
	if err := subject.Validate(); err != nil {
		http.Error(w, fmt.Errorf("invalid subject: %w", err).Error(), http.StatusBadRequest)
		return
	}
	if req.OldPassphrase == "" || req.NewPassphrase == "" {
		http.Error(w, "both passphrases are required", http.StatusBadRequest)
		return
	}

	jobID, state, created := h.jobs.submit(subject)
	if created {
		go h.runJob(jobID, subject, req.OldPassphrase, req.NewPassphrase)
		h.log.Info("Rotation job accepted",
			slog.String("subject", subject.String()),
			slog.String("jobID", jobID),
		)
	} else {
		h.log.Debug("Returning active rotation job",
			slog.String("subject", subject.String()),
			slog.String("jobID", jobID),
		)
	}

	h.writeJSON(w, http.StatusAccepted, JobResponse{JobID: jobID, Status: state})
}

// HandleJobStatus reports the state of a previously submitted job.
//
// Endpoint: GET /api/internal/rotation-jobs/{job_id}
// Auth: Authorization: Bearer <dispatch token>
//
// Response: 200 with {"job_id", "status"}, or 404 once the job has been
// pruned or never existed.
func (h *Handler) HandleJobStatus(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	jobID := chi.URLParam(r, "job_id")
	state, ok := h.jobs.get(jobID)
	if !ok {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}

	h.writeJSON(w, http.StatusOK, JobResponse{JobID: jobID, Status: state})
}

// runJob executes a rotation in the background. It runs detached from the
// submitting request; the coordinator bounds its own store work.
func (h *Handler) runJob(jobID string, subject interfaces.SubjectID, oldPassphrase, newPassphrase string) {
	start := time.Now()
	h.jobs.setState(jobID, JobStateRunning)

	result := h.rotator.Rotate(context.Background(), subject, oldPassphrase, newPassphrase)

	state := JobStateFailed
	if result.Succeeded() {
		state = JobStateCompleted
	}
	h.jobs.setState(jobID, state)

	h.log.Info("Rotation job finished",
		slog.String("subject", subject.String()),
		slog.String("jobID", jobID),
		slog.String("status", string(state)),
		slog.Duration("duration", time.Since(start)),
	)
}

// authorized checks the bearer token with a constant-time comparison over
// digests, so neither token length nor a prefix match leaks through timing.
func (h *Handler) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}
	presented := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(presented[:], h.tokenHash[:]) == 1
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

// job tracks one background rotation. All fields are guarded by the
// registry's mutex.
type job struct {
	id       string
	subject  interfaces.SubjectID
	state    JobState
	created  time.Time
	finished time.Time
}

// jobRegistry is the in-memory job table with per-subject deduplication and
// TTL pruning of finished jobs.
type jobRegistry struct {
	mu        sync.Mutex
	byID      map[string]*job
	bySubject map[interfaces.SubjectID]*job
	retention time.Duration
}

func newJobRegistry(retention time.Duration) *jobRegistry {
	return &jobRegistry{
		byID:      make(map[string]*job),
		bySubject: make(map[interfaces.SubjectID]*job),
		retention: retention,
	}
}

// submit returns the subject's active job, or creates a fresh one. The
// returned values are copies; the caller never touches job fields directly.
func (reg *jobRegistry) submit(subject interfaces.SubjectID) (jobID string, state JobState, created bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	now := time.Now()
	reg.pruneLocked(now)

	if existing, ok := reg.bySubject[subject]; ok && !existing.state.terminal() {
		return existing.id, existing.state, false
	}

	j := &job{
		id:      uuid.New().String(),
		subject: subject,
		state:   JobStateAccepted,
		created: now,
	}
	reg.byID[j.id] = j
	reg.bySubject[subject] = j
	return j.id, j.state, true
}

func (reg *jobRegistry) get(jobID string) (JobState, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	j, ok := reg.byID[jobID]
	if !ok {
		return "", false
	}
	return j.state, true
}

func (reg *jobRegistry) setState(jobID string, state JobState) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	j, ok := reg.byID[jobID]
	if !ok {
		return
	}
	j.state = state
	if state.terminal() {
		j.finished = time.Now()
	}
}

// pruneLocked drops finished jobs older than the retention window. Callers
// hold reg.mu.
func (reg *jobRegistry) pruneLocked(now time.Time) {
	for id, j := range reg.byID {
		if !j.state.terminal() || j.finished.IsZero() {
			continue
		}
		if now.Sub(j.finished) <= reg.retention {
			continue
		}
		delete(reg.byID, id)
		if reg.bySubject[j.subject] == j {
			delete(reg.bySubject, j.subject)
		}
	}
}
