// Package api exposes the admin HTTP surface and the MCP tool server.
// Both are thin read/trigger layers over the same stores the chat
// dispatcher uses; the admission workflow itself stays chat-only.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/gatekeeper/internal/export"
	"github.com/kalambet/gatekeeper/internal/jobs"
	"github.com/kalambet/gatekeeper/internal/storage"
)

// Exporter renders the user table as CSV.
type Exporter interface {
	CSV() ([]byte, error)
}

// Archiver exports the user table and pushes it to remote storage.
type Archiver interface {
	ExportAndArchive(ctx context.Context) error
}

// JobRunner executes one accepted transcription job to completion.
type JobRunner interface {
	Run(ctx context.Context, audioPath string) error
}

type AppDeps struct {
	Store    *storage.Store
	Tracker  *jobs.Tracker
	Exporter Exporter
	Archiver Archiver
	Runner   JobRunner // optional; if nil, POST /jobs is unavailable
	Token    string
	Spawn    func(func()) // optional; defaults to go
}

func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Spawn == nil {
		deps.Spawn = func(f func()) { go f() }
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	// Without a bearer token the admin surface stays closed; only the
	// liveness probe is served.
	if deps.Token == "" {
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/stats", handleStats(deps))
		r.Get("/users", handleListUsers(deps))
		r.Get("/export", handleExportCSV(deps))
		r.Post("/export", handleArchive(deps))
		r.Get("/jobs/active", handleActiveJob(deps))
		r.Post("/jobs", handleStartJob(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

func handleStats(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Store.CountByState()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "counting users: %v", err)
			return
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		writeJSON(w, http.StatusOK, statsResponse{
			Total:    total,
			Pending:  counts[storage.StateInSurvey] + counts[storage.StatePendingApproval],
			Approved: counts[storage.StateApproved],
			Rejected: counts[storage.StateRejected],
		})
	}
}

type userView struct {
	ID       int64            `json:"id"`
	Username string           `json:"username,omitempty"`
	State    string           `json:"state"`
	JoinedAt time.Time        `json:"joined_at"`
	Answers  []storage.Answer `json:"answers,omitempty"`
}

func handleListUsers(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := deps.Store.ListUsers()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing users: %v", err)
			return
		}
		views := make([]userView, 0, len(users))
		for _, u := range users {
			views = append(views, userView{
				ID:       u.ID,
				Username: u.Username,
				State:    string(u.State),
				JoinedAt: u.JoinedAt,
				Answers:  u.Answers,
			})
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func handleExportCSV(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := deps.Exporter.CSV()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "exporting users: %v", err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.FileName+`"`)
		w.Write(data)
	}
}

func handleArchive(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Archiver.ExportAndArchive(r.Context()); err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "archiving export: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "uploaded", "file": export.FileName})
	}
}

type jobView struct {
	ID                 string    `json:"id"`
	ArtifactPath       string    `json:"artifact_path"`
	Progress           float64   `json:"progress"`
	StartedAt          time.Time `json:"started_at"`
	TranscriptionDone  bool      `json:"transcription_done"`
	ExtractingInsights bool      `json:"extracting_insights"`
	FullyDone          bool      `json:"fully_done"`
	Error              string    `json:"error,omitempty"`
}

type jobResponse struct {
	Phase string   `json:"phase"`
	Job   *jobView `json:"job"`
}

func toJobView(job *storage.JobStatus) *jobView {
	if job == nil {
		return nil
	}
	return &jobView{
		ID:                 job.ID,
		ArtifactPath:       job.ArtifactPath,
		Progress:           job.Progress,
		StartedAt:          job.StartedAt,
		TranscriptionDone:  job.TranscriptionDone,
		ExtractingInsights: job.ExtractingInsights,
		FullyDone:          job.FullyDone,
		Error:              job.Error,
	}
}

func handleActiveJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Tracker.QueryActive()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "querying active job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, jobResponse{Phase: jobs.Phase(job), Job: toJobView(job)})
	}
}

type startJobRequest struct {
	Path string `json:"path"`
}

func handleStartJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Runner == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "transcription pipeline is not configured")
			return
		}

		var req startJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Path == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "path is required")
			return
		}
		if _, err := os.Stat(req.Path); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "audio file not found: %v", err)
			return
		}

		acquired, busy, err := deps.Tracker.TryAcquire(req.Path)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "acquiring job slot: %v", err)
			return
		}
		if !acquired {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]any{
					"message": "another transcription is already in progress",
					"type":    "conflict_error",
				},
				"job": toJobView(busy),
			})
			return
		}

		job, err := deps.Tracker.QueryActive()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "querying started job: %v", err)
			return
		}

		path := req.Path
		deps.Spawn(func() {
			deps.Runner.Run(context.Background(), path)
		})
		writeJSON(w, http.StatusAccepted, jobResponse{Phase: jobs.Phase(job), Job: toJobView(job)})
	}
}
