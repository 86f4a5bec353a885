package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/gatekeeper/internal/storage"
)

// RestartError is the synthetic failure applied to any job found
// non-terminal at process start, so a crash can never leave the slot
// permanently occupied.
const RestartError = "application restarted - previous job was incomplete"

// Stage is one milestone of the background pipeline.
type Stage int

const (
	StageTranscriptionDone Stage = iota
	StageInsightsStarted
	StageInsightsDone
)

// Store is the persistence surface the tracker needs.
type Store interface {
	AcquireJob(job storage.JobStatus) (bool, *storage.JobStatus, error)
	ActiveJob() (*storage.JobStatus, error)
	UpdateJobProgress(artifactPath string, percent float64) error
	MarkTranscriptionDone(artifactPath string) error
	SetExtractingInsights(artifactPath string, on bool) error
	CompleteJob(artifactPath string) error
	FailJob(artifactPath, message string) error
}

// Tracker supervises the single concurrently-active background job slot.
// All state lives in the store; the tracker survives restarts with nothing
// in memory.
type Tracker struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker over the given store.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
}

// TryAcquire atomically claims the job slot for artifactPath. When the slot
// is held it returns (false, busy) and the caller must surface the busy
// record without starting work.
func (t *Tracker) TryAcquire(artifactPath string) (bool, *storage.JobStatus, error) {
	job := storage.JobStatus{
		ID:           uuid.New().String(),
		ArtifactPath: artifactPath,
		StartedAt:    t.now().UTC(),
	}
	acquired, busy, err := t.store.AcquireJob(job)
	if err != nil {
		return false, nil, fmt.Errorf("acquiring job slot: %w", err)
	}
	if acquired {
		t.logger.Info("job slot acquired", "artifact", artifactPath, "job_id", job.ID)
	}
	return acquired, busy, nil
}

// ReportProgress records transcription progress. The store ignores reports
// arriving after the transcription stage finished.
func (t *Tracker) ReportProgress(artifactPath string, percent float64) error {
	return t.store.UpdateJobProgress(artifactPath, percent)
}

// AdvanceStage records a pipeline milestone. StageInsightsDone is terminal:
// it clears the extraction flag and frees the slot.
func (t *Tracker) AdvanceStage(artifactPath string, stage Stage) error {
	switch stage {
	case StageTranscriptionDone:
		return t.store.MarkTranscriptionDone(artifactPath)
	case StageInsightsStarted:
		return t.store.SetExtractingInsights(artifactPath, true)
	case StageInsightsDone:
		return t.store.CompleteJob(artifactPath)
	default:
		return fmt.Errorf("unknown stage %d", stage)
	}
}

// Fail records a failure and forces the job terminal regardless of stage,
// freeing the slot immediately.
func (t *Tracker) Fail(artifactPath, message string) error {
	t.logger.Warn("job failed", "artifact", artifactPath, "error", message)
	return t.store.FailJob(artifactPath, message)
}

// QueryActive returns the current non-terminal job, or nil when idle.
func (t *Tracker) QueryActive() (*storage.JobStatus, error) {
	job, err := t.store.ActiveJob()
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// RecoverOnStartup finalizes any job left non-terminal by a previous run
// with a synthetic restart error. Called once before the slot accepts work.
func (t *Tracker) RecoverOnStartup() error {
	job, err := t.store.ActiveJob()
	if err == storage.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking for interrupted job: %w", err)
	}

	if err := t.store.FailJob(job.ArtifactPath, RestartError); err != nil {
		return fmt.Errorf("finalizing interrupted job %s: %w", job.ArtifactPath, err)
	}
	t.logger.Info("finalized interrupted job", "artifact", job.ArtifactPath)
	return nil
}

// Phase classifies a job record for human-readable status output.
func Phase(job *storage.JobStatus) string {
	switch {
	case job == nil, job.FullyDone:
		return "idle"
	case !job.TranscriptionDone:
		return fmt.Sprintf("transcribing, %.1f%%", job.Progress)
	case job.ExtractingInsights:
		return "extracting insights"
	default:
		return "awaiting insight extraction"
	}
}
