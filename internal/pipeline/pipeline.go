// Package pipeline sequences the background job stages: transcribe, upload
// the transcript, extract insights, upload the insight document.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/gatekeeper/internal/drive"
	"github.com/kalambet/gatekeeper/internal/jobs"
	"github.com/kalambet/gatekeeper/internal/render"
)

// Stage names one sequential phase of the pipeline.
type Stage string

const (
	StageTranscribe       Stage = "transcribe"
	StageUploadTranscript Stage = "upload transcript"
	StageExtractInsights  Stage = "extract insights"
	StageUploadInsights   Stage = "upload insights"
)

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Tracker is the job-supervision surface the orchestrator reports into.
type Tracker interface {
	ReportProgress(artifactPath string, percent float64) error
	AdvanceStage(artifactPath string, stage jobs.Stage) error
	Fail(artifactPath, message string) error
}

// Transcriber produces the stitched transcript for an audio file.
type Transcriber interface {
	Run(ctx context.Context, audioPath string, progress func(done, total int)) (string, error)
}

// Extractor distills a transcript into a markdown insight document.
type Extractor interface {
	Extract(ctx context.Context, transcript string) (string, error)
}

// Uploader ships a local file into a remote folder.
type Uploader interface {
	Upload(ctx context.Context, localPath, folderID string) (*drive.UploadResult, error)
}

// Notifier delivers progress and outcome messages to the requesting chat.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Config locates the output directories and remote folders.
type Config struct {
	TranscriptionsDir   string
	InsightsDir         string
	TranscriptsFolderID string
	InsightsFolderID    string
}

// Orchestrator runs one accepted job from transcript to uploaded insights.
// Exactly one Run executes at a time; the job tracker's slot enforces that.
type Orchestrator struct {
	tracker     Tracker
	transcriber Transcriber
	extractor   Extractor
	uploader    Uploader
	notifier    Notifier
	cfg         Config
	logger      *slog.Logger
}

// New wires an Orchestrator.
func New(tracker Tracker, transcriber Transcriber, extractor Extractor, uploader Uploader, notifier Notifier, cfg Config) *Orchestrator {
	return &Orchestrator{
		tracker:     tracker,
		transcriber: transcriber,
		extractor:   extractor,
		uploader:    uploader,
		notifier:    notifier,
		cfg:         cfg,
		logger:      slog.Default(),
	}
}

// Run executes the pipeline for an already-acquired job slot. Every exit
// path leaves the job terminal: success through the InsightsDone stage,
// anything else (including a panic in a stage) through Fail plus a single
// failure notification.
func (o *Orchestrator) Run(ctx context.Context, audioPath string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		if err == nil {
			return
		}
		o.logger.Error("pipeline failed", "artifact", audioPath, "error", err)
		if ferr := o.tracker.Fail(audioPath, err.Error()); ferr != nil {
			o.logger.Error("finalizing failed job", "artifact", audioPath, "error", ferr)
		}
		o.notify(ctx, "❌ Error during transcription: "+err.Error())
	}()

	transcriptPath, transcript, err := o.transcribe(ctx, audioPath)
	if err != nil {
		return &StageError{Stage: StageTranscribe, Err: err}
	}
	if err := o.tracker.AdvanceStage(audioPath, jobs.StageTranscriptionDone); err != nil {
		return &StageError{Stage: StageTranscribe, Err: err}
	}

	transcriptUpload, err := o.uploader.Upload(ctx, transcriptPath, o.cfg.TranscriptsFolderID)
	if err != nil {
		return &StageError{Stage: StageUploadTranscript, Err: err}
	}
	o.notify(ctx, fmt.Sprintf(
		"✅ Transcription completed and uploaded to Google Drive!\nLink: %s\n\n🔄 Now extracting discussion insights...",
		transcriptUpload.Link))

	if err := o.tracker.AdvanceStage(audioPath, jobs.StageInsightsStarted); err != nil {
		return &StageError{Stage: StageExtractInsights, Err: err}
	}
	insightsPath, err := o.extractInsights(ctx, audioPath, transcript)
	if err != nil {
		return &StageError{Stage: StageExtractInsights, Err: err}
	}

	insightsUpload, err := o.uploader.Upload(ctx, insightsPath, o.cfg.InsightsFolderID)
	if err != nil {
		return &StageError{Stage: StageUploadInsights, Err: err}
	}
	o.notify(ctx, fmt.Sprintf(
		"📊 Discussion insights generated and uploaded:\n• %s: %s",
		filepath.Base(insightsPath), insightsUpload.Link))

	if err := o.tracker.AdvanceStage(audioPath, jobs.StageInsightsDone); err != nil {
		return &StageError{Stage: StageUploadInsights, Err: err}
	}
	o.logger.Info("pipeline completed", "artifact", audioPath)
	return nil
}

// transcribe runs stage one and persists the transcript next to the other
// run artifacts. Chunk progress goes to the tracker unthrottled.
func (o *Orchestrator) transcribe(ctx context.Context, audioPath string) (string, string, error) {
	progress := func(done, total int) {
		if total == 0 {
			return
		}
		pct := float64(done) / float64(total) * 100
		if err := o.tracker.ReportProgress(audioPath, pct); err != nil {
			o.logger.Warn("recording progress", "artifact", audioPath, "error", err)
		}
	}

	transcript, err := o.transcriber.Run(ctx, audioPath, progress)
	if err != nil {
		return "", "", err
	}

	if err := os.MkdirAll(o.cfg.TranscriptionsDir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating transcriptions directory: %w", err)
	}
	path := filepath.Join(o.cfg.TranscriptionsDir, baseName(audioPath)+"_transcription.txt")
	if err := os.WriteFile(path, []byte(transcript), 0o644); err != nil {
		return "", "", fmt.Errorf("writing transcript: %w", err)
	}
	return path, transcript, nil
}

// extractInsights runs stage three and renders the result to docx.
func (o *Orchestrator) extractInsights(ctx context.Context, audioPath, transcript string) (string, error) {
	markdown, err := o.extractor.Extract(ctx, transcript)
	if err != nil {
		return "", err
	}

	data, err := render.DocxBytes(markdown)
	if err != nil {
		return "", fmt.Errorf("rendering insights document: %w", err)
	}

	if err := os.MkdirAll(o.cfg.InsightsDir, 0o755); err != nil {
		return "", fmt.Errorf("creating insights directory: %w", err)
	}
	path := filepath.Join(o.cfg.InsightsDir, baseName(audioPath)+"_insights.docx")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing insights document: %w", err)
	}
	return path, nil
}

func (o *Orchestrator) notify(ctx context.Context, text string) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Notify(ctx, text); err != nil {
		o.logger.Warn("delivering pipeline notification", "error", err)
	}
}

func baseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
