package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kalambet/gatekeeper/internal/storage"
	"github.com/kalambet/gatekeeper/internal/transport"
)

// fallbackProgressInterval bounds outward progress edits during a
// large-file download. The final update is always delivered.
const fallbackProgressInterval = 5 * time.Second

func (d *Dispatcher) handleTranscribeRequest(ctx context.Context, chatID int64) error {
	active, err := d.tracker.QueryActive()
	if err != nil {
		return fmt.Errorf("checking active job: %w", err)
	}
	if active != nil {
		_, err := d.tg.SendMessage(ctx, chatID, busyText(active, d.now()))
		return err
	}

	prompt, err := d.tg.SendMessage(ctx, chatID,
		"Please reply to this message with the audio file you want to transcribe.")
	if err != nil {
		return err
	}
	d.transcribePromptID = prompt.ID
	return nil
}

func (d *Dispatcher) handleJobStatus(ctx context.Context, chatID int64) error {
	active, err := d.tracker.QueryActive()
	if err != nil {
		return fmt.Errorf("checking active job: %w", err)
	}
	_, err = d.tg.SendMessage(ctx, chatID, statusText(active, d.now()))
	return err
}

func busyText(job *storage.JobStatus, now time.Time) string {
	return fmt.Sprintf(
		"❌ Another transcription is already in progress:\n"+
			"🎵 File: %s\n"+
			"⏱️ Time elapsed: %s\n\n"+
			"Please wait for it to complete or check status with /check_transcription_status",
		filepath.Base(job.ArtifactPath), elapsedMinutes(job.StartedAt, now))
}

func statusText(job *storage.JobStatus, now time.Time) string {
	if job == nil || job.FullyDone {
		return "No audio is being transcribed or processed currently."
	}
	name := filepath.Base(job.ArtifactPath)
	elapsed := elapsedMinutes(job.StartedAt, now)
	switch {
	case !job.TranscriptionDone:
		return fmt.Sprintf("🎵 Transcribing file: %s\nProgress: %.1f%%\nTime elapsed: %s",
			name, job.Progress, elapsed)
	case job.ExtractingInsights:
		return fmt.Sprintf("✅ Transcription completed for: %s\n🔄 Now extracting discussion insights...\nTime elapsed: %s",
			name, elapsed)
	default:
		return fmt.Sprintf("✅ Transcription completed for: %s\n⏳ Preparing to extract discussion insights...\nTime elapsed: %s",
			name, elapsed)
	}
}

func elapsedMinutes(start, now time.Time) string {
	return fmt.Sprintf("%.1f minutes", now.Sub(start).Minutes())
}

// audioAttachment picks the audio payload out of a reply, naming voice
// notes by their timestamp.
func audioAttachment(msg *transport.Message) (*transport.FileRef, string) {
	switch {
	case msg.Audio != nil:
		return msg.Audio, msg.Audio.FileName
	case msg.Voice != nil:
		return msg.Voice, fmt.Sprintf("voice_%s.ogg", msg.Date.Format("20060102_150405"))
	case msg.Document != nil && isAudioMIME(msg.Document.MIMEType):
		return msg.Document, msg.Document.FileName
	}
	return nil, ""
}

func isAudioMIME(mimeType string) bool {
	return len(mimeType) > 6 && mimeType[:6] == "audio/"
}

func (d *Dispatcher) handleAudioUpload(ctx context.Context, msg *transport.Message) error {
	chatID := msg.Chat.ID

	active, err := d.tracker.QueryActive()
	if err != nil {
		return fmt.Errorf("checking active job: %w", err)
	}
	if active != nil {
		_, err := d.tg.SendMessage(ctx, chatID,
			"❌ Another transcription is already in progress. Please wait for it to complete.")
		return err
	}

	file, fileName := audioAttachment(msg)
	if file == nil {
		_, err := d.tg.SendMessage(ctx, chatID,
			"❌ Please send a valid audio file. Supported formats:\n"+
				"• Audio messages (voice)\n"+
				"• Audio files (mp3, wav, etc.)\n"+
				"• Audio documents\n\n"+
				"Reply to my previous message with an audio file to start transcription.")
		return err
	}

	if d.cfg.MaxAudioFileBytes > 0 && file.Size > d.cfg.MaxAudioFileBytes {
		_, err := d.tg.SendMessage(ctx, chatID, fmt.Sprintf(
			"❌ Audio file is too large (over %.0f MB). Please use a smaller file.",
			float64(d.cfg.MaxAudioFileBytes)/(1024*1024)))
		return err
	}

	if err := os.MkdirAll(d.cfg.AudioDir, 0o755); err != nil {
		return fmt.Errorf("creating audio directory: %w", err)
	}
	audioPath := filepath.Join(d.cfg.AudioDir, filepath.Base(fileName))

	if err := d.downloadAudio(ctx, msg, file, audioPath); err != nil {
		return err
	}

	acquired, busy, err := d.tracker.TryAcquire(audioPath)
	if err != nil {
		return fmt.Errorf("acquiring job slot: %w", err)
	}
	if !acquired {
		_, err := d.tg.SendMessage(ctx, chatID, busyText(busy, d.now()))
		return err
	}
	d.transcribePromptID = 0

	processingMsg, err := d.tg.SendMessage(ctx, chatID, "🎵 Processing audio file...")
	if err != nil {
		d.logger.Warn("sending processing message", "error", err)
	}

	d.spawn(func() {
		runCtx := context.Background()
		if err := d.pipeline.Run(runCtx, audioPath); err == nil && processingMsg != nil {
			if derr := d.tg.DeleteMessage(runCtx, chatID, processingMsg.ID); derr != nil && !transport.IsAPIRejection(derr) {
				d.logger.Warn("deleting processing message", "error", derr)
			}
		}
	})

	_, err = d.tg.SendMessage(ctx, chatID,
		"🎵 Started transcription in background. You can use /check_transcription_status to check progress.")
	return err
}

// downloadAudio fetches the attachment through the primary channel, falling
// back to the large-file path on a size-limit rejection. Fallback progress
// is surfaced as message edits at a bounded rate.
func (d *Dispatcher) downloadAudio(ctx context.Context, msg *transport.Message, file *transport.FileRef, destPath string) error {
	err := d.tg.DownloadFile(ctx, file.FileID, destPath)
	if err == nil {
		return nil
	}
	if !errors.Is(err, transport.ErrFileTooBig) {
		return fmt.Errorf("downloading audio: %w", err)
	}
	if d.fallback == nil {
		_, serr := d.tg.SendMessage(ctx, msg.Chat.ID,
			"❌ Failed to download the large file. Please try again or use a smaller file.")
		if serr != nil {
			return serr
		}
		return err
	}

	progressMsg, err := d.tg.SendMessage(ctx, msg.Chat.ID,
		"📥 File is larger than 20MB. Starting download using alternative method...\nProgress: 0%")
	if err != nil {
		return err
	}

	progress := transport.ThrottledProgress(fallbackProgressInterval, func(current, total int64) {
		pct := float64(current) / float64(total) * 100
		text := fmt.Sprintf("📥 Downloading large file...\nProgress: %.1f%%", pct)
		if err := d.tg.EditMessageText(ctx, msg.Chat.ID, progressMsg.ID, text); err != nil && !transport.IsAPIRejection(err) {
			d.logger.Warn("editing download progress", "error", err)
		}
	})

	if err := d.fallback.Download(ctx, file, destPath, progress); err != nil {
		_, serr := d.tg.SendMessage(ctx, msg.Chat.ID,
			"❌ Failed to download the large file. Please try again or use a smaller file.")
		if serr != nil {
			d.logger.Warn("reporting download failure", "error", serr)
		}
		return fmt.Errorf("fallback download: %w", err)
	}

	if err := d.tg.DeleteMessage(ctx, msg.Chat.ID, progressMsg.ID); err != nil && !transport.IsAPIRejection(err) {
		d.logger.Warn("deleting progress message", "error", err)
	}
	return nil
}
