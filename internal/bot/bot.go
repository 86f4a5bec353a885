// Package bot receives inbound chat updates and routes them to the
// membership workflow and the transcription job commands.
package bot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/gatekeeper/internal/storage"
	"github.com/kalambet/gatekeeper/internal/transport"
)

const pollTimeout = 30 * time.Second

// Transport is the chat-platform surface the dispatcher drives.
type Transport interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]transport.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) (*transport.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string) error
	DeleteMessage(ctx context.Context, chatID, messageID int64) error
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error
	DownloadFile(ctx context.Context, fileID, destPath string) error
}

// Membership is the admission workflow surface.
type Membership interface {
	HandleStart(ctx context.Context, userID int64, username string) error
	HandleSurveyMessage(ctx context.Context, userID int64, text string) error
	HandleReviewDecision(ctx context.Context, cb *transport.CallbackQuery) error
	HandleRejectionReason(ctx context.Context, msg *transport.Message) error
}

// JobTracker is the slot-supervision surface.
type JobTracker interface {
	TryAcquire(artifactPath string) (bool, *storage.JobStatus, error)
	QueryActive() (*storage.JobStatus, error)
}

// PipelineRunner executes one accepted job to completion.
type PipelineRunner interface {
	Run(ctx context.Context, audioPath string) error
}

// Exporter renders the user-table CSV for the /export command.
type Exporter interface {
	CSV() ([]byte, error)
}

// StatsStore provides the /stats counts.
type StatsStore interface {
	CountByState() (map[storage.UserState]int, error)
}

// Config carries the chat IDs and file handling limits.
type Config struct {
	AdminGroupID      int64
	TargetGroupID     int64
	AudioDir          string
	MaxAudioFileBytes int64
	// BotAPIFileLimit is the primary channel's download ceiling; larger
	// files go through the fallback downloader.
	BotAPIFileLimit int64
}

// Dispatcher long-polls for updates and fans them out. It runs on a single
// goroutine; only accepted pipeline jobs spawn background work.
type Dispatcher struct {
	tg         Transport
	fallback   transport.FallbackDownloader
	membership Membership
	tracker    JobTracker
	pipeline   PipelineRunner
	exporter   Exporter
	stats      StatsStore
	cfg        Config
	logger     *slog.Logger

	// transcribePromptID is the outstanding "reply with an audio file"
	// request, zero when none. Only the dispatcher goroutine touches it.
	transcribePromptID int64

	now   func() time.Time
	spawn func(func())
}

// New wires a Dispatcher. fallback may be nil when no large-file channel is
// configured.
func New(tg Transport, fallback transport.FallbackDownloader, membership Membership, tracker JobTracker, pipeline PipelineRunner, exporter Exporter, stats StatsStore, cfg Config) *Dispatcher {
	return &Dispatcher{
		tg:         tg,
		fallback:   fallback,
		membership: membership,
		tracker:    tracker,
		pipeline:   pipeline,
		exporter:   exporter,
		stats:      stats,
		cfg:        cfg,
		logger:     slog.Default(),
		now:        time.Now,
		spawn:      func(f func()) { go f() },
	}
}

// Run polls until the context is cancelled. Handler errors are logged and
// never stop the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := d.tg.GetUpdates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.logger.Warn("polling updates", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			offset = u.ID + 1
			d.dispatch(ctx, u)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, u transport.Update) {
	var err error
	switch {
	case u.CallbackQuery != nil:
		err = d.membership.HandleReviewDecision(ctx, u.CallbackQuery)
	case u.Message != nil && u.Message.Chat.Type == "private":
		err = d.handlePrivate(ctx, u.Message)
	case u.Message != nil && u.Message.Chat.ID == d.cfg.AdminGroupID:
		err = d.handleAdminGroup(ctx, u.Message)
	}
	if err != nil {
		d.logger.Error("handling update", "update_id", u.ID, "error", err)
	}
}

func (d *Dispatcher) handlePrivate(ctx context.Context, msg *transport.Message) error {
	if msg.From == nil {
		return nil
	}
	switch command(msg.Text) {
	case "start":
		return d.membership.HandleStart(ctx, msg.From.ID, msg.From.Username)
	case "help":
		_, err := d.tg.SendMessage(ctx, msg.Chat.ID, userHelpText)
		return err
	case "":
		// Non-command traffic is survey input; non-text payloads pass an
		// empty answer so the survey re-prompts.
		return d.membership.HandleSurveyMessage(ctx, msg.From.ID, msg.Text)
	}
	return nil
}

func (d *Dispatcher) handleAdminGroup(ctx context.Context, msg *transport.Message) error {
	switch command(msg.Text) {
	case "help":
		_, err := d.tg.SendMessage(ctx, msg.Chat.ID, adminHelpText)
		return err
	case "export":
		return d.handleExport(ctx, msg.Chat.ID)
	case "stats":
		return d.handleStats(ctx, msg.Chat.ID)
	case "transcribe_audio":
		return d.handleTranscribeRequest(ctx, msg.Chat.ID)
	case "check_transcription_status":
		return d.handleJobStatus(ctx, msg.Chat.ID)
	case "":
	default:
		return nil
	}

	if msg.ReplyTo == nil {
		return nil
	}
	if d.transcribePromptID != 0 && msg.ReplyTo.ID == d.transcribePromptID {
		return d.handleAudioUpload(ctx, msg)
	}
	if msg.Text != "" {
		return d.membership.HandleRejectionReason(ctx, msg)
	}
	return nil
}

// command extracts the bot command name from a message, stripping any
// @botname suffix. Returns "" for non-command messages.
func command(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0][1:]
	if at := strings.Index(cmd, "@"); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd
}
