package bot

import (
	"context"
	"fmt"

	"github.com/kalambet/gatekeeper/internal/export"
	"github.com/kalambet/gatekeeper/internal/storage"
)

const userHelpText = `Available Commands

/start - Start the join process
• Complete the join survey
• Get your invite link (if approved)
• Check your request status

/help - Show this help message with command list

How to Join
1. Use /start to begin the process
2. Answer all survey questions
3. Wait for admin approval
4. Once approved, you'll receive an invite link

Note: Each invite link can only be used once and expires after use.`

const adminHelpText = `Admin Commands

User Management Commands:
/start - Start the join process (in private chat)
/help - Show this help message
/export - Export user data to CSV
/stats - Show current statistics

Audio Processing Commands:
/transcribe_audio - Start audio transcription
/check_transcription_status - Check transcription progress

Audio Processing Features:
• Supports audio files, voice messages, and documents
• Transcribes speech to text
• Generates discussion insights
• Uploads results to Google Drive
• Shows progress and time elapsed

Important Notes:
• Only one transcription can run at a time
• Results are uploaded to Google Drive
• Admin commands work only in this group
• User management via inline buttons`

func (d *Dispatcher) handleExport(ctx context.Context, chatID int64) error {
	data, err := d.exporter.CSV()
	if err != nil {
		_, serr := d.tg.SendMessage(ctx, chatID, "❌ Error exporting user data: "+err.Error())
		if serr != nil {
			return serr
		}
		return err
	}
	return d.tg.SendDocument(ctx, chatID, export.FileName, data, "Here is the exported user data.")
}

func (d *Dispatcher) handleStats(ctx context.Context, chatID int64) error {
	counts, err := d.stats.CountByState()
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	pending := counts[storage.StateInSurvey] + counts[storage.StatePendingApproval]

	_, err = d.tg.SendMessage(ctx, chatID, fmt.Sprintf(
		"Bot Statistics\n\n"+
			"Total Users: %d\n"+
			"Pending Requests: %d\n"+
			"Approved Users: %d\n"+
			"Rejected Users: %d",
		total, pending, counts[storage.StateApproved], counts[storage.StateRejected]))
	return err
}
