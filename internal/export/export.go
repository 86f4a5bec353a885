// Package export snapshots the user table into a CSV file and ships it to
// the remote file store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kalambet/gatekeeper/internal/drive"
	"github.com/kalambet/gatekeeper/internal/storage"
)

// FileName is the exported snapshot's name. Uploads overwrite the previous
// snapshot in the archive folder.
const FileName = "sisc_user_data.csv"

// Join timestamps are reported in the club's local time.
var exportZone = time.FixedZone("GMT+8", 8*60*60)

// Store is the persistence surface the exporter reads.
type Store interface {
	ListUsers() ([]storage.User, error)
}

// Uploader ships a local file into a remote folder.
type Uploader interface {
	Upload(ctx context.Context, localPath, folderID string) (*drive.UploadResult, error)
}

// Notifier delivers archive outcomes to reviewers.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Exporter renders the users table as CSV: one fixed column block (ID,
// username, state, local join time) followed by one column per survey
// question, answers in question order.
type Exporter struct {
	store     Store
	questions []string
}

// NewExporter creates an Exporter for the given question list.
func NewExporter(store Store, questions []string) *Exporter {
	return &Exporter{store: store, questions: questions}
}

// CSV renders the snapshot.
func (e *Exporter) CSV() ([]byte, error) {
	users, err := e.store.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"User ID", "Username", "State", "Join Date (GMT+8)"}
	header = append(header, e.questions...)
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, u := range users {
		username := u.Username
		if username == "" {
			username = "None"
		}
		row := []string{
			strconv.FormatInt(u.ID, 10),
			username,
			string(u.State),
			u.JoinedAt.In(exportZone).Format("2006-01-02 15:04:05 GMT+8"),
		}
		for _, q := range e.questions {
			answer, _ := u.AnswerFor(q)
			row = append(row, answer)
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile renders the snapshot into dir and returns its path.
func (e *Exporter) WriteFile(dir string) (string, error) {
	data, err := e.CSV()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export directory: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// Archiver couples the exporter to the remote file store. It satisfies the
// membership service's post-decision hook.
type Archiver struct {
	exporter *Exporter
	uploader Uploader
	notifier Notifier
	dir      string
	folderID string
	logger   *slog.Logger
}

// NewArchiver creates an Archiver writing snapshots under dir and uploading
// them into folderID. notifier may be nil to skip success notices.
func NewArchiver(exporter *Exporter, uploader Uploader, notifier Notifier, dir, folderID string) *Archiver {
	return &Archiver{
		exporter: exporter,
		uploader: uploader,
		notifier: notifier,
		dir:      dir,
		folderID: folderID,
		logger:   slog.Default(),
	}
}

// ExportAndArchive writes the snapshot and uploads it. The success notice
// carries the remote link; a failed notice delivery is logged, not fatal.
func (a *Archiver) ExportAndArchive(ctx context.Context) error {
	path, err := a.exporter.WriteFile(a.dir)
	if err != nil {
		return err
	}

	result, err := a.uploader.Upload(ctx, path, a.folderID)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", FileName, err)
	}

	if a.notifier != nil {
		notice := fmt.Sprintf("✅ Successfully uploaded %s to Google Drive\nLink: %s", FileName, result.Link)
		if err := a.notifier.Notify(ctx, notice); err != nil {
			a.logger.Warn("delivering archive notice", "error", err)
		}
	}
	return nil
}
