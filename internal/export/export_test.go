package export

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/gatekeeper/internal/drive"
	"github.com/kalambet/gatekeeper/internal/storage"
)

var testQuestions = []string{"Q1?", "Q2?"}

type fakeStore struct {
	users []storage.User
	err   error
}

func (f *fakeStore) ListUsers() ([]storage.User, error) {
	return f.users, f.err
}

func TestCSVColumnsAndTimezone(t *testing.T) {
	store := &fakeStore{users: []storage.User{
		{
			ID:       42,
			Username: "alice",
			State:    storage.StateApproved,
			JoinedAt: time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC),
			Answers: []storage.Answer{
				{Question: "Q1?", Answer: "first"},
				{Question: "Q2?", Answer: "second"},
			},
		},
		{
			ID:       43,
			State:    storage.StateInSurvey,
			JoinedAt: time.Date(2026, 3, 2, 1, 30, 0, 0, time.UTC),
			Answers:  []storage.Answer{{Question: "Q1?", Answer: "only one"}},
		},
	}}

	data, err := NewExporter(store, testQuestions).CSV()
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("parsing output: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d rows", len(records))
	}

	wantHeader := []string{"User ID", "Username", "State", "Join Date (GMT+8)", "Q1?", "Q2?"}
	for i, col := range wantHeader {
		if records[0][i] != col {
			t.Errorf("header[%d] = %q, want %q", i, records[0][i], col)
		}
	}

	// 16:00 UTC is midnight next day in GMT+8.
	row := records[1]
	if row[0] != "42" || row[1] != "alice" || row[2] != "approved" {
		t.Errorf("row = %v", row)
	}
	if row[3] != "2026-03-02 00:00:00 GMT+8" {
		t.Errorf("join date = %q", row[3])
	}
	if row[4] != "first" || row[5] != "second" {
		t.Errorf("answers = %v", row[4:])
	}

	// Missing username renders as None; unanswered questions stay empty.
	row = records[2]
	if row[1] != "None" || row[4] != "only one" || row[5] != "" {
		t.Errorf("partial row = %v", row)
	}
}

type fakeUploader struct {
	paths  []string
	folder string
	err    error
}

func (f *fakeUploader) Upload(ctx context.Context, localPath, folderID string) (*drive.UploadResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.paths = append(f.paths, localPath)
	f.folder = folderID
	return &drive.UploadResult{ID: "file1", Name: FileName, Link: "https://drive.example/view/file1"}, nil
}

type fakeNotifier struct {
	notices []string
}

func (f *fakeNotifier) Notify(ctx context.Context, text string) error {
	f.notices = append(f.notices, text)
	return nil
}

func TestExportAndArchive(t *testing.T) {
	store := &fakeStore{users: []storage.User{{ID: 1, State: storage.StateIdle, JoinedAt: time.Now()}}}
	uploader := &fakeUploader{}
	notifier := &fakeNotifier{}
	a := NewArchiver(NewExporter(store, testQuestions), uploader, notifier, t.TempDir(), "folder1")

	if err := a.ExportAndArchive(context.Background()); err != nil {
		t.Fatalf("ExportAndArchive: %v", err)
	}
	if len(uploader.paths) != 1 || !strings.HasSuffix(uploader.paths[0], FileName) {
		t.Errorf("uploaded %v", uploader.paths)
	}
	if uploader.folder != "folder1" {
		t.Errorf("folder = %q", uploader.folder)
	}
	if len(notifier.notices) != 1 || !strings.Contains(notifier.notices[0], "https://drive.example/view/file1") {
		t.Errorf("notices = %v", notifier.notices)
	}
}

func TestExportAndArchiveUploadFailure(t *testing.T) {
	store := &fakeStore{}
	uploader := &fakeUploader{err: errors.New("quota exceeded")}
	a := NewArchiver(NewExporter(store, testQuestions), uploader, nil, t.TempDir(), "folder1")

	if err := a.ExportAndArchive(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
}
