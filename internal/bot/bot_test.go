package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/gatekeeper/internal/jobs"
	"github.com/kalambet/gatekeeper/internal/storage"
	"github.com/kalambet/gatekeeper/internal/transport"
)

const adminGroup = int64(-100111)

type fakeTransport struct {
	sent        []string
	sentChats   []int64
	edits       []string
	deleted     []int64
	documents   []string
	downloads   []string
	downloadErr error
	nextMsgID   int64
}

func (f *fakeTransport) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]transport.Update, error) {
	return nil, nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, chatID int64, text string) (*transport.Message, error) {
	f.nextMsgID++
	f.sent = append(f.sent, text)
	f.sentChats = append(f.sentChats, chatID)
	return &transport.Message{ID: f.nextMsgID, Chat: transport.Chat{ID: chatID}}, nil
}

func (f *fakeTransport) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeTransport) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	f.documents = append(f.documents, filename)
	return nil
}

func (f *fakeTransport) DownloadFile(ctx context.Context, fileID, destPath string) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	f.downloads = append(f.downloads, destPath)
	return os.WriteFile(destPath, []byte("audio"), 0o644)
}

func (f *fakeTransport) last() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type fakeMembership struct {
	starts    []int64
	surveys   []string
	decisions []string
	reasons   []string
}

func (f *fakeMembership) HandleStart(ctx context.Context, userID int64, username string) error {
	f.starts = append(f.starts, userID)
	return nil
}

func (f *fakeMembership) HandleSurveyMessage(ctx context.Context, userID int64, text string) error {
	f.surveys = append(f.surveys, text)
	return nil
}

func (f *fakeMembership) HandleReviewDecision(ctx context.Context, cb *transport.CallbackQuery) error {
	f.decisions = append(f.decisions, cb.Data)
	return nil
}

func (f *fakeMembership) HandleRejectionReason(ctx context.Context, msg *transport.Message) error {
	f.reasons = append(f.reasons, msg.Text)
	return nil
}

type fakePipeline struct {
	runs []string
}

func (f *fakePipeline) Run(ctx context.Context, audioPath string) error {
	f.runs = append(f.runs, filepath.Base(audioPath))
	return nil
}

type fakeExporter struct{}

func (fakeExporter) CSV() ([]byte, error) { return []byte("User ID\n"), nil }

type fakeStats struct {
	counts map[storage.UserState]int
}

func (f *fakeStats) CountByState() (map[storage.UserState]int, error) { return f.counts, nil }

type fixture struct {
	d       *Dispatcher
	tg      *fakeTransport
	members *fakeMembership
	runner  *fakePipeline
	tracker *jobs.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	tg := &fakeTransport{}
	members := &fakeMembership{}
	runner := &fakePipeline{}
	tracker := jobs.NewTracker(s)
	d := New(tg, nil, members, tracker, runner, fakeExporter{}, &fakeStats{counts: map[storage.UserState]int{}}, Config{
		AdminGroupID:      adminGroup,
		AudioDir:          t.TempDir(),
		MaxAudioFileBytes: 300 * 1024 * 1024,
		BotAPIFileLimit:   20 * 1024 * 1024,
	})
	d.spawn = func(f func()) { f() }
	return &fixture{d: d, tg: tg, members: members, runner: runner, tracker: tracker}
}

func privateMessage(text string) transport.Update {
	return transport.Update{ID: 1, Message: &transport.Message{
		ID:   10,
		Chat: transport.Chat{ID: 42, Type: "private"},
		From: &transport.UserRef{ID: 42, Username: "alice"},
		Text: text,
	}}
}

func adminMessage(text string) transport.Update {
	return transport.Update{ID: 1, Message: &transport.Message{
		ID:   11,
		Chat: transport.Chat{ID: adminGroup, Type: "supergroup"},
		From: &transport.UserRef{ID: 9},
		Text: text,
	}}
}

func TestCommandParsing(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"/start", "start"},
		{"/start@gatekeeper_bot", "start"},
		{"/transcribe_audio extra words", "transcribe_audio"},
		{"hello", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := command(tt.text); got != tt.want {
			t.Errorf("command(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestDispatchRouting(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.d.dispatch(ctx, privateMessage("/start"))
	if len(fx.members.starts) != 1 || fx.members.starts[0] != 42 {
		t.Errorf("starts = %v", fx.members.starts)
	}

	fx.d.dispatch(ctx, privateMessage("my answer"))
	if len(fx.members.surveys) != 1 || fx.members.surveys[0] != "my answer" {
		t.Errorf("surveys = %v", fx.members.surveys)
	}

	fx.d.dispatch(ctx, transport.Update{ID: 2, CallbackQuery: &transport.CallbackQuery{
		ID: "cb", From: transport.UserRef{ID: 9}, Data: "approve_42",
		Message: &transport.Message{ID: 5, Chat: transport.Chat{ID: adminGroup}},
	}})
	if len(fx.members.decisions) != 1 || fx.members.decisions[0] != "approve_42" {
		t.Errorf("decisions = %v", fx.members.decisions)
	}
}

func TestRejectionReasonRouting(t *testing.T) {
	fx := newFixture(t)
	u := adminMessage("spam account")
	u.Message.ReplyTo = &transport.Message{ID: 77}

	fx.d.dispatch(context.Background(), u)
	if len(fx.members.reasons) != 1 || fx.members.reasons[0] != "spam account" {
		t.Errorf("reasons = %v", fx.members.reasons)
	}
}

func TestStatsCommand(t *testing.T) {
	fx := newFixture(t)
	fx.d.stats = &fakeStats{counts: map[storage.UserState]int{
		storage.StateIdle:            1,
		storage.StateInSurvey:        2,
		storage.StatePendingApproval: 3,
		storage.StateApproved:        4,
		storage.StateRejected:        5,
	}}

	fx.d.dispatch(context.Background(), adminMessage("/stats"))
	got := fx.tg.last()
	for _, want := range []string{"Total Users: 15", "Pending Requests: 5", "Approved Users: 4", "Rejected Users: 5"} {
		if !strings.Contains(got, want) {
			t.Errorf("stats %q missing %q", got, want)
		}
	}
}

func TestExportCommandSendsDocument(t *testing.T) {
	fx := newFixture(t)
	fx.d.dispatch(context.Background(), adminMessage("/export"))
	if len(fx.tg.documents) != 1 {
		t.Fatalf("documents = %v", fx.tg.documents)
	}
}

func audioReply(promptID int64) transport.Update {
	u := adminMessage("")
	u.Message.ReplyTo = &transport.Message{ID: promptID}
	u.Message.Audio = &transport.FileRef{FileID: "f1", FileName: "talk.m4a", Size: 1024}
	return u
}

func TestAudioUploadStartsPipeline(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.d.dispatch(ctx, adminMessage("/transcribe_audio"))
	if fx.d.transcribePromptID == 0 {
		t.Fatal("prompt not recorded")
	}

	fx.d.dispatch(ctx, audioReply(fx.d.transcribePromptID))

	if len(fx.runner.runs) != 1 || fx.runner.runs[0] != "talk.m4a" {
		t.Fatalf("pipeline runs = %v", fx.runner.runs)
	}
	if len(fx.tg.downloads) != 1 {
		t.Errorf("downloads = %v", fx.tg.downloads)
	}
	if !strings.Contains(fx.tg.last(), "Started transcription in background") {
		t.Errorf("last message = %q", fx.tg.last())
	}
}

func TestTranscribeRequestWhileBusy(t *testing.T) {
	fx := newFixture(t)
	if ok, _, err := fx.tracker.TryAcquire("running.m4a"); err != nil || !ok {
		t.Fatalf("TryAcquire: ok=%v err=%v", ok, err)
	}

	fx.d.dispatch(context.Background(), adminMessage("/transcribe_audio"))
	got := fx.tg.last()
	if !strings.Contains(got, "Another transcription is already in progress") ||
		!strings.Contains(got, "running.m4a") {
		t.Errorf("busy message = %q", got)
	}
	if fx.d.transcribePromptID != 0 {
		t.Error("prompt recorded while busy")
	}
}

func TestNonAudioReplyRejected(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.d.dispatch(ctx, adminMessage("/transcribe_audio"))

	u := adminMessage("")
	u.Message.ReplyTo = &transport.Message{ID: fx.d.transcribePromptID}
	u.Message.Document = &transport.FileRef{FileID: "f1", FileName: "notes.pdf", MIMEType: "application/pdf"}
	fx.d.dispatch(ctx, u)

	if !strings.Contains(fx.tg.last(), "valid audio file") {
		t.Errorf("reply = %q", fx.tg.last())
	}
	if len(fx.runner.runs) != 0 {
		t.Errorf("pipeline started for non-audio reply")
	}
}

func TestOversizeAudioRejected(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.d.dispatch(ctx, adminMessage("/transcribe_audio"))

	u := audioReply(fx.d.transcribePromptID)
	u.Message.Audio.Size = 400 * 1024 * 1024
	fx.d.dispatch(ctx, u)

	if !strings.Contains(fx.tg.last(), "too large (over 300 MB)") {
		t.Errorf("reply = %q", fx.tg.last())
	}
	if len(fx.runner.runs) != 0 {
		t.Error("pipeline started for oversize file")
	}
}

type fakeFallback struct {
	calls int
}

func (f *fakeFallback) Download(ctx context.Context, file *transport.FileRef, destPath string, progress transport.ProgressFunc) error {
	f.calls++
	progress(50, 100)
	progress(100, 100)
	return os.WriteFile(destPath, []byte("large audio"), 0o644)
}

func TestLargeFileFallbackPath(t *testing.T) {
	fx := newFixture(t)
	fallback := &fakeFallback{}
	fx.d.fallback = fallback
	fx.tg.downloadErr = transport.ErrFileTooBig
	ctx := context.Background()

	fx.d.dispatch(ctx, adminMessage("/transcribe_audio"))
	fx.d.dispatch(ctx, audioReply(fx.d.transcribePromptID))

	if fallback.calls != 1 {
		t.Fatalf("fallback calls = %d", fallback.calls)
	}
	if len(fx.runner.runs) != 1 {
		t.Fatalf("pipeline runs = %v", fx.runner.runs)
	}
	// The 100% edit always lands even if the 50% one was throttled.
	final := fx.tg.edits[len(fx.tg.edits)-1]
	if !strings.Contains(final, "100.0%") {
		t.Errorf("final progress edit = %q", final)
	}
	if len(fx.tg.deleted) == 0 {
		t.Error("progress message not deleted after success")
	}
}
