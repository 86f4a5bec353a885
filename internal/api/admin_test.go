package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/gatekeeper/internal/jobs"
	"github.com/kalambet/gatekeeper/internal/storage"
)

const testToken = "test-token"

type fakeExporter struct {
	data []byte
	err  error
}

func (f *fakeExporter) CSV() ([]byte, error) { return f.data, f.err }

type fakeArchiver struct {
	calls int
	err   error
}

func (f *fakeArchiver) ExportAndArchive(ctx context.Context) error {
	f.calls++
	return f.err
}

type fakeRunner struct {
	runs []string
}

func (f *fakeRunner) Run(ctx context.Context, audioPath string) error {
	f.runs = append(f.runs, audioPath)
	return nil
}

type appFixture struct {
	srv      *httptest.Server
	store    *storage.Store
	tracker  *jobs.Tracker
	archiver *fakeArchiver
	runner   *fakeRunner
}

func newAppFixture(t *testing.T) *appFixture {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tracker := jobs.NewTracker(store)
	archiver := &fakeArchiver{}
	runner := &fakeRunner{}
	handler := NewAppHandler(AppDeps{
		Store:    store,
		Tracker:  tracker,
		Exporter: &fakeExporter{data: []byte("User ID,Username\n")},
		Archiver: archiver,
		Runner:   runner,
		Token:    testToken,
		Spawn:    func(f func()) { f() },
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &appFixture{srv: srv, store: store, tracker: tracker, archiver: archiver, runner: runner}
}

func (fx *appFixture) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, fx.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func (fx *appFixture) seedUser(t *testing.T, id int64, username string, state storage.UserState) {
	t.Helper()
	u, err := fx.store.CreateUser(id, username)
	if err != nil {
		t.Fatalf("creating user: %v", err)
	}
	u.State = state
	if err := fx.store.UpdateUser(u); err != nil {
		t.Fatalf("updating user: %v", err)
	}
}

func TestAuthRequired(t *testing.T) {
	fx := newAppFixture(t)

	resp, err := http.Get(fx.srv.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated /stats = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest("GET", fx.srv.URL+"/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token /stats = %d", resp.StatusCode)
	}

	// Health stays open for liveness probes.
	resp, err = http.Get(fx.srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health = %d", resp.StatusCode)
	}
}

func TestStatsEndpoint(t *testing.T) {
	fx := newAppFixture(t)
	fx.seedUser(t, 1, "a", storage.StateInSurvey)
	fx.seedUser(t, 2, "b", storage.StatePendingApproval)
	fx.seedUser(t, 3, "c", storage.StateApproved)
	fx.seedUser(t, 4, "d", storage.StateRejected)

	var stats statsResponse
	decodeBody(t, fx.request(t, "GET", "/stats", nil), &stats)

	want := statsResponse{Total: 4, Pending: 2, Approved: 1, Rejected: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestListUsersEndpoint(t *testing.T) {
	fx := newAppFixture(t)
	fx.seedUser(t, 1, "alice", storage.StatePendingApproval)

	var users []userView
	decodeBody(t, fx.request(t, "GET", "/users", nil), &users)
	if len(users) != 1 || users[0].Username != "alice" || users[0].State != "pending_approval" {
		t.Errorf("users = %+v", users)
	}
}

func TestExportCSVDownload(t *testing.T) {
	fx := newAppFixture(t)
	resp := fx.request(t, "GET", "/export", nil)
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.HasPrefix(string(body), "User ID") {
		t.Errorf("body = %q", body)
	}
}

func TestArchiveTrigger(t *testing.T) {
	fx := newAppFixture(t)
	resp := fx.request(t, "POST", "/export", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("POST /export = %d", resp.StatusCode)
	}
	if fx.archiver.calls != 1 {
		t.Errorf("archiver calls = %d", fx.archiver.calls)
	}

	fx.archiver.err = errors.New("drive unreachable")
	resp = fx.request(t, "POST", "/export", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("failed POST /export = %d", resp.StatusCode)
	}
}

func TestActiveJobIdle(t *testing.T) {
	fx := newAppFixture(t)

	var jr jobResponse
	decodeBody(t, fx.request(t, "GET", "/jobs/active", nil), &jr)
	if jr.Phase != "idle" || jr.Job != nil {
		t.Errorf("response = %+v", jr)
	}
}

func TestStartJobAndConflict(t *testing.T) {
	fx := newAppFixture(t)
	audioPath := filepath.Join(t.TempDir(), "talk.m4a")
	if err := os.WriteFile(audioPath, []byte("audio"), 0o644); err != nil {
		t.Fatalf("writing audio file: %v", err)
	}

	resp := fx.request(t, "POST", "/jobs", startJobRequest{Path: audioPath})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("POST /jobs = %d", resp.StatusCode)
	}
	var jr jobResponse
	decodeBody(t, resp, &jr)
	if jr.Job == nil || jr.Job.ArtifactPath != audioPath {
		t.Fatalf("job = %+v", jr.Job)
	}
	if len(fx.runner.runs) != 1 || fx.runner.runs[0] != audioPath {
		t.Errorf("runner runs = %v", fx.runner.runs)
	}

	// The fake runner never finalizes the job, so the slot stays held.
	resp = fx.request(t, "POST", "/jobs", startJobRequest{Path: audioPath})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second POST /jobs = %d", resp.StatusCode)
	}
}

func TestStartJobMissingFile(t *testing.T) {
	fx := newAppFixture(t)
	resp := fx.request(t, "POST", "/jobs", startJobRequest{Path: "/nonexistent/talk.m4a"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("POST /jobs = %d", resp.StatusCode)
	}
}
