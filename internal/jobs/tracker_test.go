package jobs

import (
	"testing"

	"github.com/kalambet/gatekeeper/internal/storage"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewTracker(s)
}

// TestTryAcquireSingleSlot verifies a second acquire for a different
// artifact observes busy with the first artifact's identity.
func TestTryAcquireSingleSlot(t *testing.T) {
	tr := newTestTracker(t)

	ok, _, err := tr.TryAcquire("talk.m4a")
	if err != nil || !ok {
		t.Fatalf("first TryAcquire: ok=%v err=%v", ok, err)
	}

	ok, busy, err := tr.TryAcquire("second.m4a")
	if err != nil {
		t.Fatalf("second TryAcquire: %v", err)
	}
	if ok {
		t.Fatal("second TryAcquire should report busy")
	}
	if busy == nil || busy.ArtifactPath != "talk.m4a" || busy.StartedAt.IsZero() {
		t.Fatalf("busy record = %+v", busy)
	}
}

// TestFullPipelineRun walks the full success path:
// 0% -> 50% -> 100% -> TranscriptionDone -> InsightsDone.
func TestFullPipelineRun(t *testing.T) {
	tr := newTestTracker(t)

	if ok, _, err := tr.TryAcquire("talk.m4a"); err != nil || !ok {
		t.Fatalf("TryAcquire: ok=%v err=%v", ok, err)
	}
	for _, p := range []float64{0, 50, 100} {
		if err := tr.ReportProgress("talk.m4a", p); err != nil {
			t.Fatalf("ReportProgress(%v): %v", p, err)
		}
	}
	if err := tr.AdvanceStage("talk.m4a", StageTranscriptionDone); err != nil {
		t.Fatalf("AdvanceStage(TranscriptionDone): %v", err)
	}
	if err := tr.AdvanceStage("talk.m4a", StageInsightsStarted); err != nil {
		t.Fatalf("AdvanceStage(InsightsStarted): %v", err)
	}

	active, err := tr.QueryActive()
	if err != nil {
		t.Fatalf("QueryActive: %v", err)
	}
	if Phase(active) != "extracting insights" {
		t.Errorf("phase = %q, want extracting insights", Phase(active))
	}

	if err := tr.AdvanceStage("talk.m4a", StageInsightsDone); err != nil {
		t.Fatalf("AdvanceStage(InsightsDone): %v", err)
	}

	active, err = tr.QueryActive()
	if err != nil {
		t.Fatalf("QueryActive after done: %v", err)
	}
	if active != nil {
		t.Errorf("expected no active job, got %+v", active)
	}
}

// TestFailFreesSlotImmediately verifies a failure at any stage frees the
// slot and keeps progress at its last value.
func TestFailFreesSlotImmediately(t *testing.T) {
	tr := newTestTracker(t)

	if ok, _, err := tr.TryAcquire("talk.m4a"); err != nil || !ok {
		t.Fatalf("TryAcquire: ok=%v err=%v", ok, err)
	}
	if err := tr.Fail("talk.m4a", "engine unavailable"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	active, err := tr.QueryActive()
	if err != nil {
		t.Fatalf("QueryActive: %v", err)
	}
	if active != nil {
		t.Errorf("slot still occupied: %+v", active)
	}

	// Failing again is harmless (idempotent slot freeing).
	if err := tr.Fail("talk.m4a", "engine unavailable"); err != nil {
		t.Fatalf("second Fail: %v", err)
	}

	// Progress must be unchanged from its initial 0.
	ok, busy, err := tr.TryAcquire("next.m4a")
	if err != nil || !ok || busy != nil {
		t.Fatalf("slot not reusable after fail: ok=%v busy=%+v err=%v", ok, busy, err)
	}
}

// TestRecoverOnStartup verifies a non-terminal record left by a crash is
// finalized with a synthetic error.
func TestRecoverOnStartup(t *testing.T) {
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	tr := NewTracker(s)
	if ok, _, err := tr.TryAcquire("stuck.m4a"); err != nil || !ok {
		t.Fatalf("TryAcquire: ok=%v err=%v", ok, err)
	}

	// Simulate restart: a fresh tracker over the same store recovers.
	tr2 := NewTracker(s)
	if err := tr2.RecoverOnStartup(); err != nil {
		t.Fatalf("RecoverOnStartup: %v", err)
	}

	active, err := tr2.QueryActive()
	if err != nil {
		t.Fatalf("QueryActive: %v", err)
	}
	if active != nil {
		t.Errorf("slot still occupied after recovery: %+v", active)
	}

	job, err := s.GetJob("stuck.m4a")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Error != RestartError || !job.Terminal() {
		t.Errorf("recovered job = %+v", job)
	}

	// Recovery on a clean store is a no-op.
	if err := tr2.RecoverOnStartup(); err != nil {
		t.Fatalf("RecoverOnStartup on clean store: %v", err)
	}
}

func TestPhaseClassification(t *testing.T) {
	tests := []struct {
		name string
		job  *storage.JobStatus
		want string
	}{
		{"nil record", nil, "idle"},
		{"fully done", &storage.JobStatus{FullyDone: true}, "idle"},
		{"transcribing", &storage.JobStatus{Progress: 42.5}, "transcribing, 42.5%"},
		{"awaiting extraction", &storage.JobStatus{TranscriptionDone: true}, "awaiting insight extraction"},
		{"extracting", &storage.JobStatus{TranscriptionDone: true, ExtractingInsights: true}, "extracting insights"},
	}
	for _, tt := range tests {
		if got := Phase(tt.job); got != tt.want {
			t.Errorf("%s: Phase = %q, want %q", tt.name, got, tt.want)
		}
	}
}
