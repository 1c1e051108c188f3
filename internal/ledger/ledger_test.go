package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndRecentRuns(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	runs := []Run{
		{Command: "fetch geo", Direction: "geo", StartedAt: base, Fetched: 10, Staged: 10},
		{Command: "push geo", Direction: "geo", StartedAt: base.Add(time.Minute), Pushed: 8, Failed: 2},
		{Command: "push geo", Direction: "geo", StartedAt: base.Add(2 * time.Minute), Pushed: 2},
	}
	for _, r := range runs {
		if err := l.RecordRun(ctx, r); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	got, err := l.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(got))
	}
	if got[0].StartedAt.Before(got[1].StartedAt) {
		t.Error("expected newest run first")
	}
	if got[0].Command != "push geo" || got[0].Pushed != 2 {
		t.Errorf("unexpected newest run: %+v", got[0])
	}
}

func TestRecentRunsHonorsLimit(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		run := Run{Command: "fetch cms", StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := l.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}

	got, err := l.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 runs, got %d", len(got))
	}
}

func TestLastRun(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if run, err := l.LastRun(ctx, "migrate"); err != nil || run != nil {
		t.Fatalf("expected no run yet, got %+v, err %v", run, err)
	}

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := l.RecordRun(ctx, Run{Command: "migrate", StartedAt: base, Pushed: 100}); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if err := l.RecordRun(ctx, Run{Command: "fetch geo", StartedAt: base.Add(time.Hour)}); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	run, err := l.LastRun(ctx, "migrate")
	if err != nil {
		t.Fatalf("LastRun failed: %v", err)
	}
	if run == nil || run.Pushed != 100 {
		t.Errorf("unexpected last run: %+v", run)
	}
}

func TestRunErrorRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	run := Run{
		Command:   "fetch geo",
		StartedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
		Error:     "incident query failed: status 503",
	}
	if err := l.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	got, err := l.RecentRuns(ctx, 1)
	if err != nil {
		t.Fatalf("RecentRuns failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 run, got %d", len(got))
	}
	if got[0].Error != run.Error {
		t.Errorf("expected error %q, got %q", run.Error, got[0].Error)
	}
	if got[0].Duration != run.Duration {
		t.Errorf("expected duration %v, got %v", run.Duration, got[0].Duration)
	}
}
