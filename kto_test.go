package kto

import (
	"context"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = ":memory:"
	svc, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestNew_AppliesConfigDefaultsToPipeline(t *testing.T) {
	svc := newTestService(t)
	if svc.Pipeline == nil || svc.Scheduler == nil || svc.Store == nil {
		t.Fatal("New did not wire Store/Pipeline/Scheduler")
	}
	if svc.Pipeline.DefaultNotify != "none" {
		t.Errorf("Pipeline.DefaultNotify = %q, want none", svc.Pipeline.DefaultNotify)
	}
}

func TestCreateWatch_AppliesDefaults(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	w := &Watch{Name: "alpha", URL: "shell://echo hello"}
	if err := svc.CreateWatch(ctx, w); err != nil {
		t.Fatalf("CreateWatch: %v", err)
	}
	if w.ID == "" {
		t.Error("CreateWatch did not assign an ID")
	}
	if w.IntervalSecs != svc.config.DefaultIntervalSecs {
		t.Errorf("IntervalSecs = %d, want %d", w.IntervalSecs, svc.config.DefaultIntervalSecs)
	}
	if w.Engine != "http" {
		t.Errorf("Engine = %q, want http", w.Engine)
	}
	if w.ExtractionMode != "auto" {
		t.Errorf("ExtractionMode = %q, want auto", w.ExtractionMode)
	}

	got, err := svc.Store.GetWatch(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWatch: %v", err)
	}
	if got.Name != "alpha" {
		t.Errorf("stored watch Name = %q, want alpha", got.Name)
	}
}

func TestCreateWatch_AssignsDistinctIDs(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	w1 := &Watch{Name: "one", URL: "shell://echo one"}
	w2 := &Watch{Name: "two", URL: "shell://echo two"}
	if err := svc.CreateWatch(ctx, w1); err != nil {
		t.Fatalf("CreateWatch w1: %v", err)
	}
	if err := svc.CreateWatch(ctx, w2); err != nil {
		t.Fatalf("CreateWatch w2: %v", err)
	}
	if w1.ID == w2.ID {
		t.Errorf("expected distinct IDs, got %q twice", w1.ID)
	}
}

func TestTestWatch_RunsPipelineImmediatelyIgnoringInterval(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	w := &Watch{
		Name:         "beta",
		URL:          "shell://echo snapshot-one",
		Engine:       "shell",
		IntervalSecs: 3600, // far from due; TestWatch must bypass this
		NotifyTarget: "none",
	}
	if err := svc.CreateWatch(ctx, w); err != nil {
		t.Fatalf("CreateWatch: %v", err)
	}

	res, err := svc.TestWatch(ctx, w.ID)
	if err != nil {
		t.Fatalf("TestWatch: %v", err)
	}
	if res.Status != "ok" {
		t.Fatalf("status = %q, want ok (err=%s)", res.Status, res.Error)
	}
	if res.WatchID != w.ID {
		t.Errorf("WatchID = %q, want %q", res.WatchID, w.ID)
	}
}

func TestRunOnce_SkipsWatchNotYetDue(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	w := &Watch{
		Name:         "gamma",
		URL:          "shell://echo gamma",
		Engine:       "shell",
		IntervalSecs: 3600,
		NotifyTarget: "none",
	}
	if err := svc.CreateWatch(ctx, w); err != nil {
		t.Fatalf("CreateWatch: %v", err)
	}
	// First pass: watch has never been checked, so it's due.
	first := svc.RunOnce(ctx)
	if len(first) != 1 {
		t.Fatalf("first RunOnce: got %d results, want 1", len(first))
	}
	// Second immediate pass: LastCheckedAt was just set, interval is an
	// hour out, so nothing should run.
	second := svc.RunOnce(ctx)
	if len(second) != 0 {
		t.Fatalf("second RunOnce: got %d results, want 0 (watch not due yet)", len(second))
	}
}

func TestClose_IsIdempotentSafe(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFetchHistory_ReturnsLoggedAttempts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	w := &Watch{Name: "delta", URL: "shell://echo delta", Engine: "shell", NotifyTarget: "none"}
	if err := svc.CreateWatch(ctx, w); err != nil {
		t.Fatalf("CreateWatch: %v", err)
	}
	if _, err := svc.TestWatch(ctx, w.ID); err != nil {
		t.Fatalf("TestWatch: %v", err)
	}

	entries, err := svc.FetchHistory(ctx, w.Name, 10)
	if err != nil {
		t.Fatalf("FetchHistory: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != "ok" {
		t.Fatalf("unexpected history: %+v", entries)
	}
}

func TestSearch_FindsRecordedDiff(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	w := &Watch{Name: "epsilon", URL: "shell://echo first", Engine: "shell", NotifyTarget: "none"}
	if err := svc.CreateWatch(ctx, w); err != nil {
		t.Fatalf("CreateWatch: %v", err)
	}
	if _, err := svc.TestWatch(ctx, w.ID); err != nil {
		t.Fatalf("TestWatch (seed): %v", err)
	}

	w.URL = "shell://echo nightingale"
	if err := svc.Store.UpdateWatch(ctx, w); err != nil {
		t.Fatalf("UpdateWatch: %v", err)
	}
	if _, err := svc.TestWatch(ctx, w.ID); err != nil {
		t.Fatalf("TestWatch (change): %v", err)
	}

	results, err := svc.Search(ctx, "nightingale", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one search hit")
	}
}

func TestResetWatch_ClearsFailureState(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	w := &Watch{Name: "zeta", URL: "shell://exit 1", Engine: "shell", NotifyTarget: "none"}
	if err := svc.CreateWatch(ctx, w); err != nil {
		t.Fatalf("CreateWatch: %v", err)
	}
	if err := svc.Store.RecordCheckError(ctx, w.ID, "boom"); err != nil {
		t.Fatalf("RecordCheckError: %v", err)
	}

	if err := svc.ResetWatch(ctx, w.Name); err != nil {
		t.Fatalf("ResetWatch: %v", err)
	}
	got, err := svc.Store.GetWatch(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWatch: %v", err)
	}
	if got.FailCount != 0 || got.LastError != "" {
		t.Fatalf("reset did not clear failure state: %+v", got)
	}
}

func TestBrokenWatches_ListsWatchesPastFailThreshold(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	w := &Watch{Name: "eta", URL: "shell://exit 1", Engine: "shell", NotifyTarget: "none"}
	if err := svc.CreateWatch(ctx, w); err != nil {
		t.Fatalf("CreateWatch: %v", err)
	}
	for i := 0; i < svc.Scheduler.MaxFailCount(); i++ {
		if err := svc.Store.RecordCheckError(ctx, w.ID, "boom"); err != nil {
			t.Fatalf("RecordCheckError: %v", err)
		}
	}

	broken, err := svc.BrokenWatches(ctx)
	if err != nil {
		t.Fatalf("BrokenWatches: %v", err)
	}
	if len(broken) != 1 || broken[0].ID != w.ID {
		t.Fatalf("unexpected broken watches: %+v", broken)
	}
}
