package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hazyhaar/kto/internal/pipeline"
	"github.com/hazyhaar/kto/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var idCounter int

func testIDGen() string {
	idCounter++
	return fmt.Sprintf("id-%d", idCounter)
}

func mkDueWatch(id, name, shellCmd string) *store.Watch {
	return &store.Watch{
		ID:              id,
		Name:            name,
		URL:             "shell://" + shellCmd,
		Engine:          "shell",
		ExtractionMode:  "full",
		StripWhitespace: true,
		IntervalSecs:    1,
		Enabled:         true,
		NotifyTarget:    "none",
	}
}

func TestRunOnce_DispatchesAllDueWatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"alpha", "beta", "gamma"} {
		w := mkDueWatch(fmt.Sprintf("w%d", i), name, "echo "+name)
		if err := s.InsertWatch(ctx, w); err != nil {
			t.Fatalf("insert watch: %v", err)
		}
	}

	p := pipeline.New(s, testIDGen, nil)
	sched := New(s, p, Config{Concurrency: 2, MaxFailCount: 5}, nil)

	results := sched.RunOnce(ctx)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Status != "ok" {
			t.Errorf("watch %s: expected status ok, got %q (%s)", r.WatchID, r.Status, r.Error)
		}
	}
}

func TestRunOnce_SkipsNotYetDueWatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	w := mkDueWatch("w1", "alpha", "echo alpha")
	w.IntervalSecs = 3600
	now := time.Now().UnixMilli()
	w.LastCheckedAt = &now
	if err := s.InsertWatch(ctx, w); err != nil {
		t.Fatalf("insert watch: %v", err)
	}

	p := pipeline.New(s, testIDGen, nil)
	sched := New(s, p, Config{Concurrency: 2, MaxFailCount: 5}, nil)

	results := sched.RunOnce(ctx)
	if len(results) != 0 {
		t.Fatalf("expected 0 results for a just-checked watch with a long interval, got %d", len(results))
	}
}

func TestRunOnce_SkipsBrokenWatches(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	w := mkDueWatch("w1", "alpha", "echo alpha")
	if err := s.InsertWatch(ctx, w); err != nil {
		t.Fatalf("insert watch: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s.RecordCheckError(ctx, "w1", "boom"); err != nil {
			t.Fatalf("record error: %v", err)
		}
	}

	p := pipeline.New(s, testIDGen, nil)
	sched := New(s, p, Config{Concurrency: 2, MaxFailCount: 5}, nil)

	results := sched.RunOnce(ctx)
	if len(results) != 0 {
		t.Fatalf("expected broken watch to be excluded, got %d results", len(results))
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s := openTestStore(t)
	p := pipeline.New(s, testIDGen, nil)
	sched := New(s, p, Config{PollInterval: 10 * time.Millisecond, ShutdownGrace: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop within grace period after context cancellation")
	}
}
