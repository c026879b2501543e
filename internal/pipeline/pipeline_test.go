package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hazyhaar/kto/internal/agent"
	"github.com/hazyhaar/kto/internal/notify"
	"github.com/hazyhaar/kto/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
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

func shellWatch(id, name, shellCmd string) *store.Watch {
	return &store.Watch{
		ID:              id,
		Name:            name,
		URL:             "shell://" + shellCmd,
		Engine:          "shell",
		ExtractionMode:  "full",
		StripWhitespace: true,
		IntervalSecs:    300,
		Enabled:         true,
		NotifyTarget:    "none",
	}
}

func TestRun_FirstObservationCreatesSnapshotNoChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := shellWatch("w1", "alpha", "echo hello world")
	if err := s.InsertWatch(ctx, w); err != nil {
		t.Fatalf("insert watch: %v", err)
	}

	p := New(s, testIDGen, nil)
	res, err := p.Run(ctx, w)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Status != "ok" {
		t.Fatalf("expected status ok on first observation, got %q (err=%s)", res.Status, res.Error)
	}
	if res.ChangeID != "" {
		t.Fatalf("expected no change on first observation, got %q", res.ChangeID)
	}
}

func TestRun_IdempotentOnUnchangedContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := shellWatch("w1", "alpha", "echo stable content")
	if err := s.InsertWatch(ctx, w); err != nil {
		t.Fatalf("insert watch: %v", err)
	}

	p := New(s, testIDGen, nil)
	if _, err := p.Run(ctx, w); err != nil {
		t.Fatalf("first run: %v", err)
	}
	w2, err := s.GetWatch(ctx, "w1")
	if err != nil {
		t.Fatalf("get watch: %v", err)
	}
	res, err := p.Run(ctx, w2)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Status != "unchanged" {
		t.Fatalf("expected unchanged on second identical run, got %q", res.Status)
	}

	changes, err := s.ListChanges(ctx, "w1", 10)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected zero changes across two identical runs, got %d", len(changes))
	}
}

func TestRun_DetectsChangeAndRecordsDiff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := shellWatch("w1", "alpha", "echo first version")
	if err := s.InsertWatch(ctx, w); err != nil {
		t.Fatalf("insert watch: %v", err)
	}

	p := New(s, testIDGen, nil)
	if _, err := p.Run(ctx, w); err != nil {
		t.Fatalf("first run: %v", err)
	}

	w2, _ := s.GetWatch(ctx, "w1")
	w2.URL = "shell://echo second version"
	if err := s.UpdateWatch(ctx, w2); err != nil {
		t.Fatalf("update watch: %v", err)
	}

	res, err := p.Run(ctx, w2)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Status != "ok" || res.ChangeID == "" {
		t.Fatalf("expected a recorded change, got status=%q change=%q", res.Status, res.ChangeID)
	}

	ch, err := s.GetChange(ctx, res.ChangeID)
	if err != nil {
		t.Fatalf("get change: %v", err)
	}
	if ch.Diff == "" {
		t.Fatalf("expected non-empty diff")
	}
}

func TestRun_AgentVerdictOverridesNotifyDecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := shellWatch("w1", "alpha", "echo v1")
	w.AgentEnabled = true
	w.NotifyTarget = "command:true"
	if err := s.InsertWatch(ctx, w); err != nil {
		t.Fatalf("insert watch: %v", err)
	}

	p := New(s, testIDGen, nil)
	if _, err := p.Run(ctx, w); err != nil {
		t.Fatalf("first run: %v", err)
	}

	w2, _ := s.GetWatch(ctx, "w1")
	w2.URL = "shell://echo v2"
	s.UpdateWatch(ctx, w2)

	p.InvokeAgent = func(ctx context.Context, cfg agent.Config, pr agent.Prompt) (*agent.Verdict, error) {
		return &agent.Verdict{Notify: false, Summary: "nothing interesting"}, nil
	}

	res, err := p.Run(ctx, w2)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ChangeID == "" {
		t.Fatalf("expected a change to be recorded")
	}
	ch, err := s.GetChange(ctx, res.ChangeID)
	if err != nil {
		t.Fatalf("get change: %v", err)
	}
	if ch.Notified {
		t.Fatalf("expected agent's notify=false to suppress dispatch")
	}
}

func TestRun_QuietHoursSuppressButChangeIsRecorded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := shellWatch("w1", "alpha", "echo v1")
	w.NotifyTarget = "command:true"
	if err := s.InsertWatch(ctx, w); err != nil {
		t.Fatalf("insert watch: %v", err)
	}
	p := New(s, testIDGen, nil)
	if _, err := p.Run(ctx, w); err != nil {
		t.Fatalf("first run: %v", err)
	}

	w2, _ := s.GetWatch(ctx, "w1")
	w2.URL = "shell://echo v2"
	s.UpdateWatch(ctx, w2)
	p.QuietHours = notify.QuietHours{Start: "00:00", End: "23:59"}

	res, err := p.Run(ctx, w2)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	ch, err := s.GetChange(ctx, res.ChangeID)
	if err != nil {
		t.Fatalf("get change: %v", err)
	}
	if ch.Notified {
		t.Fatalf("expected quiet hours to suppress notification")
	}
	if ch.NotifyAttempts != 0 {
		t.Fatalf("quiet-hours suppression should not count as a failed attempt, got NotifyAttempts=%d", ch.NotifyAttempts)
	}

	// A later run, once quiet hours end, should retry and succeed —
	// even with no new content change (spec.md §4.8).
	p.QuietHours = notify.QuietHours{}
	if _, err := p.Run(ctx, w2); err != nil {
		t.Fatalf("retry run: %v", err)
	}
	ch2, err := s.GetChange(ctx, res.ChangeID)
	if err != nil {
		t.Fatalf("get change after retry: %v", err)
	}
	if !ch2.Notified {
		t.Fatalf("expected the pending change to be notified once quiet hours end")
	}
}

func TestRun_RetriesPendingNotificationAfterTransportFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := shellWatch("w1", "alpha", "echo v1")
	w.NotifyTarget = "command:false" // exits nonzero: simulated transport failure
	if err := s.InsertWatch(ctx, w); err != nil {
		t.Fatalf("insert watch: %v", err)
	}
	p := New(s, testIDGen, nil)
	if _, err := p.Run(ctx, w); err != nil {
		t.Fatalf("first run: %v", err)
	}

	w2, _ := s.GetWatch(ctx, "w1")
	w2.URL = "shell://echo v2"
	s.UpdateWatch(ctx, w2)

	res, err := p.Run(ctx, w2)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	ch, err := s.GetChange(ctx, res.ChangeID)
	if err != nil {
		t.Fatalf("get change: %v", err)
	}
	if ch.Notified {
		t.Fatalf("expected transport failure to leave the change unnotified")
	}
	if ch.NotifyAttempts != 1 {
		t.Fatalf("NotifyAttempts = %d, want 1 after one failed dispatch", ch.NotifyAttempts)
	}

	// Force the retry deadline into the past so the next run retries
	// immediately instead of waiting out the backoff.
	if err := s.DeferNotification(ctx, res.ChangeID, 0); err != nil {
		t.Fatalf("defer: %v", err)
	}
	w3, _ := s.GetWatch(ctx, "w1")
	w3.NotifyTarget = "command:true" // now succeeds
	s.UpdateWatch(ctx, w3)

	if _, err := p.Run(ctx, w3); err != nil {
		t.Fatalf("retry run: %v", err)
	}
	ch2, err := s.GetChange(ctx, res.ChangeID)
	if err != nil {
		t.Fatalf("get change after retry: %v", err)
	}
	if !ch2.Notified {
		t.Fatalf("expected the pending change to be notified on retry")
	}
}

func TestRun_ConditionalGetEchoesRealETagAndShortCircuitsOn304(t *testing.T) {
	var etag = `"v1"`
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Write([]byte("fixed content"))
	}))
	defer srv.Close()

	s := newTestStore(t)
	ctx := context.Background()
	w := &store.Watch{
		ID:             "w1",
		Name:           "alpha",
		URL:            srv.URL,
		Engine:         "http",
		ExtractionMode: "full",
		IntervalSecs:   300,
		Enabled:        true,
		NotifyTarget:   "none",
	}
	if err := s.InsertWatch(ctx, w); err != nil {
		t.Fatalf("insert watch: %v", err)
	}

	p := New(s, testIDGen, nil)
	p.Validate = func(string) error { return nil } // httptest serves on loopback, which ValidateURL rejects
	if _, err := p.Run(ctx, w); err != nil {
		t.Fatalf("first run: %v", err)
	}

	w2, err := s.GetWatch(ctx, "w1")
	if err != nil {
		t.Fatalf("get watch: %v", err)
	}
	if w2.LastETag != etag {
		t.Fatalf("expected LastETag to be persisted from the response header, got %q", w2.LastETag)
	}

	res, err := p.Run(ctx, w2)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Status != "unchanged" {
		t.Fatalf("expected unchanged (304 short-circuit), got %q (err=%s)", res.Status, res.Error)
	}
	if hits != 2 {
		t.Fatalf("expected exactly 2 requests to the server, got %d", hits)
	}

	changes, err := s.ListChanges(ctx, "w1", 10)
	if err != nil {
		t.Fatalf("list changes: %v", err)
	}
	if len(changes) != 0 {
		t.Fatalf("expected a 304 response to never record a change, got %d", len(changes))
	}
}
