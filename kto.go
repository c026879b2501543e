package kto

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/kto/idgen"
	"github.com/hazyhaar/kto/internal/fetcher"
	"github.com/hazyhaar/kto/internal/notify"
	"github.com/hazyhaar/kto/internal/pipeline"
	"github.com/hazyhaar/kto/internal/scheduler"
	"github.com/hazyhaar/kto/internal/store"
)

// Service is the single-node kto orchestrator: one store, one
// pipeline, one scheduler. Grounded on veille.Service's constructor
// shape (fetcher → pipeline → scheduler wiring, idgen.Generator
// injection) but without veille's PoolResolver/shard indirection,
// since kto has exactly one database (spec.md §6).
type Service struct {
	Store     *store.Store
	Pipeline  *pipeline.Pipeline
	Scheduler *scheduler.Scheduler
	config    *Config
	logger    *slog.Logger
	newID     func() string
}

// New opens the store at cfg.DBPath (or DefaultDBPath()) and wires the
// pipeline and scheduler from cfg.
func New(cfg *Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = DefaultDBPath()
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("kto: open store: %w", err)
	}

	newID := idgen.Hex128()
	p := pipeline.New(s, newID, logger)
	p.Limiter = fetcher.NewDomainLimiter(0, cfg.RateLimits)
	p.DefaultNotify = cfg.DefaultNotify
	p.QuietHours = notify.QuietHours{Start: cfg.QuietHours.Start, End: cfg.QuietHours.End}

	sched := scheduler.New(s, p, scheduler.Config{}, logger)

	return &Service{Store: s, Pipeline: p, Scheduler: sched, config: cfg, logger: logger, newID: newID}, nil
}

// Close releases the underlying store handle.
func (svc *Service) Close() error {
	return svc.Store.Close()
}

// CreateWatch inserts a new watch, applying cfg.DefaultIntervalSecs
// when w.IntervalSecs is unset.
func (svc *Service) CreateWatch(ctx context.Context, w *Watch) error {
	if w.ID == "" {
		w.ID = svc.newID()
	}
	if w.IntervalSecs <= 0 {
		w.IntervalSecs = svc.config.DefaultIntervalSecs
	}
	if w.Engine == "" {
		w.Engine = "http"
	}
	if w.ExtractionMode == "" {
		w.ExtractionMode = "auto"
	}
	return svc.Store.InsertWatch(ctx, w)
}

// RunOnce executes one pipeline pass across all due watches and
// returns their results — the `run` one-shot driver mode (spec.md
// §4.10).
func (svc *Service) RunOnce(ctx context.Context) []*PipelineResult {
	return svc.Scheduler.RunOnce(ctx)
}

// RunDaemon blocks, scheduling pipeline runs until ctx is cancelled
// (spec.md §4.10). Callers typically derive ctx from
// signal.NotifyContext so SIGINT/SIGTERM trigger graceful shutdown.
func (svc *Service) RunDaemon(ctx context.Context) {
	svc.Scheduler.Run(ctx)
}

// TestWatch runs the pipeline once for a single watch, bypassing the
// scheduler's due-time check — the `test` driver mode for dry-running
// a watch's configuration immediately.
func (svc *Service) TestWatch(ctx context.Context, watchID string) (*PipelineResult, error) {
	w, err := svc.Store.GetWatch(ctx, watchID)
	if err != nil {
		return nil, err
	}
	return svc.Pipeline.Run(ctx, w)
}

// FetchHistory returns the most recent fetch attempts logged for a
// watch, newest first — the `history` driver mode.
func (svc *Service) FetchHistory(ctx context.Context, watchRef string, limit int) ([]*FetchLogEntry, error) {
	w, err := svc.Store.GetWatchByNameOrID(ctx, watchRef)
	if err != nil {
		return nil, err
	}
	return svc.Store.FetchHistory(ctx, w.ID, limit)
}

// Search runs a full-text query over recorded diffs, best-ranked
// matches first — the `search` driver mode.
func (svc *Service) Search(ctx context.Context, query string, limit int) ([]*SearchResult, error) {
	return svc.Store.Search(ctx, query, limit)
}

// ResetWatch clears a watch's failure state so the scheduler considers
// it due again immediately — the `reset` driver mode for recovering a
// watch the scheduler has given up on.
func (svc *Service) ResetWatch(ctx context.Context, watchRef string) error {
	w, err := svc.Store.GetWatchByNameOrID(ctx, watchRef)
	if err != nil {
		return err
	}
	return svc.Store.ResetWatch(ctx, w.ID)
}

// BrokenWatches returns watches whose fail_count has reached the
// scheduler's max-failure threshold — the `broken` driver mode for
// listing watches a daemon operator should investigate or reset.
func (svc *Service) BrokenWatches(ctx context.Context) ([]*Watch, error) {
	return svc.Store.ListBrokenWatches(ctx, svc.Scheduler.MaxFailCount())
}
