// Package scheduler drives pipeline runs for all enabled watches
// (spec.md §4.10). It is grounded on veille/internal/scheduler.go's
// poll-ticker shape, with the bounded worker pool built on
// golang.org/x/sync/errgroup's SetLimit — the semaphore-backed
// generalization of the channel+WaitGroup pattern horos47's
// core/jobs/worker.go hand-rolls for its own job batches.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/kto/internal/pipeline"
	"github.com/hazyhaar/kto/internal/store"
)

// Config controls scheduling behaviour (spec.md §4.10).
type Config struct {
	// Concurrency caps simultaneous pipeline runs within one dispatch
	// batch (one RunOnce call, or one poll tick of Run). Batches started
	// on successive ticks each get their own cap; runs still in flight
	// from an earlier tick are not counted against a later one.
	Concurrency int
	// MaxFailCount excludes a watch from scheduling once its fail_count
	// reaches this threshold (it stays "broken" until reset).
	MaxFailCount int
	// PollInterval is how often the scheduler checks for due watches.
	PollInterval time.Duration
	// ShutdownGrace bounds how long Run waits for in-flight pipelines
	// after ctx is cancelled before returning.
	ShutdownGrace time.Duration
}

func (c *Config) defaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.MaxFailCount <= 0 {
		c.MaxFailCount = 10
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 30 * time.Second
	}
}

// Scheduler polls the store for due watches and dispatches them to a
// bounded worker pool running the pipeline.
type Scheduler struct {
	store    *store.Store
	pipeline *pipeline.Pipeline
	config   Config
	logger   *slog.Logger

	onResult func(*pipeline.Result)
}

// New creates a Scheduler.
func New(s *store.Store, p *pipeline.Pipeline, cfg Config, logger *slog.Logger) *Scheduler {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{store: s, pipeline: p, config: cfg, logger: logger}
}

// OnResult registers a callback invoked after every pipeline run (main
// use: a `run`/daemon CLI surfacing per-watch outcomes to the user).
func (s *Scheduler) OnResult(fn func(*pipeline.Result)) {
	s.onResult = fn
}

// MaxFailCount returns the fail_count threshold at which a watch is
// excluded from scheduling and considered broken.
func (s *Scheduler) MaxFailCount() int {
	return s.config.MaxFailCount
}

// Run polls on a ticker and dispatches due watches to a bounded worker
// pool until ctx is cancelled, then waits up to ShutdownGrace for
// in-flight pipelines before returning (spec.md §4.10).
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	var inFlight sync.WaitGroup
	s.dispatchDue(ctx, &inFlight)

	for {
		select {
		case <-ctx.Done():
			s.awaitShutdown(&inFlight)
			return
		case <-ticker.C:
			s.dispatchDue(ctx, &inFlight)
		}
	}
}

// RunOnce executes a single pass across all due watches and returns
// once every dispatched pipeline has completed — the `run` one-shot
// mode (spec.md §4.10).
func (s *Scheduler) RunOnce(ctx context.Context) []*pipeline.Result {
	due, err := s.store.DueWatches(ctx, s.config.MaxFailCount)
	if err != nil {
		s.logger.Error("scheduler: due watches", "error", err)
		return nil
	}

	var mu sync.Mutex
	var results []*pipeline.Result

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, w := range due {
		w := w
		g.Go(func() error {
			res := s.runOne(gctx, w)
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return results
}

// dispatchDue enqueues every currently-due watch onto a fresh bounded
// pool, tracked in inFlight so Run's shutdown path can await it.
func (s *Scheduler) dispatchDue(ctx context.Context, inFlight *sync.WaitGroup) {
	due, err := s.store.DueWatches(ctx, s.config.MaxFailCount)
	if err != nil {
		s.logger.Error("scheduler: due watches", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}
	s.logger.Debug("scheduler: dispatching due watches", "count", len(due))

	g := &errgroup.Group{}
	g.SetLimit(s.config.Concurrency)
	inFlight.Add(1)
	go func() {
		defer inFlight.Done()
		for _, w := range due {
			w := w
			g.Go(func() error {
				s.runOne(ctx, w)
				return nil
			})
		}
		g.Wait()
	}()
}

func (s *Scheduler) runOne(ctx context.Context, w *store.Watch) *pipeline.Result {
	res, err := s.pipeline.Run(ctx, w)
	if err != nil {
		s.logger.Error("scheduler: pipeline run failed", "watch_id", w.ID, "error", err)
	}
	if s.onResult != nil {
		s.onResult(res)
	}
	return res
}

// awaitShutdown waits for in-flight pipeline batches to finish, bounded
// by ShutdownGrace.
func (s *Scheduler) awaitShutdown(inFlight *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("scheduler: all in-flight pipelines finished")
	case <-time.After(s.config.ShutdownGrace):
		s.logger.Warn("scheduler: shutdown grace period expired with pipelines still running")
	}
}
