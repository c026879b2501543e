// Package pipeline runs the fetch → extract → normalize → store →
// diff → filter → agent → notify sequence for one watch (spec.md
// §4.9). It is grounded on veille/internal/pipeline/pipeline.go and
// handler_web.go, collapsed into a single pipeline shape since kto's
// engine/extraction split already captures the variability veille
// spreads across per-source-type handlers (see DESIGN.md).
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/kto/internal/agent"
	"github.com/hazyhaar/kto/internal/differ"
	"github.com/hazyhaar/kto/internal/extract"
	"github.com/hazyhaar/kto/internal/feed"
	"github.com/hazyhaar/kto/internal/fetcher"
	"github.com/hazyhaar/kto/internal/filter"
	"github.com/hazyhaar/kto/internal/normalize"
	"github.com/hazyhaar/kto/internal/notify"
	"github.com/hazyhaar/kto/internal/store"
)

// Result is the structured outcome of one pipeline run, returned to
// test/run/daemon callers (spec.md §4.9 step 7).
type Result struct {
	WatchID      string
	Status       string // ok, unchanged, error
	Error        string
	ChangeID     string
	FilterPassed bool
	Notified     bool
}

// AgentInvoker abstracts agent.Invoke so tests can substitute a stub
// without spawning a subprocess.
type AgentInvoker func(ctx context.Context, cfg agent.Config, p agent.Prompt) (*agent.Verdict, error)

// Pipeline holds everything a single-watch run needs: the store, a
// rate limiter shared across all watches on the same domain, an SSRF
// validator, the agent's subprocess config, the global notify default
// and quiet hours, and a logger.
type Pipeline struct {
	Store          *store.Store
	Limiter        *fetcher.DomainLimiter
	Validate       fetcher.URLValidator
	NewID          func() string
	AgentConfig    agent.Config
	InvokeAgent    AgentInvoker
	DefaultNotify  string
	QuietHours     notify.QuietHours
	ProfilePath    string
	Logger         *slog.Logger
}

// New builds a Pipeline with sane defaults for anything left zero.
func New(s *store.Store, newID func() string, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Store:       s,
		Limiter:     fetcher.NewDomainLimiter(0, nil),
		Validate:    fetcher.ValidateURL,
		NewID:       newID,
		AgentConfig: agent.Config{},
		InvokeAgent: agent.Invoke,
		Logger:      logger,
	}
}

// Run executes the check pipeline for one watch (spec.md §4.9). It is
// idempotent: two consecutive runs against identical upstream content
// produce zero Changes.
func (p *Pipeline) Run(ctx context.Context, w *store.Watch) (*Result, error) {
	log := p.Logger.With("watch_id", w.ID, "watch_name", w.Name)
	res := &Result{WatchID: w.ID}

	host := domainOf(w.URL)
	if host != "" && w.Engine != "shell" {
		if err := p.Limiter.Wait(ctx, host); err != nil {
			res.Status = "error"
			res.Error = err.Error()
			p.Store.RecordCheckError(ctx, w.ID, err.Error())
			return res, nil
		}
	}

	fetchStart := time.Now()
	fetchResult, err := p.fetch(ctx, w)
	fetchMs := time.Since(fetchStart).Milliseconds()
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		p.Store.RecordCheckError(ctx, w.ID, err.Error())
		p.logFetch(ctx, w.ID, "error", statusCodeOf(err), "", err.Error(), fetchMs)
		log.Warn("pipeline: fetch failed", "error", err)
		return res, nil
	}

	if fetchResult.NotModified {
		// Upstream confirmed no change via conditional GET; there is no
		// body to extract/hash, so short-circuit before normalization
		// rather than risk hashing an empty response as new content
		// (spec.md §4.9 idempotence).
		p.Store.RecordCheckSuccess(ctx, w.ID, w.LastHash, "unchanged", fetchResult.ETag, fetchResult.LastMod)
		p.logFetch(ctx, w.ID, "unchanged", fetchResult.StatusCode, w.LastHash, "", fetchMs)
		res.Status = "unchanged"
		p.retryPendingNotifications(ctx, w, log)
		return res, nil
	}

	extracted, err := p.extractText(fetchResult.Body, fetchResult.ContentType, w)
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		p.Store.RecordCheckError(ctx, w.ID, err.Error())
		p.logFetch(ctx, w.ID, "extract_error", fetchResult.StatusCode, "", err.Error(), fetchMs)
		log.Warn("pipeline: extract failed", "error", err)
		return res, nil
	}

	normalized := normalize.Normalize(extracted, normalize.Options{
		StripWhitespace: w.StripWhitespace,
		StripDates:      w.StripDates,
		StripRandomIDs:  w.StripRandomIDs,
	})
	contentHash := normalize.Hash(normalized)

	prior, err := p.Store.LatestSnapshot(ctx, w.ID)
	hasPrior := err == nil
	if err != nil && err != store.ErrNotFound {
		res.Status = "error"
		res.Error = err.Error()
		return res, fmt.Errorf("pipeline: load prior snapshot: %w", err)
	}

	if hasPrior && prior.ContentHash == contentHash {
		p.Store.RecordCheckSuccess(ctx, w.ID, contentHash, "unchanged", fetchResult.ETag, fetchResult.LastMod)
		p.logFetch(ctx, w.ID, "unchanged", fetchResult.StatusCode, contentHash, "", fetchMs)
		res.Status = "unchanged"
		p.retryPendingNotifications(ctx, w, log)
		return res, nil
	}

	now := time.Now().UnixMilli()
	newSnap := &store.Snapshot{
		ID:          p.NewID(),
		WatchID:     w.ID,
		FetchedAt:   now,
		Raw:         fetchResult.Body,
		Extracted:   normalized,
		ContentHash: contentHash,
	}

	var change *store.Change
	if hasPrior {
		diff, derr := differ.Unified(prior.Extracted, normalized)
		if derr != nil {
			return res, fmt.Errorf("pipeline: diff: %w", derr)
		}
		change = &store.Change{
			ID:            p.NewID(),
			WatchID:       w.ID,
			DetectedAt:    now,
			OldSnapshotID: prior.ID,
			NewSnapshotID: newSnap.ID,
			Diff:          diff,
			NextNotifyAt:  now,
		}
	}

	if err := p.Store.RecordObservation(ctx, newSnap, change); err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res, fmt.Errorf("pipeline: record observation: %w", err)
	}
	p.Store.RecordCheckSuccess(ctx, w.ID, contentHash, "ok", fetchResult.ETag, fetchResult.LastMod)
	p.logFetch(ctx, w.ID, "ok", fetchResult.StatusCode, contentHash, "", fetchMs)
	res.Status = "ok"

	if change == nil {
		p.retryPendingNotifications(ctx, w, log)
		return res, nil
	}
	res.ChangeID = change.ID

	if err := p.processChange(ctx, w, change, res, log); err != nil {
		log.Warn("pipeline: process change failed", "error", err)
	}

	// Retry any of this watch's changes still pending past their
	// next_notify_at: suppressed by quiet hours (including, while the
	// window lasts, the change just processed) or failed in transport
	// on a prior run.
	p.retryPendingNotifications(ctx, w, log)

	return res, nil
}

// retryPendingNotifications re-attempts dispatch for any of the
// watch's changes that passed filtering but were never successfully
// notified — suppressed by quiet hours or failed in transport on an
// earlier run (spec.md §4.8: "eligible for retry on the next pipeline
// run"). Changes whose stored agent verdict says notify=false are
// skipped.
func (p *Pipeline) retryPendingNotifications(ctx context.Context, w *store.Watch, log *slog.Logger) {
	pending, err := p.Store.PendingNotifications(ctx, w.ID, time.Now().UnixMilli())
	if err != nil {
		log.Warn("pipeline: load pending notifications failed", "error", err)
		return
	}
	for _, change := range pending {
		if change.AgentResponse.Valid {
			var v agent.Verdict
			if json.Unmarshal([]byte(change.AgentResponse.String), &v) == nil && !v.Notify {
				continue
			}
		}
		title, body := noticeContent(w, change)
		if err := p.dispatchNotify(ctx, w, change, title, body, log); err != nil {
			log.Warn("pipeline: retry notify failed", "change_id", change.ID, "error", err)
		}
	}
}

// noticeContent rebuilds a change's notification title/body from its
// stored agent verdict (if any), falling back to the watch name and
// raw diff — used when retrying a notification on a later pipeline run
// rather than the run that first detected the change.
func noticeContent(w *store.Watch, change *store.Change) (title, body string) {
	title = w.Name + " changed"
	body = change.Diff
	if !change.AgentResponse.Valid || change.AgentResponse.String == "" {
		return title, body
	}
	var v agent.Verdict
	if err := json.Unmarshal([]byte(change.AgentResponse.String), &v); err != nil {
		return title, body
	}
	if v.Title != "" {
		title = v.Title
	}
	if v.Summary != "" {
		body = v.Summary
	}
	return title, body
}

func (p *Pipeline) fetch(ctx context.Context, w *store.Watch) (*fetcher.Result, error) {
	engine, err := fetcher.Dispatch(w.Engine, p.Validate)
	if err != nil {
		return nil, err
	}
	req := fetcher.Request{
		URL:          w.URL,
		Headers:      headersOf(w.HeadersJSON),
		CookieFile:   w.CookieFile,
		StorageState: w.StorageState,
	}
	if w.Engine == "shell" {
		req.Shell = strings.TrimPrefix(w.URL, "shell://")
	}
	if w.Engine == "rss" {
		hasAccept := false
		for k := range req.Headers {
			hasAccept = hasAccept || strings.EqualFold(k, "Accept")
		}
		if !hasAccept {
			if req.Headers == nil {
				req.Headers = map[string]string{}
			}
			req.Headers["Accept"] = "application/rss+xml, application/atom+xml, text/xml"
		}
	}
	req.ETag = w.LastETag
	req.LastModified = w.LastModified
	return engine.Fetch(ctx, req)
}

func (p *Pipeline) extractText(body []byte, contentType string, w *store.Watch) (string, error) {
	if w.ExtractionMode == "rss" || w.Engine == "rss" {
		f, err := feed.Parse(body)
		if err != nil {
			return "", fmt.Errorf("extract: parse feed: %w", err)
		}
		return f.ToText(), nil
	}
	res, err := extract.Extract(body, extract.Options{Mode: w.ExtractionMode, CSS: w.ExtractionCSS, ContentType: contentType})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// processChange evaluates filters, optionally invokes the agent, and
// optionally dispatches a notification for a freshly-recorded change
// (spec.md §4.9 step 6).
func (p *Pipeline) processChange(ctx context.Context, w *store.Watch, change *store.Change, res *Result, log *slog.Logger) error {
	rules, err := filter.ParseRules(w.FiltersJSON)
	if err != nil {
		return fmt.Errorf("parse filters: %w", err)
	}
	passed, err := filter.Evaluate(rules, change.Diff)
	if err != nil {
		return fmt.Errorf("evaluate filters: %w", err)
	}
	suppressNotify := w.NotifyTarget == "none" || (w.NotifyTarget == "" && p.DefaultNotify == "none")
	if err := p.Store.SetFilterPassed(ctx, change.ID, passed, suppressNotify); err != nil {
		return fmt.Errorf("set filter_passed: %w", err)
	}
	res.FilterPassed = passed
	if suppressNotify {
		return nil
	}

	shouldNotify := passed
	title := w.Name + " changed"
	body := change.Diff

	if passed && w.AgentEnabled {
		if verdict := p.runAgent(ctx, w, change, log); verdict != nil {
			shouldNotify = verdict.Notify
			if verdict.Title != "" {
				title = verdict.Title
			}
			if verdict.Summary != "" {
				body = verdict.Summary
			}
		}
	}

	if !shouldNotify {
		return nil
	}

	return p.dispatchNotify(ctx, w, change, title, body, log)
}

func (p *Pipeline) runAgent(ctx context.Context, w *store.Watch, change *store.Change, log *slog.Logger) *agent.Verdict {
	mem, err := p.Store.GetAgentMemory(ctx, w.ID)
	memJSON := "{}"
	if err == nil {
		memJSON = mem.Memory
	}

	profile := ""
	if w.AgentUseProfile && p.ProfilePath != "" {
		profile = readProfile(p.ProfilePath)
	}

	prior, err := p.priorExtracted(ctx, change)
	if err != nil {
		log.Warn("agent: load prior content failed", "error", err)
	}
	newSnap, err := p.Store.GetSnapshot(ctx, change.NewSnapshotID)
	newContent := ""
	if err == nil {
		newContent = newSnap.Extracted
	}

	prompt := agent.Prompt{
		WatchName:    w.Name,
		Instructions: w.AgentInstr,
		OldContent:   prior,
		NewContent:   newContent,
		Diff:         change.Diff,
		Memory:       memJSON,
		Profile:      profile,
	}

	invoke := p.InvokeAgent
	if invoke == nil {
		invoke = agent.Invoke
	}
	verdict, err := invoke(ctx, p.AgentConfig, prompt)
	if err != nil {
		log.Info("agent: degraded", "error", err)
		return nil
	}

	respJSON, rerr := verdictJSON(verdict)
	if rerr != nil {
		log.Warn("agent: marshal verdict failed", "error", rerr)
		return verdict
	}
	memUpdates, merr := agent.MarshalMemoryUpdates(verdict)
	if merr != nil {
		log.Warn("agent: marshal memory_updates failed", "error", merr)
		memUpdates = ""
	}
	if err := p.Store.SetAgentResponse(ctx, change.ID, w.ID, respJSON, memUpdates); err != nil {
		log.Warn("agent: store verdict failed", "error", err)
	}
	return verdict
}

func (p *Pipeline) priorExtracted(ctx context.Context, change *store.Change) (string, error) {
	snap, err := p.Store.GetSnapshot(ctx, change.OldSnapshotID)
	if err != nil {
		return "", err
	}
	return snap.Extracted, nil
}

func (p *Pipeline) dispatchNotify(ctx context.Context, w *store.Watch, change *store.Change, title, body string, log *slog.Logger) error {
	target := w.NotifyTarget
	if target == "" {
		target = p.DefaultNotify
	}
	if target == "none" {
		return nil
	}

	if p.QuietHours.Active(time.Now()) {
		log.Debug("notify: suppressed by quiet hours")
		// notified stays 0; the change stays eligible for immediate
		// retry so the next pipeline run re-checks the window rather
		// than dropping the notification entirely (spec.md §4.8).
		if derr := p.Store.DeferNotification(ctx, change.ID, time.Now().UnixMilli()); derr != nil {
			log.Warn("notify: defer for quiet hours failed", "error", derr)
		}
		return nil
	}

	ch, err := notify.Dispatch(target)
	if err != nil {
		log.Warn("notify: unconfigured or malformed target", "error", err)
		return nil
	}

	alert := notify.Alert{Title: title, Body: body, URL: w.URL}.Truncate()
	if err := ch.Send(ctx, alert); err != nil {
		delay := notify.Backoff(change.NotifyAttempts)
		p.Store.ScheduleNotifyRetry(ctx, change.ID, time.Now().Add(delay).UnixMilli())
		return fmt.Errorf("notify: send: %w", err)
	}

	if merr := p.Store.MarkChangeNotified(ctx, change.ID); merr != nil {
		return fmt.Errorf("notify: mark notified: %w", merr)
	}
	return nil
}

// logFetch records one fetch attempt to the diagnostic fetch_log table
// independent of whether it produced a new snapshot — the history a
// FetchHistory lookup reads back.
func (p *Pipeline) logFetch(ctx context.Context, watchID, status string, statusCode int, contentHash, errMsg string, durationMs int64) {
	entry := &store.FetchLogEntry{
		ID:           p.NewID(),
		WatchID:      watchID,
		Status:       status,
		StatusCode:   statusCode,
		ContentHash:  contentHash,
		ErrorMessage: errMsg,
		DurationMs:   durationMs,
		FetchedAt:    time.Now().UnixMilli(),
	}
	if err := p.Store.InsertFetchLog(ctx, entry); err != nil {
		p.Logger.Warn("pipeline: insert fetch log failed", "watch_id", watchID, "error", err)
	}
}

func statusCodeOf(err error) int {
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
