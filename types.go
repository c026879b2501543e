// Package kto watches web pages, feeds, and rendered/scripted sources
// for meaningful content changes, filters and optionally judges each
// change with an external agent, and notifies over one of eight
// channels. It is grounded on veille/types.go's re-export shape: a
// single-node orchestrator over the store, fetcher, and pipeline,
// without veille's multi-tenant pool/shard resolution — kto owns one
// SQLite file, not one per user×space.
package kto

import (
	"github.com/hazyhaar/kto/internal/agent"
	"github.com/hazyhaar/kto/internal/filter"
	"github.com/hazyhaar/kto/internal/notify"
	"github.com/hazyhaar/kto/internal/pipeline"
	"github.com/hazyhaar/kto/internal/scheduler"
	"github.com/hazyhaar/kto/internal/store"
)

// Re-export store/pipeline types as the package's public API, the way
// veille.Source/veille.Extraction alias their store counterparts.
type (
	Watch           = store.Watch
	Snapshot        = store.Snapshot
	Change          = store.Change
	AgentMemory     = store.AgentMemory
	GlobalMemory    = store.GlobalMemory
	FetchLogEntry   = store.FetchLogEntry
	Stats           = store.Stats
	SearchResult    = store.SearchResult
	ListFilter      = store.ListFilter
	FilterRule      = filter.Rule
	AgentVerdict    = agent.Verdict
	PipelineResult  = pipeline.Result
	SchedulerConfig = scheduler.Config
	QuietHours      = notify.QuietHours
)
