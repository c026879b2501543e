// Command ktod is kto's driver: a one-shot pass (`run`), a single-watch
// dry run (`test`), a resident scheduler (`daemon`), or the diagnostic
// modes `history`, `search`, `reset`, and `broken`. Grounded on
// cmd/chrc/main.go's env-var configuration and slog/signal-context
// wiring, scaled down to kto's single-node scope (spec.md §6 exit
// codes: 0 success, 2 config error, 3 store error, 4 partial failure).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/hazyhaar/kto"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	logLevel := env("KTO_LOG_LEVEL", "info")
	jsonOut := env("KTO_JSON", "") != ""

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(logLevel)}))
	slog.SetDefault(logger)

	mode := "run"
	if len(args) > 0 {
		mode = args[0]
	}

	cfg, err := kto.LoadConfig(env("KTO_CONFIG", kto.DefaultConfigPath()))
	if err != nil {
		logger.Error("config", "error", err)
		return 2
	}
	cfg.DBPath = env("KTO_DB", kto.DefaultDBPath())

	svc, err := kto.New(cfg, logger)
	if err != nil {
		logger.Error("open service", "error", err)
		return 3
	}
	defer svc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch mode {
	case "daemon":
		logger.Info("ktod: daemon starting")
		svc.RunDaemon(ctx)
		return 0
	case "test":
		if len(args) < 2 {
			logger.Error("test: missing watch id/name argument")
			return 2
		}
		return runTest(ctx, svc, args[1], jsonOut)
	case "run":
		return runOnce(ctx, svc, jsonOut)
	case "history":
		if len(args) < 2 {
			logger.Error("history: missing watch id/name argument")
			return 2
		}
		return runHistory(ctx, svc, args[1])
	case "search":
		if len(args) < 2 {
			logger.Error("search: missing query argument")
			return 2
		}
		return runSearch(ctx, svc, args[1])
	case "reset":
		if len(args) < 2 {
			logger.Error("reset: missing watch id/name argument")
			return 2
		}
		return runReset(ctx, svc, args[1])
	case "broken":
		return runBroken(ctx, svc, jsonOut)
	default:
		logger.Error("ktod: unknown mode", "mode", mode)
		return 2
	}
}

func runOnce(ctx context.Context, svc *kto.Service, jsonOut bool) int {
	results := svc.RunOnce(ctx)
	failed := 0
	for _, r := range results {
		if jsonOut {
			emitJSON(r)
		}
		if r.Status == "error" {
			failed++
		}
	}
	if failed > 0 {
		return 4
	}
	return 0
}

func runTest(ctx context.Context, svc *kto.Service, watchRef string, jsonOut bool) int {
	w, err := svc.Store.GetWatchByNameOrID(ctx, watchRef)
	if err != nil {
		slog.Error("test: lookup watch", "watch", watchRef, "error", err)
		return 3
	}
	res, err := svc.Pipeline.Run(ctx, w)
	if err != nil {
		slog.Error("test: pipeline run", "error", err)
		return 3
	}
	if jsonOut {
		emitJSON(res)
	}
	if res.Status == "error" {
		return 4
	}
	return 0
}

// runHistory prints a watch's recent fetch attempts, newest first
// (at most 20, or $KTO_HISTORY_LIMIT when that parses as an integer).
func runHistory(ctx context.Context, svc *kto.Service, watchRef string) int {
	limit := 20
	if v := env("KTO_HISTORY_LIMIT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries, err := svc.FetchHistory(ctx, watchRef, limit)
	if err != nil {
		slog.Error("history: lookup failed", "watch", watchRef, "error", err)
		return 3
	}
	for _, e := range entries {
		emitJSON(e)
	}
	return 0
}

// runSearch prints full-text matches over recorded diffs, best-ranked first.
func runSearch(ctx context.Context, svc *kto.Service, query string) int {
	results, err := svc.Search(ctx, query, 20)
	if err != nil {
		slog.Error("search: query failed", "error", err)
		return 3
	}
	for _, r := range results {
		emitJSON(r)
	}
	return 0
}

// runReset clears a watch's failure state so the scheduler considers
// it due again immediately.
func runReset(ctx context.Context, svc *kto.Service, watchRef string) int {
	if err := svc.ResetWatch(ctx, watchRef); err != nil {
		slog.Error("reset: failed", "watch", watchRef, "error", err)
		return 3
	}
	return 0
}

// runBroken prints watches the scheduler has given up on (fail_count
// past the configured threshold) so an operator can investigate.
func runBroken(ctx context.Context, svc *kto.Service, jsonOut bool) int {
	watches, err := svc.BrokenWatches(ctx)
	if err != nil {
		slog.Error("broken: lookup failed", "error", err)
		return 3
	}
	for _, w := range watches {
		if jsonOut {
			emitJSON(w)
			continue
		}
		fmt.Fprintf(os.Stdout, "%s\t%s\tfail_count=%d\t%s\n", w.ID, w.Name, w.FailCount, w.LastError)
	}
	return 0
}

func emitJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintln(os.Stdout, string(b))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
