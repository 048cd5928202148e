package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mediaprobe/pkg/db"
	"mediaprobe/pkg/store"
)

// LastRunStateKey records when maintenance last completed.
const LastRunStateKey = "maintenance_last_run"

// Options controls what maintenance prunes.
type Options struct {
	CacheTTL    time.Duration // cached results older than this are removed; 0 keeps all
	HistoryKeep int           // newest probe rows kept; 0 keeps all
}

// Run executes all maintenance tasks. Individual failures are logged and
// do not stop the remaining tasks. It blocks until completion.
func Run(ctx context.Context, s store.StateStore, d *db.DB, opts Options) error {
	slog.Info("Maintenance: starting")

	if opts.CacheTTL > 0 {
		if n, err := d.PruneCache(opts.CacheTTL); err != nil {
			slog.Error("Maintenance: cache pruning failed", "error", err)
		} else {
			slog.Info("Maintenance: cache pruned", "removed", n)
		}
	}

	if opts.HistoryKeep > 0 {
		if n, err := d.PruneProbes(opts.HistoryKeep); err != nil {
			slog.Error("Maintenance: history pruning failed", "error", err)
		} else {
			slog.Info("Maintenance: history pruned", "removed", n)
		}
	}

	if err := s.SetState(ctx, LastRunStateKey, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}
	return nil
}
