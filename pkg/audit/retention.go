package audit

import (
	"context"
	"log/slog"
	"time"
)

// Pruner deletes records older than a cutoff. Store and the reminder run
// store both satisfy it.
type Pruner interface {
	DeleteOlderThan(cutoff time.Time) (int64, error)
}

type retentionTarget struct {
	name      string
	pruner    Pruner
	retention time.Duration
}

// RetentionWorker periodically prunes old audit events and any other
// registered history tables.
type RetentionWorker struct {
	targets  []retentionTarget
	interval time.Duration
	logger   *slog.Logger
}

// NewRetentionWorker creates a worker that keeps retentionDays of audit
// events. It runs daily.
func NewRetentionWorker(store *Store, retentionDays int, logger *slog.Logger) *RetentionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &RetentionWorker{
		interval: 24 * time.Hour,
		logger:   logger,
	}
	if store != nil {
		w.Add("audit_events", store, retentionDays)
	}
	return w
}

// Add registers another table to prune. Non-positive retention disables it.
func (w *RetentionWorker) Add(name string, p Pruner, retentionDays int) {
	if p == nil || retentionDays <= 0 {
		w.logger.Info("retention disabled", "target", name, "retentionDays", retentionDays)
		return
	}
	w.targets = append(w.targets, retentionTarget{
		name:      name,
		pruner:    p,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
	})
}

// Run prunes once per interval until the context is cancelled.
func (w *RetentionWorker) Run(ctx context.Context) {
	if len(w.targets) == 0 {
		w.logger.Info("retention worker disabled, nothing to prune")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("retention worker started", "targets", len(w.targets), "interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("retention worker stopped")
			return
		case <-ticker.C:
			w.PruneOnce(time.Now())
		}
	}
}

// PruneOnce performs a single pass over all targets and returns the number
// of rows deleted per target.
func (w *RetentionWorker) PruneOnce(now time.Time) map[string]int64 {
	out := make(map[string]int64, len(w.targets))
	for _, t := range w.targets {
		cutoff := now.Add(-t.retention)
		deleted, err := t.pruner.DeleteOlderThan(cutoff)
		if err != nil {
			w.logger.Error("retention cleanup failed", "target", t.name, "error", err)
			continue
		}
		out[t.name] = deleted
		if deleted > 0 {
			w.logger.Info("retention cleanup completed",
				"target", t.name,
				"deleted", deleted,
				"cutoff", cutoff.Format(time.RFC3339))
		}
	}
	return out
}
