package reminders

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Runner executes scans on a schedule and on demand and records each
// execution as a ReminderRun.
type Runner struct {
	scanner *Scanner
	runs    *RunStore
	cfg     *Config
	logger  *slog.Logger
	now     func() time.Time

	// mu serializes scans in this process.
	mu sync.Mutex
}

// NewRunner creates a Runner.
func NewRunner(scanner *Scanner, runs *RunStore, cfg *Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Runner{
		scanner: scanner,
		runs:    runs,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for schedule keys.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

// Runs returns the run history store.
func (r *Runner) Runs() *RunStore { return r.runs }

// Run blocks until ctx is cancelled, scanning every cfg.Interval. Only one
// scheduled scan per UTC day is executed across replicas sharing the
// database.
func (r *Runner) Run(ctx context.Context) {
	if !r.cfg.Enabled {
		r.logger.Info("reminder runner disabled")
		return
	}

	r.logger.Info("reminder runner starting",
		"interval", r.cfg.Interval.String(),
		"daysUntilDue", r.cfg.DaysUntilDue)

	if r.cfg.RunOnStart {
		r.scheduled(ctx)
	}

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reminder runner stopped")
			return
		case <-ticker.C:
			r.scheduled(ctx)
		}
	}
}

func (r *Runner) scheduled(ctx context.Context) {
	if r.cfg.StaleAfter > 0 {
		recovered, err := r.runs.CleanupStale(r.cfg.StaleAfter)
		if err != nil {
			r.logger.Error("failed to cleanup stale reminder runs", "error", err)
		} else if recovered > 0 {
			r.logger.Info("recovered stale reminder runs", "count", recovered)
		}
	}

	run, _, err := r.Trigger(ctx, TriggerSchedule, false, "")
	if err != nil {
		r.logger.Error("scheduled reminder scan failed", "error", err)
		return
	}
	r.logger.Info("scheduled reminder scan", "runId", run.ID, "state", run.State,
		"sent", run.SentReminders)
}

// ScheduleKey returns the idempotency key of the scheduled run for day t.
func ScheduleKey(t time.Time) string {
	return "schedule:" + t.UTC().Format("2006-01-02")
}

// Trigger executes one scan and records it. Scheduled runs are keyed by UTC
// day; if that day's run already exists and has not failed, it is returned
// with a nil result and no scan happens. Manual runs always execute.
func (r *Runner) Trigger(ctx context.Context, trigger Trigger, dryRun bool, requestedBy string) (*ReminderRun, *ScanResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ""
	if trigger == TriggerSchedule && !dryRun {
		key = ScheduleKey(r.now())
	}

	run, created, err := r.runs.Begin(&ReminderRun{
		ID:          uuid.New().String(),
		Trigger:     trigger,
		RequestedBy: requestedBy,
		DryRun:      dryRun,
		StartedAt:   r.now(),
	}, key)
	if err != nil {
		return nil, nil, err
	}
	if !created {
		r.logger.Debug("reminder run already recorded", "key", key, "runId", run.ID)
		return run, nil, nil
	}

	res, scanErr := r.scanner.Run(ctx, ScanConfig{DaysUntilDue: r.cfg.DaysUntilDue}, dryRun)
	finished, err := r.runs.Finish(run.ID, res, scanErr)
	if err != nil {
		return nil, res, err
	}
	if scanErr != nil {
		return finished, res, scanErr
	}
	return finished, res, nil
}
