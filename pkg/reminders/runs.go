package reminders

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RunState is the lifecycle state of a reminder run.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
)

// Trigger says what started a run.
type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// ReminderRun is the GORM model for one scan execution.
type ReminderRun struct {
	ID             string                         `gorm:"primaryKey;column:id;type:varchar(36)" json:"id"`
	Trigger        Trigger                        `gorm:"column:trigger_kind;not null" json:"trigger"`
	RequestedBy    string                         `gorm:"column:requested_by" json:"requestedBy,omitempty"`
	DryRun         bool                           `gorm:"column:dry_run" json:"dryRun"`
	State          RunState                       `gorm:"column:state;index:idx_run_state;not null" json:"state"`
	CheckedActions int                            `gorm:"column:checked_actions" json:"checkedActions"`
	SentReminders  int                            `gorm:"column:sent_reminders" json:"sentReminders"`
	Errors         datatypes.JSONSlice[ScanError] `gorm:"column:errors" json:"errors,omitempty"`
	Message        string                         `gorm:"column:message" json:"message,omitempty"`
	StartedAt      time.Time                      `gorm:"column:started_at;index:idx_run_started;not null" json:"startedAt"`
	FinishedAt     *time.Time                     `gorm:"column:finished_at" json:"finishedAt,omitempty"`
	DurationMs     int64                          `gorm:"column:duration_ms" json:"durationMs"`
	IdempotencyKey *string                        `gorm:"column:idempotency_key;uniqueIndex:idx_run_idemp_key" json:"-"`
}

// TableName returns the GORM table name.
func (ReminderRun) TableName() string { return "reminder_runs" }

// IsTerminal returns true if the run has finished.
func (r *ReminderRun) IsTerminal() bool {
	return r.State == RunStateSucceeded || r.State == RunStateFailed
}

// RunStore persists reminder run history.
type RunStore struct {
	db *gorm.DB
}

// NewRunStore creates a new RunStore.
func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

// AutoMigrate creates or updates the reminder_runs table.
func (s *RunStore) AutoMigrate() error {
	return s.db.AutoMigrate(&ReminderRun{})
}

// Begin records a new running run. If key is non-empty and a run with the
// same key is running or has succeeded, that run is returned with created
// set to false and nothing is written. A failed run releases its key.
func (s *RunStore) Begin(run *ReminderRun, key string) (*ReminderRun, bool, error) {
	run.State = RunStateRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if key == "" {
		if err := s.db.Create(run).Error; err != nil {
			return nil, false, fmt.Errorf("begin run: %w", err)
		}
		return run, true, nil
	}
	run.IdempotencyKey = &key

	var result *ReminderRun
	created := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing ReminderRun
		err := tx.Where("idempotency_key = ?", key).First(&existing).Error
		if err == nil && existing.State != RunStateFailed {
			result = &existing
			return nil
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("check idempotency key: %w", err)
		}
		if err == nil {
			if err := tx.Model(&ReminderRun{}).Where("id = ?", existing.ID).
				Update("idempotency_key", nil).Error; err != nil {
				return fmt.Errorf("release idempotency key: %w", err)
			}
		}
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("begin run: %w", err)
		}
		result = run
		created = true
		return nil
	})
	if err != nil {
		// Another replica may have claimed the key between check and create.
		var race ReminderRun
		if lookupErr := s.db.Where("idempotency_key = ?", key).First(&race).Error; lookupErr == nil {
			return &race, false, nil
		}
		return nil, false, err
	}
	return result, created, nil
}

// Finish records the outcome of a run.
func (s *RunStore) Finish(id string, res *ScanResult, runErr error) (*ReminderRun, error) {
	var run ReminderRun
	if err := s.db.First(&run, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	now := time.Now().UTC()
	run.FinishedAt = &now
	if d := now.Sub(run.StartedAt); d > 0 {
		run.DurationMs = d.Milliseconds()
	}
	run.State = RunStateSucceeded
	if res != nil {
		run.CheckedActions = res.CheckedActions
		run.SentReminders = res.SentReminders
		run.Errors = datatypes.NewJSONSlice(res.Errors)
		run.Message = fmt.Sprintf("Checked %d actions, sent %d reminders", res.CheckedActions, res.SentReminders)
	}
	if runErr != nil {
		run.State = RunStateFailed
		run.Message = runErr.Error()
	}
	if err := s.db.Save(&run).Error; err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}
	return &run, nil
}

// Get retrieves a run by ID. Returns nil if it does not exist.
func (s *RunStore) Get(id string) (*ReminderRun, error) {
	var run ReminderRun
	if err := s.db.First(&run, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &run, nil
}

// List returns runs newest first, paginated by start time.
func (s *RunStore) List(pageSize int, pageToken string) ([]ReminderRun, string, error) {
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	query := s.db.Model(&ReminderRun{}).Order("started_at DESC").Limit(pageSize + 1)
	if pageToken != "" {
		t, err := time.Parse(time.RFC3339Nano, pageToken)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page token: %w", err)
		}
		query = query.Where("started_at < ?", t)
	}

	var runs []ReminderRun
	if err := query.Find(&runs).Error; err != nil {
		return nil, "", fmt.Errorf("list runs: %w", err)
	}

	var next string
	if len(runs) > pageSize {
		next = runs[pageSize-1].StartedAt.Format(time.RFC3339Nano)
		runs = runs[:pageSize]
	}
	return runs, next, nil
}

// CleanupStale marks runs that have been running longer than after as
// failed, e.g. after a crash.
func (s *RunStore) CleanupStale(after time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-after)
	now := time.Now().UTC()
	result := s.db.Model(&ReminderRun{}).
		Where("state = ? AND started_at < ?", RunStateRunning, cutoff).
		Updates(map[string]any{
			"state":       RunStateFailed,
			"finished_at": now,
			"message":     "Interrupted (stale run recovery)",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup stale runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteOlderThan removes finished runs started before cutoff.
func (s *RunStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result := s.db.Where("state IN ? AND started_at < ?",
		[]RunState{RunStateSucceeded, RunStateFailed}, cutoff).
		Delete(&ReminderRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
