package ha

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"gorm.io/gorm"
)

const migrationLockName = "actions-server-migration"

// MigrationLocker serializes schema migrations across replicas.
type MigrationLocker interface {
	// WithLock runs fn while holding the migration lock.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker picks a lock for the database dialect: a session
// advisory lock on PostgreSQL, GET_LOCK on MySQL and a lock row elsewhere.
// owner is recorded in the lock row.
func NewMigrationLocker(db *gorm.DB, owner string, timeout time.Duration) MigrationLocker {
	if db == nil {
		return noopLock{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	switch db.Dialector.Name() {
	case "postgres":
		return &sessionLock{
			db:      db,
			acquire: "SELECT pg_advisory_lock(?)",
			release: "SELECT pg_advisory_unlock(?)",
			args:    []any{int64(crc32.ChecksumIEEE([]byte(migrationLockName)))},
		}
	case "mysql":
		return &sessionLock{
			db:       db,
			acquire:  "SELECT GET_LOCK(?, ?)",
			release:  "SELECT RELEASE_LOCK(?)",
			args:     []any{migrationLockName},
			timeout:  timeout,
			checkRow: true,
		}
	}
	// The table exists before the first WithLock so concurrent callers never
	// see "no such table".
	_ = db.AutoMigrate(&migrationLockRecord{})
	return &rowLock{db: db, owner: owner, timeout: timeout}
}

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error { return fn() }

// sessionLock holds a connection-scoped database lock. Acquire and release
// run on the same pooled connection.
type sessionLock struct {
	db       *gorm.DB
	acquire  string
	release  string
	args     []any
	timeout  time.Duration
	checkRow bool
}

func (l *sessionLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := l.lock(conn); err != nil {
			return err
		}
		defer func() {
			_ = conn.Exec(l.release, l.args...).Error
		}()
		return fn()
	})
}

func (l *sessionLock) lock(conn *gorm.DB) error {
	if !l.checkRow {
		if err := conn.Exec(l.acquire, l.args...).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		return nil
	}
	// GET_LOCK returns 1 on success, 0 on timeout and NULL on error.
	var got *int
	args := append(append([]any{}, l.args...), int(l.timeout.Seconds()))
	if err := conn.Raw(l.acquire, args...).Scan(&got).Error; err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if got == nil || *got != 1 {
		return fmt.Errorf("%w after %s", errLockTimeout, l.timeout)
	}
	return nil
}

// migrationLockRecord is the lock row used by databases without session
// locks.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// rowLock inserts a single row and treats a duplicate key as "held". Rows
// older than staleLockAge are assumed to belong to a crashed replica.
type rowLock struct {
	db      *gorm.DB
	owner   string
	timeout time.Duration
}

const (
	rowLockRetry = 250 * time.Millisecond
	staleLockAge = 5 * time.Minute
)

var errLockTimeout = errors.New("timed out waiting for migration lock")

func (l *rowLock) WithLock(ctx context.Context, fn func() error) error {
	deadline := time.Now().Add(l.timeout)
	for {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", migrationLockName, time.Now().Add(-staleLockAge)).
			Delete(&migrationLockRecord{})

		err := l.db.WithContext(ctx).Create(&migrationLockRecord{
			ID:       migrationLockName,
			LockedAt: time.Now(),
			LockedBy: l.owner,
		}).Error
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %v", errLockTimeout, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(rowLockRetry):
		}
	}

	defer l.db.Where("id = ?", migrationLockName).Delete(&migrationLockRecord{})
	return fn()
}
