package ha

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// A named shared-cache database lets every goroutine see the same data
	// without leaking into other tests.
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	return db
}

func lockRows(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&migrationLockRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count lock rows: %v", err)
	}
	return count
}

func TestNewMigrationLocker_NilDB(t *testing.T) {
	called := false
	err := NewMigrationLocker(nil, "pod", time.Second).WithLock(context.Background(), func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("function was not called")
	}
}

func TestRowLock_RecordsOwnerAndReleases(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db, "pod-a", time.Second)

	err := locker.WithLock(context.Background(), func() error {
		var rec migrationLockRecord
		if err := db.First(&rec).Error; err != nil {
			t.Fatalf("lock row missing: %v", err)
		}
		if rec.LockedBy != "pod-a" {
			t.Errorf("LockedBy = %q, want pod-a", rec.LockedBy)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := lockRows(t, db); n != 0 {
		t.Errorf("expected lock table to be empty after WithLock, got %d rows", n)
	}
}

func TestRowLock_ErrorPropagationReleases(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db, "pod-a", time.Second)

	migrateErr := errors.New("migration failed")
	err := locker.WithLock(context.Background(), func() error { return migrateErr })
	if !errors.Is(err, migrateErr) {
		t.Fatalf("error = %v, want %v", err, migrateErr)
	}
	if n := lockRows(t, db); n != 0 {
		t.Errorf("expected lock table to be empty after error, got %d rows", n)
	}
}

func TestRowLock_Serialization(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db, "pod-a", 10*time.Second)

	var concurrent, maxConcurrent atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithLock(context.Background(), func() error {
				cur := concurrent.Add(1)
				for {
					prev := maxConcurrent.Load()
					if cur <= prev || maxConcurrent.CompareAndSwap(prev, cur) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				concurrent.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if maxConcurrent.Load() > 1 {
		t.Errorf("expected max concurrency of 1, got %d", maxConcurrent.Load())
	}
}

func TestRowLock_TimesOutWhileHeld(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db, "pod-a", 300*time.Millisecond)

	err := locker.WithLock(context.Background(), func() error {
		inner := locker.WithLock(context.Background(), func() error {
			t.Error("should not have acquired the lock")
			return nil
		})
		if !errors.Is(inner, errLockTimeout) {
			t.Errorf("inner error = %v, want timeout", inner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer WithLock error: %v", err)
	}
}

func TestRowLock_ContextCancellation(t *testing.T) {
	db := setupTestDB(t)
	locker := NewMigrationLocker(db, "pod-a", 10*time.Second)

	err := locker.WithLock(context.Background(), func() error {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := locker.WithLock(ctx, func() error {
			t.Error("should not have acquired the lock")
			return nil
		}); err == nil {
			t.Error("expected context cancellation error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("outer WithLock error: %v", err)
	}
}
