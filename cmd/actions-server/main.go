// Package main is the improvement-actions server: the HTTP API plus the
// reminder scheduler and retention workers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/actions"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/api"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/audit"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/authz"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/cache"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/ha"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/masterdata"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/notify"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/permissions"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/remediation"
	"github.com/BetJor/Improvement-actions-manager-sub000/pkg/reminders"
)

// catalog is what the service and the permission engine read master data
// from. Both Store and CachedCatalog satisfy it.
type catalog interface {
	permissions.Catalog
	actions.MasterData
}

func main() {
	var (
		listenAddr   string
		databaseType string
		databaseDSN  string
		seedPath     string
		watchSeed    bool
		envFile      string
		debug        bool
	)

	flag.StringVar(&listenAddr, "listen", ":8080", "Address to listen on")
	flag.StringVar(&databaseType, "db-type", "", "Database type (sqlite, postgres or mysql)")
	flag.StringVar(&databaseDSN, "db-dsn", "", "Database connection string")
	flag.StringVar(&seedPath, "seed", "", "Path to the master-data seed file")
	flag.BoolVar(&watchSeed, "watch-seed", true, "Re-apply the seed file when it changes")
	flag.StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	// Initialize glog for backwards compatibility
	_ = flag.Set("logtostderr", "true")

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		glog.Fatalf("Failed to load %s: %v", envFile, err)
	}
	if seedPath == "" {
		seedPath = os.Getenv("ACTIONS_SEED_PATH")
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	haCfg := ha.HAConfigFromEnv()
	auditCfg := audit.AuditConfigFromEnv()
	authzCfg := authz.ConfigFromEnv()
	cacheCfg := cache.CacheConfigFromEnv()
	notifyCfg := notify.ConfigFromEnv()
	reminderCfg := reminders.ConfigFromEnv()

	gormDB, err := setupDatabase(databaseType, databaseDSN)
	if err != nil {
		glog.Fatalf("Failed to connect to database: %v", err)
	}

	// Stores
	mdStore := masterdata.NewStore(gormDB)
	actionStore := actions.NewStore(gormDB)
	events := audit.NewStore(gormDB)
	runs := reminders.NewRunStore(gormDB)

	var locker ha.MigrationLocker = ha.NewMigrationLocker(nil, "", 0)
	if haCfg.MigrationLockEnabled {
		locker = ha.NewMigrationLocker(gormDB, haCfg.Identity, haCfg.MigrationLockTimeout)
	}
	err = locker.WithLock(ctx, func() error {
		migrations := []struct {
			name string
			run  func() error
		}{
			{"masterdata", mdStore.AutoMigrate},
			{"actions", actionStore.AutoMigrate},
			{"audit", events.AutoMigrate},
			{"reminder_runs", runs.AutoMigrate},
		}
		for _, m := range migrations {
			if err := m.run(); err != nil {
				return fmt.Errorf("migrate %s: %w", m.name, err)
			}
		}
		if seedPath == "" {
			return nil
		}
		f, err := masterdata.LoadSeedFile(seedPath)
		if err != nil {
			return err
		}
		res, err := mdStore.Seed(ctx, f, masterdata.SeedOptions{})
		if err != nil {
			return err
		}
		logger.Info("master data seeded", "path", seedPath, "written", res.Written)
		return nil
	})
	if err != nil {
		glog.Fatalf("Failed to prepare database: %v", err)
	}

	var master catalog = mdStore
	var cached *masterdata.CachedCatalog
	if cacheCfg.Enabled {
		cached = masterdata.NewCachedCatalog(mdStore, cacheCfg)
		master = cached
		logger.Info("master-data cache enabled", "ttl", cacheCfg.TTL, "maxSize", cacheCfg.MaxSize)
	}

	sender, err := notify.NewSender(notifyCfg, logger)
	if err != nil {
		glog.Fatalf("Failed to create notification sender: %v", err)
	}
	notifier := notify.NewNotifier(sender, notifyCfg, logger)

	svc := actions.NewService(actionStore, permissions.NewEngine(master, logger), master, notifier, logger)
	svc.SetEventRecorder(events)
	remediation.NewSpawner(svc, notifier, logger)

	scanner := reminders.NewScanner(svc, notifier, logger)
	runner := reminders.NewRunner(scanner, runs, reminderCfg, logger)

	var jwtParser *authz.JWTParser
	if authzCfg.JWTEnabled {
		jwtParser, err = authz.NewJWTParser(*authzCfg, logger)
		if err != nil {
			glog.Fatalf("Failed to configure JWT identity: %v", err)
		}
	}

	server := api.NewServer(api.Options{
		Service:     svc,
		Reminders:   runner,
		Events:      events,
		AuditConfig: auditCfg,
		JWTParser:   jwtParser,
		Checker:     authz.NewChecker(authzCfg.Mode),
		DB:          gormDB,
		Logger:      logger,
	})

	// Every replica watches the seed so its own cache is dropped on change.
	if seedPath != "" && watchSeed {
		onApplied := func() {}
		if cached != nil {
			onApplied = cached.Invalidate
		}
		watcher := masterdata.NewSeedWatcher(seedPath, mdStore, onApplied, logger)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				logger.Error("seed watcher stopped", "error", err)
			}
		}()
	}

	// Singleton work runs on the leader only.
	var k8sClient kubernetes.Interface
	if haCfg.LeaderElectionEnabled {
		k8sCfg, err := rest.InClusterConfig()
		if err != nil {
			glog.Fatalf("Failed to create in-cluster K8s config (is the server running in a pod?): %v", err)
		}
		k8sClient, err = kubernetes.NewForConfig(k8sCfg)
		if err != nil {
			glog.Fatalf("Failed to create K8s clientset: %v", err)
		}
	}
	elector := ha.NewLeaderElector(haCfg, k8sClient, haCfg.Identity, logger)
	elector.Add("reminders", runner.Run)

	retention := audit.NewRetentionWorker(events, auditCfg.RetentionDays, logger)
	retention.Add("reminder_runs", runs, reminderCfg.RetentionDays)
	elector.Add("retention", retention.Run)

	electorDone := make(chan struct{})
	go func() {
		defer close(electorDone)
		elector.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("actions server ready",
		"listen", listenAddr,
		"dbType", gormDB.Dialector.Name(),
		"authzMode", authzCfg.Mode,
		"notifyMode", notifyCfg.Mode,
		"leaderElection", haCfg.LeaderElectionEnabled,
	)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	select {
	case <-electorDone:
	case <-shutdownCtx.Done():
		logger.Warn("background workers did not stop in time")
	}

	logger.Info("actions server stopped")
}

func setupDatabase(dbType, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_DSN")
	}
	if dbType == "" {
		dbType = os.Getenv("DATABASE_TYPE")
		if dbType == "" {
			dbType = "sqlite"
		}
	}

	var dialector gorm.Dialector
	switch dbType {
	case "sqlite":
		if dsn == "" {
			dsn = "actions.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required for postgres (use -db-dsn flag or DATABASE_DSN environment variable)")
		}
		dialector = postgres.Open(dsn)
	case "mysql":
		if dsn == "" {
			return nil, fmt.Errorf("database DSN is required for mysql (use -db-dsn flag or DATABASE_DSN environment variable)")
		}
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database type %q (expected sqlite, postgres or mysql)", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dbType, err)
	}
	if dbType == "sqlite" {
		// SQLite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
