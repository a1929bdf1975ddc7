package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/enrollease/enrollease-api/internal/repository"
	"github.com/enrollease/enrollease-api/internal/service"
	"github.com/enrollease/enrollease-api/pkg/cache"
	"github.com/enrollease/enrollease-api/pkg/collaborator"
	"github.com/enrollease/enrollease-api/pkg/config"
	"github.com/enrollease/enrollease-api/pkg/database"
	"github.com/enrollease/enrollease-api/pkg/logger"
)

// Rewrites legacy payment and certificate fields on student documents into the canonical
// finance and certificate objects. Snapshots are published so open progress views follow.
func main() {
	var (
		dryRun    bool
		batchSize int
		timeout   time.Duration
	)

	flag.BoolVar(&dryRun, "dry-run", false, "Only count documents that would be rewritten")
	flag.IntVar(&batchSize, "batch-size", 100, "Documents read per page")
	flag.DurationVar(&timeout, "timeout", 10*time.Minute, "Overall time limit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(ctx, cfg.Redis, "normalize-records")
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	caller := collaborator.NewCaller(collaborator.Options{
		Timeout:     cfg.Collaborator.Timeout,
		MaxAttempts: cfg.Collaborator.MaxAttempts,
		Logger:      logr,
	})
	feed := repository.NewRedisRecordFeed(redisClient, cfg.Feed.ChannelPrefix, logr)
	store := service.NewRecordStore(repository.NewStudentDocumentRepository(db), feed, caller, logr)

	report, err := service.NewMigrationService(store, batchSize, logr).NormalizeAll(ctx, dryRun)
	if err != nil {
		logr.Error("normalization aborted", zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("Scanned: %d, Rewritten: %d, Failed: %d, Dry run: %t\n", report.Scanned, report.Rewritten, len(report.Failed), report.DryRun)
	for _, id := range report.Failed {
		fmt.Printf("  failed: %s\n", id)
	}
	if len(report.Failed) > 0 {
		os.Exit(1)
	}
}
