package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/substratehq/memograph/internal/clients/redis"
	"github.com/substratehq/memograph/internal/data/db"
	"github.com/substratehq/memograph/internal/data/repos"
	"github.com/substratehq/memograph/internal/domain"
	"github.com/substratehq/memograph/internal/patterns"
	"github.com/substratehq/memograph/internal/platform/envutil"
	"github.com/substratehq/memograph/internal/platform/logger"
	"github.com/substratehq/memograph/internal/platform/neo4jdb"
)

func main() {
	// Logger
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	discoveryInterval := envutil.Duration("DISCOVERY_INTERVAL", 1*time.Hour)
	validationInterval := envutil.Duration("VALIDATION_INTERVAL", 6*time.Hour)
	cleanupInterval := envutil.Duration("CLEANUP_INTERVAL", 24*time.Hour)
	detectorTimeout := envutil.Duration("DETECTOR_TIMEOUT", 5*time.Minute)

	scope := domain.Scope{
		WorkspaceID:         envutil.String("DISCOVERY_WORKSPACE_ID", ""),
		ProjectName:         envutil.String("DISCOVERY_PROJECT_NAME", ""),
		UserID:              envutil.String("DISCOVERY_USER_ID", ""),
		MinConfidence:       envutil.Float("DISCOVERY_MIN_CONFIDENCE", 0),
		SimilarityThreshold: envutil.Float("DISCOVERY_SIMILARITY_THRESHOLD", 0),
	}
	cleanupPolicy := domain.CleanupPolicy{
		MaxAgeDays:         envutil.Int("CLEANUP_MAX_AGE_DAYS", 0),
		MinValidationCount: envutil.Int("CLEANUP_MIN_VALIDATION_COUNT", 0),
		MinConfidence:      envutil.Float("CLEANUP_MIN_CONFIDENCE", 0),
	}

	// Neo4j (required)
	graph, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Error("Could not init Neo4j client", "error", err)
		os.Exit(1)
	}
	if graph == nil {
		log.Error("NEO4J_URI is required")
		os.Exit(1)
	}
	defer graph.Close(context.Background())
	graph.EnsureSchema(context.Background())

	// Postgres (optional audit log)
	var runRecorder patterns.RunRecorder
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Warn("Postgres init failed, run audit disabled", "error", err)
	}
	if postgresService != nil {
		if err := db.AutoMigrateAll(postgresService.DB()); err != nil {
			log.Warn("Postgres auto migration failed", "error", err)
		} else {
			runRecorder = repos.NewDiscoveryRunRepo(postgresService.DB(), log)
		}
	}

	// Redis (optional pattern cache)
	var cache patterns.PatternCache
	patternCache, err := redis.NewPatternCache(log)
	if err != nil {
		log.Warn("Redis init failed, pattern cache disabled", "error", err)
	}
	if patternCache != nil {
		defer patternCache.Close()
		cache = patternCache
	}

	// Engine
	store := patterns.NewPatternStore(graph, cache, log)
	engine := patterns.NewEngine(graph, store, runRecorder, detectorTimeout, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Pattern discovery daemon starting",
		"discovery_interval", discoveryInterval,
		"validation_interval", validationInterval,
		"cleanup_interval", cleanupInterval,
		"detector_timeout", detectorTimeout,
	)

	go runLoop(ctx, log, "discovery", discoveryInterval, func(ctx context.Context) error {
		found, err := engine.DiscoverPatterns(ctx, scope)
		if err != nil {
			return err
		}
		log.Info("Discovery pass complete", "pattern_count", len(found))
		return nil
	})
	go runLoop(ctx, log, "validation", validationInterval, func(ctx context.Context) error {
		report, err := engine.ValidatePatterns(ctx)
		if err != nil {
			return err
		}
		log.Info("Validation pass complete",
			"validated", len(report.Validated),
			"invalidated", len(report.Invalidated),
			"strengthened", len(report.Strengthened),
		)
		return nil
	})
	go runLoop(ctx, log, "cleanup", cleanupInterval, func(ctx context.Context) error {
		deleted, err := store.CleanupPatterns(ctx, cleanupPolicy)
		if err != nil {
			return err
		}
		log.Info("Cleanup pass complete", "deleted_count", deleted)
		return nil
	})

	<-ctx.Done()
	log.Info("Shutdown signal received, stopping")
}

// runLoop runs fn once immediately and then on every tick until the
// context is cancelled. Pass failures are logged, never fatal.
func runLoop(ctx context.Context, log *logger.Logger, name string, interval time.Duration, fn func(context.Context) error) {
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		log.Error("Pass failed", "loop", name, "error", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				log.Error("Pass failed", "loop", name, "error", err)
			}
		}
	}
}
