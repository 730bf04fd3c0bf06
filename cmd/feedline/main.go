package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/feedline-io/feedline/internal/aggregator"
	"github.com/feedline-io/feedline/internal/collector"
	"github.com/feedline-io/feedline/internal/core/activity"
	"github.com/feedline-io/feedline/internal/core/config"
	"github.com/feedline-io/feedline/internal/core/storage/postgres"
	"github.com/feedline-io/feedline/internal/feeds"
	"github.com/feedline-io/feedline/internal/ingestion"
	"github.com/feedline-io/feedline/internal/migrations"
	"github.com/feedline-io/feedline/internal/principal"
	"github.com/feedline-io/feedline/internal/router"
	"github.com/feedline-io/feedline/internal/server"
	"github.com/feedline-io/feedline/internal/verbs"
)

func main() {
	configPath := flag.String("config", "feedline.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config", "config", cfg)

	// 2. Run Database Migrations on a short-lived bootstrap connection; the
	// queue adapter validates the schema on construction, so migrations must
	// land first.
	if err := runMigrations(cfg); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Storage (PostgreSQL)
	queueAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer queueAdapter.Close()

	activityStore := postgres.NewActivityAdapter(queueAdapter.DB())
	deliveryStore := postgres.NewDeliveryAdapter(queueAdapter.DB())

	// 4. Initialize Redis (bucket leases)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// 5. Load Grouping Rules and Verb Registry
	ruleRepo, err := activity.NewFileSystemRuleRepository(cfg.Aggregation.RulesDir)
	if err != nil {
		slog.Error("Failed to load grouping rules", "error", err, "dir", cfg.Aggregation.RulesDir)
		os.Exit(1)
	}
	rules := ruleRepo.Rules()
	slog.Info("Grouping rules loaded", "count", len(rules), "dir", cfg.Aggregation.RulesDir)

	verbRegistry, err := verbs.NewRegistry(cfg.Verbs.Dir)
	if err != nil {
		slog.Error("Failed to load verb registry", "error", err, "dir", cfg.Verbs.Dir)
		os.Exit(1)
	}
	slog.Info("Verb registry loaded", "verbs", verbRegistry.Names())

	// 6. Principal Directory. A static snapshot stands in for the identity
	// service; routing only ever consults it through the Directory contract.
	var directory principal.Directory
	if cfg.Principal.DirectoryFile != "" {
		directory, err = principal.LoadStaticDirectory(cfg.Principal.DirectoryFile)
		if err != nil {
			slog.Error("Failed to load principal directory", "error", err, "file", cfg.Principal.DirectoryFile)
			os.Exit(1)
		}
	} else {
		directory = principal.NewStaticDirectory()
	}

	// 7. Aggregation pipeline: queue -> aggregator -> router -> buckets
	resolver := router.NewDirectoryResolver(directory)
	engine := aggregator.New(rules, activityStore, activityStore, resolver)
	deliveryRouter := router.New(directory, deliveryStore, router.Config{
		BucketSlice: config.Duration(cfg.Delivery.BucketSlice, 5*time.Minute),
		Streams:     verbRegistry,
	})
	worker := aggregator.NewShardedWorker(
		config.Duration(cfg.Aggregation.Interval, 5*time.Second),
		queueAdapter,
		engine,
		deliveryRouter,
		cfg.Aggregation.BatchSize,
		cfg.Aggregation.ShardIndex,
		cfg.Aggregation.ShardCount,
	)

	// 8. Collector: buckets -> feeds / notifications / digests
	sink := feeds.NewStoreSink(deliveryStore)
	bucketCollector := collector.New(
		deliveryStore,
		activityStore,
		collector.NewRedisLease(redisClient, ""),
		collector.Sinks{Feed: sink, Notification: sink, Digest: sink},
		collector.Config{
			LeaseTTL:    config.Duration(cfg.Collector.LeaseTTL, 2*time.Minute),
			BucketLimit: cfg.Collector.BucketLimit,
			RecordLimit: cfg.Collector.RecordLimit,
		},
	)
	collectScheduler := collector.NewScheduler(
		config.Duration(cfg.Collector.Interval, 30*time.Second),
		bucketCollector,
	)

	// 9. HTTP services
	ingestionSvc := ingestion.NewService(verbRegistry, queueAdapter, cfg.Server.MaxBodySizeMB)
	feedsSvc := feeds.NewService(deliveryStore)

	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), queueAdapter.DB(), redisClient, cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	feedsSvc.RegisterRoutes(srv.Engine)

	// 10. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Aggregation.Enabled {
		g.Go(func() error { return worker.Start(gctx) })
	} else {
		slog.Info("Aggregation worker disabled by config")
	}

	if cfg.Collector.Enabled {
		g.Go(func() error { return collectScheduler.Start(gctx) })
	} else {
		slog.Info("Collector disabled by config")
	}

	g.Go(func() error { return srv.Run(gctx) })

	if err := g.Wait(); err != nil {
		slog.Error("Service stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}

// runMigrations applies schema migrations over a dedicated connection.
func runMigrations(cfg *config.Config) error {
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer db.Close()

	return migrations.RunMigrations(db, cfg.Database.AutoMigrate)
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
