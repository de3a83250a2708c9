package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aubravo/earthgazer/artifact"
	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/config"
	"github.com/aubravo/earthgazer/objectstore"
	"github.com/aubravo/earthgazer/platform"
	"github.com/aubravo/earthgazer/queue"
	"github.com/aubravo/earthgazer/tracker"
	"github.com/aubravo/earthgazer/units"
	"github.com/aubravo/earthgazer/worker/pool"
	"github.com/aubravo/earthgazer/worker/runner"
	"github.com/aubravo/earthgazer/workflow"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hostname, _ := os.Hostname()
	logger.Info("worker starting",
		zap.String("worker_id", hostname),
		zap.Int("io_workers", cfg.IOWorkers),
		zap.Int("cpu_workers", cfg.CPUWorkers))

	pgpool, err := catalog.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer pgpool.Close()
	repo := catalog.NewPostgresRepo(pgpool)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal("apply schema", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	state := workflow.NewRedisState(redisClient)
	statusCache := tracker.NewStatusCache(redisClient)

	platforms, err := platform.Load(cfg.PlatformsPath)
	if err != nil {
		logger.Fatal("load platforms", zap.Error(err))
	}

	store := objectstore.NewFS(cfg.StoreRoot)
	artifacts := artifact.NewFS(cfg.FeaturesDir)
	imagery := platform.NewFileCatalog(cfg.SceneIndexDir)

	registry := units.NewRegistry()
	registry.Register(units.NewDiscover(repo, imagery, platforms, logger))
	registry.Register(units.NewBackup(repo, store, cfg.BackupBucket, logger))
	registry.Register(units.NewDownloadBands(repo, store, cfg.BackupBucket, cfg.DataDir, logger))
	registry.Register(units.NewStackAndCrop(artifacts, cfg.DataDir, logger))
	registry.Register(units.NewComputeNDVI(artifacts, cfg.FeaturesDir, logger))
	registry.Register(units.NewGenerateRGB(artifacts, cfg.FeaturesDir, logger))
	registry.Register(units.NewTemporalAnalysis(repo, cfg.FeaturesDir, logger))

	brokers := []string{cfg.KafkaBrokers}
	producer, err := queue.NewKafkaProducer(brokers)
	if err != nil {
		logger.Fatal("kafka producer", zap.Error(err))
	}
	defer producer.Close()

	engine := workflow.NewEngine(producer, state, repo, registry, logger)
	tr := tracker.New(repo, statusCache, hostname, logger)
	run := runner.New(registry, tr, engine, logger)

	lanes := []struct {
		lane    units.Lane
		workers int
	}{
		{units.LaneIO, cfg.IOWorkers},
		{units.LaneCPU, cfg.CPUWorkers},
	}

	errCh := make(chan error, len(lanes))
	for _, l := range lanes {
		l := l
		consumer, err := queue.NewConsumer(brokers, cfg.KafkaGroupID+"-"+string(l.lane), logger)
		if err != nil {
			logger.Fatal("kafka consumer", zap.String("lane", string(l.lane)), zap.Error(err))
		}
		defer consumer.Close()

		p := pool.New(l.workers)
		go func() {
			errCh <- consumer.Consume(ctx, string(l.lane), func(ctx context.Context, env *queue.Envelope) error {
				return p.Do(ctx, func(ctx context.Context) error {
					return run.Handle(ctx, env)
				})
			})
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("worker shutting down")
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Error("consumer stopped", zap.Error(err))
		}
	}
}
