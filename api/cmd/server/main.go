package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aubravo/earthgazer/api/handlers"
	"github.com/aubravo/earthgazer/api/middleware"
	"github.com/aubravo/earthgazer/api/service"
	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/config"
	"github.com/aubravo/earthgazer/queue"
	"github.com/aubravo/earthgazer/units"
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

	producer, err := queue.NewKafkaProducer([]string{cfg.KafkaBrokers})
	if err != nil {
		logger.Fatal("kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// The API only routes envelopes, it never executes units, so the registry
	// here registers lane metadata through the same constructors with nil
	// dependencies kept out of the execution path.
	registry := units.NewRegistry()
	registry.Register(units.NewDiscover(repo, nil, nil, logger))
	registry.Register(units.NewBackup(repo, nil, cfg.BackupBucket, logger))
	registry.Register(units.NewDownloadBands(repo, nil, cfg.BackupBucket, cfg.DataDir, logger))
	registry.Register(units.NewStackAndCrop(nil, cfg.DataDir, logger))
	registry.Register(units.NewComputeNDVI(nil, cfg.FeaturesDir, logger))
	registry.Register(units.NewGenerateRGB(nil, cfg.FeaturesDir, logger))
	registry.Register(units.NewTemporalAnalysis(repo, cfg.FeaturesDir, logger))

	engine := workflow.NewEngine(producer, state, repo, registry, logger)
	composer := workflow.NewComposer(repo, engine, state, cfg.DiscoveryWait, cfg.BackupWait, logger)
	svc := service.New(repo, composer)

	mux := http.NewServeMux()
	handlers.New(svc, logger).Register(mux)

	var handler http.Handler = mux
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Recovery(logger)(handler)
	handler = middleware.TraceID(handler)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}
