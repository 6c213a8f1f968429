package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"expiry-compliance/config"
	"expiry-compliance/internal/api"
	"expiry-compliance/internal/broker"
	"expiry-compliance/internal/clock"
	"expiry-compliance/internal/database"
	"expiry-compliance/internal/engine"
	"expiry-compliance/internal/models"
	"expiry-compliance/internal/queue"
	"expiry-compliance/internal/redisclient"
	"expiry-compliance/internal/scheduler"
	"expiry-compliance/internal/service"
	"expiry-compliance/internal/store"
	"expiry-compliance/internal/util"
	"expiry-compliance/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting expiry compliance engine",
		zap.Strings("accounts", cfg.Engine.Accounts),
		zap.Duration("interval", cfg.Engine.Interval))

	tp, err := util.InitTracer("expiry-compliance", cfg.Observ.JaegerEndpoint, cfg.Observ.TraceSampleRatio)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	if err := db.EnsureSchema(context.Background()); err != nil {
		logger.Fatal("Failed to prepare database schema", zap.Error(err))
	}
	logger.Info("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicCompliance)
	defer producer.Close()
	eventPublisher := broker.NewEventPublisher(producer)
	logger.Info("Kafka producer initialized")

	zone, err := clock.NewZone(clock.Real{}, cfg.Engine.Settings.Timezone)
	if err != nil {
		logger.Fatal("Invalid engine timezone", zap.Error(err))
	}

	hub := api.NewHub()
	defer hub.Close()

	registry := engine.NewRegistry()
	latest := service.NewLatestBundles(redisClient)
	var mutationStores []*database.MutationStore

	for _, accountID := range cfg.Engine.Accounts {
		mutations, err := database.OpenMutationStore(queueDBPath(cfg.Queue.DBPath, accountID, len(cfg.Engine.Accounts)))
		if err != nil {
			logger.Fatal("Failed to open offline queue", zap.String("account_id", accountID), zap.Error(err))
		}
		mutationStores = append(mutationStores, mutations)

		e := buildEngine(cfg, accountID, zone, db, redisClient, eventPublisher, hub, latest, mutations)
		if err := registry.Register(e); err != nil {
			logger.Fatal("Failed to register engine", zap.Error(err))
		}
	}
	defer func() {
		for _, m := range mutationStores {
			m.Close()
		}
	}()

	for _, e := range registry.All() {
		if err := e.Start(context.Background()); err != nil {
			logger.Fatal("Failed to start engine", zap.String("account_id", e.AccountID()), zap.Error(err))
		}
		// replay a backlog persisted before the restart; an incomplete drain is retried on later ticks
		if _, err := e.Resume(context.Background()); err != nil {
			logger.Warn("Startup drain did not complete", zap.String("account_id", e.AccountID()), zap.Error(err))
		}
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	connectivityConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicConnectivity, cfg.Kafka.ConsumerGroup)
	connectivityWorker := worker.NewConnectivityWorker(connectivityConsumer, registry)
	go func() {
		if err := connectivityWorker.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Connectivity worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(registry, latest, hub, cfg.Engine.Accounts[0])
	handler.AddReadinessCheck("postgres", db.Ping)
	handler.AddReadinessCheck("redis", redisClient.Ping)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	registry.StopAll()
	workerCancel()
	connectivityWorker.Stop()

	logger.Info("Server exited")
}

func buildEngine(
	cfg *config.Config,
	accountID string,
	zone *clock.Zone,
	db *store.Store,
	redisClient *redisclient.Client,
	eventPublisher *broker.EventPublisher,
	hub *api.Hub,
	latest *service.LatestBundles,
	mutations *database.MutationStore,
) *engine.Engine {
	logger := util.GetLogger().With(zap.String("account_id", accountID))

	source := service.NewItemSource(db, accountID, cfg.Engine.Settings)
	sched := scheduler.New(scheduler.Config{
		Interval:     cfg.Engine.Interval,
		ResultBuffer: cfg.Engine.ResultBuffer,
	}, clock.Real{}, source, logger.Named("scheduler"))

	applier := service.NewMutationApplier(db, redisClient, accountID)
	q := queue.New(mutations, applier.Apply,
		queue.WithClock(zone),
		queue.WithLocker(redisclient.NewDrainLock(redisClient, accountID, cfg.Queue.DrainLockTTL)),
		queue.WithLogger(logger.Named("queue")),
		queue.WithOnline(cfg.Queue.StartOnline),
		queue.WithSyncedHook(func(ctx context.Context, m models.QueuedMutation) {
			if err := eventPublisher.PublishMutationSynced(ctx, accountID, m); err != nil {
				logger.Warn("Failed to publish mutation synced event", zap.Error(err))
			}
		}),
	)

	results := service.NewResultService(accountID, redisClient, eventPublisher, hub)
	latest.Add(accountID, results)

	return engine.New(accountID, sched, q, results.OnResult)
}

// queueDBPath gives every account its own queue file when more than one
// account is served
func queueDBPath(base, accountID string, accounts int) string {
	if accounts <= 1 {
		return base
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "-" + accountID + ext
}

