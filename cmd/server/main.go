package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/config"
	"storefront/internal/api"
	"storefront/internal/broker"
	"storefront/internal/bus"
	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/store"
	"storefront/internal/textgen"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting storefront")

	tp, err := util.InitTracer("storefront", cfg.Observ.JaegerEndpoint, cfg.Observ.TracingEnabled)
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

	st, ready, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal("Failed to open store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}
	defer closeStore()
	logger.Info("Store ready", zap.String("backend", cfg.Store.Backend))

	eventBus := bus.New(logger.Named("bus"))

	var gen textgen.Generator
	if cfg.TextGen.Endpoint != "" {
		gen = textgen.NewHTTPGenerator(cfg.TextGen.Endpoint, cfg.TextGen.Timeout)
	}
	writer := textgen.NewSafe(gen, logger.Named("textgen"))

	catalog := service.NewCatalogService(st, logger)
	sales := service.NewSalesService(st, logger)
	identity := service.NewIdentityService(st)
	marketing := service.NewMarketingService(st)
	discounts := service.NewDiscountService(st)

	saga := service.NewSagaOrchestrator(catalog, sales, discounts, eventBus, cfg.Business.TaxRate, logger.Named("saga"))
	chat := service.NewChatSessionManager(st, eventBus, writer, cfg.TextGen.FallbackAnswer, logger.Named("chat"))
	storefront := service.NewStorefrontService(catalog, sales, identity, eventBus, writer, cfg.TextGen.FallbackDescription, logger)

	marketingWorker := worker.NewMarketingWorker(eventBus, marketing, cfg.Business.MarketingQueueSize, logger.Named("marketing"))
	inbox := worker.NewInboxPoller(chat, eventBus, cfg.Business.ChatPollInterval, logger.Named("inbox"))
	toasts := worker.NewToastNotifier(eventBus, 500, logger.Named("toasts"))
	workers := []worker.Worker{marketingWorker, inbox, toasts}

	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("kafka"))
		defer producer.Close()
		relay := broker.NewEventRelay(eventBus, producer, models.AllTopics, cfg.Business.MarketingQueueSize, logger.Named("relay"))
		workers = append(workers, relay)
		logger.Info("Kafka event relay enabled", zap.String("topic", cfg.Kafka.Topic))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	group := worker.NewGroup(logger, workers...)
	group.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Saga:       saga,
		Storefront: storefront,
		Catalog:    catalog,
		Sales:      sales,
		Chat:       chat,
		Toasts:     toasts,
		Inbox:      inbox,
	}, ready)
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

	workerCancel()
	group.Stop()

	logger.Info("Server exited")
}

// openStore connects the configured backend and returns it with a
// readiness probe and a close func.
func openStore(cfg *config.Config) (store.Store, func(context.Context) error, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		rs, err := store.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, nil, err
		}
		ready := func(ctx context.Context) error { return rs.GetClient().Ping(ctx).Err() }
		return rs, ready, func() { _ = rs.Close() }, nil
	case "postgres":
		ps, err := store.NewPostgresStore(cfg.Database.URL)
		if err != nil {
			return nil, nil, nil, err
		}
		ready := func(ctx context.Context) error { return ps.GetDB().PingContext(ctx) }
		return ps, ready, func() { _ = ps.Close() }, nil
	case "memory", "":
		return store.NewMemoryStore(), nil, func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
