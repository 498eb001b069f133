package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/app"
	"github.com/ariefcatur/go-marketplace-settlement/internal/config"
	"github.com/ariefcatur/go-marketplace-settlement/internal/gateway"
	kafkax "github.com/ariefcatur/go-marketplace-settlement/internal/kafka"
	"github.com/ariefcatur/go-marketplace-settlement/internal/observability"
	"github.com/ariefcatur/go-marketplace-settlement/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if cfg.ServiceName == "settlement-api" {
		cfg.ServiceName = "settlement-worker"
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}

	rt, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("startup", zap.Error(err))
	}
	pctx, cancelProducer := context.WithCancel(context.Background())
	rt.Producer.Start(pctx)

	var dedup gateway.Dedup
	if rt.Redis != nil {
		dedup = redisx.NewDedup(rt.Redis, cfg.ServiceName)
	}
	h := gateway.NewHandler(rt.Service, dedup, &kafkax.Publisher{P: rt.Producer}, logger)
	h.Producer = cfg.ServiceName

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, gateway.Topics, cfg.WorkerCount, logger)
	logger.Info("gateway consumer started",
		zap.String("group", cfg.WorkerGroup), zap.Strings("topics", gateway.Topics), zap.Int("workers", cfg.WorkerCount))
	if err := cons.Start(ctx, h.Handle); err != nil {
		logger.Error("consumer exit", zap.Error(err))
	}

	logger.Info("shutting down consumer")
	rt.Close()
	rt.Producer.WaitClosed()
	cancelProducer()

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(sctx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
