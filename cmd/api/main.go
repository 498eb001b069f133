package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-marketplace-settlement/internal/app"
	"github.com/ariefcatur/go-marketplace-settlement/internal/config"
	"github.com/ariefcatur/go-marketplace-settlement/internal/httpx"
	"github.com/ariefcatur/go-marketplace-settlement/internal/observability"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

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

	router := httpx.NewRouter(logger)
	(&httpx.SettlementHandler{Service: rt.Service}).Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(sctx)
	rt.Close() // closes the producer inbox; the loop flushes and exits
	rt.Producer.WaitClosed()
	cancelProducer()
	if err := shutdownTracing(sctx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}
