package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"atms/identity/internal/app"
	"atms/identity/internal/config"
	"atms/identity/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zlog, err := logger.Init(logger.Config{Level: cfg.LogLevel, Dev: cfg.LogDev || cfg.IsDevelopment(), File: cfg.LogFile})
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	zlog.Info("atms identity starting", zap.String("env", cfg.Env), zap.String("store", cfg.StoreBackend), zap.String("nonces", cfg.NonceBackend))
	if err := a.Run(ctx); err != nil {
		zlog.Error("server stopped", zap.Error(err))
	}
}
