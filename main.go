package main

import (
	"context"
	"log"

	"referral-engine/internal/bootstrap"
	"referral-engine/internal/config"
	"referral-engine/internal/observability"
	"referral-engine/internal/server"
)

func main() {
	ctx := context.Background()
	logger := observability.NewLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	deps, err := bootstrap.Initialize(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize dependencies: %v", err)
	}

	srv := server.New(cfg, deps, logger)
	srv.Setup()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	if err := srv.WaitForShutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
