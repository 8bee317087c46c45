package main

import (
	"context"
	"fmt"
	"log"

	"stock-analysis-webui/core"
)

func main() {
	cfg := core.Load()
	ctx := context.Background()

	logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	userRepo := core.NewPgUserRepository(db)
	if err := core.BootstrapAdmin(ctx, userRepo, cfg); err != nil {
		log.Fatalf("bootstrap admin failed: %v", err)
	}

	sessions := core.NewSessionStore(cfg.SessionTTL)
	go sessions.RunSweeper(ctx, cfg.SessionSweepInterval)

	resolver := core.NewCredentialResolver(userRepo, cfg.WebUIUsername, cfg.WebUIPassword)
	auth := core.NewAuthManager(sessions, resolver, cfg.SessionTTL)

	deps := core.RouterDeps{
		Users:            userRepo,
		Tasks:            core.NewPgTaskRepository(db),
		CustomTasks:      core.NewPgCustomTaskRepository(db),
		Watchlists:       core.NewPgWatchlistRepository(db),
		LegacyWatchlists: core.NewEnvWatchlistRepository(cfg.EnvFile),
		Queue:            core.NewRedisQueue(redisClient),
		Metrics:          core.NewMetricsService(redisClient),
	}
	router := core.NewRouter(cfg, auth, sessions, deps)

	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	log.Printf("starting api server on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
