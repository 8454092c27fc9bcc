package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beatdrop/battles-backend/api/routes"
	"github.com/beatdrop/battles-backend/internal/battles"
	"github.com/beatdrop/battles-backend/internal/beats"
	"github.com/beatdrop/battles-backend/internal/flames"
	"github.com/beatdrop/battles-backend/internal/leaderboard"
	"github.com/beatdrop/battles-backend/internal/users"
	"github.com/beatdrop/battles-backend/internal/votes"
	"github.com/beatdrop/battles-backend/pkg/config"
	"github.com/beatdrop/battles-backend/pkg/db"
	"github.com/beatdrop/battles-backend/pkg/instance"
	"github.com/beatdrop/battles-backend/pkg/logger"
	"github.com/beatdrop/battles-backend/pkg/metrics"
	"github.com/beatdrop/battles-backend/pkg/migrate"
	"github.com/beatdrop/battles-backend/pkg/outbox"
	"github.com/beatdrop/battles-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Instance:    instance.ID(),
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	battleMetrics := metrics.NewBattleMetrics(registry)

	conn := dbClient.DB()
	outboxService := outbox.NewService(outbox.NewRepository(conn), logg)
	battleRepo := battles.NewRepository(conn)
	userRepo := users.NewRepository(conn)

	flameService, err := flames.NewService(flames.ServiceParams{
		Repo:   flames.NewRepository(conn),
		TX:     dbClient,
		Outbox: outboxService,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create flames service", err)
		os.Exit(1)
	}

	battleService, err := battles.NewService(battles.ServiceParams{
		Repo:           battleRepo,
		TX:             dbClient,
		Outbox:         outboxService,
		Beats:          beats.NewRepository(conn),
		Users:          userRepo,
		Flames:         flameService,
		Metrics:        battleMetrics,
		Logger:         logg,
		VotingWindow:   cfg.Battles.VotingWindow,
		MaxTitleLength: cfg.Battles.MaxTitleLength,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create battles service", err)
		os.Exit(1)
	}

	voteService, err := votes.NewService(votes.ServiceParams{
		Repo:     votes.NewRepository(conn),
		Battles:  battleRepo,
		TX:       dbClient,
		Flames:   flameService,
		Outbox:   outboxService,
		Metrics:  battleMetrics,
		Logger:   logg,
		VoteCost: cfg.Battles.VoteCostFlames,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create votes service", err)
		os.Exit(1)
	}

	leaderboardService, err := leaderboard.NewService(leaderboard.ServiceParams{
		Battles:  battleRepo,
		Users:    userRepo,
		Cache:    redisClient,
		Metrics:  battleMetrics,
		Logger:   logg,
		CacheTTL: cfg.Leaderboard.CacheTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create leaderboard service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			battleService,
			voteService,
			flameService,
			leaderboardService,
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}
