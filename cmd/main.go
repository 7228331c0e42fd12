// leadflow-discovery-service — scheduled lead-discovery engine.
//
// Polls public discussion-board feeds on per-monitor timers, scores posts
// against each monitor's keyword model, persists qualifying leads and fans
// out alerts to a webhook and a Redis pub/sub channel.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"leadflow/discovery-service/internal/api"
	"leadflow/discovery-service/internal/config"
	"leadflow/discovery-service/internal/db"
	"leadflow/discovery-service/internal/feed"
	"leadflow/discovery-service/internal/model"
	"leadflow/discovery-service/internal/notify"
	"leadflow/discovery-service/internal/scheduler"
	"leadflow/discovery-service/internal/store"
)

func main() {
	godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("redis connect failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	st := store.NewPostgresStore(pool)

	dispatcher := notify.NewDispatcher(st, rdb)
	dispatcher.Start()

	// Seen-cache entries outlive the widest plausible age window so a feed
	// item never re-triggers the Postgres lookup while still filterable.
	seenTTL := 2 * time.Duration(model.DefaultMaxAgeHours) * time.Hour
	sched := scheduler.New(
		st, st,
		feed.NewFetcher(cfg.FeedBaseURL, cfg.FeedFormat),
		dispatcher,
		cfg.ReconcileMinutes,
		scheduler.WithSeenCache(store.NewSeenCache(rdb, seenTTL)),
	)
	if err := sched.Start(ctx); err != nil {
		slog.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	api.NewHandler(sched, st, st).RegisterRoutes(mux)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		slog.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}

	sched.Stop()
	dispatcher.Close()
}
