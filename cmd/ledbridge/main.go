package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"led-bridge/internal/config"
	"led-bridge/internal/httpapi"
	"led-bridge/internal/mqtt"
	"led-bridge/internal/realtime"
	"led-bridge/internal/relay"
	"led-bridge/internal/store"
)

func main() {
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{})
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{})
	}
	slog.SetDefault(slog.New(handler))

	cfgPath := ""
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := openStore(cfg)
	st.StartMonitor(ctx, 10*time.Second)

	mq, err := mqtt.New(cfg.MQTTBrokerURL, "led-bridge")
	if err != nil {
		slog.Error("invalid mqtt broker url", "url", cfg.MQTTBrokerURL, "error", err)
		os.Exit(1)
	}
	defer mq.Close()

	cache := relay.NewStateCache()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("redis unavailable, status mirror disabled", "error", err)
		} else {
			cache.AttachMirror(rdb)
			defer rdb.Close()
		}
	}

	hub := realtime.NewHub(nil)
	rly := relay.New(mq, cache, hub)
	hub.SetCommander(rly)
	rly.ConnectUpstream()

	devices := store.NewDeviceRegistry(st, mq)
	media := store.NewMediaCatalog(st, cfg.StorageRoot)

	srvAPI := httpapi.NewServer(devices, media, hub, rly, cfg.StorageRoot, cfg.MaxUploadBytes, cfg.JWTSecret)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: srvAPI.Router()}
	go func() {
		slog.Info("led-bridge started", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
	slog.Info("led-bridge stopped")
}

// openStore connects the durable tier; with the database down at boot the
// process still starts and every consumer runs its degrade path.
func openStore(cfg *config.Config) *store.Store {
	if cfg.Postgres.Host == "" {
		slog.Warn("no postgres host configured, running on fallback storage only")
		return store.NewUnavailable()
	}
	db, err := store.OpenPostgres(cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.DBName, cfg.Postgres.Host, cfg.Postgres.Port)
	if err != nil {
		slog.Warn("durable store unreachable at boot, running degraded", "error", err)
		return store.NewUnavailable()
	}
	st, err := store.New(db)
	if err != nil {
		slog.Warn("durable store migration failed, running degraded", "error", err)
		return store.NewUnavailable()
	}
	return st
}
