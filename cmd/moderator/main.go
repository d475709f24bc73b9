package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/heartline/server/internal/config"
	"github.com/heartline/server/internal/logger"
	"github.com/heartline/server/internal/messaging"
	"github.com/heartline/server/internal/metrics"
	"github.com/heartline/server/internal/moderation"
	"github.com/heartline/server/internal/suspension"
)

func main() {
	cfg, err := config.Load(os.Getenv("HEARTLINE_CONFIG"))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	lg, err := logger.New(cfg.Log.JSON, cfg.Log.Debug)
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer lg.Sync()

	lg.Info("starting heartline moderation service")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		lg.Fatal("connecting to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	cancel()
	defer rdb.Close()

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATS.URL
	natsConfig.Name = cfg.NATS.Name + "-moderator"
	nc, err := messaging.NewNATSClient(natsConfig, lg)
	if err != nil {
		lg.Fatal("connecting to nats", zap.Error(err))
	}
	defer nc.Close()

	moderator := moderation.NewModerator(moderation.NewFilter(), suspension.NewStore(rdb), nc, lg)
	if err := nc.SubscribeModerationCheck(func(data []byte) {
		moderator.Handle(data)
	}); err != nil {
		lg.Fatal("subscribing to moderation checks", zap.Error(err))
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.HTTP.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("metrics listener", zap.Error(err))
		}
	}()

	lg.Info("heartline moderation service running",
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("nats_url", cfg.NATS.URL),
		zap.String("metrics_addr", cfg.HTTP.MetricsAddr),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	lg.Info("shutting down", zap.String("signal", sig.String()))
}
