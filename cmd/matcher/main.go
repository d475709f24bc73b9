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
	"github.com/heartline/server/internal/database"
	"github.com/heartline/server/internal/logger"
	"github.com/heartline/server/internal/matching"
	"github.com/heartline/server/internal/messaging"
	"github.com/heartline/server/internal/metrics"
	"github.com/heartline/server/internal/profile"
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

	lg.Info("starting heartline matching service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := database.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpen)
	cancel()
	if err != nil {
		lg.Fatal("connecting to postgres", zap.Error(err))
	}
	defer db.Close()

	// Redis is only needed for the suspension lookups.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		cancel()
		lg.Fatal("connecting to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	cancel()
	defer rdb.Close()

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATS.URL
	natsConfig.Name = cfg.NATS.Name + "-matcher"
	nc, err := messaging.NewNATSClient(natsConfig, lg)
	if err != nil {
		lg.Fatal("connecting to nats", zap.Error(err))
	}
	defer nc.Close()

	svc := matching.NewService(profile.NewStore(db), lg,
		matching.WithExcluder(suspension.NewStore(rdb)),
		matching.WithNATS(nc),
		matching.WithWorkers(cfg.Matching.Workers),
		matching.WithRequestTimeout(cfg.Matching.Timeout),
	)
	if err := svc.Start(); err != nil {
		lg.Fatal("starting matching service", zap.Error(err))
	}

	go serveMetrics(cfg.HTTP.MetricsAddr, lg)

	lg.Info("heartline matching service running",
		zap.String("nats_url", cfg.NATS.URL),
		zap.Int("workers", cfg.Matching.Workers),
		zap.String("metrics_addr", cfg.HTTP.MetricsAddr),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	lg.Info("shutting down", zap.String("signal", sig.String()))
}

func serveMetrics(addr string, lg *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		lg.Error("metrics listener", zap.Error(err))
	}
}
