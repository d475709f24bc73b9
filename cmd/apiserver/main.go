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
	"golang.org/x/sync/errgroup"

	"github.com/heartline/server/internal/api"
	"github.com/heartline/server/internal/auth"
	"github.com/heartline/server/internal/chat"
	"github.com/heartline/server/internal/config"
	"github.com/heartline/server/internal/database"
	"github.com/heartline/server/internal/logger"
	"github.com/heartline/server/internal/matching"
	"github.com/heartline/server/internal/messaging"
	"github.com/heartline/server/internal/moderation"
	"github.com/heartline/server/internal/profile"
	"github.com/heartline/server/internal/ratelimit"
	"github.com/heartline/server/internal/report"
	"github.com/heartline/server/internal/suspension"
	"github.com/heartline/server/internal/ws"
)

func main() {
	cfg, err := config.Load(os.Getenv("HEARTLINE_CONFIG"))
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	lg, err := logger.New(cfg.Log.JSON, cfg.Log.Debug)
	if err != nil {
		log.Fatalf("creating logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- PostgreSQL ---
	db, err := database.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpen)
	if err != nil {
		lg.Fatal("connecting to postgres", zap.Error(err))
	}
	defer db.Close()
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			lg.Fatal("applying migrations", zap.Error(err))
		}
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		lg.Fatal("connecting to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	cancel()
	defer rdb.Close()

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATS.URL
	natsConfig.Name = cfg.NATS.Name + "-api"
	nc, err := messaging.NewNATSClient(natsConfig, lg)
	if err != nil {
		lg.Fatal("connecting to nats", zap.Error(err))
	}
	defer nc.Close()

	profiles := profile.NewStore(db)
	suspensions := suspension.NewStore(rdb)
	limiter := ratelimit.NewLimiter(rdb, lg)
	filter := moderation.NewFilter()
	authn := auth.NewAuthenticator(
		auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		auth.NewSessionStore(rdb),
	)
	chats := chat.NewService(chat.NewStore(db), chat.NewRecentCache(rdb), profiles, nc, filter, lg)

	var finder api.MatchFinder
	if cfg.Matching.Remote {
		finder = matching.NewRemoteClient(nc, messaging.SubjectMatchFind, cfg.Matching.Timeout)
	} else {
		finder = matching.NewService(profiles, lg,
			matching.WithExcluder(suspensions),
			matching.WithWorkers(cfg.Matching.Workers),
		)
	}

	hub := ws.NewHub(ws.DefaultConfig(), authn, nc, lg)
	hub.RegisterChatHandlers(chats, limiter)

	proxies, err := api.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		lg.Fatal("parsing trusted proxies", zap.Error(err))
	}

	srv := api.NewServer(api.Deps{
		Users:       profiles,
		Sessions:    authn,
		Matches:     finder,
		Chats:       chats,
		Reports:     report.NewStore(db),
		Suspensions: suspensions,
		Limiter:     limiter,
		Filter:      filter,
		Stream:      hub,
		DB:          db,
		Logger:      lg,

		TrustedProxies: proxies,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	lg.Info("heartline api starting",
		zap.String("addr", cfg.HTTP.Addr),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("nats_url", cfg.NATS.URL),
		zap.Bool("remote_matching", cfg.Matching.Remote),
		zap.Int("match_workers", cfg.Matching.Workers),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := hub.Shutdown(shutdownCtx); err != nil {
			lg.Warn("stream shutdown", zap.Error(err))
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		lg.Error("server error", zap.Error(err))
	}
}
