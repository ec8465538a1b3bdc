package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nhle/research-tracker/internal/credential"
	"github.com/nhle/research-tracker/internal/engine"
	"github.com/nhle/research-tracker/internal/localstore"
	"github.com/nhle/research-tracker/internal/model"
	"github.com/nhle/research-tracker/internal/remote"
)

func main() {
	var (
		configPath = flag.String("config", model.DefaultConfigPath(), "path to the config file")
		userID     = flag.String("user", "", "acting user id (remote mode)")
		userName   = flag.String("name", "", "acting user display name")
	)
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := model.LoadConfig(*configPath)
	if err != nil {
		log.Fatal("loading config", zap.Error(err))
	}

	log.Info("starting trackerd",
		zap.String("mode", cfg.Mode),
		zap.String("db", cfg.LocalDBPath),
	)

	local, err := localstore.New(cfg.LocalDBPath)
	if err != nil {
		log.Fatal("opening local store", zap.Error(err))
	}
	defer local.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var gateway remote.Gateway
	var pg *remote.PostgresGateway
	if cfg.Mode == model.ModeRemote {
		dsn := cfg.Remote.PostgresDSN
		if dsn == "" {
			// The DSN carries credentials, so it lives in the system
			// keyring rather than the YAML config.
			dsn, err = credential.Get(credential.KeyPostgresDSN)
			if err != nil {
				log.Fatal("reading postgres dsn from keyring", zap.Error(err))
			}
		}

		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Remote.RedisAddr,
			DB:   cfg.Remote.RedisDB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis unreachable, realtime updates disabled", zap.Error(err))
			rdb = nil
		}
		pingCancel()

		pg, err = remote.NewPostgresGateway(ctx, dsn, rdb, log)
		if err != nil {
			log.Fatal("connecting remote store", zap.Error(err))
		}
		defer pg.Close()
		gateway = pg
	}

	eng, err := engine.New(engine.Options{
		Local:   local,
		Gateway: gateway,
		User: model.User{
			ID:   *userID,
			Name: *userName,
		},
		Logger:            log,
		ScanInterval:      time.Duration(cfg.Engine.ScanIntervalSec) * time.Second,
		DebounceWindow:    time.Duration(cfg.Engine.DebounceMs) * time.Millisecond,
		RollbackOnFailure: cfg.Engine.RollbackOnFailure,
	})
	if err != nil {
		log.Fatal("creating engine", zap.Error(err))
	}

	if err := eng.Load(ctx); err != nil {
		log.Fatal("loading state", zap.Error(err))
	}
	if err := eng.LoadToday(ctx); err != nil {
		log.Warn("loading today checklist", zap.Error(err))
	}
	if err := eng.Start(ctx); err != nil {
		log.Fatal("starting engine", zap.Error(err))
	}

	go func() {
		for notice := range eng.Notices() {
			log.Info("notice",
				zap.String("level", notice.Level),
				zap.String("message", notice.Message),
			)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		log.Info("metrics endpoint listening", zap.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown", zap.Error(err))
	}

	eng.Close()
	log.Info("trackerd stopped")
}
