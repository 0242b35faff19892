// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bidwire/goofspiel/internal/auth"
	"github.com/bidwire/goofspiel/internal/config"
	"github.com/bidwire/goofspiel/internal/handlers"
	"github.com/bidwire/goofspiel/internal/middleware"
	"github.com/bidwire/goofspiel/internal/profiles"
	"github.com/bidwire/goofspiel/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	auth.Init()
	ctx := context.Background()

	var st store.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		rs, err := store.NewRedisStore(ctx, client, logger)
		if err != nil {
			logger.Fatalf("redis store: %v", err)
		}
		defer rs.Close()
		st = rs
		logger.Infof("using redis store at %s", cfg.RedisAddr)
	} else {
		st = store.NewMemoryStore()
		logger.Info("using in-memory store")
	}

	var repo profiles.Repository
	if cfg.DatabaseURL != "" {
		pg, err := profiles.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres profiles: %v", err)
		}
		defer pg.Close()
		repo = pg
		logger.Info("using postgres profiles")
	} else {
		repo = profiles.NewStoreRepository(st)
		logger.Info("using store-backed profiles")
	}

	srv := &handlers.Server{
		Store:    st,
		Profiles: repo,
		Logger:   logger,
		Config:   cfg,
	}

	mux := http.NewServeMux()
	srv.Routes(mux)
	handler := middleware.LogMiddleware(logger)(mux)

	logger.Infof("Running on %s", cfg.Addr())
	if err := http.ListenAndServe(cfg.Addr(), handler); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
