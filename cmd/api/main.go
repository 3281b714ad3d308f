package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/atendolive/atendo/backend/internal/config"
	"github.com/atendolive/atendo/backend/internal/handler"
	"github.com/atendolive/atendo/backend/internal/hub"
	"github.com/atendolive/atendo/backend/internal/monitor"
	authservice "github.com/atendolive/atendo/backend/internal/service/auth"
	chatservice "github.com/atendolive/atendo/backend/internal/service/chat"
	settingsservice "github.com/atendolive/atendo/backend/internal/service/settings"
	usersservice "github.com/atendolive/atendo/backend/internal/service/users"
	"github.com/atendolive/atendo/backend/internal/storage"
	filestore "github.com/atendolive/atendo/backend/internal/storage/file"
	memorystore "github.com/atendolive/atendo/backend/internal/storage/memory"
	"github.com/atendolive/atendo/backend/internal/storage/postgres"
	"github.com/atendolive/atendo/backend/internal/storage/redisstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logrus.New()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.WithError(err).Warn("no .env file loaded, continuing with system environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	store, err := openStore(ctx, cfg.Storage, log)
	if err != nil {
		log.WithError(err).Fatal("failed to open storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Warn("closing storage failed")
		}
	}()

	chats := chatservice.NewService(store)
	auth := authservice.NewService(store)
	users := usersservice.NewService(store)
	settings := settingsservice.NewService(store)

	h := hub.New(chats, log)
	mon := monitor.New(chats, settings, h, cfg.Monitor.Interval, log)

	router := handler.NewRouter(handler.Services{
		Chats:    chats,
		Auth:     auth,
		Users:    users,
		Settings: settings,
		Hub:      h,
	}, log)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.WithField("addr", cfg.Server.Addr).Info("backend listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := mon.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("server error")
	}
}

// openStore picks the persistence backend from configuration, the way
// the deployment this replaces selected its storage module.
func openStore(ctx context.Context, cfg config.StorageConfig, log *logrus.Logger) (storage.Store, error) {
	log.WithField("type", cfg.Type).Info("initializing storage")

	switch cfg.Type {
	case "memory", "inmemory":
		return memorystore.New(), nil

	case "file", "lowdb":
		return filestore.Open(cfg.FilePath)

	case "redis":
		return redisstore.Open(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

	case "postgres", "postgresql":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required for postgres storage")
		}
		return postgres.Open(cfg.PostgresDSN)

	default:
		log.WithField("type", cfg.Type).Warn("unknown database type, falling back to file storage")
		return filestore.Open(cfg.FilePath)
	}
}
