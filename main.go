package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"taskflow/backend/internal/config"
	"taskflow/backend/internal/database"
	"taskflow/backend/internal/logging"
	"taskflow/backend/internal/repositories"
	"taskflow/backend/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log, "taskflow")
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	pool, err := database.NewDatabasePool(database.PoolConfigFrom(cfg, logger))
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.MigrateIdentity(pool.DB); err != nil {
		return fmt.Errorf("failed to migrate identity tables: %w", err)
	}

	directory, err := openDirectory(ctx, cfg, pool, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := directory.Close(context.Background()); err != nil {
			logger.WithError(err).Warn("failed to close directory")
		}
	}()

	rdb := database.NewRedisClient(cfg.Redis, cfg.GetRedisAddr())
	defer rdb.Close()
	if err := database.PingRedis(ctx, rdb); err != nil {
		return err
	}

	app, err := server.NewApp(cfg, logger, server.Infra{Pool: pool, Redis: rdb, Directory: directory})
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Bootstrap(ctx); err != nil {
		return err
	}
	app.Start(ctx)

	srv := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      app.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":      srv.Addr,
			"directory": cfg.Directory.Backend,
			"notify":    cfg.Notification.Mode,
		}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openDirectory(ctx context.Context, cfg *config.Config, pool *database.DatabasePool, logger *logrus.Logger) (repositories.DirectoryStore, error) {
	if cfg.Directory.Backend != "mongo" {
		if err := database.MigrateDirectory(pool.DB); err != nil {
			return nil, fmt.Errorf("failed to migrate directory tables: %w", err)
		}
		return repositories.NewGormStore(pool.DB), nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Directory.MongoConnectTimeout)
	defer cancel()
	client, err := repositories.ConnectMongo(connectCtx, cfg.Directory.MongoURI)
	if err != nil {
		return nil, err
	}
	store := repositories.NewMongoStore(client, cfg.Directory.MongoDatabase)
	if err := store.EnsureIndexes(connectCtx); err != nil {
		if !errors.Is(err, repositories.ErrAssigneeIndex) {
			_ = store.Close(context.Background())
			return nil, err
		}
		logger.WithError(err).Warn("assignee queries will be sorted in memory")
	}
	return store, nil
}
