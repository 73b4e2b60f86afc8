package server

import (
	"context"
	"fmt"
	"slices"
	"time"

	"taskflow/backend/internal/authz"
	"taskflow/backend/internal/config"
	"taskflow/backend/internal/database"
	"taskflow/backend/internal/handlers"
	"taskflow/backend/internal/identity"
	"taskflow/backend/internal/middleware"
	"taskflow/backend/internal/monitoring"
	"taskflow/backend/internal/notify"
	"taskflow/backend/internal/repositories"
	"taskflow/backend/internal/services"
	"taskflow/backend/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	auditBuffer     = 512
	cleanupInterval = time.Hour
)

// Infra is the set of open connections an App is built on. The SQL pool
// always holds identity records and the audit log. Directory may be backed by
// the same pool or by Mongo.
type Infra struct {
	Pool      *database.DatabasePool
	Redis     *redis.Client
	Directory repositories.DirectoryStore
}

type App struct {
	Router  *gin.Engine
	Monitor *monitoring.Monitor
	Users   services.UserService
	Tasks   services.TaskService
	Tokens  *identity.TokenIssuer

	cfg      *config.Config
	logger   *logrus.Logger
	infra    Infra
	auditor  *authz.Auditor
	limiter  *middleware.RateLimiter
	worker   *worker.Worker
	jobs     *worker.JobQueue
	cancel   context.CancelFunc
	jobQueue string
}

func NewApp(cfg *config.Config, logger *logrus.Logger, infra Infra) (*App, error) {
	if infra.Pool == nil || infra.Redis == nil || infra.Directory == nil {
		return nil, fmt.Errorf("incomplete infrastructure")
	}
	db := infra.Pool.DB

	throttle := identity.NewLoginThrottle(infra.Redis, cfg.Auth.MaxLoginFailures, cfg.Auth.LoginLockout)
	accounts := identity.NewAccountStore(db, cfg.Auth, throttle)
	tokens := identity.NewTokenIssuer(db, cfg.Auth, identity.NewRevocationList(infra.Redis))
	auditor := authz.NewAuditor(db, logger, auditBuffer)

	app := &App{
		Monitor: monitoring.NewMonitor(),
		Tokens:  tokens,
		cfg:     cfg,
		logger:  logger,
		infra:   infra,
		auditor: auditor,
		jobs:    worker.NewJobQueue(infra.Redis, cfg.Worker.MaxTries),
	}

	delivery := notify.NewBreakerNotifier(
		notify.NewLogNotifier(logger, cfg.Notification.From, cfg.Notification.Latency),
		notify.DefaultBreakerSettings(),
		logger,
	)
	var notifier notify.Notifier = delivery
	if cfg.Notification.Mode == "queue" {
		notifier = notify.NewQueuedNotifier(app.jobs, cfg.Notification.Queue)
	}
	app.worker = app.newWorker(delivery)

	users := services.NewUserService(infra.Directory, accounts, cfg.Auth.MinPasswordLen, logger)
	tasks := services.NewTaskService(infra.Directory, infra.Directory, notifier, cfg.Directory.SortedAssigneeQuery, logger)
	sessions := services.NewSessionService(users, infra.Directory, accounts, tokens, notifier, cfg.Auth.ResetURL, logger)
	dashboard := services.NewDashboardService(tasks, infra.Directory)
	app.Users = users
	app.Tasks = tasks

	if cfg.RateLimit.Enabled {
		app.limiter = middleware.NewRateLimiter(cfg.RateLimit)
	}

	app.registerChecks()

	app.Router = NewRouter(Handlers{
		Auth:      handlers.NewAuthHandler(sessions),
		Users:     handlers.NewUserHandler(users),
		Tasks:     handlers.NewTaskHandler(tasks),
		Dashboard: handlers.NewDashboardHandler(dashboard, sessions),
		Audit:     handlers.NewAuditHandler(auditor),
	}, RouterOptions{
		Logger:         logger,
		Monitor:        app.Monitor,
		Tokens:         tokens,
		Auditor:        auditor,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Limiter:        app.limiter,
	})

	return app, nil
}

// newWorker builds the job consumer. Queued notifications are delivered
// through delivery. The cleanup job purges expired identity records.
func (a *App) newWorker(delivery notify.Notifier) *worker.Worker {
	queues := slices.Clone(a.cfg.Worker.Queues)
	if !slices.Contains(queues, a.cfg.Notification.Queue) {
		queues = append(queues, a.cfg.Notification.Queue)
	}
	a.jobQueue = queues[0]

	w := worker.NewWorker(worker.WorkerConfig{
		RedisClient:  a.infra.Redis,
		Logger:       a.logger,
		PollInterval: a.cfg.Worker.PollInterval,
		RetryBase:    a.cfg.Worker.RetryBase,
		Queues:       queues,
	})
	notify.RegisterHandlers(w, delivery)
	w.RegisterHandler(worker.JobTypeCleanup, func(ctx context.Context, job *worker.Job) error {
		n, err := a.Tokens.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		a.logger.WithField("purged", n).Info("expired identity records removed")
		return nil
	})
	return w
}

func (a *App) registerChecks() {
	a.Monitor.RegisterHealthCheck("database", func(ctx context.Context) error {
		return a.infra.Pool.Health()
	})
	a.Monitor.RegisterHealthCheck("directory", a.infra.Directory.Ping)
	a.Monitor.RegisterHealthCheck("redis", func(ctx context.Context) error {
		return database.PingRedis(ctx, a.infra.Redis)
	})
	a.Monitor.RegisterGauge("users_total", a.infra.Directory.CountUsers)
	a.Monitor.RegisterGauge("notification_queue_depth", func(ctx context.Context) (int64, error) {
		return a.jobs.GetQueueSize(ctx, a.cfg.Notification.Queue)
	})
	a.Monitor.RegisterGauge("jobs_processed", func(context.Context) (int64, error) {
		processed, _ := a.worker.Counters()
		return processed, nil
	})
	a.Monitor.RegisterGauge("jobs_failed", func(context.Context) (int64, error) {
		_, failed := a.worker.Counters()
		return failed, nil
	})
}

// Bootstrap creates the configured administrator when it does not exist yet.
func (a *App) Bootstrap(ctx context.Context) error {
	if a.cfg.Auth.AdminEmail == "" || a.cfg.Auth.AdminPassword == "" {
		return nil
	}
	admin, err := a.Users.EnsureAdmin(ctx, a.cfg.Auth.AdminName, a.cfg.Auth.AdminEmail, a.cfg.Auth.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin: %w", err)
	}
	a.logger.WithFields(logrus.Fields{"user_id": admin.ID, "email": admin.Email}).Info("admin account ready")
	return nil
}

// Start launches the job worker and the periodic maintenance loops.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.worker.Start(a.cfg.Worker.Concurrency)
	if a.limiter != nil {
		go a.limiter.Run(ctx)
	}
	go a.scheduleCleanup(ctx)
}

func (a *App) scheduleCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.jobs.Enqueue(ctx, a.jobQueue, worker.JobTypeCleanup, struct{}{}); err != nil {
				a.logger.WithError(err).Warn("failed to enqueue cleanup job")
			}
		}
	}
}

// Close stops background work and flushes the audit log. Connections in
// Infra are left to their owner.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
		a.worker.Stop()
	}
	a.auditor.Close()
}
