package server

import (
	"net/http"
	"time"

	"taskflow/backend/internal/authz"
	"taskflow/backend/internal/handlers"
	"taskflow/backend/internal/middleware"
	"taskflow/backend/internal/monitoring"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	Auth      *handlers.AuthHandler
	Users     *handlers.UserHandler
	Tasks     *handlers.TaskHandler
	Dashboard *handlers.DashboardHandler
	Audit     *handlers.AuditHandler
}

type RouterOptions struct {
	Logger         *logrus.Logger
	Monitor        *monitoring.Monitor
	Tokens         middleware.TokenParser
	Auditor        *authz.Auditor
	AllowedOrigins []string
	// Limiter is optional. Requests are not rate limited when it is nil.
	Limiter *middleware.RateLimiter
}

// NewRouter mounts every route. Each protected route names the single
// capability it needs. Ownership checks happen in the services.
func NewRouter(h Handlers, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.RecoveryWithLog(opts.Logger))
	router.Use(middleware.RequestLogger(opts.Logger))
	router.Use(opts.Monitor.Middleware())
	router.Use(cors.New(corsConfig(opts.AllowedOrigins)))
	if opts.Limiter != nil {
		router.Use(opts.Limiter.Middleware())
	}

	router.GET("/health", opts.Monitor.HealthHandler())
	router.GET("/ready", opts.Monitor.ReadinessHandler())
	router.GET("/live", opts.Monitor.LivenessHandler())
	router.GET("/metrics", opts.Monitor.MetricsHandler())

	need := func(c authz.Capability) gin.HandlerFunc {
		return middleware.RequireCapability(c, opts.Auditor)
	}

	api := router.Group("/api")

	auth := api.Group("/auth")
	{
		auth.POST("/signup", h.Auth.Signup)
		auth.POST("/login", h.Auth.Login)
		auth.POST("/refresh", h.Auth.Refresh)
		auth.POST("/forgot-password", h.Auth.ForgotPassword)
		auth.GET("/reset-password", h.Auth.VerifyResetCode)
		auth.POST("/reset-password", h.Auth.ResetPassword)
		auth.POST("/logout", middleware.Authenticate(opts.Tokens), h.Auth.Logout)
	}

	protected := api.Group("")
	protected.Use(middleware.Authenticate(opts.Tokens))
	{
		protected.GET("/session", h.Auth.Session)
		protected.GET("/dashboard", h.Dashboard.Dashboard)
		protected.GET("/dashboard/overview", need(authz.DashboardOverview), h.Dashboard.Overview)

		protected.GET("/profile", need(authz.ProfileRead), h.Dashboard.GetProfile)
		protected.PUT("/profile", need(authz.ProfileUpdate), h.Dashboard.UpdateProfile)

		protected.GET("/users", need(authz.UsersRead), h.Users.GetUsers)
		protected.POST("/users", need(authz.UsersManage), h.Users.CreateUser)
		protected.GET("/users/:id", need(authz.UsersRead), h.Users.GetUserByID)
		protected.PUT("/users/:id", need(authz.UsersManage), h.Users.UpdateUser)
		protected.DELETE("/users/:id", need(authz.UsersManage), h.Users.DeleteUser)

		protected.GET("/tasks", need(authz.TasksReadAll), h.Tasks.GetTasks)
		protected.POST("/tasks", need(authz.TasksManage), h.Tasks.CreateTask)
		protected.GET("/tasks/:id", need(authz.TasksReadAssigned), h.Tasks.GetTaskByID)
		protected.PUT("/tasks/:id", need(authz.TasksManage), h.Tasks.UpdateTask)
		protected.DELETE("/tasks/:id", need(authz.TasksManage), h.Tasks.DeleteTask)
		protected.PATCH("/tasks/:id/status", need(authz.TasksUpdateStatus), h.Tasks.UpdateTaskStatus)
		protected.GET("/my/tasks", need(authz.TasksReadAssigned), h.Tasks.GetMyTasks)

		protected.GET("/audit-logs", need(authz.UsersManage), h.Audit.GetAuditLogs)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "route not found"})
	})

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}
