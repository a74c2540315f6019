package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/learnhub/admission-api/api/swagger"
	"github.com/learnhub/admission-api/internal/handler"
	"github.com/learnhub/admission-api/internal/middleware"
	"github.com/learnhub/admission-api/internal/models"
	"github.com/learnhub/admission-api/internal/repository"
	"github.com/learnhub/admission-api/internal/service"
	"github.com/learnhub/admission-api/pkg/cache"
	"github.com/learnhub/admission-api/pkg/config"
	"github.com/learnhub/admission-api/pkg/database"
	"github.com/learnhub/admission-api/pkg/logger"
	corsmiddleware "github.com/learnhub/admission-api/pkg/middleware/cors"
	reqidmiddleware "github.com/learnhub/admission-api/pkg/middleware/requestid"
)

// @title LearnHub Admission API
// @version 1.0.0
// @description Cohort admission control: scoring, capacity, decisions, waitlist migration, and the payment gate.
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()

	// Repositories.
	applicationRepo := repository.NewApplicationRepository(db)
	cohortRepo := repository.NewCohortRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	migrationRepo := repository.NewMigrationRepository(db)
	jobStore := repository.NewJobStore(redisClient, cfg.Migrations.JobTTL)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(service.AuthConfig{Secret: cfg.JWT.Secret, Expiry: cfg.JWT.Expiration})
	scoreEngine := service.NewScoreEngine()
	capacitySvc := service.NewCapacityService(cohortRepo, cacheRepo, cfg.Admission.CapacityCacheTTL, logr)

	var notifySvc *service.NotificationService
	if cfg.Notifications.Enabled {
		notifySvc = service.NewNotificationService(service.NewLogDispatcher(logr), cfg.Notifications, logr)
		notifySvc.Start(ctx)
		defer notifySvc.Stop()
	}

	paymentSvc := service.NewPaymentService(enrollmentRepo, applicationRepo, cohortRepo, metricsSvc, notifySvc, validate, logr)
	admissionSvc := service.NewAdmissionService(applicationRepo, enrollmentRepo, cohortRepo,
		scoreEngine, capacitySvc, paymentSvc, notifySvc, metricsSvc, validate, logr)

	migrationSvc := service.NewMigrationService(applicationRepo, migrationRepo, cohortRepo,
		capacitySvc, jobStore, metricsSvc, notifySvc, validate, logr, cfg.Migrations.WorkerConcurrency)
	if cfg.Migrations.Enabled {
		migrationSvc.Start(ctx)
		defer migrationSvc.Stop()
	}

	// Handlers.
	applicationHandler := handler.NewApplicationHandler(admissionSvc, migrationSvc, cfg.Admission.ListMaxPageSize)
	migrationHandler := handler.NewMigrationHandler(migrationSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(paymentSvc)
	cohortHandler := handler.NewCohortHandler(capacitySvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "reason": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleReviewer)
	admin := middleware.RequireRoles(models.RoleAdmin)

	applications := api.Group("/applications")
	{
		applications.POST("", applicationHandler.Submit)
		applications.POST("/drafts", applicationHandler.CreateDraft)

		authed := applications.Group("", middleware.JWT(authSvc))
		authed.GET("", staff, applicationHandler.List)
		authed.GET("/export", staff, applicationHandler.Export)
		authed.GET("/:id", staff, applicationHandler.Get)
		authed.POST("/:id/decision", staff, applicationHandler.Decide)
		authed.POST("/:id/recalculate", staff, applicationHandler.Recalculate)
		authed.POST("/:id/withdraw", applicationHandler.Withdraw)
		authed.GET("/:id/migrations", staff, applicationHandler.Events)
		if cfg.Migrations.Enabled {
			authed.POST("/:id/migrate", admin, migrationHandler.MigrateOne)
		}
	}

	if cfg.Migrations.Enabled {
		migrations := api.Group("/migrations", middleware.JWT(authSvc), admin)
		{
			migrations.POST("/bulk", migrationHandler.Bulk)
			migrations.GET("/jobs/:id", migrationHandler.Job)
		}
	}

	enrollments := api.Group("/enrollments", middleware.JWT(authSvc))
	{
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.GET("/:id/access", enrollmentHandler.CheckAccess)
		enrollments.POST("/:id/payment", admin, enrollmentHandler.VerifyPayment)
	}

	cohorts := api.Group("/cohorts")
	{
		cohorts.GET("", cohortHandler.List)
		cohorts.GET("/:id", cohortHandler.Get)
		cohorts.GET("/:id/capacity", cohortHandler.Capacity)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
