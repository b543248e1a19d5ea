package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/opencampus/student-management-api/api/swagger"
	"github.com/opencampus/student-management-api/internal/handler"
	"github.com/opencampus/student-management-api/internal/middleware"
	"github.com/opencampus/student-management-api/internal/models"
	"github.com/opencampus/student-management-api/internal/repository"
	"github.com/opencampus/student-management-api/internal/service"
	"github.com/opencampus/student-management-api/pkg/cache"
	"github.com/opencampus/student-management-api/pkg/config"
	"github.com/opencampus/student-management-api/pkg/database"
	"github.com/opencampus/student-management-api/pkg/jobs"
	"github.com/opencampus/student-management-api/pkg/logger"
	corsmiddleware "github.com/opencampus/student-management-api/pkg/middleware/cors"
	reqidmiddleware "github.com/opencampus/student-management-api/pkg/middleware/requestid"
	"github.com/opencampus/student-management-api/pkg/storage"
)

// @title Student Management API
// @version 1.0.0
// @description Backend for managing students, courses and enrollments
// @BasePath /api
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := database.RunMigrations(cfg.Database); err != nil {
		logr.Sugar().Fatalw("failed to run migrations", "error", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, true)
		}
	}

	studentRepo := repository.NewStudentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	userRepo := repository.NewUserRepository(db)
	exportJobRepo := repository.NewExportJobRepository(db)

	studentSvc := service.NewStudentService(studentRepo, cacheSvc, validate, logr)
	courseSvc := service.NewCourseService(courseRepo, cacheSvc, validate, logr)
	adminSvc := service.NewAdminService(enrollmentRepo, studentRepo, courseRepo, cacheSvc, validate, logr)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})

	bootstrapCtx, cancelBootstrap := context.WithTimeout(context.Background(), 30*time.Second)
	err = authSvc.Bootstrap(bootstrapCtx, []service.BootstrapAccount{
		{Email: cfg.Bootstrap.AdminEmail, Password: cfg.Bootstrap.AdminPassword, FullName: cfg.Bootstrap.AdminName, Role: models.RoleAdmin},
		{Email: cfg.Bootstrap.UserEmail, Password: cfg.Bootstrap.UserPassword, FullName: cfg.Bootstrap.UserName, Role: models.RoleUser},
	})
	cancelBootstrap()
	if err != nil {
		logr.Sugar().Fatalw("failed to seed default accounts", "error", err)
	}

	exportStorage, err := storage.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Export.SigningSecret, cfg.Export.ResultTTL)
	exportCfg := service.ExportJobConfig{
		APIPrefix:       cfg.APIPrefix,
		ResultTTL:       cfg.Export.ResultTTL,
		CleanupInterval: cfg.Export.CleanupInterval,
		MaxRetries:      cfg.Export.MaxRetries,
	}
	exportWorker := service.NewExportWorker(exportJobRepo, adminSvc, exportStorage, signer, exportCfg, logr)
	exportQueue := jobs.NewQueue("roster-export", exportWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Export.Workers,
		MaxRetries: cfg.Export.MaxRetries,
		Logger:     logr,
	})
	exportSvc := service.NewExportJobService(exportJobRepo, exportQueue, exportStorage, signer, exportCfg, logr)

	queueCtx, stopQueue := context.WithCancel(context.Background())
	defer stopQueue()
	exportQueue.Start(queueCtx)
	defer exportQueue.Stop()
	exportSvc.RecoverPendingJobs(queueCtx)
	exportSvc.StartCleanup(queueCtx)

	studentHandler := handler.NewStudentHandler(studentSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	adminHandler := handler.NewAdminHandler(adminSvc)
	statsHandler := handler.NewStatsHandler(adminSvc)
	authHandler := handler.NewAuthHandler(authSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)
	exportJobHandler := handler.NewExportJobHandler(exportSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authRequired := middleware.JWT(authSvc)
	adminOnly := middleware.RequireRoles(models.RoleAdmin)
	anyRole := middleware.RequireRoles(models.RoleAdmin, models.RoleUser)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.GET("/me", authRequired, authHandler.Me)
	}

	students := api.Group("/students", authRequired)
	{
		students.GET("", anyRole, studentHandler.List)
		students.GET("/active", anyRole, studentHandler.ListActive)
		students.GET("/inactive", adminOnly, studentHandler.ListInactive)
		students.GET("/search", anyRole, studentHandler.Search)
		students.GET("/email/:email", anyRole, studentHandler.GetByEmail)
		students.GET("/:id", anyRole, studentHandler.Get)
		students.GET("/:id/courses/count", anyRole, studentHandler.CoursesCount)
		students.POST("", adminOnly, studentHandler.Create)
		students.PUT("/:id", adminOnly, studentHandler.Update)
		students.DELETE("/:id", adminOnly, studentHandler.Delete)
		students.PATCH("/:id/activate", adminOnly, studentHandler.Activate)
		students.PATCH("/:id/deactivate", adminOnly, studentHandler.Deactivate)
	}

	courses := api.Group("/courses", authRequired)
	{
		courses.GET("", anyRole, courseHandler.List)
		courses.GET("/active", anyRole, courseHandler.ListActive)
		courses.GET("/inactive", adminOnly, courseHandler.ListInactive)
		courses.GET("/search", anyRole, courseHandler.Search)
		courses.GET("/code/:code", anyRole, courseHandler.GetByCode)
		courses.GET("/:id", anyRole, courseHandler.Get)
		courses.GET("/:id/students/count", anyRole, courseHandler.StudentsCount)
		courses.POST("", adminOnly, courseHandler.Create)
		courses.PUT("/:id", adminOnly, courseHandler.Update)
		courses.DELETE("/:id", adminOnly, courseHandler.Delete)
		courses.PATCH("/:id/activate", adminOnly, courseHandler.Activate)
		courses.PATCH("/:id/deactivate", adminOnly, courseHandler.Deactivate)
	}

	admin := api.Group("/admin", authRequired, adminOnly)
	{
		admin.POST("/enroll", middleware.Audit(userRepo, models.AuditActionEnroll, "enrollment"), adminHandler.Enroll)
		admin.DELETE("/enroll", middleware.Audit(userRepo, models.AuditActionUnenroll, "enrollment"), adminHandler.Unenroll)
		admin.PATCH("/enrollment/:id/status", middleware.Audit(userRepo, models.AuditActionStatusChange, "enrollment"), adminHandler.ChangeStatus)
		admin.GET("/enrollments", adminHandler.ListEnrollments)
		admin.GET("/export/enrollments", adminHandler.ExportEnrollments)
		admin.POST("/export/jobs", exportJobHandler.Create)
		admin.GET("/export/jobs/:id", exportJobHandler.Status)
	}

	// download authenticates via the signed token embedded in the path
	api.GET("/export/:token", exportJobHandler.Download)

	api.GET("/stats", authRequired, adminOnly, statsHandler.Get)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
