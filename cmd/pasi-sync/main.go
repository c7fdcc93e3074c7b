package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/rtdacademy/pasi-sync-api/api/swagger"
	"github.com/rtdacademy/pasi-sync-api/internal/handler"
	"github.com/rtdacademy/pasi-sync-api/internal/middleware"
	"github.com/rtdacademy/pasi-sync-api/internal/models"
	"github.com/rtdacademy/pasi-sync-api/internal/repository"
	"github.com/rtdacademy/pasi-sync-api/internal/service"
	"github.com/rtdacademy/pasi-sync-api/pkg/cache"
	"github.com/rtdacademy/pasi-sync-api/pkg/config"
	"github.com/rtdacademy/pasi-sync-api/pkg/database"
	"github.com/rtdacademy/pasi-sync-api/pkg/logger"
	corsmiddleware "github.com/rtdacademy/pasi-sync-api/pkg/middleware/cors"
	reqidmiddleware "github.com/rtdacademy/pasi-sync-api/pkg/middleware/requestid"
	"github.com/rtdacademy/pasi-sync-api/pkg/storage"
)

// @title PASI Sync API
// @version 1.0.0
// @description Roster reconciliation service for PASI CSV uploads
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, falling back to in-process sync locks without caching", "error", err)
		redisClient = nil
	}

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	recordRepo := repository.NewPasiRecordRepository(db)
	summaryRepo := repository.NewSummaryRepository(db)
	directoryRepo := repository.NewASNDirectoryRepository(db)
	courseRepo := repository.NewCourseCodeRepository(db)
	mutationRepo := repository.NewMutationRepository(db)
	runRepo := repository.NewSyncRunRepository(db)
	userRepo := repository.NewUserRepository(db)

	uploadStore, err := storage.NewLocalStorage(cfg.Sync.UploadArchiveDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload archive storage", "error", err)
	}
	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
	})

	writer := service.NewBatchedWriter(mutationRepo, cfg.Sync.ChunkSize, cfg.Sync.MaxChunksInFlight,
		cfg.Sync.WaveDelay, logr).WithMetrics(metricsSvc)

	syncSvc := service.NewSyncService(service.SyncServiceDeps{
		Roster:    service.NewRosterService(logr),
		Emails:    service.NewEmailResolverService(directoryRepo, logr),
		Records:   recordRepo,
		Summaries: summaryRepo,
		Courses:   courseRepo,
		Runs:      runRepo,
		Locker:    cacheRepo,
		Cache:     cacheRepo,
		Archive:   uploadStore,
		Writer:    writer,
		Metrics:   metricsSvc,
		Config:    cfg.Sync,
		Logger:    logr,
	})

	exportSvc := service.NewExportService(exportStore, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Exports.SignedURLTTL,
	}, logr, nil, nil)

	authHandler := handler.NewAuthHandler(authSvc)
	syncHandler := handler.NewSyncHandler(syncSvc, exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
			auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
		}

		pasi := api.Group("/pasi")
		{
			staff := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleStaff)
			admin := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

			pasi.POST("/sync", middleware.JWT(authSvc), admin, syncHandler.Run)
			pasi.POST("/sync/async", middleware.JWT(authSvc), admin, syncHandler.RunAsync)
			pasi.GET("/sync/runs", middleware.JWT(authSvc), staff, syncHandler.ListRuns)
			pasi.GET("/sync/runs/:id", middleware.JWT(authSvc), staff, syncHandler.GetRun)
			pasi.GET("/sync/runs/:id/export", middleware.JWT(authSvc), staff, syncHandler.ExportRun)

			// download is authorised by the signed token itself
			pasi.GET("/exports/:token", syncHandler.DownloadExport)
		}
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	syncSvc.StartWorkers(workerCtx)

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

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}

	stopWorkers()
	syncSvc.StopWorkers()
}
