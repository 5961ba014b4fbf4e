package main

import (
	"context"
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

	_ "github.com/pirouette-labs/studio-ledger-api/api/swagger"
	"github.com/pirouette-labs/studio-ledger-api/internal/fee"
	"github.com/pirouette-labs/studio-ledger-api/internal/handler"
	"github.com/pirouette-labs/studio-ledger-api/internal/middleware"
	"github.com/pirouette-labs/studio-ledger-api/internal/repository"
	"github.com/pirouette-labs/studio-ledger-api/internal/service"
	"github.com/pirouette-labs/studio-ledger-api/pkg/cache"
	"github.com/pirouette-labs/studio-ledger-api/pkg/config"
	"github.com/pirouette-labs/studio-ledger-api/pkg/database"
	"github.com/pirouette-labs/studio-ledger-api/pkg/docstore"
	"github.com/pirouette-labs/studio-ledger-api/pkg/jobs"
	"github.com/pirouette-labs/studio-ledger-api/pkg/logger"
	corsmiddleware "github.com/pirouette-labs/studio-ledger-api/pkg/middleware/cors"
	reqidmiddleware "github.com/pirouette-labs/studio-ledger-api/pkg/middleware/requestid"
	"github.com/pirouette-labs/studio-ledger-api/pkg/storage"
)

// @title Studio Ledger API
// @version 0.1.0
// @description Attendance-to-ledger engine for the studio admin console
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	store, err := docstore.NewPostgres(db, database.DSN(cfg.Database), logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document store", "error", err)
	}
	defer store.Close() //nolint:errcheck

	students := repository.NewStudentRepository(store)
	attendanceDays := repository.NewAttendanceRepository(store)
	credits := repository.NewCreditRepository(store)
	payments := repository.NewPaymentRepository(store)
	reportJobs := repository.NewReportJobRepository(store)

	var summaryCache *repository.CacheRepository
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		summaryCache = repository.NewCacheRepository(redisClient, logr)
		defer summaryCache.Close() //nolint:errcheck
	}

	calendar, err := service.NewCalendar(cfg.Holidays.ManualDates)
	if err != nil {
		logr.Sugar().Fatalw("invalid manual holiday configuration", "error", err)
	}

	metrics := service.NewMetricsService()
	feeEngine := fee.NewEngine(fee.Table{
		Absent:       cfg.Fees.AbsentFee,
		Late:         cfg.Fees.LateFee,
		NoShoes:      cfg.Fees.NoShoesFee,
		NotInUniform: cfg.Fees.NotInUniformFee,
	})

	balances := service.NewBalanceService(students, credits, cfg.Retry, metrics, logr)
	var attendance *service.AttendanceService
	if summaryCache != nil {
		attendance = service.NewAttendanceService(attendanceDays, students, balances, feeEngine, summaryCache, cfg.Cache.SummaryTTL, cfg.Retry, metrics, logr)
	} else {
		attendance = service.NewAttendanceService(attendanceDays, students, balances, feeEngine, nil, 0, cfg.Retry, metrics, logr)
	}
	holidays := service.NewHolidayService(calendar, attendance, balances, payments, feeEngine, metrics, logr)

	validate := validator.New()

	attendanceHandler := handler.NewAttendanceHandler(attendance, validate)
	holidayHandler := handler.NewHolidayHandler(holidays, validate)
	studentHandler := handler.NewStudentHandler(balances, validate)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(cfg.JWT), middleware.RequireAdmin(cfg.JWT))

	api.GET("/attendance/:date", attendanceHandler.Summary)
	api.PUT("/attendance/:date/:studentId", middleware.Audit(logr, "set", "attendance"), attendanceHandler.Set)
	api.POST("/attendance/:date/bulk", middleware.Audit(logr, "set_bulk", "attendance"), attendanceHandler.SetBulk)
	api.DELETE("/attendance/:date/:studentId", middleware.Audit(logr, "remove", "attendance"), attendanceHandler.Remove)

	api.GET("/students", attendanceHandler.Roster)
	api.GET("/students/:id/balance", studentHandler.Balance)
	api.GET("/students/:id/credits", studentHandler.Credits)
	api.POST("/students/:id/credits/consume", middleware.Audit(logr, "consume", "credits"), studentHandler.ConsumeCredits)

	api.POST("/holidays", middleware.Audit(logr, "declare", "holiday"), holidayHandler.Declare)
	api.POST("/holidays/impact", holidayHandler.Impact)

	if cfg.Exports.Enabled {
		localStorage, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exporter := service.NewExportService(attendance, holidays, balances, students, localStorage, signer,
			service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Exports.SignedURLTTL}, logr, nil, nil)
		worker := service.NewReportWorker(reportJobs, exporter, cfg.Exports.WorkerRetries, logr)
		queue := jobs.NewQueue("exports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		queue.Start(ctx)
		defer queue.Stop()

		reports := service.NewReportService(reportJobs, queue, exporter, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Exports.SignedURLTTL,
			CleanupInterval: cfg.Exports.CleanupInterval,
			MaxRetries:      cfg.Exports.WorkerRetries,
		})
		reports.RecoverPendingJobs(ctx)
		reports.StartCleanup(ctx)

		reportHandler := handler.NewReportHandler(reports)
		api.POST("/reports/generate", middleware.Audit(logr, "generate", "report"), reportHandler.GenerateReport)
		api.GET("/reports/status/:id", reportHandler.ReportStatus)
		// Download is authenticated by the signed token itself.
		r.GET(cfg.APIPrefix+"/exports/:token", reportHandler.DownloadReport)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}
