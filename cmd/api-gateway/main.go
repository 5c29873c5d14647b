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
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	_ "github.com/noah-isme/tutor-scheduling-api/api/swagger"
	"github.com/noah-isme/tutor-scheduling-api/internal/handler"
	"github.com/noah-isme/tutor-scheduling-api/internal/repository"
	"github.com/noah-isme/tutor-scheduling-api/internal/service"
	"github.com/noah-isme/tutor-scheduling-api/pkg/cache"
	"github.com/noah-isme/tutor-scheduling-api/pkg/config"
	"github.com/noah-isme/tutor-scheduling-api/pkg/database"
	"github.com/noah-isme/tutor-scheduling-api/pkg/jobs"
	"github.com/noah-isme/tutor-scheduling-api/pkg/logger"
)

// @title Tutor Scheduling API
// @version 1.0.0
// @description Availability resolution, booking, credits and vacations for tutors
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Availability.CacheEnabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, availability cache disabled", zap.Error(err))
		}
	}

	validate := validator.New()
	opts := service.NewSchedulingOptions(cfg.Scheduling, cfg.Availability)
	metrics := service.NewMetricsService()

	ruleRepo := repository.NewAvailabilityRuleRepository(db)
	exceptionRepo := repository.NewAvailabilityExceptionRepository(db)
	classRepo := repository.NewBookedClassRepository(db)
	creditRepo := repository.NewCreditRepository(db)
	vacationRepo := repository.NewVacationRepository(db)
	settingsRepo := repository.NewTeacherSettingsRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, cfg.Redis.Namespace, logr)
	defer cacheRepo.Close() //nolint:errcheck

	notifyQueue := jobs.NewQueue("notifications", service.NotificationJobHandler(service.NewLogNotificationSender(logr)), jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		JobTimeout: cfg.Notifications.JobTimeout,
		Logger:     logr,
	})
	notifyQueue.Start(ctx)
	defer notifyQueue.Stop()
	notifier := service.NewNotificationService(notifyQueue, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Availability.CacheTTL, logr, redisClient != nil)
	authSvc := service.NewAuthService(logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})
	availabilitySvc := service.NewAvailabilityService(ruleRepo, exceptionRepo, classRepo, vacationRepo, settingsRepo, cacheSvc, metrics, validate, logr, opts)
	creditSvc := service.NewCreditService(creditRepo, metrics, validate, logr, opts)
	bookingSvc := service.NewBookingService(availabilitySvc, classRepo, creditSvc, db, metrics, validate, logr, opts)
	lifecycleSvc := service.NewClassLifecycleService(availabilitySvc, classRepo, exceptionRepo, creditSvc, notifier, db, metrics, validate, logr, opts)
	vacationSvc := service.NewVacationService(vacationRepo, settingsRepo, classRepo, creditSvc, availabilitySvc, notifier, db, validate, logr, opts)
	ruleSvc := service.NewAvailabilityRuleService(ruleRepo, exceptionRepo, availabilitySvc, validate, logr, opts)
	exportSvc := service.NewExportService(availabilitySvc, nil, nil, validate, logr)

	deps := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	}

	router := newRouter(cfg, logr, routerDeps{
		auth:         authSvc,
		metrics:      metrics,
		availability: handler.NewAvailabilityHandler(availabilitySvc, exportSvc, ruleSvc),
		classes:      handler.NewClassHandler(bookingSvc, lifecycleSvc),
		credits:      handler.NewCreditHandler(creditSvc),
		vacations:    handler.NewVacationHandler(vacationSvc),
		observe:      handler.NewMetricsHandler(metrics, deps),
	})

	scheduler := cron.New(cron.WithLocation(opts.Location))
	if _, err := scheduler.AddFunc(cfg.Scheduling.OverdueSweepCron, func() {
		sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := lifecycleSvc.MarkOverdue(sweepCtx, time.Now()); err != nil {
			logr.Error("overdue sweep failed", zap.Error(err))
		}
	}); err != nil {
		logr.Fatal("invalid overdue sweep schedule", zap.String("spec", cfg.Scheduling.OverdueSweepCron), zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
