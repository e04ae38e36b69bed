package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/fairgig-proctor/internal/config"
	"github.com/noah-isme/fairgig-proctor/internal/database"
	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/handler"
	"github.com/noah-isme/fairgig-proctor/internal/middleware"
	"github.com/noah-isme/fairgig-proctor/internal/ratelimit"
	"github.com/noah-isme/fairgig-proctor/internal/repository"
	"github.com/noah-isme/fairgig-proctor/internal/router"
	"github.com/noah-isme/fairgig-proctor/internal/service"
	cloud "github.com/noah-isme/fairgig-proctor/pkg/cloudinary"
	"github.com/noah-isme/fairgig-proctor/pkg/mlscorer"
)

// Headroom above the frame size limit for the rest of the JSON body.
const bodyLimitSlack = 1 << 20

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to access database handle")
	}

	healthChecks := map[string]handler.Pinger{"database": sqlDB}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		healthChecks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Close()
	}

	var limiter ratelimit.Limiter
	switch cfg.RateLimitBackend {
	case config.RateLimitBackendRedis:
		limiter = ratelimit.NewRedisLimiter(redisClient, cfg.RealtimeChannel, cfg.RateLimitCount, cfg.RateLimitWindow)
	default:
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitCount, cfg.RateLimitWindow)
	}

	scorer, err := mlscorer.New(mlscorer.Config{
		BaseURL: cfg.MLServiceURL,
		APIKey:  cfg.MLServiceKey,
		Timeout: cfg.MLTimeout,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create ml scorer client")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	sessionRepo := repository.NewExamSessionRepository(db)
	scoreRepo := repository.NewCheatScoreRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	monitorService := service.NewMonitorService(redisClient, cfg.RealtimeChannel, natsConn, logger)
	monitorService.Start(rootCtx)

	var uploader service.SnapshotUploader
	cloudCfg := cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryUploadFolder,
	}
	if cloudCfg.Enabled() {
		store, err := cloud.New(cloudCfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cloudinary client")
		}
		uploader = service.NewSnapshotUploader(store, snapshotRepo, service.SnapshotUploaderConfig{
			Workers:   cfg.SnapshotWorkers,
			QueueSize: cfg.SnapshotQueueSize,
		}, logger)
		uploader.Start(rootCtx)
	} else {
		logger.Warn().Msg("cloudinary not configured, snapshot images will not be stored")
	}

	activityService := service.NewActivityService(activityRepo, validate, logger)
	ingestionService := service.NewFrameIngestionService(
		sessionRepo, scoreRepo, snapshotRepo, scorer, limiter, uploader, monitorService,
		service.FrameIngestionConfig{MaxFrameBytes: cfg.MaxFrameBytes},
		validate, logger,
	)
	sessionService := service.NewSessionService(
		sessionRepo, scoreRepo, snapshotRepo, activityService, monitorService,
		dto.CaptureSettings{
			FrameIntervalMs: cfg.CaptureIntervalMs,
			FrameWidth:      cfg.CaptureWidth,
			FrameHeight:     cfg.CaptureHeight,
			JPEGQuality:     cfg.CaptureJPEGQuality,
		},
		validate, logger,
	)
	reviewService := service.NewAdminReviewService(sessionRepo, scoreRepo, snapshotRepo, activityService, monitorService, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    cfg.MaxFrameBytes + bodyLimitSlack,
		ErrorHandler: handler.FrameErrorHandler(logger),
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSAllowOrigins})
	router.Register(app, cfg, router.Dependencies{
		FrameHandler:         handler.NewFrameHandler(ingestionService, logger),
		SessionHandler:       handler.NewSessionHandler(sessionService, logger),
		AdminReviewHandler:   handler.NewAdminReviewHandler(reviewService, logger),
		AdminActivityHandler: handler.NewAdminActivityHandler(activityService, logger),
		MonitorHandler:       handler.NewMonitorHandler(monitorService, logger, cfg.MonitorKeepAlive),
		HealthChecks:         healthChecks,
		JWTMiddleware:        middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress()).Msg("proctor api listening")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, logger)

	cancelRoot()
	if uploader != nil {
		uploader.Stop()
	}
	logger.Info().Msg("server stopped")
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
