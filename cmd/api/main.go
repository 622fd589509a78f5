package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/voc-classifier/backend/internal/api/handlers"
	"github.com/voc-classifier/backend/internal/auth"
	"github.com/voc-classifier/backend/internal/cache"
	"github.com/voc-classifier/backend/internal/cache/redis"
	"github.com/voc-classifier/backend/internal/classify"
	"github.com/voc-classifier/backend/internal/ingestion"
	"github.com/voc-classifier/backend/internal/llm"
	"github.com/voc-classifier/backend/internal/metrics"
	"github.com/voc-classifier/backend/internal/middleware/ratelimit"
	"github.com/voc-classifier/backend/internal/middleware/security"
	"github.com/voc-classifier/backend/internal/middleware/validation"
	"github.com/voc-classifier/backend/internal/storage/sqlite"
	"github.com/voc-classifier/backend/internal/themes"
	"github.com/voc-classifier/backend/pkg/circuitbreaker"
	"github.com/voc-classifier/backend/pkg/config"
	"github.com/voc-classifier/backend/pkg/httpx"
	appLogger "github.com/voc-classifier/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting VOC classifier API server")
	metrics.Init()

	encoding, err := ingestion.ParseEncoding(cfg.CSV.Encoding)
	if err != nil {
		appLogger.Fatal("Invalid CSV encoding", zap.Error(err))
	}

	authClient, err := httpx.NewClient(cfg.TLS.CABundle, time.Duration(cfg.Auth.TimeoutSec)*time.Second)
	if err != nil {
		appLogger.Fatal("Failed to create token endpoint client", zap.Error(err))
	}
	genClient, err := httpx.NewClient(cfg.TLS.CABundle, time.Duration(cfg.Generation.TimeoutSec)*time.Second)
	if err != nil {
		appLogger.Fatal("Failed to create generation endpoint client", zap.Error(err))
	}

	tokens := auth.NewTokenCache(auth.Config{
		TokenURL:     cfg.Auth.TokenURL,
		ClientSecret: cfg.Auth.ClientSecret,
		HTTPClient:   authClient,
	})

	generator := llm.NewGuarded(
		llm.NewClient(llm.Config{
			Endpoint:   cfg.Generation.Endpoint,
			Model:      cfg.Generation.Model,
			ClientID:   cfg.Generation.ClientID,
			UseCaseID:  cfg.Generation.UseCaseID,
			HTTPClient: genClient,
		}, tokens),
		circuitbreaker.Config{
			FailureThreshold: uint32(cfg.Generation.BreakerFailures),
			Cooldown:         time.Duration(cfg.Generation.BreakerCooldownSec) * time.Second,
		},
	)

	catalog := themes.LoadOrEmpty(cfg.Themes.Path)

	memory, err := cache.NewMemory(cfg.Cache.Size)
	if err != nil {
		appLogger.Fatal("Failed to create result cache", zap.Error(err))
	}
	tiers := []cache.Store{memory}
	if cfg.Redis.Host != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Cache.TTLMin)*time.Minute)
		cancel()
		if err != nil {
			appLogger.Warn("Redis unavailable, using in-process cache only", zap.Error(err))
		} else {
			defer redisClient.Close()
			tiers = append(tiers, redisClient)
		}
	}

	opts := classify.Options{
		Encoding: encoding,
		Cache:    cache.NewTiered(tiers...),
		// a token fetch plus one generation call
		Timeout: time.Duration(cfg.Auth.TimeoutSec+cfg.Generation.TimeoutSec) * time.Second,
	}

	var runsHandler *handlers.RunsHandler
	if cfg.SQLite.Path != "" {
		sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
		}
		defer sqliteClient.Close()

		if err := sqliteClient.InitSchema(); err != nil {
			appLogger.Fatal("Failed to initialize schema", zap.Error(err))
		}
		opts.Recorder = sqliteClient
		runsHandler = handlers.NewRunsHandler(sqliteClient)
	}

	pipeline, err := classify.NewPipeline(generator, opts)
	if err != nil {
		appLogger.Fatal("Failed to create classification pipeline", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		ErrorHandler: handlers.ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: cfg.Server.Development}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.MaxRequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})

	classifyHandler := handlers.NewClassifyHandler(pipeline, catalog)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")

	api.Post("/classify",
		limiter.Middleware(),
		validation.UploadMiddleware(validation.Config{
			MaxFileSize: int64(cfg.Server.BodyLimit),
			Logger:      appLogger.GetLogger(),
		}),
		classifyHandler.Classify,
	)
	api.Get("/runs/:key/export", classifyHandler.Export)
	api.Get("/runs/:key/summary", classifyHandler.Summary)
	api.Get("/runs/:key/rows", classifyHandler.Rows)
	if runsHandler != nil {
		api.Get("/runs", runsHandler.ListRuns)
	}
	api.Get("/themes", classifyHandler.Themes)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"time":    time.Now().Unix(),
			"themes":  catalog.Len(),
			"breaker": generator.State().String(),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("Shutdown did not complete cleanly", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
