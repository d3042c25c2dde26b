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
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/mediscan/backend/internal/api/handlers"
	"github.com/mediscan/backend/internal/cache/redis"
	"github.com/mediscan/backend/internal/classifier"
	"github.com/mediscan/backend/internal/explain"
	"github.com/mediscan/backend/internal/metrics"
	"github.com/mediscan/backend/internal/middleware/ratelimit"
	"github.com/mediscan/backend/internal/middleware/security"
	"github.com/mediscan/backend/internal/middleware/validation"
	"github.com/mediscan/backend/internal/nlp"
	"github.com/mediscan/backend/internal/ocr"
	"github.com/mediscan/backend/internal/pipeline"
	"github.com/mediscan/backend/internal/realtime"
	"github.com/mediscan/backend/internal/storage/object"
	"github.com/mediscan/backend/internal/storage/sqlite"
	"github.com/mediscan/backend/pkg/config"
	appLogger "github.com/mediscan/backend/pkg/logger"
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

	appLogger.Info("Starting MediScan API Server")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	objectStore, err := object.New(context.Background(),
		cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey,
		cfg.Minio.Bucket, cfg.Minio.UseSSL,
	)
	if err != nil {
		appLogger.Fatal("Failed to create object store", zap.Error(err))
	}

	var cache pipeline.Cache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(
			cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, running without cache", zap.Error(err))
		} else {
			defer redisClient.Close()
			cache = redisClient
		}
	}

	ocrTimeout := time.Duration(cfg.OCR.TimeoutSec) * time.Second
	visionEngine, err := ocr.NewVisionEngine(cfg.OCR.VisionAPIKey, cfg.OCR.VisionModel, ocrTimeout)
	if err != nil {
		appLogger.Fatal("Failed to create vision OCR engine", zap.Error(err))
	}
	tesseractEngine := ocr.NewTesseractEngine(cfg.OCR.Language, ocrTimeout)
	tierManager := ocr.NewTierManager(visionEngine, tesseractEngine, cfg.OCR.ConfidenceThreshold)

	imageClassifier := classifier.New(cfg.Classifier.Classes, cfg.Classifier.MinWidth, cfg.Classifier.MinHeight)

	explainService := explain.NewService(
		objectStore, sqliteClient,
		time.Duration(cfg.Explain.TimeoutSec)*time.Second,
		explain.NewGradCAM(),
		explain.NewSHAP(imageClassifier, cfg.Explain.SHAPSamples),
		explain.NewLIME(imageClassifier, cfg.Explain.LIMESamples, cfg.Explain.LIMESegments),
	)

	hub := realtime.NewHub()

	pipe := pipeline.New(pipeline.Options{
		Recognizer: tierManager,
		Extractor:  nlp.NewExtractor(true),
		Classifier: imageClassifier,
		Explainer:  explainService,
		Store:      sqliteClient,
		Cache:      cache,
		Objects:    objectStore,
		Hub:        hub,
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(security.Headers(security.Config{EnableHSTS: cfg.Minio.UseSSL}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{RequestsPerWindow: 30, Interval: time.Minute})

	analysisHandler := handlers.NewAnalysisHandler(pipe)
	explainHandler := handlers.NewExplainabilityHandler(pipe)
	wsHandler := handlers.NewWebSocketHandler(hub)

	api := app.Group("/api/v1")

	api.Post("/process", limiter.Middleware(), validation.Upload(), analysisHandler.ProcessDocument)
	api.Post("/process/batch", limiter.Middleware(), validation.Upload(), analysisHandler.ProcessBatch)

	api.Get("/analyses/:id", analysisHandler.GetAnalysis)
	api.Get("/analyses/:id/artifacts/:method", explainHandler.GetArtifact)
	api.Get("/patients/:id/analyses", analysisHandler.GetPatientAnalyses)

	api.Post("/explainability/generate", limiter.Middleware(), explainHandler.Generate)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.Handler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
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
	app.Shutdown()
	appLogger.Info("Server stopped")
}
