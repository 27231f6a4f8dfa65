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

	"github.com/studybuddy/backend/internal/api/handlers"
	"github.com/studybuddy/backend/internal/cache/redis"
	"github.com/studybuddy/backend/internal/generation"
	"github.com/studybuddy/backend/internal/ingestion"
	"github.com/studybuddy/backend/internal/llm"
	"github.com/studybuddy/backend/internal/metrics"
	"github.com/studybuddy/backend/internal/middleware/ratelimit"
	"github.com/studybuddy/backend/internal/middleware/security"
	"github.com/studybuddy/backend/internal/retrieval"
	"github.com/studybuddy/backend/internal/srs"
	"github.com/studybuddy/backend/internal/storage/models"
	"github.com/studybuddy/backend/internal/storage/sqlite"
	"github.com/studybuddy/backend/internal/vector/milvus"
	"github.com/studybuddy/backend/pkg/config"
	appLogger "github.com/studybuddy/backend/pkg/logger"
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

	appLogger.Info("Starting StudyBuddy API Server")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	err = milvusClient.EnsureCollection(context.Background())
	if err != nil {
		appLogger.Fatal("Failed to ensure collection", zap.Error(err))
	}

	var cacheClient *redis.Client
	cacheClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Warn("Redis unavailable, running without answer cache", zap.Error(err))
		cacheClient = nil
	} else {
		defer cacheClient.Close()
	}

	llmClient := llm.NewClient(cfg.LLM)

	processor := ingestion.NewProcessor(sqliteClient, milvusClient, llmClient, cfg.Ingestion)

	var queryEmbedder retrieval.Embedder = llmClient
	if cacheClient != nil {
		queryEmbedder = retrieval.NewCachedEmbedder(llmClient, cacheClient)
	}
	retriever := retrieval.NewRetriever(queryEmbedder, milvusClient, sqliteClient)
	generator := generation.NewGenerator(
		llmClient,
		retriever,
		cfg.Retrieval.LessonTopK,
		cfg.Retrieval.AskTopK,
		cfg.Retrieval.OutlineLimit,
	)
	reviewService := srs.NewService(sqliteClient, cfg.Review.QueueLimit)

	if cacheClient != nil {
		processor.SetAnswerCache(cacheClient)
	}

	statusHub := handlers.NewStatusHub()
	processor.SetStatusListener(func(documentID string, status models.DocumentStatus, message string) {
		statusHub.Publish(documentID, status, message)
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	courseHandler := handlers.NewCourseHandler(sqliteClient)
	documentHandler := handlers.NewDocumentHandler(sqliteClient, processor, cfg.Ingestion.UploadDir)
	studyHandler := handlers.NewStudyHandler(sqliteClient, generator, reviewService, cfg.Review.DefaultUserID)
	searchHandler := handlers.NewSearchHandler(retriever, generator, cacheClient, cfg.Retrieval.SearchTopK)
	reviewHandler := handlers.NewReviewHandler(reviewService, cfg.Review.DefaultUserID)
	exportHandler := handlers.NewExportHandler(sqliteClient)

	api := app.Group("/api/v1")

	api.Post("/courses", courseHandler.CreateCourse)
	api.Get("/courses/:id", courseHandler.GetCourse)
	api.Post("/courses/:id/shares", courseHandler.CreateShare)
	api.Delete("/shares/:shareId", courseHandler.RevokeShare)
	api.Get("/shared/:token", courseHandler.ResolveShare)

	api.Post("/documents", documentHandler.UploadDocument)
	api.Get("/documents/:id", documentHandler.GetDocument)
	api.Post("/documents/:id/reprocess", documentHandler.ReprocessDocument)

	api.Post("/courses/:id/outline", studyHandler.GenerateOutline)
	api.Post("/courses/:id/concepts", studyHandler.GenerateConcepts)
	api.Get("/courses/:id/concepts", studyHandler.ListConcepts)
	api.Post("/concepts/:conceptId/flashcards", studyHandler.GenerateFlashcards)
	api.Post("/courses/:id/quiz", studyHandler.GenerateQuiz)
	api.Get("/courses/:id/quiz", studyHandler.GetQuiz)
	api.Get("/concepts/:conceptId/explanation", studyHandler.GetExplanation)

	api.Get("/courses/:id/search", searchHandler.Search)
	api.Post("/courses/:id/ask", searchHandler.Ask)

	api.Get("/review/queue", reviewHandler.GetQueue)
	api.Post("/review", reviewHandler.RecordReview)

	api.Get("/courses/:id/export/csv", exportHandler.ExportCSV)

	api.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/documents/:id", websocket.New(statusHub.HandleConnection))

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
