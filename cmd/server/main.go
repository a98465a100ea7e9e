package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/adscript/api/internal/client"
	"github.com/adscript/api/internal/config"
	"github.com/adscript/api/internal/handler"
	"github.com/adscript/api/internal/middleware"
	"github.com/adscript/api/internal/repository"
	"github.com/adscript/api/internal/service"
	"github.com/adscript/api/internal/storage"
	ws "github.com/adscript/api/internal/websocket"
	"github.com/adscript/api/internal/worker"
	"github.com/adscript/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Project store and blob storage
	store, err := repository.NewFromDSN(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open project store: %v", err)
	}
	defer store.Close()

	blobs, err := storage.New(&cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	validate := service.NewValidator()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize external clients
	inferenceClient := client.NewInferenceClient(&cfg.Inference)
	inferenceClient.Init(ctx)
	defer inferenceClient.Close()

	chatClient := client.NewChatClient(&cfg.LLM)
	scriptClient := client.NewScriptClient(chatClient)
	if !scriptClient.IsConfigured() {
		log.Println("Info: LLM not configured, using mock scripts")
	}

	// Job dispatch: asynq on redis, or goroutines in this process
	var (
		dispatcher service.Dispatcher
		inline     *service.InlineDispatcher
	)
	if strings.EqualFold(cfg.Jobs.Mode, "inline") {
		log.Println("Info: running generation jobs inline")
		inline = service.NewInlineDispatcher()
		dispatcher = inline
	} else {
		asynqClient := asynq.NewClient(asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer asynqClient.Close()
		imageTimeout := service.ImageTaskTimeout(
			time.Duration(cfg.Inference.Timeout)*time.Second,
			cfg.Jobs.Concurrency,
			cfg.Inference.MaxConcurrent,
		)
		dispatcher = service.NewAsynqDispatcher(asynqClient, imageTimeout)
	}

	// Initialize services
	locks := service.NewLockManager()
	projectService := service.NewProjectService(store, blobs, locks, dispatcher, hub)
	scenarioService := service.NewScenarioService(store, blobs, locks, hub, validate)
	imageService := service.NewImageService(store, blobs, locks, dispatcher, hub)

	// Initialize workers
	imageWorker := worker.NewImageWorker(imageService, inferenceClient, blobs)
	scriptWorker := worker.NewScriptWorker(projectService, scriptClient)
	if inline != nil {
		inline.Handle(imageWorker.Run, scriptWorker.Run)
	} else {
		go startWorkerServer(cfg, imageWorker, scriptWorker)
	}

	// Initialize handlers
	handlers := handler.Handlers{
		Projects: handler.NewProjectHandler(projectService, validate),
		Scenario: handler.NewScenarioHandler(scenarioService, validate),
		Images:   handler.NewImageHandler(imageService, validate),
	}

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.JWT.Expiration)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Server.BodyLimitMB * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"llm":       scriptClient.IsConfigured(),
				"inference": inferenceClient.IsConfigured(),
				"storage":   cfg.Storage.Driver,
				"jobs":      cfg.Jobs.Mode,
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())
	handler.Mount(api, handlers, handler.Limits{
		Script: rateLimiter.ScriptLimit(cfg.RateLimit.ScriptPerHour),
		Image:  rateLimiter.ImageLimit(cfg.RateLimit.ImagePerHour),
	})

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/projects/:projectId", authMiddleware.Authenticate(), func(c *fiber.Ctx) error {
		projectID, ok := ws.ParseProjectID(c.Params("projectId"))
		if !ok {
			return response.ValidationError(c, "Project ID must be a positive integer", nil)
		}
		if _, err := projectService.Get(c.Context(), middleware.GetUserID(c), projectID); err != nil {
			return response.NotFound(c, "Project not found")
		}
		c.Locals("projectId", projectID)
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		projectID, _ := c.Locals("projectId").(int64)
		hub.HandleConnection(c, projectID)
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if inline != nil {
			inline.Wait()
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, imageWorker *worker.ImageWorker, scriptWorker *worker.ScriptWorker) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: cfg.Jobs.Concurrency,
			Queues: map[string]int{
				service.QueueImages:  6,
				service.QueueScripts: 4,
			},
			LogLevel: asynqLogLevel,
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeImage, imageWorker.ProcessTask)
	mux.HandleFunc(service.TaskTypeScript, scriptWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
