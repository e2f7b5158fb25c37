package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/redis/go-redis/v9"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/salesmgr/license-server/internal/codegen"
	"github.com/salesmgr/license-server/internal/config"
	"github.com/salesmgr/license-server/internal/database"
	"github.com/salesmgr/license-server/internal/events"
	"github.com/salesmgr/license-server/internal/feed"
	"github.com/salesmgr/license-server/internal/handlers"
	"github.com/salesmgr/license-server/internal/licenses"
	"github.com/salesmgr/license-server/internal/logging"
	"github.com/salesmgr/license-server/internal/mailer"
	"github.com/salesmgr/license-server/internal/middleware"
	"github.com/salesmgr/license-server/internal/routes"
	"github.com/salesmgr/license-server/internal/services"
	"github.com/salesmgr/license-server/internal/store"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}

	// Database
	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(db)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		pgLogHandler,
	)))

	// Log cleanup (30-day retention)
	cleanupDone := make(chan struct{})
	logging.StartCleanup(db, cleanupDone)

	// Change notifier: Redis pub/sub when configured, in-process otherwise.
	var notifier store.ChangeNotifier
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Error("redis connection failed", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		notifier = store.NewRedisNotifier(redisClient, "")
		slog.Info("change notifications via redis", "addr", cfg.RedisAddr)
	} else {
		notifier = store.NewMemoryNotifier()
		slog.Info("change notifications in-process (REDIS_ADDR not set)")
	}

	recordStore := store.NewGormStore(db, notifier)
	generator := codegen.New(cfg.CodeAlphabet, cfg.CodeLength, cfg.CodePrefix)

	// Outbound mail (fire-and-forget; disabled without SMTP config)
	var codeMailer licenses.CodeMailer
	var dispatcher *mailer.Dispatcher
	if cfg.SMTPHost != "" {
		smtpMailer := mailer.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
		dispatcher = mailer.NewDispatcher(smtpMailer, cfg.MailWorkers)
		codeMailer = dispatcher
	} else {
		slog.Warn("SMTP not configured, license emails disabled")
	}

	// AMQP event publishing (optional)
	var eventPublisher licenses.EventPublisher
	var amqpPublisher *events.Publisher
	if cfg.AMQPURL != "" {
		amqpPublisher = events.NewPublisher(cfg.AMQPURL)
		eventPublisher = amqpPublisher
		slog.Info("license events via amqp")
	}

	licenseService := licenses.NewService(recordStore, generator, codeMailer, eventPublisher)
	authService := services.NewAuthService(db, cfg)

	// Observation feed
	codeFeed := feed.New(recordStore, notifier)
	feedCtx, feedCancel := context.WithCancel(context.Background())
	go func() {
		if err := codeFeed.Run(feedCtx); err != nil && feedCtx.Err() == nil {
			slog.Error("observation feed stopped", "error", err)
			os.Exit(1)
		}
	}()

	// Handlers
	authHandler := handlers.NewAuthHandler(authService, cfg.SetupToken)
	healthHandler := handlers.NewHealthHandler(db)
	codeHandler := handlers.NewCodeHandler(licenseService, codeFeed, cfg.PurchaseToken)

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))

	// Routes
	routes.Setup(app, cfg, authHandler, healthHandler, codeHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Stop the feed (tears down the change subscription) before closing the
	// stores it reads from.
	feedCancel()

	if dispatcher != nil {
		dispatcher.Stop()
	}
	if amqpPublisher != nil {
		amqpPublisher.Close()
	}

	close(cleanupDone)
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("redis close error", "error", err)
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
