package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"coldreach/config"
	controller "coldreach/controllers"
	"coldreach/middleware"
	"coldreach/routes"
	"coldreach/utils"
	"coldreach/worker"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Warnf("Failed to initialize Sentry: %v", err)
		}
	}

	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	app := fiber.New()
	app.Use(middleware.CORS())

	suppression := utils.NewSuppressionList(config.DB)
	hub := controller.NewEventHub(logger)
	notifier := utils.MultiNotifier{
		hub,
		utils.NewWebhookNotifier(config.DB, logger),
	}
	transport := utils.NewSMTPTransport(config.AppConfig.SendTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweep := worker.NewSendSweep(config.DB, transport, suppression, notifier, logger,
		config.AppConfig.SweepInterval, config.AppConfig.SweepBatchSize, config.AppConfig.TrackingBaseURL)
	go sweep.Start(ctx)

	reconciler := worker.NewReplyReconciler(config.DB, utils.NewKeywordClassifier(), suppression,
		notifier, logger, config.AppConfig.ThreadTagPolicy)
	replyWorker := worker.NewReplyWorker(config.DB, &worker.IMAPFetcher{Logger: logger},
		reconciler, logger, config.AppConfig.ReplyPollInterval)
	go replyWorker.Start(ctx)

	warmupWorker := worker.NewWarmupWorker(config.DB, transport, logger, config.AppConfig.WarmupInterval)
	go warmupWorker.Start(ctx)

	routes.SetupTrackingRoutes(app, config.DB, suppression, notifier, logger)
	routes.SetupAPIRoutes(app, config.DB, hub, logger)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Stop the workers before the listener goes away so no sweep is cut off
	// mid-dispatch.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	logger.Infof("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
