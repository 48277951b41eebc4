package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"otp-gateway/internal/api"
	"otp-gateway/internal/config"
	"otp-gateway/internal/gateway"
	"otp-gateway/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := observability.GetLoggerFromEnv(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting sms gateway")

	shutdownOtel, err := observability.SetupOpenTelemetry("otp-gateway", logger)
	if err != nil {
		logger.Warn("opentelemetry setup failed — continuing without it", zap.Error(err))
	} else {
		defer shutdownOtel()
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	gw, err := gateway.New(ctx, cfg, logger, metrics)
	cancel()
	if err != nil {
		log.Fatalf("failed to construct gateway: %v", err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	gw.Start(runCtx)

	handlers := api.NewHandlers(gw)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			logger.Error("fiber error", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
		},
	})

	api.SetupMiddleware(app, logger, metrics)
	api.SetupRoutes(app, handlers, metrics)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	logger.Info("sms gateway started", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	runCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("fiber shutdown error", zap.Error(err))
	}

	gw.Shutdown(30 * time.Second)
	logger.Info("sms gateway stopped")
}
