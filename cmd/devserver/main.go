package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/jobby-messaging/internal/config"
	"github.com/noah-isme/jobby-messaging/internal/database"
	"github.com/noah-isme/jobby-messaging/internal/devserver"
	"github.com/noah-isme/jobby-messaging/internal/middleware"
	"github.com/noah-isme/jobby-messaging/internal/observability"
	"github.com/noah-isme/jobby-messaging/internal/repository"
)

func main() {
	cfg, err := config.LoadDevServer()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	opts := devserver.Options{
		JWTSecret:      cfg.JWTSecret,
		SendRateLimit:  cfg.SendRateLimit,
		SendRateWindow: cfg.SendRateWindow,
		NATSPrefix:     cfg.NATSPrefix,
	}
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.AppName))
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer nc.Close()
		opts.NATS = nc
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	server := devserver.New(repository.NewMessagingRepository(db), validate, opts, logger)

	if err := server.Seed(ctx, cfg.SeedUsers); err != nil {
		log.Fatalf("failed to seed users: %v", err)
	}
	logTokens(server, cfg.SeedUsers, logger)

	if err := server.Start(ctx); err != nil {
		log.Fatalf("failed to start nats relay: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	app.Get("/metrics", observability.MetricsHandler())
	server.Register(app)

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress()).Str("database", cfg.DatabaseDriver).Msg("devserver listening")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("server stopped")
}

// logTokens prints a long-lived bearer token per seeded user for local sign-in.
func logTokens(server *devserver.Server, users map[string]string, logger zerolog.Logger) {
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		token, err := server.Token(id, users[id])
		if err != nil {
			logger.Warn().Err(err).Str("user_id", id).Msg("failed to mint token")
			continue
		}
		logger.Info().Str("user_id", id).Str("user_name", users[id]).Str("token", token).Msg("seeded user")
	}
}
