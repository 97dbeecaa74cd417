package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/jobby-messaging/internal/api"
	"github.com/noah-isme/jobby-messaging/internal/config"
	"github.com/noah-isme/jobby-messaging/internal/database"
	"github.com/noah-isme/jobby-messaging/internal/handler"
	"github.com/noah-isme/jobby-messaging/internal/middleware"
	"github.com/noah-isme/jobby-messaging/internal/realtime"
	"github.com/noah-isme/jobby-messaging/internal/router"
	"github.com/noah-isme/jobby-messaging/internal/service"
	"github.com/noah-isme/jobby-messaging/internal/view"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New(validator.WithRequiredStructEnabled())

	backend := api.NewClient(api.Options{
		BaseURL:         cfg.APIBaseURL,
		Timeout:         cfg.RequestTimeout,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	}, logger)

	session := service.NewMessagingSession(backend, nil, validate, service.SessionOptions{
		FeedCapacity: cfg.FeedCapacity,
		TypingExpiry: cfg.TypingExpiry,
	}, logger)

	var dialer realtime.Dialer
	switch cfg.Transport {
	case config.TransportNATS:
		dialer = realtime.NewNATSDialer(cfg.NATSURL, cfg.NATSPrefix, logger)
	default:
		dialer = realtime.NewWebsocketDialer(cfg.SocketURL, 0, logger)
	}
	registry := realtime.NewRegistry(dialer, session.HandleEvent, logger)
	session.AttachConnector(registry)
	defer func() { _ = registry.Close() }()

	var publisher handler.IdentityPublisher
	initial := realtime.Identity{UserID: cfg.UserID, UserName: cfg.UserName, Token: cfg.Token}

	if cfg.RedisURL != "" {
		redisClient, err := database.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()

		identitySync := realtime.NewIdentitySync(redisClient, cfg.RedisChannel, logger)
		publisher = identitySync

		if !initial.SignedIn() && initial.Token == "" {
			if current, err := identitySync.Current(ctx); err != nil {
				logger.Warn().Err(err).Msg("failed to load shared identity")
			} else {
				initial = current
			}
		}

		err = identitySync.Watch(ctx, func(identity realtime.Identity) {
			if identity == session.Identity() {
				return
			}
			if err := session.SwitchIdentity(ctx, identity); err != nil {
				logger.Warn().Err(err).Str("user_id", identity.UserID).Msg("shared identity switch incomplete")
			}
		})
		if err != nil {
			log.Fatalf("failed to watch shared identity: %v", err)
		}
	}

	if !initial.SignedIn() && initial.Token != "" {
		if derived, err := realtime.IdentityFromToken(initial.Token); err == nil {
			if initial.UserName != "" {
				derived.UserName = initial.UserName
			}
			initial = derived
		} else {
			logger.Warn().Err(err).Msg("configured token carries no user id")
		}
	}

	if initial.SignedIn() {
		if err := session.SwitchIdentity(ctx, initial); err != nil {
			logger.Warn().Err(err).Str("user_id", initial.UserID).Msg("initial sign-in incomplete")
		}
	}

	renderer := view.NewRenderer(view.Options{
		ToastLimit:    cfg.ToastLimit,
		ToastTTL:      cfg.ToastTTL,
		PreviewLength: cfg.PreviewLength,
	})
	sessionHandler := handler.NewSessionHandler(session, renderer, validate, publisher, logger, cfg.StreamKeepAlive)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, router.Dependencies{
		AppName:        cfg.AppName,
		AppEnv:         cfg.AppEnv,
		SessionHandler: sessionHandler,
		Connected:      registry.Connected,
	})

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress()).Str("transport", dialer.Transport()).Msg("messenger bridge listening")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(ctx, app, logger)
}

func waitForShutdown(ctx context.Context, app *fiber.App, logger zerolog.Logger) {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
