package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zatekoja/healthcare-scheduling/internal/adapters/cache"
	"github.com/zatekoja/healthcare-scheduling/internal/adapters/database"
	"github.com/zatekoja/healthcare-scheduling/internal/adapters/events"
	"github.com/zatekoja/healthcare-scheduling/internal/api/handlers"
	"github.com/zatekoja/healthcare-scheduling/internal/api/routes"
	"github.com/zatekoja/healthcare-scheduling/internal/application/services"
	"github.com/zatekoja/healthcare-scheduling/internal/domain/providers"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/clients/redis"
	"github.com/zatekoja/healthcare-scheduling/internal/infrastructure/observability"
	"github.com/zatekoja/healthcare-scheduling/pkg/config"
)

const serviceName = "healthcare-scheduling"

func main() {
	rootCmd := &cobra.Command{
		Use:          "scheduling",
		Short:        "Appointment booking API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	observability.InitLogger(cfg.Logging, serviceName, cfg.Env)
	return cfg, nil
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, metricsHandler, err := observability.Setup(ctx, cfg.OTEL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				log.Error().Err(err).Msg("Error shutting down OpenTelemetry")
			}
		}()
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
	}
	defer pgClient.Close()

	// The limiter fails open and the lock fails closed, so the server
	// starts even when Redis is down and degrades per request.
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unreachable at startup; booking guards will run degraded")
	}
	defer redisClient.Close()

	rateLimiter := cache.NewRateLimiter(redisClient, cache.RateLimiterConfig{
		OpTimeout: cfg.Booking.RateLimitOpTimeout,
	})
	bookingLock := cache.NewBookingLock(redisClient, cache.BookingLockConfig{
		AcquireTimeout: cfg.Booking.LockAcquireTimeout,
		RetryInterval:  cfg.Booking.LockRetryInterval,
		OpTimeout:      cfg.Booking.RateLimitOpTimeout,
	})
	cacheProvider := cache.NewRedisAdapter(redisClient, cfg.Booking.RateLimitOpTimeout)

	appointmentAdapter := database.NewAppointmentAdapter(pgClient, database.TxConfig{
		MaxAttempts: cfg.Booking.TxMaxRetries,
		Timeout:     cfg.Booking.TxTimeout,
	}, metrics)
	availabilityAdapter := database.NewAvailabilityAdapter(pgClient)
	waitlistAdapter := database.NewWaitlistAdapter(pgClient, database.TxConfig{
		MaxAttempts: cfg.Booking.TxMaxRetries,
		Timeout:     cfg.Booking.TxTimeout,
	}, metrics)

	publisher, subscriber, channel, err := newEventBackends(cfg, redisClient)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing event publisher")
			}
		}()
	}

	availabilityService := services.NewAvailabilityService(
		availabilityAdapter,
		appointmentAdapter,
		cacheProvider,
		cfg.Booking.AvailabilityCacheTTL,
		metrics,
	)
	bookingService := services.NewBookingService(
		appointmentAdapter,
		rateLimiter,
		bookingLock,
		availabilityService,
		publisher,
		services.BookingPolicy{
			RateLimit:            cfg.Booking.RateLimitLimit,
			RateWindow:           cfg.Booking.RateLimitWindow,
			LockTTL:              cfg.Booking.LockTTL,
			LockBucket:           cfg.Booking.LockBucket,
			LockFailOpen:         cfg.Booking.LockFailOpen,
			MaxDuration:          cfg.Booking.MaxDuration,
			SeriesMaxOccurrences: cfg.Booking.SeriesMaxOccurrences,
		},
		metrics,
	)
	waitlistService := services.NewWaitlistService(
		waitlistAdapter,
		bookingService,
		services.WaitlistPolicy{
			Expiry:       cfg.Booking.WaitlistExpiry,
			NotifyWindow: cfg.Booking.WaitlistNotifyWindow,
		},
		metrics,
	)

	notifier := services.NewWaitlistNotifier(waitlistService, subscriber, channel, cfg.Booking.WaitlistCleanupEvery)
	go notifier.Run(ctx)

	router := routes.NewRouter(
		handlers.NewAppointmentHandler(bookingService, availabilityService),
		handlers.NewSeriesHandler(bookingService),
		handlers.NewAvailabilityHandler(availabilityService),
		handlers.NewWaitlistHandler(waitlistService),
		metricsHandler,
		map[string]routes.HealthCheck{
			"postgres": pgClient.Ping,
			"redis":    redisClient.Ping,
		},
		cfg.Server.CORSOrigins,
		metrics,
	)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", serverAddr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info().Msg("Server shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during server shutdown")
	}

	log.Info().Msg("Server stopped")
	return nil
}

// newEventBackends returns the publisher and subscriber of the configured
// backend and the channel or topic the waitlist listens on. Both are nil
// when events are disabled.
func newEventBackends(cfg *config.Config, redisClient *redis.Client) (providers.EventPublisher, providers.EventSubscriber, string, error) {
	switch cfg.Events.Backend {
	case "redis":
		log.Info().Str("channel", cfg.Events.Channel).Msg("Publishing booking events to Redis")
		bus := events.NewRedisEventBus(redisClient, cfg.Events.Channel)
		return bus, bus, cfg.Events.Channel, nil
	case "kafka":
		publisher, err := events.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, nil, "", fmt.Errorf("failed to initialize Kafka publisher: %w", err)
		}
		subscriber, err := events.NewKafkaSubscriber(cfg.Kafka)
		if err != nil {
			_ = publisher.Close()
			return nil, nil, "", fmt.Errorf("failed to initialize Kafka subscriber: %w", err)
		}
		log.Info().
			Strs("brokers", cfg.Kafka.Brokers).
			Str("topic", cfg.Kafka.Topic).
			Str("group", cfg.Kafka.ConsumerGroup).
			Msg("Publishing and consuming booking events on Kafka")
		return publisher, subscriber, cfg.Kafka.Topic, nil
	default:
		log.Info().Msg("Booking events disabled, waitlist notifications off")
		return nil, nil, "", nil
	}
}
