package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/farmacia/farmacia-backend/internal/inventory/consumers"
	"github.com/farmacia/farmacia-backend/internal/inventory/events"
	"github.com/farmacia/farmacia-backend/internal/inventory/handler"
	"github.com/farmacia/farmacia-backend/internal/inventory/repository"
	"github.com/farmacia/farmacia-backend/internal/inventory/service"
	"github.com/farmacia/farmacia-backend/pkg/cache"
	"github.com/farmacia/farmacia-backend/pkg/config"
	"github.com/farmacia/farmacia-backend/pkg/database"
	"github.com/farmacia/farmacia-backend/pkg/httputil"
	"github.com/farmacia/farmacia-backend/pkg/i18n"
	"github.com/farmacia/farmacia-backend/pkg/logger"
	"github.com/farmacia/farmacia-backend/pkg/messaging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const serviceName = "pharmacy-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment, logger.Options{Level: cfg.Server.LogLevel})
	log.Info().Msg("starting Pharmacy Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	opts := service.Options{
		DefaultLowStockThreshold: cfg.Inventory.DefaultLowStockThreshold,
		IdempotencyTTL:           cfg.Redis.IdempotencyTTL,
	}
	health := map[string]func(context.Context) map[string]string{
		"database": db.Health,
	}

	// RabbitMQ carries outgoing inventory events plus the user and supplier feeds.
	var rmq *messaging.RabbitMQ
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}

		publisher, err := events.NewInventoryEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
		opts.Publisher = publisher
		health["rabbitmq"] = func(context.Context) map[string]string { return rmq.Health() }
	} else {
		log.Warn().Msg("RabbitMQ disabled: events are not published and users and suppliers are not synced")
	}

	// Redis guards fulfillment across replicas.
	if cfg.Redis.Enabled {
		redisCache, err := cache.New(ctx, &cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer redisCache.Close()

		opts.Guard = redisCache
		health["redis"] = redisCache.Health
	}

	// Initialize repositories
	medicationRepo := repository.NewMedicationRepository(db)
	supplierRepo := repository.NewSupplierRepository(db)
	movementRepo := repository.NewMovementRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	deliveryRepo := repository.NewDeliveryRepository(db)
	userCacheRepo := repository.NewUserCacheRepository(db)

	inventoryService := service.NewInventoryService(db, service.Stores{
		Medications: medicationRepo,
		Suppliers:   supplierRepo,
		Movements:   movementRepo,
		Requests:    requestRepo,
		Deliveries:  deliveryRepo,
	}, opts, log)

	handlers := handler.Handlers{
		Medications: handler.NewMedicationHandler(inventoryService, cfg.Inventory.ExpiringWindowDays, log),
		Requests:    handler.NewRequestHandler(inventoryService, log),
		Movements:   handler.NewMovementHandler(inventoryService, log),
	}

	if rmq != nil {
		userConsumer, err := consumers.NewUserEventConsumer(rmq, userCacheRepo, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create user event consumer")
		}
		if err := userConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start user event consumer")
		}

		supplierConsumer, err := consumers.NewSupplierEventConsumer(rmq, supplierRepo, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create supplier event consumer")
		}
		if err := supplierConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start supplier event consumer")
		}
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Accept-Language", handler.HeaderIdempotencyKey},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(i18n.Middleware)
	r.Use(httputil.ActorMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":  "healthy",
			"service": serviceName,
		}
		for name, check := range health {
			status := check(r.Context())
			if status["status"] != "up" {
				body["status"] = "degraded"
			}
			body[name] = status
		}
		httputil.JSON(w, http.StatusOK, body)
	})

	r.Route("/api/v1", handlers.Mount)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers
	cancel()

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
