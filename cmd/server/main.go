package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dmchat/internal/chat"
	"dmchat/internal/config"
	"dmchat/internal/db"
	"dmchat/internal/middleware"
	"dmchat/internal/user"
)

func main() {
	// 1. Logging & Config
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && level != zerolog.NoLevel {
		log = log.Level(level)
	}

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	defer database.Close()
	log.Info().Msg("connected to Postgres")

	if err := database.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Realtime core: registry -> presence -> delivery -> gateway
	registry := chat.NewRegistry(log)

	// Optional Redis bridge for multi-instance deployments.
	var publisher chat.EventPublisher
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		bridge := chat.NewBridge(rdb, registry, log)
		go bridge.Run(ctx)
		publisher = bridge
	}

	presence := chat.NewPresenceTracker(registry, publisher, log)
	registry.Subscribe(presence)

	store := chat.NewPostgresStore(database.Conn, cfg.MaxMessageBytes)

	// 4. User feature (auth + accounts)
	validate := validator.New()
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService, validate)

	delivery := chat.NewDelivery(store, registry, userRepo, publisher, log)
	gateway := chat.NewGateway(registry, presence, cfg.SendQueueSize, log)
	chatHandler := chat.NewHandler(delivery, store, gateway, validate, log)

	authMiddleware := middleware.NewAuthMiddleware(userService)

	// 5. Routes
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	// Protected (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/api/users", userHandler.List)
		r.Get("/api/users/search", userHandler.Search)

		// WebSocket (realtime, push-only)
		r.Get("/ws", chatHandler.ServeWS)

		r.Post("/api/conversations", chatHandler.StartConversation)
		r.Post("/api/messages", chatHandler.SendMessage)
		r.Get("/api/messages", chatHandler.History)
	})

	// 6. Serve with graceful shutdown
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown did not complete cleanly")
	}
	registry.CloseAll()
}
