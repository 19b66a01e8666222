package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"go-social/internal/config"
	"go-social/internal/db"
	"go-social/internal/event"
	"go-social/internal/message"
	myMiddleware "go-social/internal/middleware"
	"go-social/internal/notification"
	"go-social/internal/realtime"
	"go-social/internal/user"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("❌ server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config & Flags
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	addr := flag.String("addr", cfg.Server.Addr, "http service address")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Connect to Database
	database, err := db.NewDatabase(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer database.Close()
	logger.Info("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		return err
	}
	logger.Info("✅ Database Schema Initialized")

	// 3. Connect to Redis (optional, enables multiple instances)
	var (
		bus     realtime.Bus
		counter realtime.ConnCounter
	)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}

		redisBus, err := realtime.NewRedisBus(ctx, redisClient, cfg.Redis.Channel, logger)
		if err != nil {
			return err
		}
		defer redisBus.Close()
		bus = redisBus
		counter = realtime.NewRedisCounter(redisClient, "")
		logger.Info("✅ Connected to Redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	} else {
		logger.Warn("⚠️ REDIS_ADDR is empty, running as a single instance")
	}

	// 4. Persistence gateway
	userRepo := user.NewRepository(database.Conn)
	eventRepo := event.NewRepository(database.Conn)
	messageRepo := message.NewRepository(database.Conn)
	notificationRepo := notification.NewRepository(database.Conn)

	// 5. Realtime core
	hub := realtime.NewHub(bus, logger)
	wsServer := realtime.NewServer(hub, realtime.Stores{
		Users:    userRepo,
		Events:   eventRepo,
		Messages: messageRepo,
	}, counter, realtime.Options{
		HandlerTimeout: cfg.Realtime.HandlerTimeout,
		AllowedOrigins: cfg.Realtime.AllowedOrigins,
		MaxMessageSize: cfg.Realtime.MaxMessageSize,
		MaxInFlight:    cfg.Realtime.MaxInFlight,
	}, logger)

	notificationService := notification.NewService(notificationRepo, hub, logger)
	notificationHandler := notification.NewHandler(notificationService)

	userService := user.NewService(cfg.JWT.Secret, cfg.JWT.TTL)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 6. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		// WebSocket (Real-time)
		r.Get("/ws", wsServer.ServeWs)

		r.Get("/api/notifications", notificationHandler.List)
		r.Post("/api/notifications", notificationHandler.Create)
	})

	httpServer := &http.Server{Addr: *addr, Handler: r}

	// 7. Run until a signal arrives
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("🚀 Server starting", "addr", *addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// The hub can fail on its own; take the HTTP server down with it.
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http-server": func(ctx context.Context) error {
				logger.Info("🛑 Shutting down HTTP server")
				return httpServer.Shutdown(ctx)
			},
			"realtime-hub": func(ctx context.Context) error {
				cancel()
				return nil
			},
		},
	)

	select {
	case err := <-done:
		// Something failed before any signal arrived.
		return err
	case code := <-wait:
		if err := <-done; err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("shutdown finished with exit code %d", code)
		}
		logger.Info("👋 Server stopped")
		return nil
	}
}
