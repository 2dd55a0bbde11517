package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"chat-backend/internal/auth"
	"chat-backend/internal/config"
	"chat-backend/internal/database"
	"chat-backend/internal/handler"
	"chat-backend/internal/realtime"
	"chat-backend/internal/repository"
	"chat-backend/internal/service"
	"chat-backend/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}
	if cfg.Realtime.ProcessID == "" {
		cfg.Realtime.ProcessID = uuid.New().String()
	}
	slog.Info("starting chat backend", "processID", cfg.Realtime.ProcessID)

	redisClient, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	db, err := database.NewPostgresConnection(cfg.Database.URI)
	if err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	mediaStore, err := storage.NewMediaStore(cfg.Minio)
	if err != nil {
		slog.Error("failed to connect to MinIO", "error", err)
		os.Exit(1)
	}

	// Repositories
	users := repository.NewUserRepository(db)
	messages := repository.NewMessageRepository(db)
	groups := repository.NewGroupRepository(db)
	contacts := repository.NewContactRepository(db)

	authService := auth.NewService(users, cfg.JWT.Secret, cfg.JWT.ExpirationTime)

	// Realtime engine. The sweep corrects presence counts left behind by
	// crashed processes; the liveness TTL spans a few sweep intervals.
	procTTL := 3 * cfg.Realtime.SweepInterval
	presenceStore := realtime.NewRedisPresence(redisClient, procTTL)
	presence := service.NewPresenceMirror(presenceStore, users)

	var bus realtime.Bus
	switch cfg.Realtime.BusBackend {
	case "kafka":
		bus, err = realtime.NewKafkaBus(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Realtime.ProcessID)
		if err != nil {
			slog.Error("failed to connect to Kafka", "error", err)
			os.Exit(1)
		}
	default:
		bus = realtime.NewRedisBus(redisClient)
	}
	defer bus.Close()

	registry := realtime.NewRegistry()
	rooms := realtime.NewRoomTracker(groups)
	dispatcher := realtime.NewDispatcher(registry, rooms, bus, cfg.Realtime.ProcessID, cfg.Realtime.DedupCacheSize)
	if err := dispatcher.Run(); err != nil {
		slog.Error("failed to subscribe to event bus", "error", err)
		os.Exit(1)
	}

	gateway := realtime.NewGateway(cfg.Realtime, registry, rooms, presence, dispatcher, authService, contacts)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweeper := realtime.NewSweeper(registry, presenceStore, cfg.Realtime.ProcessID, cfg.Realtime.SweepInterval)
	go sweeper.Run(sweepCtx)

	// HTTP surface
	messageService := service.NewMessageService(messages, groups, contacts, dispatcher)
	router := handler.NewRouter(
		handler.NewAuthHandler(authService),
		handler.NewUserHandler(users, presence),
		handler.NewMessageHandler(messageService, messages, users),
		handler.NewGroupHandler(groups, dispatcher),
		handler.NewContactHandler(contacts),
		handler.NewUploadHandler(mediaStore),
		handler.NewWSHandler(gateway),
		authService,
	)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopSweep()
	gateway.Shutdown()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server stopped")
}
