package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chatsync/internal/cache"
	"chatsync/internal/config"
	"chatsync/internal/db"
	"chatsync/internal/events"
	grpcserver "chatsync/internal/grpc"
	"chatsync/internal/handlers"
	"chatsync/internal/logging"
	"chatsync/internal/messaging"
	"chatsync/internal/middleware"
	"chatsync/internal/observability"
	"chatsync/internal/presence"
	"chatsync/internal/repositories"
	"chatsync/internal/storage"
	"chatsync/internal/supervisor"
	"chatsync/internal/telemetry"
	"chatsync/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, cfg.Environment)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	database, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	var redisClient *cache.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = cache.New(ctx, cfg.Redis)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	} else {
		logging.Warn().Msg("redis disabled: no idempotency keys or rate limits")
	}
	limiter := cache.NewLimiter(redisClient)
	idempotency := cache.NewIdempotencyStore(redisClient)

	var attachments messaging.AttachmentStore
	if cfg.Storage.Endpoint != "" {
		store, err := storage.New(cfg.Storage)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to create attachment store")
		}
		if err := store.EnsureBucket(ctx); err != nil {
			logging.Fatal().Err(err).Msg("failed to prepare attachment bucket")
		}
		attachments = store
	} else {
		logging.Warn().Msg("attachment storage disabled")
	}

	publisher := events.Counted(events.New(cfg.Events))
	defer publisher.Close()
	logging.Info().Str("mode", events.Mode(publisher)).Str("reason", events.NoopReason(publisher)).Msg("event publisher ready")
	audit := telemetry.NewAuditEmitter(publisher, cfg.Events.AuditKey, cfg.Tracing.ServiceName, cfg.Environment)

	chatRepo := repositories.NewChatRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	registry := presence.NewRegistry()

	hub := ws.NewHub(registry, chatRepo, userRepo, publisher, ws.Options{
		SendBuffer:           cfg.WS.SendBuffer,
		AllowAnonymousJoin:   cfg.WS.AllowAnonymousJoin,
		VerifyRoomMembership: cfg.WS.VerifyRoomMembership,
		InboundRate:          cfg.WS.InboundRate,
		InboundBurst:         cfg.WS.InboundBurst,
		StoreTimeout:         cfg.Messages.StoreTimeout,
	})

	service := messaging.NewService(chatRepo, messageRepo, userRepo, messaging.Deps{
		Attachments: attachments,
		Emitter:     hub,
		Events:      publisher,
		Audit:       audit,
	}, messaging.Options{
		PageSize:      cfg.Messages.PageSize,
		MaxPageSize:   cfg.Messages.MaxPageSize,
		StoreTimeout:  cfg.Messages.StoreTimeout,
		UploadTimeout: cfg.Messages.UploadTimeout,
	})

	verifier := middleware.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	chatHandler := handlers.NewChatHandler(service)
	messageHandler := handlers.NewMessageHandler(service, cfg.Messages.MaxUploadBytes)
	userHandler := handlers.NewUserHandler(userRepo, registry)
	wsHandler := ws.NewHandler(hub, verifier, middleware.BearerToken)

	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		otelgin.Middleware(cfg.Tracing.ServiceName),
		middleware.RequestID(),
		middleware.RequestLogger(),
		observability.HTTPMetricsMiddleware(),
		gin.Recovery(),
	)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterHealthRoutes(router, database)
	handlers.RegisterDebugRoutes(router, audit, cfg.Server.Debug)
	router.GET("/ws", wsHandler.Handle)

	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(verifier))
	{
		once := middleware.Idempotency(idempotency, cfg.Messages.IdempotencyTTL)
		sendLimit := middleware.RateLimit(limiter, "send", cfg.Messages.SendRateLimit, cfg.Messages.SendRateWindow)

		api.GET("/chats", chatHandler.ListChats)
		api.GET("/chats/:chatId", chatHandler.GetChat)
		api.POST("/chats", once, chatHandler.AccessChat)
		api.POST("/chats/group", once, chatHandler.CreateGroup)

		api.GET("/messages/:chatId", messageHandler.ListMessages)
		api.POST("/messages", sendLimit, once, messageHandler.SendMessage)
		api.POST("/messages/upload", sendLimit, once, messageHandler.UploadMessage)
		api.PUT("/messages/:id", once, messageHandler.EditMessage)
		api.DELETE("/messages/:id", messageHandler.DeleteMessage)
		api.POST("/messages/:id/like", once, messageHandler.ToggleLike)
		api.PUT("/messages/:id/like", messageHandler.SetLike)
		api.POST("/messages/:id/read", messageHandler.MarkRead)

		api.GET("/users", userHandler.SearchUsers)
		api.GET("/users/online", userHandler.OnlineUsers)
		api.GET("/users/:id", userHandler.GetUser)
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	tree := supervisor.NewTree(supervisor.TreeConfig{ShutdownTimeout: cfg.Server.ShutdownTimeout})
	tree.AddRealtime(hub)
	tree.AddAPI(supervisor.NewHTTPService("http-server", httpServer, cfg.Server.ShutdownTimeout))
	if cfg.GRPC.Enabled {
		tree.AddAPI(grpcserver.NewServer(cfg.GRPC.Addr(), database.PingContext, 10*time.Second))
	}

	logging.Info().Int("port", cfg.Server.Port).Str("env", cfg.Environment).Msg("chat service starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	logging.Info().Msg("chat service stopped")
}
