package router

import (
	"context"
	"fmt"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/anonto42/nano-midea/notifier/internal/auth"
	"github.com/anonto42/nano-midea/notifier/internal/events"
	"github.com/anonto42/nano-midea/notifier/internal/gateway"
	"github.com/anonto42/nano-midea/notifier/internal/handlers"
	"github.com/anonto42/nano-midea/notifier/internal/middleware"
	"github.com/anonto42/nano-midea/notifier/internal/models"
	"github.com/anonto42/nano-midea/notifier/internal/presence"
	"github.com/anonto42/nano-midea/notifier/internal/repositories"
	"github.com/anonto42/nano-midea/notifier/internal/services"
	"github.com/anonto42/nano-midea/notifier/pkg/config"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dependencies are the long-lived resources opened by main
type Dependencies struct {
	Config       *config.Config
	Postgres     *gorm.DB
	Mongo        *mongo.Client
	Redis        redis.UniversalClient
	FirebaseAuth *fbauth.Client // nil when Firebase is not configured
	Logger       *zap.Logger
}

// Runtime holds the background workers main has to run next to the HTTP server
type Runtime struct {
	Emitter *events.Emitter
	Fanout  *gateway.RedisFanout // nil with local fan-out
}

// SetupRoutes migrates the schema, builds every component and registers all routes
func SetupRoutes(e *echo.Echo, deps Dependencies) (*Runtime, error) {
	cfg := deps.Config
	logger := deps.Logger

	err := deps.Postgres.AutoMigrate(
		&models.User{},
		&models.FriendRequest{},
		&models.Comment{},
		&models.Like{},
		&models.CommentLike{},
		&models.Follow{},
		&models.Notification{},
	)
	if err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("PostgreSQL auto-migrations completed")

	// --- Repositories ---
	userRepo := repositories.NewPostgresUserRepository(deps.Postgres)
	postRepo := repositories.NewMongoPostRepository(deps.Mongo.Database(cfg.Database.MongoDatabase))
	commentRepo := repositories.NewPostgresCommentRepository(deps.Postgres)
	likeRepo := repositories.NewPostgresLikeRepository(deps.Postgres)
	commentLikeRepo := repositories.NewPostgresCommentLikeRepository(deps.Postgres)
	friendshipRepo := repositories.NewPostgresFriendshipRepository(deps.Postgres)
	followRepo := repositories.NewPostgresFollowRepository(deps.Postgres)
	notificationStore := repositories.NewPostgresNotificationRepository(deps.Postgres)

	// --- Credentials ---
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	verifier := auth.Chain{tokens}
	var idTokens auth.IDTokenVerifier
	if deps.FirebaseAuth != nil {
		idTokens = deps.FirebaseAuth
		verifier = append(verifier, auth.NewFirebaseVerifier(deps.FirebaseAuth, userRepo))
	}

	// --- Notification pipeline ---
	tracker := presence.NewTracker(deps.Redis, cfg.Presence.TTL, logger.Named("presence"))
	hub := gateway.NewHub(logger.Named("hub"))

	runtime := &Runtime{}
	var fanout gateway.Broadcaster = gateway.NewLocalFanout(hub)
	if cfg.Gateway.Fanout == config.FanoutRedis {
		runtime.Fanout = gateway.NewRedisFanout(deps.Redis, gateway.DefaultFanoutChannel, hub, logger.Named("fanout"))
		fanout = runtime.Fanout
	}

	gw := gateway.New(hub, tracker, fanout, verifier, gateway.Config{
		SendBuffer:       cfg.Gateway.SendBuffer,
		ActionsPerSecond: cfg.Gateway.ActionsPerSecond,
		PongWait:         cfg.Gateway.PongWait,
		PingInterval:     cfg.Gateway.PingInterval,
	}, logger.Named("gateway"))

	grouping := services.NewGroupingEngine(notificationStore, cfg.Grouping.Window, cfg.Grouping.Lookback,
		cfg.Grouping.MaxMergeAttempts, logger.Named("grouping"))
	notificationService := services.NewNotificationService(notificationStore, grouping, userRepo, tracker, gw, logger.Named("notifications"))
	gw.SetUnreadCounter(notificationService)

	runtime.Emitter = events.NewEmitter(notificationService, cfg.Events.Workers, cfg.Events.QueueSize, logger.Named("emitter"))

	// --- Unprotected routes ---
	health := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"redis": handlers.PingFunc(func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() }),
		"postgres": handlers.PingFunc(func(ctx context.Context) error {
			sqlDB, err := deps.Postgres.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
		"mongo": handlers.PingFunc(func(ctx context.Context) error { return deps.Mongo.Ping(ctx, nil) }),
	})
	e.GET("/health", health.HealthCheck)

	authGroup := e.Group("/api/v1/auth")
	handlers.NewAuthHandler(userRepo, tokens, idTokens, runtime.Emitter).RegisterAuthRoutes(authGroup)
	logger.Info("auth routes configured")

	// websocket authenticates itself at connect time
	e.GET("/ws", gw.ServeWS)

	// --- Protected routes ---
	api := e.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(verifier))

	handlers.NewPostHandler(postRepo, userRepo, runtime.Emitter).RegisterPostRoutes(api)
	handlers.NewFollowHandler(followRepo, userRepo, runtime.Emitter).RegisterFollowRoutes(api)
	handlers.NewFriendshipHandler(friendshipRepo, userRepo, runtime.Emitter).RegisterFriendshipRoutes(api)
	handlers.NewCommentHandler(commentRepo, postRepo, userRepo, runtime.Emitter, logger.Named("comments")).RegisterCommentRoutes(api)
	handlers.NewLikeHandler(likeRepo, postRepo, userRepo, runtime.Emitter, logger.Named("likes")).RegisterLikeRoutes(api)
	handlers.NewCommentLikeHandler(commentLikeRepo, commentRepo, userRepo, runtime.Emitter).RegisterCommentLikeRoutes(api)
	handlers.NewNotificationHandler(notificationService, userRepo, tracker, cfg.Admin.UserIDs).RegisterNotificationRoutes(api)

	logger.Info("all routes configured",
		zap.String("fanout", cfg.Gateway.Fanout),
		zap.Bool("firebase", deps.FirebaseAuth != nil))
	return runtime, nil
}
