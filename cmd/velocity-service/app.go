package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	_ "github.com/lib/pq" // PostgreSQL driver

	"velo/internal/broker"
	"velo/internal/config"
	"velo/internal/constants"
	"velo/internal/logger"
	"velo/internal/profile"
	"velo/internal/velocity"
	"velo/pkg/bootstrap"
	"velo/pkg/cel"
	"velo/pkg/health"
	"velo/pkg/metrics"
	"velo/pkg/middleware"
	"velo/pkg/migrations"
	"velo/pkg/ratelimit"
)

type App struct {
	config      *config.Config
	logger      logger.Logger
	dbConnector *bootstrap.DatabaseConnector
	db          *sql.DB
	mongoClient *mongo.Client
	mongoDB     *mongo.Database
	redisClient *redis.Client
	producer    broker.Producer
	server      *http.Server
	router      *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		return err
	}
	a.mongoClient = mongoClient

	dbName := a.config.Database.MongoDB.Database
	if dbName == "" {
		dbName = constants.DefaultMongoDBName
	}
	a.mongoDB = mongoClient.Database(dbName)

	if err := migrations.EnsureMongoIndexes(ctx, a.mongoDB); err != nil {
		return fmt.Errorf("failed to ensure mongo indexes: %w", err)
	}

	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.logger.WarnwCtx(ctx, "Redis connection failed, result cache disabled", "error", err)
	} else {
		a.redisClient = redisClient
	}

	return nil
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.Config{
			RPS:             a.config.RateLimit.RPS,
			Burst:           a.config.RateLimit.Burst,
			CleanupInterval: time.Duration(a.config.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.config.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.Middleware(rateLimitConfig))
		a.logger.InfowCtx(context.Background(), "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create rule evaluator: %w", err)
	}

	profileRepo := profile.NewRepository(a.db)

	profileOpts := []profile.ServiceOption{}
	if a.config.Broker.Type == "kafka" && a.config.Broker.Kafka.ConfigEventTopic != "" {
		producer, err := broker.NewProducer(a.config.Broker, a.logger)
		if err != nil {
			a.logger.WarnwCtx(context.Background(), "Failed to create config event producer, config events will be disabled", "error", err)
		} else {
			a.producer = producer
			profileOpts = append(profileOpts,
				profile.WithConfigEvents(profile.NewConfigEventProducer(producer, a.config.Broker.Kafka.ConfigEventTopic)))
			a.logger.InfowCtx(context.Background(), "Config event producer initialized")
		}
	}

	profileService := profile.NewService(profileRepo, evaluator, a.logger, profileOpts...)

	velocityOpts := []velocity.ServiceOption{}
	if a.redisClient != nil && a.config.Velocity.CacheTTLSeconds > 0 {
		ttl := time.Duration(a.config.Velocity.CacheTTLSeconds) * time.Second
		velocityOpts = append(velocityOpts,
			velocity.WithResultCache(velocity.NewRedisResultCache(a.redisClient, ttl, a.logger)))
	}

	velocityService := velocity.NewService(
		profileService,
		velocity.NewMongoItemSource(a.mongoDB),
		velocity.NewMongoEventSource(a.mongoDB),
		velocity.NewMongoOrgDirectory(a.mongoDB),
		evaluator,
		velocity.Options{
			Workers:         a.config.Velocity.Workers,
			DefaultPageSize: a.config.Velocity.DefaultPageSize,
		},
		a.logger,
		velocityOpts...,
	)

	profile.NewHandler(profileService, a.logger).RegisterRoutes(router)
	velocity.NewHandler(velocityService, a.logger).RegisterRoutes(router)

	metrics.Register()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

func (a *App) initServer() error {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.config.Server.WriteTimeoutSeconds * time.Second,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return a.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	dbErrs := a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)
	errs = append(errs, dbErrs...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Server exited successfully")
	return nil
}
