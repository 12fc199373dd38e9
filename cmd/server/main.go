package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"services/backtest-service/internal/backtest"
	"services/backtest-service/internal/client"
	"services/backtest-service/internal/config"
	"services/backtest-service/internal/handler"
	"services/backtest-service/internal/kafka"
	"services/backtest-service/internal/middleware"
	"services/backtest-service/internal/repository"
	"services/backtest-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	logger, err := createLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	decimal.MarshalJSONWithoutQuotes = true

	simCfg, err := cfg.Backtest.Simulator()
	if err != nil {
		logger.Fatal("Invalid backtest configuration", zap.Error(err))
	}

	// Storage
	var (
		runStore      service.BacktestStore
		strategyStore service.StrategyStore
	)
	if cfg.Database.Enabled {
		db, err := connectToDB(cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		runStore = repository.NewBacktestRepository(db, logger)
		strategyStore = repository.NewStrategyRepository(db, logger)
	} else {
		logger.Warn("Database disabled, results are kept in memory")
		runStore = repository.NewMemoryBacktestRepository()
		strategyStore = repository.NewMemoryStrategyRepository()
	}

	// Candle source
	var source client.CandleSource = client.NewUpbitClient(client.UpbitOptions{
		BaseURL:    cfg.Upbit.BaseURL,
		Timeout:    cfg.Upbit.Timeout,
		MaxRetries: cfg.Upbit.MaxRetries,
		PageSize:   cfg.Upbit.PageSize,
	}, logger)

	if cfg.Redis.Enabled {
		redisClient, err := connectToRedis(cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, candle cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			source = repository.NewCandleCache(source, redisClient, cfg.Redis.TTL, logger)
		}
	}

	// Events
	var events service.EventPublisher
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(strings.Split(cfg.Kafka.Brokers, ","), "backtest-service", logger)
		defer producer.Close()
		events = kafka.NewBacktestEvents(producer, cfg.Kafka.Topic("backtestCompleted", "backtest.completed"))
	}

	// Initialize services
	simulator := backtest.NewSimulator(simCfg, logger)
	backtestService := service.NewBacktestService(source, simulator, runStore, events, cfg.Backtest, logger)
	strategyService := service.NewStrategyService(strategyStore, backtestService, logger)

	// Initialize handlers
	backtestHandler := handler.NewBacktestHandler(backtestService, logger)
	strategyHandler := handler.NewStrategyHandler(strategyService, backtestHandler, logger)

	var limiter *middleware.RunLimiter
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter = middleware.NewRunLimiter(cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst)
	}

	// Set up HTTP server with Gin
	router := setupRouter(backtestHandler, strategyHandler, cfg.Auth.JWTSecret, limiter, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create a deadline for server shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited properly")
}

func createLogger(level string) (*zap.Logger, error) {
	// Parse log level
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config := zap.Config{
		Level:            zapLevel,
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

func connectToDB(dbConfig config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.DBName,
		dbConfig.SSLMode,
	)

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	return db, nil
}

func connectToRedis(redisConfig config.RedisConfig) (*redis.Client, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisConfig.Addr,
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, err
	}
	return redisClient, nil
}

func setupRouter(
	backtestHandler *handler.BacktestHandler,
	strategyHandler *handler.StrategyHandler,
	jwtSecret string,
	limiter *middleware.RunLimiter,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()

	// Use middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	auth := middleware.AuthMiddleware(jwtSecret, logger)
	limit := middleware.RateLimit(limiter)

	v1 := router.Group("/api/v1")
	{
		backtests := v1.Group("/backtests")
		{
			backtests.GET("/results/:strategyId", backtestHandler.ListResults)
			backtests.GET("/runs/:id", backtestHandler.GetRun)

			backtests.POST("", auth, limit, backtestHandler.RunBacktest)
			backtests.POST("/batch", auth, limit, backtestHandler.RunBatch)
		}

		strategies := v1.Group("/strategies")
		{
			strategies.GET("", strategyHandler.ListStrategies)
			strategies.GET("/:id", strategyHandler.GetStrategy)

			// Mutating routes
			strategies.POST("", auth, strategyHandler.CreateStrategy)
			strategies.PATCH("/:id", auth, strategyHandler.UpdateStrategy)
			strategies.DELETE("/:id", auth, strategyHandler.DeleteStrategy)
			strategies.POST("/:id/start", auth, strategyHandler.StartStrategy)
			strategies.POST("/:id/stop", auth, strategyHandler.StopStrategy)
			strategies.POST("/:id/backtest", auth, limit, strategyHandler.BacktestStrategy)
		}
	}

	return router
}
