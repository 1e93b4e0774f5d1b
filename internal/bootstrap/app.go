package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "ripple/internal/handler/http"
	wsHandler "ripple/internal/handler/websocket"
	"ripple/internal/hub"
	gormpersistence "ripple/internal/infra/persistence/gorm"
	"ripple/internal/infra/setup"
	"ripple/internal/middleware"
	"ripple/internal/ratelimit"
	"ripple/internal/service"
	"ripple/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config       *Config
	Log          *logrus.Logger
	DB           *gorm.DB
	RedisClient  *redis.Client // REDIS_ADDR 为空时为 nil
	Hub          *hub.Hub
	Sweeper      *worker.Sweeper
	WorkerServer *worker.WorkerServer // 仅 SWEEP_SCHEDULER=asynq 时创建
	HttpServer   *http.Server
}

// NewApp 加载配置并创建应用
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		// 使用标准错误输出记录启动时错误，因为 logrus 可能还未完全配置
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}
	return NewAppWithConfig(cfg)
}

// NewAppWithConfig 按给定配置创建并初始化应用的所有组件
func NewAppWithConfig(cfg *Config) (*App, error) {
	// 1. 初始化 Logger。各组件使用包级 logrus，所以配置标准 Logger
	log := logrus.StandardLogger()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // 已在 Validate 中校验
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	log.Infof("Logger initialized (Level: %s, Env: %s)", logLevel.String(), cfg.AppEnv)

	// 2. 初始化基础设施
	db, err := setup.InitDB(cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database migrated")

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("failed to init Redis: %w", err)
		}
		log.Info("Redis client initialized")
	} else {
		log.Info("REDIS_ADDR not set, per-IP rate limiting disabled")
	}

	// 3. 初始化 Repositories
	roomRepo := gormpersistence.NewGormRoomRepository(db)
	participantRepo := gormpersistence.NewGormParticipantRepository(db)
	postRepo := gormpersistence.NewGormPostRepository(db)
	voteRepo := gormpersistence.NewGormVoteRepository(db)

	// 4. 初始化领域组件
	limiter := ratelimit.New(map[ratelimit.Class]ratelimit.Rule{
		ratelimit.ClassPost: {Limit: cfg.PostRateLimit, Window: cfg.PostRateWindow},
		ratelimit.ClassVote: {Limit: cfg.VoteRateLimit, Window: cfg.VoteRateWindow},
	})
	registry := service.NewRegistry(roomRepo, participantRepo)
	hubInstance := hub.NewHub(registry, hub.Options{
		SendTimeout:   cfg.WSSendTimeout,
		SendQueueSize: cfg.WSSendQueue,
	})
	ledger := service.NewVoteLedger(voteRepo)
	postService := service.NewPostService(registry, postRepo, participantRepo, ledger, limiter, hubInstance)

	issuer, err := service.NewSessionIssuer(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to create SessionIssuer: %w", err)
	}
	sessions := middleware.NewSessions(issuer, []byte(cfg.CookieHashKey), cfg.CookieSecure)

	// 5. 清理任务
	sweeper := worker.NewSweeper(roomRepo, registry, hubInstance, worker.SweeperConfig{
		Interval:   cfg.SweepInterval,
		WarnBefore: cfg.ExpiryWarning,
	}, limiter)
	var workerServer *worker.WorkerServer
	if cfg.SweepScheduler == SchedulerAsynq {
		workerServer = worker.NewWorkerServer(asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, sweeper, log)
	}

	// 6. 初始化 Handlers 和路由
	router := newRouter(cfg, log, routeDeps{
		sessions:    sessions,
		rooms:       httpHandler.NewRoomHandler(registry, issuer, sessions),
		posts:       httpHandler.NewPostHandler(postService),
		ws:          wsHandler.NewWebSocketHandler(hubInstance, registry, cfg.CORSAllowedOrigin),
		redisClient: redisClient,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("Application assembled successfully")
	return &App{
		Config:       cfg,
		Log:          log,
		DB:           db,
		RedisClient:  redisClient,
		Hub:          hubInstance,
		Sweeper:      sweeper,
		WorkerServer: workerServer,
		HttpServer:   httpServer,
	}, nil
}

// Start 启动清理任务和 HTTP 服务器
func (a *App) Start() {
	if a.WorkerServer != nil {
		go func() {
			if err := a.WorkerServer.Start(); err != nil {
				a.Log.Errorf("Asynq worker server failed: %v", err)
			}
		}()
	} else {
		a.Sweeper.Start()
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 关闭所有实时连接 (1001)
	a.Hub.Shutdown()

	// 3. 停止清理任务，等待正在执行的周期
	if a.WorkerServer != nil {
		a.WorkerServer.Shutdown()
	}
	a.Sweeper.Stop()

	// 4. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}

	// 5. 关闭数据库连接
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Log.Errorf("Error closing database connection: %v", err)
		} else {
			a.Log.Info("Database connection closed.")
		}
	}

	a.Log.Info("Application shutdown complete.")
}
