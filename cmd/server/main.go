package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coinup/backend/internal/auth"
	jwtpkg "coinup/backend/internal/auth/jwt"
	localcache "coinup/backend/internal/cache"
	"coinup/backend/internal/config"
	"coinup/backend/internal/extractor"
	"coinup/backend/internal/health"
	"coinup/backend/internal/logger"
	"coinup/backend/internal/mailbox"
	"coinup/backend/internal/monitoring"
	"coinup/backend/internal/service"
	"coinup/backend/internal/storage"
	"coinup/backend/internal/storage/memory"
	rediscache "coinup/backend/internal/storage/redis"
	sqlstore "coinup/backend/internal/storage/sql"
	httptransport "coinup/backend/internal/transport/http"
	"coinup/backend/internal/watch"
	"coinup/backend/internal/websocket"
)

// main 启动 HTTP API 与付款邮箱轮询引擎。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting coinup server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	store, err := initializeStorage(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	metrics := monitoring.NewMetrics()

	// Redis 缓存（可选加速层）
	var cache *rediscache.Cache
	if cfg.Redis.Enabled {
		cache, err = rediscache.NewCache(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer cache.Close()
		log.Info("redis cache enabled", zap.String("address", cfg.Redis.Address))
	}

	// 初始化服务层
	authService := auth.NewService(store, log)
	jwtManager := jwtpkg.NewManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)

	topupService := service.NewTopupService(store, cfg, log)
	if cache != nil {
		topupService.SetCache(cache)
	} else {
		// 没有 Redis 时退化为进程内缓存
		topupService.SetCache(localcache.NewLocalTopupCache(5 * time.Minute))
	}
	paymentLogService := service.NewPaymentLogService(store, log)
	gameService := service.NewGameService(store, log)
	usernameService := service.NewUsernameService(store, store, log)
	confirmService := service.NewConfirmService(topupService, paymentLogService, cfg, log, metrics)

	// WebSocket 推送
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, jwtManager, log)
	confirmService.SetNotifier(wsHub)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 轮询引擎：未配置邮箱时不启动，只提供查询接口
	var engine *watch.Engine
	var lease *sqlstore.EngineLease
	if cfg.Mail.Host != "" {
		// 多实例部署时用 PostgreSQL 咨询锁保证只有一个活跃引擎
		if cfg.Database.Type == "postgres" {
			lease, err = sqlstore.NewEngineLease(ctx, cfg.Database.DSN)
			if err != nil {
				log.Fatal("failed to open engine lease connection", zap.Error(err))
			}
			defer lease.Close()

			if err := lease.Acquire(ctx); err != nil {
				if errors.Is(err, sqlstore.ErrLeaseHeld) {
					log.Info("engine lease held by another instance, running API only")
					lease.Close()
					lease = nil
				} else {
					log.Fatal("failed to acquire engine lease", zap.Error(err))
				}
			}
		}

		if cfg.Database.Type != "postgres" || lease != nil {
			dialer := mailbox.NewDialer(mailbox.Config{
				Host:     cfg.Mail.Host,
				Port:     cfg.Mail.Port,
				Username: cfg.Mail.Username,
				Password: cfg.Mail.Password,
				UseSSL:   cfg.Mail.UseSSL,
				Folders:  cfg.Mail.Folders,
				Timeout:  cfg.Mail.FetchTimeout,
			})
			ext := extractor.NewCommand(cfg.Extractor.Command, cfg.Extractor.Args, cfg.Extractor.Timeout)
			engine = watch.NewEngine(dialer, ext, topupService, confirmService, paymentLogService, store, cfg, log, metrics)
			topupService.SetWatermarkSource(engine)

			// 凭证错误在这里直接失败，不带着坏凭证进轮询循环
			if err := engine.Start(); err != nil {
				log.Fatal("failed to start watch engine", zap.Error(err))
			}
		}
	} else {
		log.Warn("mail host not configured, watch engine disabled")
	}

	var engineStatus health.EngineStatus
	var engineController httptransport.EngineController
	if engine != nil {
		engineStatus = engine
		engineController = engine
	}
	healthChecker := health.NewHealthChecker(store, engineStatus, log)

	// HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:            cfg,
		AuthService:       authService,
		TopupService:      topupService,
		GameService:       gameService,
		UsernameService:   usernameService,
		PaymentLogService: paymentLogService,
		JWTManager:        jwtManager,
		Engine:            engineController,
		WebSocketHub:      wsHub,
		HealthChecker:     healthChecker,
		Metrics:           metrics,
		Store:             store,
		Logger:            log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 定时把过期的待确认请求落库为 expired
	group.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		log.Info("starting topup expiry sweeper", zap.Duration("interval", time.Minute))

		for {
			select {
			case <-groupCtx.Done():
				log.Info("topup expiry sweeper stopped")
				return nil
			case <-ticker.C:
				count, err := topupService.ExpireOverdue()
				if err != nil {
					log.Error("failed to expire overdue topups", zap.Error(err))
				} else if count > 0 {
					metrics.TopupsExpired.Add(float64(count))
				}
			}
		}
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		if engine != nil {
			engine.Stop()
		}
		if lease != nil {
			if err := lease.Release(shutdownCtx); err != nil {
				log.Warn("failed to release engine lease", zap.Error(err))
			}
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 按配置选择存储实现：空类型用内存存储（开发环境）
func initializeStorage(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	pool := sqlstore.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	switch cfg.Database.Type {
	case "postgres":
		store, err := sqlstore.NewStore(cfg.Database.DSN, pool)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		log.Info("using postgres storage")
		return store, nil
	case "mysql":
		store, err := sqlstore.NewMySQLStore(cfg.Database.DSN, pool)
		if err != nil {
			return nil, fmt.Errorf("failed to open mysql store: %w", err)
		}
		log.Info("using mysql storage")
		return store, nil
	case "":
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %q", cfg.Database.Type)
	}
}
