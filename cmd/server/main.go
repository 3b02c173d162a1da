package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"devinbox/backend/internal/auth"
	jwtpkg "devinbox/backend/internal/auth/jwt"
	"devinbox/backend/internal/blob"
	"devinbox/backend/internal/cache"
	"devinbox/backend/internal/config"
	"devinbox/backend/internal/health"
	"devinbox/backend/internal/logger"
	"devinbox/backend/internal/middleware"
	"devinbox/backend/internal/monitoring"
	"devinbox/backend/internal/service"
	"devinbox/backend/internal/smtp"
	"devinbox/backend/internal/storage"
	"devinbox/backend/internal/storage/gormstore"
	"devinbox/backend/internal/storage/memory"
	redisstore "devinbox/backend/internal/storage/redis"
	"devinbox/backend/internal/sweep"
	"devinbox/backend/internal/tenant"
	httptransport "devinbox/backend/internal/transport/http"
)

// main 启动同时包含 HTTP API 与 SMTP 收信的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting devinbox server",
		zap.String("base_domain", cfg.SMTP.BaseDomain),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = gormstore.NewStore(&cfg.Database)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// 附件落盘存储
	blobs, err := blob.NewStore(cfg.Blob.Root)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize blob storage: %v", err))
	}
	log.Info("blob storage initialized", zap.String("root", blobs.Root()))

	// Redis 可选：提供项目解析缓存和跨实例的 JWT 黑名单。
	// 未配置 Redis 时黑名单退化为进程内存，重启后已注销的令牌会重新生效，
	// 单实例部署可以接受。
	// projectRepo 同时供 SMTP 解析和控制台项目读写使用：写操作经过
	// 同一个装饰器，更新和删除会立即让缓存的 slug 失效。
	var denylist storage.JWTRepository
	projectRepo := storage.ProjectRepository(store)
	if cfg.Redis.Address != "" {
		redisClient, err := redisstore.New(&cfg.Redis)
		if err != nil {
			panic(fmt.Sprintf("failed to connect redis: %v", err))
		}
		defer redisClient.Close()

		cache := redisstore.NewCache(redisClient)
		denylist = cache
		projectRepo = redisstore.NewCachedProjects(store, cache, 5*time.Minute)
		log.Info("redis cache enabled", zap.String("address", cfg.Redis.Address))
	} else if ms, ok := store.(*memory.Store); ok {
		denylist = ms
	} else {
		denylist = memory.NewStore()
		projectRepo = cache.NewProjects(store, 5*time.Minute, 10000)
		log.Warn("no redis configured, JWT blacklist is process-local")
	}

	// 初始化监控系统
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewChecker(store, blobs, log)

	// 初始化服务层
	projectService := service.NewProjectService(projectRepo, blobs, log)
	messageService := service.NewMessageService(store, blobs, log)

	jwtManager := jwtpkg.NewManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)
	authService := auth.NewService(store, jwtManager, denylist, log)

	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
		zap.Duration("refresh_expiry", cfg.JWT.RefreshExpiry),
	)

	// 收件地址解析
	resolver := tenant.NewResolver(cfg.SMTP.BaseDomain, projectRepo)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		ProjectService: projectService,
		MessageService: messageService,
		AuthService:    authService,
		Monitoring:     middleware.NewMonitoringMiddleware(metrics, log),
		Logger:         log,
	})

	// 健康检查处理器（用于 Kubernetes 等）
	router.GET("/health/live", gin.WrapH(healthChecker.Handler()))
	router.GET("/health/ready", gin.WrapH(healthChecker.Handler()))

	// Prometheus 指标端点
	router.GET("/metrics", gin.WrapH(metrics.HTTPHandler()))

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 创建 SMTP 服务器
	limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.MaxPerMinute)
	smtpBackend := smtp.NewBackend(resolver, messageService, limiter, metrics, cfg.SMTP.MaxMessageBytes, log)
	smtpServer := gosmtp.NewServer(smtpBackend)
	smtpServer.Addr = cfg.SMTP.BindAddr
	smtpServer.Domain = cfg.SMTP.Hostname
	smtpServer.ReadTimeout = cfg.SMTP.ReadTimeout
	smtpServer.WriteTimeout = cfg.SMTP.WriteTimeout
	smtpServer.MaxMessageBytes = cfg.SMTP.MaxMessageBytes
	smtpServer.MaxRecipients = cfg.SMTP.MaxRecipients

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// SMTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("hostname", cfg.SMTP.Hostname),
			zap.String("base_domain", cfg.SMTP.BaseDomain),
		)
		if err := smtpServer.ListenAndServe(); err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 孤儿附件清扫 goroutine
	if cfg.Sweep.Enabled {
		sweeper := sweep.NewSweeper(store, blobs, cfg.Sweep.MinAge, metrics, log)
		group.Go(func() error {
			log.Info("starting orphan blob sweep task",
				zap.Duration("interval", cfg.Sweep.Interval),
				zap.Duration("min_age", cfg.Sweep.MinAge),
			)
			sweeper.Run(groupCtx, cfg.Sweep.Interval)
			return nil
		})
	}

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP server close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
