package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/mediaflow/api/handlers"
	"github.com/BaSui01/mediaflow/config"
	"github.com/BaSui01/mediaflow/internal/cache"
	"github.com/BaSui01/mediaflow/internal/jobstore"
	"github.com/BaSui01/mediaflow/internal/metrics"
	"github.com/BaSui01/mediaflow/internal/server"
	"github.com/BaSui01/mediaflow/internal/telemetry"
	"github.com/BaSui01/mediaflow/media"
	"github.com/BaSui01/mediaflow/media/factory"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 MediaFlow 网关进程：API 端口与独立的指标端口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	registry  *prometheus.Registry
	collector *metrics.Collector
	providers *media.Registry
	redis     *cache.Manager
	store     jobstore.Store

	httpManager    *server.Manager
	metricsManager *server.Manager
}

// NewServer 创建服务器实例，otel 可为 nil
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{cfg: cfg, logger: logger, otel: otel}
}

// =============================================================================
// 🚀 初始化
// =============================================================================

// init 构建指标、任务存储、提供商注册表与两个 HTTP 服务器
func (s *Server) init(ctx context.Context) error {
	// 1. 指标
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("mediaflow", s.registry, s.logger)

	// 2. 任务存储
	store, err := s.openJobStore()
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	s.store = store

	// 3. 提供商注册表
	providers, err := factory.NewRegistry(s.cfg.Media, factory.Deps{
		Logger:         s.logger,
		Observer:       s.collector,
		TracerProvider: s.otel.TracerProvider(),
		FetchHook:      s.collector.RecordImageFetch,
	})
	if err != nil {
		return fmt.Errorf("failed to build provider registry: %w", err)
	}
	s.providers = providers

	// 4. HTTP 服务器
	s.httpManager = server.NewManager("api", s.apiHandler(ctx), server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	s.metricsManager = server.NewManager("metrics", metricsMux, server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)

	return nil
}

// openJobStore 按 job_store.driver 选择任务存储
func (s *Server) openJobStore() (jobstore.Store, error) {
	switch s.cfg.JobStore.Driver {
	case "", "memory":
		s.logger.Info("using in-memory job store")
		return jobstore.NewMemoryStore(), nil
	case "redis":
		redisCfg := cache.DefaultConfig()
		redisCfg.Addr = s.cfg.Redis.Addr
		redisCfg.Password = s.cfg.Redis.Password
		redisCfg.DB = s.cfg.Redis.DB
		redisCfg.PoolSize = s.cfg.Redis.PoolSize
		redisCfg.MinIdleConns = s.cfg.Redis.MinIdleConns
		redisCfg.DefaultTTL = s.cfg.JobStore.TTL

		m, err := cache.NewManager(redisCfg, s.logger)
		if err != nil {
			return nil, err
		}
		s.redis = m
		s.logger.Info("using redis job store", zap.String("addr", redisCfg.Addr))
		return jobstore.NewRedisStore(m, s.cfg.JobStore.KeyPrefix, s.cfg.JobStore.TTL, s.logger), nil
	default:
		return nil, fmt.Errorf("unknown job store driver %q", s.cfg.JobStore.Driver)
	}
}

// apiHandler 注册路由并构建中间件链
func (s *Server) apiHandler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(s.logger)
	health.RegisterCheck(handlers.NewPingCheck("jobstore", s.store.Ping))
	health.RegisterCheck(handlers.NewPingCheck("providers", func(context.Context) error {
		if s.providers.Len() == 0 {
			return errors.New("no provider enabled")
		}
		return nil
	}))
	mux.HandleFunc("GET /health", health.HandleHealth)
	mux.HandleFunc("GET /healthz", health.HandleHealth)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	handlers.NewGenerationHandler(s.providers, s.store, s.collector, s.logger).Register(mux)

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/version"}
	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(s.otel.TracerProvider()),
		MetricsMiddleware(s.collector),
		SecurityHeaders(),
		RequestLogger(s.logger),
		RateLimiter(ctx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger),
	)
}

// =============================================================================
// 🔄 运行与关闭
// =============================================================================

// Run 启动两个服务器并阻塞到 ctx 结束或任一服务器异常退出
func (s *Server) Run(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return err
	}
	defer s.close()

	s.logger.Info("servers starting",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Strings("providers", s.providers.List()),
		zap.String("job_store", s.cfg.JobStore.Driver),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	g.Go(func() error { return s.metricsManager.Run(gctx) })
	return g.Wait()
}

// close 释放任务存储、Redis 连接与遥测导出器
func (s *Server) close() {
	s.logger.Info("releasing resources")
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("job store close error", zap.Error(err))
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown error", zap.Error(err))
	}
}
