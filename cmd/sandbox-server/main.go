package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"runcell/internal/artifact"
	"runcell/internal/common/cache"
	"runcell/internal/compiler"
	"runcell/internal/observer"
	"runcell/internal/sandbox"
	"runcell/internal/server"
	"runcell/internal/server/controller"
	"runcell/internal/server/service"
	"runcell/internal/vm"
	"runcell/pkg/utils/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/sandbox_server.yaml"

func main() {
	configPath := pflag.StringP("config", "c", defaultConfigPath, "Path to config file")
	addr := pflag.String("addr", "", "Override listen address")
	logLevel := pflag.String("log-level", "", "Override log level")
	pflag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		appCfg.Server.Addr = *addr
	}
	if *logLevel != "" {
		appCfg.Logger.Level = *logLevel
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx := context.Background()
	applyEnvOverrides(ctx, appCfg, os.LookupEnv)

	vm.SetLimits(appCfg.Sandbox.limits())
	vm.ConfigureDispatcher(appCfg.Sandbox.DispatcherWorkers)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observer.NewPrometheus(reg)
	if err != nil {
		logger.Error(ctx, "init metrics failed", zap.Error(err))
		return
	}

	var store artifact.Store
	if appCfg.Cache.Redis.Enabled {
		redisCfg := cache.DefaultRedisConfig()
		redisCfg.Addr = appCfg.Cache.Redis.Addr
		redisCfg.Password = appCfg.Cache.Redis.Password
		redisCfg.DB = appCfg.Cache.Redis.DB
		redisCache, err := cache.NewRedisCacheWithConfig(ctx, redisCfg)
		if err != nil {
			logger.Error(ctx, "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = redisCache.Close()
		}()
		store = artifact.NewRedisStore(redisCache, artifact.RedisStoreOptions{
			KeyPrefix: appCfg.Cache.Redis.KeyPrefix,
			TTL:       appCfg.Cache.Redis.TTL,
		})
	}

	artifactCache := artifact.NewCache(compiler.NewAssembler(), artifact.CacheOptions{
		MaxBytes: int64(appCfg.Cache.MaxSizeMB) << 20,
		Store:    store,
		Metrics:  metrics,
	})
	if err := observer.RegisterCacheGauges(reg, func() observer.CacheSnapshot {
		s := artifactCache.Stats()
		return observer.CacheSnapshot{
			Hits:      s.Hits,
			Misses:    s.Misses,
			Evictions: s.Evictions,
			L2Hits:    s.L2Hits,
			Entries:   int64(s.Entries),
			Bytes:     s.Bytes,
		}
	}); err != nil {
		logger.Error(ctx, "init cache metrics failed", zap.Error(err))
		return
	}

	executor := sandbox.NewController(sandbox.Config{
		DefaultTimeout: appCfg.Sandbox.DefaultTimeout,
		ShutdownGrace:  appCfg.Sandbox.ShutdownGrace,
	}, metrics)
	runService, err := service.NewRunService(service.Config{
		Cache:          artifactCache,
		Executor:       executor,
		DefaultCompile: appCfg.Cache.compileOptions(),
		MaxSourceBytes: appCfg.Sandbox.MaxSourceBytes,
	})
	if err != nil {
		logger.Error(ctx, "init run service failed", zap.Error(err))
		return
	}

	router := server.NewRouter(controller.NewRunController(runService), reg)
	httpServer := server.NewHTTPServer(appCfg.Server, router)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(ctx, "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "sandbox http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.Int("cache_mb", appCfg.Cache.MaxSizeMB),
			zap.Bool("redis_tier", store != nil))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	for _, id := range executor.ActiveRunIDs() {
		_ = executor.Kill(ctx, id)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
}
