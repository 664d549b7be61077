package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"classjudge/internal/common/cache"
	"classjudge/internal/common/db"
	commonmw "classjudge/internal/common/http/middleware"
	"classjudge/internal/common/mq"
	"classjudge/internal/grading/judge0"
	"classjudge/internal/grading/repository"
	"classjudge/internal/grading/service"
	"classjudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/grading_worker.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()
	if err := repository.SyncStatusTable(context.Background(), mysqlDB); err != nil {
		logger.Error(context.Background(), "sync status table failed", zap.Error(err))
		return
	}

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	delayedQueue, err := mq.NewDelayedQueue(redisCache, mqClient, appCfg.Delayed)
	if err != nil {
		logger.Error(context.Background(), "init delayed queue failed", zap.Error(err))
		return
	}
	scheduler, err := service.NewQueueScheduler(service.QueueSchedulerConfig{
		Producer:  mqClient,
		Delayed:   delayedQueue,
		Topics:    appCfg.Grading.Topics,
		PollDelay: appCfg.Grading.PollDelay,
	})
	if err != nil {
		logger.Error(context.Background(), "init scheduler failed", zap.Error(err))
		return
	}

	judgeClient, err := judge0.NewClient(appCfg.Judge0, nil)
	if err != nil {
		logger.Error(context.Background(), "init judge client failed", zap.Error(err))
		return
	}

	// Status writes drop the cached submission so the API sees them.
	gradingService, err := service.NewGradingService(service.GradingConfig{
		Database:        mysqlDB,
		SubmissionRepo:  repository.NewSubmissionRepository(mysqlDB, redisCache, appCfg.Grading.SubmissionCacheTTL, 0),
		CorrectionRepo:  repository.NewCorrectionRepository(mysqlDB),
		CatalogRepo:     repository.NewCatalogRepository(mysqlDB, redisCache, appCfg.Grading.CatalogCacheTTL, 0),
		Judge:           judgeClient,
		Scheduler:       scheduler,
		Locker:          redisCache,
		Markers:         redisCache,
		MaxPollAttempts: appCfg.Grading.MaxPollAttempts,
		LockTTL:         appCfg.Grading.LockTTL,
		PollChainTTL:    appCfg.Grading.PollChainTTL,
		JudgeTimeout:    appCfg.Grading.JudgeTimeout,
	})
	if err != nil {
		logger.Error(context.Background(), "init grading service failed", zap.Error(err))
		return
	}

	topics := appCfg.Grading.Topics
	err = mqClient.Subscribe(context.Background(), topics.Dispatch, gradingService.DispatchHandler(),
		appCfg.Grading.Dispatch.toSubscribeOptions(delayedQueue, topics.DeadLetter))
	if err != nil {
		logger.Error(context.Background(), "subscribe dispatch topic failed", zap.Error(err))
		return
	}
	err = mqClient.Subscribe(context.Background(), topics.Poll, gradingService.PollHandler(),
		appCfg.Grading.Poll.toSubscribeOptions(delayedQueue, topics.DeadLetter))
	if err != nil {
		logger.Error(context.Background(), "subscribe poll topic failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var relayWG sync.WaitGroup
	relayWG.Add(1)
	go func() {
		defer relayWG.Done()
		if err := delayedQueue.Run(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(context.Background(), "delayed relay stopped", zap.Error(err))
		}
	}()

	httpServer := buildHTTPServer(appCfg.Server, mysqlDB, redisCache, mqClient)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		stop()
		relayWG.Wait()
		_ = mqClient.Stop()
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "grading worker started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	relayWG.Wait()
	_ = mqClient.Stop()
}

type pinger interface {
	Ping(ctx context.Context) error
}

func buildHTTPServer(cfg ServerConfig, deps ...pinger) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		for _, dep := range deps {
			if err := dep.Ping(c.Request.Context()); err != nil {
				logger.Warn(c.Request.Context(), "health check failed", zap.Error(err))
				c.Status(http.StatusServiceUnavailable)
				return
			}
		}
		c.Status(http.StatusNoContent)
	})

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
