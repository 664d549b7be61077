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
	"syscall"

	"classjudge/internal/common/cache"
	"classjudge/internal/common/db"
	commonmw "classjudge/internal/common/http/middleware"
	"classjudge/internal/common/mq"
	"classjudge/internal/common/storage"
	"classjudge/internal/grading/controller"
	"classjudge/internal/grading/judge0"
	"classjudge/internal/grading/repository"
	"classjudge/internal/grading/service"
	"classjudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/submit_service.yaml"

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

	archiver, err := buildArchiver(appCfg)
	if err != nil {
		logger.Error(context.Background(), "init source archive failed", zap.Error(err))
		return
	}

	submissionRepo := repository.NewSubmissionRepository(mysqlDB, redisCache, appCfg.Grading.SubmissionCacheTTL, appCfg.Grading.SubmissionEmptyTTL)
	correctionRepo := repository.NewCorrectionRepository(mysqlDB)
	catalogRepo := repository.NewCatalogRepository(mysqlDB, redisCache, appCfg.Grading.CatalogCacheTTL, 0)

	submissionService, err := service.NewSubmissionService(service.SubmissionConfig{
		SubmissionRepo: submissionRepo,
		CorrectionRepo: correctionRepo,
		CatalogRepo:    catalogRepo,
		Judge:          judgeClient,
		Scheduler:      scheduler,
		Cache:          redisCache,
		Archiver:       archiver,
		MaxCodeLength:  appCfg.Grading.MaxCodeLength,
		PageSize:       appCfg.Grading.PageSize,
		RateLimit:      appCfg.Grading.RateLimit,
		Timeouts:       appCfg.Grading.Timeouts,
	})
	if err != nil {
		logger.Error(context.Background(), "init submission service failed", zap.Error(err))
		return
	}

	authenticator, err := commonmw.NewAuthenticator(appCfg.Auth)
	if err != nil {
		logger.Error(context.Background(), "init authenticator failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, authenticator, submissionService)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "submit http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
}

func buildArchiver(appCfg *AppConfig) (*service.SourceArchiver, error) {
	if !appCfg.Archive.Enabled {
		return nil, nil
	}
	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), appCfg.Archive.Timeout)
	defer cancel()
	if err := objStorage.EnsureBucket(ctx, appCfg.Archive.Bucket); err != nil {
		return nil, err
	}
	return service.NewSourceArchiver(objStorage, appCfg.Archive)
}

func buildHTTPServer(cfg ServerConfig, authenticator *commonmw.Authenticator, submissionService *service.SubmissionService) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	api := router.Group("/api/v1", commonmw.AuthMiddleware(authenticator))
	controller.NewSubmissionController(submissionService).Register(api)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
