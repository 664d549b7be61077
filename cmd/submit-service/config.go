package main

import (
	"fmt"
	"os"
	"time"

	"classjudge/internal/common/cache"
	"classjudge/internal/common/db"
	commonmw "classjudge/internal/common/http/middleware"
	"classjudge/internal/common/mq"
	"classjudge/internal/common/storage"
	"classjudge/internal/grading/judge0"
	"classjudge/internal/grading/service"
	"classjudge/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8086"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// GradingConfig holds submission intake settings.
type GradingConfig struct {
	Topics             service.TopicConfig     `yaml:"topics"`
	PollDelay          time.Duration           `yaml:"pollDelay"`
	MaxCodeLength      int                     `yaml:"maxCodeLength"`
	PageSize           int                     `yaml:"pageSize"`
	SubmissionCacheTTL time.Duration           `yaml:"submissionCacheTTL"`
	SubmissionEmptyTTL time.Duration           `yaml:"submissionEmptyTTL"`
	CatalogCacheTTL    time.Duration           `yaml:"catalogCacheTTL"`
	RateLimit          service.RateLimitConfig `yaml:"rateLimit"`
	Timeouts           service.TimeoutConfig   `yaml:"timeouts"`
}

// AppConfig holds submit-service configuration.
type AppConfig struct {
	Server   ServerConfig          `yaml:"server"`
	Logger   logger.Config         `yaml:"logger"`
	Database db.MySQLConfig        `yaml:"database"`
	Redis    cache.RedisConfig     `yaml:"redis"`
	Kafka    mq.KafkaConfig        `yaml:"kafka"`
	Delayed  mq.DelayedQueueConfig `yaml:"delayed"`
	MinIO    storage.MinIOConfig   `yaml:"minio"`
	Archive  service.ArchiveConfig `yaml:"archive"`
	Judge0   judge0.Config         `yaml:"judge0"`
	Grading  GradingConfig         `yaml:"grading"`
	Auth     commonmw.AuthConfig   `yaml:"auth"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if cfg.Judge0.BaseURL == "" {
		return nil, fmt.Errorf("judge0 baseURL is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth jwtSecret is required")
	}

	if cfg.Grading.Topics.Dispatch == "" {
		cfg.Grading.Topics.Dispatch = "grading.dispatch"
	}
	if cfg.Grading.Topics.Poll == "" {
		cfg.Grading.Topics.Poll = "grading.poll"
	}
	if cfg.Grading.PollDelay == 0 {
		cfg.Grading.PollDelay = time.Second
	}
	if cfg.Grading.MaxCodeLength == 0 {
		cfg.Grading.MaxCodeLength = service.DefaultMaxCodeLength
	}
	if cfg.Grading.PageSize == 0 {
		cfg.Grading.PageSize = service.DefaultPageSize
	}
	if cfg.Grading.SubmissionCacheTTL == 0 {
		cfg.Grading.SubmissionCacheTTL = 10 * time.Minute
	}
	if cfg.Grading.SubmissionEmptyTTL == 0 {
		cfg.Grading.SubmissionEmptyTTL = time.Minute
	}
	if cfg.Grading.CatalogCacheTTL == 0 {
		cfg.Grading.CatalogCacheTTL = 30 * time.Minute
	}
	if cfg.Grading.RateLimit.Window == 0 {
		cfg.Grading.RateLimit.Window = time.Minute
	}
	if cfg.Grading.RateLimit.UserMax == 0 {
		cfg.Grading.RateLimit.UserMax = 10
	}
	if cfg.Grading.Timeouts.DB == 0 {
		cfg.Grading.Timeouts.DB = 3 * time.Second
	}
	if cfg.Grading.Timeouts.Cache == 0 {
		cfg.Grading.Timeouts.Cache = time.Second
	}
	if cfg.Grading.Timeouts.Judge == 0 {
		cfg.Grading.Timeouts.Judge = 30 * time.Second
	}

	if cfg.Archive.Enabled && cfg.Archive.Bucket == "" {
		cfg.Archive.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Archive.Timeout == 0 {
		cfg.Archive.Timeout = 5 * time.Second
	}
	return &cfg, nil
}
