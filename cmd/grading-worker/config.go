package main

import (
	"fmt"
	"os"
	"time"

	"classjudge/internal/common/cache"
	"classjudge/internal/common/db"
	"classjudge/internal/common/mq"
	"classjudge/internal/grading/judge0"
	"classjudge/internal/grading/service"
	"classjudge/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8087"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds the health endpoint settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// ConsumerConfig holds per-topic consumer settings.
type ConsumerConfig struct {
	ConsumerGroup string        `yaml:"consumerGroup"`
	Concurrency   int           `yaml:"concurrency"`
	MaxRetries    int           `yaml:"maxRetries"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
}

// GradingConfig holds worker settings.
type GradingConfig struct {
	Topics             service.TopicConfig `yaml:"topics"`
	PollDelay          time.Duration       `yaml:"pollDelay"`
	MaxPollAttempts    int                 `yaml:"maxPollAttempts"`
	LockTTL            time.Duration       `yaml:"lockTTL"`
	PollChainTTL       time.Duration       `yaml:"pollChainTTL"`
	SubmissionCacheTTL time.Duration       `yaml:"submissionCacheTTL"`
	CatalogCacheTTL    time.Duration       `yaml:"catalogCacheTTL"`
	JudgeTimeout       time.Duration       `yaml:"judgeTimeout"`
	Dispatch           ConsumerConfig      `yaml:"dispatch"`
	Poll               ConsumerConfig      `yaml:"poll"`
}

// AppConfig holds grading-worker configuration.
type AppConfig struct {
	Server   ServerConfig          `yaml:"server"`
	Logger   logger.Config         `yaml:"logger"`
	Database db.MySQLConfig        `yaml:"database"`
	Redis    cache.RedisConfig     `yaml:"redis"`
	Kafka    mq.KafkaConfig        `yaml:"kafka"`
	Delayed  mq.DelayedQueueConfig `yaml:"delayed"`
	Judge0   judge0.Config         `yaml:"judge0"`
	Grading  GradingConfig         `yaml:"grading"`
}

func (c ConsumerConfig) toSubscribeOptions(requeue mq.DelayedProducer, deadLetter string) *mq.SubscribeOptions {
	opts := &mq.SubscribeOptions{
		ConsumerGroup:   c.ConsumerGroup,
		Concurrency:     c.Concurrency,
		MaxRetries:      c.MaxRetries,
		RetryDelay:      c.RetryDelay,
		Requeue:         requeue,
		DeadLetterTopic: deadLetter,
	}
	opts.SetDefaults()
	return opts
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

	if cfg.Grading.Topics.Dispatch == "" {
		cfg.Grading.Topics.Dispatch = "grading.dispatch"
	}
	if cfg.Grading.Topics.Poll == "" {
		cfg.Grading.Topics.Poll = "grading.poll"
	}
	if cfg.Grading.Topics.DeadLetter == "" {
		cfg.Grading.Topics.DeadLetter = "grading.dead"
	}
	if cfg.Grading.PollDelay == 0 {
		cfg.Grading.PollDelay = time.Second
	}
	if cfg.Grading.MaxPollAttempts == 0 {
		cfg.Grading.MaxPollAttempts = service.DefaultMaxPollAttempts
	}
	if cfg.Grading.LockTTL == 0 {
		cfg.Grading.LockTTL = 2 * time.Minute
	}
	if cfg.Grading.PollChainTTL == 0 {
		cfg.Grading.PollChainTTL = time.Hour
	}
	if cfg.Grading.CatalogCacheTTL == 0 {
		cfg.Grading.CatalogCacheTTL = 30 * time.Minute
	}
	if cfg.Grading.JudgeTimeout == 0 {
		cfg.Grading.JudgeTimeout = 30 * time.Second
	}
	if cfg.Grading.Dispatch.ConsumerGroup == "" {
		cfg.Grading.Dispatch.ConsumerGroup = "classjudge-dispatch"
	}
	if cfg.Grading.Dispatch.MaxRetries == 0 {
		cfg.Grading.Dispatch.MaxRetries = 10
	}
	if cfg.Grading.Dispatch.RetryDelay == 0 {
		cfg.Grading.Dispatch.RetryDelay = 2 * time.Second
	}
	if cfg.Grading.Poll.ConsumerGroup == "" {
		cfg.Grading.Poll.ConsumerGroup = "classjudge-poll"
	}
	if cfg.Grading.Poll.MaxRetries == 0 {
		cfg.Grading.Poll.MaxRetries = 10
	}
	if cfg.Grading.Poll.RetryDelay == 0 {
		cfg.Grading.Poll.RetryDelay = 2 * time.Second
	}
	return &cfg, nil
}
