package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"classjudge/internal/common/storage"
	"classjudge/internal/grading/model"
	appErr "classjudge/pkg/errors"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultArchivePrefix = "sources"
	archiveContentType   = "application/zstd"
)

// ArchiveConfig holds source archive settings.
type ArchiveConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Bucket    string        `yaml:"bucket"`
	KeyPrefix string        `yaml:"keyPrefix"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SourceArchiver keeps a zstd-compressed copy of submitted sources in object storage.
type SourceArchiver struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	timeout time.Duration
	encoder *zstd.Encoder
}

// NewSourceArchiver creates an archiver.
func NewSourceArchiver(objectStorage storage.ObjectStorage, cfg ArchiveConfig) (*SourceArchiver, error) {
	if objectStorage == nil {
		return nil, fmt.Errorf("object storage is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultArchivePrefix
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &SourceArchiver{
		storage: objectStorage,
		bucket:  cfg.Bucket,
		prefix:  cfg.KeyPrefix,
		timeout: cfg.Timeout,
		encoder: encoder,
	}, nil
}

// Archive uploads the submission source.
func (a *SourceArchiver) Archive(ctx context.Context, submission *model.Submission) error {
	payload := a.encoder.EncodeAll([]byte(submission.SourceCode), nil)
	ctxStorage := withTimeout(ctx, a.timeout)
	defer ctxStorage.cancel()
	key := a.ObjectKey(submission)
	if err := a.storage.PutObject(ctxStorage.ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), archiveContentType); err != nil {
		return appErr.Wrapf(err, appErr.StorageError, "upload source archive failed")
	}
	return nil
}

// ObjectKey returns the archive location of a submission.
func (a *SourceArchiver) ObjectKey(submission *model.Submission) string {
	return fmt.Sprintf("%s/%d/%d/%d.c.zst", a.prefix, submission.ActivityID, submission.UserID, submission.ID)
}
