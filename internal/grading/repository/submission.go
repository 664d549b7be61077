package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"classjudge/internal/common/cache"
	"classjudge/internal/common/db"
	"classjudge/internal/grading/model"
	pagination "classjudge/pkg/repository"
)

const (
	defaultSubmissionCacheTTL      = 10 * time.Minute
	defaultSubmissionCacheEmptyTTL = time.Minute
	submissionCacheKeyPrefix       = "grading:submission:"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
)

// SubmissionListItem is a submission joined with the title of its problem.
type SubmissionListItem struct {
	model.Submission
	ProblemTitle string
}

// SubmissionRepository defines submission persistence interfaces.
type SubmissionRepository interface {
	// Create inserts submission and sets its ID.
	Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error
	GetByID(ctx context.Context, tx db.Transaction, id int64) (*model.Submission, error)
	// UpdateStatus drops the cached row only outside a transaction. Callers
	// passing tx call Invalidate once it committed.
	UpdateStatus(ctx context.Context, tx db.Transaction, id int64, status model.Status) error
	Invalidate(ctx context.Context, id int64) error
	// ListByUser returns every submission of a user, newest first.
	ListByUser(ctx context.Context, userID int64) ([]SubmissionListItem, error)
	// ListByUserActivity returns one page of a user's submissions for an activity,
	// newest first, and the total count. Pages start at 1.
	ListByUserActivity(ctx context.Context, userID, activityID int64, page, pageSize int) ([]model.Submission, int64, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewSubmissionRepository creates a submission repository. cacheClient may be nil.
func NewSubmissionRepository(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLSubmissionRepository {
	if ttl <= 0 {
		ttl = defaultSubmissionCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultSubmissionCacheEmptyTTL
	}
	return &MySQLSubmissionRepository{
		db:       database,
		cache:    cacheClient,
		ttl:      ttl,
		emptyTTL: emptyTTL,
	}
}

const submissionColumns = "id, user_id, activity_id, source_code, submitted_at, status_id"

func (r *MySQLSubmissionRepository) Create(ctx context.Context, tx db.Transaction, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.UserID <= 0 {
		return errors.New("userID is required")
	}
	if submission.ActivityID <= 0 {
		return errors.New("activityID is required")
	}

	query := `
		INSERT INTO submission (user_id, activity_id, source_code, submitted_at, status_id)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := db.GetQuerier(r.db, tx).Exec(
		ctx,
		query,
		submission.UserID,
		submission.ActivityID,
		submission.SourceCode,
		submission.SubmittedAt,
		submission.Status.Code(),
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("read submission id: %w", err)
	}
	submission.ID = id
	return nil
}

// GetByID reads through the cache unless tx is set.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, tx db.Transaction, id int64) (*model.Submission, error) {
	if id <= 0 {
		return nil, ErrSubmissionNotFound
	}
	if r.cache == nil || tx != nil {
		return r.getByIDFromDB(ctx, tx, id)
	}
	submission, err := cache.GetWithCached[*model.Submission](
		ctx,
		r.cache,
		submissionCacheKey(id),
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(s *model.Submission) bool { return s == nil },
		marshalSubmission,
		unmarshalSubmission,
		func(ctx context.Context) (*model.Submission, error) {
			s, err := r.getByIDFromDB(ctx, nil, id)
			if errors.Is(err, ErrSubmissionNotFound) {
				return nil, nil
			}
			return s, err
		},
	)
	if err != nil {
		return nil, err
	}
	if submission == nil {
		return nil, ErrSubmissionNotFound
	}
	return submission, nil
}

func (r *MySQLSubmissionRepository) UpdateStatus(ctx context.Context, tx db.Transaction, id int64, status model.Status) error {
	update := func(ctx context.Context) error {
		result, err := db.GetQuerier(r.db, tx).Exec(ctx, "UPDATE submission SET status_id = ? WHERE id = ?", status.Code(), id)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			// MySQL reports zero rows when the value is unchanged, so confirm the row exists.
			if _, err := r.getByIDFromDB(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	}
	if tx != nil {
		// uncommitted, a reader could cache the old row again
		return update(ctx)
	}
	return cache.InvalidateAfter(ctx, r.cache, submissionCacheKey(id), update)
}

func (r *MySQLSubmissionRepository) Invalidate(ctx context.Context, id int64) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Del(ctx, submissionCacheKey(id))
}

func (r *MySQLSubmissionRepository) ListByUser(ctx context.Context, userID int64) ([]SubmissionListItem, error) {
	query := `
		SELECT s.id, s.user_id, s.activity_id, s.source_code, s.submitted_at, s.status_id, COALESCE(p.title, '')
		FROM submission s
		LEFT JOIN activity a ON a.id = s.activity_id
		LEFT JOIN problem p ON p.id = a.problem_id
		WHERE s.user_id = ?
		ORDER BY s.submitted_at DESC, s.id DESC
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []SubmissionListItem
	for rows.Next() {
		var item SubmissionListItem
		var status int
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.ActivityID,
			&item.SourceCode,
			&item.SubmittedAt,
			&status,
			&item.ProblemTitle,
		); err != nil {
			return nil, err
		}
		item.Status = model.Status(status)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *MySQLSubmissionRepository) ListByUserActivity(ctx context.Context, userID, activityID int64, page, pageSize int) ([]model.Submission, int64, error) {
	p := pagination.NewPage(page, pageSize)

	var total int64
	countQuery := "SELECT COUNT(*) FROM submission WHERE user_id = ? AND activity_id = ?"
	if err := r.db.QueryRow(ctx, countQuery, userID, activityID).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, nil
	}

	query := "SELECT " + submissionColumns + ` FROM submission
		WHERE user_id = ? AND activity_id = ?
		ORDER BY submitted_at DESC, id DESC
		LIMIT ? OFFSET ?`
	rows, err := r.db.Query(ctx, query, userID, activityID, p.Limit(), p.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var submissions []model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		submissions = append(submissions, *s)
	}
	return submissions, total, rows.Err()
}

func (r *MySQLSubmissionRepository) getByIDFromDB(ctx context.Context, tx db.Transaction, id int64) (*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM submission WHERE id = ? LIMIT 1"
	s, err := scanSubmission(db.GetQuerier(r.db, tx).QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return s, nil
}

func scanSubmission(row db.Row) (*model.Submission, error) {
	s := &model.Submission{}
	var status int
	if err := row.Scan(&s.ID, &s.UserID, &s.ActivityID, &s.SourceCode, &s.SubmittedAt, &status); err != nil {
		return nil, err
	}
	s.Status = model.Status(status)
	return s, nil
}

func submissionCacheKey(id int64) string {
	return submissionCacheKeyPrefix + strconv.FormatInt(id, 10)
}

func marshalSubmission(s *model.Submission) string {
	if s == nil {
		return ""
	}
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalSubmission(data string) (*model.Submission, error) {
	var s model.Submission
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

var _ SubmissionRepository = (*MySQLSubmissionRepository)(nil)
