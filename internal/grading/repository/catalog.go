package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"classjudge/internal/common/cache"
	"classjudge/internal/common/db"
	"classjudge/internal/grading/model"
)

const (
	defaultCatalogCacheTTL      = 30 * time.Minute
	defaultCatalogCacheEmptyTTL = time.Minute
	activityCacheKeyPrefix      = "grading:activity:"
	problemCacheKeyPrefix       = "grading:problem:"
)

var (
	ErrActivityNotFound = errors.New("activity not found")
	ErrProblemNotFound  = errors.New("problem not found")
)

// CatalogRepository reads activities, problems and test cases.
// The catalog is owned by another system and never written here.
type CatalogRepository interface {
	GetActivity(ctx context.Context, id int64) (*model.Activity, error)
	// GetProblem returns the problem with its test cases ordered by id.
	GetProblem(ctx context.Context, id int64) (*model.Problem, error)
}

// MySQLCatalogRepository implements CatalogRepository with MySQL.
type MySQLCatalogRepository struct {
	db       db.Database
	cache    cache.Cache
	ttl      time.Duration
	emptyTTL time.Duration
}

// NewCatalogRepository creates a catalog repository. cacheClient may be nil.
func NewCatalogRepository(database db.Database, cacheClient cache.Cache, ttl, emptyTTL time.Duration) *MySQLCatalogRepository {
	if ttl <= 0 {
		ttl = defaultCatalogCacheTTL
	}
	if emptyTTL <= 0 {
		emptyTTL = defaultCatalogCacheEmptyTTL
	}
	return &MySQLCatalogRepository{db: database, cache: cacheClient, ttl: ttl, emptyTTL: emptyTTL}
}

func (r *MySQLCatalogRepository) GetActivity(ctx context.Context, id int64) (*model.Activity, error) {
	activity, err := cache.GetWithCached[*model.Activity](
		ctx,
		r.cache,
		activityCacheKeyPrefix+strconv.FormatInt(id, 10),
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(a *model.Activity) bool { return a == nil },
		marshalJSON[*model.Activity],
		unmarshalJSON[model.Activity],
		func(ctx context.Context) (*model.Activity, error) {
			a := &model.Activity{}
			err := r.db.QueryRow(ctx, "SELECT id, problem_id, due_at FROM activity WHERE id = ?", id).
				Scan(&a.ID, &a.ProblemID, &a.DueAt)
			if db.IsNoRows(err) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return a, nil
		},
	)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}

func (r *MySQLCatalogRepository) GetProblem(ctx context.Context, id int64) (*model.Problem, error) {
	problem, err := cache.GetWithCached[*model.Problem](
		ctx,
		r.cache,
		problemCacheKeyPrefix+strconv.FormatInt(id, 10),
		cache.JitterTTL(r.ttl),
		cache.JitterTTL(r.emptyTTL),
		func(p *model.Problem) bool { return p == nil },
		marshalJSON[*model.Problem],
		unmarshalJSON[model.Problem],
		func(ctx context.Context) (*model.Problem, error) {
			return r.getProblemFromDB(ctx, id)
		},
	)
	if err != nil {
		return nil, err
	}
	if problem == nil {
		return nil, ErrProblemNotFound
	}
	return problem, nil
}

func (r *MySQLCatalogRepository) getProblemFromDB(ctx context.Context, id int64) (*model.Problem, error) {
	p := &model.Problem{}
	err := r.db.QueryRow(ctx, "SELECT id, title, time_limit_ms, memory_limit_kb FROM problem WHERE id = ?", id).
		Scan(&p.ID, &p.Title, &p.TimeLimitMS, &p.MemoryLimitKB)
	if db.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, input, expected_output, is_private
		FROM test_case
		WHERE problem_id = ?
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tc model.TestCase
		if err := rows.Scan(&tc.ID, &tc.Input, &tc.ExpectedOutput, &tc.Private); err != nil {
			return nil, err
		}
		p.TestCases = append(p.TestCases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return p, nil
}

func marshalJSON[T any](v T) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalJSON[T any](data string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

var _ CatalogRepository = (*MySQLCatalogRepository)(nil)
