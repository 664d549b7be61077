package repository

import (
	"context"
	"errors"

	"classjudge/internal/common/db"
	"classjudge/internal/grading/model"
)

var (
	ErrCorrectionNotFound = errors.New("correction not found")
)

// CorrectionRepository defines correction persistence interfaces.
type CorrectionRepository interface {
	// CreateBatch inserts every correction or none. IDs are not populated.
	CreateBatch(ctx context.Context, tx db.Transaction, corrections []model.Correction) error
	// ListBySubmission returns corrections ordered by test case id, then id.
	ListBySubmission(ctx context.Context, tx db.Transaction, submissionID int64) ([]model.Correction, error)
	UpdateStatus(ctx context.Context, tx db.Transaction, id int64, status model.Status) error
	CountBySubmission(ctx context.Context, tx db.Transaction, submissionID int64) (int, error)
}

// MySQLCorrectionRepository implements CorrectionRepository with MySQL.
type MySQLCorrectionRepository struct {
	db db.Database
}

// NewCorrectionRepository creates a correction repository.
func NewCorrectionRepository(database db.Database) *MySQLCorrectionRepository {
	return &MySQLCorrectionRepository{db: database}
}

const correctionInsertColumns = 4

func (r *MySQLCorrectionRepository) CreateBatch(ctx context.Context, tx db.Transaction, corrections []model.Correction) error {
	if len(corrections) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(corrections)*correctionInsertColumns)
	for _, c := range corrections {
		if c.SubmissionID <= 0 || c.TestCaseID <= 0 || c.Token == "" {
			return errors.New("correction requires submission, test case and token")
		}
		args = append(args, c.SubmissionID, c.TestCaseID, c.Token, c.Status.Code())
	}
	query := "INSERT INTO correction (submission_id, test_case_id, token, status_id) VALUES " +
		db.Placeholders(len(corrections), correctionInsertColumns)
	_, err := db.GetQuerier(r.db, tx).Exec(ctx, query, args...)
	return err
}

func (r *MySQLCorrectionRepository) ListBySubmission(ctx context.Context, tx db.Transaction, submissionID int64) ([]model.Correction, error) {
	query := `
		SELECT id, submission_id, test_case_id, token, status_id
		FROM correction
		WHERE submission_id = ?
		ORDER BY test_case_id ASC, id ASC
	`
	rows, err := db.GetQuerier(r.db, tx).Query(ctx, query, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var corrections []model.Correction
	for rows.Next() {
		var c model.Correction
		var status int
		if err := rows.Scan(&c.ID, &c.SubmissionID, &c.TestCaseID, &c.Token, &status); err != nil {
			return nil, err
		}
		c.Status = model.Status(status)
		corrections = append(corrections, c)
	}
	return corrections, rows.Err()
}

func (r *MySQLCorrectionRepository) UpdateStatus(ctx context.Context, tx db.Transaction, id int64, status model.Status) error {
	result, err := db.GetQuerier(r.db, tx).Exec(ctx, "UPDATE correction SET status_id = ? WHERE id = ?", status.Code(), id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists int
		err := db.GetQuerier(r.db, tx).QueryRow(ctx, "SELECT 1 FROM correction WHERE id = ?", id).Scan(&exists)
		if db.IsNoRows(err) {
			return ErrCorrectionNotFound
		}
		return err
	}
	return nil
}

func (r *MySQLCorrectionRepository) CountBySubmission(ctx context.Context, tx db.Transaction, submissionID int64) (int, error) {
	var count int
	err := db.GetQuerier(r.db, tx).QueryRow(ctx, "SELECT COUNT(*) FROM correction WHERE submission_id = ?", submissionID).Scan(&count)
	return count, err
}

var _ CorrectionRepository = (*MySQLCorrectionRepository)(nil)
