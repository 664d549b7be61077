package repository

import (
	"context"

	"classjudge/internal/common/db"
	"classjudge/internal/grading/model"
)

// SyncStatusTable upserts every dictionary entry into the status table
// so submission and correction rows can reference them.
func SyncStatusTable(ctx context.Context, database db.Database) error {
	descriptors := model.Statuses()
	if len(descriptors) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(descriptors)*3)
	for _, d := range descriptors {
		args = append(args, d.Status.Code(), d.Name, d.Description)
	}
	query := "INSERT INTO status (id, name, description) VALUES " +
		db.Placeholders(len(descriptors), 3) +
		" ON DUPLICATE KEY UPDATE name = VALUES(name), description = VALUES(description)"
	_, err := database.Exec(ctx, query, args...)
	return err
}
