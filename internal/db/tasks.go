package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dxson/mmv/internal/models"
)

// UpsertStatus writes one checkpoint for a session. The first write for a
// session creates the row; later writes replace result, percent and status.
// Last write wins.
func (db *DB) UpsertStatus(ctx context.Context, sessionID string, jobType models.JobType, result, percent string, status models.TaskStatus) error {
	query := `
		INSERT INTO tasks (session_id, job_type, result, percent, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE
		SET job_type = EXCLUDED.job_type,
		    result = EXCLUDED.result,
		    percent = EXCLUDED.percent,
		    status = EXCLUDED.status,
		    updated_at = EXCLUDED.updated_at
	`

	_, err := db.ExecContext(ctx, query, sessionID, jobType, result, percent, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to upsert task status: %w", err)
	}
	return nil
}

func (db *DB) GetStatus(ctx context.Context, sessionID string) (*models.Task, error) {
	query := `
		SELECT session_id, job_type, result, percent, status, updated_at
		FROM tasks
		WHERE session_id = $1
	`

	task := &models.Task{}
	err := db.QueryRowContext(ctx, query, sessionID).Scan(
		&task.SessionID, &task.JobType, &task.Result, &task.Percent,
		&task.Status, &task.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}
