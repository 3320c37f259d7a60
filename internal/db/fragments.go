package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/dxson/mmv/internal/models"
)

// ErrFragmentNotFound is returned when no catalog row exists for a video id.
var ErrFragmentNotFound = errors.New("fragment not found")

func (db *DB) CreateFragment(ctx context.Context, f *models.Fragment) error {
	query := `
		INSERT INTO fragments (
			id, v_id, overview, descriptions, paths, backup_paths, highlight_times, scenes, category
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	return db.QueryRowContext(
		ctx, query,
		f.ID, f.VideoID, f.Overview, f.Descriptions, f.Paths, f.BackupPaths, f.HighlightTimes, f.Scenes, f.Category,
	).Scan(&f.CreatedAt)
}

func (db *DB) GetFragmentByVideoID(ctx context.Context, videoID string) (*models.Fragment, error) {
	query := `
		SELECT id, v_id, overview, descriptions, paths, backup_paths, highlight_times, scenes, category, created_at
		FROM fragments
		WHERE v_id = $1
	`

	f := &models.Fragment{}
	err := db.QueryRowContext(ctx, query, videoID).Scan(
		&f.ID, &f.VideoID, &f.Overview, &f.Descriptions, &f.Paths, &f.BackupPaths,
		&f.HighlightTimes, &f.Scenes, &f.Category, &f.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrFragmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fragment: %w", err)
	}

	return f, nil
}

func (db *DB) GetFragmentsByVideoIDs(ctx context.Context, videoIDs []string) ([]models.Fragment, error) {
	query := `
		SELECT id, v_id, overview, descriptions, paths, backup_paths, highlight_times, scenes, category, created_at
		FROM fragments
		WHERE v_id = ANY($1)
	`

	rows, err := db.QueryContext(ctx, query, pq.Array(videoIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments: %w", err)
	}
	defer rows.Close()

	var fragments []models.Fragment
	for rows.Next() {
		var f models.Fragment
		err := rows.Scan(
			&f.ID, &f.VideoID, &f.Overview, &f.Descriptions, &f.Paths, &f.BackupPaths,
			&f.HighlightTimes, &f.Scenes, &f.Category, &f.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		fragments = append(fragments, f)
	}

	return fragments, rows.Err()
}

func (db *DB) DeleteFragments(ctx context.Context, videoIDs []string) error {
	query := `DELETE FROM fragments WHERE v_id = ANY($1)`

	_, err := db.ExecContext(ctx, query, pq.Array(videoIDs))
	if err != nil {
		return fmt.Errorf("failed to delete fragments: %w", err)
	}
	return nil
}
