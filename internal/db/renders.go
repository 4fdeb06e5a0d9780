package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/storyreel/internal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

const renderColumns = `
	id, topic, scenario, status, scenes, output_key, duration_ms,
	error_kind, error_message, created_at, updated_at
`

func (db *DB) CreateRender(ctx context.Context, render *models.Render) error {
	query := `
		INSERT INTO renders (id, topic, scenario, status, scenes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		render.ID, render.Topic, render.Scenario, render.Status, render.Scenes,
	).Scan(&render.CreatedAt, &render.UpdatedAt)
}

func (db *DB) GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error) {
	query := `SELECT ` + renderColumns + ` FROM renders WHERE id = $1`

	render, err := scanRender(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("render %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get render: %w", err)
	}
	return render, nil
}

// ListRenders returns renders newest first, optionally filtered by status.
func (db *DB) ListRenders(ctx context.Context, status models.RenderStatus, limit, offset int) ([]models.Render, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseSelect := `SELECT ` + renderColumns + ` FROM renders`
	if status != "" {
		rows, err = db.QueryContext(ctx, baseSelect+` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	} else {
		rows, err = db.QueryContext(ctx, baseSelect+` ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list renders: %w", err)
	}
	defer rows.Close()

	renders := []models.Render{}
	for rows.Next() {
		r, err := scanRender(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan render: %w", err)
		}
		renders = append(renders, *r)
	}
	return renders, rows.Err()
}

// UpdateRenderScenario stores a drafted scenario.
func (db *DB) UpdateRenderScenario(ctx context.Context, id uuid.UUID, scenario models.Scenario) error {
	_, err := db.ExecContext(ctx,
		`UPDATE renders SET scenario = $1, updated_at = NOW() WHERE id = $2`,
		scenario, id)
	return err
}

func (db *DB) UpdateRenderStatus(ctx context.Context, id uuid.UUID, status models.RenderStatus) error {
	_, err := db.ExecContext(ctx,
		`UPDATE renders SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, id)
	return err
}

// UpdateRenderScenes replaces the per-scene outcomes.
func (db *DB) UpdateRenderScenes(ctx context.Context, id uuid.UUID, scenes models.SceneResults) error {
	_, err := db.ExecContext(ctx,
		`UPDATE renders SET scenes = $1, updated_at = NOW() WHERE id = $2`,
		scenes, id)
	return err
}

func (db *DB) CompleteRender(ctx context.Context, id uuid.UUID, outputKey string, durationMs int) error {
	query := `
		UPDATE renders
		SET status = $1, output_key = $2, duration_ms = $3,
		    error_kind = NULL, error_message = NULL, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.RenderStatusCompleted, outputKey, durationMs, id)
	return err
}

func (db *DB) FailRender(ctx context.Context, id uuid.UUID, errorKind, errorMessage string) error {
	query := `
		UPDATE renders
		SET status = $1, error_kind = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, models.RenderStatusFailed, nullString(errorKind), errorMessage, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRender(row scanner) (*models.Render, error) {
	r := &models.Render{}
	err := row.Scan(
		&r.ID, &r.Topic, &r.Scenario, &r.Status, &r.Scenes, &r.OutputKey, &r.DurationMs,
		&r.ErrorKind, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}
