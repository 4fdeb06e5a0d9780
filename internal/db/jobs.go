package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobarin/storyreel/internal/jobs"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// JobOwner is the owner tag the worker attaches to provider jobs of one
// scene, e.g. "<render id>/scene-3".
func JobOwner(renderID uuid.UUID, sceneID string) string {
	if sceneID == "" {
		return renderID.String()
	}
	return renderID.String() + "/" + sceneID
}

// renderFromOwner extracts the render id from a JobOwner tag.
func renderFromOwner(owner string) *uuid.UUID {
	head, _, _ := strings.Cut(owner, "/")
	id, err := uuid.Parse(head)
	if err != nil {
		return nil
	}
	return &id
}

// UpsertGenerationJob inserts the job or moves an existing row forward.
func (db *DB) UpsertGenerationJob(ctx context.Context, job jobs.Job) error {
	id, err := uuid.Parse(job.ID)
	if err != nil {
		return fmt.Errorf("invalid job id %q: %w", job.ID, err)
	}

	query := `
		INSERT INTO generation_jobs (
			id, render_id, owner, provider, external_id, status, attempts,
			submitted_at, last_polled_at, error_kind, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			last_polled_at = EXCLUDED.last_polled_at,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			updated_at = NOW()
	`
	_, err = db.ExecContext(ctx, query,
		id, renderFromOwner(job.Owner), job.Owner, job.Provider, job.ExternalID,
		string(job.Status), job.Attempts, job.SubmittedAt, nullTime(job.LastPolledAt),
		nullString(string(job.ErrorKind)), nullString(job.ErrorMessage),
	)
	return err
}

func (db *DB) GetRenderJobs(ctx context.Context, renderID uuid.UUID) ([]models.GenerationJob, error) {
	query := `
		SELECT
			id, render_id, owner, provider, external_id, status, attempts,
			submitted_at, last_polled_at, error_kind, error_message, updated_at
		FROM generation_jobs
		WHERE render_id = $1
		ORDER BY submitted_at
	`

	rows, err := db.QueryContext(ctx, query, renderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	out := []models.GenerationJob{}
	for rows.Next() {
		var job models.GenerationJob
		err := rows.Scan(
			&job.ID, &job.RenderID, &job.Owner, &job.Provider, &job.ExternalID,
			&job.Status, &job.Attempts, &job.SubmittedAt, &job.LastPolledAt,
			&job.ErrorKind, &job.ErrorMessage, &job.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		out = append(out, job)
	}

	return out, rows.Err()
}

// JobRecorder persists every poller state change. Write failures are
// logged and never interrupt the job itself.
type JobRecorder struct {
	db  *DB
	log zerolog.Logger
}

func NewJobRecorder(db *DB, log zerolog.Logger) *JobRecorder {
	return &JobRecorder{db: db, log: log.With().Str("component", "job_recorder").Logger()}
}

func (r *JobRecorder) JobChanged(ctx context.Context, job jobs.Job) {
	if err := r.db.UpsertGenerationJob(ctx, job); err != nil {
		r.log.Error().Err(err).
			Str("job_id", job.ID).
			Str("provider", job.Provider).
			Str("status", string(job.Status)).
			Msg("failed to persist job")
	}
}

var _ jobs.Observer = (*JobRecorder)(nil)
