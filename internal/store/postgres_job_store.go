package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/storyframe/internal/domain"
	_ "github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS story_jobs (
	id TEXT PRIMARY KEY,
	submitter_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	layout TEXT NOT NULL,
	mode TEXT NOT NULL,
	source_type TEXT NOT NULL,
	source_keys JSONB NOT NULL,
	output_key TEXT NOT NULL DEFAULT '',
	webhook_url TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	submitter_id TEXT NOT NULL,
	job_id TEXT NOT NULL,
	layout TEXT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	output_bytes BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS usage_logs_submitter_created_idx ON usage_logs (submitter_id, created_at);
`

const selectJobSQL = `SELECT id, submitter_id, status, layout, mode, source_type, source_keys, output_key, webhook_url, error, created_at, updated_at
 FROM story_jobs
 WHERE id = $1`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure story schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.Job) error {
	sourceKeysJSON, err := json.Marshal(job.SourceKeys)
	if err != nil {
		return fmt.Errorf("marshal job source keys: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO story_jobs (id, submitter_id, status, layout, mode, source_type, source_keys, output_key, webhook_url, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID,
		job.SubmitterID,
		job.Status,
		string(job.Layout),
		string(job.Mode),
		job.SourceType,
		sourceKeysJSON,
		job.OutputKey,
		job.WebhookURL,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, selectJobSQL, id)

	var (
		job            domain.Job
		layout, mode   string
		sourceKeysJSON []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.SubmitterID,
		&job.Status,
		&layout,
		&mode,
		&job.SourceType,
		&sourceKeysJSON,
		&job.OutputKey,
		&job.WebhookURL,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	job.Layout = domain.Layout(layout)
	job.Mode = domain.LayoutMode(mode)
	if err := json.Unmarshal(sourceKeysJSON, &job.SourceKeys); err != nil {
		return domain.Job{}, false, fmt.Errorf("unmarshal job source keys: %w", err)
	}

	return job, true, nil
}

func (s *PostgresJobStore) UpdateStatus(ctx context.Context, id, status string) (domain.Job, error) {
	return s.updateAndGet(ctx, id, "update job status",
		`UPDATE story_jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) Complete(ctx context.Context, id, outputKey string) (domain.Job, error) {
	return s.updateAndGet(ctx, id, "complete job",
		`UPDATE story_jobs SET status = $1, output_key = $2, error = '', updated_at = $3 WHERE id = $4`,
		domain.JobStatusSucceeded, outputKey, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) Fail(ctx context.Context, id, message string) (domain.Job, error) {
	return s.updateAndGet(ctx, id, "fail job",
		`UPDATE story_jobs SET status = $1, error = $2, updated_at = $3 WHERE id = $4`,
		domain.JobStatusFailed, message, time.Now().UTC(), id,
	)
}

func (s *PostgresJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (submitter_id, job_id, layout, pixels_processed, output_bytes, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usage.SubmitterID,
		usage.JobID,
		string(usage.Layout),
		usage.PixelsProcessed,
		usage.OutputBytes,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) updateAndGet(ctx context.Context, id, op, query string, args ...any) (domain.Job, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Job{}, fmt.Errorf("%s: %w", op, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.Job{}, ErrJobNotFound
	}

	job, ok, err := s.Get(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	return job, nil
}
