package store

import (
	"context"
	"errors"

	"github.com/dunamismax/storyframe/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Complete marks the job succeeded and records where its output lives.
	Complete(ctx context.Context, id, outputKey string) (domain.Job, error)
	// Fail marks the job failed with a message for status queries.
	Fail(ctx context.Context, id, message string) (domain.Job, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
