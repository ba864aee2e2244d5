package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/storyframe/internal/compose"
	"github.com/dunamismax/storyframe/internal/config"
	"github.com/dunamismax/storyframe/internal/domain"
	"github.com/dunamismax/storyframe/internal/events"
	"github.com/dunamismax/storyframe/internal/pipeline"
	"github.com/dunamismax/storyframe/internal/queue"
	"github.com/dunamismax/storyframe/internal/storage"
	"github.com/dunamismax/storyframe/internal/store"
	"github.com/dunamismax/storyframe/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	webhookClient   webhookSender
	publisher       events.Publisher
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// Dependencies are the optional collaborators of a worker. A nil Storage
// disables object-store jobs; a nil Publisher drops events.
type Dependencies struct {
	Storage    *storage.Client
	Webhook    webhookSender
	Publisher  events.Publisher
	JobStore   store.JobStore
	UsageStore store.UsageStore
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	renderer *pipeline.Renderer,
	deps Dependencies,
) (*Server, error) {
	s, err := newServer(logger, workerCfg, renderer, deps)
	if err != nil {
		return nil, err
	}

	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s, nil
}

func newServer(logger *log.Logger, workerCfg config.WorkerConfig, renderer *pipeline.Renderer, deps Dependencies) (*Server, error) {
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}

	localProcessor, err := pipeline.NewLocalProcessor(renderer, workerCfg.LocalOutputDir)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	var objectProcessor *pipeline.Processor
	if deps.Storage != nil {
		objectProcessor, err = pipeline.NewProcessor(
			renderer,
			pipeline.ObjectStoreFetcher{Storage: deps.Storage},
			pipeline.ObjectStoreEmitter{Storage: deps.Storage, OutputPrefix: "outputs"},
		)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
	}

	usageStore := deps.UsageStore
	if usageStore == nil {
		if jobAndUsageStore, ok := deps.JobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}

	return &Server{
		logger:          logger,
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   deps.Webhook,
		publisher:       publisher,
		jobStore:        deps.JobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("storyframe/worker"),
	}, nil
}

// Run processes render tasks until SIGINT or SIGTERM, then waits for
// in-flight renders before returning.
func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRenderStory, s.handleRenderStory)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRenderStory(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseRenderStoryPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	if err := s.renderStory(ctx, payload); err != nil {
		if pipeline.IsPermanent(err) {
			return fmt.Errorf("render story: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("render story: %w", err)
	}
	return nil
}

func (s *Server) renderStory(ctx context.Context, payload queue.RenderStoryPayload) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed
	layout := string(payload.Layout)

	ctx, span := s.tracer.Start(ctx, "worker.render_story", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.layout", layout),
		attribute.String("job.mode", string(payload.Mode)),
		attribute.String("job.source_type", payload.SourceType),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(layout, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(layout, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s layout=%s mode=%s source_type=%s sources=%d",
		payload.JobID,
		payload.Layout,
		payload.Mode,
		payload.SourceType,
		len(payload.SourceKeys),
	)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.process(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		s.recordFailure(ctx, payload, err)
		return err
	}

	s.logger.Printf(
		"Rendered job_id=%s output=%s size=%dx%d bytes=%d",
		payload.JobID,
		result.Output.Path,
		result.Output.Width,
		result.Output.Height,
		result.Output.Bytes,
	)
	outcome = domain.JobStatusSucceeded
	if s.jobStore != nil {
		if _, err := s.jobStore.Complete(ctx, payload.JobID, result.Output.Path); err != nil {
			s.logger.Printf("job completion update failed job_id=%s err=%v", payload.JobID, err)
		}
	}
	s.recordUsage(ctx, payload, result, time.Since(startedAt))

	completedAt := time.Now().UTC()
	s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"layout":       payload.Layout,
		"mode":         payload.Mode,
		"output_key":   result.Output.Path,
		"width":        result.Output.Width,
		"height":       result.Output.Height,
		"bytes":        result.Output.Bytes,
		"requested_at": payload.RequestedAt,
		"completed_at": completedAt,
	})
	s.publish(ctx, payload.JobID, events.RoutingKeyStoryRendered, events.StoryRendered{
		JobID:       payload.JobID,
		SubmitterID: payload.SubmitterID,
		Layout:      payload.Layout,
		Mode:        payload.Mode,
		OutputKey:   result.Output.Path,
		Width:       result.Output.Width,
		Height:      result.Output.Height,
		Bytes:       result.Output.Bytes,
		RenderedAt:  completedAt,
	})

	span.SetStatus(codes.Ok, "rendered")
	return nil
}

func (s *Server) process(ctx context.Context, payload queue.RenderStoryPayload) (pipeline.Result, error) {
	request := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		SourceKeys: payload.SourceKeys,
		Layout:     payload.Layout,
		Mode:       payload.Mode,
	}

	switch strings.ToLower(payload.SourceType) {
	case domain.SourceTypeLocalFile:
		return s.localProcessor.Process(ctx, request)
	case domain.SourceTypeObjectStore:
		if s.objectProcessor == nil {
			return pipeline.Result{}, fmt.Errorf("%w: object storage is not configured", pipeline.ErrUnsupportedSourceType)
		}
		return s.objectProcessor.Process(ctx, request)
	default:
		return pipeline.Result{}, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
	}
}

// recordFailure logs the failure and, once no retry will follow, marks the
// job failed and notifies subscribers.
func (s *Server) recordFailure(ctx context.Context, payload queue.RenderStoryPayload, err error) {
	var renderErr *pipeline.RenderError
	input, stage := "", "unknown"
	if errors.As(err, &renderErr) {
		input, stage = renderErr.Input, renderErr.Stage
	}
	s.metrics.renderFailures.WithLabelValues(stage, inputLabel(input)).Inc()

	if errors.Is(err, compose.ErrDimensionMismatch) {
		s.logger.Printf("internal invariant violated job_id=%s stage=%s err=%v", payload.JobID, stage, err)
	} else {
		s.logger.Printf("render failed job_id=%s input=%s stage=%s err=%v", payload.JobID, inputLabel(input), stage, err)
	}

	if !pipeline.IsPermanent(err) && !finalAttempt(ctx) {
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusQueued)
		return
	}

	if s.jobStore != nil {
		if _, storeErr := s.jobStore.Fail(ctx, payload.JobID, err.Error()); storeErr != nil {
			s.logger.Printf("job failure update failed job_id=%s err=%v", payload.JobID, storeErr)
		}
	}

	failedAt := time.Now().UTC()
	s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusFailed,
		"layout":       payload.Layout,
		"input":        input,
		"stage":        stage,
		"error":        err.Error(),
		"requested_at": payload.RequestedAt,
		"failed_at":    failedAt,
	})
	s.publish(ctx, payload.JobID, events.RoutingKeyStoryFailed, events.StoryFailed{
		JobID:       payload.JobID,
		SubmitterID: payload.SubmitterID,
		Layout:      payload.Layout,
		Input:       input,
		Stage:       stage,
		Error:       err.Error(),
		FailedAt:    failedAt,
	})
}

// finalAttempt reports whether asynq will not retry the running task. Outside
// asynq (no retry metadata in ctx) every attempt is final.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.RenderStoryPayload, event string, body map[string]any) {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.metrics.webhookFailures.WithLabelValues(event).Inc()
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
	}
}

func (s *Server) publish(ctx context.Context, jobID, routingKey string, event any) {
	if err := s.publisher.Publish(ctx, routingKey, event); err != nil {
		s.logger.Printf("event publish failed job_id=%s routing_key=%s err=%v", jobID, routingKey, err)
	}
}

func (s *Server) recordUsage(ctx context.Context, payload queue.RenderStoryPayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	submitterID := strings.TrimSpace(payload.SubmitterID)
	if submitterID == "" {
		submitterID = "anonymous"
	}

	computeTimeMS := max(1, computeDuration.Milliseconds())
	usage := domain.UsageLog{
		SubmitterID:     submitterID,
		JobID:           payload.JobID,
		Layout:          payload.Layout,
		PixelsProcessed: result.SourcePixels,
		OutputBytes:     int64(result.Output.Bytes),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", payload.JobID, err)
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(usage.PixelsProcessed))
	s.metrics.outputBytesTotal.Add(float64(usage.OutputBytes))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}

func inputLabel(input string) string {
	if input == "" {
		return "none"
	}
	return input
}
