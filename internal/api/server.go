package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/storyframe/internal/domain"
	"github.com/dunamismax/storyframe/internal/id"
	"github.com/dunamismax/storyframe/internal/pipeline"
	"github.com/dunamismax/storyframe/internal/queue"
	"github.com/dunamismax/storyframe/internal/session"
	"github.com/dunamismax/storyframe/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxUploadBytes = 20 << 20
	defaultSessionTTL     = 15 * time.Minute
	multipartOverhead     = 1 << 20
)

type Server struct {
	logger          *log.Logger
	queueClient     queueEnqueuer
	queueName       string
	jobStore        store.JobStore
	storage         objectStorage
	sessions        session.Store[string]
	rateLimiter     RateLimiter
	submitterHeader string
	maxUploadBytes  int64
	defaultMode     domain.LayoutMode
	presignTTL      time.Duration
	metrics         *metrics
	tracer          trace.Tracer
	mux             *http.ServeMux
	handler         http.Handler
}

type queueEnqueuer interface {
	EnqueueRenderStory(ctx context.Context, payload queue.RenderStoryPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	RemoveObject(ctx context.Context, objectKey string) error
}

// Options tune the ingestion surface. Zero values select defaults: an
// in-memory session store, no rate limiting, 20 MiB uploads and fit mode.
type Options struct {
	Sessions          session.Store[string]
	RateLimiter       RateLimiter
	SubmitterIDHeader string
	MaxUploadBytes    int64
	DefaultMode       domain.LayoutMode
	PresignTTL        time.Duration
	QueueName         string
}

func NewServer(logger *log.Logger, queueClient queueEnqueuer, jobStore store.JobStore, storage objectStorage, opts Options) *Server {
	if storage == nil {
		storage = unavailableObjectStorage{}
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewMemoryStore[string](defaultSessionTTL)
	}
	if strings.TrimSpace(opts.SubmitterIDHeader) == "" {
		opts.SubmitterIDHeader = "X-Submitter-ID"
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = domain.ModeFitBlurred
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.QueueName == "" {
		opts.QueueName = "default"
	}

	s := &Server{
		logger:          logger,
		queueClient:     queueClient,
		queueName:       opts.QueueName,
		jobStore:        jobStore,
		storage:         storage,
		sessions:        opts.Sessions,
		rateLimiter:     opts.RateLimiter,
		submitterHeader: opts.SubmitterIDHeader,
		maxUploadBytes:  opts.MaxUploadBytes,
		defaultMode:     opts.DefaultMode,
		presignTTL:      opts.PresignTTL,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("storyframe/api"),
		mux:             http.NewServeMux(),
	}
	s.routes()
	s.handler = s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
	return s
}

type unavailableObjectStorage struct{}

var errStorageUnavailable = errors.New("object storage is unavailable")

func (unavailableObjectStorage) WriteObject(context.Context, string, []byte, string) error {
	return errStorageUnavailable
}

func (unavailableObjectStorage) PresignedGetURL(context.Context, string, time.Duration) (string, error) {
	return "", errStorageUnavailable
}

func (unavailableObjectStorage) RemoveObject(context.Context, string) error {
	return errStorageUnavailable
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/stories", s.handleSubmitStory)
	s.mux.HandleFunc("POST /v1/stories/reset", s.handleResetStory)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitStory(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.readUpload(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge), errors.Is(err, errUploadTooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		case errors.Is(err, errUnsupportedMedia):
			writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return
	}

	mode, err := domain.ParseLayoutMode(r.FormValue("mode"), s.defaultMode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	jobID := id.New()
	sourceKey := pipeline.SourceObjectKey(jobID, pipeline.InputFirst)
	if err := s.storage.WriteObject(r.Context(), sourceKey, data, contentType); err != nil {
		s.logger.Printf("store upload failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "failed to store upload"})
		return
	}
	s.metrics.uploadBytes.Observe(float64(len(data)))

	req := domain.CreateStoryRequest{
		SubmitterID: strings.TrimSpace(r.Header.Get(s.submitterHeader)),
		Layout:      domain.LayoutSolo,
		Mode:        mode,
		SourceType:  domain.SourceTypeObjectStore,
		SourceKeys:  []string{sourceKey},
		WebhookURL:  strings.TrimSpace(r.FormValue("webhook_url")),
	}

	role := "solo"
	if req.SubmitterID != "" {
		sub, err := s.sessions.Submit(r.Context(), req.SubmitterID, sourceKey)
		if err != nil {
			s.logger.Printf("session submit failed submitter=%s err=%v", req.SubmitterID, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update pairing session"})
			return
		}
		role = sub.Role.String()
		if sub.Role == session.RoleSecond {
			req.Layout = domain.LayoutPaired
			req.SourceKeys = []string{sub.First, sourceKey}
		}
	}
	s.metrics.sessionSubmissions.WithLabelValues(role).Inc()

	job, status, err := s.createAndEnqueue(r.Context(), jobID, req)
	if err != nil {
		// A held first upload may still be paired later, and a paired job's
		// first source also feeds that upload's own solo job.
		if role != session.RoleFirst.String() {
			s.discardSources(r.Context(), jobID, []string{sourceKey})
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"layout": job.Layout,
		"mode":   job.Mode,
		"role":   role,
		"status": job.Status,
	})
}

func (s *Server) createAndEnqueue(ctx context.Context, jobID string, req domain.CreateStoryRequest) (domain.Job, int, error) {
	if err := req.Validate(); err != nil {
		return domain.Job{}, http.StatusBadRequest, err
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:          jobID,
		SubmitterID: req.SubmitterID,
		Status:      domain.JobStatusQueued,
		Layout:      req.Layout,
		Mode:        req.Mode,
		SourceType:  req.SourceType,
		SourceKeys:  req.SourceKeys,
		WebhookURL:  req.WebhookURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobStore.Create(ctx, job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		return domain.Job{}, http.StatusInternalServerError, errors.New("failed to create job")
	}

	_, err := s.queueClient.EnqueueRenderStory(ctx, queue.RenderStoryPayload{
		JobID:       job.ID,
		SubmitterID: job.SubmitterID,
		Layout:      job.Layout,
		Mode:        job.Mode,
		SourceType:  job.SourceType,
		SourceKeys:  job.SourceKeys,
		WebhookURL:  job.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Printf("enqueue failed job_id=%s err=%v", job.ID, err)
		if _, failErr := s.jobStore.Fail(ctx, job.ID, "enqueue failed"); failErr != nil {
			s.logger.Printf("mark job failed job_id=%s err=%v", job.ID, failErr)
		}
		return domain.Job{}, http.StatusInternalServerError, errors.New("failed to enqueue job")
	}
	s.metrics.queueEnqueued.WithLabelValues(s.queueName, string(job.Layout)).Inc()

	s.logger.Printf("queued job_id=%s layout=%s mode=%s submitter=%s", job.ID, job.Layout, job.Mode, job.SubmitterID)
	return job, http.StatusAccepted, nil
}

// discardSources removes uploads of a job that will never be rendered.
func (s *Server) discardSources(ctx context.Context, jobID string, keys []string) {
	for _, key := range keys {
		if err := s.storage.RemoveObject(ctx, key); err != nil {
			s.logger.Printf("remove source failed job_id=%s key=%s err=%v", jobID, key, err)
		}
	}
}

func (s *Server) handleResetStory(w http.ResponseWriter, r *http.Request) {
	submitterID := strings.TrimSpace(r.Header.Get(s.submitterHeader))
	if submitterID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": s.submitterHeader + " header is required"})
		return
	}

	outcome, err := s.sessions.Reset(r.Context(), submitterID)
	if err != nil {
		s.logger.Printf("session reset failed submitter=%s err=%v", submitterID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to reset pairing session"})
		return
	}
	s.metrics.sessionResets.WithLabelValues(outcome.String()).Inc()

	writeJSON(w, http.StatusOK, map[string]string{"result": outcome.String()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if jobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	body := map[string]any{
		"job_id":     job.ID,
		"status":     job.Status,
		"layout":     job.Layout,
		"mode":       job.Mode,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}
	if job.Error != "" {
		body["error"] = job.Error
	}
	if job.Status == domain.JobStatusSucceeded && job.OutputKey != "" {
		body["output_key"] = job.OutputKey
		if job.SourceType == domain.SourceTypeObjectStore {
			url, err := s.storage.PresignedGetURL(r.Context(), job.OutputKey, s.presignTTL)
			if err != nil {
				s.logger.Printf("presign download failed job_id=%s err=%v", job.ID, err)
			} else {
				body["download_url"] = url
			}
		}
	}

	writeJSON(w, http.StatusOK, body)
}

var (
	errUploadTooLarge   = errors.New("upload exceeds size limit")
	errUnsupportedMedia = errors.New("upload is not an image")
)

// readUpload returns the bytes and sniffed content type of the "file" part.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		return nil, "", fmt.Errorf("invalid multipart body: %w", err)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, "", errors.New("multipart field \"file\" is required")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxUploadBytes {
		return nil, "", errUploadTooLarge
	}
	if len(data) == 0 {
		return nil, "", errors.New("upload is empty")
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") && contentType != "application/octet-stream" {
		return nil, "", fmt.Errorf("%w: detected %s", errUnsupportedMedia, contentType)
	}
	return data, contentType, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
