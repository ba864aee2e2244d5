package worker

import (
	"context"
	"errors"
	"image/color"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/storyframe/internal/config"
	"github.com/dunamismax/storyframe/internal/domain"
	"github.com/dunamismax/storyframe/internal/events"
	"github.com/dunamismax/storyframe/internal/pipeline"
	"github.com/dunamismax/storyframe/internal/queue"
	"github.com/dunamismax/storyframe/internal/store"
	"github.com/hibiken/asynq"
)

type captureWebhook struct {
	mu     sync.Mutex
	events []string
	bodies []any
}

func (w *captureWebhook) Send(_ context.Context, _, event string, payload any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	w.bodies = append(w.bodies, payload)
	return nil
}

type capturePublisher struct {
	mu     sync.Mutex
	keys   []string
	events []any
}

func (p *capturePublisher) Publish(_ context.Context, routingKey string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	p.events = append(p.events, event)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

type captureUsageStore struct {
	called bool
	log    domain.UsageLog
}

func (s *captureUsageStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.called = true
	s.log = usage
	return nil
}

type testHarness struct {
	server    *Server
	jobs      *store.MemoryJobStore
	webhook   *captureWebhook
	publisher *capturePublisher
	outputDir string
}

func newTestHarness(t *testing.T) testHarness {
	t.Helper()

	renderer, err := pipeline.NewRenderer(pipeline.Settings{
		Canvas:        domain.Dimensions{Width: 90, Height: 160},
		JPEGQuality:   90,
		BlurSigma:     50,
		BlurDownscale: 1,
	})
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	h := testHarness{
		jobs:      store.NewMemoryJobStore(),
		webhook:   &captureWebhook{},
		publisher: &capturePublisher{},
		outputDir: t.TempDir(),
	}
	h.server, err = newServer(log.New(io.Discard, "", 0), config.WorkerConfig{
		MaxActiveJobs:  1,
		LocalOutputDir: h.outputDir,
	}, renderer, Dependencies{
		Webhook:   h.webhook,
		Publisher: h.publisher,
		JobStore:  h.jobs,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return h
}

func (h testHarness) seedJob(t *testing.T, payload queue.RenderStoryPayload) {
	t.Helper()
	now := time.Now().UTC()
	if err := h.jobs.Create(context.Background(), domain.Job{
		ID:          payload.JobID,
		SubmitterID: payload.SubmitterID,
		Status:      domain.JobStatusQueued,
		Layout:      payload.Layout,
		Mode:        payload.Mode,
		SourceType:  payload.SourceType,
		SourceKeys:  payload.SourceKeys,
		WebhookURL:  payload.WebhookURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
}

func writeSource(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 80, B: 40, A: 255})
	path := filepath.Join(dir, name)
	if err := imaging.Save(img, path); err != nil {
		t.Fatalf("save source: %v", err)
	}
	return path
}

func TestRenderStoryLocalSoloSucceeds(t *testing.T) {
	h := newTestHarness(t)
	src := writeSource(t, t.TempDir(), "landscape.png", 400, 200)
	payload := queue.RenderStoryPayload{
		JobID:       "job-solo",
		SubmitterID: "chat-7",
		Layout:      domain.LayoutSolo,
		Mode:        domain.ModeFitBlurred,
		SourceType:  domain.SourceTypeLocalFile,
		SourceKeys:  []string{src},
		WebhookURL:  "https://hooks.example.test/story",
		RequestedAt: time.Now().UTC(),
	}
	h.seedJob(t, payload)

	if err := h.server.renderStory(context.Background(), payload); err != nil {
		t.Fatalf("render story: %v", err)
	}

	job, ok, _ := h.jobs.Get(context.Background(), "job-solo")
	if !ok || job.Status != domain.JobStatusSucceeded {
		t.Fatalf("expected succeeded job, got %+v", job)
	}
	want := filepath.Join(h.outputDir, "job-solo", "story.jpg")
	if job.OutputKey != want {
		t.Fatalf("expected output %s, got %s", want, job.OutputKey)
	}
	out, err := imaging.Open(want)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	if b := out.Bounds(); b.Dx() != 90 || b.Dy() != 160 {
		t.Fatalf("expected 90x160 story, got %dx%d", b.Dx(), b.Dy())
	}

	usage := h.jobs.UsageLogs()
	if len(usage) != 1 || usage[0].SubmitterID != "chat-7" || usage[0].PixelsProcessed != 400*200 {
		t.Fatalf("unexpected usage %+v", usage)
	}
	if len(h.webhook.events) != 1 || h.webhook.events[0] != "job.completed" {
		t.Fatalf("expected job.completed webhook, got %v", h.webhook.events)
	}
	if len(h.publisher.keys) != 1 || h.publisher.keys[0] != events.RoutingKeyStoryRendered {
		t.Fatalf("expected story.rendered event, got %v", h.publisher.keys)
	}
}

func TestRenderStoryPairedWritesLayout(t *testing.T) {
	h := newTestHarness(t)
	dir := t.TempDir()
	payload := queue.RenderStoryPayload{
		JobID:      "job-pair",
		Layout:     domain.LayoutPaired,
		Mode:       domain.ModeFill,
		SourceType: domain.SourceTypeLocalFile,
		SourceKeys: []string{
			writeSource(t, dir, "first.png", 300, 300),
			writeSource(t, dir, "second.jpg", 120, 240),
		},
	}
	h.seedJob(t, payload)

	if err := h.server.renderStory(context.Background(), payload); err != nil {
		t.Fatalf("render story: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.outputDir, "job-pair", "story_layout.jpg")); err != nil {
		t.Fatalf("expected story_layout.jpg: %v", err)
	}
	usage := h.jobs.UsageLogs()
	if len(usage) != 1 || usage[0].SubmitterID != "anonymous" || usage[0].Layout != domain.LayoutPaired {
		t.Fatalf("unexpected usage %+v", usage)
	}
}

func TestRenderStoryReportsFailingSecondInput(t *testing.T) {
	h := newTestHarness(t)
	dir := t.TempDir()
	payload := queue.RenderStoryPayload{
		JobID:      "job-missing",
		Layout:     domain.LayoutPaired,
		Mode:       domain.ModeFitBlurred,
		SourceType: domain.SourceTypeLocalFile,
		SourceKeys: []string{writeSource(t, dir, "first.png", 64, 64), filepath.Join(dir, "gone.png")},
		WebhookURL: "https://hooks.example.test/story",
	}
	h.seedJob(t, payload)

	err := h.server.renderStory(context.Background(), payload)
	var renderErr *pipeline.RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("expected RenderError, got %v", err)
	}
	if renderErr.Input != pipeline.InputSecond || renderErr.Stage != pipeline.StageFetch {
		t.Fatalf("expected second/fetch, got %s/%s", renderErr.Input, renderErr.Stage)
	}

	job, _, _ := h.jobs.Get(context.Background(), "job-missing")
	if job.Status != domain.JobStatusFailed || job.Error == "" {
		t.Fatalf("expected failed job with message, got %+v", job)
	}
	if len(h.publisher.events) != 1 {
		t.Fatalf("expected one failure event, got %d", len(h.publisher.events))
	}
	failed, ok := h.publisher.events[0].(events.StoryFailed)
	if !ok || failed.Input != pipeline.InputSecond || failed.Stage != pipeline.StageFetch {
		t.Fatalf("unexpected failure event %+v", h.publisher.events[0])
	}
	if len(h.webhook.events) != 1 || h.webhook.events[0] != "job.failed" {
		t.Fatalf("expected job.failed webhook, got %v", h.webhook.events)
	}
	if _, err := os.Stat(filepath.Join(h.outputDir, "job-missing")); !os.IsNotExist(err) {
		t.Fatalf("expected no partial output, stat err=%v", err)
	}
}

func TestHandleRenderStorySkipsRetryForUndecodableSource(t *testing.T) {
	h := newTestHarness(t)
	bad := filepath.Join(t.TempDir(), "bad.png")
	if err := os.WriteFile(bad, []byte("definitely not an image"), 0o644); err != nil {
		t.Fatalf("write bad source: %v", err)
	}

	task, err := queue.NewRenderStoryTask(queue.RenderStoryPayload{
		JobID:      "job-bad",
		Layout:     domain.LayoutSolo,
		Mode:       domain.ModeFill,
		SourceType: domain.SourceTypeLocalFile,
		SourceKeys: []string{bad},
	})
	if err != nil {
		t.Fatalf("new task: %v", err)
	}

	err = h.server.handleRenderStory(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry for decode failure, got %v", err)
	}
}

func TestHandleRenderStoryRejectsMalformedPayload(t *testing.T) {
	h := newTestHarness(t)
	err := h.server.handleRenderStory(context.Background(), asynq.NewTask(queue.TypeRenderStory, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestRenderStoryWithoutObjectStorage(t *testing.T) {
	h := newTestHarness(t)
	err := h.server.renderStory(context.Background(), queue.RenderStoryPayload{
		JobID:      "job-obj",
		Layout:     domain.LayoutSolo,
		Mode:       domain.ModeFill,
		SourceType: domain.SourceTypeObjectStore,
		SourceKeys: []string{"uploads/job-obj/first"},
	})
	if !errors.Is(err, pipeline.ErrUnsupportedSourceType) {
		t.Fatalf("expected ErrUnsupportedSourceType, got %v", err)
	}
	if !pipeline.IsPermanent(err) {
		t.Fatal("expected missing storage to be a permanent failure")
	}
}

func TestRecordUsageWritesUsageLog(t *testing.T) {
	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), queue.RenderStoryPayload{
		JobID:       "job-1",
		SubmitterID: "user-1",
		Layout:      domain.LayoutPaired,
	}, pipeline.Result{
		SourceBytes:  1_000,
		SourcePixels: 500,
		Output:       pipeline.Output{Width: 10, Height: 20, Bytes: 300},
	}, 250*time.Millisecond)

	if !usageStore.called {
		t.Fatal("expected usage log to be written")
	}
	if usageStore.log.SubmitterID != "user-1" {
		t.Fatalf("expected submitter_id=user-1, got %s", usageStore.log.SubmitterID)
	}
	if usageStore.log.PixelsProcessed != 500 {
		t.Fatalf("expected pixels_processed=500, got %d", usageStore.log.PixelsProcessed)
	}
	if usageStore.log.OutputBytes != 300 {
		t.Fatalf("expected output_bytes=300, got %d", usageStore.log.OutputBytes)
	}
	if usageStore.log.ComputeTimeMS != 250 {
		t.Fatalf("expected compute_time_ms=250, got %d", usageStore.log.ComputeTimeMS)
	}
}

func TestRecordUsageClampsComputeTime(t *testing.T) {
	usageStore := &captureUsageStore{}
	s := &Server{
		logger:     log.New(io.Discard, "", 0),
		usageStore: usageStore,
		metrics:    newMetrics(),
	}

	s.recordUsage(context.Background(), queue.RenderStoryPayload{JobID: "job-2"}, pipeline.Result{}, 0)

	if usageStore.log.SubmitterID != "anonymous" {
		t.Fatalf("expected anonymous submitter, got %q", usageStore.log.SubmitterID)
	}
	if usageStore.log.ComputeTimeMS < 1 {
		t.Fatalf("expected compute_time_ms to be at least 1, got %d", usageStore.log.ComputeTimeMS)
	}
}
