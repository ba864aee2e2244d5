package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/storyframe/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeRenderStory = "story:render"

type RenderStoryPayload struct {
	JobID       string            `json:"job_id"`
	SubmitterID string            `json:"submitter_id,omitempty"`
	Layout      domain.Layout     `json:"layout"`
	Mode        domain.LayoutMode `json:"mode"`
	SourceType  string            `json:"source_type"`
	SourceKeys  []string          `json:"source_keys"`
	WebhookURL  string            `json:"webhook_url,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
}

func NewRenderStoryTask(payload RenderStoryPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}
	return asynq.NewTask(TypeRenderStory, body), nil
}

func ParseRenderStoryPayload(task *asynq.Task) (RenderStoryPayload, error) {
	var payload RenderStoryPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RenderStoryPayload{}, fmt.Errorf("unmarshal render payload: %w", err)
	}
	if payload.JobID == "" {
		return RenderStoryPayload{}, fmt.Errorf("render payload is missing job_id")
	}
	return payload, nil
}
