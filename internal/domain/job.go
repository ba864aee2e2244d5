package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeObjectStore = "object_store"
)

// CreateStoryRequest describes a render job before it is queued.
type CreateStoryRequest struct {
	SubmitterID string     `json:"submitter_id,omitempty"`
	Layout      Layout     `json:"layout"`
	Mode        LayoutMode `json:"mode"`
	SourceType  string     `json:"source_type"`
	SourceKeys  []string   `json:"source_keys"`
	WebhookURL  string     `json:"webhook_url,omitempty"`
}

type Job struct {
	ID          string
	SubmitterID string
	Status      string
	Layout      Layout
	Mode        LayoutMode
	SourceType  string
	SourceKeys  []string
	OutputKey   string
	WebhookURL  string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r CreateStoryRequest) Validate() error {
	switch r.Layout {
	case LayoutSolo, LayoutPaired:
	case "":
		return errors.New("layout is required")
	default:
		return fmt.Errorf("unsupported layout: %s", r.Layout)
	}

	switch r.Mode {
	case ModeFill, ModeFitBlurred:
	case "":
		return errors.New("mode is required")
	default:
		return fmt.Errorf("unsupported mode: %s", r.Mode)
	}

	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeObjectStore {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}

	if want := r.Layout.SourceCount(); len(r.SourceKeys) != want {
		return fmt.Errorf("layout %s requires %d source key(s), got %d", r.Layout, want, len(r.SourceKeys))
	}
	for i, key := range r.SourceKeys {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("source_keys[%d] is required", i)
		}
	}
	return nil
}
