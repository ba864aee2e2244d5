package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dunamismax/storyframe/internal/domain"
	"github.com/dunamismax/storyframe/internal/storage"
)

const SourceTypeObjectStore = domain.SourceTypeObjectStore

type objectReader interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
}

type objectWriter interface {
	WriteObject(ctx context.Context, objectKey string, data []byte, contentType string) error
}

type ObjectStoreFetcher struct {
	Storage objectReader
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, sourceType, key string) ([]byte, error) {
	if f.Storage == nil {
		return nil, errors.New("storage client is required")
	}
	if !strings.EqualFold(sourceType, SourceTypeObjectStore) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, sourceType)
	}
	data, err := f.Storage.ReadObject(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrSourceNotFound, err)
	}
	return data, err
}

type ObjectStoreEmitter struct {
	Storage      objectWriter
	OutputPrefix string
}

func (e ObjectStoreEmitter) Emit(ctx context.Context, req Request, rendered Rendered) (Output, error) {
	if e.Storage == nil {
		return Output{}, errors.New("storage client is required")
	}

	objectKey := OutputObjectKey(e.OutputPrefix, req.JobID, req.Layout, rendered.Format)
	if err := e.Storage.WriteObject(ctx, objectKey, rendered.Data, contentTypeForFormat(rendered.Format)); err != nil {
		return Output{}, err
	}

	return outputFor(req, rendered, objectKey), nil
}

// SourceObjectPrefix holds every uploaded source image.
const SourceObjectPrefix = "uploads/"

// SourceObjectKey is where an uploaded source image for a job is stored.
func SourceObjectKey(jobID, role string) string {
	return path.Join(SourceObjectPrefix, sanitizePathToken(jobID), sanitizePathToken(role))
}

func OutputObjectKey(prefix, jobID string, layout domain.Layout, format string) string {
	return path.Join(
		defaultOutputPrefix(prefix),
		sanitizePathToken(jobID),
		OutputName(layout, format),
	)
}

func defaultOutputPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "outputs"
	}
	return prefix
}

func contentTypeForFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return OutputContentType
	case "png":
		return "image/png"
	default:
		return "application/octet-stream"
	}
}
