package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// RenderMaxRetry is how many times a failed render is retried before the
	// job is marked failed.
	RenderMaxRetry = 3
	RenderTimeout  = 2 * time.Minute
	// RenderRetention keeps finished tasks inspectable in Redis.
	RenderRetention = 24 * time.Hour
)

// Client enqueues story renders for the worker.
type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// QueueName is the asynq queue render tasks are placed on.
func (c *Client) QueueName() string {
	return c.queue
}

// EnqueueRenderStory uses the job id as the task id, so a job is queued at
// most once.
func (c *Client) EnqueueRenderStory(ctx context.Context, payload RenderStoryPayload) (*asynq.TaskInfo, error) {
	task, err := NewRenderStoryTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(RenderMaxRetry),
		asynq.Timeout(RenderTimeout),
		asynq.Retention(RenderRetention),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
