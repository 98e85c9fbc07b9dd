package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	maxRetry  = 5
	timeout   = 3 * time.Minute
	retention = 24 * time.Hour
)

// ErrAlreadyEnqueued means a task for the job is still held by the queue.
var ErrAlreadyEnqueued = errors.New("job already enqueued")

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

func (c *Client) Queue() string {
	return c.queue
}

// EnqueueFryImage schedules one fry task per job. The task id is the job id, so
// a second start for the same job is refused by the queue itself.
func (c *Client) EnqueueFryImage(ctx context.Context, payload FryImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewFryImageTask(payload)
	if err != nil {
		return nil, err
	}

	info, err := c.client.EnqueueContext(ctx, task, enqueueOptions(c.queue, payload.JobID)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyEnqueued, payload.JobID)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", payload.JobID, err)
	}
	return info, nil
}

func enqueueOptions(queueName, jobID string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(queueName),
		asynq.TaskID(jobID),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(timeout),
		asynq.Retention(retention),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}
