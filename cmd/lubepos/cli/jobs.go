package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lubepos/lubepos/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// PurgeOptions defines output streams for the purge command.
type PurgeOptions struct {
	Stdout io.Writer
	Stderr io.Writer
}

// PurgeCommand enqueues a retention sweep and prints the queue depth.
func (c *JobsCLI) PurgeCommand(ctx context.Context, opts PurgeOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	task, err := jobs.NewExportsPurgeTask(time.Now().UTC())
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "purge: %v\n", err)
		return 1
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "purge: enqueue: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "enqueued %s on %s\n", info.ID, info.Queue)
	if q, err := c.inspector.GetQueueInfo(jobs.QueueDefault); err == nil {
		_, _ = fmt.Fprintf(opts.Stdout, "queue %s: pending %d, retry %d\n", q.Queue, q.Pending, q.Retry)
	}
	return 0
}
