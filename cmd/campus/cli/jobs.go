// Package cli holds the operator commands exposed by the campus binary.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"

	"github.com/campus-sis/campus-sis/jobs"
)

// taskEnqueuer is the slice of asynq.Client the CLI needs.
type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// queueInspector is the slice of asynq.Inspector the CLI needs.
type queueInspector interface {
	GetQueueInfo(qname string) (*asynq.QueueInfo, error)
	ListScheduledTasks(qname string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    taskEnqueuer
	inspector queueInspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})
	return &JobsCLI{client: client, inspector: inspector}, nil
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

// Trigger enqueues a supported job by name with default payload.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch name {
	case jobs.TaskSessionsPurge:
		task, err = jobs.NewSessionsPurgeTask(60)
	case jobs.TaskSigninRollup:
		task, err = jobs.NewSigninRollupTask("", 90)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.Queue(jobs.QueueDefault), asynq.MaxRetry(3))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = int(info.Pending)
		stats.Active = int(info.Active)
		stats.Scheduled = int(info.Scheduled)
		stats.Retry = int(info.Retry)
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

// RunOptions configures the run subcommand.
type RunOptions struct {
	Task   string
	Stdout io.Writer
	Stderr io.Writer
}

// RunCommand enqueues the named job and reports the queued task.
func (c *JobsCLI) RunCommand(ctx context.Context, opts RunOptions) int {
	if opts.Task == "" {
		fmt.Fprintln(opts.Stderr, "usage: campus jobs run <task>")
		return 1
	}
	info, err := c.Trigger(ctx, opts.Task)
	if err != nil {
		fmt.Fprintln(opts.Stderr, err)
		return 1
	}
	fmt.Fprintf(opts.Stdout, "enqueued %s id=%s queue=%s\n", opts.Task, info.ID, info.Queue)
	return 0
}

// StatsOptions configures the stats subcommand.
type StatsOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// StatsCommand prints the current state of the default queue.
func (c *JobsCLI) StatsCommand(ctx context.Context, opts StatsOptions) int {
	stats, err := c.InspectQueue(ctx)
	if err != nil {
		fmt.Fprintln(opts.Stderr, err)
		return 1
	}
	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		if err := enc.Encode(stats); err != nil {
			fmt.Fprintln(opts.Stderr, err)
			return 1
		}
		return 0
	}
	fmt.Fprintf(opts.Stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	return 0
}

// ScheduledOptions configures the scheduled subcommand.
type ScheduledOptions struct {
	Size   int
	Stdout io.Writer
	Stderr io.Writer
}

// ScheduledCommand lists tasks waiting on the scheduler.
func (c *JobsCLI) ScheduledCommand(ctx context.Context, opts ScheduledOptions) int {
	infos, err := c.ListScheduled(ctx, opts.Size)
	if err != nil {
		fmt.Fprintln(opts.Stderr, err)
		return 1
	}
	if len(infos) == 0 {
		fmt.Fprintln(opts.Stdout, "no scheduled tasks")
		return 0
	}
	for _, info := range infos {
		fmt.Fprintf(opts.Stdout, "%s id=%s next=%s\n", info.Type, info.ID, info.NextProcessAt.Format("2006-01-02 15:04:05"))
	}
	return 0
}
