package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-payables/jobs"
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    taskEnqueuer
	inspector queueInspector
}

// NewJobsCLI initialises the CLI helpers against the given Redis.
func NewJobsCLI(opts asynq.RedisClientOpt) *JobsCLI {
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var errs []error
	if c.inspector != nil {
		errs = append(errs, c.inspector.Close())
	}
	if c.client != nil {
		errs = append(errs, c.client.Close())
	}
	return errors.Join(errs...)
}

// Disburse re-enqueues the disbursement document of a voucher. queued is
// false when a task for the voucher is already waiting.
func (c *JobsCLI) Disburse(ctx context.Context, voucherID int64, voucherNumber string) (info *asynq.TaskInfo, queued bool, err error) {
	if c == nil || c.client == nil {
		return nil, false, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewVoucherDisbursementTask(jobs.VoucherDisbursementPayload{VoucherID: voucherID, VoucherNumber: voucherNumber})
	if err != nil {
		return nil, false, err
	}
	info, err = c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return info, true, nil
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
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
		stats.Archived = int(info.Archived)
	}
	return stats, nil
}

// ListScheduled returns the first page of scheduled tasks.
func (c *JobsCLI) ListScheduled(size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

func newJobsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the job queue and re-enqueue disbursement documents",
	}

	var scheduled int
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Print queue counters and upcoming scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli, err := e.jobs()
			if err != nil {
				return err
			}
			defer func() { _ = cli.Close() }()
			stats, err := cli.InspectQueue()
			if err != nil {
				return fmt.Errorf("jobs inspect: %w", err)
			}
			_, _ = fmt.Fprintf(e.stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
			if scheduled <= 0 {
				return nil
			}
			tasks, err := cli.ListScheduled(scheduled)
			if err != nil {
				return fmt.Errorf("jobs inspect: scheduled: %w", err)
			}
			for _, t := range tasks {
				_, _ = fmt.Fprintf(e.stdout, "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	inspect.Flags().IntVar(&scheduled, "scheduled", 0, "also list up to N scheduled tasks")

	var voucherID int64
	var voucherNumber string
	disburse := &cobra.Command{
		Use:   "disburse",
		Short: "Re-enqueue the disbursement document of a paid voucher",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if voucherID <= 0 {
				return errors.New("jobs disburse: --voucher must be positive")
			}
			cli, err := e.jobs()
			if err != nil {
				return err
			}
			defer func() { _ = cli.Close() }()
			info, queued, err := cli.Disburse(cmd.Context(), voucherID, voucherNumber)
			if err != nil {
				return fmt.Errorf("jobs disburse: %w", err)
			}
			if !queued {
				_, _ = fmt.Fprintf(e.stdout, "voucher %d already has a pending disbursement task\n", voucherID)
				return nil
			}
			_, _ = fmt.Fprintf(e.stdout, "enqueued %s for voucher %d\n", info.ID, voucherID)
			return nil
		},
	}
	disburse.Flags().Int64Var(&voucherID, "voucher", 0, "voucher id")
	disburse.Flags().StringVar(&voucherNumber, "number", "", "voucher number recorded in the task payload")
	_ = disburse.MarkFlagRequired("voucher")

	cmd.AddCommand(inspect, disburse)
	return cmd
}
