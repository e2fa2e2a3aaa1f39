package voucher

import (
	"context"

	"github.com/hibiken/asynq"
)

// Enqueuer is implemented by jobs.Client.
type Enqueuer interface {
	EnqueueVoucherDisbursement(ctx context.Context, voucherID int64, voucherNumber string) (*asynq.TaskInfo, error)
}

// QueueDispatcher schedules disbursement documents on the job queue.
type QueueDispatcher struct {
	queue Enqueuer
}

// NewQueueDispatcher wraps the queue client.
func NewQueueDispatcher(queue Enqueuer) *QueueDispatcher {
	return &QueueDispatcher{queue: queue}
}

// DispatchDisbursement enqueues the document task for a paid voucher.
func (d *QueueDispatcher) DispatchDisbursement(ctx context.Context, voucherID int64, voucherNumber string) error {
	_, err := d.queue.EnqueueVoucherDisbursement(ctx, voucherID, voucherNumber)
	return err
}
