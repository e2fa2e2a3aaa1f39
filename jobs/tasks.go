package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskVoucherDisbursement renders the disbursement document of a paid voucher.
	TaskVoucherDisbursement = "payables:voucher_disbursement"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "payables:idempotency_cleanup"

	disbursementUniqueTTL = 10 * time.Minute
)

// VoucherDisbursementPayload identifies the paid voucher to document.
type VoucherDisbursementPayload struct {
	VoucherID     int64  `json:"voucher_id"`
	VoucherNumber string `json:"voucher_number"`
}

// NewVoucherDisbursementTask constructs an Asynq task. Duplicate tasks for the
// same voucher are rejected by the queue while one is still pending.
func NewVoucherDisbursementTask(payload VoucherDisbursementPayload) (*asynq.Task, error) {
	if payload.VoucherID <= 0 {
		return nil, fmt.Errorf("jobs: voucher id required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVoucherDisbursement, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Unique(disbursementUniqueTTL),
	), nil
}

// IdempotencyCleanupPayload configures how old a key must be to be purged.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask builds the periodic purge task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	hours := int(retention / time.Hour)
	if hours <= 0 {
		hours = 24
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyPurger is implemented by shared.IdempotencyStore.
type IdempotencyPurger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupHandler returns the handler for TaskIdempotencyCleanup.
func IdempotencyCleanupHandler(store IdempotencyPurger, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if store == nil {
			return nil
		}
		if payload.RetentionHours <= 0 {
			payload.RetentionHours = 24
		}
		removed, err := store.Cleanup(ctx, time.Duration(payload.RetentionHours)*time.Hour)
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("idempotency keys purged", slog.Int64("removed", removed), slog.Int("retention_hours", payload.RetentionHours))
		}
		return nil
	}
}
