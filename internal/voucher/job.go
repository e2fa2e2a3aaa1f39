package voucher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-payables/jobs"
)

// DocumentStore is the part of Service the disbursement job needs.
type DocumentStore interface {
	Get(ctx context.Context, id int64) (PaymentVoucher, error)
	RecordDocument(ctx context.Context, id int64, path string) error
}

// JobConfig wires dependencies required by the worker job.
type JobConfig struct {
	Vouchers   DocumentStore
	Renderer   *Renderer
	StorageDir string
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Job renders disbursement documents for paid vouchers.
type Job struct {
	vouchers   DocumentStore
	renderer   *Renderer
	storageDir string
	logger     *slog.Logger
	now        func() time.Time
}

// NewJob constructs a Job handler.
func NewJob(cfg JobConfig) *Job {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{vouchers: cfg.Vouchers, renderer: cfg.Renderer, storageDir: cfg.StorageDir, logger: logger, now: now}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *Job) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.vouchers == nil || j.renderer == nil {
		return fmt.Errorf("voucher disbursement job not configured")
	}
	var payload jobs.VoucherDisbursementPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.VoucherID == 0 {
		return asynq.SkipRetry
	}
	v, err := j.vouchers.Get(ctx, payload.VoucherID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return asynq.SkipRetry
		}
		return err
	}
	if v.Status != StatusPaid {
		j.logger.Warn("disbursement requested for unpaid voucher", slog.Int64("voucher_id", v.ID), slog.String("status", string(v.Status)))
		return asynq.SkipRetry
	}
	if v.DocumentPath != "" {
		if _, statErr := os.Stat(v.DocumentPath); statErr == nil {
			return nil
		}
	}
	pdf, err := j.renderer.Render(ctx, DisbursementDocument{Voucher: v, GeneratedAt: j.now()})
	if err != nil {
		return err
	}
	path, err := j.save(v, pdf)
	if err != nil {
		return err
	}
	if err := j.vouchers.RecordDocument(ctx, v.ID, path); err != nil {
		return err
	}
	j.logger.Info("disbursement document ready", slog.Int64("voucher_id", v.ID), slog.String("file", path))
	return nil
}

func (j *Job) save(v PaymentVoucher, pdf []byte) (string, error) {
	dir := j.storageDir
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "payment-vouchers")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, Filename(v))
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
