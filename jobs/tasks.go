package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/secureblog/secureblog/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditPrune is the task type for audit log retention pruning.
	TaskAuditPrune = "audit:prune"
)

// AuditPrunePayload carries the retention window for a prune run.
type AuditPrunePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewAuditPruneTask constructs an Asynq task.
func NewAuditPruneTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPrunePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, data, asynq.Queue(QueueDefault)), nil
}

// NewAuditPruneHandler returns the handler processing TaskAuditPrune tasks.
// Retention pruning runs out of band so request handlers never pay for it.
func NewAuditPruneHandler(recorder *audit.Recorder, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload AuditPrunePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if payload.Retention <= 0 {
			return asynq.SkipRetry
		}
		if err := recorder.Prune(ctx, payload.Retention); err != nil {
			if logger != nil {
				logger.Error("audit prune", slog.Any("error", err))
			}
			return err
		}
		if logger != nil {
			logger.Info("audit prune completed", slog.Duration("retention", payload.Retention))
		}
		return nil
	}
}
