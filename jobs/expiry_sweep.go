package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskExpirySweep marks overdue active batches as expired.
	TaskExpirySweep = "ledger:expiry-sweep"
)

// ExpirySweepPayload carries scheduling metadata.
type ExpirySweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// ExpirySweeper persists expired status on batches past their expiry date.
type ExpirySweeper interface {
	MarkExpiredBatches(ctx context.Context, now time.Time) (int64, error)
}

// NewExpirySweepTask constructs an Asynq task for the expiry sweep.
func NewExpirySweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ExpirySweepPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskExpirySweep, body, asynq.Queue(QueueDefault)), nil
}

// NewExpirySweepHandler returns the task handler. The sweep is cosmetic:
// read paths already treat overdue batches as expired, this just keeps the
// stored status column in line for reporting queries.
func NewExpirySweepHandler(sweeper ExpirySweeper, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ExpirySweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		marked, err := sweeper.MarkExpiredBatches(ctx, time.Now())
		if err != nil {
			logger.Error("expiry sweep failed", "error", err)
			return err
		}
		if marked > 0 {
			logger.Info("expiry sweep", "marked", marked)
		}
		return nil
	}
}
