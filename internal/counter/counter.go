package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/cuongbtq/automation-worker/internal/worker"
	"github.com/cuongbtq/automation-worker/internal/worker/domain"
)

// Payload is the test queue message: count to CountUpto, pausing between steps
type Payload struct {
	CountUpto    int `json:"countUpto" validate:"required,gte=1"`
	IntervalInMs int `json:"intervalInMs" validate:"gte=0"`
}

// Handler counts up and reports progress after each step.
// It exercises the queue end to end without external side effects.
type Handler struct {
	sleep func(ctx context.Context, d time.Duration) error
}

var _ worker.Handler[Payload] = (*Handler)(nil)

// NewHandler creates a new counter handler
func NewHandler() *Handler {
	return &Handler{sleep: sleepContext}
}

// OnItem counts from 1 to CountUpto
func (h *Handler) OnItem(ctx context.Context, item *worker.JobItem[Payload]) error {
	total := item.Payload.CountUpto
	interval := time.Duration(item.Payload.IntervalInMs) * time.Millisecond

	for i := 1; i <= total; i++ {
		if err := h.sleep(ctx, interval); err != nil {
			return err
		}

		rate := float64(i) / float64(total) * domain.MaxProgress
		if err := item.UpdateProgressWithLabel(ctx, rate, fmt.Sprintf("%d/%d", i, total)); err != nil {
			return err
		}
	}

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
