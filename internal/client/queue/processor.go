package queue

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/syncbox/internal/common"
	"github.com/dmitrijs2005/syncbox/internal/logging"
)

// Applier delivers one queued action to the server. Implementations map the
// action's entity type and operation onto the corresponding network call.
type Applier interface {
	Apply(ctx context.Context, a *Action) error
}

// Result summarizes one drain pass over the queue.
type Result struct {
	Success bool
	Synced  int
	Failed  int
	Errors  []error
}

// Processor drains pending actions strictly sequentially: one item in flight
// at a time, preserving per-device ordering.
type Processor struct {
	queue   *Manager
	applier Applier
	logger  logging.Logger
}

func NewProcessor(q *Manager, applier Applier, l logging.Logger) *Processor {
	return &Processor{queue: q, applier: applier, logger: l.With("module", "queue_processor")}
}

// Process takes a snapshot of the pending queue and attempts delivery for
// each item in order. Items at the retry ceiling are counted as failed
// without further attempts; items that fail delivery stay pending for the
// next pass.
func (p *Processor) Process(ctx context.Context) (*Result, error) {
	pending, err := p.queue.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending queue: %w", err)
	}

	result := &Result{}

	for _, a := range pending {
		if a.Attempts >= common.MaxDeliveryAttempts {
			result.Failed++
			result.Errors = append(result.Errors,
				fmt.Errorf("%w: action %s after %d attempts", common.ErrMaxAttemptsExceeded, a.ID, a.Attempts))
			continue
		}

		if err := p.queue.IncrementAttempts(ctx, a.ID); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err)
			continue
		}

		if err := p.applier.Apply(ctx, a); err != nil {
			p.logger.Warn(ctx, "delivery failed", "action", a.ID, "attempt", a.Attempts+1, "error", err)
			result.Failed++
			result.Errors = append(result.Errors, fmt.Errorf("%w: action %s: %w", common.ErrRemoteApply, a.ID, err))
			continue
		}

		if err := p.queue.MarkSynced(ctx, a.ID); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err)
			continue
		}
		result.Synced++
	}

	result.Success = result.Failed == 0
	return result, nil
}
