// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/craftline/production-tracker/internal/auth"
	"github.com/craftline/production-tracker/internal/domain"
	"github.com/craftline/production-tracker/internal/metrics"
)

// Coordinator is the single entry point for moving an order item to its
// next stage.
type Coordinator struct {
	graph     *Graph
	checklist *Checklist
	tracker   *Tracker
	logger    *slog.Logger
}

// ProceedToNextStage completes current and activates the stage after it, or
// leaves no stage active when current is the last one. current must be the
// item's active stage and its checklist must be complete. Concurrent calls
// for the same item and stage let exactly one through; the rest get
// ErrStaleState.
func (c *Coordinator) ProceedToNextStage(ctx context.Context, orderItemID int64, current domain.Stage) (domain.Transition, error) {
	started := time.Now()
	defer func() {
		metrics.ObserveTransitionDuration(time.Since(started))
	}()

	if !c.graph.Contains(current) {
		metrics.IncStageTransition(current, metrics.OutcomeInvalid)
		return domain.Transition{}, fmt.Errorf("%w: unknown stage %q", domain.ErrValidation, current)
	}

	progress, err := c.tracker.Progress(ctx, orderItemID)
	if err != nil {
		return domain.Transition{}, c.fail(orderItemID, current, err)
	}

	switch progress.State {
	case domain.StateDelivered:
		return domain.Transition{}, c.fail(orderItemID, current,
			fmt.Errorf("%w: order item %d is already delivered", domain.ErrInvalidState, orderItemID))
	case domain.StateUninitialized:
		return domain.Transition{}, c.fail(orderItemID, current,
			fmt.Errorf("%w: order item %d has no stages yet", domain.ErrInvalidState, orderItemID))
	}

	if progress.ActiveStage != current {
		return domain.Transition{}, c.fail(orderItemID, current,
			fmt.Errorf("%w: active stage is %q, not %q", domain.ErrStaleState, progress.ActiveStage, current))
	}

	outstanding, err := c.checklist.outstanding(ctx, orderItemID, current)
	if err != nil {
		return domain.Transition{}, c.fail(orderItemID, current, err)
	}
	if len(outstanding) > 0 {
		return domain.Transition{}, c.fail(orderItemID, current,
			fmt.Errorf("%w: %d of the %s checks are not passed or skipped", domain.ErrChecklistIncomplete, len(outstanding), current))
	}

	next, hasNext := c.graph.NextStage(current)
	tr := domain.StageTransition{
		OrderItemID: orderItemID,
		From:        current,
		Actor:       auth.ActorFromContext(ctx),
	}
	if hasNext {
		tr.To = next
	}

	if err := c.tracker.transition(ctx, tr); err != nil {
		return domain.Transition{}, c.fail(orderItemID, current, err)
	}

	metrics.IncStageTransition(current, metrics.OutcomeSuccess)
	c.logger.Info("stage advanced",
		"order_item_id", orderItemID,
		"from", current,
		"to", tr.To,
		"actor", tr.Actor,
	)

	return domain.Transition{
		OrderItemID: orderItemID,
		From:        current,
		To:          tr.To,
		Final:       !hasNext,
	}, nil
}

// fail records the outcome of a rejected proceed and returns err unchanged.
func (c *Coordinator) fail(orderItemID int64, current domain.Stage, err error) error {
	attrs := []any{
		"order_item_id", orderItemID,
		"stage", current,
		"reason", err.Error(),
	}

	switch {
	case errors.Is(err, domain.ErrStaleState):
		metrics.IncStageTransition(current, metrics.OutcomeStale)
		c.logger.Info("proceed rejected", attrs...)
	case errors.Is(err, domain.ErrChecklistIncomplete):
		metrics.IncStageTransition(current, metrics.OutcomeChecklistIncomplete)
		c.logger.Info("proceed rejected", attrs...)
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrValidation):
		metrics.IncStageTransition(current, metrics.OutcomeInvalid)
		c.logger.Info("proceed rejected", attrs...)
	default:
		metrics.IncStageTransition(current, metrics.OutcomeError)
		c.logger.Error("proceed failed",
			"order_item_id", orderItemID,
			"stage", current,
			"error", err,
		)
	}
	return err
}
