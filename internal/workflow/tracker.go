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

var errMultipleActiveStages = errors.New("stage status invariant violated: more than one active stage")

// Tracker owns the per-item stage status rows. Only the Coordinator moves an
// item between stages.
type Tracker struct {
	graph              *Graph
	items              OrderItemStore
	stages             StageStore
	logger             *slog.Logger
	now                func() time.Time
	allowEarlyDelivery bool
}

// ActiveStage returns the stage currently being worked. ok is false for
// uninitialized, finished or delivered items.
func (t *Tracker) ActiveStage(ctx context.Context, orderItemID int64) (stage domain.Stage, ok bool, err error) {
	p, err := t.Progress(ctx, orderItemID)
	if err != nil {
		return "", false, err
	}
	if p.ActiveStage == "" {
		return "", false, nil
	}
	return p.ActiveStage, true, nil
}

func (t *Tracker) AllStatuses(ctx context.Context, orderItemID int64) (map[domain.Stage]domain.StageStatus, error) {
	records, err := t.stages.ListStageStatuses(ctx, orderItemID)
	if err != nil {
		return nil, StoreError("list_stage_statuses", err)
	}

	out := make(map[domain.Stage]domain.StageStatus, len(records))
	for _, r := range records {
		out[r.Stage] = r.Status
	}
	return out, nil
}

// Progress is the item's full stage picture with its derived lifecycle state.
func (t *Tracker) Progress(ctx context.Context, orderItemID int64) (domain.Progress, error) {
	item, err := t.items.GetOrderItem(ctx, orderItemID)
	if err != nil {
		return domain.Progress{}, StoreError("get_order_item", err)
	}

	records, err := t.stages.ListStageStatuses(ctx, orderItemID)
	if err != nil {
		return domain.Progress{}, StoreError("list_stage_statuses", err)
	}

	p := domain.Progress{
		OrderItemID: orderItemID,
		Stages:      records,
		DeliveredAt: item.DeliveredAt,
	}
	if p.Stages == nil {
		p.Stages = []domain.StageStatusRecord{}
	}

	var active []domain.Stage
	for _, r := range records {
		if r.Status == domain.StageActive {
			active = append(active, r.Stage)
		}
	}
	if len(active) > 1 {
		t.logger.Error("stage invariant violated",
			"order_item_id", orderItemID,
			"active_stages", active,
		)
		return domain.Progress{}, fmt.Errorf("%w: order item %d: %w", domain.ErrPersistence, orderItemID, errMultipleActiveStages)
	}

	switch {
	case item.Delivered():
		p.State = domain.StateDelivered
	case len(records) == 0:
		p.State = domain.StateUninitialized
	case len(active) == 1:
		p.State = domain.StateInProduction
		p.ActiveStage = active[0]
	default:
		p.State = domain.StateAwaitingDelivery
	}

	return p, nil
}

// CreateOrderItem stores a new order item. With initialize set its stage rows
// are written by the same store call, so a failed initialization leaves no
// item behind.
func (t *Tracker) CreateOrderItem(ctx context.Context, params domain.CreateOrderItemParams, initialize bool) (domain.OrderItem, error) {
	var stages []domain.Stage
	if initialize {
		stages = t.graph.OrderedStages()
	}

	actor := auth.ActorFromContext(ctx)
	item, err := t.items.CreateInitializedOrderItem(ctx, params, stages, actor)
	if err != nil {
		err = StoreError("create_order_item", err)
		if errors.Is(err, domain.ErrPersistence) {
			t.logger.Error("create order item failed", "order_ref", params.OrderRef, "error", err)
		}
		return domain.OrderItem{}, err
	}

	t.logger.Info("order item registered",
		"order_item_id", item.ID,
		"order_ref", item.OrderRef,
		"initialized", initialize,
		"actor", actor,
	)
	return item, nil
}

// Initialize activates the first stage and leaves the rest pending.
func (t *Tracker) Initialize(ctx context.Context, orderItemID int64) error {
	item, err := t.items.GetOrderItem(ctx, orderItemID)
	if err != nil {
		return StoreError("get_order_item", err)
	}
	if item.Delivered() {
		return fmt.Errorf("%w: order item %d is already delivered", domain.ErrInvalidState, orderItemID)
	}

	actor := auth.ActorFromContext(ctx)
	if err := t.stages.InitializeStages(ctx, orderItemID, t.graph.OrderedStages(), actor); err != nil {
		err = StoreError("initialize_stages", err)
		if errors.Is(err, domain.ErrAlreadyInitialized) {
			t.logger.Info("stage initialization skipped",
				"order_item_id", orderItemID,
				"reason", "already initialized",
			)
		}
		return err
	}

	t.logger.Info("stages initialized",
		"order_item_id", orderItemID,
		"active_stage", t.graph.FirstStage(),
		"actor", actor,
	)
	return nil
}

// transition marks tr.From completed and tr.To active (if set) as one atomic
// store write. It is the only path that changes stage statuses after
// initialization.
func (t *Tracker) transition(ctx context.Context, tr domain.StageTransition) error {
	if tr.To != "" {
		if next, ok := t.graph.NextStage(tr.From); !ok || next != tr.To {
			return fmt.Errorf("%w: %s does not follow %s", domain.ErrInvalidState, tr.To, tr.From)
		}
	} else if !t.graph.IsLastStage(tr.From) {
		return fmt.Errorf("%w: %s is not the last stage", domain.ErrInvalidState, tr.From)
	}

	return StoreError("apply_stage_transition", t.stages.ApplyStageTransition(ctx, tr))
}

// MarkDelivered records the delivery timestamp. Unless early delivery is
// allowed, the last stage must be completed first. Repeated calls succeed
// and keep the first timestamp.
func (t *Tracker) MarkDelivered(ctx context.Context, orderItemID int64) (domain.Delivery, error) {
	req := domain.DeliveryRequest{
		OrderItemID:      orderItemID,
		LastStage:        t.graph.LastStage(),
		RequireCompleted: !t.allowEarlyDelivery,
		Actor:            auth.ActorFromContext(ctx),
		At:               t.now().UTC(),
	}

	d, err := t.stages.MarkDelivered(ctx, req)
	if err != nil {
		err = StoreError("mark_delivered", err)
		switch {
		case errors.Is(err, domain.ErrInvalidState):
			metrics.IncDelivery(metrics.OutcomeInvalid)
			t.logger.Info("delivery rejected",
				"order_item_id", orderItemID,
				"reason", err.Error(),
			)
		case errors.Is(err, domain.ErrPersistence):
			metrics.IncDelivery(metrics.OutcomeError)
			t.logger.Error("delivery failed", "order_item_id", orderItemID, "error", err)
		}
		return domain.Delivery{}, err
	}

	if d.AlreadyDelivered {
		t.logger.Info("delivery idempotent", "order_item_id", orderItemID, "delivered_at", d.DeliveredAt)
		return d, nil
	}

	metrics.IncDelivery(metrics.OutcomeSuccess)
	t.logger.Info("order item delivered",
		"order_item_id", orderItemID,
		"delivered_at", d.DeliveredAt,
		"actor", req.Actor,
	)
	return d, nil
}
