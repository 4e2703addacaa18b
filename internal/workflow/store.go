// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"

	"github.com/craftline/production-tracker/internal/domain"
	"github.com/google/uuid"
)

// The store contracts below are what the engine needs from persistence.
// Implementations report missing rows as domain.ErrNotFound and the
// workflow sentinels (ErrStaleState, ErrInvalidState, ErrAlreadyInitialized)
// as-is; any other error is treated as a persistence failure.

type OrderItemStore interface {
	GetOrderItem(ctx context.Context, id int64) (domain.OrderItem, error)
	// CreateInitializedOrderItem stores a new item and, when stages is not
	// empty, its stage rows as one atomic write: a failure stores nothing.
	CreateInitializedOrderItem(ctx context.Context, params domain.CreateOrderItemParams, stages []domain.Stage, actor string) (domain.OrderItem, error)
}

type StageStore interface {
	// ListStageStatuses returns the item's stage rows ordered by position.
	// An existing but uninitialized item yields an empty slice.
	ListStageStatuses(ctx context.Context, orderItemID int64) ([]domain.StageStatusRecord, error)
	// InitializeStages creates one row per stage, the first active and the
	// rest pending, or fails with ErrAlreadyInitialized.
	InitializeStages(ctx context.Context, orderItemID int64, stages []domain.Stage, actor string) error
	// ApplyStageTransition atomically re-verifies that t.From is the active
	// stage and that its checklist is satisfied, then completes it and
	// activates t.To when set. ErrStaleState when t.From is no longer active,
	// ErrChecklistIncomplete when a check lost its passed or skipped verdict.
	ApplyStageTransition(ctx context.Context, t domain.StageTransition) error
	// MarkDelivered sets the delivery timestamp once; later calls report the
	// stored timestamp with AlreadyDelivered set.
	MarkDelivered(ctx context.Context, req domain.DeliveryRequest) (domain.Delivery, error)
}

type CheckStore interface {
	ListChecks(ctx context.Context, stage domain.Stage) ([]domain.Check, error)
	GetCheck(ctx context.Context, id uuid.UUID) (domain.Check, error)
	ListCheckProgress(ctx context.Context, orderItemID int64, stage domain.Stage) ([]domain.CheckProgress, error)
	UpsertCheckProgress(ctx context.Context, u domain.CheckUpdate) (domain.CheckProgress, error)
}
