// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/craftline/production-tracker/internal/auth"
	"github.com/craftline/production-tracker/internal/domain"
	"github.com/google/uuid"
)

type WorkflowService interface {
	Stages() []domain.StageDef
	ChecklistForStage(ctx context.Context, orderItemID int64, stage domain.Stage) ([]domain.ChecklistItem, error)
	ActiveChecklist(ctx context.Context, orderItemID int64) (domain.ActiveChecklist, error)
	UpdateCheckStatus(ctx context.Context, u domain.CheckUpdate) (domain.CheckProgress, error)
	Proceed(ctx context.Context, orderItemID int64, current domain.Stage) (domain.Transition, error)
	MarkDelivered(ctx context.Context, orderItemID int64) (domain.Delivery, error)
	CreateOrderItem(ctx context.Context, params domain.CreateOrderItemParams, initialize bool) (domain.OrderItem, error)
	Initialize(ctx context.Context, orderItemID int64) error
	Progress(ctx context.Context, orderItemID int64) (domain.Progress, error)
}

type OrderItemRegistry interface {
	GetOrderItem(ctx context.Context, id int64) (domain.OrderItem, error)
	ListOrderItemsByActiveStage(ctx context.Context, stage domain.Stage) ([]domain.BoardCard, error)
}

type EventLister interface {
	ListEventsAfter(ctx context.Context, orderItemID int64, afterSeq int64) ([]domain.EventRecord, error)
}

type OperatorResolver interface {
	ResolveOperator(ctx context.Context, bearerToken string) (auth.Operator, bool, error)
}

type OperatorManager interface {
	CreateOperator(ctx context.Context, params domain.CreateOperatorParams) (domain.CreatedOperator, error)
	ListOperators(ctx context.Context) ([]domain.OperatorRecord, error)
	RevokeOperator(ctx context.Context, id uuid.UUID) error
}

type CheckAdmin interface {
	UpsertCheck(ctx context.Context, params domain.CreateCheckParams) (domain.Check, error)
	ListAllChecks(ctx context.Context) ([]domain.Check, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
