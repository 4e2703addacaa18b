// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/craftline/production-tracker/internal/domain"
)

const defaultStoreTimeout = 5 * time.Second

type Deps struct {
	Graph      *Graph
	OrderItems OrderItemStore
	Stages     StageStore
	Checks     CheckStore
	Logger     *slog.Logger

	// StoreTimeout bounds every engine operation; expiry surfaces as
	// domain.ErrPersistence.
	StoreTimeout       time.Duration
	AllowEarlyDelivery bool
	Now                func() time.Time
}

// Engine wires the stage graph, checklist engine, status tracker and
// transition coordinator behind one API.
type Engine struct {
	graph       *Graph
	checklist   *Checklist
	tracker     *Tracker
	coordinator *Coordinator
	timeout     time.Duration
}

func New(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "workflow")

	graph := deps.Graph
	if graph == nil {
		graph = DefaultGraph()
	}

	timeout := deps.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	checklist := &Checklist{
		graph:  graph,
		items:  deps.OrderItems,
		stages: deps.Stages,
		checks: deps.Checks,
		logger: logger,
		now:    now,
	}
	tracker := &Tracker{
		graph:              graph,
		items:              deps.OrderItems,
		stages:             deps.Stages,
		logger:             logger,
		now:                now,
		allowEarlyDelivery: deps.AllowEarlyDelivery,
	}

	return &Engine{
		graph:     graph,
		checklist: checklist,
		tracker:   tracker,
		coordinator: &Coordinator{
			graph:     graph,
			checklist: checklist,
			tracker:   tracker,
			logger:    logger,
		},
		timeout: timeout,
	}
}

func (e *Engine) Graph() *Graph             { return e.graph }
func (e *Engine) Checklist() *Checklist     { return e.checklist }
func (e *Engine) Tracker() *Tracker         { return e.tracker }
func (e *Engine) Coordinator() *Coordinator { return e.coordinator }

func (e *Engine) Stages() []domain.StageDef {
	return e.graph.Definitions()
}

func (e *Engine) ChecklistForStage(ctx context.Context, orderItemID int64, stage domain.Stage) ([]domain.ChecklistItem, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.checklist.ChecklistForStage(ctx, orderItemID, stage)
}

func (e *Engine) ActiveChecklist(ctx context.Context, orderItemID int64) (domain.ActiveChecklist, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.checklist.ActiveChecklist(ctx, orderItemID)
}

func (e *Engine) UpdateCheckStatus(ctx context.Context, u domain.CheckUpdate) (domain.CheckProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.checklist.UpdateCheckStatus(ctx, u)
}

func (e *Engine) IsStageChecklistComplete(ctx context.Context, orderItemID int64, stage domain.Stage) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.checklist.IsStageChecklistComplete(ctx, orderItemID, stage)
}

func (e *Engine) Proceed(ctx context.Context, orderItemID int64, current domain.Stage) (domain.Transition, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.coordinator.ProceedToNextStage(ctx, orderItemID, current)
}

func (e *Engine) MarkDelivered(ctx context.Context, orderItemID int64) (domain.Delivery, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.tracker.MarkDelivered(ctx, orderItemID)
}

func (e *Engine) CreateOrderItem(ctx context.Context, params domain.CreateOrderItemParams, initialize bool) (domain.OrderItem, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.tracker.CreateOrderItem(ctx, params, initialize)
}

func (e *Engine) Initialize(ctx context.Context, orderItemID int64) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.tracker.Initialize(ctx, orderItemID)
}

func (e *Engine) StageStatuses(ctx context.Context, orderItemID int64) (map[domain.Stage]domain.StageStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.tracker.AllStatuses(ctx, orderItemID)
}

func (e *Engine) Progress(ctx context.Context, orderItemID int64) (domain.Progress, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.tracker.Progress(ctx, orderItemID)
}

func (e *Engine) ActiveStage(ctx context.Context, orderItemID int64) (domain.Stage, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.tracker.ActiveStage(ctx, orderItemID)
}
