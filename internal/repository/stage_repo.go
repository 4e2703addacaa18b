// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/craftline/production-tracker/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StageRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStageRepository(pool *pgxpool.Pool, logger *slog.Logger) *StageRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &StageRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *StageRepository) ListStageStatuses(ctx context.Context, orderItemID int64) ([]domain.StageStatusRecord, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM order_items WHERE id=$1)`,
		orderItemID,
	).Scan(&exists); err != nil {
		r.logger.Error("check order item failed", "order_item_id", orderItemID, "error", err)
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: order item %d", domain.ErrNotFound, orderItemID)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT stage, position, status, started_at, completed_at
		FROM stage_statuses
		WHERE order_item_id=$1
		ORDER BY position ASC
	`, orderItemID)
	if err != nil {
		r.logger.Error("list stage statuses query failed", "order_item_id", orderItemID, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StageStatusRecord, 0, len(domain.KnownStages))
	for rows.Next() {
		var rec domain.StageStatusRecord
		if err := rows.Scan(
			&rec.Stage,
			&rec.Position,
			&rec.Status,
			&rec.StartedAt,
			&rec.CompletedAt,
		); err != nil {
			r.logger.Error("scan stage status failed", "order_item_id", orderItemID, "error", err)
			return nil, err
		}
		out = append(out, rec)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("stage status rows iteration failed", "order_item_id", orderItemID, "error", err)
		return nil, err
	}

	return out, nil
}

func (r *StageRepository) InitializeStages(ctx context.Context, orderItemID int64, stages []domain.Stage, actor string) error {
	if len(stages) == 0 {
		return fmt.Errorf("%w: no stages to initialize", domain.ErrValidation)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	deliveredAt, err := lockOrderItem(ctx, tx, orderItemID)
	if err != nil {
		return err
	}
	if deliveredAt != nil {
		return fmt.Errorf("%w: order item %d is delivered", domain.ErrInvalidState, orderItemID)
	}

	var existing int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM stage_statuses WHERE order_item_id=$1`,
		orderItemID,
	).Scan(&existing); err != nil {
		r.logger.Error("count stage statuses failed", "order_item_id", orderItemID, "error", err)
		return err
	}
	if existing > 0 {
		return fmt.Errorf("%w: order item %d", domain.ErrAlreadyInitialized, orderItemID)
	}

	if err := insertStageRows(ctx, tx, orderItemID, stages, actor); err != nil {
		r.logger.Error("insert stage rows failed", "order_item_id", orderItemID, "error", err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "order_item_id", orderItemID, "error", err)
		return err
	}

	r.logger.Info("stages initialized", "order_item_id", orderItemID, "stages", len(stages))
	return nil
}

// ApplyStageTransition completes t.From and activates t.To in one
// transaction. The order item row lock serializes concurrent callers and the
// status guard on the update turns a lost race into ErrStaleState. The
// checklist of t.From is re-counted under the same lock.
func (r *StageRepository) ApplyStageTransition(ctx context.Context, t domain.StageTransition) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	deliveredAt, err := lockOrderItem(ctx, tx, t.OrderItemID)
	if err != nil {
		return err
	}
	if deliveredAt != nil {
		return fmt.Errorf("%w: order item %d is delivered", domain.ErrInvalidState, t.OrderItemID)
	}

	var outstanding int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM checks c
		WHERE c.stage=$2
		  AND NOT EXISTS (
			SELECT 1
			FROM check_progress cp
			WHERE cp.order_item_id=$1
			  AND cp.check_id=c.id
			  AND cp.status IN ($3, $4)
		  )
	`,
		t.OrderItemID,
		t.From,
		domain.CheckPassed,
		domain.CheckSkipped,
	).Scan(&outstanding); err != nil {
		r.logger.Error("count outstanding checks failed",
			"order_item_id", t.OrderItemID,
			"stage", t.From,
			"error", err,
		)
		return err
	}
	if outstanding > 0 {
		return fmt.Errorf("%w: %d of the %s checks are not passed or skipped", domain.ErrChecklistIncomplete, outstanding, t.From)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE stage_statuses
		SET status=$3,
		    completed_at=NOW(),
		    updated_at=NOW(),
		    version=version+1
		WHERE order_item_id=$1
		  AND stage=$2
		  AND status=$4
	`,
		t.OrderItemID,
		t.From,
		domain.StageCompleted,
		domain.StageActive,
	)
	if err != nil {
		r.logger.Error("complete stage failed",
			"order_item_id", t.OrderItemID,
			"stage", t.From,
			"error", err,
		)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is no longer active", domain.ErrStaleState, t.From)
	}

	if t.To != "" {
		tag, err := tx.Exec(ctx, `
			UPDATE stage_statuses
			SET status=$3,
			    started_at=NOW(),
			    updated_at=NOW(),
			    version=version+1
			WHERE order_item_id=$1
			  AND stage=$2
			  AND status=$4
		`,
			t.OrderItemID,
			t.To,
			domain.StageActive,
			domain.StagePending,
		)
		if err != nil {
			r.logger.Error("activate stage failed",
				"order_item_id", t.OrderItemID,
				"stage", t.To,
				"error", err,
			)
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s is not pending", domain.ErrStaleState, t.To)
		}
	}

	if err := insertEvent(ctx, tx, t.OrderItemID, domain.EventStageAdvanced, t.Actor, map[string]any{
		"from": t.From,
		"to":   t.To,
	}); err != nil {
		r.logger.Error("insert transition event failed", "order_item_id", t.OrderItemID, "error", err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "order_item_id", t.OrderItemID, "error", err)
		return err
	}

	return nil
}

func (r *StageRepository) MarkDelivered(ctx context.Context, req domain.DeliveryRequest) (domain.Delivery, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.Delivery{}, err
	}
	defer tx.Rollback(ctx)

	deliveredAt, err := lockOrderItem(ctx, tx, req.OrderItemID)
	if err != nil {
		return domain.Delivery{}, err
	}
	if deliveredAt != nil {
		r.logger.Info("deliver skipped (already delivered)", "order_item_id", req.OrderItemID)
		return domain.Delivery{
			OrderItemID:      req.OrderItemID,
			DeliveredAt:      deliveredAt.UTC(),
			AlreadyDelivered: true,
		}, tx.Commit(ctx)
	}

	if req.RequireCompleted {
		var status domain.StageStatus
		err := tx.QueryRow(ctx,
			`SELECT status FROM stage_statuses WHERE order_item_id=$1 AND stage=$2`,
			req.OrderItemID,
			req.LastStage,
		).Scan(&status)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Error("read last stage failed", "order_item_id", req.OrderItemID, "error", err)
			return domain.Delivery{}, err
		}
		if status != domain.StageCompleted {
			return domain.Delivery{}, fmt.Errorf("%w: %s is not completed", domain.ErrInvalidState, req.LastStage)
		}
	}

	at := req.At.UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE order_items SET delivered_at=$2, updated_at=NOW() WHERE id=$1`,
		req.OrderItemID,
		at,
	); err != nil {
		r.logger.Error("update delivered_at failed", "order_item_id", req.OrderItemID, "error", err)
		return domain.Delivery{}, err
	}

	if err := insertEvent(ctx, tx, req.OrderItemID, domain.EventDelivered, req.Actor, map[string]any{
		"delivered_at": at,
	}); err != nil {
		r.logger.Error("insert delivery event failed", "order_item_id", req.OrderItemID, "error", err)
		return domain.Delivery{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "order_item_id", req.OrderItemID, "error", err)
		return domain.Delivery{}, err
	}

	return domain.Delivery{OrderItemID: req.OrderItemID, DeliveredAt: at}, nil
}

// insertStageRows writes one row per stage, the first active, and the
// stages.initialized event.
func insertStageRows(ctx context.Context, tx pgx.Tx, orderItemID int64, stages []domain.Stage, actor string) error {
	for i, stage := range stages {
		status := domain.StagePending
		if i == 0 {
			status = domain.StageActive
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO stage_statuses (order_item_id, stage, position, status, started_at)
			VALUES ($1, $2, $3, $4, CASE WHEN $4 = 'active' THEN NOW() END)
		`,
			orderItemID,
			stage,
			i,
			status,
		); err != nil {
			return fmt.Errorf("insert stage %s: %w", stage, err)
		}
	}

	if err := insertEvent(ctx, tx, orderItemID, domain.EventStagesInitialized, actor, map[string]any{
		"stages": stages,
		"active": stages[0],
	}); err != nil {
		return fmt.Errorf("insert init event: %w", err)
	}
	return nil
}

func lockOrderItem(ctx context.Context, tx pgx.Tx, orderItemID int64) (*time.Time, error) {
	var deliveredAt *time.Time
	err := tx.QueryRow(ctx,
		`SELECT delivered_at FROM order_items WHERE id=$1 FOR UPDATE`,
		orderItemID,
	).Scan(&deliveredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order item %d", domain.ErrNotFound, orderItemID)
		}
		return nil, err
	}
	return deliveredAt, nil
}
