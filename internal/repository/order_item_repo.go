// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/craftline/production-tracker/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OrderItemRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewOrderItemRepository(pool *pgxpool.Pool, logger *slog.Logger) *OrderItemRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &OrderItemRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *OrderItemRepository) CreateOrderItem(ctx context.Context, params domain.CreateOrderItemParams) (domain.OrderItem, error) {
	return r.CreateInitializedOrderItem(ctx, params, nil, "")
}

// CreateInitializedOrderItem inserts the order item and, when stages is not
// empty, its stage rows and the stages.initialized event in one transaction.
func (r *OrderItemRepository) CreateInitializedOrderItem(ctx context.Context, params domain.CreateOrderItemParams, stages []domain.Stage, actor string) (domain.OrderItem, error) {
	params, err := normalizeOrderItemParams(params)
	if err != nil {
		return domain.OrderItem{}, err
	}

	productType, attrs, err := domain.EncodeProduct(params.Product)
	if err != nil {
		return domain.OrderItem{}, err
	}

	item := domain.OrderItem{
		OrderRef: params.OrderRef,
		Product:  params.Product,
		Priority: params.Priority,
		DueDate:  params.DueDate,
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.OrderItem{}, err
	}
	defer tx.Rollback(ctx)

	if err := tx.QueryRow(ctx, `
		INSERT INTO order_items (order_ref, product_type, product_attrs, priority, due_date)
		VALUES ($1, $2, $3::jsonb, $4, $5)
		RETURNING id, created_at
	`,
		params.OrderRef,
		productType,
		string(attrs),
		params.Priority,
		params.DueDate,
	).Scan(&item.ID, &item.CreatedAt); err != nil {
		r.logger.Error("insert order item failed", "order_ref", params.OrderRef, "error", err)
		return domain.OrderItem{}, err
	}

	if len(stages) > 0 {
		if err := insertStageRows(ctx, tx, item.ID, stages, actor); err != nil {
			r.logger.Error("insert stage rows failed",
				"order_item_id", item.ID,
				"order_ref", params.OrderRef,
				"error", err,
			)
			return domain.OrderItem{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "order_ref", params.OrderRef, "error", err)
		return domain.OrderItem{}, err
	}

	r.logger.Info("order item created",
		"order_item_id", item.ID,
		"order_ref", item.OrderRef,
		"product_type", productType,
		"stages", len(stages),
	)
	return item, nil
}

func (r *OrderItemRepository) GetOrderItem(ctx context.Context, id int64) (domain.OrderItem, error) {
	var (
		item        domain.OrderItem
		productType domain.ProductType
		attrs       []byte
	)

	err := r.pool.QueryRow(ctx, `
		SELECT id, order_ref, product_type, product_attrs, priority, due_date, delivered_at, created_at
		FROM order_items
		WHERE id=$1
	`, id).Scan(
		&item.ID,
		&item.OrderRef,
		&productType,
		&attrs,
		&item.Priority,
		&item.DueDate,
		&item.DeliveredAt,
		&item.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OrderItem{}, fmt.Errorf("%w: order item %d", domain.ErrNotFound, id)
		}
		r.logger.Error("get order item failed", "order_item_id", id, "error", err)
		return domain.OrderItem{}, err
	}

	product, err := domain.DecodeProduct(productType, json.RawMessage(attrs))
	if err != nil {
		r.logger.Error("decode product failed", "order_item_id", id, "error", err)
		return domain.OrderItem{}, fmt.Errorf("order item %d: %v", id, err)
	}
	item.Product = product

	return item, nil
}

// ListOrderItemsByActiveStage returns undelivered items whose active stage is
// stage, most urgent first.
func (r *OrderItemRepository) ListOrderItemsByActiveStage(ctx context.Context, stage domain.Stage) ([]domain.BoardCard, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT oi.id, oi.order_ref, oi.product_type, oi.priority, oi.due_date, ss.started_at
		FROM order_items oi
		JOIN stage_statuses ss ON ss.order_item_id = oi.id
		WHERE ss.stage=$1
		  AND ss.status=$2
		  AND oi.delivered_at IS NULL
		ORDER BY oi.priority DESC, oi.due_date ASC NULLS LAST, oi.id ASC
	`, stage, domain.StageActive)
	if err != nil {
		r.logger.Error("list board query failed", "stage", stage, "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.BoardCard, 0, 16)
	for rows.Next() {
		var card domain.BoardCard
		if err := rows.Scan(
			&card.OrderItemID,
			&card.OrderRef,
			&card.ProductType,
			&card.Priority,
			&card.DueDate,
			&card.StageSince,
		); err != nil {
			r.logger.Error("scan board row failed", "stage", stage, "error", err)
			return nil, err
		}
		out = append(out, card)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("board rows iteration failed", "stage", stage, "error", err)
		return nil, err
	}

	return out, nil
}

func normalizeOrderItemParams(params domain.CreateOrderItemParams) (domain.CreateOrderItemParams, error) {
	params.OrderRef = strings.TrimSpace(params.OrderRef)
	if params.OrderRef == "" {
		return params, fmt.Errorf("%w: order_ref is required", domain.ErrValidation)
	}
	if params.Priority < domain.MinPriority || params.Priority > domain.MaxPriority {
		return params, fmt.Errorf("%w: priority must be between %d and %d", domain.ErrValidation, domain.MinPriority, domain.MaxPriority)
	}
	if err := domain.ValidateProduct(params.Product); err != nil {
		return params, err
	}
	if params.DueDate != nil {
		d := params.DueDate.UTC().Truncate(24 * time.Hour)
		params.DueDate = &d
	}
	return params, nil
}
