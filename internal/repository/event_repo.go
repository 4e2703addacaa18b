// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/craftline/production-tracker/internal/auth"
	"github.com/craftline/production-tracker/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEventRepository(pool *pgxpool.Pool, logger *slog.Logger) *EventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventRepository{
		pool:   pool,
		logger: logger,
	}
}

// ListEventsAfter returns the item's audit trail with seq > afterSeq.
func (r *EventRepository) ListEventsAfter(ctx context.Context, orderItemID int64, afterSeq int64) ([]domain.EventRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, seq, order_item_id, type, actor, payload, created_at
		FROM events
		WHERE order_item_id=$1
		  AND seq > $2
		ORDER BY seq ASC
	`,
		orderItemID,
		afterSeq,
	)
	if err != nil {
		r.logger.Error("list events query failed",
			"order_item_id", orderItemID,
			"error", err,
		)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EventRecord, 0, 8)
	for rows.Next() {
		var ev domain.EventRecord
		if err := rows.Scan(
			&ev.ID,
			&ev.Seq,
			&ev.OrderItemID,
			&ev.Type,
			&ev.Actor,
			&ev.Payload,
			&ev.CreatedAt,
		); err != nil {
			r.logger.Error("scan event row failed",
				"order_item_id", orderItemID,
				"error", err,
			)
			return nil, err
		}
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("events rows iteration failed",
			"order_item_id", orderItemID,
			"error", err,
		)
		return nil, err
	}

	return out, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, orderItemID int64, eventType, actor string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if actor == "" {
		actor = auth.SystemActor
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO events (id, order_item_id, type, actor, payload)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`,
		uuid.New(),
		orderItemID,
		eventType,
		actor,
		string(body),
	)
	return err
}
