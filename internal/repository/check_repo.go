// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/craftline/production-tracker/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgForeignKeyViolation = "23503"

type CheckRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewCheckRepository(pool *pgxpool.Pool, logger *slog.Logger) *CheckRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &CheckRepository{
		pool:   pool,
		logger: logger,
	}
}

// UpsertCheck creates the check or updates the sequence of an existing one
// with the same stage and name. Seeding relies on this being repeatable.
func (r *CheckRepository) UpsertCheck(ctx context.Context, params domain.CreateCheckParams) (domain.Check, error) {
	params, err := normalizeCheckParams(params)
	if err != nil {
		return domain.Check{}, err
	}

	check := domain.Check{Stage: params.Stage, Name: params.Name}
	if err := r.pool.QueryRow(ctx, `
		INSERT INTO checks (id, stage, name, sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stage, name) DO UPDATE
		SET sequence = EXCLUDED.sequence
		RETURNING id, sequence
	`,
		uuid.New(),
		params.Stage,
		params.Name,
		params.Sequence,
	).Scan(&check.ID, &check.Sequence); err != nil {
		r.logger.Error("upsert check failed", "stage", params.Stage, "name", params.Name, "error", err)
		return domain.Check{}, err
	}

	return check, nil
}

func (r *CheckRepository) ListChecks(ctx context.Context, stage domain.Stage) ([]domain.Check, error) {
	return r.queryChecks(ctx, `
		SELECT id, stage, name, sequence
		FROM checks
		WHERE stage=$1
		ORDER BY sequence ASC, id ASC
	`, stage)
}

func (r *CheckRepository) ListAllChecks(ctx context.Context) ([]domain.Check, error) {
	return r.queryChecks(ctx, `
		SELECT id, stage, name, sequence
		FROM checks
		ORDER BY stage ASC, sequence ASC, id ASC
	`)
}

func (r *CheckRepository) GetCheck(ctx context.Context, id uuid.UUID) (domain.Check, error) {
	var check domain.Check
	err := r.pool.QueryRow(ctx,
		`SELECT id, stage, name, sequence FROM checks WHERE id=$1`,
		id,
	).Scan(&check.ID, &check.Stage, &check.Name, &check.Sequence)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Check{}, fmt.Errorf("%w: check %s", domain.ErrNotFound, id)
		}
		r.logger.Error("get check failed", "check_id", id, "error", err)
		return domain.Check{}, err
	}
	return check, nil
}

func (r *CheckRepository) ListCheckProgress(ctx context.Context, orderItemID int64, stage domain.Stage) ([]domain.CheckProgress, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT cp.order_item_id, cp.check_id, cp.status, cp.notes, cp.failure_report, cp.inspected_by, cp.updated_at
		FROM check_progress cp
		JOIN checks c ON c.id = cp.check_id
		WHERE cp.order_item_id=$1
		  AND c.stage=$2
	`, orderItemID, stage)
	if err != nil {
		r.logger.Error("list check progress query failed",
			"order_item_id", orderItemID,
			"stage", stage,
			"error", err,
		)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CheckProgress, 0, 8)
	for rows.Next() {
		var p domain.CheckProgress
		if err := rows.Scan(
			&p.OrderItemID,
			&p.CheckID,
			&p.Status,
			&p.Notes,
			&p.FailureReport,
			&p.InspectedBy,
			&p.UpdatedAt,
		); err != nil {
			r.logger.Error("scan check progress failed", "order_item_id", orderItemID, "error", err)
			return nil, err
		}
		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("check progress rows iteration failed", "order_item_id", orderItemID, "error", err)
		return nil, err
	}

	return out, nil
}

// UpsertCheckProgress writes one verdict under the order item row lock. Notes
// and failure report keep their stored value when the update leaves them nil.
func (r *CheckRepository) UpsertCheckProgress(ctx context.Context, u domain.CheckUpdate) (domain.CheckProgress, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return domain.CheckProgress{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := lockOrderItem(ctx, tx, u.OrderItemID); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Error("lock order item failed", "order_item_id", u.OrderItemID, "error", err)
		}
		return domain.CheckProgress{}, err
	}

	var p domain.CheckProgress
	err = tx.QueryRow(ctx, `
		INSERT INTO check_progress (order_item_id, check_id, status, notes, failure_report, inspected_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_item_id, check_id) DO UPDATE
		SET status = EXCLUDED.status,
		    notes = COALESCE(EXCLUDED.notes, check_progress.notes),
		    failure_report = COALESCE(EXCLUDED.failure_report, check_progress.failure_report),
		    inspected_by = EXCLUDED.inspected_by,
		    updated_at = EXCLUDED.updated_at
		RETURNING order_item_id, check_id, status, notes, failure_report, inspected_by, updated_at
	`,
		u.OrderItemID,
		u.CheckID,
		u.Status,
		u.Notes,
		u.FailureReport,
		u.InspectedBy,
		u.At,
	).Scan(
		&p.OrderItemID,
		&p.CheckID,
		&p.Status,
		&p.Notes,
		&p.FailureReport,
		&p.InspectedBy,
		&p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return domain.CheckProgress{}, fmt.Errorf("%w: order item %d or check %s", domain.ErrNotFound, u.OrderItemID, u.CheckID)
		}
		r.logger.Error("upsert check progress failed",
			"order_item_id", u.OrderItemID,
			"check_id", u.CheckID,
			"error", err,
		)
		return domain.CheckProgress{}, err
	}

	if err := insertEvent(ctx, tx, u.OrderItemID, domain.EventCheckUpdated, u.InspectedBy, map[string]any{
		"check_id": u.CheckID,
		"status":   u.Status,
	}); err != nil {
		r.logger.Error("insert check event failed", "order_item_id", u.OrderItemID, "error", err)
		return domain.CheckProgress{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "order_item_id", u.OrderItemID, "error", err)
		return domain.CheckProgress{}, err
	}

	return p, nil
}

func (r *CheckRepository) queryChecks(ctx context.Context, query string, args ...any) ([]domain.Check, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("list checks query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Check, 0, 16)
	for rows.Next() {
		var c domain.Check
		if err := rows.Scan(&c.ID, &c.Stage, &c.Name, &c.Sequence); err != nil {
			r.logger.Error("scan check failed", "error", err)
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func normalizeCheckParams(params domain.CreateCheckParams) (domain.CreateCheckParams, error) {
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return params, fmt.Errorf("%w: check name is required", domain.ErrValidation)
	}
	if !params.Stage.Valid() {
		return params, fmt.Errorf("%w: unknown stage %q", domain.ErrValidation, params.Stage)
	}
	if params.Sequence < 0 {
		return params, fmt.Errorf("%w: sequence must not be negative", domain.ErrValidation)
	}
	return params, nil
}
