// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/craftline/production-tracker/internal/auth"
	"github.com/craftline/production-tracker/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const operatorTokenPrefix = "op_"

type OperatorRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewOperatorRepository(pool *pgxpool.Pool, logger *slog.Logger) *OperatorRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &OperatorRepository{
		pool:   pool,
		logger: logger,
	}
}

// ResolveOperator looks up an unrevoked operator by raw bearer token.
func (r *OperatorRepository) ResolveOperator(ctx context.Context, bearerToken string) (auth.Operator, bool, error) {
	if bearerToken == "" {
		return auth.Operator{}, false, nil
	}
	tokenHash := sha256Hex(bearerToken)

	var op auth.Operator
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, max_requests_per_min
		 FROM operators
		 WHERE token_hash=$1 AND revoked_at IS NULL`,
		tokenHash,
	).Scan(&op.ID, &op.Name, &op.MaxRequestsPerMin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.Operator{}, false, nil
		}
		r.logger.Error("resolve operator failed", "error", err)
		return auth.Operator{}, false, err
	}

	if op.MaxRequestsPerMin <= 0 {
		op.MaxRequestsPerMin = domain.DefaultMaxRequestsPerMin
	}

	return op, true, nil
}

func (r *OperatorRepository) CreateOperator(ctx context.Context, params domain.CreateOperatorParams) (domain.CreatedOperator, error) {
	name, maxRequestsPerMin, err := normalizeOperatorParams(params)
	if err != nil {
		return domain.CreatedOperator{}, err
	}

	token, tokenHash, err := generateOperatorToken()
	if err != nil {
		r.logger.Error("generate operator token failed", "error", err)
		return domain.CreatedOperator{}, err
	}

	operatorID := uuid.New()
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO operators (id, name, token_hash, max_requests_per_min)
		VALUES ($1, $2, $3, $4)
	`,
		operatorID,
		name,
		tokenHash,
		maxRequestsPerMin,
	); err != nil {
		r.logger.Error("create operator failed", "name", name, "error", err)
		return domain.CreatedOperator{}, err
	}

	r.logger.Info("operator created", "operator_id", operatorID, "name", name)
	return domain.CreatedOperator{
		ID:    operatorID,
		Token: token,
	}, nil
}

func (r *OperatorRepository) ListOperators(ctx context.Context) ([]domain.OperatorRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, max_requests_per_min, created_at
		FROM operators
		WHERE revoked_at IS NULL
		ORDER BY created_at DESC
	`)
	if err != nil {
		r.logger.Error("list operators query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	ops := make([]domain.OperatorRecord, 0, 32)
	for rows.Next() {
		var record domain.OperatorRecord
		if err := rows.Scan(
			&record.ID,
			&record.Name,
			&record.MaxRequestsPerMin,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		ops = append(ops, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ops, nil
}

func (r *OperatorRepository) RevokeOperator(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE operators
		SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		r.logger.Error("revoke operator failed", "operator_id", id, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: operator %s", domain.ErrNotFound, id)
	}
	return nil
}

func normalizeOperatorParams(params domain.CreateOperatorParams) (string, int, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return "", 0, domain.ErrInvalidOperatorName
	}
	maxRequestsPerMin := params.MaxRequestsPerMin
	if maxRequestsPerMin <= 0 {
		maxRequestsPerMin = domain.DefaultMaxRequestsPerMin
	}
	return name, maxRequestsPerMin, nil
}

func generateOperatorToken() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	token := operatorTokenPrefix + hex.EncodeToString(raw)
	return token, sha256Hex(token), nil
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
