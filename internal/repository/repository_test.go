// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestNewStageRepository(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var pool *pgxpool.Pool

	repo := NewStageRepository(pool, logger)
	if repo == nil {
		t.Fatal("expected stage repository instance")
	}
	if repo.pool != pool {
		t.Fatal("expected pool reference to be preserved")
	}
	if repo.logger != logger {
		t.Fatal("expected logger reference to be preserved")
	}
}

func TestNewCheckRepository(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var pool *pgxpool.Pool

	repo := NewCheckRepository(pool, logger)
	if repo == nil {
		t.Fatal("expected check repository instance")
	}
	if repo.pool != pool {
		t.Fatal("expected pool reference to be preserved")
	}
	if repo.logger != logger {
		t.Fatal("expected logger reference to be preserved")
	}
}

func TestRepositoriesDefaultLogger(t *testing.T) {
	if NewOrderItemRepository(nil, nil).logger == nil {
		t.Fatal("expected order item repository default logger")
	}
	if NewOperatorRepository(nil, nil).logger == nil {
		t.Fatal("expected operator repository default logger")
	}
	if NewEventRepository(nil, nil).logger == nil {
		t.Fatal("expected event repository default logger")
	}
}

func TestGenerateOperatorToken(t *testing.T) {
	token, hash, err := generateOperatorToken()
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if !strings.HasPrefix(token, operatorTokenPrefix) {
		t.Fatalf("expected prefix %q got %q", operatorTokenPrefix, token)
	}
	if hash != sha256Hex(token) {
		t.Fatal("expected hash to be sha256 of the token")
	}
	if hash == token {
		t.Fatal("hash must differ from raw token")
	}
}
