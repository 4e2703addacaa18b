// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/craftline/production-tracker/internal/auth"
	"github.com/craftline/production-tracker/internal/domain"
	"github.com/craftline/production-tracker/internal/repository"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 4, 14, 9, 30, 0, 0, time.UTC)

type fixture struct {
	t      *testing.T
	store  *repository.MemoryStore
	engine *Engine
	checks map[domain.Stage][]domain.Check
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture seeds three carpentry checks and two webbing checks on the
// default graph. The remaining stages have no checks.
func newFixture(t *testing.T, opts ...func(*Deps)) *fixture {
	t.Helper()

	store := repository.NewMemoryStore().WithClock(func() time.Time { return fixedNow })
	deps := Deps{
		OrderItems: store,
		Stages:     store,
		Checks:     store,
		Logger:     discardLogger(),
		Now:        func() time.Time { return fixedNow },
	}
	for _, opt := range opts {
		opt(&deps)
	}

	f := &fixture{
		t:      t,
		store:  store,
		engine: New(deps),
		checks: map[domain.Stage][]domain.Check{},
	}

	f.seedChecks(domain.StageCarpentry, "Frame joints glued", "Frame square", "Springs mounted")
	f.seedChecks(domain.StageWebbing, "Webbing tension", "Webbing stapled")
	return f
}

func (f *fixture) seedChecks(stage domain.Stage, names ...string) {
	f.t.Helper()

	for i, name := range names {
		c, err := f.store.UpsertCheck(context.Background(), domain.CreateCheckParams{
			Stage:    stage,
			Name:     name,
			Sequence: i + 1,
		})
		require.NoError(f.t, err)
		f.checks[stage] = append(f.checks[stage], c)
	}
}

func (f *fixture) newItem() int64 {
	f.t.Helper()

	item, err := f.store.CreateOrderItem(context.Background(), domain.CreateOrderItemParams{
		OrderRef: "SO-" + uuid.NewString()[:8],
		Product:  domain.Sofa{Model: "Oslo", Seats: 3},
	})
	require.NoError(f.t, err)
	return item.ID
}

func (f *fixture) newInitializedItem() int64 {
	f.t.Helper()

	id := f.newItem()
	require.NoError(f.t, f.engine.Initialize(context.Background(), id))
	return id
}

func (f *fixture) setAll(id int64, stage domain.Stage, status domain.CheckStatus) {
	f.t.Helper()

	for _, c := range f.checks[stage] {
		_, err := f.engine.UpdateCheckStatus(operatorCtx("marta"), domain.CheckUpdate{
			OrderItemID: id,
			CheckID:     c.ID,
			Status:      status,
		})
		require.NoError(f.t, err)
	}
}

func (f *fixture) activeStage(id int64) domain.Stage {
	f.t.Helper()

	stage, _, err := f.engine.ActiveStage(context.Background(), id)
	require.NoError(f.t, err)
	return stage
}

func operatorCtx(name string) context.Context {
	return auth.WithOperator(context.Background(), auth.Operator{ID: uuid.New(), Name: name})
}

func mustGraph(t *testing.T, stages ...domain.Stage) *Graph {
	t.Helper()

	defs := make([]domain.StageDef, 0, len(stages))
	for _, s := range stages {
		defs = append(defs, domain.StageDef{Stage: s})
	}
	g, err := NewGraph(defs)
	require.NoError(t, err)
	return g
}
