// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/craftline/production-tracker/internal/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestInitializeActivatesFirstStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newItem()

	p, err := f.engine.Progress(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StateUninitialized, p.State)
	require.Empty(t, p.Stages)

	_, ok, err := f.engine.ActiveStage(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, f.engine.Initialize(operatorCtx("marta"), id))

	statuses, err := f.engine.StageStatuses(ctx, id)
	require.NoError(t, err)
	require.Len(t, statuses, len(domain.KnownStages))
	for _, s := range domain.KnownStages {
		want := domain.StagePending
		if s == domain.StageCarpentry {
			want = domain.StageActive
		}
		require.Equal(t, want, statuses[s], "stage %s", s)
	}

	p, err = f.engine.Progress(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StateInProduction, p.State)
	require.Equal(t, domain.StageCarpentry, p.ActiveStage)

	err = f.engine.Initialize(ctx, id)
	require.ErrorIs(t, err, domain.ErrAlreadyInitialized)

	err = f.engine.Initialize(ctx, 9999)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInitializeUsesConfiguredGraph(t *testing.T) {
	graph := mustGraph(t, domain.StageWebbing, domain.StageStitching)
	f := newFixture(t, func(d *Deps) { d.Graph = graph })
	id := f.newInitializedItem()

	p, err := f.engine.Progress(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, p.Stages, 2)
	require.Equal(t, domain.StageWebbing, p.ActiveStage)
}

func TestMarkDeliveredRequiresLastStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newInitializedItem()

	_, err := f.engine.MarkDelivered(ctx, id)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	item, err := f.store.GetOrderItem(ctx, id)
	require.NoError(t, err)
	require.Nil(t, item.DeliveredAt)
}

func TestMarkDeliveredIdempotent(t *testing.T) {
	now := fixedNow
	f := newFixture(t, func(d *Deps) {
		d.Now = func() time.Time { return now }
	})
	ctx := context.Background()
	id := f.newInitializedItem()

	f.setAll(id, domain.StageCarpentry, domain.CheckPassed)
	f.setAll(id, domain.StageWebbing, domain.CheckPassed)
	for _, s := range domain.KnownStages {
		_, err := f.engine.Proceed(ctx, id, s)
		require.NoError(t, err, "proceed %s", s)
	}

	p, err := f.engine.Progress(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StateAwaitingDelivery, p.State)

	first, err := f.engine.MarkDelivered(ctx, id)
	require.NoError(t, err)
	require.False(t, first.AlreadyDelivered)
	require.True(t, fixedNow.Equal(first.DeliveredAt))

	now = fixedNow.Add(48 * time.Hour)
	second, err := f.engine.MarkDelivered(ctx, id)
	require.NoError(t, err)
	require.True(t, second.AlreadyDelivered)
	require.True(t, first.DeliveredAt.Equal(second.DeliveredAt))

	p, err = f.engine.Progress(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StateDelivered, p.State)
	require.NotNil(t, p.DeliveredAt)
	require.True(t, fixedNow.Equal(*p.DeliveredAt))
}

func TestMarkDeliveredEarlyWhenAllowed(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.AllowEarlyDelivery = true })
	ctx := context.Background()
	id := f.newInitializedItem()

	d, err := f.engine.MarkDelivered(ctx, id)
	require.NoError(t, err)
	require.False(t, d.AlreadyDelivered)

	_, err = f.engine.Proceed(ctx, id, domain.StageCarpentry)
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestTrackerTransitionRejectsSkippingStages(t *testing.T) {
	f := newFixture(t)
	id := f.newInitializedItem()

	err := f.engine.Tracker().transition(context.Background(), domain.StageTransition{
		OrderItemID: id,
		From:        domain.StageCarpentry,
		To:          domain.StageStitching,
	})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	err = f.engine.Tracker().transition(context.Background(), domain.StageTransition{
		OrderItemID: id,
		From:        domain.StageCarpentry,
	})
	require.ErrorIs(t, err, domain.ErrInvalidState)

	require.Equal(t, domain.StageCarpentry, f.activeStage(id))
}

func TestProgressRejectsMultipleActiveStages(t *testing.T) {
	store := newFixture(t).store
	item, err := store.CreateOrderItem(context.Background(), domain.CreateOrderItemParams{
		OrderRef: "SO-BROKEN",
		Product:  domain.Sofa{Model: "Oslo", Seats: 2},
	})
	require.NoError(t, err)

	stages := new(StageStoreMock)
	stages.On("ListStageStatuses", mock.Anything, item.ID).Return([]domain.StageStatusRecord{
		{Stage: domain.StageCarpentry, Position: 0, Status: domain.StageActive},
		{Stage: domain.StageWebbing, Position: 1, Status: domain.StageActive},
	}, nil)

	e := New(Deps{OrderItems: store, Stages: stages, Checks: store, Logger: discardLogger()})

	_, err = e.Progress(context.Background(), item.ID)
	require.ErrorIs(t, err, domain.ErrPersistence)
	stages.AssertExpectations(t)
}

func TestStoreFailureSurfacesAsPersistenceError(t *testing.T) {
	store := newFixture(t).store
	item, err := store.CreateOrderItem(context.Background(), domain.CreateOrderItemParams{
		OrderRef: "SO-DOWN",
		Product:  domain.Bed{Model: "Nord", Size: "king"},
	})
	require.NoError(t, err)

	stages := new(StageStoreMock)
	stages.On("ListStageStatuses", mock.Anything, item.ID).Return(nil, errors.New("connection reset by peer"))
	stages.On("MarkDelivered", mock.Anything, mock.Anything).Return(domain.Delivery{}, errors.New("connection reset by peer"))

	e := New(Deps{OrderItems: store, Stages: stages, Checks: store, Logger: discardLogger()})

	_, err = e.Progress(context.Background(), item.ID)
	require.ErrorIs(t, err, domain.ErrPersistence)
	require.True(t, IsRetryable(err))

	_, err = e.MarkDelivered(context.Background(), item.ID)
	require.ErrorIs(t, err, domain.ErrPersistence)

	_, err = e.Proceed(context.Background(), item.ID, domain.StageCarpentry)
	require.ErrorIs(t, err, domain.ErrPersistence)
	stages.AssertNotCalled(t, "ApplyStageTransition", mock.Anything, mock.Anything)
}

func TestStoreTimeoutSurfacesAsPersistenceError(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.StoreTimeout = time.Nanosecond })
	id := f.newItem()

	_, err := f.engine.Progress(context.Background(), id)
	require.ErrorIs(t, err, domain.ErrPersistence)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCreateOrderItemInitializesInOneWrite(t *testing.T) {
	f := newFixture(t)
	ctx := operatorCtx("marta")

	item, err := f.engine.CreateOrderItem(ctx, domain.CreateOrderItemParams{
		OrderRef: "SO-3100",
		Product:  domain.Sofa{Model: "Oslo", Seats: 3},
		Priority: 2,
	}, true)
	require.NoError(t, err)
	require.Equal(t, domain.StageCarpentry, f.activeStage(item.ID))

	events, err := f.store.ListEventsAfter(ctx, item.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.EventStagesInitialized, events[0].Type)
	require.Equal(t, "marta", events[0].Actor)

	plain, err := f.engine.CreateOrderItem(ctx, domain.CreateOrderItemParams{
		OrderRef: "SO-3101",
		Product:  domain.Bed{Model: "Nord", Size: "king"},
	}, false)
	require.NoError(t, err)
	progress, err := f.engine.Progress(ctx, plain.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateUninitialized, progress.State)
}

func TestCreateOrderItemRejectsInvalidParams(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CreateOrderItem(context.Background(), domain.CreateOrderItemParams{
		OrderRef: "  ",
		Product:  domain.Sofa{Model: "Oslo", Seats: 3},
	}, true)
	require.ErrorIs(t, err, domain.ErrValidation)
	require.NotErrorIs(t, err, domain.ErrPersistence)

	_, err = f.store.GetOrderItem(context.Background(), 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
