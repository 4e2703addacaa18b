// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/craftline/production-tracker/internal/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestProceedCarpentryScenario(t *testing.T) {
	f := newFixture(t)
	ctx := operatorCtx("marta")

	// Earlier orders take ids 1..41.
	for i := 0; i < 41; i++ {
		f.newItem()
	}
	id := f.newInitializedItem()
	require.Equal(t, int64(42), id)
	require.Equal(t, domain.StageCarpentry, f.activeStage(id))

	items, err := f.engine.ChecklistForStage(ctx, id, domain.StageCarpentry)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, it := range items {
		require.Equal(t, domain.CheckPending, it.Status)
	}

	_, err = f.engine.Proceed(ctx, id, domain.StageCarpentry)
	require.ErrorIs(t, err, domain.ErrChecklistIncomplete)
	require.Equal(t, domain.StageCarpentry, f.activeStage(id))

	f.setAll(id, domain.StageCarpentry, domain.CheckPassed)

	tr, err := f.engine.Proceed(ctx, id, domain.StageCarpentry)
	require.NoError(t, err)
	require.Equal(t, domain.Transition{
		OrderItemID: id,
		From:        domain.StageCarpentry,
		To:          domain.StageWebbing,
	}, tr)
	require.Equal(t, domain.StageWebbing, f.activeStage(id))

	statuses, err := f.engine.StageStatuses(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StageCompleted, statuses[domain.StageCarpentry])

	_, err = f.engine.Proceed(ctx, id, domain.StageCarpentry)
	require.ErrorIs(t, err, domain.ErrStaleState)
	require.True(t, IsRetryable(err))

	events, err := f.store.ListEventsAfter(ctx, id, 0)
	require.NoError(t, err)
	last := events[len(events)-1]
	require.Equal(t, domain.EventStageAdvanced, last.Type)
	require.Equal(t, "marta", last.Actor)
}

func TestProceedVisitsStagesInOrder(t *testing.T) {
	graph := mustGraph(t, domain.StageCarpentry, domain.StageWebbing, domain.StageCladding)
	f := newFixture(t, func(d *Deps) { d.Graph = graph })
	f.seedChecks(domain.StageCladding, "Fabric taut", "Seams aligned")
	ctx := context.Background()
	id := f.newInitializedItem()

	var visited []domain.Stage
	for {
		stage, ok, err := f.engine.ActiveStage(ctx, id)
		require.NoError(t, err)
		if !ok {
			break
		}
		require.NotContains(t, visited, stage, "stage revisited")
		visited = append(visited, stage)

		f.setAll(id, stage, domain.CheckPassed)
		tr, err := f.engine.Proceed(ctx, id, stage)
		require.NoError(t, err)
		require.Equal(t, stage, tr.From)
		require.Equal(t, graph.IsLastStage(stage), tr.Final)
	}

	require.Equal(t, []domain.Stage{domain.StageCarpentry, domain.StageWebbing, domain.StageCladding}, visited)

	statuses, err := f.engine.StageStatuses(ctx, id)
	require.NoError(t, err)
	for _, s := range visited {
		require.Equal(t, domain.StageCompleted, statuses[s])
	}

	_, err = f.engine.Proceed(ctx, id, domain.StageCladding)
	require.ErrorIs(t, err, domain.ErrStaleState)
}

func TestProceedKeepsSingleActiveAndCompletedPrefix(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newInitializedItem()
	f.setAll(id, domain.StageCarpentry, domain.CheckPassed)
	f.setAll(id, domain.StageWebbing, domain.CheckSkipped)

	for step := 0; step < 3; step++ {
		stage := f.activeStage(id)
		_, err := f.engine.Proceed(ctx, id, stage)
		require.NoError(t, err)

		p, err := f.engine.Progress(ctx, id)
		require.NoError(t, err)

		activeAt := -1
		for i, rec := range p.Stages {
			if rec.Status == domain.StageActive {
				require.Equal(t, -1, activeAt, "more than one active stage")
				activeAt = i
			}
		}
		require.Equal(t, step+1, activeAt)
		for i, rec := range p.Stages {
			switch {
			case i < activeAt:
				require.Equal(t, domain.StageCompleted, rec.Status)
			case i > activeAt:
				require.Equal(t, domain.StagePending, rec.Status)
			}
		}
	}
}

func TestProceedGateDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newInitializedItem()
	checks := f.checks[domain.StageCarpentry]

	_, err := f.engine.UpdateCheckStatus(ctx, domain.CheckUpdate{OrderItemID: id, CheckID: checks[0].ID, Status: domain.CheckPassed})
	require.NoError(t, err)
	_, err = f.engine.UpdateCheckStatus(ctx, domain.CheckUpdate{OrderItemID: id, CheckID: checks[1].ID, Status: domain.CheckFailed})
	require.NoError(t, err)

	before, err := f.engine.Progress(ctx, id)
	require.NoError(t, err)

	_, err = f.engine.Proceed(ctx, id, domain.StageCarpentry)
	require.ErrorIs(t, err, domain.ErrChecklistIncomplete)
	require.Contains(t, err.Error(), "2 of the carpentry checks")

	after, err := f.engine.Progress(ctx, id)
	require.NoError(t, err)
	require.Equal(t, before, after)

	events, err := f.store.ListEventsAfter(ctx, id, 0)
	require.NoError(t, err)
	for _, ev := range events {
		require.NotEqual(t, domain.EventStageAdvanced, ev.Type)
	}
}

func TestProceedRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Proceed(ctx, f.newInitializedItem(), "upholstery")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.Proceed(ctx, f.newItem(), domain.StageCarpentry)
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = f.engine.Proceed(ctx, 9999, domain.StageCarpentry)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.engine.Proceed(ctx, f.newInitializedItem(), domain.StageWebbing)
	require.ErrorIs(t, err, domain.ErrStaleState)
}

func TestProceedConcurrentCallsOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.newInitializedItem()
	f.setAll(id, domain.StageCarpentry, domain.CheckPassed)

	const callers = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.engine.Proceed(ctx, id, domain.StageCarpentry)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var ok, stale int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrStaleState):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, callers-1, stale)
	require.Equal(t, domain.StageWebbing, f.activeStage(id))
}

// engineWithStages builds an engine over the fixture store whose stage writes
// go to stages instead.
func (f *fixture) engineWithStages(stages StageStore) *Engine {
	return New(Deps{
		OrderItems: f.store,
		Stages:     stages,
		Checks:     f.store,
		Logger:     discardLogger(),
		Now:        func() time.Time { return fixedNow },
	})
}

func TestProceedFailedTransitionLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := operatorCtx("marta")
	id := f.newInitializedItem()
	f.setAll(id, domain.StageCarpentry, domain.CheckPassed)

	records, err := f.store.ListStageStatuses(ctx, id)
	require.NoError(t, err)
	before, err := f.store.ListEventsAfter(ctx, id, 0)
	require.NoError(t, err)

	stages := new(StageStoreMock)
	stages.On("ListStageStatuses", mock.Anything, id).Return(records, nil)
	stages.On("ApplyStageTransition", mock.Anything, mock.MatchedBy(func(tr domain.StageTransition) bool {
		return tr.OrderItemID == id &&
			tr.From == domain.StageCarpentry &&
			tr.To == domain.StageWebbing &&
			tr.Actor == "marta"
	})).Return(errors.New("connection reset"))

	_, err = f.engineWithStages(stages).Proceed(ctx, id, domain.StageCarpentry)
	require.ErrorIs(t, err, domain.ErrPersistence)
	require.True(t, IsRetryable(err))
	require.NotErrorIs(t, err, domain.ErrStaleState)
	stages.AssertExpectations(t)

	require.Equal(t, domain.StageCarpentry, f.activeStage(id))
	after, err := f.store.ListEventsAfter(ctx, id, 0)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestProceedChecklistRecheckedAtCommit(t *testing.T) {
	f := newFixture(t)
	ctx := operatorCtx("marta")
	id := f.newInitializedItem()
	f.setAll(id, domain.StageCarpentry, domain.CheckPassed)

	records, err := f.store.ListStageStatuses(ctx, id)
	require.NoError(t, err)

	// A check failed after the gate was read.
	stages := new(StageStoreMock)
	stages.On("ListStageStatuses", mock.Anything, id).Return(records, nil)
	stages.On("ApplyStageTransition", mock.Anything, mock.Anything).
		Return(fmt.Errorf("%w: 1 of the carpentry checks are not passed or skipped", domain.ErrChecklistIncomplete))

	_, err = f.engineWithStages(stages).Proceed(ctx, id, domain.StageCarpentry)
	require.ErrorIs(t, err, domain.ErrChecklistIncomplete)
	require.NotErrorIs(t, err, domain.ErrPersistence)
	require.False(t, IsRetryable(err))
}

func TestProceedStoreRejectsChecklistRegression(t *testing.T) {
	f := newFixture(t)
	ctx := operatorCtx("marta")
	id := f.newInitializedItem()
	f.setAll(id, domain.StageCarpentry, domain.CheckPassed)

	_, err := f.engine.UpdateCheckStatus(ctx, domain.CheckUpdate{
		OrderItemID: id,
		CheckID:     f.checks[domain.StageCarpentry][1].ID,
		Status:      domain.CheckFailed,
	})
	require.NoError(t, err)

	err = f.store.ApplyStageTransition(ctx, domain.StageTransition{
		OrderItemID: id,
		From:        domain.StageCarpentry,
		To:          domain.StageWebbing,
	})
	require.ErrorIs(t, err, domain.ErrChecklistIncomplete)
	require.Equal(t, domain.StageCarpentry, f.activeStage(id))
}
