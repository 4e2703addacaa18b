// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"

	"github.com/craftline/production-tracker/internal/domain"
	"github.com/stretchr/testify/mock"
)

type StageStoreMock struct {
	mock.Mock
}

func (m *StageStoreMock) ListStageStatuses(ctx context.Context, orderItemID int64) ([]domain.StageStatusRecord, error) {
	args := m.Called(ctx, orderItemID)
	if v := args.Get(0); v != nil {
		return v.([]domain.StageStatusRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StageStoreMock) InitializeStages(ctx context.Context, orderItemID int64, stages []domain.Stage, actor string) error {
	args := m.Called(ctx, orderItemID, stages, actor)
	return args.Error(0)
}

func (m *StageStoreMock) ApplyStageTransition(ctx context.Context, t domain.StageTransition) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *StageStoreMock) MarkDelivered(ctx context.Context, req domain.DeliveryRequest) (domain.Delivery, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.Delivery), args.Error(1)
}
