// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/craftline/production-tracker/internal/auth"
	"github.com/craftline/production-tracker/internal/domain"
	"github.com/google/uuid"
)

type progressKey struct {
	orderItemID int64
	checkID     uuid.UUID
}

type memoryOperator struct {
	record    domain.OperatorRecord
	tokenHash string
	revoked   bool
}

// MemoryStore keeps the whole tracker state in process. It satisfies the same
// contracts as the Postgres repositories and serializes mutations on one lock.
type MemoryStore struct {
	mu  sync.RWMutex
	now func() time.Time

	nextItemID int64
	nextSeq    int64

	items     map[int64]*domain.OrderItem
	stages    map[int64][]domain.StageStatusRecord
	checks    map[uuid.UUID]domain.Check
	progress  map[progressKey]domain.CheckProgress
	events    []domain.EventRecord
	operators map[uuid.UUID]*memoryOperator
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		items:     make(map[int64]*domain.OrderItem),
		stages:    make(map[int64][]domain.StageStatusRecord),
		checks:    make(map[uuid.UUID]domain.Check),
		progress:  make(map[progressKey]domain.CheckProgress),
		operators: make(map[uuid.UUID]*memoryOperator),
	}
}

// WithClock replaces the store clock. Used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// Order items

func (s *MemoryStore) CreateOrderItem(ctx context.Context, params domain.CreateOrderItemParams) (domain.OrderItem, error) {
	return s.CreateInitializedOrderItem(ctx, params, nil, "")
}

// CreateInitializedOrderItem stores the item and, when stages is not empty,
// its stage rows under one lock. Nothing is stored when any part is rejected.
func (s *MemoryStore) CreateInitializedOrderItem(ctx context.Context, params domain.CreateOrderItemParams, stages []domain.Stage, actor string) (domain.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderItem{}, err
	}
	params, err := normalizeOrderItemParams(params)
	if err != nil {
		return domain.OrderItem{}, err
	}
	product, err := roundTripProduct(params.Product)
	if err != nil {
		return domain.OrderItem{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var records []domain.StageStatusRecord
	if len(stages) > 0 {
		records, err = newStageRecords(stages, now)
		if err != nil {
			return domain.OrderItem{}, err
		}
	}

	s.nextItemID++
	item := &domain.OrderItem{
		ID:        s.nextItemID,
		OrderRef:  params.OrderRef,
		Product:   product,
		Priority:  params.Priority,
		DueDate:   copyTime(params.DueDate),
		CreatedAt: now,
	}
	s.items[item.ID] = item

	if len(records) > 0 {
		s.stages[item.ID] = records
		if err := s.appendEvent(item.ID, domain.EventStagesInitialized, actor, map[string]any{
			"stages": stages,
			"active": stages[0],
		}); err != nil {
			delete(s.items, item.ID)
			delete(s.stages, item.ID)
			return domain.OrderItem{}, err
		}
	}

	return copyOrderItem(item), nil
}

func (s *MemoryStore) GetOrderItem(ctx context.Context, id int64) (domain.OrderItem, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderItem{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return domain.OrderItem{}, fmt.Errorf("%w: order item %d", domain.ErrNotFound, id)
	}
	return copyOrderItem(item), nil
}

func (s *MemoryStore) ListOrderItemsByActiveStage(ctx context.Context, stage domain.Stage) ([]domain.BoardCard, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.BoardCard, 0, 16)
	for id, records := range s.stages {
		item := s.items[id]
		if item == nil || item.DeliveredAt != nil {
			continue
		}
		for _, rec := range records {
			if rec.Stage != stage || rec.Status != domain.StageActive {
				continue
			}
			card := domain.BoardCard{
				OrderItemID: item.ID,
				OrderRef:    item.OrderRef,
				Priority:    item.Priority,
				DueDate:     copyTime(item.DueDate),
				StageSince:  copyTime(rec.StartedAt),
			}
			if item.Product != nil {
				card.ProductType = item.Product.Type()
			}
			out = append(out, card)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		switch {
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate == nil && b.DueDate != nil:
			return false
		}
		return a.OrderItemID < b.OrderItemID
	})

	return out, nil
}

// Stages

func (s *MemoryStore) ListStageStatuses(ctx context.Context, orderItemID int64) ([]domain.StageStatusRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.items[orderItemID]; !ok {
		return nil, fmt.Errorf("%w: order item %d", domain.ErrNotFound, orderItemID)
	}

	records := s.stages[orderItemID]
	out := make([]domain.StageStatusRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, copyStageRecord(rec))
	}
	return out, nil
}

func (s *MemoryStore) InitializeStages(ctx context.Context, orderItemID int64, stages []domain.Stage, actor string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(stages) == 0 {
		return fmt.Errorf("%w: no stages to initialize", domain.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[orderItemID]
	if !ok {
		return fmt.Errorf("%w: order item %d", domain.ErrNotFound, orderItemID)
	}
	if item.DeliveredAt != nil {
		return fmt.Errorf("%w: order item %d is delivered", domain.ErrInvalidState, orderItemID)
	}
	if len(s.stages[orderItemID]) > 0 {
		return fmt.Errorf("%w: order item %d", domain.ErrAlreadyInitialized, orderItemID)
	}

	records, err := newStageRecords(stages, s.now().UTC())
	if err != nil {
		return err
	}
	s.stages[orderItemID] = records

	return s.appendEvent(orderItemID, domain.EventStagesInitialized, actor, map[string]any{
		"stages": stages,
		"active": stages[0],
	})
}

func (s *MemoryStore) ApplyStageTransition(ctx context.Context, t domain.StageTransition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[t.OrderItemID]
	if !ok {
		return fmt.Errorf("%w: order item %d", domain.ErrNotFound, t.OrderItemID)
	}
	if item.DeliveredAt != nil {
		return fmt.Errorf("%w: order item %d is delivered", domain.ErrInvalidState, t.OrderItemID)
	}

	records := s.stages[t.OrderItemID]
	from, to := -1, -1
	for i, rec := range records {
		if rec.Stage == t.From {
			from = i
		}
		if t.To != "" && rec.Stage == t.To {
			to = i
		}
	}
	if from < 0 || records[from].Status != domain.StageActive {
		return fmt.Errorf("%w: %s is no longer active", domain.ErrStaleState, t.From)
	}
	if t.To != "" && (to < 0 || records[to].Status != domain.StagePending) {
		return fmt.Errorf("%w: %s is not pending", domain.ErrStaleState, t.To)
	}
	if n := s.outstandingChecks(t.OrderItemID, t.From); n > 0 {
		return fmt.Errorf("%w: %d of the %s checks are not passed or skipped", domain.ErrChecklistIncomplete, n, t.From)
	}

	now := s.now().UTC()
	updated := make([]domain.StageStatusRecord, len(records))
	copy(updated, records)
	updated[from].Status = domain.StageCompleted
	updated[from].CompletedAt = copyTime(&now)
	if to >= 0 {
		updated[to].Status = domain.StageActive
		updated[to].StartedAt = copyTime(&now)
	}
	s.stages[t.OrderItemID] = updated

	return s.appendEvent(t.OrderItemID, domain.EventStageAdvanced, t.Actor, map[string]any{
		"from": t.From,
		"to":   t.To,
	})
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, req domain.DeliveryRequest) (domain.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return domain.Delivery{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[req.OrderItemID]
	if !ok {
		return domain.Delivery{}, fmt.Errorf("%w: order item %d", domain.ErrNotFound, req.OrderItemID)
	}
	if item.DeliveredAt != nil {
		return domain.Delivery{
			OrderItemID:      req.OrderItemID,
			DeliveredAt:      *item.DeliveredAt,
			AlreadyDelivered: true,
		}, nil
	}

	if req.RequireCompleted {
		completed := false
		for _, rec := range s.stages[req.OrderItemID] {
			if rec.Stage == req.LastStage {
				completed = rec.Status == domain.StageCompleted
			}
		}
		if !completed {
			return domain.Delivery{}, fmt.Errorf("%w: %s is not completed", domain.ErrInvalidState, req.LastStage)
		}
	}

	at := req.At.UTC()
	item.DeliveredAt = &at

	if err := s.appendEvent(req.OrderItemID, domain.EventDelivered, req.Actor, map[string]any{
		"delivered_at": at,
	}); err != nil {
		return domain.Delivery{}, err
	}

	return domain.Delivery{OrderItemID: req.OrderItemID, DeliveredAt: at}, nil
}

// Checks

func (s *MemoryStore) UpsertCheck(ctx context.Context, params domain.CreateCheckParams) (domain.Check, error) {
	if err := ctx.Err(); err != nil {
		return domain.Check{}, err
	}
	params, err := normalizeCheckParams(params)
	if err != nil {
		return domain.Check{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.checks {
		if c.Stage == params.Stage && c.Name == params.Name {
			c.Sequence = params.Sequence
			s.checks[id] = c
			return c, nil
		}
	}

	c := domain.Check{
		ID:       uuid.New(),
		Stage:    params.Stage,
		Name:     params.Name,
		Sequence: params.Sequence,
	}
	s.checks[c.ID] = c
	return c, nil
}

func (s *MemoryStore) ListChecks(ctx context.Context, stage domain.Stage) ([]domain.Check, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Check, 0, 8)
	for _, c := range s.checks {
		if c.Stage == stage {
			out = append(out, c)
		}
	}
	sortChecks(out)
	return out, nil
}

func (s *MemoryStore) ListAllChecks(ctx context.Context) ([]domain.Check, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Check, 0, len(s.checks))
	for _, c := range s.checks {
		out = append(out, c)
	}
	sortChecks(out)
	return out, nil
}

func (s *MemoryStore) GetCheck(ctx context.Context, id uuid.UUID) (domain.Check, error) {
	if err := ctx.Err(); err != nil {
		return domain.Check{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.checks[id]
	if !ok {
		return domain.Check{}, fmt.Errorf("%w: check %s", domain.ErrNotFound, id)
	}
	return c, nil
}

func (s *MemoryStore) ListCheckProgress(ctx context.Context, orderItemID int64, stage domain.Stage) ([]domain.CheckProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.CheckProgress, 0, 8)
	for key, p := range s.progress {
		if key.orderItemID != orderItemID {
			continue
		}
		if c, ok := s.checks[key.checkID]; ok && c.Stage == stage {
			out = append(out, copyProgress(p))
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertCheckProgress(ctx context.Context, u domain.CheckUpdate) (domain.CheckProgress, error) {
	if err := ctx.Err(); err != nil {
		return domain.CheckProgress{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[u.OrderItemID]; !ok {
		return domain.CheckProgress{}, fmt.Errorf("%w: order item %d", domain.ErrNotFound, u.OrderItemID)
	}
	if _, ok := s.checks[u.CheckID]; !ok {
		return domain.CheckProgress{}, fmt.Errorf("%w: check %s", domain.ErrNotFound, u.CheckID)
	}

	key := progressKey{orderItemID: u.OrderItemID, checkID: u.CheckID}
	p := s.progress[key]
	p.OrderItemID = u.OrderItemID
	p.CheckID = u.CheckID
	p.Status = u.Status
	p.InspectedBy = u.InspectedBy
	p.UpdatedAt = u.At
	if u.Notes != nil {
		p.Notes = copyString(u.Notes)
	}
	if u.FailureReport != nil {
		p.FailureReport = copyString(u.FailureReport)
	}
	s.progress[key] = p

	if err := s.appendEvent(u.OrderItemID, domain.EventCheckUpdated, u.InspectedBy, map[string]any{
		"check_id": u.CheckID,
		"status":   u.Status,
	}); err != nil {
		return domain.CheckProgress{}, err
	}

	return copyProgress(p), nil
}

// Events

func (s *MemoryStore) ListEventsAfter(ctx context.Context, orderItemID int64, afterSeq int64) ([]domain.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.EventRecord, 0, 8)
	for _, ev := range s.events {
		if ev.OrderItemID == orderItemID && ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

// appendEvent must be called with s.mu held for writing.
func (s *MemoryStore) appendEvent(orderItemID int64, eventType, actor string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if actor == "" {
		actor = auth.SystemActor
	}

	s.nextSeq++
	s.events = append(s.events, domain.EventRecord{
		ID:          uuid.New(),
		Seq:         s.nextSeq,
		OrderItemID: orderItemID,
		Type:        eventType,
		Actor:       actor,
		Payload:     body,
		CreatedAt:   s.now().UTC(),
	})
	return nil
}

// outstandingChecks counts the stage checks without a passed or skipped
// verdict. Must be called with s.mu held.
func (s *MemoryStore) outstandingChecks(orderItemID int64, stage domain.Stage) int {
	n := 0
	for id, c := range s.checks {
		if c.Stage != stage {
			continue
		}
		p, ok := s.progress[progressKey{orderItemID: orderItemID, checkID: id}]
		if !ok || !p.Status.Satisfied() {
			n++
		}
	}
	return n
}

// Operators

func (s *MemoryStore) ResolveOperator(ctx context.Context, bearerToken string) (auth.Operator, bool, error) {
	if err := ctx.Err(); err != nil {
		return auth.Operator{}, false, err
	}
	if bearerToken == "" {
		return auth.Operator{}, false, nil
	}
	tokenHash := sha256Hex(bearerToken)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, op := range s.operators {
		if op.tokenHash == tokenHash && !op.revoked {
			return auth.Operator{
				ID:                op.record.ID,
				Name:              op.record.Name,
				MaxRequestsPerMin: op.record.MaxRequestsPerMin,
			}, true, nil
		}
	}
	return auth.Operator{}, false, nil
}

func (s *MemoryStore) CreateOperator(ctx context.Context, params domain.CreateOperatorParams) (domain.CreatedOperator, error) {
	if err := ctx.Err(); err != nil {
		return domain.CreatedOperator{}, err
	}
	name, maxRequestsPerMin, err := normalizeOperatorParams(params)
	if err != nil {
		return domain.CreatedOperator{}, err
	}
	token, tokenHash, err := generateOperatorToken()
	if err != nil {
		return domain.CreatedOperator{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	s.operators[id] = &memoryOperator{
		record: domain.OperatorRecord{
			ID:                id,
			Name:              name,
			MaxRequestsPerMin: maxRequestsPerMin,
			CreatedAt:         s.now().UTC(),
		},
		tokenHash: tokenHash,
	}
	return domain.CreatedOperator{ID: id, Token: token}, nil
}

func (s *MemoryStore) ListOperators(ctx context.Context) ([]domain.OperatorRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.OperatorRecord, 0, len(s.operators))
	for _, op := range s.operators {
		if !op.revoked {
			out = append(out, op.record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) RevokeOperator(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operators[id]
	if !ok || op.revoked {
		return fmt.Errorf("%w: operator %s", domain.ErrNotFound, id)
	}
	op.revoked = true
	return nil
}

// newStageRecords builds the initial rows for stages, rejecting a repeated
// stage the way the stage_statuses primary key does.
func newStageRecords(stages []domain.Stage, now time.Time) ([]domain.StageStatusRecord, error) {
	seen := make(map[domain.Stage]bool, len(stages))
	records := make([]domain.StageStatusRecord, 0, len(stages))
	for i, stage := range stages {
		if seen[stage] {
			return nil, fmt.Errorf("duplicate stage row %q", stage)
		}
		seen[stage] = true

		rec := domain.StageStatusRecord{Stage: stage, Position: i, Status: domain.StagePending}
		if i == 0 {
			rec.Status = domain.StageActive
			rec.StartedAt = copyTime(&now)
		}
		records = append(records, rec)
	}
	return records, nil
}

func roundTripProduct(p domain.Product) (domain.Product, error) {
	productType, raw, err := domain.EncodeProduct(p)
	if err != nil {
		return nil, err
	}
	return domain.DecodeProduct(productType, raw)
}

func sortChecks(checks []domain.Check) {
	sort.Slice(checks, func(i, j int) bool {
		if checks[i].Stage != checks[j].Stage {
			return checks[i].Stage < checks[j].Stage
		}
		if checks[i].Sequence != checks[j].Sequence {
			return checks[i].Sequence < checks[j].Sequence
		}
		return checks[i].ID.String() < checks[j].ID.String()
	})
}

func copyOrderItem(item *domain.OrderItem) domain.OrderItem {
	cp := *item
	cp.DueDate = copyTime(item.DueDate)
	cp.DeliveredAt = copyTime(item.DeliveredAt)
	return cp
}

func copyStageRecord(rec domain.StageStatusRecord) domain.StageStatusRecord {
	rec.StartedAt = copyTime(rec.StartedAt)
	rec.CompletedAt = copyTime(rec.CompletedAt)
	return rec
}

func copyProgress(p domain.CheckProgress) domain.CheckProgress {
	p.Notes = copyString(p.Notes)
	p.FailureReport = copyString(p.FailureReport)
	return p
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
