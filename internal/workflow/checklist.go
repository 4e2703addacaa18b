// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/craftline/production-tracker/internal/auth"
	"github.com/craftline/production-tracker/internal/domain"
	"github.com/craftline/production-tracker/internal/metrics"
	"github.com/google/uuid"
)

// Checklist answers what each stage's inspection checks are for an order
// item and whether they are satisfied.
type Checklist struct {
	graph  *Graph
	items  OrderItemStore
	stages StageStore
	checks CheckStore
	logger *slog.Logger
	now    func() time.Time
}

func (c *Checklist) ChecklistForStage(ctx context.Context, orderItemID int64, stage domain.Stage) ([]domain.ChecklistItem, error) {
	if err := c.requireStage(stage); err != nil {
		return nil, err
	}
	if _, err := c.items.GetOrderItem(ctx, orderItemID); err != nil {
		return nil, StoreError("get_order_item", err)
	}

	return c.annotated(ctx, orderItemID, stage)
}

// ActiveChecklist groups the checklists of the item's active stages by stage
// label, in stage graph order. Delivered items have no active checklist.
func (c *Checklist) ActiveChecklist(ctx context.Context, orderItemID int64) (domain.ActiveChecklist, error) {
	out := domain.ActiveChecklist{
		OrderItemID: orderItemID,
		Groups:      []domain.ChecklistGroup{},
	}

	item, err := c.items.GetOrderItem(ctx, orderItemID)
	if err != nil {
		return out, StoreError("get_order_item", err)
	}
	if item.Delivered() {
		return out, nil
	}

	records, err := c.stages.ListStageStatuses(ctx, orderItemID)
	if err != nil {
		return out, StoreError("list_stage_statuses", err)
	}

	active := make(map[domain.Stage]bool, 1)
	for _, r := range records {
		if r.Status == domain.StageActive {
			active[r.Stage] = true
		}
	}

	for _, def := range c.graph.Definitions() {
		if !active[def.Stage] {
			continue
		}
		items, err := c.annotated(ctx, orderItemID, def.Stage)
		if err != nil {
			return out, err
		}
		out.Groups = append(out.Groups, domain.ChecklistGroup{
			Stage: def.Stage,
			Label: def.Label,
			Items: items,
		})
	}

	return out, nil
}

// UpdateCheckStatus records an inspector's verdict. Notes and failure report
// are written only when provided and are never cleared here; a failure
// report is only accepted together with the failed status.
func (c *Checklist) UpdateCheckStatus(ctx context.Context, u domain.CheckUpdate) (domain.CheckProgress, error) {
	if !u.Status.Valid() {
		c.logger.Info("check update rejected",
			"order_item_id", u.OrderItemID,
			"check_id", u.CheckID,
			"status", u.Status,
		)
		return domain.CheckProgress{}, fmt.Errorf("%w: unknown check status %q", domain.ErrValidation, u.Status)
	}
	if u.CheckID == uuid.Nil {
		return domain.CheckProgress{}, fmt.Errorf("%w: check id is required", domain.ErrValidation)
	}
	if u.FailureReport != nil {
		trimmed := strings.TrimSpace(*u.FailureReport)
		if u.Status != domain.CheckFailed {
			return domain.CheckProgress{}, fmt.Errorf("%w: failure report requires status %q", domain.ErrValidation, domain.CheckFailed)
		}
		if trimmed == "" {
			u.FailureReport = nil
		} else {
			u.FailureReport = &trimmed
		}
	}

	if _, err := c.checks.GetCheck(ctx, u.CheckID); err != nil {
		return domain.CheckProgress{}, StoreError("get_check", err)
	}
	if _, err := c.items.GetOrderItem(ctx, u.OrderItemID); err != nil {
		return domain.CheckProgress{}, StoreError("get_order_item", err)
	}

	if strings.TrimSpace(u.InspectedBy) == "" {
		u.InspectedBy = auth.ActorFromContext(ctx)
	}
	u.At = c.now().UTC()

	progress, err := c.checks.UpsertCheckProgress(ctx, u)
	if err != nil {
		err = StoreError("upsert_check_progress", err)
		c.logger.Error("check update failed",
			"order_item_id", u.OrderItemID,
			"check_id", u.CheckID,
			"error", err,
		)
		return domain.CheckProgress{}, err
	}

	metrics.IncCheckUpdate(u.Status)
	c.logger.Info("check updated",
		"order_item_id", u.OrderItemID,
		"check_id", u.CheckID,
		"status", u.Status,
		"inspected_by", u.InspectedBy,
	)

	return progress, nil
}

// IsStageChecklistComplete is true when every check of the stage is passed
// or skipped. A stage without checks is complete.
func (c *Checklist) IsStageChecklistComplete(ctx context.Context, orderItemID int64, stage domain.Stage) (bool, error) {
	if err := c.requireStage(stage); err != nil {
		return false, err
	}

	outstanding, err := c.outstanding(ctx, orderItemID, stage)
	if err != nil {
		return false, err
	}
	return len(outstanding) == 0, nil
}

// outstanding lists the checks holding the stage gate closed.
func (c *Checklist) outstanding(ctx context.Context, orderItemID int64, stage domain.Stage) ([]domain.ChecklistItem, error) {
	items, err := c.annotated(ctx, orderItemID, stage)
	if err != nil {
		return nil, err
	}

	out := make([]domain.ChecklistItem, 0, len(items))
	for _, it := range items {
		if !it.Status.Satisfied() {
			out = append(out, it)
		}
	}
	return out, nil
}

func (c *Checklist) annotated(ctx context.Context, orderItemID int64, stage domain.Stage) ([]domain.ChecklistItem, error) {
	checks, err := c.checks.ListChecks(ctx, stage)
	if err != nil {
		return nil, StoreError("list_checks", err)
	}

	progress, err := c.checks.ListCheckProgress(ctx, orderItemID, stage)
	if err != nil {
		return nil, StoreError("list_check_progress", err)
	}

	byCheck := make(map[uuid.UUID]domain.CheckProgress, len(progress))
	for _, p := range progress {
		byCheck[p.CheckID] = p
	}

	sort.SliceStable(checks, func(i, j int) bool {
		if checks[i].Sequence != checks[j].Sequence {
			return checks[i].Sequence < checks[j].Sequence
		}
		return checks[i].ID.String() < checks[j].ID.String()
	})

	items := make([]domain.ChecklistItem, 0, len(checks))
	for _, ch := range checks {
		item := domain.ChecklistItem{
			CheckID:  ch.ID,
			Name:     ch.Name,
			Sequence: ch.Sequence,
			Status:   domain.CheckPending,
		}
		if p, ok := byCheck[ch.ID]; ok {
			item.Status = p.Status
			item.Notes = p.Notes
			item.FailureReport = p.FailureReport
			item.InspectedBy = p.InspectedBy
			updatedAt := p.UpdatedAt
			item.UpdatedAt = &updatedAt
		}
		items = append(items, item)
	}

	return items, nil
}

func (c *Checklist) requireStage(stage domain.Stage) error {
	if !c.graph.Contains(stage) {
		return fmt.Errorf("%w: unknown stage %q", domain.ErrValidation, stage)
	}
	return nil
}
