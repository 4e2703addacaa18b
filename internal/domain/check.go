// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type CheckStatus string

const (
	CheckPending CheckStatus = "pending"
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckSkipped CheckStatus = "skipped"
)

func (s CheckStatus) Valid() bool {
	switch s {
	case CheckPending, CheckPassed, CheckFailed, CheckSkipped:
		return true
	default:
		return false
	}
}

// Satisfied reports whether the status lets the stage gate open.
func (s CheckStatus) Satisfied() bool {
	return s == CheckPassed || s == CheckSkipped
}

func ParseCheckStatus(raw string) (CheckStatus, error) {
	s := CheckStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown check status %q", ErrValidation, raw)
	}
	return s, nil
}

type Check struct {
	ID       uuid.UUID `json:"id"`
	Stage    Stage     `json:"stage"`
	Name     string    `json:"name"`
	Sequence int       `json:"sequence"`
}

type CreateCheckParams struct {
	Stage    Stage
	Name     string
	Sequence int
}

type CheckProgress struct {
	OrderItemID   int64       `json:"order_item_id"`
	CheckID       uuid.UUID   `json:"check_id"`
	Status        CheckStatus `json:"status"`
	Notes         *string     `json:"notes,omitempty"`
	FailureReport *string     `json:"failure_report,omitempty"`
	InspectedBy   string      `json:"inspected_by,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// CheckUpdate is an inspector's verdict on one check. Nil Notes or
// FailureReport leave the stored values untouched.
type CheckUpdate struct {
	OrderItemID   int64
	CheckID       uuid.UUID
	Status        CheckStatus
	Notes         *string
	FailureReport *string
	InspectedBy   string
	At            time.Time
}

// ChecklistItem is a check annotated with one order item's progress.
type ChecklistItem struct {
	CheckID       uuid.UUID   `json:"check_id"`
	Name          string      `json:"name"`
	Sequence      int         `json:"sequence"`
	Status        CheckStatus `json:"status"`
	Notes         *string     `json:"notes,omitempty"`
	FailureReport *string     `json:"failure_report,omitempty"`
	InspectedBy   string      `json:"inspected_by,omitempty"`
	UpdatedAt     *time.Time  `json:"updated_at,omitempty"`
}

type ChecklistGroup struct {
	Stage Stage           `json:"stage"`
	Label string          `json:"label"`
	Items []ChecklistItem `json:"items"`
}

// ActiveChecklist holds one group per active stage, in stage graph order.
type ActiveChecklist struct {
	OrderItemID int64            `json:"order_item_id"`
	Groups      []ChecklistGroup `json:"groups"`
}

// ByLabel returns the groups keyed by stage label.
func (a ActiveChecklist) ByLabel() map[string][]ChecklistItem {
	out := make(map[string][]ChecklistItem, len(a.Groups))
	for _, g := range a.Groups {
		out[g.Label] = g.Items
	}
	return out
}
