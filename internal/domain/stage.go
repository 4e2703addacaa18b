// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"fmt"
	"strings"
	"time"
)

type Stage string

const (
	StageCarpentry      Stage = "carpentry"
	StageWebbing        Stage = "webbing"
	StageMarkingCutting Stage = "marking_cutting"
	StageStitching      Stage = "stitching"
	StageCladding       Stage = "cladding"
	StageFinalQC        Stage = "final_qc"
)

// KnownStages is the closed set of production stages in factory order.
var KnownStages = []Stage{
	StageCarpentry,
	StageWebbing,
	StageMarkingCutting,
	StageStitching,
	StageCladding,
	StageFinalQC,
}

func (s Stage) Valid() bool {
	for _, known := range KnownStages {
		if s == known {
			return true
		}
	}
	return false
}

func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown stage %q", ErrValidation, raw)
	}
	return s, nil
}

// StageDef is a stage together with its presentation attributes.
type StageDef struct {
	Stage Stage  `json:"stage"`
	Label string `json:"label"`
	Color string `json:"color"`
}

type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageActive    StageStatus = "active"
	StageCompleted StageStatus = "completed"
)

type StageStatusRecord struct {
	Stage       Stage       `json:"stage"`
	Position    int         `json:"position"`
	Status      StageStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// LifecycleState is the derived position of an order item in the workflow.
type LifecycleState string

const (
	StateUninitialized    LifecycleState = "uninitialized"
	StateInProduction     LifecycleState = "in_production"
	StateAwaitingDelivery LifecycleState = "awaiting_delivery"
	StateDelivered        LifecycleState = "delivered"
)

type Progress struct {
	OrderItemID int64               `json:"order_item_id"`
	State       LifecycleState      `json:"state"`
	ActiveStage Stage               `json:"active_stage,omitempty"`
	Stages      []StageStatusRecord `json:"stages"`
	DeliveredAt *time.Time          `json:"delivered_at,omitempty"`
}

// StageTransition moves an order item off From. To is empty when From is the
// last stage, in which case no stage is left active.
type StageTransition struct {
	OrderItemID int64
	From        Stage
	To          Stage
	Actor       string
}

type Transition struct {
	OrderItemID int64 `json:"order_item_id"`
	From        Stage `json:"from"`
	To          Stage `json:"to,omitempty"`
	Final       bool  `json:"final"`
}

type DeliveryRequest struct {
	OrderItemID int64
	LastStage   Stage
	// RequireCompleted rejects delivery unless LastStage is completed.
	RequireCompleted bool
	Actor            string
	At               time.Time
}

type Delivery struct {
	OrderItemID      int64     `json:"order_item_id"`
	DeliveredAt      time.Time `json:"delivered_at"`
	AlreadyDelivered bool      `json:"already_delivered"`
}
