// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventStagesInitialized = "stages.initialized"
	EventStageAdvanced     = "stage.advanced"
	EventCheckUpdated      = "check.updated"
	EventDelivered         = "order_item.delivered"
)

type EventRecord struct {
	ID          uuid.UUID       `json:"id"`
	Seq         int64           `json:"seq"`
	OrderItemID int64           `json:"order_item_id"`
	Type        string          `json:"type"`
	Actor       string          `json:"actor,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
