// SPDX-License-Identifier: Apache-2.0

package domain

import "time"

const (
	MinPriority = 0
	MaxPriority = 10
)

type OrderItem struct {
	ID          int64
	OrderRef    string
	Product     Product
	Priority    int
	DueDate     *time.Time
	DeliveredAt *time.Time
	CreatedAt   time.Time
}

func (o OrderItem) Delivered() bool {
	return o.DeliveredAt != nil
}

type CreateOrderItemParams struct {
	OrderRef string
	Product  Product
	Priority int
	DueDate  *time.Time
}

// BoardCard is an order item as shown in a stage column.
type BoardCard struct {
	OrderItemID int64       `json:"order_item_id"`
	OrderRef    string      `json:"order_ref"`
	ProductType ProductType `json:"product_type"`
	Priority    int         `json:"priority"`
	DueDate     *time.Time  `json:"due_date,omitempty"`
	StageSince  *time.Time  `json:"stage_since,omitempty"`
}
