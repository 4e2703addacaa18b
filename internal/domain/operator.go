// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

const DefaultMaxRequestsPerMin = 120

type CreateOperatorParams struct {
	Name              string
	MaxRequestsPerMin int
}

type CreatedOperator struct {
	ID    uuid.UUID
	Token string
}

type OperatorRecord struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	MaxRequestsPerMin int       `json:"max_requests_per_min"`
	CreatedAt         time.Time `json:"created_at"`
}
