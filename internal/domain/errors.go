// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFound            = errors.New("not found")
	ErrStaleState          = errors.New("stale state: the order item has moved since you last viewed it")
	ErrChecklistIncomplete = errors.New("checklist incomplete")
	ErrInvalidState        = errors.New("invalid state")
	ErrPersistence         = errors.New("persistence error")
	ErrAlreadyInitialized  = errors.New("order item already initialized")
)

var ErrInvalidOperatorName = errors.New("invalid operator name")
