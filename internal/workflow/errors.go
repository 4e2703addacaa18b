// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"errors"
	"fmt"

	"github.com/craftline/production-tracker/internal/domain"
	"github.com/craftline/production-tracker/internal/metrics"
)

// StoreError passes workflow outcomes through and tags everything else as a
// persistence failure.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsExpected(err) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidState) ||
		errors.Is(err, domain.ErrAlreadyInitialized) ||
		errors.Is(err, domain.ErrInvalidOperatorName) ||
		errors.Is(err, domain.ErrPersistence) {
		return err
	}

	metrics.IncStoreError(op)
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, op, err)
}

// IsExpected reports outcomes that are part of normal operation and must not
// be logged as errors.
func IsExpected(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrChecklistIncomplete) ||
		errors.Is(err, domain.ErrStaleState)
}

// IsRetryable reports failures a caller may retry after re-reading state.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrStaleState) || errors.Is(err, domain.ErrPersistence)
}
